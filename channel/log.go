package channel

import (
	"context"

	"github.com/dchest/uniuri"
	"go.uber.org/zap"
)

// LogChannel pretends to deliver every message and only logs it.
type LogChannel struct{}

func NewLogChannel() *LogChannel {
	return &LogChannel{}
}

func (c *LogChannel) Send(ctx context.Context, phone, text string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id := "log." + uniuri.NewLen(16)
	zap.L().Info("Simulated delivery", zap.String("phone", phone), zap.String("id", id), zap.Int("length", len(text)))
	return id, nil
}
