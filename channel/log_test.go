package channel

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLogChannel_Send(t *testing.T) {
	c := NewLogChannel()

	id, err := c.Send(context.Background(), PHONE, "hello")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(id, "log."))

	other, _ := c.Send(context.Background(), PHONE, "hello")
	require.NotEqual(t, id, other)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.Send(ctx, PHONE, "hello")
	require.Error(t, err)
}

func TestIsPermanent(t *testing.T) {
	require.True(t, IsPermanent(NewDeliveryError("bad number", true)))
	require.False(t, IsPermanent(NewDeliveryError("try later", false)))
	require.False(t, IsPermanent(context.Canceled))
	require.False(t, IsPermanent(nil))
}
