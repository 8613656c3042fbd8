// Package dispatch drives a broadcast through delivery to all of its recipients.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/dilshat/wa-broadcast/channel"
	"github.com/dilshat/wa-broadcast/dao"
	"github.com/dilshat/wa-broadcast/model"
	"github.com/dilshat/wa-broadcast/render"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type Config struct {
	Workers       int
	Retries       int
	Backoff       time.Duration
	ProgressEvery int
	MessageMaxLen int
}

type Summary struct {
	SentCount   int `json:"sentCount"`
	FailedCount int `json:"failedCount"`
}

type Publisher interface {
	Publish(broadcastId uint32, snapshot model.Snapshot)
}

type Dispatcher struct {
	broadcasts dao.BroadcastDao
	ledger     dao.RecipientDao
	channel    channel.Channel
	publisher  Publisher
	cfg        Config
	now        func() time.Time

	runs sync.WaitGroup
}

func NewDispatcher(broadcasts dao.BroadcastDao, ledger dao.RecipientDao, ch channel.Channel, publisher Publisher, cfg Config) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.ProgressEvery <= 0 {
		cfg.ProgressEvery = 1
	}
	return &Dispatcher{
		broadcasts: broadcasts,
		ledger:     ledger,
		channel:    ch,
		publisher:  publisher,
		cfg:        cfg,
		now:        time.Now,
	}
}

// Dispatch delivers the owner's broadcast to every pending recipient and reports the final counts.
// Per-recipient failures end up in the ledger, only guard violations and store failures are returned.
func (d *Dispatcher) Dispatch(ctx context.Context, ownerId string, broadcastId uint32) (Summary, error) {
	d.runs.Add(1)
	defer d.runs.Done()

	now := d.now()
	broadcast, err := d.broadcasts.Transition(broadcastId, func(b model.Broadcast) error {
		if b.OwnerId != ownerId {
			return model.NewNotFoundError("broadcast", broadcastId)
		}
		switch b.Status {
		case model.SENDING:
			return model.NewAlreadyProcessingError(b.Id)
		case model.COMPLETED:
			return model.NewAlreadyCompletedError(b.Id)
		}
		if !b.Due(now) {
			return model.NewNotDueError(b.Id)
		}
		return nil
	}, func(b *model.Broadcast) {
		b.Status = model.SENDING
		b.SentAt = &now
		b.CompletedAt = nil
	})
	if err != nil {
		return Summary{}, err
	}

	return d.run(ctx, broadcast)
}

// Resume continues a broadcast left in sending by a previous process.
func (d *Dispatcher) Resume(ctx context.Context, broadcastId uint32) (Summary, error) {
	d.runs.Add(1)
	defer d.runs.Done()

	broadcast, err := d.broadcasts.GetOneById(broadcastId)
	if err != nil {
		return Summary{}, err
	}
	if broadcast.Status != model.SENDING {
		return Summary{}, fmt.Errorf("broadcast %d is %s, not interrupted", broadcastId, broadcast.Status)
	}

	zap.L().Info("Resuming interrupted broadcast", zap.Uint32("broadcastId", broadcastId))
	return d.run(ctx, broadcast)
}

// Wait blocks until every Dispatch and Resume in progress has returned.
// Callers stop new triggers first, the store and the channel must stay open until it returns.
func (d *Dispatcher) Wait() {
	d.runs.Wait()
}

func (d *Dispatcher) run(ctx context.Context, broadcast model.Broadcast) (Summary, error) {
	//a dropped caller must not stop a run half way
	ctx = context.WithoutCancel(ctx)

	pending, err := d.ledger.ListPending(broadcast.Id)
	if err != nil {
		return d.abort(broadcast, err)
	}

	zap.L().Info("Dispatch started",
		zap.Uint32("broadcastId", broadcast.Id),
		zap.Int("pending", len(pending)),
		zap.Int("workers", d.cfg.Workers))
	d.publishProgress(broadcast.Id)

	//a single collector publishes, so snapshots leave in the order they were read
	settled := make(chan struct{}, len(pending))
	collected := make(chan struct{})
	go func() {
		defer close(collected)
		n := 0
		for range settled {
			n++
			if n%d.cfg.ProgressEvery == 0 {
				d.publishProgress(broadcast.Id)
			}
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.Workers)
	for _, recipient := range pending {
		if gctx.Err() != nil {
			break
		}
		recipient := recipient
		g.Go(func() error {
			done, err := d.deliver(gctx, broadcast, recipient)
			if done {
				settled <- struct{}{}
			}
			return err
		})
	}
	runErr := g.Wait()
	close(settled)
	<-collected

	if runErr != nil {
		return d.abort(broadcast, runErr)
	}
	return d.complete(broadcast)
}

// deliver renders, sends and records the outcome for one recipient.
// It reports whether the recipient reached a terminal state.
func (d *Dispatcher) deliver(ctx context.Context, broadcast model.Broadcast, recipient model.Recipient) (bool, error) {
	text := render.Render(broadcast.Message, render.Recipient{Name: recipient.Name, Address: recipient.Phone})

	var outcome model.Outcome
	if utf8.RuneCountInString(text) > d.cfg.MessageMaxLen {
		outcome = model.Failed(fmt.Sprintf("message exceeds %d chars", d.cfg.MessageMaxLen), 0)
	} else {
		deliverId, attempts, err := d.send(ctx, recipient.Phone, text)
		switch {
		case err != nil && ctx.Err() != nil:
			//the run is being aborted, leave the recipient pending for the next run
			return false, nil
		case err != nil:
			zap.L().Warn("Delivery failed",
				zap.Uint32("broadcastId", broadcast.Id),
				zap.Uint32("recipientId", recipient.Id),
				zap.String("phone", recipient.Phone),
				zap.Int("attempts", attempts),
				zap.Error(err))
			outcome = model.Failed(detail(err), attempts)
		default:
			outcome = model.Sent(deliverId, attempts)
		}
	}

	if err := d.ledger.MarkOutcome(recipient.Id, outcome); err != nil {
		return false, fmt.Errorf("recording outcome of recipient %d: %w", recipient.Id, err)
	}
	return true, nil
}

func (d *Dispatcher) send(ctx context.Context, phone, text string) (string, int, error) {
	attempt := 0
	for {
		attempt++
		deliverId, err := d.channel.Send(ctx, phone, text)
		if err == nil {
			return deliverId, attempt, nil
		}
		if channel.IsPermanent(err) || attempt > d.cfg.Retries {
			return "", attempt, err
		}

		select {
		case <-ctx.Done():
			return "", attempt, ctx.Err()
		case <-time.After(time.Duration(attempt) * d.cfg.Backoff):
		}
	}
}

func (d *Dispatcher) complete(broadcast model.Broadcast) (Summary, error) {
	snapshot, err := d.ledger.Aggregate(broadcast.Id)
	if err != nil {
		return d.abort(broadcast, err)
	}

	completedAt := d.now()
	_, err = d.broadcasts.Transition(broadcast.Id, nil, func(b *model.Broadcast) {
		b.Status = model.COMPLETED
		b.CompletedAt = &completedAt
		b.Apply(snapshot)
	})
	if err != nil {
		return d.abort(broadcast, err)
	}
	d.publisher.Publish(broadcast.Id, snapshot)

	zap.L().Info("Dispatch completed",
		zap.Uint32("broadcastId", broadcast.Id),
		zap.Int("sent", snapshot.Sent),
		zap.Int("failed", snapshot.Failed))

	return Summary{SentCount: snapshot.Sent, FailedCount: snapshot.Failed}, nil
}

// abort marks the run failed, untouched recipients stay pending and can be dispatched again.
func (d *Dispatcher) abort(broadcast model.Broadcast, cause error) (Summary, error) {
	zap.L().Error("Dispatch aborted", zap.Uint32("broadcastId", broadcast.Id), zap.Error(cause))

	snapshot, aggErr := d.ledger.Aggregate(broadcast.Id)
	_, err := d.broadcasts.Transition(broadcast.Id, nil, func(b *model.Broadcast) {
		b.Status = model.FAILED
		if aggErr == nil {
			b.Apply(snapshot)
		}
	})
	if err != nil {
		zap.L().Error("Error marking broadcast failed", zap.Uint32("broadcastId", broadcast.Id), zap.Error(err))
	}
	if aggErr == nil {
		d.publisher.Publish(broadcast.Id, snapshot)
	}

	return Summary{}, cause
}

func (d *Dispatcher) publishProgress(broadcastId uint32) {
	snapshot, err := d.ledger.Aggregate(broadcastId)
	if err != nil {
		zap.L().Warn("Error aggregating progress", zap.Uint32("broadcastId", broadcastId), zap.Error(err))
		return
	}
	d.publisher.Publish(broadcastId, snapshot)
}

func detail(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "delivery timed out"
	}
	if msg := err.Error(); msg != "" {
		return msg
	}
	return "delivery failed"
}
