// Package scheduler runs the periodic jobs of the service: due broadcasts, retention and recovery.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dilshat/wa-broadcast/dao"
	"github.com/dilshat/wa-broadcast/dispatch"
	"github.com/dilshat/wa-broadcast/model"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const cleanupSpec = "@hourly"

type Dispatcher interface {
	Dispatch(ctx context.Context, ownerId string, broadcastId uint32) (dispatch.Summary, error)
	Resume(ctx context.Context, broadcastId uint32) (dispatch.Summary, error)
}

type Scheduler struct {
	broadcasts dao.BroadcastDao
	ledger     dao.RecipientDao
	dispatcher Dispatcher
	spec       string
	storeDays  int
	now        func() time.Time

	c    *cron.Cron
	runs sync.WaitGroup
}

func NewScheduler(broadcasts dao.BroadcastDao, ledger dao.RecipientDao, dispatcher Dispatcher, spec string, storeDays int) *Scheduler {
	return &Scheduler{
		broadcasts: broadcasts,
		ledger:     ledger,
		dispatcher: dispatcher,
		spec:       spec,
		storeDays:  storeDays,
		now:        time.Now,
	}
}

// Start resumes interrupted broadcasts and registers the periodic jobs.
func (s *Scheduler) Start(ctx context.Context) error {
	s.Recover(ctx)

	s.c = cron.New(cron.WithLogger(cronLogger{}), cron.WithChain(cron.SkipIfStillRunning(cronLogger{})))
	if _, err := s.c.AddFunc(s.spec, func() { s.DispatchDue(ctx) }); err != nil {
		return err
	}
	if _, err := s.c.AddFunc(cleanupSpec, s.Cleanup); err != nil {
		return err
	}
	s.c.Start()

	zap.L().Info("Scheduler started", zap.String("spec", s.spec), zap.Int("statusStoreDays", s.storeDays))
	return nil
}

// Stop waits for running jobs, dispatch runs already launched keep going.
func (s *Scheduler) Stop() {
	if s.c == nil {
		return
	}
	<-s.c.Stop().Done()
	zap.L().Info("Scheduler stopped")
}

// Wait blocks until every run launched by the scheduler has finished.
func (s *Scheduler) Wait() {
	s.runs.Wait()
}

// DispatchDue launches a run for every scheduled broadcast whose time has come.
func (s *Scheduler) DispatchDue(ctx context.Context) int {
	broadcasts, err := s.broadcasts.GetAllByStatus(model.SCHEDULED)
	if err != nil {
		zap.L().Error("Error loading scheduled broadcasts", zap.Error(err))
		return 0
	}

	now := s.now()
	launched := 0
	for _, b := range broadcasts {
		if !b.Due(now) {
			continue
		}
		launched++
		b := b
		s.launch(func() error {
			_, err := s.dispatcher.Dispatch(ctx, b.OwnerId, b.Id)
			return err
		}, b.Id)
	}
	return launched
}

// Recover resumes broadcasts left in sending by a previous process.
func (s *Scheduler) Recover(ctx context.Context) int {
	broadcasts, err := s.broadcasts.GetAllByStatus(model.SENDING)
	if err != nil {
		zap.L().Error("Error loading interrupted broadcasts", zap.Error(err))
		return 0
	}

	for _, b := range broadcasts {
		id := b.Id
		s.launch(func() error {
			_, err := s.dispatcher.Resume(ctx, id)
			return err
		}, id)
	}
	return len(broadcasts)
}

// Cleanup removes completed broadcasts and unclaimed parked receipts past the retention window.
func (s *Scheduler) Cleanup() {
	removed, err := s.broadcasts.RemoveCompletedOlderThanDays(s.storeDays)
	if err != nil {
		zap.L().Warn("Error cleaning up broadcasts", zap.Error(err))
	} else if removed > 0 {
		zap.L().Info("Removed old broadcasts", zap.Int("count", removed))
	}

	parked, err := s.ledger.RemoveParkedOlderThanDays(s.storeDays)
	if err != nil {
		zap.L().Warn("Error cleaning up parked receipts", zap.Error(err))
	} else if parked > 0 {
		zap.L().Info("Removed unclaimed receipts", zap.Int("count", parked))
	}
}

func (s *Scheduler) launch(run func() error, broadcastId uint32) {
	s.runs.Add(1)
	go func() {
		defer s.runs.Done()
		err := run()
		var processing *model.AlreadyProcessingErr
		var completed *model.AlreadyCompletedErr
		var notDue *model.NotDueErr
		//another trigger got there first
		if errors.As(err, &processing) || errors.As(err, &completed) || errors.As(err, &notDue) {
			return
		}
		if err != nil {
			zap.L().Error("Scheduled dispatch failed", zap.Uint32("broadcastId", broadcastId), zap.Error(err))
		}
	}()
}

// cronLogger routes cron's own messages to zap.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	zap.L().Sugar().Debugw(msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	zap.L().Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
