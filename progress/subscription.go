package progress

import (
	"fmt"

	"github.com/dilshat/wa-broadcast/model"
	"go.uber.org/zap"
)

// subscription decouples one observer from the pubsub loop.
// The receiver keeps only the newest undelivered snapshot, so a slow observer
// skips intermediate snapshots instead of holding up the others.
type subscription struct {
	broadcastId uint32
	observer    Observer
	ch          chan interface{}
	mailbox     chan model.Snapshot
	//last is owned by the notify goroutine once started
	last uint64
	done chan struct{}
}

func newSubscription(broadcastId uint32, observer Observer, ch chan interface{}) *subscription {
	return &subscription{
		broadcastId: broadcastId,
		observer:    observer,
		ch:          ch,
		mailbox:     make(chan model.Snapshot, 1),
		done:        make(chan struct{}),
	}
}

func (s *subscription) start() {
	go s.receive()
	go s.notify()
}

func (s *subscription) receive() {
	defer close(s.mailbox)
	for msg := range s.ch {
		snapshot, ok := msg.(model.Snapshot)
		if !ok {
			continue
		}
		s.offer(snapshot)
	}
}

func (s *subscription) offer(snapshot model.Snapshot) {
	for {
		select {
		case s.mailbox <- snapshot:
			return
		default:
		}
		//drop the stale snapshot still waiting for the observer
		select {
		case <-s.mailbox:
		default:
		}
	}
}

func (s *subscription) notify() {
	defer close(s.done)
	for snapshot := range s.mailbox {
		if snapshot.Seq <= s.last {
			continue
		}
		s.last = snapshot.Seq
		if err := s.deliver(snapshot); err != nil {
			zap.L().Debug("Observer rejected snapshot", zap.Uint32("broadcastId", s.broadcastId), zap.Error(err))
		}
	}
}

func (s *subscription) deliver(snapshot model.Snapshot) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("observer panicked: %v", r)
		}
	}()
	return s.observer.Notify(snapshot)
}
