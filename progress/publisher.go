// Package progress fans out broadcast progress snapshots to live observers.
package progress

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/cskr/pubsub"
	"github.com/dilshat/wa-broadcast/model"
	"go.uber.org/zap"
)

const storeTimeout = time.Second

// Observer receives snapshots of one or more broadcasts.
// Observers are compared by identity, so implementations should be pointers.
type Observer interface {
	Notify(snapshot model.Snapshot) error
}

// SnapshotStore keeps the latest snapshot outside of the process.
type SnapshotStore interface {
	Save(ctx context.Context, snapshot model.Snapshot) error
	Load(ctx context.Context, broadcastId uint32) (model.Snapshot, bool, error)
}

type Publisher struct {
	ps    *pubsub.PubSub
	store SnapshotStore

	mu     sync.Mutex
	seq    uint64
	closed bool
	latest map[uint32]model.Snapshot
	subs   map[uint32]map[Observer]*subscription
}

// NewPublisher creates a publisher, store may be nil.
func NewPublisher(capacity int, store SnapshotStore) *Publisher {
	return &Publisher{
		ps:     pubsub.New(capacity),
		store:  store,
		latest: map[uint32]model.Snapshot{},
		subs:   map[uint32]map[Observer]*subscription{},
	}
}

// Subscribe registers the observer for the broadcast and returns the latest known snapshot.
func (p *Publisher) Subscribe(broadcastId uint32, observer Observer) (model.Snapshot, bool) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return model.Snapshot{}, false
	}

	latest, ok := p.latest[broadcastId]
	if _, exists := p.subs[broadcastId][observer]; !exists {
		s := newSubscription(broadcastId, observer, p.ps.Sub(topic(broadcastId)))
		if ok {
			s.last = latest.Seq
		}
		s.start()
		if p.subs[broadcastId] == nil {
			p.subs[broadcastId] = map[Observer]*subscription{}
		}
		p.subs[broadcastId][observer] = s
	}
	p.mu.Unlock()

	if ok || p.store == nil {
		return latest, ok
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	stored, found, err := p.store.Load(ctx, broadcastId)
	if err != nil {
		zap.L().Warn("Error loading progress snapshot", zap.Uint32("broadcastId", broadcastId), zap.Error(err))
		return model.Snapshot{}, false
	}
	return stored, found
}

// Unsubscribe removes the observer, unknown observers are ignored.
func (p *Publisher) Unsubscribe(broadcastId uint32, observer Observer) {
	p.mu.Lock()
	defer p.mu.Unlock()

	s, ok := p.subs[broadcastId][observer]
	if !ok {
		return
	}
	delete(p.subs[broadcastId], observer)
	if len(p.subs[broadcastId]) == 0 {
		delete(p.subs, broadcastId)
	}
	if !p.closed {
		p.ps.Unsub(s.ch, topic(broadcastId))
	}
}

// Publish stores the snapshot as the latest one and hands it to every observer of the broadcast.
func (p *Publisher) Publish(broadcastId uint32, snapshot model.Snapshot) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.seq++
	snapshot.Seq = p.seq
	snapshot.BroadcastId = broadcastId
	p.latest[broadcastId] = snapshot
	p.ps.Pub(snapshot, topic(broadcastId))
	p.mu.Unlock()

	if p.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := p.store.Save(ctx, snapshot); err != nil {
		zap.L().Warn("Error storing progress snapshot", zap.Uint32("broadcastId", broadcastId), zap.Error(err))
	}
}

// Latest returns the last snapshot published in this process.
func (p *Publisher) Latest(broadcastId uint32) (model.Snapshot, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.latest[broadcastId]
	return s, ok
}

// Forget drops the latest snapshot of a deleted broadcast.
func (p *Publisher) Forget(broadcastId uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.latest, broadcastId)
}

// Close stops delivery to all observers. Publishing after Close is a no-op.
func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	p.subs = map[uint32]map[Observer]*subscription{}
	p.ps.Shutdown()
}

func topic(broadcastId uint32) string {
	return strconv.FormatUint(uint64(broadcastId), 10)
}
