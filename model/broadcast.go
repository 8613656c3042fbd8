package model

import "time"

const (
	DRAFT     string = "draft"
	SCHEDULED        = "scheduled"
	SENDING          = "sending"
	COMPLETED        = "completed"
	FAILED           = "failed"
)

type Broadcast struct {
	Id          uint32 `storm:"id,increment"`
	OwnerId     string `storm:"index"`
	Title       string
	Message     string
	Status      string `storm:"index"`
	Total       int
	Sent        int
	Failed      int
	Pending     int
	ScheduledAt *time.Time
	SentAt      *time.Time
	CompletedAt *time.Time
	CreatedAt   time.Time `storm:"index"`
}

// Due reports whether the broadcast may be dispatched at the given moment.
func (b Broadcast) Due(now time.Time) bool {
	return b.ScheduledAt == nil || !b.ScheduledAt.After(now)
}

// Apply copies aggregate counts onto the broadcast row.
func (b *Broadcast) Apply(s Snapshot) {
	b.Total = s.Total
	b.Sent = s.Sent
	b.Failed = s.Failed
	b.Pending = s.Pending
}

// Snapshot is the aggregate progress of one broadcast.
// Seq is assigned by the progress publisher and only grows.
type Snapshot struct {
	BroadcastId uint32 `json:"-"`
	Seq         uint64 `json:"-"`
	Sent        int    `json:"sent"`
	Failed      int    `json:"failed"`
	Pending     int    `json:"pending"`
	Total       int    `json:"total"`
}
