package model

import "time"

const (
	PENDING   string = "pending"
	SENT             = "sent"
	DELIVERED        = "delivered"
	READ             = "read"
	//FAILED is shared with broadcast statuses
)

type Recipient struct {
	Id          uint32 `storm:"id,increment"`
	BroadcastId uint32 `storm:"index"`
	ContactId   uint32
	Name        string
	Phone       string
	Status      string `storm:"index"`
	DeliverId   string `storm:"index"`
	Error       *string
	Attempts    int
	SentAt      *time.Time
	DeliveredAt *time.Time
	ReadAt      *time.Time
	CreatedAt   time.Time
}

// Terminal reports whether the recipient no longer takes part in dispatch.
func (r Recipient) Terminal() bool {
	return r.Status != PENDING
}

// ParkedReceipt is a receipt that arrived before the send it refers to was recorded.
// It is applied when the outcome with the same DeliverId is marked.
type ParkedReceipt struct {
	DeliverId  string `storm:"id"`
	Status     string
	ReceivedAt time.Time
}

// Outcome is the result of one delivery attempt for a recipient.
// Status is either SENT or FAILED.
type Outcome struct {
	Status    string
	DeliverId string
	Detail    string
	Attempts  int
}

func Sent(deliverId string, attempts int) Outcome {
	return Outcome{Status: SENT, DeliverId: deliverId, Attempts: attempts}
}

func Failed(detail string, attempts int) Outcome {
	return Outcome{Status: FAILED, Detail: detail, Attempts: attempts}
}
