package dto

import "time"

type Id struct {
	Id uint32 `json:"id"`
}

type NewBroadcast struct {
	Title       string     `json:"title"`
	Message     string     `json:"message"`
	ContactIds  []uint32   `json:"contactIds"`
	ScheduledAt *time.Time `json:"scheduledAt,omitempty"`
}

type Broadcast struct {
	Id          uint32     `json:"id"`
	Title       string     `json:"title"`
	Message     string     `json:"message"`
	Status      string     `json:"status"`
	Total       int        `json:"total"`
	Sent        int        `json:"sent"`
	Failed      int        `json:"failed"`
	Pending     int        `json:"pending"`
	ScheduledAt *time.Time `json:"scheduledAt"`
	SentAt      *time.Time `json:"sentAt"`
	CompletedAt *time.Time `json:"completedAt"`
	CreatedAt   time.Time  `json:"createdAt"`
}

type BroadcastDetails struct {
	Broadcast
	Recipients []Recipient `json:"recipients"`
}

type Recipient struct {
	Id          uint32     `json:"id"`
	Name        string     `json:"name"`
	Phone       string     `json:"phone"`
	Status      string     `json:"status"`
	Error       *string    `json:"error"`
	SentAt      *time.Time `json:"sentAt"`
	DeliveredAt *time.Time `json:"deliveredAt"`
	ReadAt      *time.Time `json:"readAt"`
}

type Summary struct {
	SentCount   int `json:"sentCount"`
	FailedCount int `json:"failedCount"`
}

type Progress struct {
	BroadcastId uint32 `json:"broadcastId"`
	Sent        int    `json:"sent"`
	Failed      int    `json:"failed"`
	Pending     int    `json:"pending"`
	Total       int    `json:"total"`
}

type NewContact struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

type ContactStatus struct {
	Status string `json:"status"`
}

type Contact struct {
	Id        uint32    `json:"id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}
