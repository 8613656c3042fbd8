package model

import "time"

const (
	ACTIVE   string = "active"
	INACTIVE        = "inactive"
)

type Contact struct {
	Id        uint32 `storm:"id,increment"`
	OwnerId   string `storm:"index"`
	Name      string
	Phone     string `storm:"index"`
	Status    string
	CreatedAt time.Time
}
