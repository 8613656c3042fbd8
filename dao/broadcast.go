package dao

import (
	"time"

	"github.com/asdine/storm/v3"
	"github.com/asdine/storm/v3/q"
	"github.com/dilshat/wa-broadcast/model"
)

type BroadcastDao interface {
	//Create stores the broadcast and its pending recipients in one transaction
	Create(broadcast *model.Broadcast, recipients []model.Recipient) error
	//GetOneById returns broadcast by id
	GetOneById(id uint32) (model.Broadcast, error)
	//GetAllByOwner returns the owner's broadcasts, newest first
	GetAllByOwner(ownerId string) ([]model.Broadcast, error)
	//GetAllByStatus returns all broadcasts in the given status
	GetAllByStatus(status string) ([]model.Broadcast, error)
	//Transition reads the broadcast, runs check and applies mutate as one atomic write
	Transition(id uint32, check func(model.Broadcast) error, mutate func(*model.Broadcast)) (model.Broadcast, error)
	//Reopen resets failed recipients to pending and moves the broadcast back to draft
	Reopen(id uint32, check func(model.Broadcast) error) (model.Broadcast, error)
	//Delete removes the broadcast and its recipients
	Delete(id uint32, check func(model.Broadcast) error) error
	//RemoveCompletedOlderThanDays removes completed broadcasts created more than {days} ago
	RemoveCompletedOlderThanDays(days int) (int, error)
}

func NewBroadcastDao(db Db) BroadcastDao {
	return &broadcastDao{db: db}
}

type broadcastDao struct {
	db Db
}

func (d broadcastDao) Create(broadcast *model.Broadcast, recipients []model.Recipient) error {
	tx, err := d.db.Begin(true)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now()
	broadcast.CreatedAt = now
	broadcast.Total = len(recipients)
	broadcast.Pending = len(recipients)
	broadcast.Sent = 0
	broadcast.Failed = 0
	if err = tx.Save(broadcast); err != nil {
		return err
	}

	for i := range recipients {
		recipients[i].BroadcastId = broadcast.Id
		recipients[i].Status = model.PENDING
		recipients[i].CreatedAt = now
		if err = tx.Save(&recipients[i]); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (d broadcastDao) GetOneById(id uint32) (broadcast model.Broadcast, err error) {
	err = d.db.One("Id", id, &broadcast)
	if isNotFound(err) {
		err = model.NewNotFoundError("broadcast", id)
	}
	return
}

func (d broadcastDao) GetAllByOwner(ownerId string) ([]model.Broadcast, error) {
	var broadcasts []model.Broadcast
	err := d.db.Select(q.Eq("OwnerId", ownerId)).OrderBy("CreatedAt", "Id").Reverse().Find(&broadcasts)
	if err != nil && !isNotFound(err) {
		return nil, err
	}
	return broadcasts, nil
}

func (d broadcastDao) GetAllByStatus(status string) ([]model.Broadcast, error) {
	var broadcasts []model.Broadcast
	err := d.db.Find("Status", status, &broadcasts)
	if err != nil && !isNotFound(err) {
		return nil, err
	}
	return broadcasts, nil
}

func (d broadcastDao) Transition(id uint32, check func(model.Broadcast) error, mutate func(*model.Broadcast)) (model.Broadcast, error) {
	//bolt allows a single writer, so the read and the write below cannot interleave with another Transition
	tx, err := d.db.Begin(true)
	if err != nil {
		return model.Broadcast{}, err
	}
	defer tx.Rollback()

	broadcast, err := oneBroadcast(tx, id)
	if err != nil {
		return model.Broadcast{}, err
	}
	if check != nil {
		if err = check(broadcast); err != nil {
			return broadcast, err
		}
	}
	mutate(&broadcast)
	//Save rewrites the whole record, Update would skip zero counters
	if err = tx.Save(&broadcast); err != nil {
		return model.Broadcast{}, err
	}

	return broadcast, tx.Commit()
}

func (d broadcastDao) Reopen(id uint32, check func(model.Broadcast) error) (model.Broadcast, error) {
	tx, err := d.db.Begin(true)
	if err != nil {
		return model.Broadcast{}, err
	}
	defer tx.Rollback()

	broadcast, err := oneBroadcast(tx, id)
	if err != nil {
		return model.Broadcast{}, err
	}
	if check != nil {
		if err = check(broadcast); err != nil {
			return broadcast, err
		}
	}

	var recipients []model.Recipient
	err = tx.Find("BroadcastId", id, &recipients)
	if err != nil && !isNotFound(err) {
		return model.Broadcast{}, err
	}
	for i := range recipients {
		if recipients[i].Status != model.FAILED {
			continue
		}
		recipients[i].Status = model.PENDING
		recipients[i].Error = nil
		if err = tx.Save(&recipients[i]); err != nil {
			return model.Broadcast{}, err
		}
	}

	broadcast.Apply(count(recipients))
	broadcast.Status = model.DRAFT
	broadcast.CompletedAt = nil
	if err = tx.Save(&broadcast); err != nil {
		return model.Broadcast{}, err
	}

	return broadcast, tx.Commit()
}

func (d broadcastDao) Delete(id uint32, check func(model.Broadcast) error) error {
	tx, err := d.db.Begin(true)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	broadcast, err := oneBroadcast(tx, id)
	if err != nil {
		return err
	}
	if check != nil {
		if err = check(broadcast); err != nil {
			return err
		}
	}
	if err = deleteCascade(tx, broadcast); err != nil {
		return err
	}

	return tx.Commit()
}

func (d broadcastDao) RemoveCompletedOlderThanDays(days int) (int, error) {
	tx, err := d.db.Begin(true)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var broadcasts []model.Broadcast
	err = tx.Select(
		q.Eq("Status", model.COMPLETED),
		q.Lt("CreatedAt", time.Now().Add(-24*time.Duration(days)*time.Hour)),
	).Find(&broadcasts)
	if isNotFound(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	for _, broadcast := range broadcasts {
		if err = deleteCascade(tx, broadcast); err != nil {
			return 0, err
		}
	}

	return len(broadcasts), tx.Commit()
}

func oneBroadcast(tx storm.Node, id uint32) (broadcast model.Broadcast, err error) {
	err = tx.One("Id", id, &broadcast)
	if isNotFound(err) {
		err = model.NewNotFoundError("broadcast", id)
	}
	return
}

func deleteCascade(tx storm.Node, broadcast model.Broadcast) error {
	err := tx.Select(q.Eq("BroadcastId", broadcast.Id)).Delete(&model.Recipient{})
	if err != nil && !isNotFound(err) {
		return err
	}
	return tx.DeleteStruct(&broadcast)
}
