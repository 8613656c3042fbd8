package dao

import (
	"time"

	"github.com/asdine/storm/v3"
	"github.com/asdine/storm/v3/q"
	"github.com/dilshat/wa-broadcast/model"
)

// RecipientDao is the ledger of per-recipient delivery state.
type RecipientDao interface {
	//ListPending returns recipients of the broadcast that are not yet terminal
	ListPending(broadcastId uint32) ([]model.Recipient, error)
	//GetAllByBroadcastId returns all recipients of the broadcast
	GetAllByBroadcastId(broadcastId uint32) ([]model.Recipient, error)
	//GetOneById returns recipient by id
	GetOneById(id uint32) (model.Recipient, error)
	//MarkOutcome moves a recipient to sent or failed
	MarkOutcome(id uint32, outcome model.Outcome) error
	//MarkReceipt refines a sent recipient to delivered or read by provider message id.
	//A receipt for an id not recorded yet is parked for MarkOutcome and NotFound is returned.
	MarkReceipt(deliverId, status string) (model.Recipient, error)
	//Aggregate recomputes the broadcast counts from recipient states
	Aggregate(broadcastId uint32) (model.Snapshot, error)
	//RemoveParkedOlderThanDays drops parked receipts no send ever claimed
	RemoveParkedOlderThanDays(days int) (int, error)
}

func NewRecipientDao(db Db) RecipientDao {
	return &recipientDao{db: db}
}

type recipientDao struct {
	db Db
}

func (r recipientDao) ListPending(broadcastId uint32) ([]model.Recipient, error) {
	var recipients []model.Recipient
	err := r.db.Select(q.Eq("BroadcastId", broadcastId), q.Eq("Status", model.PENDING)).OrderBy("Id").Find(&recipients)
	if err != nil && !isNotFound(err) {
		return nil, err
	}
	return recipients, nil
}

func (r recipientDao) GetAllByBroadcastId(broadcastId uint32) ([]model.Recipient, error) {
	var recipients []model.Recipient
	err := r.db.Find("BroadcastId", broadcastId, &recipients)
	if err != nil && !isNotFound(err) {
		return nil, err
	}
	return recipients, nil
}

func (r recipientDao) GetOneById(id uint32) (recipient model.Recipient, err error) {
	err = r.db.One("Id", id, &recipient)
	if isNotFound(err) {
		err = model.NewNotFoundError("recipient", id)
	}
	return
}

func (r recipientDao) MarkOutcome(id uint32, outcome model.Outcome) error {
	tx, err := r.db.Begin(true)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var recipient model.Recipient
	err = tx.One("Id", id, &recipient)
	if isNotFound(err) {
		return model.NewNotFoundError("recipient", id)
	}
	if err != nil {
		return err
	}

	if outcome.Status != model.SENT && outcome.Status != model.FAILED {
		return model.NewInvalidTransitionError(id, recipient.Status, outcome.Status)
	}
	//terminal recipients only leave their state through BroadcastDao.Reopen
	if recipient.Terminal() {
		return model.NewInvalidTransitionError(id, recipient.Status, outcome.Status)
	}

	now := time.Now()
	recipient.Status = outcome.Status
	recipient.Attempts += outcome.Attempts
	if outcome.Status == model.SENT {
		recipient.DeliverId = outcome.DeliverId
		recipient.SentAt = &now
		recipient.DeliveredAt = &now
		recipient.Error = nil

		//the provider may report delivery before the send is recorded
		var parked model.ParkedReceipt
		err = tx.One("DeliverId", outcome.DeliverId, &parked)
		if err != nil && !isNotFound(err) {
			return err
		}
		if err == nil && outcome.DeliverId != "" {
			refine(&recipient, parked.Status, now)
			if err = tx.DeleteStruct(&parked); err != nil {
				return err
			}
		}
	} else {
		detail := outcome.Detail
		recipient.Error = &detail
	}

	if err = tx.Save(&recipient); err != nil {
		return err
	}
	return tx.Commit()
}

func (r recipientDao) MarkReceipt(deliverId, status string) (model.Recipient, error) {
	if deliverId == "" {
		return model.Recipient{}, model.NewNotFoundError("message", deliverId)
	}

	tx, err := r.db.Begin(true)
	if err != nil {
		return model.Recipient{}, err
	}
	defer tx.Rollback()

	var recipient model.Recipient
	err = tx.One("DeliverId", deliverId, &recipient)
	if isNotFound(err) {
		if err = park(tx, deliverId, status); err != nil {
			return model.Recipient{}, err
		}
		if err = tx.Commit(); err != nil {
			return model.Recipient{}, err
		}
		return model.Recipient{}, model.NewNotFoundError("message", deliverId)
	}
	if err != nil {
		return model.Recipient{}, err
	}

	if recipient.Status == status {
		//duplicate receipt
		return recipient, nil
	}

	if !refine(&recipient, status, time.Now()) {
		return recipient, model.NewInvalidTransitionError(recipient.Id, recipient.Status, status)
	}

	if err = tx.Save(&recipient); err != nil {
		return model.Recipient{}, err
	}
	return recipient, tx.Commit()
}

// refine moves a sent recipient forward to delivered or read, it reports false for any other move.
func refine(recipient *model.Recipient, status string, now time.Time) bool {
	switch {
	case status == model.DELIVERED && recipient.Status == model.SENT:
		recipient.DeliveredAt = &now
	case status == model.READ && (recipient.Status == model.SENT || recipient.Status == model.DELIVERED):
		if recipient.Status == model.SENT {
			recipient.DeliveredAt = &now
		}
		recipient.ReadAt = &now
	default:
		return false
	}
	recipient.Status = status
	return true
}

func park(tx storm.Node, deliverId, status string) error {
	if status != model.DELIVERED && status != model.READ {
		return nil
	}

	var parked model.ParkedReceipt
	err := tx.One("DeliverId", deliverId, &parked)
	if err != nil && !isNotFound(err) {
		return err
	}
	//read implies delivered, never step back
	if err == nil && parked.Status == model.READ {
		return nil
	}

	return tx.Save(&model.ParkedReceipt{DeliverId: deliverId, Status: status, ReceivedAt: time.Now()})
}

func (r recipientDao) RemoveParkedOlderThanDays(days int) (int, error) {
	tx, err := r.db.Begin(true)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	query := tx.Select(q.Lt("ReceivedAt", time.Now().Add(-24*time.Duration(days)*time.Hour)))
	count, err := query.Count(&model.ParkedReceipt{})
	if err != nil {
		return 0, err
	}
	if count == 0 {
		return 0, nil
	}
	if err = query.Delete(&model.ParkedReceipt{}); err != nil {
		return 0, err
	}

	return count, tx.Commit()
}

func (r recipientDao) Aggregate(broadcastId uint32) (model.Snapshot, error) {
	recipients, err := r.GetAllByBroadcastId(broadcastId)
	if err != nil {
		return model.Snapshot{}, err
	}
	snapshot := count(recipients)
	snapshot.BroadcastId = broadcastId
	return snapshot, nil
}

func count(recipients []model.Recipient) model.Snapshot {
	snapshot := model.Snapshot{Total: len(recipients)}
	for _, recipient := range recipients {
		switch recipient.Status {
		case model.PENDING:
			snapshot.Pending++
		case model.FAILED:
			snapshot.Failed++
		default:
			snapshot.Sent++
		}
	}
	return snapshot
}
