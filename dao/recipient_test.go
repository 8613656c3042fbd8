package dao

import (
	"errors"
	"testing"
	"time"

	"github.com/dilshat/wa-broadcast/model"
	"github.com/stretchr/testify/require"
)

func TestRecipientDao_ListPending(t *testing.T) {
	db, cleanup := createDB(t)
	defer cleanup()
	recDao := NewRecipientDao(db)
	broadcast := createBroadcast(t, db, OWNER, PHONE1, PHONE2, PHONE3)
	createBroadcast(t, db, OWNER, PHONE1)

	pending, err := recDao.ListPending(broadcast.Id)

	require.NoError(t, err)
	require.Len(t, pending, 3)

	require.NoError(t, recDao.MarkOutcome(pending[0].Id, model.Sent("wamid.1", 1)))

	rest, err := recDao.ListPending(broadcast.Id)

	require.NoError(t, err)
	require.Len(t, rest, 2)
	require.Equal(t, pending[1].Id, rest[0].Id)
}

func TestRecipientDao_MarkOutcome(t *testing.T) {
	db, cleanup := createDB(t)
	defer cleanup()
	recDao := NewRecipientDao(db)
	broadcast := createBroadcast(t, db, OWNER, PHONE1, PHONE2)
	pending, _ := recDao.ListPending(broadcast.Id)

	err := recDao.MarkOutcome(pending[0].Id, model.Sent("wamid.1", 2))

	require.NoError(t, err)
	sent, _ := recDao.GetOneById(pending[0].Id)
	require.Equal(t, model.SENT, sent.Status)
	require.Equal(t, "wamid.1", sent.DeliverId)
	require.Equal(t, 2, sent.Attempts)
	require.NotNil(t, sent.SentAt)
	require.NotNil(t, sent.DeliveredAt)
	require.Nil(t, sent.Error)

	err = recDao.MarkOutcome(pending[1].Id, model.Failed("invalid number", 1))

	require.NoError(t, err)
	failed, _ := recDao.GetOneById(pending[1].Id)
	require.Equal(t, model.FAILED, failed.Status)
	require.NotNil(t, failed.Error)
	require.Equal(t, "invalid number", *failed.Error)
	require.Nil(t, failed.SentAt)
}

func TestRecipientDao_MarkOutcome_NotFound(t *testing.T) {
	db, cleanup := createDB(t)
	defer cleanup()

	err := NewRecipientDao(db).MarkOutcome(404, model.Sent("x", 1))

	var notFound *model.NotFoundErr
	require.True(t, errors.As(err, &notFound))
}

func TestRecipientDao_MarkOutcome_InvalidTransition(t *testing.T) {
	db, cleanup := createDB(t)
	defer cleanup()
	recDao := NewRecipientDao(db)
	broadcast := createBroadcast(t, db, OWNER, PHONE1, PHONE2)
	pending, _ := recDao.ListPending(broadcast.Id)
	require.NoError(t, recDao.MarkOutcome(pending[0].Id, model.Sent("wamid.1", 1)))
	require.NoError(t, recDao.MarkOutcome(pending[1].Id, model.Failed("boom", 1)))

	var invalid *model.InvalidTransitionErr

	err := recDao.MarkOutcome(pending[0].Id, model.Failed("late", 1))
	require.True(t, errors.As(err, &invalid))

	err = recDao.MarkOutcome(pending[1].Id, model.Sent("wamid.2", 1))
	require.True(t, errors.As(err, &invalid))

	err = recDao.MarkOutcome(pending[0].Id, model.Failed("again", 1))
	require.True(t, errors.As(err, &invalid))

	err = recDao.MarkOutcome(pending[0].Id, model.Outcome{Status: model.DELIVERED})
	require.True(t, errors.As(err, &invalid))

	sent, _ := recDao.GetOneById(pending[0].Id)
	require.Equal(t, model.SENT, sent.Status)
}

func TestRecipientDao_MarkOutcome_FailedIsTerminal(t *testing.T) {
	db, cleanup := createDB(t)
	defer cleanup()
	recDao := NewRecipientDao(db)
	broadcast := createBroadcast(t, db, OWNER, PHONE1)
	pending, _ := recDao.ListPending(broadcast.Id)
	require.NoError(t, recDao.MarkOutcome(pending[0].Id, model.Failed("boom", 1)))

	err := recDao.MarkOutcome(pending[0].Id, model.Sent("wamid.9", 1))

	var invalid *model.InvalidTransitionErr
	require.True(t, errors.As(err, &invalid))

	//reopening the broadcast makes the recipient pending again
	_, err = NewBroadcastDao(db).Reopen(broadcast.Id, nil)
	require.NoError(t, err)
	require.NoError(t, recDao.MarkOutcome(pending[0].Id, model.Sent("wamid.9", 1)))

	recipient, _ := recDao.GetOneById(pending[0].Id)
	require.Equal(t, model.SENT, recipient.Status)
	require.Equal(t, 2, recipient.Attempts)
	require.Nil(t, recipient.Error)
}

func TestRecipientDao_MarkReceipt(t *testing.T) {
	db, cleanup := createDB(t)
	defer cleanup()
	recDao := NewRecipientDao(db)
	broadcast := createBroadcast(t, db, OWNER, PHONE1, PHONE2)
	pending, _ := recDao.ListPending(broadcast.Id)
	require.NoError(t, recDao.MarkOutcome(pending[0].Id, model.Sent("wamid.1", 1)))
	require.NoError(t, recDao.MarkOutcome(pending[1].Id, model.Sent("wamid.2", 1)))

	delivered, err := recDao.MarkReceipt("wamid.1", model.DELIVERED)

	require.NoError(t, err)
	require.Equal(t, model.DELIVERED, delivered.Status)

	read, err := recDao.MarkReceipt("wamid.1", model.READ)

	require.NoError(t, err)
	require.Equal(t, model.READ, read.Status)
	require.NotNil(t, read.ReadAt)

	_, err = recDao.MarkReceipt("wamid.1", model.READ)
	require.NoError(t, err)

	var invalid *model.InvalidTransitionErr
	_, err = recDao.MarkReceipt("wamid.1", model.DELIVERED)
	require.True(t, errors.As(err, &invalid))

	skipped, err := recDao.MarkReceipt("wamid.2", model.READ)
	require.NoError(t, err)
	require.NotNil(t, skipped.DeliveredAt)

	var notFound *model.NotFoundErr
	_, err = recDao.MarkReceipt("wamid.404", model.DELIVERED)
	require.True(t, errors.As(err, &notFound))
	_, err = recDao.MarkReceipt("", model.DELIVERED)
	require.True(t, errors.As(err, &notFound))
}

func TestRecipientDao_MarkReceipt_PendingRecipient(t *testing.T) {
	db, cleanup := createDB(t)
	defer cleanup()
	recDao := NewRecipientDao(db)
	broadcast := createBroadcast(t, db, OWNER, PHONE1)
	pending, _ := recDao.ListPending(broadcast.Id)
	require.NoError(t, recDao.MarkOutcome(pending[0].Id, model.Failed("boom", 1)))

	//failed recipients carry no provider id
	_, err := recDao.MarkReceipt("wamid.1", model.DELIVERED)

	var notFound *model.NotFoundErr
	require.True(t, errors.As(err, &notFound))
}

func TestRecipientDao_MarkReceipt_BeforeOutcome(t *testing.T) {
	db, cleanup := createDB(t)
	defer cleanup()
	recDao := NewRecipientDao(db)
	broadcast := createBroadcast(t, db, OWNER, PHONE1, PHONE2)
	pending, _ := recDao.ListPending(broadcast.Id)

	//receipts overtake the sends they belong to
	var notFound *model.NotFoundErr
	_, err := recDao.MarkReceipt("wamid.1", model.DELIVERED)
	require.True(t, errors.As(err, &notFound))
	_, err = recDao.MarkReceipt("wamid.2", model.READ)
	require.True(t, errors.As(err, &notFound))
	_, err = recDao.MarkReceipt("wamid.2", model.DELIVERED)
	require.True(t, errors.As(err, &notFound))

	require.NoError(t, recDao.MarkOutcome(pending[0].Id, model.Sent("wamid.1", 1)))
	require.NoError(t, recDao.MarkOutcome(pending[1].Id, model.Sent("wamid.2", 1)))

	delivered, _ := recDao.GetOneById(pending[0].Id)
	require.Equal(t, model.DELIVERED, delivered.Status)
	require.NotNil(t, delivered.DeliveredAt)
	read, _ := recDao.GetOneById(pending[1].Id)
	require.Equal(t, model.READ, read.Status)
	require.NotNil(t, read.ReadAt)

	var parked []model.ParkedReceipt
	require.NoError(t, db.All(&parked))
	require.Empty(t, parked)

	snapshot, err := recDao.Aggregate(broadcast.Id)
	require.NoError(t, err)
	require.Equal(t, 2, snapshot.Sent)
}

func TestRecipientDao_RemoveParkedOlderThanDays(t *testing.T) {
	db, cleanup := createDB(t)
	defer cleanup()
	recDao := NewRecipientDao(db)

	removed, err := recDao.RemoveParkedOlderThanDays(7)
	require.NoError(t, err)
	require.Equal(t, 0, removed)

	_, err = recDao.MarkReceipt("wamid.fresh", model.DELIVERED)
	require.Error(t, err)
	require.NoError(t, db.Save(&model.ParkedReceipt{DeliverId: "wamid.stale", Status: model.READ, ReceivedAt: time.Now().AddDate(0, 0, -8)}))

	removed, err = recDao.RemoveParkedOlderThanDays(7)

	require.NoError(t, err)
	require.Equal(t, 1, removed)
	var parked []model.ParkedReceipt
	require.NoError(t, db.All(&parked))
	require.Len(t, parked, 1)
	require.Equal(t, "wamid.fresh", parked[0].DeliverId)
}

func TestRecipientDao_Aggregate(t *testing.T) {
	db, cleanup := createDB(t)
	defer cleanup()
	recDao := NewRecipientDao(db)
	broadcast := createBroadcast(t, db, OWNER, PHONE1, PHONE2, PHONE3)
	pending, _ := recDao.ListPending(broadcast.Id)

	snapshot, err := recDao.Aggregate(broadcast.Id)
	require.NoError(t, err)
	require.Equal(t, model.Snapshot{BroadcastId: broadcast.Id, Total: 3, Pending: 3}, snapshot)

	require.NoError(t, recDao.MarkOutcome(pending[0].Id, model.Sent("wamid.1", 1)))
	require.NoError(t, recDao.MarkOutcome(pending[1].Id, model.Failed("boom", 1)))
	_, err = recDao.MarkReceipt("wamid.1", model.READ)
	require.NoError(t, err)

	snapshot, err = recDao.Aggregate(broadcast.Id)

	require.NoError(t, err)
	require.Equal(t, 1, snapshot.Sent)
	require.Equal(t, 1, snapshot.Failed)
	require.Equal(t, 1, snapshot.Pending)
	require.Equal(t, snapshot.Total, snapshot.Sent+snapshot.Failed+snapshot.Pending)

	empty, err := recDao.Aggregate(999)
	require.NoError(t, err)
	require.Equal(t, 0, empty.Total)
}
