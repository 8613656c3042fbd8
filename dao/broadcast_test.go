package dao

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dilshat/wa-broadcast/model"
	"github.com/stretchr/testify/require"
)

const (
	OWNER  = "owner-1"
	OWNER2 = "owner-2"
	TITLE  = "Promo"
	TEXT   = "Hi {name}"
	PHONE1 = "996777123456"
	PHONE2 = "996222987654"
	PHONE3 = "996555000111"
)

func recipients(phones ...string) []model.Recipient {
	var list []model.Recipient
	for i, phone := range phones {
		list = append(list, model.Recipient{ContactId: uint32(i + 1), Name: "Name" + phone[len(phone)-2:], Phone: phone})
	}
	return list
}

func createBroadcast(t *testing.T, db Db, owner string, phones ...string) model.Broadcast {
	broadcast := &model.Broadcast{OwnerId: owner, Title: TITLE, Message: TEXT, Status: model.DRAFT}
	require.NoError(t, NewBroadcastDao(db).Create(broadcast, recipients(phones...)))
	return *broadcast
}

func TestBroadcastDao_Create(t *testing.T) {
	db, cleanup := createDB(t)
	defer cleanup()
	brDao := NewBroadcastDao(db)

	broadcast := createBroadcast(t, db, OWNER, PHONE1, PHONE2)

	require.True(t, broadcast.Id > 0)

	stored, err := brDao.GetOneById(broadcast.Id)

	require.NoError(t, err)
	require.Equal(t, 2, stored.Total)
	require.Equal(t, 2, stored.Pending)
	require.Equal(t, model.DRAFT, stored.Status)

	all, err := NewRecipientDao(db).GetAllByBroadcastId(broadcast.Id)

	require.NoError(t, err)
	require.Len(t, all, 2)
	for _, recipient := range all {
		require.Equal(t, model.PENDING, recipient.Status)
		require.Equal(t, broadcast.Id, recipient.BroadcastId)
	}
}

func TestBroadcastDao_GetOneById_NotFound(t *testing.T) {
	db, cleanup := createDB(t)
	defer cleanup()

	_, err := NewBroadcastDao(db).GetOneById(42)

	var notFound *model.NotFoundErr
	require.True(t, errors.As(err, &notFound))
}

func TestBroadcastDao_GetAllByOwner(t *testing.T) {
	db, cleanup := createDB(t)
	defer cleanup()
	brDao := NewBroadcastDao(db)

	first := createBroadcast(t, db, OWNER, PHONE1)
	second := createBroadcast(t, db, OWNER, PHONE2)
	createBroadcast(t, db, OWNER2, PHONE3)

	all, err := brDao.GetAllByOwner(OWNER)

	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, second.Id, all[0].Id)
	require.Equal(t, first.Id, all[1].Id)

	none, err := brDao.GetAllByOwner("nobody")

	require.NoError(t, err)
	require.Empty(t, none)
}

func TestBroadcastDao_GetAllByStatus(t *testing.T) {
	db, cleanup := createDB(t)
	defer cleanup()
	brDao := NewBroadcastDao(db)
	broadcast := createBroadcast(t, db, OWNER, PHONE1)
	createBroadcast(t, db, OWNER, PHONE2)

	_, err := brDao.Transition(broadcast.Id, nil, func(b *model.Broadcast) { b.Status = model.SENDING })
	require.NoError(t, err)

	sending, err := brDao.GetAllByStatus(model.SENDING)

	require.NoError(t, err)
	require.Len(t, sending, 1)
	require.Equal(t, broadcast.Id, sending[0].Id)
}

func TestBroadcastDao_Transition(t *testing.T) {
	db, cleanup := createDB(t)
	defer cleanup()
	brDao := NewBroadcastDao(db)
	broadcast := createBroadcast(t, db, OWNER, PHONE1)
	guardErr := errors.New("guard")

	_, err := brDao.Transition(broadcast.Id, func(b model.Broadcast) error { return guardErr }, func(b *model.Broadcast) {
		b.Status = model.SENDING
	})

	require.Equal(t, guardErr, err)
	stored, _ := brDao.GetOneById(broadcast.Id)
	require.Equal(t, model.DRAFT, stored.Status)

	updated, err := brDao.Transition(broadcast.Id, nil, func(b *model.Broadcast) {
		b.Status = model.COMPLETED
		b.Pending = 0
	})

	require.NoError(t, err)
	require.Equal(t, model.COMPLETED, updated.Status)
	stored, _ = brDao.GetOneById(broadcast.Id)
	require.Equal(t, 0, stored.Pending)
	require.Equal(t, model.COMPLETED, stored.Status)
}

func TestBroadcastDao_TransitionIsExclusive(t *testing.T) {
	db, cleanup := createDB(t)
	defer cleanup()
	brDao := NewBroadcastDao(db)
	broadcast := createBroadcast(t, db, OWNER, PHONE1)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := brDao.Transition(broadcast.Id, func(b model.Broadcast) error {
				if b.Status != model.DRAFT {
					return model.NewAlreadyProcessingError(b.Id)
				}
				return nil
			}, func(b *model.Broadcast) { b.Status = model.SENDING })
			if err == nil {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 1, winners)
}

func TestBroadcastDao_Reopen(t *testing.T) {
	db, cleanup := createDB(t)
	defer cleanup()
	brDao := NewBroadcastDao(db)
	recDao := NewRecipientDao(db)
	broadcast := createBroadcast(t, db, OWNER, PHONE1, PHONE2)
	pending, _ := recDao.ListPending(broadcast.Id)
	require.NoError(t, recDao.MarkOutcome(pending[0].Id, model.Sent("wamid.1", 1)))
	require.NoError(t, recDao.MarkOutcome(pending[1].Id, model.Failed("boom", 1)))
	_, err := brDao.Transition(broadcast.Id, nil, func(b *model.Broadcast) { b.Status = model.COMPLETED })
	require.NoError(t, err)

	reopened, err := brDao.Reopen(broadcast.Id, nil)

	require.NoError(t, err)
	require.Equal(t, model.DRAFT, reopened.Status)
	require.Equal(t, 1, reopened.Sent)
	require.Equal(t, 0, reopened.Failed)
	require.Equal(t, 1, reopened.Pending)

	again, _ := recDao.ListPending(broadcast.Id)
	require.Len(t, again, 1)
	require.Equal(t, pending[1].Id, again[0].Id)
	require.Nil(t, again[0].Error)
}

func TestBroadcastDao_Delete(t *testing.T) {
	db, cleanup := createDB(t)
	defer cleanup()
	brDao := NewBroadcastDao(db)
	broadcast := createBroadcast(t, db, OWNER, PHONE1, PHONE2)
	other := createBroadcast(t, db, OWNER, PHONE3)

	err := brDao.Delete(broadcast.Id, nil)

	require.NoError(t, err)
	_, err = brDao.GetOneById(broadcast.Id)
	require.Error(t, err)
	all, _ := NewRecipientDao(db).GetAllByBroadcastId(broadcast.Id)
	require.Empty(t, all)
	kept, _ := NewRecipientDao(db).GetAllByBroadcastId(other.Id)
	require.Len(t, kept, 1)
}

func TestBroadcastDao_RemoveCompletedOlderThanDays(t *testing.T) {
	db, cleanup := createDB(t)
	defer cleanup()
	brDao := NewBroadcastDao(db)
	old := createBroadcast(t, db, OWNER, PHONE1)
	fresh := createBroadcast(t, db, OWNER, PHONE2)
	oldDraft := createBroadcast(t, db, OWNER, PHONE3)
	for _, id := range []uint32{old.Id, fresh.Id} {
		_, err := brDao.Transition(id, nil, func(b *model.Broadcast) { b.Status = model.COMPLETED })
		require.NoError(t, err)
	}
	for _, id := range []uint32{old.Id, oldDraft.Id} {
		_, err := brDao.Transition(id, nil, func(b *model.Broadcast) { b.CreatedAt = time.Now().Add(-25 * time.Hour) })
		require.NoError(t, err)
	}

	removed, err := brDao.RemoveCompletedOlderThanDays(1)

	require.NoError(t, err)
	require.Equal(t, 1, removed)
	all, _ := brDao.GetAllByOwner(OWNER)
	require.Len(t, all, 2)
	orphans, _ := NewRecipientDao(db).GetAllByBroadcastId(old.Id)
	require.Empty(t, orphans)
}
