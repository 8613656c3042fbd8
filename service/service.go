package service

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/dilshat/wa-broadcast/dao"
	"github.com/dilshat/wa-broadcast/dispatch"
	"github.com/dilshat/wa-broadcast/model"
	"github.com/dilshat/wa-broadcast/service/dto"
	"go.uber.org/zap"
)

type InvalidPayloadErr struct {
	message string
}

func (e *InvalidPayloadErr) Error() string {
	return e.message
}

func NewInvalidPayloadError(msg string) *InvalidPayloadErr {
	return &InvalidPayloadErr{message: msg}
}

type Dispatcher interface {
	Dispatch(ctx context.Context, ownerId string, broadcastId uint32) (dispatch.Summary, error)
}

// Progress is the in-process view of the latest published snapshots.
type Progress interface {
	Latest(broadcastId uint32) (model.Snapshot, bool)
	Forget(broadcastId uint32)
}

type Service interface {
	CreateBroadcast(ownerId string, broadcast dto.NewBroadcast) (dto.Id, error)
	GetBroadcast(ownerId string, id uint32) (dto.BroadcastDetails, error)
	ListBroadcasts(ownerId string) ([]dto.Broadcast, error)
	DeleteBroadcast(ownerId string, id uint32) error
	SendBroadcast(ctx context.Context, ownerId string, id uint32) (dto.Summary, error)
	RetryBroadcast(ownerId string, id uint32) (dto.Broadcast, error)
	GetProgress(ownerId string, id uint32) (dto.Progress, error)
	CreateContact(ownerId string, contact dto.NewContact) (dto.Id, error)
	ListContacts(ownerId string) ([]dto.Contact, error)
	SetContactStatus(ownerId string, id uint32, status dto.ContactStatus) (dto.Contact, error)
	HandleReceipt(deliverId, status string)
}

type service struct {
	broadcastDao  dao.BroadcastDao
	recipientDao  dao.RecipientDao
	contactDao    dao.ContactDao
	dispatcher    Dispatcher
	progress      Progress
	messageMaxLen int
	phoneRx       *regexp.Regexp
}

func NewService(broadcastDao dao.BroadcastDao, recipientDao dao.RecipientDao, contactDao dao.ContactDao,
	dispatcher Dispatcher, progress Progress, messageMaxLen int, phoneMask string) Service {
	return &service{
		broadcastDao:  broadcastDao,
		recipientDao:  recipientDao,
		contactDao:    contactDao,
		dispatcher:    dispatcher,
		progress:      progress,
		messageMaxLen: messageMaxLen,
		phoneRx:       regexp.MustCompile("^" + phoneMask + "$"),
	}
}

func (s service) HandleReceipt(deliverId string, status string) {
	recipient, err := s.recipientDao.MarkReceipt(deliverId, status)
	if err != nil {
		var notFound *model.NotFoundErr
		var invalid *model.InvalidTransitionErr
		if errors.As(err, &notFound) {
			//kept by the ledger until the send with this id is recorded
			zap.L().Info("Receipt parked", zap.String("deliverId", deliverId), zap.String("status", status))
			return
		}
		if errors.As(err, &invalid) {
			zap.L().Warn("Receipt ignored", zap.String("deliverId", deliverId), zap.String("status", status), zap.Error(err))
			return
		}
		zap.L().Error("Error updating delivery status", zap.Error(err))
		return
	}

	zap.L().Debug("Receipt applied",
		zap.Uint32("broadcastId", recipient.BroadcastId),
		zap.Uint32("recipientId", recipient.Id),
		zap.String("status", recipient.Status))
}

func (s service) CreateBroadcast(ownerId string, broadcast dto.NewBroadcast) (dto.Id, error) {

	//overall broadcast validation
	if strings.TrimSpace(broadcast.Title) == "" || strings.TrimSpace(broadcast.Message) == "" || len(broadcast.ContactIds) == 0 {
		return dto.Id{}, NewInvalidPayloadError("Invalid broadcast: title, message and contacts are required")
	}

	//check max length of message
	if len([]rune(broadcast.Message)) > s.messageMaxLen {
		return dto.Id{}, NewInvalidPayloadError("Message too long. Must be <= " + strconv.Itoa(s.messageMaxLen) + " symbols in length")
	}

	//remove duplicates
	var ids []uint32
	unique := make(map[uint32]bool)
	for _, id := range broadcast.ContactIds {
		if !unique[id] {
			unique[id] = true
			ids = append(ids, id)
		}
	}

	contacts, err := s.contactDao.GetAllByIds(ownerId, ids)
	if err != nil {
		var notFound *model.NotFoundErr
		if errors.As(err, &notFound) {
			return dto.Id{}, NewInvalidPayloadError("Unknown contact: " + err.Error())
		}
		return dto.Id{}, err
	}

	var recipients []model.Recipient
	for _, contact := range contacts {
		if contact.Status != model.ACTIVE {
			continue
		}
		recipients = append(recipients, model.Recipient{ContactId: contact.Id, Name: contact.Name, Phone: contact.Phone})
	}
	if len(recipients) == 0 {
		return dto.Id{}, NewInvalidPayloadError("None of the contacts is active")
	}

	b := &model.Broadcast{
		OwnerId:     ownerId,
		Title:       strings.TrimSpace(broadcast.Title),
		Message:     broadcast.Message,
		Status:      model.DRAFT,
		ScheduledAt: broadcast.ScheduledAt,
	}
	if b.ScheduledAt != nil && b.ScheduledAt.After(time.Now()) {
		b.Status = model.SCHEDULED
	}

	if err = s.broadcastDao.Create(b, recipients); err != nil {
		return dto.Id{}, err
	}

	return dto.Id{Id: b.Id}, nil
}

func (s service) GetBroadcast(ownerId string, id uint32) (dto.BroadcastDetails, error) {
	broadcast, err := s.ownBroadcast(ownerId, id)
	if err != nil {
		return dto.BroadcastDetails{}, err
	}
	recipients, err := s.recipientDao.GetAllByBroadcastId(broadcast.Id)
	if err != nil {
		return dto.BroadcastDetails{}, err
	}

	details := dto.BroadcastDetails{Broadcast: toBroadcast(broadcast), Recipients: []dto.Recipient{}}
	for _, r := range recipients {
		details.Recipients = append(details.Recipients, dto.Recipient{
			Id:          r.Id,
			Name:        r.Name,
			Phone:       r.Phone,
			Status:      r.Status,
			Error:       r.Error,
			SentAt:      r.SentAt,
			DeliveredAt: r.DeliveredAt,
			ReadAt:      r.ReadAt,
		})
	}

	return details, nil
}

func (s service) ListBroadcasts(ownerId string) ([]dto.Broadcast, error) {
	broadcasts, err := s.broadcastDao.GetAllByOwner(ownerId)
	if err != nil {
		return nil, err
	}

	list := []dto.Broadcast{}
	for _, b := range broadcasts {
		list = append(list, toBroadcast(b))
	}
	return list, nil
}

func (s service) DeleteBroadcast(ownerId string, id uint32) error {
	err := s.broadcastDao.Delete(id, func(b model.Broadcast) error {
		if b.OwnerId != ownerId {
			return model.NewNotFoundError("broadcast", id)
		}
		if b.Status == model.SENDING {
			return model.NewAlreadyProcessingError(id)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.progress.Forget(id)
	return nil
}

func (s service) SendBroadcast(ctx context.Context, ownerId string, id uint32) (dto.Summary, error) {
	summary, err := s.dispatcher.Dispatch(ctx, ownerId, id)
	if err != nil {
		return dto.Summary{}, err
	}
	return dto.Summary{SentCount: summary.SentCount, FailedCount: summary.FailedCount}, nil
}

func (s service) RetryBroadcast(ownerId string, id uint32) (dto.Broadcast, error) {
	broadcast, err := s.broadcastDao.Reopen(id, func(b model.Broadcast) error {
		if b.OwnerId != ownerId {
			return model.NewNotFoundError("broadcast", id)
		}
		if b.Status == model.SENDING {
			return model.NewAlreadyProcessingError(id)
		}
		if b.Status != model.COMPLETED && b.Status != model.FAILED {
			return NewInvalidPayloadError("Only completed or failed broadcasts can be retried")
		}
		return nil
	})
	if err != nil {
		return dto.Broadcast{}, err
	}

	return toBroadcast(broadcast), nil
}

func (s service) GetProgress(ownerId string, id uint32) (dto.Progress, error) {
	broadcast, err := s.ownBroadcast(ownerId, id)
	if err != nil {
		return dto.Progress{}, err
	}

	snapshot, ok := s.progress.Latest(broadcast.Id)
	if !ok {
		//nothing published in this process yet, count the ledger
		snapshot, err = s.recipientDao.Aggregate(broadcast.Id)
		if err != nil {
			return dto.Progress{}, err
		}
	}

	return dto.Progress{
		BroadcastId: broadcast.Id,
		Sent:        snapshot.Sent,
		Failed:      snapshot.Failed,
		Pending:     snapshot.Pending,
		Total:       snapshot.Total,
	}, nil
}

func (s service) CreateContact(ownerId string, contact dto.NewContact) (dto.Id, error) {
	if strings.TrimSpace(contact.Name) == "" {
		return dto.Id{}, NewInvalidPayloadError("Invalid contact: name is required")
	}
	//check phone format
	if !s.phoneRx.MatchString(contact.Phone) {
		return dto.Id{}, NewInvalidPayloadError("Invalid phone " + contact.Phone)
	}

	id, err := s.contactDao.Create(ownerId, strings.TrimSpace(contact.Name), contact.Phone)
	if err != nil {
		return dto.Id{}, err
	}
	return dto.Id{Id: id}, nil
}

func (s service) ListContacts(ownerId string) ([]dto.Contact, error) {
	contacts, err := s.contactDao.GetAllByOwner(ownerId)
	if err != nil {
		return nil, err
	}

	list := []dto.Contact{}
	for _, c := range contacts {
		list = append(list, dto.Contact{Id: c.Id, Name: c.Name, Phone: c.Phone, Status: c.Status, CreatedAt: c.CreatedAt})
	}
	return list, nil
}

func (s service) SetContactStatus(ownerId string, id uint32, status dto.ContactStatus) (dto.Contact, error) {
	if status.Status != model.ACTIVE && status.Status != model.INACTIVE {
		return dto.Contact{}, NewInvalidPayloadError("Invalid contact status " + status.Status)
	}

	c, err := s.contactDao.SetStatus(ownerId, id, status.Status)
	if err != nil {
		return dto.Contact{}, err
	}
	return dto.Contact{Id: c.Id, Name: c.Name, Phone: c.Phone, Status: c.Status, CreatedAt: c.CreatedAt}, nil
}

func (s service) ownBroadcast(ownerId string, id uint32) (model.Broadcast, error) {
	broadcast, err := s.broadcastDao.GetOneById(id)
	if err != nil {
		return model.Broadcast{}, err
	}
	if broadcast.OwnerId != ownerId {
		return model.Broadcast{}, model.NewNotFoundError("broadcast", id)
	}
	return broadcast, nil
}

func toBroadcast(b model.Broadcast) dto.Broadcast {
	return dto.Broadcast{
		Id:          b.Id,
		Title:       b.Title,
		Message:     b.Message,
		Status:      b.Status,
		Total:       b.Total,
		Sent:        b.Sent,
		Failed:      b.Failed,
		Pending:     b.Pending,
		ScheduledAt: b.ScheduledAt,
		SentAt:      b.SentAt,
		CompletedAt: b.CompletedAt,
		CreatedAt:   b.CreatedAt,
	}
}
