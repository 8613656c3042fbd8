package dao

import (
	"time"

	"github.com/dilshat/wa-broadcast/model"
)

type ContactDao interface {
	//Create creates an active contact and returns its id
	Create(ownerId, name, phone string) (uint32, error)
	//GetAllByOwner returns the owner's contacts
	GetAllByOwner(ownerId string) ([]model.Contact, error)
	//GetAllByIds returns the owner's contacts with the given ids in the same order
	GetAllByIds(ownerId string, ids []uint32) ([]model.Contact, error)
	//SetStatus switches the owner's contact between active and inactive
	SetStatus(ownerId string, id uint32, status string) (model.Contact, error)
}

func NewContactDao(db Db) ContactDao {
	return &contactDao{db: db}
}

type contactDao struct {
	db Db
}

func (d contactDao) Create(ownerId, name, phone string) (uint32, error) {
	contact := &model.Contact{OwnerId: ownerId, Name: name, Phone: phone, Status: model.ACTIVE, CreatedAt: time.Now()}
	err := d.db.Save(contact)
	return contact.Id, err
}

func (d contactDao) GetAllByOwner(ownerId string) ([]model.Contact, error) {
	var contacts []model.Contact
	err := d.db.Find("OwnerId", ownerId, &contacts)
	if err != nil && !isNotFound(err) {
		return nil, err
	}
	return contacts, nil
}

func (d contactDao) GetAllByIds(ownerId string, ids []uint32) ([]model.Contact, error) {
	contacts := make([]model.Contact, 0, len(ids))
	for _, id := range ids {
		var contact model.Contact
		err := d.db.One("Id", id, &contact)
		if isNotFound(err) || (err == nil && contact.OwnerId != ownerId) {
			return nil, model.NewNotFoundError("contact", id)
		}
		if err != nil {
			return nil, err
		}
		contacts = append(contacts, contact)
	}
	return contacts, nil
}

func (d contactDao) SetStatus(ownerId string, id uint32, status string) (model.Contact, error) {
	var contact model.Contact
	err := d.db.One("Id", id, &contact)
	if isNotFound(err) || (err == nil && contact.OwnerId != ownerId) {
		return model.Contact{}, model.NewNotFoundError("contact", id)
	}
	if err != nil {
		return model.Contact{}, err
	}

	contact.Status = status
	if err = d.db.Update(&model.Contact{Id: id, Status: status}); err != nil {
		return model.Contact{}, err
	}
	return contact, nil
}
