package models

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// birthdayWindowDays is how many days past today count as 'upcoming'
const birthdayWindowDays = 7

type Contact struct {
	BaseModel
	FirstName   string `json:"first_name" gorm:"index"`
	LastName    string `json:"last_name" gorm:"index"`
	Email       string `json:"email" gorm:"uniqueIndex"`
	PhoneNumber string `json:"phone_number" gorm:"index"`
	DateOfBirth Date   `json:"date_of_birth"`
	UserID      uint   `json:"-" gorm:"not null;index"`
}

// ContactInput holds the fields a client supplies for create & update.
// Updates always overwrite all of them.
type ContactInput struct {
	FirstName   string `json:"first_name" validate:"required,max=50"`
	LastName    string `json:"last_name" validate:"required,max=50"`
	Email       string `json:"email" validate:"required"`
	PhoneNumber string `json:"phone_number" validate:"required,max=15"`
	DateOfBirth Date   `json:"date_of_birth" validate:"required"`
}

// ContactsRepository reads & writes contacts on behalf of a user. Every
// method only sees rows owned by that user; a lookup that matches nothing
// returns a nil contact and a nil error.
type ContactsRepository interface {
	Contacts(ctx context.Context, skip, limit int, user *User) ([]Contact, error)
	Contact(ctx context.Context, id uint, user *User) (*Contact, error)
	CreateContact(ctx context.Context, input ContactInput, user *User) (*Contact, error)
	RemoveContact(ctx context.Context, id uint, user *User) (*Contact, error)
	UpdateContact(ctx context.Context, id uint, input ContactInput, user *User) (*Contact, error)
	SearchContacts(ctx context.Context, query string, skip, limit int, user *User) ([]Contact, error)
	UpcomingBirthdays(ctx context.Context, user *User) ([]Contact, error)
}

type ContactStore struct {
	db  *gorm.DB
	now func() time.Time
}

func NewContactStore(db *gorm.DB) *ContactStore {
	return &ContactStore{db: db, now: time.Now}
}

// WithClock returns a copy of the store that reads the current date from now
func (store *ContactStore) WithClock(now func() time.Time) *ContactStore {
	return &ContactStore{db: store.db, now: now}
}

func (store *ContactStore) Contacts(ctx context.Context, skip, limit int, user *User) ([]Contact, error) {
	contacts := []Contact{}

	err := store.db.WithContext(ctx).
		Scopes(ownedBy(user), paginate(skip, limit)).
		Order("id").
		Find(&contacts).Error
	if err != nil {
		return nil, errors.Wrap(err, "Contacts")
	}

	return contacts, nil
}

func (store *ContactStore) Contact(ctx context.Context, id uint, user *User) (*Contact, error) {
	return findContact(store.db.WithContext(ctx), id, user)
}

func (store *ContactStore) CreateContact(ctx context.Context, input ContactInput, user *User) (*Contact, error) {
	contact := &Contact{UserID: user.ID}
	contact.assign(input)

	err := store.db.WithContext(ctx).Create(contact).Error
	if err != nil {
		return nil, errors.Wrap(err, "CreateContact")
	}

	return contact, nil
}

func (store *ContactStore) RemoveContact(ctx context.Context, id uint, user *User) (*Contact, error) {
	tx := store.db.WithContext(ctx)

	contact, err := findContact(tx, id, user)
	if err != nil || contact == nil {
		return nil, err
	}

	if err := tx.Delete(contact).Error; err != nil {
		return nil, errors.Wrapf(err, "RemoveContact %v", id)
	}

	return contact, nil
}

func (store *ContactStore) UpdateContact(ctx context.Context, id uint, input ContactInput, user *User) (*Contact, error) {
	tx := store.db.WithContext(ctx)

	contact, err := findContact(tx, id, user)
	if err != nil || contact == nil {
		return nil, err
	}

	contact.assign(input)
	if err := tx.Save(contact).Error; err != nil {
		return nil, errors.Wrapf(err, "UpdateContact %v", id)
	}

	return contact, nil
}

// SearchContacts matches query case-insensitively against first name, last
// name & email. An empty query matches nothing.
func (store *ContactStore) SearchContacts(ctx context.Context, query string, skip, limit int, user *User) ([]Contact, error) {
	contacts := []Contact{}
	if query == "" {
		return contacts, nil
	}

	tx := store.db.WithContext(ctx)

	conditions := []string{}
	patterns := []interface{}{}
	for _, column := range []string{"first_name", "last_name", "email"} {
		condition, pattern := foldedLike(tx, column, query)
		conditions = append(conditions, condition)
		patterns = append(patterns, pattern)
	}

	err := tx.Scopes(ownedBy(user)).
		Where("("+strings.Join(conditions, " OR ")+")", patterns...).
		Scopes(paginate(skip, limit)).
		Order("id").
		Find(&contacts).Error
	if err != nil {
		return nil, errors.Wrap(err, "SearchContacts")
	}

	return contacts, nil
}

// UpcomingBirthdays returns contacts born in the current month on a day between
// today & today+7. Days are compared as plain numbers, so the window never
// spills into the next month.
func (store *ContactStore) UpcomingBirthdays(ctx context.Context, user *User) ([]Contact, error) {
	contacts := []Contact{}
	today := store.now()
	tx := store.db.WithContext(ctx)

	month := datePart(tx, "month", "date_of_birth")
	day := datePart(tx, "day", "date_of_birth")

	err := tx.Scopes(ownedBy(user)).
		Where(month+" = ?", int(today.Month())).
		Where(day+" >= ?", today.Day()).
		Where(day+" <= ?", today.Day()+birthdayWindowDays).
		Order("id").
		Find(&contacts).Error
	if err != nil {
		return nil, errors.Wrap(err, "UpcomingBirthdays")
	}

	return contacts, nil
}

func (contact *Contact) assign(input ContactInput) {
	contact.FirstName = input.FirstName
	contact.LastName = input.LastName
	contact.Email = input.Email
	contact.PhoneNumber = input.PhoneNumber
	contact.DateOfBirth = input.DateOfBirth
}

func findContact(tx *gorm.DB, id uint, user *User) (*Contact, error) {
	contact := Contact{}

	err := tx.Scopes(ownedBy(user)).Where("id = ?", id).First(&contact).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "findContact %v", id)
	}

	return &contact, nil
}
