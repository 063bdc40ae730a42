package models

import (
	"context"

	"github.com/Daskott/kontacts/shared"
	"gorm.io/gorm"
)

// NewTestDb opens a migrated sqlite db rooted at dir
func NewTestDb(dir string) (*gorm.DB, error) {
	db, err := OpenDB(shared.DatabaseConfig{
		Driver: "sqlite",
		Sqlite: shared.SqliteConfig{PassPhrase: "test-passphrase", Dir: dir},
	})
	if err != nil {
		return nil, err
	}

	return db, AutoMigrate(db)
}

// ContactsRepositoryStub returns canned values & records the last call's arguments
type ContactsRepositoryStub struct {
	ContactList []Contact
	Found       *Contact
	Err         error

	LastSkip  int
	LastLimit int
	LastQuery string
	LastID    uint
	LastInput ContactInput
	LastUser  *User
}

func (stub *ContactsRepositoryStub) Contacts(ctx context.Context, skip, limit int, user *User) ([]Contact, error) {
	stub.LastSkip, stub.LastLimit, stub.LastUser = skip, limit, user
	return stub.ContactList, stub.Err
}

func (stub *ContactsRepositoryStub) Contact(ctx context.Context, id uint, user *User) (*Contact, error) {
	stub.LastID, stub.LastUser = id, user
	return stub.Found, stub.Err
}

func (stub *ContactsRepositoryStub) CreateContact(ctx context.Context, input ContactInput, user *User) (*Contact, error) {
	stub.LastInput, stub.LastUser = input, user
	if stub.Err != nil {
		return nil, stub.Err
	}

	contact := &Contact{UserID: user.ID}
	contact.ID = 1
	contact.assign(input)
	return contact, nil
}

func (stub *ContactsRepositoryStub) RemoveContact(ctx context.Context, id uint, user *User) (*Contact, error) {
	stub.LastID, stub.LastUser = id, user
	return stub.Found, stub.Err
}

func (stub *ContactsRepositoryStub) UpdateContact(ctx context.Context, id uint, input ContactInput, user *User) (*Contact, error) {
	stub.LastID, stub.LastInput, stub.LastUser = id, input, user
	if stub.Found == nil || stub.Err != nil {
		return nil, stub.Err
	}

	updated := *stub.Found
	updated.assign(input)
	return &updated, nil
}

func (stub *ContactsRepositoryStub) SearchContacts(ctx context.Context, query string, skip, limit int, user *User) ([]Contact, error) {
	stub.LastQuery, stub.LastSkip, stub.LastLimit, stub.LastUser = query, skip, limit, user
	return stub.ContactList, stub.Err
}

func (stub *ContactsRepositoryStub) UpcomingBirthdays(ctx context.Context, user *User) ([]Contact, error) {
	stub.LastUser = user
	return stub.ContactList, stub.Err
}
