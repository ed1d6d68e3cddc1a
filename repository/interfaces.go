package repository

import (
	"errors"

	"github.com/camden-git/membersync/models"
	"gorm.io/gorm"
)

// ErrNotFound is returned when a lookup matches no record.
var ErrNotFound = gorm.ErrRecordNotFound

// ErrAlreadyLinked is returned when an account is already linked to another person.
var ErrAlreadyLinked = errors.New("account already linked to another person")

// PersonRepository is the record store for people. Every query except
// GetByID only sees published records. Writes are field-by-field so
// concurrent workers never overwrite each other's columns wholesale.
type PersonRepository interface {
	Create(person *models.Person) error
	GetByID(id uint) (*models.Person, error)
	ListPublished() ([]models.Person, error)

	// ListByEmail returns every published holder of email in creation order.
	ListByEmail(email string) ([]models.Person, error)
	FindByEmailAndName(email, firstName, lastName string) (*models.Person, error)
	// FindPrimaryByEmail returns the primary for email other than excludeID
	// (pass 0 to exclude nothing).
	FindPrimaryByEmail(email string, excludeID uint) (*models.Person, error)
	FindAnyByEmail(email string) (*models.Person, error)
	FindByPhone(phone string) ([]models.Person, error)
	FindByLinkedAccount(accountID uint) (*models.Person, error)

	UpdateFields(id uint, fields map[string]interface{}) error
	SetPrimary(id uint, isPrimary bool, actualPrimaryID *uint) error
	AppendSyncLog(id uint, entry models.SyncLogEntry) error
	Trash(id uint) error

	// ListInconsistentEmails returns emails with duplicated holders or a
	// primary count other than one.
	ListInconsistentEmails() ([]string, error)
}

// AccountRepository manages external authentication accounts.
type AccountRepository interface {
	Create(account *models.Account) error
	GetByID(id uint) (*models.Account, error)
	GetByEmail(email string) (*models.Account, error)
	// Link attaches an unlinked account to a person, returning
	// ErrAlreadyLinked if the account belongs to someone else.
	Link(accountID, personID uint) error
}
