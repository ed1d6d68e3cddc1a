package models

import (
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// Account is the external authentication account a person may be linked to.
// The link is one-to-one: PersonID is unique and mirrors Person.LinkedAccountID.
type Account struct {
	ID           uint      `json:"id" gorm:"primaryKey"`
	Email        string    `json:"email" gorm:"uniqueIndex;not null"`
	Username     string    `json:"username" gorm:"uniqueIndex;not null"`
	PasswordHash string    `json:"-" gorm:"not null"`
	PersonID     *uint     `json:"person_id,omitempty" gorm:"uniqueIndex"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// BeforeCreate gives provisioned accounts an unguessable password; the member
// sets their own through the password reset flow of the external site.
func (a *Account) BeforeCreate(tx *gorm.DB) error {
	if a.PasswordHash == "" {
		return a.SetPassword(uuid.NewString())
	}
	return nil
}

// SetPassword hashes the given password and sets it on the account.
func (a *Account) SetPassword(password string) error {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	a.PasswordHash = string(hashed)
	return nil
}

// CheckPassword verifies if the given password matches the stored hash.
func (a *Account) CheckPassword(password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(a.PasswordHash), []byte(password)) == nil
}
