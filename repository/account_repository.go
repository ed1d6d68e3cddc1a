package repository

import (
	"fmt"

	"github.com/camden-git/membersync/models"
	"github.com/camden-git/membersync/utils"
	"gorm.io/gorm"
)

type GormAccountRepository struct {
	db *gorm.DB
}

func NewGormAccountRepository(db *gorm.DB) AccountRepository {
	return &GormAccountRepository{db: db}
}

func (r *GormAccountRepository) Create(account *models.Account) error {
	account.Email = utils.NormalizeEmail(account.Email)
	if account.Username == "" {
		account.Username = account.Email
	}
	return r.db.Create(account).Error
}

func (r *GormAccountRepository) GetByID(id uint) (*models.Account, error) {
	var account models.Account
	if err := r.db.First(&account, id).Error; err != nil {
		return nil, err
	}
	return &account, nil
}

func (r *GormAccountRepository) GetByEmail(email string) (*models.Account, error) {
	var account models.Account
	err := r.db.Where("email = ?", utils.NormalizeEmail(email)).First(&account).Error
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// Link sets both sides of the account link in one transaction. Linking an
// account to the person it already belongs to is a no-op.
func (r *GormAccountRepository) Link(accountID, personID uint) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		var account models.Account
		if err := tx.First(&account, accountID).Error; err != nil {
			return err
		}
		if account.PersonID != nil {
			if *account.PersonID == personID {
				return nil
			}
			return ErrAlreadyLinked
		}

		result := tx.Model(&models.Account{}).
			Where("id = ? AND person_id IS NULL", accountID).
			Update("person_id", personID)
		if result.Error != nil {
			return fmt.Errorf("failed to link account %d: %w", accountID, result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrAlreadyLinked
		}

		result = tx.Model(&models.Person{}).
			Where("id = ?", personID).
			Update("linked_account_id", accountID)
		if result.Error != nil {
			return fmt.Errorf("failed to link person %d to account %d: %w", personID, accountID, result.Error)
		}
		if result.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
}
