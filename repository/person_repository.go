package repository

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/camden-git/membersync/database"
	"github.com/camden-git/membersync/models"
	"github.com/camden-git/membersync/utils"
	"gorm.io/gorm"
)

// GormPersonRepository handles database operations for Person entities
type GormPersonRepository struct {
	DB *gorm.DB
}

// NewPersonRepository creates a new instance of GormPersonRepository
func NewPersonRepository(db *gorm.DB) *GormPersonRepository {
	return &GormPersonRepository{DB: db}
}

var _ PersonRepository = (*GormPersonRepository)(nil)

func (r *GormPersonRepository) published() *gorm.DB {
	return r.DB.Model(&models.Person{}).Where("record_status = ?", models.RecordPublished)
}

// Create creates a new person record, normalizing email and phone on write.
func (r *GormPersonRepository) Create(person *models.Person) error {
	person.Email = utils.NormalizeEmail(person.Email)
	if person.Phone != nil {
		phone := utils.NormalizePhone(*person.Phone)
		if phone == "" {
			person.Phone = nil
		} else {
			person.Phone = &phone
		}
	}
	if person.RecordStatus == "" {
		person.RecordStatus = models.RecordPublished
	}
	if person.IsPrimary {
		person.ActualPrimaryID = nil
	}

	if err := r.DB.Create(person).Error; err != nil {
		return fmt.Errorf("failed to create person %s: %w", person.Email, err)
	}
	return nil
}

// GetByID retrieves a person by their ID regardless of record status
func (r *GormPersonRepository) GetByID(id uint) (*models.Person, error) {
	var person models.Person
	err := r.DB.First(&person, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get person by ID %d: %w", id, err)
	}
	return &person, nil
}

// ListPublished retrieves every published person ordered by id
func (r *GormPersonRepository) ListPublished() ([]models.Person, error) {
	var people []models.Person
	if err := r.published().Order("id ASC").Find(&people).Error; err != nil {
		return nil, fmt.Errorf("failed to list people: %w", err)
	}
	return people, nil
}

func (r *GormPersonRepository) ListByEmail(email string) ([]models.Person, error) {
	email = utils.NormalizeEmail(email)
	if email == "" {
		return []models.Person{}, nil
	}
	var people []models.Person
	err := r.published().Where("email = ?", email).Order("created_at ASC, id ASC").Find(&people).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list people for email %s: %w", email, err)
	}
	return people, nil
}

func (r *GormPersonRepository) first(q *gorm.DB, what string) (*models.Person, error) {
	var person models.Person
	err := q.Order("id ASC").First(&person).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to find person by %s: %w", what, err)
	}
	return &person, nil
}

// FindByEmailAndName matches email exactly and names case-insensitively.
func (r *GormPersonRepository) FindByEmailAndName(email, firstName, lastName string) (*models.Person, error) {
	q := r.published().
		Where("email = ?", utils.NormalizeEmail(email)).
		Where("LOWER(first_name) = ?", strings.ToLower(strings.TrimSpace(firstName))).
		Where("LOWER(last_name) = ?", strings.ToLower(strings.TrimSpace(lastName)))
	return r.first(q, "email and name")
}

func (r *GormPersonRepository) FindPrimaryByEmail(email string, excludeID uint) (*models.Person, error) {
	q := r.published().
		Where("email = ?", utils.NormalizeEmail(email)).
		Where("is_primary = ?", true)
	if excludeID != 0 {
		q = q.Where("id <> ?", excludeID)
	}
	return r.first(q, "primary email")
}

func (r *GormPersonRepository) FindAnyByEmail(email string) (*models.Person, error) {
	return r.first(r.published().Where("email = ?", utils.NormalizeEmail(email)), "email")
}

// FindByPhone returns people whose phone matches exactly or by trailing
// national number, primaries first.
func (r *GormPersonRepository) FindByPhone(phone string) ([]models.Person, error) {
	sqlDB, err := database.SQL(r.DB)
	if err != nil {
		return nil, err
	}
	ids, err := database.FindPersonIDsByPhone(sqlDB, phone)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []models.Person{}, nil
	}

	var people []models.Person
	if err := r.DB.Where("id IN ?", ids).Find(&people).Error; err != nil {
		return nil, fmt.Errorf("failed to load people by phone: %w", err)
	}
	// keep the primary-first order of the id query
	byID := make(map[uint]models.Person, len(people))
	for _, p := range people {
		byID[p.ID] = p
	}
	ordered := make([]models.Person, 0, len(ids))
	for _, id := range ids {
		if p, ok := byID[id]; ok {
			ordered = append(ordered, p)
		}
	}
	return ordered, nil
}

func (r *GormPersonRepository) FindByLinkedAccount(accountID uint) (*models.Person, error) {
	return r.first(r.DB.Model(&models.Person{}).Where("linked_account_id = ?", accountID), "linked account")
}

// UpdateFields writes only the given columns.
func (r *GormPersonRepository) UpdateFields(id uint, fields map[string]interface{}) error {
	if email, ok := fields["email"].(string); ok {
		fields["email"] = utils.NormalizeEmail(email)
	}
	if phone, ok := fields["phone"].(string); ok {
		if normalized := utils.NormalizePhone(phone); normalized != "" {
			fields["phone"] = normalized
		} else {
			fields["phone"] = nil
		}
	}
	fields["updated_at"] = time.Now()

	result := r.DB.Model(&models.Person{ID: id}).Updates(fields)
	if result.Error != nil {
		return fmt.Errorf("failed to update person ID %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// SetPrimary writes the primary flag and back-reference together.
func (r *GormPersonRepository) SetPrimary(id uint, isPrimary bool, actualPrimaryID *uint) error {
	if isPrimary {
		actualPrimaryID = nil
	}
	return r.UpdateFields(id, map[string]interface{}{
		"is_primary":        isPrimary,
		"actual_primary_id": actualPrimaryID,
	})
}

// AppendSyncLog appends one entry to the bounded sync log.
func (r *GormPersonRepository) AppendSyncLog(id uint, entry models.SyncLogEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	return r.DB.Transaction(func(tx *gorm.DB) error {
		var person models.Person
		if err := tx.Select("id", "sync_log").First(&person, id).Error; err != nil {
			return err
		}
		person.SyncLog = models.AppendSyncLog(person.SyncLog, entry)
		return tx.Model(&models.Person{ID: id}).Select("sync_log").Updates(&models.Person{SyncLog: person.SyncLog}).Error
	})
}

// Trash unpublishes a person and severs any account link in both directions.
func (r *GormPersonRepository) Trash(id uint) error {
	return r.DB.Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.Person{ID: id}).Updates(map[string]interface{}{
			"record_status":     models.RecordTrashed,
			"is_primary":        false,
			"actual_primary_id": nil,
			"linked_account_id": nil,
			"updated_at":        time.Now(),
		})
		if result.Error != nil {
			return fmt.Errorf("failed to trash person ID %d: %w", id, result.Error)
		}
		if result.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return tx.Model(&models.Account{}).Where("person_id = ?", id).Update("person_id", nil).Error
	})
}

func (r *GormPersonRepository) ListInconsistentEmails() ([]string, error) {
	sqlDB, err := database.SQL(r.DB)
	if err != nil {
		return nil, err
	}
	return database.ListInconsistentEmails(sqlDB)
}
