package repository

import (
	"testing"

	"github.com/ausocean/utils/logging"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/camden-git/membersync/database"
	"github.com/camden-git/membersync/models"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.Open("file:"+uuid.NewString()+"?mode=memory&cache=shared", logger.Silent, (*logging.TestLogger)(t))
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

func strPtr(s string) *string { return &s }

func TestPersonCreateNormalizes(t *testing.T) {
	repo := NewPersonRepository(newTestDB(t))

	p := &models.Person{Email: "  Jane@Example.COM ", FirstName: "Jane", Phone: strPtr("(555) 123-4567")}
	require.NoError(t, repo.Create(p))
	require.NotZero(t, p.ID)

	got, err := repo.GetByID(p.ID)
	require.NoError(t, err)
	assert.Equal(t, "jane@example.com", got.Email)
	assert.Equal(t, "+15551234567", got.PhoneNumber())
	assert.Equal(t, models.RecordPublished, got.RecordStatus)
	assert.Equal(t, "none", got.MembershipStatus)

	_, err = repo.GetByID(9999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPersonEmailLookups(t *testing.T) {
	repo := NewPersonRepository(newTestDB(t))

	a := &models.Person{Email: "x@example.com", FirstName: "Ann", LastName: "Lee"}
	b := &models.Person{Email: "x@example.com", FirstName: "Bob", LastName: "Lee", IsPrimary: true}
	c := &models.Person{Email: "x@example.com", FirstName: "Cat", LastName: "Lee", RecordStatus: models.RecordTrashed}
	for _, p := range []*models.Person{a, b, c} {
		require.NoError(t, repo.Create(p))
	}

	list, err := repo.ListByEmail("X@example.com")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, a.ID, list[0].ID)
	assert.Equal(t, b.ID, list[1].ID)

	found, err := repo.FindByEmailAndName("x@example.com", "ann", "LEE")
	require.NoError(t, err)
	assert.Equal(t, a.ID, found.ID)

	_, err = repo.FindByEmailAndName("x@example.com", "Cat", "Lee")
	assert.ErrorIs(t, err, ErrNotFound)

	primary, err := repo.FindPrimaryByEmail("x@example.com", 0)
	require.NoError(t, err)
	assert.Equal(t, b.ID, primary.ID)

	_, err = repo.FindPrimaryByEmail("x@example.com", b.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	anyHolder, err := repo.FindAnyByEmail("x@example.com")
	require.NoError(t, err)
	assert.Equal(t, a.ID, anyHolder.ID)

	empty, err := repo.ListByEmail("")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestPersonUpdateFieldsAndPrimary(t *testing.T) {
	repo := NewPersonRepository(newTestDB(t))

	p := &models.Person{Email: "p@example.com", FirstName: "Pat"}
	require.NoError(t, repo.Create(p))

	require.NoError(t, repo.UpdateFields(p.ID, map[string]interface{}{
		"membership_status": "active",
		"phone":             "555.987.6543",
	}))
	owner := uint(42)
	require.NoError(t, repo.SetPrimary(p.ID, false, &owner))

	got, err := repo.GetByID(p.ID)
	require.NoError(t, err)
	assert.Equal(t, "active", got.MembershipStatus)
	assert.Equal(t, "+15559876543", got.PhoneNumber())
	assert.Equal(t, "Pat", got.FirstName)
	assert.False(t, got.IsPrimary)
	require.NotNil(t, got.ActualPrimaryID)
	assert.Equal(t, owner, *got.ActualPrimaryID)

	require.NoError(t, repo.SetPrimary(p.ID, true, &owner))
	got, err = repo.GetByID(p.ID)
	require.NoError(t, err)
	assert.True(t, got.IsPrimary)
	assert.Nil(t, got.ActualPrimaryID)

	assert.ErrorIs(t, repo.UpdateFields(9999, map[string]interface{}{"city": "x"}), ErrNotFound)
}

func TestPersonAppendSyncLog(t *testing.T) {
	repo := NewPersonRepository(newTestDB(t))

	p := &models.Person{Email: "log@example.com"}
	require.NoError(t, repo.Create(p))

	for i := 0; i < models.MaxSyncLogEntries+3; i++ {
		require.NoError(t, repo.AppendSyncLog(p.ID, models.SyncLogEntry{
			Channel: models.ChannelEmail,
			Success: true,
			Message: "ok",
		}))
	}

	got, err := repo.GetByID(p.ID)
	require.NoError(t, err)
	assert.Len(t, got.SyncLog, models.MaxSyncLogEntries)
	assert.False(t, got.SyncLog[0].Timestamp.IsZero())
}

func TestPersonFindByPhone(t *testing.T) {
	repo := NewPersonRepository(newTestDB(t))

	secondary := &models.Person{Email: "a@example.com", Phone: strPtr("5551234567")}
	primary := &models.Person{Email: "b@example.com", Phone: strPtr("+1 555 123 4567"), IsPrimary: true}
	other := &models.Person{Email: "c@example.com", Phone: strPtr("5550000000")}
	for _, p := range []*models.Person{secondary, primary, other} {
		require.NoError(t, repo.Create(p))
	}

	people, err := repo.FindByPhone("15551234567")
	require.NoError(t, err)
	require.Len(t, people, 2)
	assert.Equal(t, primary.ID, people[0].ID)
	assert.Equal(t, secondary.ID, people[1].ID)

	none, err := repo.FindByPhone("")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestPersonFindByShortPhone(t *testing.T) {
	repo := NewPersonRepository(newTestDB(t))

	a := &models.Person{Email: "a@example.com", Phone: strPtr("+15551234565")}
	b := &models.Person{Email: "b@example.com", Phone: strPtr("+15559876545")}
	short := &models.Person{Email: "s@example.com", Phone: strPtr("45")}
	for _, p := range []*models.Person{a, b, short} {
		require.NoError(t, repo.Create(p))
	}

	// a short code only ever matches the identical stored number
	people, err := repo.FindByPhone("45")
	require.NoError(t, err)
	require.Len(t, people, 1)
	assert.Equal(t, short.ID, people[0].ID)

	people, err = repo.FindByPhone("6545")
	require.NoError(t, err)
	assert.Empty(t, people)
}

func TestListInconsistentEmails(t *testing.T) {
	repo := NewPersonRepository(newTestDB(t))

	people := []*models.Person{
		{Email: "ok@example.com", IsPrimary: true},
		{Email: "dup@example.com", IsPrimary: true},
		{Email: "dup@example.com"},
		{Email: "noprimary@example.com"},
		{Email: "trashed@example.com", RecordStatus: models.RecordTrashed},
		{Email: ""},
	}
	for _, p := range people {
		require.NoError(t, repo.Create(p))
	}

	emails, err := repo.ListInconsistentEmails()
	require.NoError(t, err)
	assert.Equal(t, []string{"dup@example.com", "noprimary@example.com"}, emails)
}

func TestTrashSeversAccountLink(t *testing.T) {
	db := newTestDB(t)
	people := NewPersonRepository(db)
	accounts := NewGormAccountRepository(db)

	p := &models.Person{Email: "t@example.com", IsPrimary: true}
	require.NoError(t, people.Create(p))
	acct := &models.Account{Email: "t@example.com"}
	require.NoError(t, accounts.Create(acct))
	require.NoError(t, accounts.Link(acct.ID, p.ID))

	linked, err := people.FindByLinkedAccount(acct.ID)
	require.NoError(t, err)
	assert.Equal(t, p.ID, linked.ID)

	require.NoError(t, people.Trash(p.ID))

	got, err := people.GetByID(p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RecordTrashed, got.RecordStatus)
	assert.False(t, got.IsPrimary)
	assert.Nil(t, got.LinkedAccountID)

	a, err := accounts.GetByID(acct.ID)
	require.NoError(t, err)
	assert.Nil(t, a.PersonID)

	_, err = people.FindAnyByEmail("t@example.com")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAccountLink(t *testing.T) {
	db := newTestDB(t)
	people := NewPersonRepository(db)
	accounts := NewGormAccountRepository(db)

	p1 := &models.Person{Email: "one@example.com"}
	p2 := &models.Person{Email: "two@example.com"}
	require.NoError(t, people.Create(p1))
	require.NoError(t, people.Create(p2))

	acct := &models.Account{Email: "One@Example.com"}
	require.NoError(t, accounts.Create(acct))
	assert.Equal(t, "one@example.com", acct.Username)
	assert.NotEmpty(t, acct.PasswordHash)

	byEmail, err := accounts.GetByEmail("ONE@example.com")
	require.NoError(t, err)
	assert.Equal(t, acct.ID, byEmail.ID)

	require.NoError(t, accounts.Link(acct.ID, p1.ID))
	require.NoError(t, accounts.Link(acct.ID, p1.ID))
	assert.ErrorIs(t, accounts.Link(acct.ID, p2.ID), ErrAlreadyLinked)

	got, err := people.GetByID(p1.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LinkedAccountID)
	assert.Equal(t, acct.ID, *got.LinkedAccountID)

	_, err = accounts.GetByEmail("nobody@example.com")
	assert.ErrorIs(t, err, ErrNotFound)
}
