package services

import (
	"testing"
	"time"

	"github.com/ausocean/utils/logging"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/logger"

	"github.com/camden-git/membersync/config"
	"github.com/camden-git/membersync/database"
	"github.com/camden-git/membersync/emailplatform"
	"github.com/camden-git/membersync/models"
	"github.com/camden-git/membersync/repository"
	"github.com/camden-git/membersync/smsplatform"
)

var testNow = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	cfg      *config.Config
	people   *repository.GormPersonRepository
	accounts repository.AccountRepository

	emailFake *fakeEmailPlatform
	smsFake   *fakeSMSPlatform

	reconciler *Reconciler
	resolver   *Resolver
	email      *EmailSync
	sms        *SMSSync
	optout     *OptOutService
	donation   *DonationService
	self       *SelfService
	admin      *PeopleService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	log := (*logging.TestLogger)(t)

	db, err := database.Open("file:"+uuid.NewString()+"?mode=memory&cache=shared", logger.Silent, log)
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	emailFake, emailSrv := newFakeEmailPlatform(t)
	smsFake, smsSrv := newFakeSMSPlatform(t)

	cfg := &config.Config{
		WebhookUsername: "hook",
		WebhookPassword: "secret",
		DuesFormID:      "dues",
		DonationChannel: "actblue",
		EmailAPIToken:   "email-token",
		EmailAPIBaseURL: emailSrv.URL,
		SMSAPIToken:     "sms-token",
		SMSAPIBaseURL:   smsSrv.URL + "/v1",
		SMSAPIBaseURLV2: smsSrv.URL + "/v2",
		SMSDNCListName:  config.DefaultDNCListName,
		HTTPTimeout:     5 * time.Second,
		SyncWorkers:     3,
		Assignment: config.GroupAssignment{
			NewMember:    []string{"g-member"},
			NewVolunteer: []string{"g-vol"},
			EmailOptIn:   []string{"g-news", "g-events"},
			SMSOptIn:     []string{"g-sms"},
			SMSTags:      []string{"9001"},
		},
	}

	env := &testEnv{
		cfg:       cfg,
		people:    repository.NewPersonRepository(db),
		accounts:  repository.NewGormAccountRepository(db),
		emailFake: emailFake,
		smsFake:   smsFake,
	}

	emailClient := emailplatform.NewClient(cfg.EmailPlatform())
	smsClient := smsplatform.NewClient(cfg.SMSPlatform())
	catalog := emailplatform.NewGroupCatalog(emailClient, emailplatform.CatalogTTL)

	env.reconciler = NewReconciler(env.people, log, nil)
	env.resolver = NewResolver(env.people, env.accounts, env.reconciler, log, true)
	env.resolver.now = func() time.Time { return testNow }
	env.email = NewEmailSync(env.people, cfg, emailClient, catalog, log, nil, cfg.SyncWorkers)
	env.email.now = func() time.Time { return testNow }
	env.sms = NewSMSSync(env.people, cfg, smsClient, log, nil)
	env.optout = NewOptOutService(env.people, cfg, env.email, env.sms, log, nil)
	env.donation = NewDonationService(cfg, env.people, env.resolver, env.email, log, nil)
	env.self = NewSelfService(env.people, cfg, env.resolver, env.email, env.sms, log)
	env.admin = NewPeopleService(env.people, env.reconciler, log)
	return env
}

// seed creates people directly, bypassing resolution. Creation order is the
// slice order.
func (e *testEnv) seed(t *testing.T, people ...*models.Person) {
	t.Helper()
	for i, p := range people {
		if p.CreatedAt.IsZero() {
			p.CreatedAt = testNow.Add(time.Duration(i) * time.Minute)
		}
		require.NoError(t, e.people.Create(p))
	}
}

func (e *testEnv) get(t *testing.T, id uint) *models.Person {
	t.Helper()
	p, err := e.people.GetByID(id)
	require.NoError(t, err)
	return p
}

// assertSinglePrimary checks that exactly one published holder of email is
// primary and every other one points at it.
func (e *testEnv) assertSinglePrimary(t *testing.T, email string) uint {
	t.Helper()
	holders, err := e.people.ListByEmail(email)
	require.NoError(t, err)
	if len(holders) == 0 {
		return 0
	}

	var primary uint
	for _, p := range holders {
		if p.IsPrimary {
			require.Zero(t, primary, "more than one primary for %s", email)
			primary = p.ID
			require.Nil(t, p.ActualPrimaryID, "primary %d has a back-reference", p.ID)
		}
	}
	require.NotZero(t, primary, "no primary for %s", email)
	for _, p := range holders {
		if !p.IsPrimary {
			require.NotNil(t, p.ActualPrimaryID, "secondary %d has no back-reference", p.ID)
			require.Equal(t, primary, *p.ActualPrimaryID)
		}
	}
	return primary
}

func donationPayload(email, first, last string) DonationPayload {
	var p DonationPayload
	p.Donor.Email = email
	p.Donor.FirstName = first
	p.Donor.LastName = last
	p.Contribution.ContributionForm = "dues"
	return p
}

func strPtr(s string) *string { return &s }

func uintPtr(u uint) *uint { return &u }
