package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ausocean/utils/logging"

	"github.com/camden-git/membersync/membership"
	"github.com/camden-git/membersync/models"
	"github.com/camden-git/membersync/repository"
	"github.com/camden-git/membersync/utils"
)

// Resolution tiers, in the order they are tried.
const (
	TierExactName = 1
	TierPrimary   = 2
	TierAnyEmail  = 3
	TierCreated   = 4
)

// Contact is the identifying part of an inbound record.
type Contact struct {
	Email     string
	FirstName string
	LastName  string
	Phone     string
	Addr1     string
	City      string
	State     string
	Zip       string
	Country   string
}

// DonationEvent is a dues payment normalized from the donation webhook.
type DonationEvent struct {
	Contact
	FormID     string
	Recurring  bool
	LineItemID string
	Channel    string
}

// Resolution is the person a contact resolved to.
type Resolution struct {
	Person  *models.Person
	Tier    int
	Created bool
}

// Resolver finds or creates the person an inbound contact belongs to and
// keeps the email's primary assignment consistent afterwards.
type Resolver struct {
	people     repository.PersonRepository
	accounts   repository.AccountRepository
	reconciler *Reconciler
	log        logging.Logger

	// provision creates an external account for new donors.
	provision bool
	now       func() time.Time
}

func NewResolver(people repository.PersonRepository, accounts repository.AccountRepository, reconciler *Reconciler, log logging.Logger, provisionAccounts bool) *Resolver {
	return &Resolver{
		people:     people,
		accounts:   accounts,
		reconciler: reconciler,
		log:        log,
		provision:  provisionAccounts,
		now:        time.Now,
	}
}

// Find applies the lookup tiers and returns the first hit. A nil person with
// a nil error means the contact is new.
func (r *Resolver) Find(email, firstName, lastName string) (*models.Person, int, error) {
	email = utils.NormalizeEmail(email)
	if email == "" {
		return nil, 0, &ValidationError{Field: "email", Message: "is required"}
	}

	lookups := []struct {
		tier int
		find func() (*models.Person, error)
	}{
		{TierExactName, func() (*models.Person, error) { return r.people.FindByEmailAndName(email, firstName, lastName) }},
		{TierPrimary, func() (*models.Person, error) { return r.people.FindPrimaryByEmail(email, 0) }},
		{TierAnyEmail, func() (*models.Person, error) { return r.people.FindAnyByEmail(email) }},
	}
	for _, l := range lookups {
		p, err := l.find()
		if err == nil {
			return p, l.tier, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, 0, err
		}
	}
	return nil, 0, nil
}

// ApplyDonation records a dues payment on the resolved person, creating one
// when no tier matches.
func (r *Resolver) ApplyDonation(ctx context.Context, ev DonationEvent) (Resolution, error) {
	existing, tier, err := r.Find(ev.Email, ev.FirstName, ev.LastName)
	if err != nil {
		return Resolution{}, err
	}
	if existing == nil {
		return r.createDonor(ctx, ev)
	}

	today := r.today()
	current := membership.StatusAt(membership.Parse(existing.MembershipStatus), existing.EndDate, r.now())
	next := membership.Apply(current, membership.EventDuesPaid)

	fields := map[string]interface{}{
		"membership_status": string(next.To),
		"membership_type":   "paid",
		"dues_paid_via":     ev.Channel,
		"end_date":          today.AddDate(1, 0, 0),
		"is_sustaining":     ev.Recurring,
	}
	if existing.StartDate == nil {
		fields["start_date"] = today
	}
	if ev.LineItemID != "" {
		fields["last_line_item_id"] = ev.LineItemID
	}
	mergeContact(fields, ev.Contact)

	if err := r.people.UpdateFields(existing.ID, fields); err != nil {
		return Resolution{}, fmt.Errorf("failed to apply donation to person %d: %w", existing.ID, err)
	}

	// lazy backfill for records that predate primary tracking
	if !existing.IsPrimary {
		if _, err := r.people.FindPrimaryByEmail(existing.Email, existing.ID); errors.Is(err, repository.ErrNotFound) {
			if err := r.people.SetPrimary(existing.ID, true, nil); err != nil {
				return Resolution{}, fmt.Errorf("failed to promote person %d: %w", existing.ID, err)
			}
		} else if err != nil {
			return Resolution{}, err
		}
	}

	return r.finish(ctx, existing.ID, tier, false)
}

// FindOrCreate resolves a contact without touching membership. Supplied
// phone and address values overwrite stored ones.
func (r *Resolver) FindOrCreate(ctx context.Context, c Contact) (Resolution, error) {
	existing, tier, err := r.Find(c.Email, c.FirstName, c.LastName)
	if err != nil {
		return Resolution{}, err
	}
	if existing != nil {
		fields := map[string]interface{}{}
		mergeContact(fields, c)
		if existing.FirstName == "" && c.FirstName != "" {
			fields["first_name"] = strings.TrimSpace(c.FirstName)
		}
		if existing.LastName == "" && c.LastName != "" {
			fields["last_name"] = strings.TrimSpace(c.LastName)
		}
		if len(fields) > 0 {
			if err := r.people.UpdateFields(existing.ID, fields); err != nil {
				return Resolution{}, fmt.Errorf("failed to update person %d: %w", existing.ID, err)
			}
		}
		return r.finish(ctx, existing.ID, tier, false)
	}

	p := newPerson(c)
	if err := r.decidePrimary(p); err != nil {
		return Resolution{}, err
	}
	if err := r.people.Create(p); err != nil {
		return Resolution{}, err
	}
	r.log.Info("created person", "id", p.ID, "email", p.Email, "primary", p.IsPrimary)
	return r.finish(ctx, p.ID, TierCreated, true)
}

func (r *Resolver) createDonor(ctx context.Context, ev DonationEvent) (Resolution, error) {
	today := r.today()
	end := today.AddDate(1, 0, 0)

	p := newPerson(ev.Contact)
	p.MembershipStatus = string(membership.Apply(membership.StatusNone, membership.EventDuesPaid).To)
	p.MembershipType = "paid"
	p.DuesPaidVia = ev.Channel
	p.StartDate = &today
	p.EndDate = &end
	p.IsSustaining = ev.Recurring
	p.LastLineItemID = ev.LineItemID

	// decided before insert so two records are never both primary
	if err := r.decidePrimary(p); err != nil {
		return Resolution{}, err
	}
	if err := r.people.Create(p); err != nil {
		return Resolution{}, err
	}
	r.log.Info("created donor", "id", p.ID, "email", p.Email, "primary", p.IsPrimary)

	if r.provision {
		r.provisionAccount(p)
	}
	return r.finish(ctx, p.ID, TierCreated, true)
}

func (r *Resolver) decidePrimary(p *models.Person) error {
	primary, err := r.people.FindPrimaryByEmail(p.Email, 0)
	switch {
	case err == nil:
		id := primary.ID
		p.IsPrimary = false
		p.ActualPrimaryID = &id
	case errors.Is(err, repository.ErrNotFound):
		p.IsPrimary = true
		p.ActualPrimaryID = nil
	default:
		return err
	}
	return nil
}

// provisionAccount links p to the account for its email, creating one when
// needed. An account already linked elsewhere is left alone.
func (r *Resolver) provisionAccount(p *models.Person) {
	account, err := r.accounts.GetByEmail(p.Email)
	if errors.Is(err, repository.ErrNotFound) {
		account = &models.Account{Email: p.Email, Username: p.Email}
		if err := r.accounts.Create(account); err != nil {
			r.log.Warning("could not provision account", "person", p.ID, "error", err)
			return
		}
	} else if err != nil {
		r.log.Warning("could not look up account", "person", p.ID, "error", err)
		return
	}

	if err := r.accounts.Link(account.ID, p.ID); err != nil {
		if errors.Is(err, repository.ErrAlreadyLinked) {
			r.log.Info("account already linked to another person", "account", account.ID, "person", p.ID)
			return
		}
		r.log.Warning("could not link account", "account", account.ID, "person", p.ID, "error", err)
	}
}

func (r *Resolver) finish(ctx context.Context, id uint, tier int, created bool) (Resolution, error) {
	p, err := r.people.GetByID(id)
	if err != nil {
		return Resolution{}, err
	}
	if err := r.reconciler.Reconcile(ctx, p.Email); err != nil {
		return Resolution{}, err
	}
	// reconciliation may have moved the primary flag
	p, err = r.people.GetByID(id)
	if err != nil {
		return Resolution{}, err
	}
	return Resolution{Person: p, Tier: tier, Created: created}, nil
}

func (r *Resolver) today() time.Time {
	y, m, d := r.now().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func newPerson(c Contact) *models.Person {
	p := &models.Person{
		Email:     c.Email,
		FirstName: strings.TrimSpace(c.FirstName),
		LastName:  strings.TrimSpace(c.LastName),
		Addr1:     c.Addr1,
		City:      c.City,
		State:     c.State,
		Zip:       c.Zip,
		Country:   c.Country,
	}
	if phone := utils.NormalizePhone(c.Phone); phone != "" {
		p.Phone = &phone
	}
	return p
}

// mergeContact overwrites stored contact details with supplied ones.
func mergeContact(fields map[string]interface{}, c Contact) {
	if utils.NormalizePhone(c.Phone) != "" {
		fields["phone"] = c.Phone
	}
	for col, v := range map[string]string{
		"addr1":   c.Addr1,
		"city":    c.City,
		"state":   c.State,
		"zip":     c.Zip,
		"country": c.Country,
	} {
		if v = strings.TrimSpace(v); v != "" {
			fields[col] = v
		}
	}
}
