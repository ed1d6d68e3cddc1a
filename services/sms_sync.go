package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ausocean/utils/logging"

	"github.com/camden-git/membersync/config"
	"github.com/camden-git/membersync/models"
	"github.com/camden-git/membersync/realtime"
	"github.com/camden-git/membersync/repository"
	"github.com/camden-git/membersync/smsplatform"
	"github.com/camden-git/membersync/utils"
)

// SMSPlatform is the subset of the SMS platform API the sync uses.
type SMSPlatform interface {
	FindContactsByPhone(ctx context.Context, phone string) ([]smsplatform.Contact, error)
	FindContactsByEmail(ctx context.Context, email string) ([]smsplatform.Contact, error)
	CreateContact(ctx context.Context, in smsplatform.ContactInput) (*smsplatform.Contact, error)
	UpdateContact(ctx context.Context, id smsplatform.ID, in smsplatform.ContactInput) error
	TagContact(ctx context.Context, id smsplatform.ID, tags []string) error
	ListDNCLists(ctx context.Context) ([]smsplatform.DNCList, error)
	CreateDNCList(ctx context.Context, name string) (*smsplatform.DNCList, error)
	FindDNCEntries(ctx context.Context, phone string) ([]smsplatform.DNCEntry, error)
	AddToDNC(ctx context.Context, listID smsplatform.ID, phone string, category int) error
	RemoveDNCEntry(ctx context.Context, id smsplatform.ID) error
}

// SMSSync keeps SMS contacts, tags and the Do-Not-Contact list in line with
// local consent. Contacts and phone numbers are never deleted remotely.
type SMSSync struct {
	people repository.PersonRepository
	cfg    config.Provider
	client SMSPlatform
	log    logging.Logger
	rec    *recorder
	now    func() time.Time

	mu        sync.Mutex
	dncListID smsplatform.ID // resolved by name when no id is configured
}

func NewSMSSync(people repository.PersonRepository, cfg config.Provider, client SMSPlatform, log logging.Logger, events EventSink) *SMSSync {
	if events == nil {
		events = NopSink
	}
	s := &SMSSync{people: people, cfg: cfg, client: client, log: log, now: time.Now}
	s.rec = &recorder{people: people, log: log, events: events, now: func() time.Time { return s.now() }}
	return s
}

// SyncSMSStatus applies a consent decision for a phone. Opting in upserts and
// tags the contact, then takes the phone off the DNC list on a best-effort
// basis. Opting out puts the phone on the DNC list as texting-only.
func (s *SMSSync) SyncSMSStatus(ctx context.Context, phone, firstName, lastName, email string, optedIn bool, extraTags []string) SyncResult {
	res := s.syncStatus(ctx, phone, firstName, lastName, email, optedIn, extraTags)
	s.rec.record(nil, models.ChannelSMS, realtime.TypeSync, res)
	return res
}

// SyncPersonSMS applies a stored person's consent and logs the outcome on
// the person. SMS is keyed by phone, so secondary records are synced too.
func (s *SMSSync) SyncPersonSMS(ctx context.Context, personID uint, extraTags []string) SyncResult {
	p, err := s.people.GetByID(personID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return skipped(personID, "person not found")
		}
		return failed(personID, err)
	}
	if !p.IsPublished() {
		return skipped(p.ID, "person is not published")
	}
	if p.PhoneNumber() == "" {
		return skipped(p.ID, "no phone")
	}

	res := s.syncStatus(ctx, p.PhoneNumber(), p.FirstName, p.LastName, p.Email, p.SMSOptedIn, extraTags)
	res.PersonID = p.ID
	s.rec.record(p, models.ChannelSMS, realtime.TypeSync, res)
	return res
}

func (s *SMSSync) syncStatus(ctx context.Context, phone, firstName, lastName, email string, optedIn bool, extraTags []string) SyncResult {
	if !s.cfg.SMSPlatform().Configured() {
		return skipped(0, "SMS platform not configured")
	}
	phone = utils.NormalizePhone(phone)
	if phone == "" {
		return failed(0, &ValidationError{Field: "phone", Message: "is required"})
	}

	if !optedIn {
		if err := s.addToDNC(ctx, phone); err != nil {
			return failed(0, err)
		}
		return synced(0, "phone added to DNC list")
	}

	contact, err := s.upsertContact(ctx, phone, firstName, lastName, email)
	if err != nil {
		return failed(0, fmt.Errorf("upsert contact: %w", err))
	}
	msgs := []string{fmt.Sprintf("contact %s upserted", contact.ID)}

	tags := unique(append(append([]string{}, s.cfg.Groups().SMSTags...), extraTags...))
	if len(tags) > 0 {
		if err := s.client.TagContact(ctx, contact.ID, tags); err != nil {
			return failed(0, fmt.Errorf("tag contact %s: %w", contact.ID, err))
		}
		msgs = append(msgs, fmt.Sprintf("%d tag(s) applied", len(tags)))
	}

	removed, err := s.removeFromDNC(ctx, phone)
	if err != nil {
		s.log.Warning("could not remove phone from DNC", "phone", phone, "error", err)
		msgs = append(msgs, "DNC removal failed: "+err.Error())
	} else if removed > 0 {
		msgs = append(msgs, "removed from DNC list")
	}
	return synced(0, strings.Join(msgs, "; "))
}

// upsertContact finds the contact by phone, then by email, and creates it
// when neither matches. A contact found by email gets the new phone.
func (s *SMSSync) upsertContact(ctx context.Context, phone, firstName, lastName, email string) (*smsplatform.Contact, error) {
	byPhone, err := s.client.FindContactsByPhone(ctx, phone)
	if err != nil {
		return nil, err
	}
	if len(byPhone) > 0 {
		c := byPhone[0]
		in := smsplatform.ContactInput{}
		if firstName != "" && firstName != c.FirstName {
			in.FirstName = firstName
		}
		if lastName != "" && lastName != c.LastName {
			in.LastName = lastName
		}
		if email != "" && !strings.EqualFold(email, c.Email) {
			in.Email = email
		}
		if in != (smsplatform.ContactInput{}) {
			if err := s.client.UpdateContact(ctx, c.ID, in); err != nil {
				return nil, err
			}
		}
		return &c, nil
	}

	if email != "" {
		byEmail, err := s.client.FindContactsByEmail(ctx, email)
		if err != nil {
			return nil, err
		}
		if len(byEmail) > 0 {
			c := byEmail[0]
			in := smsplatform.ContactInput{Phone: phone, FirstName: firstName, LastName: lastName}
			if err := s.client.UpdateContact(ctx, c.ID, in); err != nil {
				return nil, err
			}
			c.Phone = utils.RemotePhone(phone)
			return &c, nil
		}
	}

	return s.client.CreateContact(ctx, smsplatform.ContactInput{
		Phone:     phone,
		Email:     email,
		FirstName: firstName,
		LastName:  lastName,
	})
}

func (s *SMSSync) addToDNC(ctx context.Context, phone string) error {
	listID, err := s.dncList(ctx)
	if err != nil {
		return fmt.Errorf("resolve DNC list: %w", err)
	}
	listed, err := s.onDNCList(ctx, listID, phone)
	if err != nil {
		s.log.Warning("could not look up DNC entries", "phone", phone, "error", err)
	} else if listed {
		return nil
	}

	if err := s.client.AddToDNC(ctx, listID, phone, smsplatform.DNCCategoryTextOnly); err != nil {
		// duplicates come back as a 400 whose wording is not stable
		var apiErr *smsplatform.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusBadRequest {
			if listed, lookupErr := s.onDNCList(ctx, listID, phone); lookupErr == nil && listed {
				return nil
			}
		}
		return fmt.Errorf("add to DNC list: %w", err)
	}
	return nil
}

// onDNCList reports whether phone already has an entry on the given list.
func (s *SMSSync) onDNCList(ctx context.Context, listID smsplatform.ID, phone string) (bool, error) {
	entries, err := s.client.FindDNCEntries(ctx, phone)
	if err != nil {
		return false, err
	}
	for _, e := range entries {
		if e.List == listID {
			return true, nil
		}
	}
	return false, nil
}

func (s *SMSSync) removeFromDNC(ctx context.Context, phone string) (int, error) {
	entries, err := s.client.FindDNCEntries(ctx, phone)
	if err != nil {
		return 0, err
	}
	var errs []error
	removed := 0
	for _, e := range entries {
		if err := s.client.RemoveDNCEntry(ctx, e.ID); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}

// dncList returns the configured DNC list, or finds or creates one by name.
func (s *SMSSync) dncList(ctx context.Context) (smsplatform.ID, error) {
	settings := s.cfg.SMSPlatform()
	if settings.DNCListID != "" {
		return smsplatform.ID(settings.DNCListID), nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dncListID != "" {
		return s.dncListID, nil
	}

	name := settings.DNCListName
	if name == "" {
		name = config.DefaultDNCListName
	}
	lists, err := s.client.ListDNCLists(ctx)
	if err != nil {
		return "", err
	}
	for _, l := range lists {
		if strings.EqualFold(strings.TrimSpace(l.Name), name) {
			s.dncListID = l.ID
			return l.ID, nil
		}
	}

	created, err := s.client.CreateDNCList(ctx, name)
	if err != nil {
		return "", err
	}
	s.log.Info("created DNC list", "name", name, "id", created.ID)
	s.dncListID = created.ID
	return created.ID, nil
}

// FindAllContactsByPhone returns every remote contact for a phone, for
// duplicate reports.
func (s *SMSSync) FindAllContactsByPhone(ctx context.Context, phone string) ([]smsplatform.Contact, error) {
	if !s.cfg.SMSPlatform().Configured() {
		return nil, &NotConfiguredError{What: "SMS platform"}
	}
	if utils.NormalizePhone(phone) == "" {
		return nil, &ValidationError{Field: "phone", Message: "is required"}
	}
	return s.client.FindContactsByPhone(ctx, phone)
}

// FindContactEmail returns the email of the first remote contact for phone
// that has one.
func (s *SMSSync) FindContactEmail(ctx context.Context, phone string) (string, error) {
	contacts, err := s.FindAllContactsByPhone(ctx, phone)
	if err != nil {
		return "", err
	}
	for _, c := range contacts {
		if email := utils.NormalizeEmail(c.Email); email != "" {
			return email, nil
		}
	}
	return "", nil
}
