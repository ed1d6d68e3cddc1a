package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ausocean/utils/logging"

	"github.com/camden-git/membersync/config"
	"github.com/camden-git/membersync/models"
	"github.com/camden-git/membersync/realtime"
	"github.com/camden-git/membersync/repository"
	"github.com/camden-git/membersync/utils"
)

// flexString decodes JSON strings and numbers alike.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		*f = ""
		return nil
	}
	*f = flexString(strings.Trim(s, `"`))
	return nil
}

// DonationPayload is the donation platform's webhook body.
type DonationPayload struct {
	Donor struct {
		Email     string `json:"email"`
		FirstName string `json:"firstname"`
		LastName  string `json:"lastname"`
		Phone     string `json:"phone"`
		Addr1     string `json:"addr1"`
		City      string `json:"city"`
		State     string `json:"state"`
		Zip       string `json:"zip"`
		Country   string `json:"country"`
	} `json:"donor"`
	Contribution struct {
		ContributionForm string `json:"contributionForm"`
		RecurringPeriod  string `json:"recurringPeriod"`
	} `json:"contribution"`
	LineItems []struct {
		LineItemID flexString `json:"lineitemId"`
	} `json:"lineitems"`
}

// IngestResult is the webhook answer. Message is informational only.
type IngestResult struct {
	Success  bool   `json:"success"`
	Message  string `json:"message"`
	PersonID uint   `json:"person_id,omitempty"`
	Ignored  bool   `json:"-"`
}

// DonationService turns dues payments into person records and pushes the
// result to the email platform.
type DonationService struct {
	cfg      config.Provider
	people   repository.PersonRepository
	resolver *Resolver
	email    *EmailSync
	log      logging.Logger
	events   EventSink
}

func NewDonationService(cfg config.Provider, people repository.PersonRepository, resolver *Resolver, email *EmailSync, log logging.Logger, events EventSink) *DonationService {
	if events == nil {
		events = NopSink
	}
	return &DonationService{cfg: cfg, people: people, resolver: resolver, email: email, log: log, events: events}
}

// Authenticate checks HTTP Basic credentials against the configured shared
// secrets. Unconfigured secrets reject everything.
func (s *DonationService) Authenticate(username, password string, ok bool) error {
	hook := s.cfg.DonationWebhook()
	if !hook.Configured() {
		return &AuthenticationError{Reason: "webhook credentials are not configured"}
	}
	if !ok {
		return &AuthenticationError{Reason: "missing credentials"}
	}
	if username != hook.Username || password != hook.Password {
		return &AuthenticationError{Reason: "invalid credentials"}
	}
	return nil
}

// Event normalizes a payload. It fails when the donor email is missing.
func (s *DonationService) Event(payload DonationPayload) (DonationEvent, error) {
	email := utils.NormalizeEmail(payload.Donor.Email)
	if email == "" {
		return DonationEvent{}, &ValidationError{Field: "donor.email", Message: "is required"}
	}

	ev := DonationEvent{
		Contact: Contact{
			Email:     email,
			FirstName: strings.TrimSpace(payload.Donor.FirstName),
			LastName:  strings.TrimSpace(payload.Donor.LastName),
			Phone:     payload.Donor.Phone,
			Addr1:     payload.Donor.Addr1,
			City:      payload.Donor.City,
			State:     payload.Donor.State,
			Zip:       payload.Donor.Zip,
			Country:   payload.Donor.Country,
		},
		FormID:    payload.Contribution.ContributionForm,
		Recurring: isRecurring(payload.Contribution.RecurringPeriod),
		Channel:   s.cfg.DonationWebhook().Channel,
	}
	if len(payload.LineItems) > 0 {
		ev.LineItemID = string(payload.LineItems[0].LineItemID)
	}
	return ev, nil
}

func isRecurring(period string) bool {
	switch strings.ToLower(strings.TrimSpace(period)) {
	case "", "once", "none", "one-time":
		return false
	}
	return true
}

// Ingest processes one dues payment: resolve the person, reconcile the
// email and, when the person is primary, push them to the email platform
// with automation enabled. A failed push is reported in the message but
// does not fail the ingest.
func (s *DonationService) Ingest(ctx context.Context, payload DonationPayload) (IngestResult, error) {
	hook := s.cfg.DonationWebhook()
	if payload.Contribution.ContributionForm != hook.DuesFormID {
		s.log.Debug("ignoring donation for another form", "form", payload.Contribution.ContributionForm)
		return IngestResult{
			Success: true,
			Ignored: true,
			Message: fmt.Sprintf("ignored: form %q is not the dues form", payload.Contribution.ContributionForm),
		}, nil
	}

	ev, err := s.Event(payload)
	if err != nil {
		return IngestResult{}, err
	}

	res, err := s.resolver.ApplyDonation(ctx, ev)
	if err != nil {
		return IngestResult{}, fmt.Errorf("failed to resolve donor %s: %w", ev.Email, err)
	}
	p := res.Person

	action := "updated"
	if res.Created {
		action = "created"
	}
	msg := fmt.Sprintf("%s person %d (tier %d)", action, p.ID, res.Tier)
	entry := models.SyncLogEntry{
		Timestamp: time.Now().UTC(),
		Channel:   models.ChannelDonation,
		Success:   true,
		Message:   fmt.Sprintf("dues payment via %s, line item %s", ev.Channel, ev.LineItemID),
	}
	if err := s.people.AppendSyncLog(p.ID, entry); err != nil {
		s.log.Error("could not append sync log", "person", p.ID, "error", err)
	}

	if p.IsPrimary {
		sync := s.email.SyncPerson(ctx, p.ID, true)
		msg += fmt.Sprintf("; email sync %s: %s", sync.Status, sync.Message)
	} else {
		msg += "; secondary record, email sync skipped"
	}

	s.log.Info("donation ingested", "person", p.ID, "email", ev.Email, "created", res.Created, "tier", res.Tier)
	s.events.Broadcast(realtime.Event{
		Type:      realtime.TypeDonation,
		PersonID:  p.ID,
		Email:     ev.Email,
		Channel:   models.ChannelDonation,
		Outcome:   action,
		Message:   msg,
		Timestamp: time.Now().Unix(),
	})
	return IngestResult{Success: true, Message: msg, PersonID: p.ID}, nil
}
