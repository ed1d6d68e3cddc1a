package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ausocean/utils/logging"

	"github.com/camden-git/membersync/config"
	"github.com/camden-git/membersync/models"
	"github.com/camden-git/membersync/repository"
	"github.com/camden-git/membersync/utils"
)

// FormRequest is a self-service form submission.
type FormRequest struct {
	Email      string
	FirstName  string
	LastName   string
	Phone      string
	Groups     []string
	SMSConsent bool
}

// FormResult is the answer to a form submission. Local changes stand even
// when a remote step is skipped or fails; Warnings lists those steps.
type FormResult struct {
	Success  bool     `json:"success"`
	Message  string   `json:"message"`
	PersonID uint     `json:"person_id,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// SelfService handles the opt-in, opt-out and preference forms.
type SelfService struct {
	people   repository.PersonRepository
	cfg      config.Provider
	resolver *Resolver
	email    *EmailSync
	sms      *SMSSync
	log      logging.Logger
	now      func() time.Time
}

func NewSelfService(people repository.PersonRepository, cfg config.Provider, resolver *Resolver, email *EmailSync, sms *SMSSync, log logging.Logger) *SelfService {
	return &SelfService{people: people, cfg: cfg, resolver: resolver, email: email, sms: sms, log: log, now: time.Now}
}

// OptIn records consent and subscribes the email to the requested opt-in
// groups, through the primary record for the email.
func (s *SelfService) OptIn(ctx context.Context, req FormRequest) (FormResult, error) {
	res, err := s.resolver.FindOrCreate(ctx, req.contact())
	if err != nil {
		return FormResult{}, err
	}
	p := res.Person
	var warnings []string

	if req.SMSConsent && p.PhoneNumber() != "" {
		err := s.people.UpdateFields(p.ID, map[string]interface{}{
			"sms_opted_in":       true,
			"sms_opt_out_date":   nil,
			"sms_opt_out_source": "",
		})
		if err != nil {
			return FormResult{}, fmt.Errorf("failed to store SMS consent: %w", err)
		}
	}
	s.appendLog(p.ID, "opt-in form submitted")

	primaryID, err := s.primaryFor(p)
	if err != nil {
		return FormResult{}, err
	}
	if sync := s.email.SyncPerson(ctx, primaryID, false); sync.Status != StatusSynced {
		warnings = append(warnings, "email sync "+string(sync.Status)+": "+sync.Message)
	}
	if add := intersect(req.Groups, s.cfg.Groups().EmailOptIn); len(add) > 0 {
		if err := s.email.UpdateGroups(ctx, p.Email, add, nil); err != nil {
			warnings = append(warnings, "group update: "+err.Error())
		}
	}

	if req.SMSConsent && p.PhoneNumber() != "" {
		if sync := s.sms.SyncPersonSMS(ctx, p.ID, nil); sync.Status != StatusSynced {
			warnings = append(warnings, "SMS sync "+string(sync.Status)+": "+sync.Message)
		}
	}

	return s.result(p.ID, "subscribed", warnings), nil
}

// OptOut removes the email from every opt-in group, withdraws SMS consent
// and puts any known phone on the DNC list. The email subscription itself
// is left alone.
func (s *SelfService) OptOut(ctx context.Context, req FormRequest) (FormResult, error) {
	p, _, err := s.resolver.Find(req.Email, req.FirstName, req.LastName)
	if err != nil {
		return FormResult{}, err
	}
	var warnings []string
	email := utils.NormalizeEmail(req.Email)
	phone := utils.NormalizePhone(req.Phone)

	var id uint
	if p != nil {
		id = p.ID
		if phone == "" {
			phone = p.PhoneNumber()
		}
		now := s.now().UTC()
		err := s.people.UpdateFields(p.ID, map[string]interface{}{
			"sms_opted_in":       false,
			"sms_opt_out_date":   now,
			"sms_opt_out_source": models.ChannelSelfServe,
		})
		if err != nil {
			return FormResult{}, fmt.Errorf("failed to store opt-out: %w", err)
		}
		s.appendLog(p.ID, "opt-out form submitted")
	}

	groups := s.cfg.Groups()
	all := append(append([]string{}, groups.EmailOptIn...), groups.SMSOptIn...)
	if len(all) > 0 {
		if err := s.email.UpdateGroups(ctx, email, nil, all); err != nil {
			warnings = append(warnings, "group removal: "+err.Error())
		}
	}

	if phone != "" {
		if sync := s.sms.SyncSMSStatus(ctx, phone, req.FirstName, req.LastName, email, false, nil); sync.Status != StatusSynced {
			warnings = append(warnings, "SMS opt-out "+string(sync.Status)+": "+sync.Message)
		}
	}

	return s.result(id, "unsubscribed", warnings), nil
}

// UpdatePreferences makes the email's opt-in group memberships match the
// request exactly, and applies the SMS consent choice.
func (s *SelfService) UpdatePreferences(ctx context.Context, req FormRequest) (FormResult, error) {
	res, err := s.resolver.FindOrCreate(ctx, req.contact())
	if err != nil {
		return FormResult{}, err
	}
	p := res.Person
	var warnings []string

	optIn := s.cfg.Groups().EmailOptIn
	add := intersect(req.Groups, optIn)
	remove := subtract(optIn, add)
	if err := s.email.UpdateGroups(ctx, p.Email, add, remove); err != nil {
		warnings = append(warnings, "group update: "+err.Error())
	}

	if p.PhoneNumber() != "" && req.SMSConsent != p.SMSOptedIn {
		fields := map[string]interface{}{"sms_opted_in": req.SMSConsent}
		if req.SMSConsent {
			fields["sms_opt_out_date"] = nil
			fields["sms_opt_out_source"] = ""
		} else {
			fields["sms_opt_out_date"] = s.now().UTC()
			fields["sms_opt_out_source"] = models.ChannelSelfServe
		}
		if err := s.people.UpdateFields(p.ID, fields); err != nil {
			return FormResult{}, fmt.Errorf("failed to store SMS consent: %w", err)
		}
		if sync := s.sms.SyncPersonSMS(ctx, p.ID, nil); sync.Status != StatusSynced {
			warnings = append(warnings, "SMS sync "+string(sync.Status)+": "+sync.Message)
		}
	}
	s.appendLog(p.ID, "preferences updated")

	return s.result(p.ID, "preferences saved", warnings), nil
}

func (s *SelfService) primaryFor(p *models.Person) (uint, error) {
	if p.IsPrimary {
		return p.ID, nil
	}
	primary, err := s.people.FindPrimaryByEmail(p.Email, 0)
	if errors.Is(err, repository.ErrNotFound) {
		return p.ID, nil
	}
	if err != nil {
		return 0, err
	}
	return primary.ID, nil
}

func (s *SelfService) appendLog(id uint, msg string) {
	entry := models.SyncLogEntry{Timestamp: s.now().UTC(), Channel: models.ChannelSelfServe, Success: true, Message: msg}
	if err := s.people.AppendSyncLog(id, entry); err != nil {
		s.log.Error("could not append sync log", "person", id, "error", err)
	}
}

func (s *SelfService) result(id uint, msg string, warnings []string) FormResult {
	if len(warnings) > 0 {
		s.log.Warning("form processed with warnings", "person", id, "warnings", strings.Join(warnings, "; "))
	}
	return FormResult{Success: true, Message: msg, PersonID: id, Warnings: warnings}
}

func (r FormRequest) contact() Contact {
	return Contact{Email: r.Email, FirstName: r.FirstName, LastName: r.LastName, Phone: r.Phone}
}
