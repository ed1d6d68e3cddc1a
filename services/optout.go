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

var stopKeywords = map[string]bool{
	"STOP":        true,
	"STOPALL":     true,
	"UNSUBSCRIBE": true,
	"CANCEL":      true,
	"END":         true,
	"QUIT":        true,
}

// StopPayload is the inbound SMS provider webhook body.
type StopPayload struct {
	Data struct {
		FromNumber string `json:"from_number"`
		Content    string `json:"content"`
		Campaign   string `json:"campaign,omitempty"`
		FromName   string `json:"from_name,omitempty"`
	} `json:"data"`
}

// StopResult is the webhook answer. Success is false when any step failed;
// the steps that worked are kept.
type StopResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// OptOutService handles inbound STOP messages.
type OptOutService struct {
	people repository.PersonRepository
	cfg    config.Provider
	email  *EmailSync
	sms    *SMSSync
	log    logging.Logger
	events EventSink
	now    func() time.Time
}

func NewOptOutService(people repository.PersonRepository, cfg config.Provider, email *EmailSync, sms *SMSSync, log logging.Logger, events EventSink) *OptOutService {
	if events == nil {
		events = NopSink
	}
	return &OptOutService{people: people, cfg: cfg, email: email, sms: sms, log: log, events: events, now: time.Now}
}

// ProcessStopWebhook applies an opt-out keyword. Three independent steps run
// regardless of each other: local people matching the phone are marked opted
// out, their email leaves the SMS opt-in groups, and the phone goes on the
// DNC list.
func (s *OptOutService) ProcessStopWebhook(ctx context.Context, payload StopPayload) (StopResult, error) {
	phone := utils.NormalizePhone(payload.Data.FromNumber)
	if phone == "" {
		return StopResult{}, &ValidationError{Field: "from_number", Message: "is required"}
	}

	keyword := strings.ToUpper(strings.TrimSpace(payload.Data.Content))
	if !stopKeywords[keyword] {
		return StopResult{Success: true, Message: "not an opt-out keyword, ignored"}, nil
	}

	var done, failures []string
	source := "sms_keyword:" + keyword

	// 1. local consent
	people, err := s.people.FindByPhone(phone)
	if err != nil {
		failures = append(failures, "local lookup failed: "+err.Error())
	}
	var emails []string
	for _, p := range people {
		if err := s.markOptedOut(&p, source); err != nil {
			failures = append(failures, fmt.Sprintf("person %d: %v", p.ID, err))
			continue
		}
		if p.Email != "" {
			emails = append(emails, p.Email)
		}
	}
	if len(people) > 0 {
		done = append(done, fmt.Sprintf("%d local record(s) opted out", len(people)))
	} else {
		done = append(done, "no local record for phone")
	}

	// 2. email groups
	if len(emails) == 0 && s.cfg.SMSPlatform().Configured() {
		email, err := s.sms.FindContactEmail(ctx, phone)
		if err != nil {
			failures = append(failures, "remote contact lookup failed: "+err.Error())
		} else if email != "" {
			emails = append(emails, email)
		}
	}
	groups := s.cfg.Groups().SMSOptIn
	switch {
	case len(emails) == 0:
		done = append(done, "no email known")
	case len(groups) == 0:
		done = append(done, "no SMS opt-in groups configured")
	default:
		for _, email := range unique(emails) {
			err := s.email.UpdateGroups(ctx, email, nil, groups)
			switch {
			case err == nil:
				done = append(done, "removed "+email+" from SMS groups")
			case IsNotConfigured(err):
				done = append(done, "email platform not configured")
			default:
				failures = append(failures, "group removal failed for "+email+": "+err.Error())
			}
		}
	}

	// 3. DNC
	email := ""
	if len(emails) > 0 {
		email = emails[0]
	}
	res := s.sms.SyncSMSStatus(ctx, phone, "", "", email, false, nil)
	switch res.Status {
	case StatusFailed:
		failures = append(failures, "DNC update failed: "+res.Message)
	default:
		done = append(done, res.Message)
	}

	result := StopResult{Success: len(failures) == 0}
	msg := strings.Join(done, "; ")
	if len(failures) > 0 {
		msg = strings.Join(failures, "; ") + " | " + msg
		s.log.Warning("opt-out partially failed", "phone", phone, "failures", strings.Join(failures, "; "))
	} else {
		s.log.Info("processed opt-out", "phone", phone, "keyword", keyword, "people", len(people))
	}
	result.Message = msg

	s.events.Broadcast(realtime.Event{
		Type:      realtime.TypeOptOut,
		Channel:   models.ChannelOptOut,
		Email:     email,
		Outcome:   map[bool]string{true: "success", false: "partial"}[result.Success],
		Message:   msg,
		Timestamp: s.now().Unix(),
	})
	return result, nil
}

// markOptedOut clears SMS consent on p. The phone itself is kept.
func (s *OptOutService) markOptedOut(p *models.Person, source string) error {
	now := s.now().UTC()
	err := s.people.UpdateFields(p.ID, map[string]interface{}{
		"sms_opted_in":       false,
		"sms_opt_out_date":   now,
		"sms_opt_out_source": source,
	})
	if err != nil {
		return err
	}
	entry := models.SyncLogEntry{Timestamp: now, Channel: models.ChannelOptOut, Success: true, Message: "opted out via " + source}
	if err := s.people.AppendSyncLog(p.ID, entry); err != nil {
		s.log.Error("could not append sync log", "person", p.ID, "error", err)
	}
	return nil
}
