package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ausocean/utils/logging"

	"github.com/camden-git/membersync/config"
	"github.com/camden-git/membersync/emailplatform"
	"github.com/camden-git/membersync/membership"
	"github.com/camden-git/membersync/models"
	"github.com/camden-git/membersync/realtime"
	"github.com/camden-git/membersync/repository"
	"github.com/camden-git/membersync/utils"
	"github.com/camden-git/membersync/workers"
)

// Remote field names on the email platform.
const (
	FieldMembershipStatus = "membership_status"
	FieldMembershipEnd    = "membership_end_date"
	FieldGracePeriodEnd   = "grace_period_end"
	FieldSustaining       = "is_sustaining"

	displayDateLayout = "January 2, 2006"
)

// EmailPlatform is the subset of the email platform API the sync uses.
type EmailPlatform interface {
	GetSubscriber(ctx context.Context, email string) (*emailplatform.Subscriber, error)
	CreateSubscriber(ctx context.Context, sub emailplatform.NewSubscriber) error
	UpdateSubscriber(ctx context.Context, email string, update emailplatform.SubscriberUpdate) error
	AddToGroup(ctx context.Context, groupID string, emails ...string) error
	RemoveFromGroup(ctx context.Context, groupID string, emails ...string) error
}

// EmailSync pushes primary records to the email platform.
type EmailSync struct {
	people  repository.PersonRepository
	cfg     config.Provider
	client  EmailPlatform
	catalog *emailplatform.GroupCatalog
	log     logging.Logger
	events  EventSink
	rec     *recorder
	workers int
	now     func() time.Time
}

func NewEmailSync(people repository.PersonRepository, cfg config.Provider, client EmailPlatform, catalog *emailplatform.GroupCatalog, log logging.Logger, events EventSink, workers int) *EmailSync {
	if events == nil {
		events = NopSink
	}
	s := &EmailSync{
		people:  people,
		cfg:     cfg,
		client:  client,
		catalog: catalog,
		log:     log,
		events:  events,
		workers: workers,
		now:     time.Now,
	}
	s.rec = &recorder{people: people, log: log, events: events, now: func() time.Time { return s.now() }}
	return s
}

// SyncAllReport summarizes a bulk email sync.
type SyncAllReport struct {
	Attempted         int             `json:"attempted"`
	Synced            int             `json:"synced"`
	Skipped           int             `json:"skipped"`
	SkippedNonPrimary int             `json:"skipped_non_primary"`
	SkippedNoEmail    int             `json:"skipped_no_email"`
	Backfilled        int             `json:"backfilled"`
	Failed            int             `json:"failed"`
	Failures          map[uint]string `json:"failures"`
}

// SyncPerson pushes one person's profile to the email platform. Secondary
// records, records without an email and an unconfigured platform are
// skipped without any remote call. New-member groups are added only when
// triggerAutomation is set and the status change since the last push is a
// new activation.
func (s *EmailSync) SyncPerson(ctx context.Context, personID uint, triggerAutomation bool) SyncResult {
	return s.syncPrimary(ctx, personID, func(p *models.Person, status membership.Status) []string {
		if triggerAutomation && membership.IsNewActivation(membership.Parse(p.PreviousStatus), status) {
			return s.cfg.Groups().NewMember
		}
		return nil
	})
}

// SyncVolunteer is SyncPerson that always adds the volunteer groups.
func (s *EmailSync) SyncVolunteer(ctx context.Context, personID uint) SyncResult {
	return s.syncPrimary(ctx, personID, func(*models.Person, membership.Status) []string {
		return s.cfg.Groups().NewVolunteer
	})
}

func (s *EmailSync) syncPrimary(ctx context.Context, personID uint, extraGroups func(*models.Person, membership.Status) []string) SyncResult {
	p, err := s.people.GetByID(personID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return skipped(personID, "person not found")
		}
		return failed(personID, err)
	}

	switch {
	case !p.IsPublished():
		return skipped(p.ID, "person is not published")
	case !p.IsPrimary:
		return skipped(p.ID, "not the primary record for this email")
	case p.Email == "":
		return skipped(p.ID, "no email")
	case !s.cfg.EmailPlatform().Configured():
		return skipped(p.ID, "email platform not configured")
	}

	status := membership.StatusAt(membership.Parse(p.MembershipStatus), p.EndDate, s.now())
	msg, err := s.push(ctx, p, status, extraGroups(p, status))
	var res SyncResult
	if err != nil {
		res = failed(p.ID, err)
	} else {
		res = synced(p.ID, msg)
		if p.PreviousStatus != string(status) {
			if err := s.people.UpdateFields(p.ID, map[string]interface{}{"previous_status": string(status)}); err != nil {
				s.log.Error("could not store previous status", "person", p.ID, "error", err)
			}
		}
	}
	s.rec.record(p, models.ChannelEmail, realtime.TypeSync, res)
	return res
}

// push creates or partially updates the remote subscriber.
func (s *EmailSync) push(ctx context.Context, p *models.Person, status membership.Status, extra []string) (string, error) {
	fields := profileFields(p, status)

	remote, err := s.client.GetSubscriber(ctx, p.Email)
	if emailplatform.IsNotFound(err) {
		err = s.client.CreateSubscriber(ctx, emailplatform.NewSubscriber{
			Email:     p.Email,
			FirstName: p.FirstName,
			LastName:  p.LastName,
			Phone:     p.PhoneNumber(),
			Groups:    unique(extra),
			Fields:    fields,
		})
		if err != nil {
			return "", fmt.Errorf("create subscriber: %w", err)
		}
		return "created subscriber", nil
	}
	if err != nil {
		return "", fmt.Errorf("fetch subscriber: %w", err)
	}

	var update emailplatform.SubscriberUpdate
	if p.FirstName != "" && p.FirstName != remote.FirstName {
		update.FirstName = &p.FirstName
	}
	if p.LastName != "" && p.LastName != remote.LastName {
		update.LastName = &p.LastName
	}
	if phone := p.PhoneNumber(); phone != "" && !utils.PhonesEqual(phone, remote.Phone) {
		update.Phone = &phone
	}
	for k, v := range fields {
		if remote.Fields[k] != v {
			if update.Fields == nil {
				update.Fields = map[string]string{}
			}
			update.Fields[k] = v
		}
	}
	// start from the remote groups so unmanaged memberships survive
	desired := unique(append(append([]string{}, remote.Groups...), extra...))
	if !sameSet(desired, remote.Groups) {
		update.Groups = desired
	}

	if update.Empty() {
		return "subscriber up to date", nil
	}
	if err := s.client.UpdateSubscriber(ctx, p.Email, update); err != nil {
		return "", fmt.Errorf("update subscriber: %w", err)
	}
	return "updated subscriber", nil
}

func profileFields(p *models.Person, status membership.Status) map[string]string {
	fields := map[string]string{
		FieldMembershipStatus: string(status),
		FieldMembershipEnd:    "",
		FieldGracePeriodEnd:   "",
		FieldSustaining:       "no",
	}
	if p.EndDate != nil {
		fields[FieldMembershipEnd] = p.EndDate.Format(displayDateLayout)
		fields[FieldGracePeriodEnd] = membership.GraceEnd(*p.EndDate).Format(displayDateLayout)
	}
	if p.IsSustaining {
		fields[FieldSustaining] = "yes"
	}
	return fields
}

// SyncAll pushes every primary record, backfilling the primary flag where an
// email has a single unflagged holder. Automation never fires from a bulk run.
func (s *EmailSync) SyncAll(ctx context.Context) (SyncAllReport, error) {
	report := SyncAllReport{Failures: map[uint]string{}}
	if !s.cfg.EmailPlatform().Configured() {
		return report, &NotConfiguredError{What: "email platform"}
	}

	people, err := s.people.ListPublished()
	if err != nil {
		return report, fmt.Errorf("failed to list people: %w", err)
	}

	byEmail := map[string][]*models.Person{}
	for i := range people {
		p := &people[i]
		email := utils.NormalizeEmail(p.Email)
		if email == "" {
			report.SkippedNoEmail++
			continue
		}
		byEmail[email] = append(byEmail[email], p)
	}

	var ids []uint
	for _, holders := range byEmail {
		if len(holders) == 1 && !holders[0].IsPrimary {
			if err := s.people.SetPrimary(holders[0].ID, true, nil); err != nil {
				s.log.Error("could not backfill primary", "person", holders[0].ID, "error", err)
			} else {
				holders[0].IsPrimary = true
				report.Backfilled++
			}
		}
		for _, p := range holders {
			if !p.IsPrimary {
				report.SkippedNonPrimary++
				continue
			}
			ids = append(ids, p.ID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var mu sync.Mutex
	pool := workers.NewPool(ctx, s.log, len(ids), s.workers)
	for _, id := range ids {
		id := id
		queued := pool.Queue(func(ctx context.Context) {
			res := s.SyncPerson(ctx, id, false)
			mu.Lock()
			defer mu.Unlock()
			report.Attempted++
			switch res.Status {
			case StatusSynced:
				report.Synced++
			case StatusSkipped:
				report.Skipped++
			case StatusFailed:
				report.Failed++
				report.Failures[id] = res.Message
			}
		})
		if !queued {
			break
		}
	}
	pool.Close()

	s.log.Info("bulk email sync finished", "attempted", report.Attempted, "synced", report.Synced, "failed", report.Failed)
	s.events.Broadcast(realtime.Event{
		Type:    realtime.TypeBulk,
		Channel: models.ChannelEmail,
		Outcome: "sync_all",
		Extra: map[string]interface{}{
			"attempted": report.Attempted,
			"synced":    report.Synced,
			"failed":    report.Failed,
		},
		Timestamp: s.now().Unix(),
	})
	return report, ctx.Err()
}

// UpdateGroups adds and removes group memberships for an email. It needs no
// primary record, so removals always go through. Removing a subscriber that
// is not in the group is not an error.
func (s *EmailSync) UpdateGroups(ctx context.Context, email string, add, remove []string) error {
	if !s.cfg.EmailPlatform().Configured() {
		return &NotConfiguredError{What: "email platform"}
	}
	email = utils.NormalizeEmail(email)
	if email == "" {
		return &ValidationError{Field: "email", Message: "is required"}
	}

	var errs []error
	for _, id := range unique(add) {
		if err := s.client.AddToGroup(ctx, id, email); err != nil {
			errs = append(errs, fmt.Errorf("add to group %s: %w", id, err))
		}
	}
	for _, id := range unique(remove) {
		if err := s.client.RemoveFromGroup(ctx, id, email); err != nil && !emailplatform.IsNotFound(err) {
			errs = append(errs, fmt.Errorf("remove from group %s: %w", id, err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	s.log.Debug("updated groups", "email", email, "added", len(add), "removed", len(remove))
	return nil
}

// Groups returns the cached group catalog.
func (s *EmailSync) Groups(ctx context.Context) ([]emailplatform.Group, error) {
	if !s.cfg.EmailPlatform().Configured() {
		return nil, &NotConfiguredError{What: "email platform"}
	}
	return s.catalog.Groups(ctx)
}

// RefreshGroups drops the cached catalog and fetches it again.
func (s *EmailSync) RefreshGroups(ctx context.Context) ([]emailplatform.Group, error) {
	s.catalog.Invalidate()
	return s.Groups(ctx)
}

func unique(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func sameSet(a, b []string) bool {
	a, b = unique(a), unique(b)
	if len(a) != len(b) {
		return false
	}
	in := make(map[string]bool, len(a))
	for _, id := range a {
		in[id] = true
	}
	for _, id := range b {
		if !in[id] {
			return false
		}
	}
	return true
}

// intersect keeps the ids of want that are also allowed.
func intersect(want, allowed []string) []string {
	ok := make(map[string]bool, len(allowed))
	for _, id := range allowed {
		ok[id] = true
	}
	var out []string
	for _, id := range unique(want) {
		if ok[id] {
			out = append(out, id)
		}
	}
	return out
}

// subtract returns the ids of a missing from b.
func subtract(a, b []string) []string {
	drop := make(map[string]bool, len(b))
	for _, id := range b {
		drop[id] = true
	}
	var out []string
	for _, id := range unique(a) {
		if !drop[id] {
			out = append(out, id)
		}
	}
	return out
}
