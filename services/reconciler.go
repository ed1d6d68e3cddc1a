package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ausocean/utils/logging"

	"github.com/camden-git/membersync/membership"
	"github.com/camden-git/membersync/models"
	"github.com/camden-git/membersync/realtime"
	"github.com/camden-git/membersync/repository"
	"github.com/camden-git/membersync/utils"
)

// Reconciler restores the single-primary invariant for an email. It reads
// fresh state on every run and holds no locks, so concurrent runs converge
// instead of coordinating.
type Reconciler struct {
	people repository.PersonRepository
	log    logging.Logger
	events EventSink
}

func NewReconciler(people repository.PersonRepository, log logging.Logger, events EventSink) *Reconciler {
	if events == nil {
		events = NopSink
	}
	return &Reconciler{people: people, log: log, events: events}
}

// RepairReport summarizes a bulk repair run.
type RepairReport struct {
	EmailsChecked  int               `json:"emails_checked"`
	EmailsRepaired int               `json:"emails_repaired"`
	Failures       map[string]string `json:"failures"`
}

// Reconcile makes exactly one published holder of email primary and points
// the rest at it. It is idempotent.
func (r *Reconciler) Reconcile(ctx context.Context, email string) error {
	_, err := r.reconcile(ctx, email)
	return err
}

// reconcile reports whether anything was written.
func (r *Reconciler) reconcile(ctx context.Context, email string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	email = utils.NormalizeEmail(email)
	if email == "" {
		return false, nil
	}

	people, err := r.people.ListByEmail(email)
	if err != nil {
		return false, fmt.Errorf("failed to load people for %s: %w", email, err)
	}
	if len(people) == 0 {
		return false, nil
	}

	winner := pickPrimary(people)

	changed := false
	// losers first, so a failed write leaves at most the old primaries in place
	for i := range people {
		p := &people[i]
		if p.ID == winner.ID {
			continue
		}
		if !p.IsPrimary && p.ActualPrimaryID != nil && *p.ActualPrimaryID == winner.ID {
			continue
		}
		winnerID := winner.ID
		if err := r.people.SetPrimary(p.ID, false, &winnerID); err != nil {
			return changed, fmt.Errorf("failed to demote person %d: %w", p.ID, err)
		}
		changed = true
	}

	if !winner.IsPrimary || winner.ActualPrimaryID != nil {
		if err := r.people.SetPrimary(winner.ID, true, nil); err != nil {
			return changed, fmt.Errorf("failed to promote person %d: %w", winner.ID, err)
		}
		changed = true
	}

	if changed {
		r.log.Info("reconciled primary", "email", email, "primary", winner.ID, "holders", len(people))
		r.events.Broadcast(realtime.Event{
			Type:      realtime.TypeReconcile,
			PersonID:  winner.ID,
			Email:     email,
			Outcome:   "repaired",
			Timestamp: time.Now().Unix(),
		})
	}
	return changed, nil
}

// pickPrimary chooses the primary among holders listed in creation order.
// An existing primary keeps the role; several primaries resolve to the
// lowest id; with none the first holder of the highest priority tier wins.
func pickPrimary(people []models.Person) *models.Person {
	var current *models.Person
	for i := range people {
		p := &people[i]
		if p.IsPrimary && (current == nil || p.ID < current.ID) {
			current = p
		}
	}
	if current != nil {
		return current
	}

	tiers := []func(p *models.Person) bool{
		func(p *models.Person) bool {
			return membership.IsActiveOrPaid(p.MembershipStatus) && p.LinkedAccountID != nil
		},
		func(p *models.Person) bool {
			return strings.EqualFold(strings.TrimSpace(p.MembershipStatus), string(membership.StatusActive))
		},
		func(p *models.Person) bool {
			return membership.IsSet(p.MembershipStatus)
		},
	}
	for _, match := range tiers {
		for i := range people {
			if match(&people[i]) {
				return &people[i]
			}
		}
	}
	return &people[0]
}

// RepairAll reconciles every email whose holders are duplicated or whose
// primary count is not one.
func (r *Reconciler) RepairAll(ctx context.Context) (RepairReport, error) {
	report := RepairReport{Failures: map[string]string{}}

	emails, err := r.people.ListInconsistentEmails()
	if err != nil {
		return report, fmt.Errorf("failed to list inconsistent emails: %w", err)
	}

	for _, email := range emails {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.EmailsChecked++
		changed, err := r.reconcile(ctx, email)
		if err != nil {
			r.log.Error("repair failed", "email", email, "error", err)
			report.Failures[email] = err.Error()
			continue
		}
		if changed {
			report.EmailsRepaired++
		}
	}

	r.log.Info("bulk repair finished", "checked", report.EmailsChecked, "repaired", report.EmailsRepaired, "failures", len(report.Failures))
	r.events.Broadcast(realtime.Event{
		Type:    realtime.TypeBulk,
		Outcome: "repair",
		Extra: map[string]interface{}{
			"emails_checked":  report.EmailsChecked,
			"emails_repaired": report.EmailsRepaired,
			"failures":        len(report.Failures),
		},
		Timestamp: time.Now().Unix(),
	})
	return report, nil
}
