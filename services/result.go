package services

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ausocean/utils/logging"

	"github.com/camden-git/membersync/emailplatform"
	"github.com/camden-git/membersync/models"
	"github.com/camden-git/membersync/realtime"
	"github.com/camden-git/membersync/repository"
	"github.com/camden-git/membersync/smsplatform"
)

// SyncStatus is the outcome of one synchronization attempt.
type SyncStatus string

const (
	StatusSynced  SyncStatus = "synced"
	StatusSkipped SyncStatus = "skipped"
	StatusFailed  SyncStatus = "failed"
)

// SyncResult reports what a sync did. Skips are not failures.
type SyncResult struct {
	PersonID uint       `json:"person_id,omitempty"`
	Status   SyncStatus `json:"status"`
	Message  string     `json:"message"`

	// StatusCode is the remote HTTP status of a failed call, when there was one.
	StatusCode int `json:"status_code,omitempty"`
}

func (r SyncResult) Failed() bool { return r.Status == StatusFailed }

func synced(id uint, msg string) SyncResult {
	return SyncResult{PersonID: id, Status: StatusSynced, Message: msg}
}

func skipped(id uint, msg string) SyncResult {
	return SyncResult{PersonID: id, Status: StatusSkipped, Message: msg}
}

func failed(id uint, err error) SyncResult {
	return SyncResult{PersonID: id, Status: StatusFailed, Message: err.Error(), StatusCode: remoteStatus(err)}
}

func remoteStatus(err error) int {
	var emailErr *emailplatform.APIError
	if errors.As(err, &emailErr) {
		return emailErr.StatusCode
	}
	var smsErr *smsplatform.APIError
	if errors.As(err, &smsErr) {
		return smsErr.StatusCode
	}
	return 0
}

// EventSink receives structured outcome events for aggregate monitoring.
type EventSink interface {
	Broadcast(event realtime.Event)
}

type nopSink struct{}

func (nopSink) Broadcast(realtime.Event) {}

// NopSink discards events.
var NopSink EventSink = nopSink{}

// recorder writes provenance for one channel: the person's sync log, the
// process log and the event sink.
type recorder struct {
	people repository.PersonRepository
	log    logging.Logger
	events EventSink
	now    func() time.Time
}

func (r *recorder) record(p *models.Person, channel, eventType string, res SyncResult) {
	if res.Status == StatusSkipped {
		r.log.Debug("sync skipped", "channel", channel, "person", res.PersonID, "reason", res.Message)
	} else if res.Failed() {
		r.log.Warning("sync failed", "channel", channel, "person", res.PersonID, "error", res.Message)
	} else {
		r.log.Info("sync complete", "channel", channel, "person", res.PersonID)
	}

	if p != nil && res.Status != StatusSkipped {
		msg := res.Message
		if res.StatusCode != 0 && !strings.Contains(msg, fmt.Sprint(res.StatusCode)) {
			msg = fmt.Sprintf("%s (status %d)", msg, res.StatusCode)
		}
		entry := models.SyncLogEntry{Timestamp: r.now().UTC(), Channel: channel, Success: !res.Failed(), Message: msg}
		if err := r.people.AppendSyncLog(p.ID, entry); err != nil {
			r.log.Error("could not append sync log", "person", p.ID, "error", err)
		}
	}

	ev := realtime.Event{
		Type:      eventType,
		PersonID:  res.PersonID,
		Channel:   channel,
		Outcome:   string(res.Status),
		Message:   res.Message,
		Timestamp: r.now().Unix(),
	}
	if p != nil {
		ev.Email = p.Email
	}
	r.events.Broadcast(ev)
}
