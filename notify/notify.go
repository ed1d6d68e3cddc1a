// Package notify emails operators a summary when a bulk run had failures.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ausocean/utils/logging"
	mailjet "github.com/mailjet/mailjet-apiv3-go"
)

const defaultPeriod = time.Hour

// ErrNotConfigured is returned by Send when no keys or recipient are set.
var ErrNotConfigured = errors.New("notifier not configured")

// SendFunc delivers a prepared mailjet message batch.
type SendFunc func(msgs *mailjet.MessagesV31) error

type Notifier struct {
	mu        sync.Mutex
	sender    string
	recipient string
	period    time.Duration // minimum time between two messages of one kind
	store     TimeStore
	send      SendFunc
	log       logging.Logger
	now       func() time.Time
}

// New returns a notifier configured by options. Without WithKeys or
// WithSendFunc it logs instead of sending.
func New(log logging.Logger, options ...Option) (*Notifier, error) {
	n := &Notifier{
		period: defaultPeriod,
		store:  NewMemoryStore(),
		log:    log,
		now:    time.Now,
	}
	for i, opt := range options {
		if err := opt(n); err != nil {
			return nil, fmt.Errorf("could not apply option #%d: %w", i, err)
		}
	}
	return n, nil
}

// Enabled reports whether messages will actually be delivered.
func (n *Notifier) Enabled() bool {
	return n != nil && n.send != nil && n.sender != "" && n.recipient != ""
}

// Send emails msg under the given kind, at most once per period per kind.
func (n *Notifier) Send(ctx context.Context, kind, msg string) error {
	if !n.Enabled() {
		if n != nil && n.log != nil {
			n.log.Debug("notifier disabled, not sending", "kind", kind)
		}
		return ErrNotConfigured
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	key := kind + "." + n.recipient
	sendable, err := n.store.Sendable(ctx, key, n.period, n.now())
	if err != nil {
		n.log.Warning("time store lookup failed", "key", key, "error", err)
	}
	if !sendable {
		n.log.Info("too soon to send notification", "kind", kind, "recipient", n.recipient)
		return nil
	}

	n.log.Info("sending notification", "kind", kind, "recipient", n.recipient)
	msgs := &mailjet.MessagesV31{Info: []mailjet.InfoMessagesV31{{
		From:     &mailjet.RecipientV31{Email: n.sender},
		To:       &mailjet.RecipientsV31{mailjet.RecipientV31{Email: n.recipient}},
		Subject:  "membersync: " + kind,
		TextPart: msg,
	}}}
	if err := n.send(msgs); err != nil {
		return fmt.Errorf("could not send mail: %w", err)
	}

	if err := n.store.Sent(ctx, key, n.now()); err != nil {
		n.log.Warning("time store update failed", "key", key, "error", err)
	}
	return nil
}

// Failures formats a bulk-run failure map as a message body.
func Failures[K comparable](title string, failures map[K]string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %d failure(s)\n\n", title, len(failures))
	for k, v := range failures {
		fmt.Fprintf(&b, "%v: %s\n", k, v)
	}
	return b.String()
}
