package notify

import (
	"errors"
	"time"

	mailjet "github.com/mailjet/mailjet-apiv3-go"
)

// Option is a functional option supplied to New.
type Option func(*Notifier) error

func WithSender(sender string) Option {
	return func(n *Notifier) error {
		n.sender = sender
		return nil
	}
}

func WithRecipient(recipient string) Option {
	return func(n *Notifier) error {
		n.recipient = recipient
		return nil
	}
}

// WithKeys sends through the mailjet API. Empty keys leave the notifier
// disabled.
func WithKeys(publicKey, privateKey string) Option {
	return func(n *Notifier) error {
		if publicKey == "" && privateKey == "" {
			return nil
		}
		if publicKey == "" || privateKey == "" {
			return errors.New("both mailjet keys are required")
		}
		client := mailjet.NewMailjetClient(publicKey, privateKey)
		n.send = func(msgs *mailjet.MessagesV31) error {
			_, err := client.SendMailV31(msgs)
			return err
		}
		return nil
	}
}

// WithSendFunc replaces the mailjet client.
func WithSendFunc(send SendFunc) Option {
	return func(n *Notifier) error {
		n.send = send
		return nil
	}
}

// WithPeriod sets the minimum time between two messages of one kind.
func WithPeriod(d time.Duration) Option {
	return func(n *Notifier) error {
		if d < 0 {
			return errors.New("negative period")
		}
		n.period = d
		return nil
	}
}

func WithStore(store TimeStore) Option {
	return func(n *Notifier) error {
		n.store = store
		return nil
	}
}
