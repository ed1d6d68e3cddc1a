// Package emailplatform is a small client for the bulk-email platform's
// subscriber and group API.
package emailplatform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/camden-git/membersync/config"
)

const defaultTimeout = 20 * time.Second

// APIError is a non-2xx answer from the platform.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("email platform error (%d): %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the platform.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// Client talks to the email platform with a bearer token.
type Client struct {
	apiToken string
	baseURL  string
	client   *http.Client
}

// NewClient creates a client from the platform settings.
func NewClient(settings config.EmailPlatformSettings) *Client {
	timeout := settings.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		apiToken: settings.APIToken,
		baseURL:  strings.TrimRight(settings.BaseURL, "/"),
		client:   &http.Client{Timeout: timeout},
	}
}

// Group is one entry of the platform's group catalog.
type Group struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// Subscriber is the remote view of one email address.
type Subscriber struct {
	Email     string
	FirstName string
	LastName  string
	Phone     string
	Groups    []string
	Fields    map[string]string
}

type subscriberPayload struct {
	Email     string `json:"email"`
	FirstName string `json:"firstname"`
	LastName  string `json:"lastname"`
	Phone     string `json:"phone"`
	Tags      []struct {
		ID string `json:"id"`
	} `json:"subscriber_tags"`
	Columns []struct {
		Title string `json:"title"`
		Value string `json:"value"`
	} `json:"columns"`
}

// NewSubscriber is the full create request.
type NewSubscriber struct {
	Email     string            `json:"email"`
	FirstName string            `json:"firstname,omitempty"`
	LastName  string            `json:"lastname,omitempty"`
	Phone     string            `json:"phone,omitempty"`
	Groups    []string          `json:"groups,omitempty"`
	Fields    map[string]string `json:"fields,omitempty"`
}

// SubscriberUpdate is a partial update; nil members are left untouched.
type SubscriberUpdate struct {
	FirstName *string           `json:"firstname,omitempty"`
	LastName  *string           `json:"lastname,omitempty"`
	Phone     *string           `json:"phone,omitempty"`
	Groups    []string          `json:"groups,omitempty"`
	Fields    map[string]string `json:"fields,omitempty"`
}

// Empty reports whether the update would change nothing.
func (u SubscriberUpdate) Empty() bool {
	return u.FirstName == nil && u.LastName == nil && u.Phone == nil && u.Groups == nil && len(u.Fields) == 0
}

type envelope struct {
	Data json.RawMessage `json:"data"`
}

type groupMembership struct {
	Subscribers []string `json:"subscribers"`
}

// GetSubscriber fetches a subscriber by email. A missing subscriber is an
// *APIError with status 404.
func (c *Client) GetSubscriber(ctx context.Context, email string) (*Subscriber, error) {
	var payload subscriberPayload
	if err := c.do(ctx, http.MethodGet, "/subscribers/"+url.PathEscape(email), nil, &payload); err != nil {
		return nil, err
	}

	sub := &Subscriber{
		Email:     payload.Email,
		FirstName: payload.FirstName,
		LastName:  payload.LastName,
		Phone:     payload.Phone,
		Groups:    make([]string, 0, len(payload.Tags)),
		Fields:    make(map[string]string, len(payload.Columns)),
	}
	for _, t := range payload.Tags {
		sub.Groups = append(sub.Groups, t.ID)
	}
	for _, col := range payload.Columns {
		sub.Fields[col.Title] = col.Value
	}
	return sub, nil
}

func (c *Client) CreateSubscriber(ctx context.Context, sub NewSubscriber) error {
	return c.do(ctx, http.MethodPost, "/subscribers", sub, nil)
}

func (c *Client) UpdateSubscriber(ctx context.Context, email string, update SubscriberUpdate) error {
	return c.do(ctx, http.MethodPatch, "/subscribers/"+url.PathEscape(email), update, nil)
}

// ListGroups fetches the full group catalog.
func (c *Client) ListGroups(ctx context.Context) ([]Group, error) {
	var groups []Group
	if err := c.do(ctx, http.MethodGet, "/groups", nil, &groups); err != nil {
		return nil, err
	}
	return groups, nil
}

func (c *Client) AddToGroup(ctx context.Context, groupID string, emails ...string) error {
	return c.do(ctx, http.MethodPost, "/subscribers/groups/"+url.PathEscape(groupID), groupMembership{Subscribers: emails}, nil)
}

func (c *Client) RemoveFromGroup(ctx context.Context, groupID string, emails ...string) error {
	return c.do(ctx, http.MethodDelete, "/subscribers/groups/"+url.PathEscape(groupID), groupMembership{Subscribers: emails}, nil)
}

// do sends one request and decodes the "data" member of the answer into out.
func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	if c.apiToken == "" {
		return fmt.Errorf("email platform API token not set")
	}

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiToken)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{StatusCode: resp.StatusCode, Message: errorMessage(respBody)}
	}
	if out == nil || len(respBody) == 0 {
		return nil
	}

	var env envelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("failed to decode response data: %w", err)
	}
	return nil
}

func errorMessage(body []byte) string {
	var parsed struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &parsed) == nil && parsed.Message != "" {
		return parsed.Message
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}
