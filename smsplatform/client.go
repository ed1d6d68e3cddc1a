// Package smsplatform is a client for the SMS/voice platform's contact,
// tagging and Do-Not-Contact API.
package smsplatform

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
	"github.com/camden-git/membersync/utils"
)

const (
	defaultTimeout = 20 * time.Second
	maxPages       = 50
)

// DNCCategoryTextOnly blocks texting while leaving calls allowed.
const DNCCategoryTextOnly = 2

// APIError is a non-2xx answer from the platform.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("SMS platform error (%d): %s", e.StatusCode, e.Message)
}

// IsAlreadyExists reports whether the platform rejected a create because the
// record is already there.
func IsAlreadyExists(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	msg := strings.ToLower(apiErr.Message)
	return strings.Contains(msg, "already exist") || strings.Contains(msg, "already present")
}

// ID accepts both numeric and string identifiers.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "null" {
		s = ""
	}
	*id = ID(s)
	return nil
}

type Contact struct {
	ID        ID     `json:"id"`
	Phone     string `json:"contact"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// ContactInput is the writable part of a contact.
type ContactInput struct {
	Phone     string `json:"contact,omitempty"`
	Email     string `json:"email,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
}

type DNCList struct {
	ID   ID     `json:"id"`
	Name string `json:"name"`
}

type DNCEntry struct {
	ID       ID     `json:"id"`
	List     ID     `json:"dnc"`
	Phone    string `json:"phone_number"`
	Category int    `json:"category"`
}

type page struct {
	Next    *string         `json:"next"`
	Results json.RawMessage `json:"results"`
}

// Client talks to the SMS platform with token auth. Tagging lives on the v2
// API, everything else on v1.
type Client struct {
	apiToken  string
	baseURL   string
	baseURLV2 string
	client    *http.Client
}

func NewClient(settings config.SMSPlatformSettings) *Client {
	timeout := settings.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	v2 := settings.BaseURLV2
	if v2 == "" {
		v2 = settings.BaseURL
	}
	return &Client{
		apiToken:  settings.APIToken,
		baseURL:   strings.TrimRight(settings.BaseURL, "/"),
		baseURLV2: strings.TrimRight(v2, "/"),
		client:    &http.Client{Timeout: timeout},
	}
}

// FindContactsByPhone returns every contact for phone across all pages.
func (c *Client) FindContactsByPhone(ctx context.Context, phone string) ([]Contact, error) {
	remote := utils.RemotePhone(phone)
	if remote == "" {
		return []Contact{}, nil
	}
	var contacts []Contact
	err := c.list(ctx, c.baseURL+"/contacts/?phone_number="+url.QueryEscape(remote), func(raw json.RawMessage) error {
		var batch []Contact
		if err := json.Unmarshal(raw, &batch); err != nil {
			return err
		}
		for _, ct := range batch {
			if utils.PhonesEqual(ct.Phone, remote) {
				contacts = append(contacts, ct)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if contacts == nil {
		contacts = []Contact{}
	}
	return contacts, nil
}

func (c *Client) FindContactsByEmail(ctx context.Context, email string) ([]Contact, error) {
	email = utils.NormalizeEmail(email)
	contacts := []Contact{}
	if email == "" {
		return contacts, nil
	}
	err := c.list(ctx, c.baseURL+"/contacts/?email="+url.QueryEscape(email), func(raw json.RawMessage) error {
		var batch []Contact
		if err := json.Unmarshal(raw, &batch); err != nil {
			return err
		}
		for _, ct := range batch {
			if utils.NormalizeEmail(ct.Email) == email {
				contacts = append(contacts, ct)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return contacts, nil
}

func (c *Client) CreateContact(ctx context.Context, in ContactInput) (*Contact, error) {
	in.Phone = utils.RemotePhone(in.Phone)
	var ct Contact
	if err := c.do(ctx, http.MethodPost, c.baseURL+"/contacts/", in, &ct); err != nil {
		return nil, err
	}
	return &ct, nil
}

func (c *Client) UpdateContact(ctx context.Context, id ID, in ContactInput) error {
	if in.Phone != "" {
		in.Phone = utils.RemotePhone(in.Phone)
	}
	return c.do(ctx, http.MethodPatch, c.baseURL+"/contacts/"+url.PathEscape(string(id))+"/", in, nil)
}

// TagContact attaches tag ids to a contact.
func (c *Client) TagContact(ctx context.Context, id ID, tags []string) error {
	body := struct {
		Tags []string `json:"tags"`
	}{Tags: tags}
	return c.do(ctx, http.MethodPost, c.baseURLV2+"/contacts/"+url.PathEscape(string(id))+"/taggings/", body, nil)
}

func (c *Client) ListDNCLists(ctx context.Context) ([]DNCList, error) {
	lists := []DNCList{}
	err := c.list(ctx, c.baseURL+"/dnc_lists/", func(raw json.RawMessage) error {
		var batch []DNCList
		if err := json.Unmarshal(raw, &batch); err != nil {
			return err
		}
		lists = append(lists, batch...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return lists, nil
}

func (c *Client) CreateDNCList(ctx context.Context, name string) (*DNCList, error) {
	var list DNCList
	body := struct {
		Name string `json:"name"`
	}{Name: name}
	if err := c.do(ctx, http.MethodPost, c.baseURL+"/dnc_lists/", body, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

// FindDNCEntries returns the DNC entries for phone on any list.
func (c *Client) FindDNCEntries(ctx context.Context, phone string) ([]DNCEntry, error) {
	remote := utils.RemotePhone(phone)
	entries := []DNCEntry{}
	if remote == "" {
		return entries, nil
	}
	err := c.list(ctx, c.baseURL+"/dnc_contacts/?phone_number="+url.QueryEscape(remote), func(raw json.RawMessage) error {
		var batch []DNCEntry
		if err := json.Unmarshal(raw, &batch); err != nil {
			return err
		}
		for _, e := range batch {
			if utils.PhonesEqual(e.Phone, remote) {
				entries = append(entries, e)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// AddToDNC puts phone on a DNC list. A phone already on the list is not an
// error.
func (c *Client) AddToDNC(ctx context.Context, listID ID, phone string, category int) error {
	body := struct {
		DNC      ID     `json:"dnc"`
		Phone    string `json:"phone_number"`
		Category int    `json:"category"`
	}{DNC: listID, Phone: utils.RemotePhone(phone), Category: category}
	err := c.do(ctx, http.MethodPost, c.baseURL+"/dnc_contacts/", body, nil)
	if err != nil && IsAlreadyExists(err) {
		return nil
	}
	return err
}

func (c *Client) RemoveDNCEntry(ctx context.Context, id ID) error {
	return c.do(ctx, http.MethodDelete, c.baseURL+"/dnc_contacts/"+url.PathEscape(string(id))+"/", nil, nil)
}

// list follows "next" links, handing each page of results to fn.
func (c *Client) list(ctx context.Context, next string, fn func(json.RawMessage) error) error {
	for i := 0; next != "" && i < maxPages; i++ {
		var p page
		if err := c.do(ctx, http.MethodGet, next, nil, &p); err != nil {
			return err
		}
		if len(p.Results) > 0 {
			if err := fn(p.Results); err != nil {
				return fmt.Errorf("failed to decode results: %w", err)
			}
		}
		next = ""
		if p.Next != nil {
			next = *p.Next
		}
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, in, out interface{}) error {
	if c.apiToken == "" {
		return fmt.Errorf("SMS platform API token not set")
	}

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+c.apiToken)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s failed: %w", method, endpoint, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := strings.TrimSpace(string(respBody))
		if len(msg) > 300 {
			msg = msg[:300]
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}
	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
