package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/ausocean/utils/logging"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/logger"

	"github.com/camden-git/membersync/config"
	"github.com/camden-git/membersync/database"
	"github.com/camden-git/membersync/emailplatform"
	"github.com/camden-git/membersync/models"
	"github.com/camden-git/membersync/notify"
	"github.com/camden-git/membersync/permissions"
	"github.com/camden-git/membersync/realtime"
	"github.com/camden-git/membersync/repository"
	"github.com/camden-git/membersync/services"
	"github.com/camden-git/membersync/smsplatform"
)

type testServer struct {
	handler http.Handler
	tokens  *TokenIssuer
	people  *repository.GormPersonRepository
	cfg     *config.Config
}

// newTestServer wires the real services over an in-memory database. Neither
// platform has credentials, so every remote step is skipped.
func newTestServer(t *testing.T) *testServer {
	t.Helper()
	log := (*logging.TestLogger)(t)

	db, err := database.Open("file:"+uuid.NewString()+"?mode=memory&cache=shared", logger.Silent, log)
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	cfg := &config.Config{
		WebhookUsername: "hook",
		WebhookPassword: "secret",
		DuesFormID:      "dues",
		DonationChannel: config.DefaultDonationChannel,
		SyncWorkers:     2,
		HTTPTimeout:     time.Second,
		AdminJWTSecret:  "admin-secret",
		FormTokenSecret: "form-secret",
		AllowedOrigins:  []string{"*"},
		Assignment:      config.GroupAssignment{EmailOptIn: []string{"g-news"}},
	}

	hub := realtime.NewHub(log)
	go hub.Run()

	people := repository.NewPersonRepository(db)
	accounts := repository.NewGormAccountRepository(db)
	emailClient := emailplatform.NewClient(cfg.EmailPlatform())
	smsClient := smsplatform.NewClient(cfg.SMSPlatform())

	reconciler := services.NewReconciler(people, log, hub)
	resolver := services.NewResolver(people, accounts, reconciler, log, false)
	email := services.NewEmailSync(people, cfg, emailClient, emailplatform.NewGroupCatalog(emailClient, emailplatform.CatalogTTL), log, hub, cfg.SyncWorkers)
	sms := services.NewSMSSync(people, cfg, smsClient, log, hub)
	notifier, err := notify.New(log)
	require.NoError(t, err)

	tokens := NewTokenIssuer(cfg.AdminJWTSecret, cfg.FormTokenSecret)
	rt := &Router{
		Webhooks: &WebhookHandler{
			Donations: services.NewDonationService(cfg, people, resolver, email, log, hub),
			OptOut:    services.NewOptOutService(people, cfg, email, sms, log, hub),
			Log:       log,
		},
		Forms: &FormHandler{
			Self:   services.NewSelfService(people, cfg, resolver, email, sms, log),
			Tokens: tokens,
			Log:    log,
		},
		People:         &PersonHandler{People: services.NewPeopleService(people, reconciler, log), Email: email, SMS: sms, Log: log},
		Admin:          &AdminHandler{Reconciler: reconciler, Email: email, SMS: sms, Notifier: notifier, Log: log},
		Hub:            hub,
		Tokens:         tokens,
		AllowedOrigins: cfg.AllowedOrigins,
		Log:            log,
	}
	return &testServer{handler: rt.Handler(), tokens: tokens, people: people, cfg: cfg}
}

func (s *testServer) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) adminToken(t *testing.T, scopes ...string) string {
	t.Helper()
	token, _, err := s.tokens.IssueAdmin("ops", scopes, time.Hour)
	require.NoError(t, err)
	return token
}

func (s *testServer) admin(t *testing.T, method, path, body string, scopes ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+s.adminToken(t, scopes...))
	return s.do(t, req)
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp APIErrorResponse
	decode(t, rec, &resp)
	require.Len(t, resp.Errors, 1)
	return resp.Errors[0].Code
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ok")
}

func donationRequest(body, user, pass string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/donation", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.SetBasicAuth(user, pass)
	}
	return req
}

func TestDonationWebhookAuth(t *testing.T) {
	s := newTestServer(t)
	body := `{"donor":{"email":"a@example.com"},"contribution":{"contributionForm":"dues"}}`

	rec := s.do(t, donationRequest(body, "", ""))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))

	rec = s.do(t, donationRequest(body, "hook", "nope"))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	people, err := s.people.ListPublished()
	require.NoError(t, err)
	assert.Empty(t, people)
}

func TestDonationWebhook(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, donationRequest(`{"donor":`, "hook", "secret"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, donationRequest(`{"donor":{"email":""},"contribution":{"contributionForm":"dues"}}`, "hook", "secret"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_failed", errorCode(t, rec))

	rec = s.do(t, donationRequest(`{"donor":{"email":"a@example.com"},"contribution":{"contributionForm":"other"}}`, "hook", "secret"))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, donationRequest(`{"donor":{"email":"A@Example.com","firstname":"Ann","lastname":"Lee"},
		"contribution":{"contributionForm":"dues"},"lineitems":[{"lineitemId":77}]}`, "hook", "secret"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res services.IngestResult
	decode(t, rec, &res)
	assert.True(t, res.Success)
	require.NotZero(t, res.PersonID)

	p, err := s.people.GetByID(res.PersonID)
	require.NoError(t, err)
	assert.Equal(t, "a@example.com", p.Email)
	assert.Equal(t, "active", p.MembershipStatus)
	assert.True(t, p.IsPrimary)
	assert.Equal(t, "77", p.LastLineItemID)
}

func TestSMSProviderWebhook(t *testing.T) {
	s := newTestServer(t)
	phone := "+15551234567"
	p := &models.Person{Email: "a@example.com", Phone: &phone, SMSOptedIn: true, IsPrimary: true}
	require.NoError(t, s.people.Create(p))

	post := func(body string) *httptest.ResponseRecorder {
		return s.do(t, httptest.NewRequest(http.MethodPost, "/webhooks/sms-provider", strings.NewReader(body)))
	}

	rec := post(`{"data":{"content":"STOP"}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = post(`not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = post(`{"data":{"from_number":"5551234567","content":"Stop"}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res services.StopResult
	decode(t, rec, &res)
	assert.True(t, res.Success, res.Message)

	got, err := s.people.GetByID(p.ID)
	require.NoError(t, err)
	assert.False(t, got.SMSOptedIn)
	assert.Equal(t, "sms_keyword:STOP", got.SMSOptOutSource)
}

func TestFormsRequireToken(t *testing.T) {
	s := newTestServer(t)
	form := url.Values{"email": {"f@example.com"}, "first_name": {"Fay"}}

	post := func(v url.Values) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/forms/optin", strings.NewReader(v.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return s.do(t, req)
	}

	rec := post(form)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid_token", errorCode(t, rec))

	// an admin token is not a form token
	form.Set("token", s.adminToken(t, "people"))
	rec = post(form)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, httptest.NewRequest(http.MethodGet, "/forms/token", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var tok formTokenResponse
	decode(t, rec, &tok)
	require.NotEmpty(t, tok.Token)

	form.Set("token", tok.Token)
	form.Set("phone", "555 123 4567")
	form.Set("sms_consent", "on")
	form["groups[]"] = []string{"g-news"}
	rec = post(form)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res services.FormResult
	decode(t, rec, &res)
	assert.True(t, res.Success)
	assert.NotEmpty(t, res.Warnings, "platforms are not configured")

	p, err := s.people.GetByID(res.PersonID)
	require.NoError(t, err)
	assert.True(t, p.SMSOptedIn)
	assert.Equal(t, "+15551234567", p.PhoneNumber())
}

func TestFormValidation(t *testing.T) {
	s := newTestServer(t)
	token, _, err := s.tokens.IssueForm()
	require.NoError(t, err)

	form := url.Values{"token": {token}}
	req := httptest.NewRequest(http.MethodPost, "/forms/preferences", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := s.do(t, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_failed", errorCode(t, rec))
}

func TestFormRequestParsing(t *testing.T) {
	req := formRequest(url.Values{
		"email":       {"x@example.com"},
		"groups":      {"a, b"},
		"groups[]":    {"c"},
		"sms_consent": {"Yes"},
	})
	assert.Equal(t, []string{"a", "b", "c"}, req.Groups)
	assert.True(t, req.SMSConsent)
	assert.False(t, checked(""))
	assert.False(t, checked("off"))
}

func TestAdminAuth(t *testing.T) {
	s := newTestServer(t)
	p := &models.Person{Email: "v@example.com", FirstName: "Vi", IsPrimary: true}
	require.NoError(t, s.people.Create(p))
	path := fmt.Sprintf("/api/admin/people/%d", p.ID)

	rec := s.do(t, httptest.NewRequest(http.MethodGet, path, nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set("Authorization", "Token abc")
	assert.Equal(t, http.StatusUnauthorized, s.do(t, req).Code)

	req = httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	assert.Equal(t, http.StatusUnauthorized, s.do(t, req).Code)

	rec = s.admin(t, http.MethodGet, path, "", permissions.SyncBulk)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.admin(t, http.MethodGet, path, "", permissions.PeopleView)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var view services.PersonView
	decode(t, rec, &view)
	assert.Equal(t, p.ID, view.Person.ID)
	assert.Len(t, view.Holders, 1)

	// query token for websocket clients
	req = httptest.NewRequest(http.MethodGet, path+"?access_token="+s.adminToken(t, "people"), nil)
	assert.Equal(t, http.StatusOK, s.do(t, req).Code)
}

func TestAdminExpiredToken(t *testing.T) {
	s := newTestServer(t)
	issued := time.Now().Add(-2 * time.Hour)
	s.tokens.now = func() time.Time { return issued }
	token, _, err := s.tokens.IssueAdmin("ops", []string{"people"}, time.Hour)
	require.NoError(t, err)
	s.tokens.now = time.Now

	req := httptest.NewRequest(http.MethodGet, "/api/admin/permissions", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	assert.Equal(t, http.StatusUnauthorized, s.do(t, req).Code)
}

func TestAdminPeople(t *testing.T) {
	s := newTestServer(t)
	a := &models.Person{Email: "t@example.com", FirstName: "A", IsPrimary: true}
	b := &models.Person{Email: "t@example.com", FirstName: "B"}
	require.NoError(t, s.people.Create(a))
	require.NoError(t, s.people.Create(b))

	rec := s.admin(t, http.MethodGet, "/api/admin/people/abc", "", "people")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.admin(t, http.MethodGet, "/api/admin/people/9999", "", "people")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.admin(t, http.MethodDelete, fmt.Sprintf("/api/admin/people/%d", a.ID), "", "people")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	got, err := s.people.GetByID(b.ID)
	require.NoError(t, err)
	assert.True(t, got.IsPrimary)

	// unconfigured platform: a skip, not a failure
	rec = s.admin(t, http.MethodPost, fmt.Sprintf("/api/admin/people/%d/sync/email", b.ID), "", "sync")
	require.Equal(t, http.StatusOK, rec.Code)
	var res services.SyncResult
	decode(t, rec, &res)
	assert.Equal(t, services.StatusSkipped, res.Status)
}

func TestAdminReconcile(t *testing.T) {
	s := newTestServer(t)
	a := &models.Person{Email: "r@example.com", IsPrimary: true}
	b := &models.Person{Email: "r@example.com", IsPrimary: true}
	require.NoError(t, s.people.Create(a))
	require.NoError(t, s.people.Create(b))

	rec := s.admin(t, http.MethodPost, "/api/admin/reconcile", `{"email":""}`, "reconcile")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.admin(t, http.MethodPost, "/api/admin/reconcile", `{"email":"R@example.com"}`, "reconcile")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	holders, err := s.people.ListByEmail("r@example.com")
	require.NoError(t, err)
	primaries := 0
	for _, p := range holders {
		if p.IsPrimary {
			primaries++
		}
	}
	assert.Equal(t, 1, primaries)

	rec = s.admin(t, http.MethodPost, "/api/admin/repair", "", permissions.ReconcileRepair)
	require.Equal(t, http.StatusOK, rec.Code)
	var report services.RepairReport
	decode(t, rec, &report)
	assert.Zero(t, report.EmailsRepaired)
}

func TestAdminPlatformsNotConfigured(t *testing.T) {
	s := newTestServer(t)

	rec := s.admin(t, http.MethodPost, "/api/admin/sync-all", "", "sync")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "not_configured", errorCode(t, rec))

	rec = s.admin(t, http.MethodGet, "/api/admin/groups", "", "groups")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = s.admin(t, http.MethodGet, "/api/admin/sms/contacts?phone=5551234567", "", "sms")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAdminPermissions(t *testing.T) {
	s := newTestServer(t)
	rec := s.admin(t, http.MethodGet, "/api/admin/permissions", "", "people", permissions.SyncBulk)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Groups  []permissions.PermissionGroupDefinition `json:"groups"`
		Granted []string                                `json:"granted"`
	}
	decode(t, rec, &body)
	assert.Len(t, body.Groups, len(permissions.DefinedPermissionGroups))
	assert.Equal(t, []string{"people", permissions.SyncBulk}, body.Granted)
}

func TestTokenIssuerWithoutSecret(t *testing.T) {
	tokens := NewTokenIssuer("", "")
	_, _, err := tokens.IssueForm()
	assert.ErrorIs(t, err, ErrNoSecret)
	_, err = tokens.ParseAdmin("anything")
	assert.ErrorIs(t, err, ErrNoSecret)
}
