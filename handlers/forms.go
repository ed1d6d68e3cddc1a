package handlers

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ausocean/utils/logging"

	"github.com/camden-git/membersync/services"
)

// FormHandler serves the self-service opt-in, opt-out and preference forms.
// Every submission carries a form token from GET /forms/token.
type FormHandler struct {
	Self   *services.SelfService
	Tokens *TokenIssuer
	Log    logging.Logger
}

type formTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (h *FormHandler) Token(w http.ResponseWriter, r *http.Request) {
	token, expires, err := h.Tokens.IssueForm()
	if err != nil {
		h.Log.Error("could not issue form token", "error", err)
		WriteAPIError(w, http.StatusServiceUnavailable, "not_configured", "forms are not available")
		return
	}
	writeJSON(w, http.StatusOK, formTokenResponse{Token: token, ExpiresAt: expires})
}

func (h *FormHandler) OptIn(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, "optin", h.Self.OptIn)
}

func (h *FormHandler) OptOut(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, "optout", h.Self.OptOut)
}

func (h *FormHandler) Preferences(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, "preferences", h.Self.UpdatePreferences)
}

func (h *FormHandler) handle(w http.ResponseWriter, r *http.Request, form string, fn func(context.Context, services.FormRequest) (services.FormResult, error)) {
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBody)
	if err := r.ParseForm(); err != nil {
		WriteAPIError(w, http.StatusBadRequest, "invalid_payload", "Invalid form submission")
		return
	}
	if err := h.Tokens.ParseForm(r.PostForm.Get("token")); err != nil {
		h.Log.Debug("form token rejected", "form", form, "error", err)
		WriteAPIError(w, http.StatusUnauthorized, "invalid_token", "form token missing or expired")
		return
	}

	res, err := fn(r.Context(), formRequest(r.PostForm))
	if err != nil {
		writeServiceError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func formRequest(v url.Values) services.FormRequest {
	var groups []string
	for _, key := range []string{"groups", "groups[]"} {
		for _, raw := range v[key] {
			for _, g := range strings.Split(raw, ",") {
				if g = strings.TrimSpace(g); g != "" {
					groups = append(groups, g)
				}
			}
		}
	}
	return services.FormRequest{
		Email:      v.Get("email"),
		FirstName:  v.Get("first_name"),
		LastName:   v.Get("last_name"),
		Phone:      v.Get("phone"),
		Groups:     groups,
		SMSConsent: checked(v.Get("sms_consent")),
	}
}

// checked reads an HTML checkbox value.
func checked(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "on", "true", "1", "yes", "y":
		return true
	}
	return false
}
