package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/ausocean/utils/logging"

	"github.com/camden-git/membersync/services"
)

const maxWebhookBody = 1 << 20

// WebhookHandler serves the inbound donation and SMS provider webhooks.
type WebhookHandler struct {
	Donations *services.DonationService
	OptOut    *services.OptOutService
	Log       logging.Logger
}

// Donation handles POST /webhooks/donation. The caller authenticates with
// HTTP Basic credentials shared with the donation processor.
func (h *WebhookHandler) Donation(w http.ResponseWriter, r *http.Request) {
	user, pass, ok := r.BasicAuth()
	if err := h.Donations.Authenticate(user, pass, ok); err != nil {
		h.Log.Warning("donation webhook rejected", "remote", r.RemoteAddr, "error", err)
		w.Header().Set("WWW-Authenticate", `Basic realm="donations"`)
		WriteAPIError(w, http.StatusUnauthorized, "unauthorized", "invalid webhook credentials")
		return
	}

	var payload services.DonationPayload
	if err := json.NewDecoder(io.LimitReader(r.Body, maxWebhookBody)).Decode(&payload); err != nil {
		WriteAPIError(w, http.StatusBadRequest, "invalid_payload", "Invalid request payload: "+err.Error())
		return
	}

	res, err := h.Donations.Ingest(r.Context(), payload)
	if err != nil {
		writeServiceError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// SMSProvider handles POST /webhooks/sms-provider. It is unauthenticated and
// answers 200 whenever the payload carried a phone, so the provider does not
// retry partial failures; the body says what failed.
func (h *WebhookHandler) SMSProvider(w http.ResponseWriter, r *http.Request) {
	var payload services.StopPayload
	if err := json.NewDecoder(io.LimitReader(r.Body, maxWebhookBody)).Decode(&payload); err != nil {
		WriteAPIError(w, http.StatusBadRequest, "invalid_payload", "Invalid request payload: "+err.Error())
		return
	}

	res, err := h.OptOut.ProcessStopWebhook(r.Context(), payload)
	if err != nil {
		writeServiceError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
