package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/ausocean/utils/logging"

	"github.com/camden-git/membersync/notify"
	"github.com/camden-git/membersync/services"
	"github.com/camden-git/membersync/utils"
)

// AdminHandler serves the bulk and platform-facing admin operations.
type AdminHandler struct {
	Reconciler *services.Reconciler
	Email      *services.EmailSync
	SMS        *services.SMSSync
	Notifier   *notify.Notifier
	Log        logging.Logger
}

type reconcileRequest struct {
	Email string `json:"email"`
}

// Reconcile handles POST /api/admin/reconcile {"email": "..."}.
func (h *AdminHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	var req reconcileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteAPIError(w, http.StatusBadRequest, "invalid_payload", "Invalid request payload: "+err.Error())
		return
	}
	email := utils.NormalizeEmail(req.Email)
	if email == "" {
		WriteAPIError(w, http.StatusBadRequest, "validation_failed", "email is required")
		return
	}
	if err := h.Reconciler.Reconcile(r.Context(), email); err != nil {
		writeServiceError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "email": email})
}

func (h *AdminHandler) RepairAll(w http.ResponseWriter, r *http.Request) {
	report, err := h.Reconciler.RepairAll(r.Context())
	if err != nil {
		writeServiceError(w, h.Log, err)
		return
	}
	alertFailures(r.Context(), h.Notifier, h.Log, "repair", report.Failures)
	writeJSON(w, http.StatusOK, report)
}

func (h *AdminHandler) SyncAll(w http.ResponseWriter, r *http.Request) {
	report, err := h.Email.SyncAll(r.Context())
	if err != nil {
		writeServiceError(w, h.Log, err)
		return
	}
	alertFailures(r.Context(), h.Notifier, h.Log, "sync-all", report.Failures)
	writeJSON(w, http.StatusOK, report)
}

func (h *AdminHandler) ListGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := h.Email.Groups(r.Context())
	if err != nil {
		writeServiceError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, groups)
}

func (h *AdminHandler) RefreshGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := h.Email.RefreshGroups(r.Context())
	if err != nil {
		writeServiceError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, groups)
}

// SMSContacts lists every SMS platform contact for ?phone=, for finding
// duplicates.
func (h *AdminHandler) SMSContacts(w http.ResponseWriter, r *http.Request) {
	contacts, err := h.SMS.FindAllContactsByPhone(r.Context(), r.URL.Query().Get("phone"))
	if err != nil {
		writeServiceError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"count": len(contacts), "contacts": contacts})
}

// alertFailures emails the operator when a bulk run had failures. Delivery
// problems never fail the request.
func alertFailures[K comparable](ctx context.Context, n *notify.Notifier, log logging.Logger, kind string, failures map[K]string) {
	if len(failures) == 0 || !n.Enabled() {
		return
	}
	if err := n.Send(ctx, kind, notify.Failures(kind, failures)); err != nil {
		log.Warning("could not send operator alert", "kind", kind, "error", err)
	}
}

func splitParam(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
