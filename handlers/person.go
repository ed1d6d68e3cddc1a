package handlers

import (
	"net/http"
	"strconv"

	"github.com/ausocean/utils/logging"
	"github.com/go-chi/chi/v5"

	"github.com/camden-git/membersync/services"
)

// PersonHandler is the admin view of person records and their per-person
// syncs.
type PersonHandler struct {
	People *services.PeopleService
	Email  *services.EmailSync
	SMS    *services.SMSSync
	Log    logging.Logger
}

func personID(w http.ResponseWriter, r *http.Request) (uint, bool) {
	idStr := chi.URLParam(r, "person_id")
	id, err := strconv.ParseUint(idStr, 10, 64)
	if err != nil || id == 0 {
		WriteAPIError(w, http.StatusBadRequest, "invalid_id", "Invalid person ID format")
		return 0, false
	}
	return uint(id), true
}

func (h *PersonHandler) GetPerson(w http.ResponseWriter, r *http.Request) {
	id, ok := personID(w, r)
	if !ok {
		return
	}
	view, err := h.People.Get(id)
	if err != nil {
		writeServiceError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *PersonHandler) TrashPerson(w http.ResponseWriter, r *http.Request) {
	id, ok := personID(w, r)
	if !ok {
		return
	}
	if err := h.People.Trash(r.Context(), id); err != nil {
		writeServiceError(w, h.Log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *PersonHandler) SyncEmail(w http.ResponseWriter, r *http.Request) {
	id, ok := personID(w, r)
	if !ok {
		return
	}
	writeSyncResult(w, h.Email.SyncPerson(r.Context(), id, false))
}

func (h *PersonHandler) SyncVolunteer(w http.ResponseWriter, r *http.Request) {
	id, ok := personID(w, r)
	if !ok {
		return
	}
	writeSyncResult(w, h.Email.SyncVolunteer(r.Context(), id))
}

func (h *PersonHandler) SyncSMS(w http.ResponseWriter, r *http.Request) {
	id, ok := personID(w, r)
	if !ok {
		return
	}
	var tags []string
	if t := r.URL.Query().Get("tags"); t != "" {
		tags = append(tags, splitParam(t)...)
	}
	writeSyncResult(w, h.SMS.SyncPersonSMS(r.Context(), id, tags))
}

// writeSyncResult answers 502 when the remote platform refused the push.
func writeSyncResult(w http.ResponseWriter, res services.SyncResult) {
	status := http.StatusOK
	if res.Failed() {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, res)
}
