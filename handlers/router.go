package handlers

import (
	"net/http"
	"time"

	"github.com/ausocean/utils/logging"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/camden-git/membersync/permissions"
	"github.com/camden-git/membersync/realtime"
)

// Router holds everything the HTTP surface is built from.
type Router struct {
	Webhooks       *WebhookHandler
	Forms          *FormHandler
	People         *PersonHandler
	Admin          *AdminHandler
	Hub            *realtime.Hub
	Tokens         *TokenIssuer
	AllowedOrigins []string
	Log            logging.Logger
}

// Handler wires the routes.
func (rt *Router) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(rt.Log))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))

		r.Route("/webhooks", func(r chi.Router) {
			r.Post("/donation", rt.Webhooks.Donation)
			r.Post("/sms-provider", rt.Webhooks.SMSProvider)
		})

		// the forms are embedded on other sites
		corsHandler := cors.New(cors.Options{
			AllowedOrigins: rt.AllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type"},
			MaxAge:         300,
		})
		r.Route("/forms", func(r chi.Router) {
			r.Use(corsHandler.Handler)
			r.Get("/token", rt.Forms.Token)
			r.Post("/optin", rt.Forms.OptIn)
			r.Post("/optout", rt.Forms.OptOut)
			r.Post("/preferences", rt.Forms.Preferences)
		})

		r.Route("/api/admin", func(r chi.Router) {
			r.Use(AdminAuth(rt.Tokens, rt.Log))

			perms := &PermissionHandler{}
			r.Get("/permissions", perms.ListPermissionDefinitions)
			r.Get("/permissions/keys", perms.ListPermissionKeys)

			r.With(RequireScope(permissions.ReconcileRun)).Post("/reconcile", rt.Admin.Reconcile)
			r.With(RequireScope(permissions.ReconcileRepair)).Post("/repair", rt.Admin.RepairAll)
			r.With(RequireScope(permissions.SyncBulk)).Post("/sync-all", rt.Admin.SyncAll)

			r.Route("/people/{person_id}", func(r chi.Router) {
				r.With(RequireScope(permissions.PeopleView)).Get("/", rt.People.GetPerson)
				r.With(RequireScope(permissions.PeopleTrash)).Delete("/", rt.People.TrashPerson)
				r.Route("/sync", func(r chi.Router) {
					r.Use(RequireScope(permissions.SyncPerson))
					r.Post("/email", rt.People.SyncEmail)
					r.Post("/volunteer", rt.People.SyncVolunteer)
					r.Post("/sms", rt.People.SyncSMS)
				})
			})

			r.With(RequireScope(permissions.GroupsView)).Get("/groups", rt.Admin.ListGroups)
			r.With(RequireScope(permissions.GroupsRefresh)).Post("/groups/refresh", rt.Admin.RefreshGroups)
			r.With(RequireScope(permissions.SMSContacts)).Get("/sms/contacts", rt.Admin.SMSContacts)
		})
	})

	// long-lived, so outside the request timeout
	r.With(AdminAuth(rt.Tokens, rt.Log), RequireScope(permissions.EventsView)).Get("/api/admin/events", rt.Hub.ServeWS)

	return r
}
