package services

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"sync"
	"testing"
)

// fakeEmailPlatform is an in-memory email platform speaking the subscriber
// and group API.
type fakeEmailPlatform struct {
	mu          sync.Mutex
	subscribers map[string]*fakeSubscriber
	groups      []map[string]string
	calls       []string
	failWith    int // when set, every request fails with this status
}

type fakeSubscriber struct {
	FirstName string
	LastName  string
	Phone     string
	Groups    map[string]bool
	Fields    map[string]string
}

func newFakeEmailPlatform(t *testing.T) (*fakeEmailPlatform, *httptest.Server) {
	f := &fakeEmailPlatform{
		subscribers: map[string]*fakeSubscriber{},
		groups: []map[string]string{
			{"id": "g-member", "title": "New members"},
			{"id": "g-vol", "title": "Volunteers"},
			{"id": "g-news", "title": "Newsletter"},
			{"id": "g-events", "title": "Events"},
			{"id": "g-sms", "title": "SMS list"},
		},
	}
	srv := httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeEmailPlatform) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeEmailPlatform) subscriber(email string) *fakeSubscriber {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscribers[email]
}

func (f *fakeEmailPlatform) groupsOf(email string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub := f.subscribers[email]
	if sub == nil {
		return nil
	}
	var ids []string
	for id := range sub.Groups {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (f *fakeEmailPlatform) put(email string, sub *fakeSubscriber) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if sub.Groups == nil {
		sub.Groups = map[string]bool{}
	}
	if sub.Fields == nil {
		sub.Fields = map[string]string{}
	}
	f.subscribers[email] = sub
}

func writeData(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{"data": data})
}

func (f *fakeEmailPlatform) serve(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, r.Method+" "+r.URL.Path)

	if f.failWith != 0 {
		w.WriteHeader(f.failWith)
		fmt.Fprint(w, `{"message":"platform unavailable"}`)
		return
	}

	var body map[string]interface{}
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&body)
	}

	switch {
	case r.URL.Path == "/groups" && r.Method == http.MethodGet:
		writeData(w, http.StatusOK, f.groups)

	case r.URL.Path == "/subscribers" && r.Method == http.MethodPost:
		email, _ := body["email"].(string)
		sub := &fakeSubscriber{Groups: map[string]bool{}, Fields: map[string]string{}}
		applySubscriberBody(sub, body)
		f.subscribers[email] = sub
		writeData(w, http.StatusOK, map[string]string{"email": email})

	case strings.HasPrefix(r.URL.Path, "/subscribers/groups/"):
		groupID := strings.TrimPrefix(r.URL.Path, "/subscribers/groups/")
		emails, _ := body["subscribers"].([]interface{})
		for _, e := range emails {
			sub := f.subscribers[e.(string)]
			if sub == nil {
				w.WriteHeader(http.StatusNotFound)
				fmt.Fprint(w, `{"message":"Subscriber not found"}`)
				return
			}
			if r.Method == http.MethodDelete {
				delete(sub.Groups, groupID)
			} else {
				sub.Groups[groupID] = true
			}
		}
		writeData(w, http.StatusOK, nil)

	case strings.HasPrefix(r.URL.Path, "/subscribers/"):
		email, _ := url.PathUnescape(strings.TrimPrefix(r.URL.Path, "/subscribers/"))
		sub := f.subscribers[email]
		if sub == nil {
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"message":"Subscriber not found"}`)
			return
		}
		switch r.Method {
		case http.MethodGet:
			var tags []map[string]string
			for id := range sub.Groups {
				tags = append(tags, map[string]string{"id": id})
			}
			var cols []map[string]string
			for k, v := range sub.Fields {
				cols = append(cols, map[string]string{"title": k, "value": v})
			}
			writeData(w, http.StatusOK, map[string]interface{}{
				"email":           email,
				"firstname":       sub.FirstName,
				"lastname":        sub.LastName,
				"phone":           sub.Phone,
				"subscriber_tags": tags,
				"columns":         cols,
			})
		case http.MethodPatch:
			if groups, ok := body["groups"]; ok && groups != nil {
				sub.Groups = map[string]bool{}
			}
			applySubscriberBody(sub, body)
			writeData(w, http.StatusOK, map[string]string{"email": email})
		}

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func applySubscriberBody(sub *fakeSubscriber, body map[string]interface{}) {
	if v, ok := body["firstname"].(string); ok {
		sub.FirstName = v
	}
	if v, ok := body["lastname"].(string); ok {
		sub.LastName = v
	}
	if v, ok := body["phone"].(string); ok {
		sub.Phone = v
	}
	if groups, ok := body["groups"].([]interface{}); ok {
		for _, g := range groups {
			sub.Groups[g.(string)] = true
		}
	}
	if fields, ok := body["fields"].(map[string]interface{}); ok {
		for k, v := range fields {
			sub.Fields[k], _ = v.(string)
		}
	}
}

// fakeSMSPlatform is an in-memory SMS platform with contacts, tags and DNC
// lists. Phones are stored without the leading "+", as the platform does.
type fakeSMSPlatform struct {
	mu         sync.Mutex
	nextID     int
	contacts   map[string]map[string]string
	tags       map[string][]string
	lists      map[string]string
	dnc        map[string]map[string]string
	categories map[string]string
	calls      []string
	failDNC    bool
	// staleDNCReads makes the next n DNC entry lookups come back empty
	staleDNCReads int
}

func newFakeSMSPlatform(t *testing.T) (*fakeSMSPlatform, *httptest.Server) {
	f := &fakeSMSPlatform{
		nextID:     100,
		contacts:   map[string]map[string]string{},
		tags:       map[string][]string{},
		lists:      map[string]string{},
		dnc:        map[string]map[string]string{},
		categories: map[string]string{},
	}
	srv := httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeSMSPlatform) id() string {
	f.nextID++
	return fmt.Sprint(f.nextID)
}

func (f *fakeSMSPlatform) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeSMSPlatform) onDNC(phone string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.dnc {
		if e["phone_number"] == phone {
			return true
		}
	}
	return false
}

func (f *fakeSMSPlatform) addContact(c map[string]string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.id()
	c["id"] = id
	f.contacts[id] = c
	return id
}

func (f *fakeSMSPlatform) contactsWithPhone(phone string) []map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []map[string]string
	for _, c := range f.contacts {
		if c["contact"] == phone {
			out = append(out, c)
		}
	}
	return out
}

func writeJSONBody(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (f *fakeSMSPlatform) serve(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, r.Method+" "+r.URL.Path)

	var body map[string]interface{}
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&body)
	}
	str := func(k string) string {
		s, _ := body[k].(string)
		return s
	}
	q := r.URL.Query()
	path := r.URL.Path

	switch {
	case path == "/v1/contacts/" && r.Method == http.MethodGet:
		results := []map[string]string{}
		for _, c := range f.contacts {
			if p := q.Get("phone_number"); p != "" && c["contact"] == p {
				results = append(results, c)
			}
			if e := q.Get("email"); e != "" && c["email"] == e {
				results = append(results, c)
			}
		}
		sort.Slice(results, func(i, j int) bool { return results[i]["id"] < results[j]["id"] })
		writeJSONBody(w, http.StatusOK, map[string]interface{}{"next": nil, "results": results})

	case path == "/v1/contacts/" && r.Method == http.MethodPost:
		id := f.id()
		c := map[string]string{"id": id, "contact": str("contact"), "email": str("email"), "first_name": str("first_name"), "last_name": str("last_name")}
		f.contacts[id] = c
		writeJSONBody(w, http.StatusCreated, c)

	case strings.HasPrefix(path, "/v1/contacts/") && r.Method == http.MethodPatch:
		id := strings.Trim(strings.TrimPrefix(path, "/v1/contacts/"), "/")
		c := f.contacts[id]
		if c == nil {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		for _, k := range []string{"contact", "email", "first_name", "last_name"} {
			if v := str(k); v != "" {
				c[k] = v
			}
		}
		writeJSONBody(w, http.StatusOK, c)

	case strings.HasPrefix(path, "/v2/contacts/") && strings.HasSuffix(path, "/taggings/"):
		id := strings.TrimSuffix(strings.TrimPrefix(path, "/v2/contacts/"), "/taggings/")
		tags, _ := body["tags"].([]interface{})
		for _, t := range tags {
			f.tags[id] = append(f.tags[id], t.(string))
		}
		writeJSONBody(w, http.StatusOK, map[string]string{})

	case path == "/v1/dnc_lists/" && r.Method == http.MethodGet:
		results := []map[string]string{}
		for id, name := range f.lists {
			results = append(results, map[string]string{"id": id, "name": name})
		}
		writeJSONBody(w, http.StatusOK, map[string]interface{}{"next": nil, "results": results})

	case path == "/v1/dnc_lists/" && r.Method == http.MethodPost:
		id := f.id()
		f.lists[id] = str("name")
		writeJSONBody(w, http.StatusCreated, map[string]string{"id": id, "name": str("name")})

	case path == "/v1/dnc_contacts/" && r.Method == http.MethodGet:
		results := []map[string]string{}
		if f.staleDNCReads > 0 {
			f.staleDNCReads--
			writeJSONBody(w, http.StatusOK, map[string]interface{}{"next": nil, "results": results})
			return
		}
		for _, e := range f.dnc {
			if e["phone_number"] == q.Get("phone_number") {
				results = append(results, e)
			}
		}
		writeJSONBody(w, http.StatusOK, map[string]interface{}{"next": nil, "results": results})

	case path == "/v1/dnc_contacts/" && r.Method == http.MethodPost:
		if f.failDNC {
			writeJSONBody(w, http.StatusServiceUnavailable, map[string]string{"detail": "down"})
			return
		}
		for _, e := range f.dnc {
			if e["phone_number"] == str("phone_number") && e["dnc"] == str("dnc") {
				writeJSONBody(w, http.StatusBadRequest, map[string][]string{"non_field_errors": {"The fields dnc, phone_number must make a unique set."}})
				return
			}
		}
		id := f.id()
		f.dnc[id] = map[string]string{
			"id":           id,
			"dnc":          str("dnc"),
			"phone_number": str("phone_number"),
		}
		f.categories[id] = fmt.Sprint(body["category"])
		writeJSONBody(w, http.StatusCreated, f.dnc[id])

	case strings.HasPrefix(path, "/v1/dnc_contacts/") && r.Method == http.MethodDelete:
		id := strings.Trim(strings.TrimPrefix(path, "/v1/dnc_contacts/"), "/")
		delete(f.dnc, id)
		w.WriteHeader(http.StatusNoContent)

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}
