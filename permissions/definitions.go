package permissions

import "strings"

// Admin API scopes carried in the "scopes" claim of an admin token.
const (
	PeopleView      = "people.view"
	PeopleTrash     = "people.trash"
	ReconcileRun    = "reconcile.run"
	ReconcileRepair = "reconcile.repair"
	SyncPerson      = "sync.person"
	SyncBulk        = "sync.bulk"
	GroupsView      = "groups.view"
	GroupsRefresh   = "groups.refresh"
	SMSContacts     = "sms.contacts"
	EventsView      = "events.view"
)

// PermissionDefinition describes a single, specific permission
type PermissionDefinition struct {
	Key         string `json:"key"`         // unique key, e.g., "sync.person"
	Name        string `json:"name"`        // friendly name, e.g., "Sync Person"
	Description string `json:"description"` // what the permission allows
}

// PermissionGroupDefinition groups related permissions. A token holding the
// group key holds every permission in the group.
type PermissionGroupDefinition struct {
	Key         string                 `json:"key"`
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Permissions []PermissionDefinition `json:"permissions"`
}

// DefinedPermissionGroups holds all statically defined permission groups and their permissions
var DefinedPermissionGroups = []PermissionGroupDefinition{
	{
		Key:         "people",
		Name:        "People",
		Description: "Viewing and removing person records.",
		Permissions: []PermissionDefinition{
			{Key: PeopleView, Name: "View Person", Description: "Allows viewing a person, the other holders of its email and its sync log."},
			{Key: PeopleTrash, Name: "Trash Person", Description: "Allows unpublishing a person record."},
		},
	},
	{
		Key:         "reconcile",
		Name:        "Primary Reconciliation",
		Description: "Repairing the primary record of shared emails.",
		Permissions: []PermissionDefinition{
			{Key: ReconcileRun, Name: "Reconcile Email", Description: "Allows reconciling the records of one email."},
			{Key: ReconcileRepair, Name: "Repair All", Description: "Allows reconciling every email with zero or several primaries."},
		},
	},
	{
		Key:         "sync",
		Name:        "Synchronization",
		Description: "Pushing records to the email and SMS platforms.",
		Permissions: []PermissionDefinition{
			{Key: SyncPerson, Name: "Sync Person", Description: "Allows pushing one person to the email or SMS platform."},
			{Key: SyncBulk, Name: "Sync All", Description: "Allows pushing every primary record to the email platform."},
		},
	},
	{
		Key:         "groups",
		Name:        "Email Groups",
		Description: "The email platform group catalog.",
		Permissions: []PermissionDefinition{
			{Key: GroupsView, Name: "List Groups", Description: "Allows listing the cached group catalog."},
			{Key: GroupsRefresh, Name: "Refresh Groups", Description: "Allows dropping and refetching the group catalog."},
		},
	},
	{
		Key:         "sms",
		Name:        "SMS Platform",
		Description: "Read-only SMS platform reports.",
		Permissions: []PermissionDefinition{
			{Key: SMSContacts, Name: "Contact Report", Description: "Allows listing every SMS contact for a phone number."},
		},
	},
	{
		Key:         "events",
		Name:        "Event Stream",
		Description: "Live sync outcome events.",
		Permissions: []PermissionDefinition{
			{Key: EventsView, Name: "Watch Events", Description: "Allows subscribing to the websocket event stream."},
		},
	},
}

var (
	allPermissionKeysMap map[string]PermissionDefinition
	allPermissionKeys    []string
	groupKeys            map[string]bool
)

func init() {
	allPermissionKeysMap = make(map[string]PermissionDefinition)
	groupKeys = make(map[string]bool)
	for _, group := range DefinedPermissionGroups {
		groupKeys[group.Key] = true
		for _, perm := range group.Permissions {
			allPermissionKeysMap[perm.Key] = perm
			allPermissionKeys = append(allPermissionKeys, perm.Key)
		}
	}
}

// GetAllPermissionKeys returns a slice of all unique permission string keys
func GetAllPermissionKeys() []string {
	keys := make([]string, len(allPermissionKeys))
	copy(keys, allPermissionKeys)
	return keys
}

// IsValidPermissionKey checks if a given permission or group key is defined
func IsValidPermissionKey(key string) bool {
	_, ok := allPermissionKeysMap[key]
	return ok || groupKeys[key]
}

// GetPermissionDefinition retrieves a specific permission definition by its key.
func GetPermissionDefinition(key string) (PermissionDefinition, bool) {
	def, ok := allPermissionKeysMap[key]
	return def, ok
}

// Grants reports whether the granted keys include required, either directly
// or through its group.
func Grants(granted []string, required string) bool {
	group, _, _ := strings.Cut(required, ".")
	for _, g := range granted {
		if g == required || g == group {
			return true
		}
	}
	return false
}
