package models

import "time"

// Record statuses. Only published records take part in resolution,
// reconciliation and synchronization.
const (
	RecordPublished = "publish"
	RecordDraft     = "draft"
	RecordTrashed   = "trash"
)

// MaxSyncLogEntries bounds the per-person sync log.
const MaxSyncLogEntries = 50

// Sync log channels.
const (
	ChannelEmail     = "email"
	ChannelSMS       = "sms"
	ChannelDonation  = "donation"
	ChannelOptOut    = "sms_stop"
	ChannelSelfServe = "self_service"
)

// Person represents one human contact using GORM.
// It corresponds to the 'people' table. Email is not unique: several
// records may share an address, exactly one of which is primary.
type Person struct {
	ID        uint    `gorm:"primaryKey;autoIncrement" json:"id"`
	Email     string  `gorm:"index;not null;default:''" json:"email"`
	FirstName string  `gorm:"not null;default:''" json:"first_name"`
	LastName  string  `gorm:"not null;default:''" json:"last_name"`
	Phone     *string `gorm:"index" json:"phone,omitempty"` // normalized on write

	Addr1   string `json:"addr1,omitempty"`
	City    string `json:"city,omitempty"`
	State   string `json:"state,omitempty"`
	Zip     string `json:"zip,omitempty"`
	Country string `json:"country,omitempty"`

	MembershipStatus string     `gorm:"not null;default:'none'" json:"membership_status"`
	MembershipType   string     `json:"membership_type,omitempty"`
	IsSustaining     bool       `gorm:"not null;default:false" json:"is_sustaining"`
	StartDate        *time.Time `json:"start_date,omitempty"`
	EndDate          *time.Time `json:"end_date,omitempty"`
	DuesPaidVia      string     `json:"dues_paid_via,omitempty"`
	PreviousStatus   string     `json:"previous_status,omitempty"` // last status pushed to the email platform
	LastLineItemID   string     `json:"last_line_item_id,omitempty"`

	LinkedAccountID *uint `gorm:"uniqueIndex" json:"linked_account_id,omitempty"`
	IsPrimary       bool  `gorm:"index;not null;default:false" json:"is_primary"`
	ActualPrimaryID *uint `json:"actual_primary_id,omitempty"` // set only when IsPrimary is false

	SMSOptedIn      bool       `gorm:"column:sms_opted_in;not null;default:false" json:"sms_opted_in"`
	SMSOptOutDate   *time.Time `gorm:"column:sms_opt_out_date" json:"sms_opt_out_date,omitempty"`
	SMSOptOutSource string     `gorm:"column:sms_opt_out_source" json:"sms_opt_out_source,omitempty"`

	SyncLog []SyncLogEntry `gorm:"serializer:json" json:"sync_log"`

	RecordStatus string    `gorm:"index;not null;default:'publish'" json:"record_status"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// SyncLogEntry is one provenance record in a person's sync log.
type SyncLogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Channel   string    `json:"channel"`
	Success   bool      `json:"success"`
	Message   string    `json:"message"`
}

// TableName explicitly sets the table name for GORM.
func (Person) TableName() string {
	return "people"
}

// IsPublished reports whether the record is live.
func (p *Person) IsPublished() bool {
	return p.RecordStatus == "" || p.RecordStatus == RecordPublished
}

// PhoneNumber returns the stored phone or the empty string.
func (p *Person) PhoneNumber() string {
	if p.Phone == nil {
		return ""
	}
	return *p.Phone
}

// FullName joins first and last name.
func (p *Person) FullName() string {
	switch {
	case p.FirstName == "":
		return p.LastName
	case p.LastName == "":
		return p.FirstName
	}
	return p.FirstName + " " + p.LastName
}

// AppendSyncLog appends an entry, keeping only the newest MaxSyncLogEntries.
func AppendSyncLog(log []SyncLogEntry, entry SyncLogEntry) []SyncLogEntry {
	log = append(log, entry)
	if over := len(log) - MaxSyncLogEntries; over > 0 {
		trimmed := make([]SyncLogEntry, MaxSyncLogEntries)
		copy(trimmed, log[over:])
		log = trimmed
	}
	return log
}
