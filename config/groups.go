package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// GroupAssignment maps the logical subscription buckets onto remote group
// ids on the email platform. It is read-only to the rest of the service.
type GroupAssignment struct {
	NewMember    []string `yaml:"new_member" json:"new_member"`
	NewVolunteer []string `yaml:"new_volunteer" json:"new_volunteer"`
	EmailOptIn   []string `yaml:"email_optin" json:"email_optin"`
	SMSOptIn     []string `yaml:"sms_optin" json:"sms_optin"`

	// SMSTags are SMS platform tag ids attached to every opted-in contact.
	SMSTags []string `yaml:"sms_tags" json:"sms_tags"`
}

// LoadGroups reads a group assignment file such as:
//
//	new_member: ["111"]
//	new_volunteer: ["222"]
//	email_optin: ["333", "444"]
//	sms_optin: ["555"]
//	sms_tags: ["9001"]
func LoadGroups(path string) (GroupAssignment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return GroupAssignment{}, err
	}
	return ParseGroups(data)
}

// ParseGroups decodes a YAML group assignment document.
func ParseGroups(data []byte) (GroupAssignment, error) {
	var g GroupAssignment
	if err := yaml.Unmarshal(data, &g); err != nil {
		return GroupAssignment{}, fmt.Errorf("invalid group assignment: %w", err)
	}
	return g, nil
}
