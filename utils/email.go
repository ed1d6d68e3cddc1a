package utils

import "strings"

// NormalizeEmail lower-cases and trims an email address so that records
// entered with different casing group together.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
