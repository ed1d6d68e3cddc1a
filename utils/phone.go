package utils

import "strings"

// NormalizePhone converts a free-form phone number into the E.164-like form
// used for storage and comparison. Ten digit numbers are assumed domestic,
// eleven digit numbers starting with 1 are given a leading "+". Anything else
// is returned as bare digits, keeping a "+" if the caller supplied one.
func NormalizePhone(raw string) string {
	raw = strings.TrimSpace(raw)
	digits := Digits(raw)
	switch {
	case digits == "":
		return ""
	case len(digits) == 10:
		return "+1" + digits
	case len(digits) == 11 && digits[0] == '1':
		return "+" + digits
	case strings.HasPrefix(raw, "+"):
		return "+" + digits
	}
	return digits
}

// Digits strips every non-digit character from s.
func Digits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// PhonesEqual reports whether two phone numbers refer to the same line.
// The SMS platform omits the leading "+" in search and listing responses,
// so both sides are normalized and stripped of it before comparing.
func PhonesEqual(a, b string) bool {
	na := strings.TrimPrefix(NormalizePhone(a), "+")
	nb := strings.TrimPrefix(NormalizePhone(b), "+")
	return na != "" && na == nb
}

// PhoneSuffix returns the trailing national number (last ten digits) of a
// phone, used for loose matching against stored numbers. Numbers shorter
// than ten digits have no suffix and only ever match exactly.
func PhoneSuffix(phone string) string {
	d := Digits(phone)
	if len(d) < 10 {
		return ""
	}
	return d[len(d)-10:]
}

// RemotePhone formats a normalized phone the way the SMS platform stores it.
func RemotePhone(phone string) string {
	return strings.TrimPrefix(NormalizePhone(phone), "+")
}
