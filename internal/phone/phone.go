// Package phone normalizes and validates recipient numbers with the
// libphonenumber metadata. Numbers without a country code are read as
// Brazilian.
package phone

import (
	"strings"

	"github.com/nyaruka/phonenumbers"
)

const (
	DefaultRegion = "BR"
	CountryBR     = "55"
)

// Normalize returns the number as E.164 digits without the leading "+".
// Numbers libphonenumber cannot parse are returned as bare digits so the
// sender can report why; "" means no digits at all.
func Normalize(raw string) string {
	digits := digitsOnly(raw)
	if digits == "" {
		return ""
	}
	num, err := phonenumbers.Parse(raw, DefaultRegion)
	if err != nil {
		return strings.TrimLeft(digits, "0")
	}
	return strings.TrimPrefix(phonenumbers.Format(num, phonenumbers.E164), "+")
}

// Validate checks a normalized number against the numbering plan of its
// country. It returns a human readable reason when the number is not
// sendable.
func Validate(n string) (bool, string) {
	if n == "" {
		return false, "number is empty"
	}
	if digitsOnly(n) != n {
		return false, "number must contain digits only"
	}
	num, err := phonenumbers.Parse("+"+n, "")
	if err != nil {
		return false, "cannot parse number: " + err.Error()
	}
	switch phonenumbers.IsPossibleNumberWithReason(num) {
	case phonenumbers.INVALID_COUNTRY_CODE:
		return false, "unknown country code"
	case phonenumbers.TOO_SHORT:
		return false, "number is too short"
	case phonenumbers.TOO_LONG:
		return false, "number is too long"
	case phonenumbers.INVALID_LENGTH:
		return false, "number has an invalid length"
	}
	if !phonenumbers.IsValidNumber(num) {
		region := phonenumbers.GetRegionCodeForNumber(num)
		if region == "" || region == "ZZ" {
			return false, "number does not match any numbering plan"
		}
		return false, "not a valid " + region + " number"
	}
	return true, ""
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
