package accounts

import (
	"errors"
	"strings"

	"github.com/nyaruka/phonenumbers"
)

var ErrInvalidMobile = errors.New("accounts: invalid mobile number")

// Canonicalize parses raw in defaultRegion (ISO 3166-1 alpha-2) and returns E.164.
// Numbers with a leading + ignore the region.
func Canonicalize(raw, defaultRegion string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrInvalidMobile
	}
	num, err := phonenumbers.Parse(raw, strings.ToUpper(defaultRegion))
	if err != nil {
		return "", ErrInvalidMobile
	}
	if !phonenumbers.IsValidNumber(num) {
		return "", ErrInvalidMobile
	}
	return phonenumbers.Format(num, phonenumbers.E164), nil
}
