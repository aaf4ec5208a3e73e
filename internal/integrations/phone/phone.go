// Package phone validates international phone numbers.
package phone

import (
	"strings"

	"github.com/nyaruka/phonenumbers"

	"pairbot/internal/domain"
)

// Validator parses numbers written in international form.
type Validator struct{}

func New() Validator {
	return Validator{}
}

// Parse returns raw in E.164 form without the leading plus, or false when
// raw is not a valid number.
func (Validator) Parse(raw string) (domain.Phone, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "+" {
		return "", false
	}
	num, err := phonenumbers.Parse(raw, "")
	if err != nil {
		return "", false
	}
	if !phonenumbers.IsValidNumber(num) {
		return "", false
	}
	e164 := phonenumbers.Format(num, phonenumbers.E164)
	return domain.Phone(strings.TrimPrefix(e164, "+")), true
}
