package domain

import (
	"errors"
	"regexp"
	"strconv"
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// ErrInvalidPhone is returned when input cannot be read as an international number.
var ErrInvalidPhone = errors.New("invalid phone number")

var phoneRe = regexp.MustCompile(`^\+[1-9][0-9]{6,14}$`)

// Phone is a validated phone number split into country code and national part.
type Phone struct {
	E164        string
	CountryCode string
	National    string
}

// ParsePhone normalizes raw user input and splits it into its parts.
// Spaces, dashes and parentheses are ignored; a leading "+" is implied.
func ParsePhone(raw string) (Phone, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '(', ')', '\t':
			return -1
		}
		return r
	}, strings.TrimSpace(raw))
	if cleaned == "" {
		return Phone{}, ErrInvalidPhone
	}
	if !strings.HasPrefix(cleaned, "+") {
		cleaned = "+" + cleaned
	}
	if !phoneRe.MatchString(cleaned) {
		return Phone{}, ErrInvalidPhone
	}

	num, err := phonenumbers.Parse(cleaned, "")
	if err != nil {
		return Phone{}, ErrInvalidPhone
	}
	cc := strconv.Itoa(int(num.GetCountryCode()))
	national := strings.TrimPrefix(cleaned, "+"+cc)
	if national == "" || national == cleaned {
		return Phone{}, ErrInvalidPhone
	}
	return Phone{
		E164:        cleaned,
		CountryCode: "+" + cc,
		National:    national,
	}, nil
}
