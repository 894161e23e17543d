package values

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// PhoneNumber represents a validated phone number value object
type PhoneNumber struct {
	number string // Stored in E.164 format (+1234567890)
}

var (
	// E.164 format regex: + followed by up to 15 digits
	e164Regex = regexp.MustCompile(`^\+[1-9]\d{1,14}$`)

	// US phone number regex for parsing various formats
	usPhoneRegex = regexp.MustCompile(`^(?:\+?1[-.\s]?)?\(?([0-9]{3})\)?[-.\s]?([0-9]{3})[-.\s]?([0-9]{4})$`)
)

// NewPhoneNumber creates a new PhoneNumber value object with validation.
// Accepts E.164 input directly and normalizes common US formats.
func NewPhoneNumber(number string) (PhoneNumber, error) {
	if number == "" {
		return PhoneNumber{}, fmt.Errorf("phone number cannot be empty")
	}

	cleaned := cleanPhoneNumber(number)
	if e164Regex.MatchString(cleaned) {
		return PhoneNumber{number: cleaned}, nil
	}

	if m := usPhoneRegex.FindStringSubmatch(number); m != nil {
		return PhoneNumber{number: "+1" + m[1] + m[2] + m[3]}, nil
	}

	return PhoneNumber{}, fmt.Errorf("invalid phone number format: %s", number)
}

// MustNewPhoneNumber creates PhoneNumber and panics on error (for constants/tests)
func MustNewPhoneNumber(number string) PhoneNumber {
	phone, err := NewPhoneNumber(number)
	if err != nil {
		panic(err)
	}
	return phone
}

// String returns the phone number in E.164 format
func (p PhoneNumber) String() string {
	return p.number
}

// E164 returns the phone number in E.164 format (alias for String)
func (p PhoneNumber) E164() string {
	return p.number
}

// IsEmpty checks if the phone number is empty
func (p PhoneNumber) IsEmpty() bool {
	return p.number == ""
}

// Equal checks if two PhoneNumber values are equal
func (p PhoneNumber) Equal(other PhoneNumber) bool {
	return p.number == other.number
}

// CountryCode returns the leading country code digits without the plus sign.
// DNC matching keys entries by national number + country code, so this is
// the canonical split used across the engine.
func (p PhoneNumber) CountryCode() string {
	if len(p.number) < 2 {
		return ""
	}

	// NANP and the common European codes cover the deployed territories;
	// everything else falls back to a single-digit code.
	for _, cc := range []string{"1", "44", "33", "49", "61", "81"} {
		if strings.HasPrefix(p.number, "+"+cc) {
			return cc
		}
	}
	return p.number[1:2]
}

// NationalNumber returns the digits after the country code
func (p PhoneNumber) NationalNumber() string {
	cc := p.CountryCode()
	if cc == "" {
		return strings.TrimPrefix(p.number, "+")
	}
	return p.number[1+len(cc):]
}

// IsUS checks if the phone number is from US/Canada (+1)
func (p PhoneNumber) IsUS() bool {
	return strings.HasPrefix(p.number, "+1")
}

// AreaCode returns the area code for US numbers
func (p PhoneNumber) AreaCode() string {
	if !p.IsUS() {
		return ""
	}
	national := p.NationalNumber()
	if len(national) != 10 {
		return ""
	}
	return national[:3]
}

// MarshalJSON implements json.Marshaler
func (p PhoneNumber) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.number)
}

// UnmarshalJSON implements json.Unmarshaler
func (p *PhoneNumber) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		p.number = ""
		return nil
	}
	phone, err := NewPhoneNumber(s)
	if err != nil {
		return err
	}
	p.number = phone.number
	return nil
}

// Value implements driver.Valuer for database storage
func (p PhoneNumber) Value() (driver.Value, error) {
	if p.number == "" {
		return nil, nil
	}
	return p.number, nil
}

// Scan implements sql.Scanner for database retrieval
func (p *PhoneNumber) Scan(value interface{}) error {
	if value == nil {
		p.number = ""
		return nil
	}
	switch v := value.(type) {
	case string:
		p.number = v
	case []byte:
		p.number = string(v)
	default:
		return fmt.Errorf("cannot scan %T into PhoneNumber", value)
	}
	return nil
}

func cleanPhoneNumber(number string) string {
	var b strings.Builder
	for i, r := range number {
		if r == '+' && i == 0 {
			b.WriteRune(r)
			continue
		}
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
