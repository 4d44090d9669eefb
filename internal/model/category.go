package model

import (
	"errors"
	"fmt"
	"strings"
)

// Category is the closed set of labels a message can carry.
type Category string

const (
	CategoryInterested    Category = "Interested"
	CategoryMeetingBooked Category = "Meeting Booked"
	CategoryNotInterested Category = "Not Interested"
	CategorySpam          Category = "Spam"
	CategoryOutOfOffice   Category = "Out of Office"
	CategoryUncategorized Category = "Uncategorized"
)

var ErrUnknownCategory = errors.New("unknown category")

// Categories lists every valid category in display order.
var Categories = []Category{
	CategoryInterested,
	CategoryMeetingBooked,
	CategoryNotInterested,
	CategorySpam,
	CategoryOutOfOffice,
	CategoryUncategorized,
}

func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

func (c Category) String() string { return string(c) }

// ParseCategory accepts wire values ("Meeting Booked") and identifier forms
// ("MeetingBooked", "meeting_booked"), ignoring case.
func ParseCategory(s string) (Category, error) {
	key := categoryKey(s)
	if key == "" {
		return "", fmt.Errorf("%w: empty", ErrUnknownCategory)
	}
	for _, c := range Categories {
		if categoryKey(string(c)) == key {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownCategory, s)
}

func categoryKey(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if r == ' ' || r == '_' || r == '-' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// UnmarshalText rejects values outside the enumeration.
func (c *Category) UnmarshalText(text []byte) error {
	parsed, err := ParseCategory(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
