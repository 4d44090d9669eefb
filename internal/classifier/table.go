package classifier

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/zwy923/onebox/internal/model"
)

// Rule binds a category to a list of case-insensitive RE2 patterns.
type Rule struct {
	Category model.Category `yaml:"category"`
	Patterns []string       `yaml:"patterns"`
}

// Table is the pattern configuration a Classifier is compiled from.
type Table struct {
	Version    string           `yaml:"version"`
	Overrides  []Rule           `yaml:"overrides"`
	Categories []Rule           `yaml:"categories"`
	Priority   []model.Category `yaml:"priority"`
	Fallback   model.Category   `yaml:"fallback"`
}

// DefaultTable returns the built-in pattern table.
func DefaultTable() Table {
	return Table{
		Version: "builtin-1",
		Overrides: []Rule{
			{
				Category: model.CategoryOutOfOffice,
				Patterns: []string{`out of office`, `automatic reply`, `auto-?reply`, `vacation`, `holiday`, `away from`},
			},
			{
				Category: model.CategoryMeetingBooked,
				Patterns: []string{`zoom\.us/`, `meet\.google\.com`},
			},
		},
		Categories: []Rule{
			{
				Category: model.CategoryInterested,
				Patterns: []string{
					`interested in learning more`,
					`would like to proceed`,
					`next steps`,
					`looking forward`,
					`when can we meet`,
					`schedule a call`,
					`tell me more`,
					`sounds interesting`,
					`would love to discuss`,
					`please provide more information`,
				},
			},
			{
				Category: model.CategoryMeetingBooked,
				Patterns: []string{
					`meeting confirmed`,
					`calendar invite`,
					`scheduled for`,
					`appointment confirmed`,
					`meeting is set`,
					`looking forward to our call`,
					`see you at`,
					`conference details`,
					`zoom\.us/`,
					`meet\.google\.com`,
				},
			},
			{
				Category: model.CategoryNotInterested,
				Patterns: []string{
					`not a good fit`,
					`unfortunately`,
					`not at this time`,
					`decided to go with`,
					`other candidates`,
					`not moving forward`,
					`different direction`,
					`not interested`,
					`best of luck`,
					`thank you for your time`,
				},
			},
			{
				Category: model.CategorySpam,
				Patterns: []string{
					`viagra`,
					`lottery`,
					`prince`,
					`won.*prize`,
					`inheritance`,
					`cryptocurrency`,
					`investment opportunity`,
					`make money fast`,
					`work from home`,
					`limited time offer`,
				},
			},
			{
				Category: model.CategoryOutOfOffice,
				Patterns: []string{
					`out of office`,
					`vacation`,
					`holiday`,
					`away from`,
					`auto-?reply`,
					`automatic reply`,
					`return to office`,
					`will respond`,
					`limited access`,
					`back on`,
				},
			},
		},
		Priority: []model.Category{
			model.CategorySpam,
			model.CategoryOutOfOffice,
			model.CategoryMeetingBooked,
			model.CategoryInterested,
			model.CategoryNotInterested,
		},
		Fallback: model.CategoryNotInterested,
	}
}

// LoadTable reads a YAML pattern table from path.
func LoadTable(path string) (Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Table{}, fmt.Errorf("read pattern table: %w", err)
	}
	var t Table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return Table{}, fmt.Errorf("parse pattern table %s: %w", path, err)
	}
	return t, nil
}
