package classifier

import (
	"errors"
	"fmt"
	"regexp"

	"golang.org/x/text/cases"

	"github.com/zwy923/onebox/internal/model"
)

// Step names the stage of the decision procedure that produced a category.
type Step string

const (
	StepOverride Step = "override"
	StepScore    Step = "score"
	StepTiebreak Step = "tiebreak"
	StepFallback Step = "fallback"
)

// Decision explains a classification.
type Decision struct {
	Category model.Category         `json:"category"`
	Step     Step                   `json:"step"`
	Rule     string                 `json:"rule,omitempty"` // override pattern that fired
	Scores   map[model.Category]int `json:"scores,omitempty"`
	Version  string                 `json:"version"`
}

type compiledRule struct {
	category model.Category
	patterns []*regexp.Regexp
}

// Classifier is an immutable compiled Table. It is safe for concurrent use.
type Classifier struct {
	version    string
	overrides  []compiledRule
	categories []compiledRule
	priority   []model.Category
	fallback   model.Category
}

// New compiles t. Every scored category must appear in the priority list so
// that any tie has a defined winner.
func New(t Table) (*Classifier, error) {
	if !t.Fallback.Valid() {
		return nil, fmt.Errorf("fallback: %w: %q", model.ErrUnknownCategory, t.Fallback)
	}
	if len(t.Priority) == 0 {
		return nil, errors.New("priority order is empty")
	}
	ranked := make(map[model.Category]bool, len(t.Priority))
	for _, c := range t.Priority {
		if !c.Valid() {
			return nil, fmt.Errorf("priority: %w: %q", model.ErrUnknownCategory, c)
		}
		ranked[c] = true
	}

	c := &Classifier{
		version:  t.Version,
		priority: append([]model.Category(nil), t.Priority...),
		fallback: t.Fallback,
	}

	var err error
	if c.overrides, err = compileRules(t.Overrides); err != nil {
		return nil, fmt.Errorf("overrides: %w", err)
	}
	if c.categories, err = compileRules(t.Categories); err != nil {
		return nil, fmt.Errorf("categories: %w", err)
	}
	for _, r := range c.categories {
		if !ranked[r.category] {
			return nil, fmt.Errorf("category %q missing from priority order", r.category)
		}
	}
	return c, nil
}

// MustNew is New for tables known to be valid, such as DefaultTable.
func MustNew(t Table) *Classifier {
	c, err := New(t)
	if err != nil {
		panic(err)
	}
	return c
}

func compileRules(rules []Rule) ([]compiledRule, error) {
	out := make([]compiledRule, 0, len(rules))
	for _, r := range rules {
		if !r.Category.Valid() {
			return nil, fmt.Errorf("%w: %q", model.ErrUnknownCategory, r.Category)
		}
		cr := compiledRule{category: r.Category}
		for _, p := range r.Patterns {
			re, err := regexp.Compile("(?i)" + p)
			if err != nil {
				return nil, fmt.Errorf("%s pattern %q: %w", r.Category, p, err)
			}
			cr.patterns = append(cr.patterns, re)
		}
		out = append(out, cr)
	}
	return out, nil
}

func (c *Classifier) Version() string { return c.version }

// Classify maps text to a category. It never fails.
func (c *Classifier) Classify(text string) model.Category {
	return c.Decide(text).Category
}

// Decide runs override, score, tiebreak and fallback in that order; the first
// step that yields a category ends the procedure.
func (c *Classifier) Decide(text string) Decision {
	folded := cases.Fold().String(text)

	if d, ok := c.override(folded); ok {
		return d
	}

	scores := c.score(folded)
	best := 0
	for _, n := range scores {
		if n > best {
			best = n
		}
	}
	if best == 0 {
		return Decision{Category: c.fallback, Step: StepFallback, Scores: scores, Version: c.version}
	}

	var top []model.Category
	for _, r := range c.categories {
		if scores[r.category] == best && !contains(top, r.category) {
			top = append(top, r.category)
		}
	}
	if len(top) == 1 {
		return Decision{Category: top[0], Step: StepScore, Scores: scores, Version: c.version}
	}
	for _, p := range c.priority {
		if contains(top, p) {
			return Decision{Category: p, Step: StepTiebreak, Scores: scores, Version: c.version}
		}
	}
	return Decision{Category: c.fallback, Step: StepFallback, Scores: scores, Version: c.version}
}

func (c *Classifier) override(text string) (Decision, bool) {
	for _, r := range c.overrides {
		for _, re := range r.patterns {
			if re.MatchString(text) {
				return Decision{
					Category: r.category,
					Step:     StepOverride,
					Rule:     re.String()[len("(?i)"):],
					Version:  c.version,
				}, true
			}
		}
	}
	return Decision{}, false
}

// score counts matching patterns per category; each pattern adds one.
func (c *Classifier) score(text string) map[model.Category]int {
	scores := make(map[model.Category]int, len(c.categories))
	for _, r := range c.categories {
		n := 0
		for _, re := range r.patterns {
			if re.MatchString(text) {
				n++
			}
		}
		scores[r.category] += n
	}
	return scores
}

func contains(list []model.Category, c model.Category) bool {
	for _, v := range list {
		if v == c {
			return true
		}
	}
	return false
}
