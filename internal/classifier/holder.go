package classifier

import (
	"sync/atomic"

	"github.com/zwy923/onebox/internal/model"
)

// Holder publishes the active Classifier. Swaps take effect for the next
// classification; one in progress keeps the snapshot it started with.
type Holder struct {
	current atomic.Pointer[Classifier]
}

func NewHolder(c *Classifier) *Holder {
	h := &Holder{}
	h.current.Store(c)
	return h
}

func (h *Holder) Load() *Classifier { return h.current.Load() }

func (h *Holder) Swap(c *Classifier) { h.current.Store(c) }

// Reload compiles the table at path and swaps it in. On error the active
// classifier is left untouched.
func (h *Holder) Reload(path string) (*Classifier, error) {
	t, err := LoadTable(path)
	if err != nil {
		return nil, err
	}
	c, err := New(t)
	if err != nil {
		return nil, err
	}
	h.Swap(c)
	return c, nil
}

func (h *Holder) Classify(text string) model.Category { return h.Load().Classify(text) }

func (h *Holder) Decide(text string) Decision { return h.Load().Decide(text) }
