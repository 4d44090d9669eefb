package store

import (
	"context"
	"errors"

	"github.com/zwy923/onebox/internal/model"
)

var ErrNotFound = errors.New("message not found")

// Query filters a search. Zero fields do not filter; an empty Query returns everything.
type Query struct {
	// Term matches subject or body, case-insensitively.
	Term     string
	Account  string
	Folder   model.Folder
	Category model.Category
	// Limit caps the result size when positive.
	Limit int
}

// Store indexes messages under (account, id) and answers filtered searches.
// Results are ordered most recent first.
type Store interface {
	Index(ctx context.Context, msg *model.Message) error
	Get(ctx context.Context, account, id string) (*model.Message, error)
	Search(ctx context.Context, q Query) ([]model.Message, error)
	// SetCategory stores c and returns the category it replaced.
	SetCategory(ctx context.Context, account, id string, c model.Category) (model.Category, error)
	// MarkRead sets read; it never reverts and is idempotent.
	MarkRead(ctx context.Context, account, id string) error
	Ping(ctx context.Context) error
}
