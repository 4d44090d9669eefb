package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zwy923/onebox/internal/model"
)

func seed(t *testing.T, s Store) {
	t.Helper()
	base := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	msgs := []model.Message{
		{ID: "1", Account: "A", Subject: "Invoice #42", Body: "please pay", Folder: model.FolderInbox, Category: model.CategoryNotInterested, ReceivedAt: base},
		{ID: "2", Account: "A", Subject: "Hello", Body: "the INVOICE is attached", Folder: model.FolderArchive, Category: model.CategoryInterested, ReceivedAt: base.Add(time.Hour)},
		{ID: "3", Account: "B", Subject: "Lunch", Body: "tomorrow?", Folder: model.FolderInbox, Category: model.CategoryInterested, ReceivedAt: base.Add(2 * time.Hour)},
		{ID: "4", Account: "B", Subject: "invoices", Body: "", Folder: model.FolderSent, Category: model.CategoryUncategorized, ReceivedAt: base.Add(3 * time.Hour)},
	}
	for i := range msgs {
		require.NoError(t, s.Index(context.Background(), &msgs[i]))
	}
}

func ids(msgs []model.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.ID)
	}
	return out
}

func TestMemorySearch(t *testing.T) {
	s := NewMemoryStore()
	seed(t, s)
	ctx := context.Background()

	cases := []struct {
		name string
		q    Query
		want []string
	}{
		{"everything newest first", Query{}, []string{"4", "3", "2", "1"}},
		{"account filter", Query{Account: "A"}, []string{"2", "1"}},
		{"term matches subject or body case-insensitively", Query{Term: "invoice"}, []string{"4", "2", "1"}},
		{"term and account", Query{Term: "invoice", Account: "B"}, []string{"4"}},
		{"folder", Query{Folder: model.FolderInbox}, []string{"3", "1"}},
		{"category", Query{Category: model.CategoryInterested}, []string{"3", "2"}},
		{"limit", Query{Limit: 2}, []string{"4", "3"}},
		{"no match", Query{Term: "zebra"}, []string{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := s.Search(ctx, tc.q)
			require.NoError(t, err)
			assert.Equal(t, tc.want, ids(got))
		})
	}
}

func TestMemorySetCategoryAndMarkRead(t *testing.T) {
	s := NewMemoryStore()
	seed(t, s)
	ctx := context.Background()

	prev, err := s.SetCategory(ctx, "A", "1", model.CategoryInterested)
	require.NoError(t, err)
	assert.Equal(t, model.CategoryNotInterested, prev)

	_, err = s.SetCategory(ctx, "A", "1", "Bogus")
	assert.ErrorIs(t, err, model.ErrUnknownCategory)

	_, err = s.SetCategory(ctx, "A", "missing", model.CategorySpam)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.MarkRead(ctx, "A", "1"))
	require.NoError(t, s.MarkRead(ctx, "A", "1"))
	got, err := s.Get(ctx, "A", "1")
	require.NoError(t, err)
	assert.True(t, got.Read)
	assert.Equal(t, model.CategoryInterested, got.Category)

	// Re-indexing never clears the read flag.
	got.Read = false
	require.NoError(t, s.Index(ctx, got))
	got, err = s.Get(ctx, "A", "1")
	require.NoError(t, err)
	assert.True(t, got.Read)

	assert.ErrorIs(t, s.MarkRead(ctx, "B", "1"), ErrNotFound)
}

func TestMemoryGetIsolatesAccounts(t *testing.T) {
	s := NewMemoryStore()
	seed(t, s)

	_, err := s.Get(context.Background(), "B", "1")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Error(t, s.Index(context.Background(), &model.Message{ID: "x"}))
}
