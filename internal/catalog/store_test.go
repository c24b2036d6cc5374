package catalog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"support-agent/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_FindByKeywords(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	n, err := s.Insert(ctx, []domain.CatalogEntry{
		{Name: "Running Shoes", Price: 2999, Image: "shoes.png"},
		{Name: "Leather Wallet", Price: 899.5, Image: "wallet.png"},
		{Name: "Trail SHOES", Price: 4599, Image: "trail.png"},
	})
	require.NoError(t, err)
	require.Equal(t, 3, n)

	got, err := s.FindByKeywords(ctx, []string{"shoes"}, MaxResults)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "Running Shoes", got[0].Name)
	require.Equal(t, "Trail SHOES", got[1].Name)
	require.Equal(t, 2999.0, got[0].Price)
	require.False(t, got[0].CreatedAt.IsZero())

	got, err = s.FindByKeywords(ctx, []string{"wallet", "trail"}, MaxResults)
	require.NoError(t, err)
	require.Len(t, got, 2)

	got, err = s.FindByKeywords(ctx, []string{"umbrella"}, MaxResults)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Empty(t, got)
}

func TestStore_FindByKeywords_RespectsLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var entries []domain.CatalogEntry
	for i := 0; i < 15; i++ {
		entries = append(entries, domain.CatalogEntry{Name: fmt.Sprintf("Mug %d", i), Price: 10})
	}
	_, err := s.Insert(ctx, entries)
	require.NoError(t, err)

	got, err := s.FindByKeywords(ctx, []string{"mug"}, 3)
	require.NoError(t, err)
	require.Len(t, got, 3)

	got, err = s.FindByKeywords(ctx, []string{"mug"}, 100)
	require.NoError(t, err)
	require.Len(t, got, MaxResults)
}

func TestStore_FindByKeywords_NoKeywords(t *testing.T) {
	s := newTestStore(t)
	got, err := s.FindByKeywords(context.Background(), nil, MaxResults)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestNewStore_EmptyDSN(t *testing.T) {
	_, err := NewStore("")
	require.Error(t, err)
}

func TestLoadSeedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[[products]]
name = "Running Shoes"
price = 2999.0
image = "shoes.png"

[[products]]
name = "  Leather Wallet "
price = 899.5
`), 0o600))

	got, err := LoadSeedFile(path)
	require.NoError(t, err)
	require.Equal(t, []domain.CatalogEntry{
		{Name: "Running Shoes", Price: 2999, Image: "shoes.png"},
		{Name: "Leather Wallet", Price: 899.5},
	}, got)
}

func TestLoadSeedFile_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "missing name", body: "[[products]]\nprice = 1.0\n"},
		{name: "negative price", body: "[[products]]\nname = \"x\"\nprice = -1.0\n"},
		{name: "malformed toml", body: "[[products]\nname = "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseSeed([]byte(tt.body))
			require.Error(t, err)
		})
	}

	_, err := LoadSeedFile(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}

func TestSearcher_WithStore(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.Insert(ctx, []domain.CatalogEntry{{Name: "Running Shoes", Price: 2999}})
	require.NoError(t, err)

	searcher, err := NewSearcher(s, "₹", quietLogger())
	require.NoError(t, err)

	got := searcher.Search(ctx, "Any running SHOES in stock?")
	require.Len(t, got, 1)
	require.Equal(t, "Running Shoes", got[0].Name)
}
