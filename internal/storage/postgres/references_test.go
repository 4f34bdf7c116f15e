package postgres

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/pricewise/catalog-search/internal/catalog"
)

// joinPath mirrors the materialized path format built during chain
// resolution.
func joinPath(parts ...string) string {
	slugged := make([]string, 0, len(parts))
	for _, p := range parts {
		slugged = append(slugged, catalog.Slugify(p))
	}
	return strings.Join(slugged, "/")
}

func TestGetOrCreateStore(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewCatalogStoreWithPool(mock, 0)
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()

	mock.ExpectExec("INSERT INTO stores").
		WithArgs("EDEKA24", "edeka24").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery("SELECT id, name, slug, created_at FROM stores").
		WithArgs("edeka24").
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "slug", "created_at"}).
			AddRow(int64(1), "EDEKA24", "edeka24", now))

	got, err := store.GetOrCreateStore(context.Background(), "EDEKA24")
	require.NoError(t, err)
	require.Equal(t, int64(1), got.ID)
	require.Equal(t, "edeka24", got.Slug)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetOrCreateStoreRejectsEmptyName(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewCatalogStoreWithPool(mock, 0)
	require.NoError(t, err)

	_, err = store.GetOrCreateStore(context.Background(), "   ")
	require.ErrorIs(t, err, catalog.ErrIntegrity)
}

func TestGetOrCreateManufacturerNormalizesName(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewCatalogStoreWithPool(mock, 0)
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()

	mock.ExpectExec("INSERT INTO manufacturers").
		WithArgs("Müller", "mueller").
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectQuery("SELECT id, name, normalized_name, created_at FROM manufacturers").
		WithArgs("mueller").
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "normalized_name", "created_at"}).
			AddRow(int64(7), "Müller", "mueller", now))

	got, err := store.GetOrCreateManufacturer(context.Background(), "Müller")
	require.NoError(t, err)
	require.Equal(t, int64(7), got.ID)
	require.Equal(t, "mueller", got.NormalizedName)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetOrCreateCategoryChainBuildsHierarchy(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewCatalogStoreWithPool(mock, 0)
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	cols := []string{"id", "name", "parent_id", "level", "path", "created_at"}

	rootID := int64(10)

	// Root level: Getränke.
	mock.ExpectExec("INSERT INTO categories").
		WithArgs("Getränke", (*int64)(nil), 0, "getraenke").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery("SELECT id, name, parent_id, level, path, created_at").
		WithArgs("Getränke", (*int64)(nil)).
		WillReturnRows(pgxmock.NewRows(cols).
			AddRow(rootID, "Getränke", nil, 0, "getraenke", now))

	// Leaf level: Cola, linked to the root.
	mock.ExpectExec("INSERT INTO categories").
		WithArgs("Cola", &rootID, 1, "getraenke/cola").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery("SELECT id, name, parent_id, level, path, created_at").
		WithArgs("Cola", &rootID).
		WillReturnRows(pgxmock.NewRows(cols).
			AddRow(int64(11), "Cola", &rootID, 1, "getraenke/cola", now))

	leaf, err := store.GetOrCreateCategoryChain(context.Background(), []string{"Getränke", "Cola"})
	require.NoError(t, err)
	require.Equal(t, int64(11), leaf.ID)
	require.Equal(t, joinPath("Getränke", "Cola"), leaf.Path)
	require.NotNil(t, leaf.ParentID)
	require.Equal(t, rootID, *leaf.ParentID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetOrCreateCategoryChainRejectsEmptyPath(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewCatalogStoreWithPool(mock, 0)
	require.NoError(t, err)

	_, err = store.GetOrCreateCategoryChain(context.Background(), []string{" ", ""})
	require.ErrorIs(t, err, catalog.ErrIntegrity)
}
