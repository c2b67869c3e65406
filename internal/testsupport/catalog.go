package testsupport

import (
	"testing"

	"discarchive/internal/catalog"
	"discarchive/internal/config"
)

// MustOpenCatalog opens the catalog configured in cfg and closes it at cleanup.
func MustOpenCatalog(t testing.TB, cfg *config.Config) *catalog.Store {
	t.Helper()

	store, err := catalog.Open(cfg.Catalog.Path)
	if err != nil {
		t.Fatalf("catalog.Open: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}
