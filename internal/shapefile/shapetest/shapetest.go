// Package shapetest writes shapefile fixtures for tests.
package shapetest

import (
	"os"
	"strings"
	"testing"

	"github.com/jonas-p/go-shp"
)

// Close finishes a shapefile written with shp.Create. go-shp names the
// attribute table "<base>dbf"; Close moves it to "<base>.dbf" where readers
// look for it.
func Close(t testing.TB, w *shp.Writer, shpPath string) {
	t.Helper()
	w.Close()

	base := strings.TrimSuffix(shpPath, ".shp")
	if _, err := os.Stat(base + "dbf"); err != nil {
		return
	}
	if err := os.Rename(base+"dbf", base+".dbf"); err != nil {
		t.Fatalf("rename dbf: %v", err)
	}
}
