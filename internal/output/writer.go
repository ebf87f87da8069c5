// Package output persists feature collections.
package output

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/paulmach/orb/geojson"
)

// ErrWrite marks a failed write. The previous file, if any, is left intact.
var ErrWrite = errors.New("output write failed")

// WriteFeatureCollection serialises fc as GeoJSON to path, replacing any
// existing file atomically.
func WriteFeatureCollection(path string, fc *geojson.FeatureCollection) error {
	data, err := fc.MarshalJSON()
	if err != nil {
		return fmt.Errorf("%w: encoding %s: %v", ErrWrite, path, err)
	}
	return WriteFile(path, data)
}

// WriteFile writes data to a temporary file next to path and renames it into
// place. On failure the temporary file is removed.
func WriteFile(path string, data []byte) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("%w: creating %s: %v", ErrWrite, dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWrite, err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return fmt.Errorf("%w: writing %s: %v", ErrWrite, path, err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("%w: syncing %s: %v", ErrWrite, path, err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("%w: closing %s: %v", ErrWrite, path, err)
	}
	if err = os.Chmod(tmp.Name(), 0644); err != nil {
		return fmt.Errorf("%w: %v", ErrWrite, err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("%w: replacing %s: %v", ErrWrite, path, err)
	}
	return nil
}
