package store

import (
	"sync"

	"github.com/pdok/tegel/process"
	"github.com/pdok/tegel/pyramid"
)

// Driver opens tile inputs. A source is the path of a GeoPackage, typically
// the output of an earlier run. Handles are opened lazily and shared between
// tiles.
type Driver struct {
	mu      sync.Mutex
	handles map[string]*GeoPackage
}

func NewDriver() *Driver {
	return &Driver{handles: make(map[string]*GeoPackage)}
}

func (d *Driver) Open(source string, tile pyramid.Tile) (process.Reader, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	handle, ok := d.handles[source]
	if !ok {
		var err error
		handle, err = NewGeoPackage(source)
		if err != nil {
			return nil, err
		}
		d.handles[source] = handle
	}
	return tileReader{store: handle, tile: tile}, nil
}

// Close closes all opened sources.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	var firstErr error
	for source, handle := range d.handles {
		if err := handle.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(d.handles, source)
	}
	return firstErr
}

type tileReader struct {
	store *GeoPackage
	tile  pyramid.Tile
}

func (r tileReader) IsEmpty(_ ...int) (bool, error) {
	exists, err := r.store.Exists(r.tile)
	return !exists, err
}

func (r tileReader) Read(_ ...int) (*process.Payload, error) {
	payload, err := r.store.Read(r.tile)
	if err != nil {
		return nil, err
	}
	if payload == nil {
		return nil, process.ErrEmptyTile
	}
	return payload, nil
}
