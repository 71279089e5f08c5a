// Package store persists tile payloads. Stores are safe for concurrent use
// by executor workers.
package store

import (
	"fmt"
	"sync"

	"github.com/pdok/tegel/config"
	"github.com/pdok/tegel/process"
	"github.com/pdok/tegel/pyramid"
)

// ForOutput opens the store matching an output configuration. The caller
// closes it if it implements io.Closer.
func ForOutput(output config.Output) (process.Store, error) {
	switch output.Format {
	case "memory":
		return NewMemory(), nil
	case "gpkg":
		return NewGeoPackage(output.Path)
	default:
		return nil, fmt.Errorf("unknown output format %q", output.Format)
	}
}

type key struct {
	zoom, row, col int
}

// Memory keeps payloads in a map. Used for tests and dry runs.
type Memory struct {
	mu    sync.RWMutex
	tiles map[key]*process.Payload
}

func NewMemory() *Memory {
	return &Memory{tiles: make(map[key]*process.Payload)}
}

func (m *Memory) Exists(tile pyramid.Tile) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.tiles[key{tile.Zoom, tile.Row, tile.Col}]
	return ok, nil
}

func (m *Memory) Read(tile pyramid.Tile) (*process.Payload, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	payload, ok := m.tiles[key{tile.Zoom, tile.Row, tile.Col}]
	if !ok {
		return nil, nil
	}
	return payload, nil
}

func (m *Memory) Write(tile pyramid.Tile, payload *process.Payload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tiles[key{tile.Zoom, tile.Row, tile.Col}] = payload
	return nil
}

// Len is the number of stored tiles.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.tiles)
}
