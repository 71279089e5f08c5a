package store

import (
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/pdok/tegel/process"
	"github.com/pdok/tegel/pyramid"
)

const createTilesSQL = `CREATE TABLE IF NOT EXISTS tiles (
	zoom_level INTEGER NOT NULL,
	tile_row INTEGER NOT NULL,
	tile_column INTEGER NOT NULL,
	bands INTEGER NOT NULL,
	dtype TEXT NOT NULL,
	geometry_type TEXT NOT NULL,
	data BLOB,
	PRIMARY KEY (zoom_level, tile_row, tile_column)
);`

// GeoPackage stores tile payloads in a SQLite file, one row per tile keyed on
// zoom, row and column. SQLite serializes writers, so a single connection
// guarded by a mutex is used for all access.
type GeoPackage struct {
	db *sql.DB
	mu sync.Mutex
}

func NewGeoPackage(path string) (*GeoPackage, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("could not open GeoPackage %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(createTilesSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not create tiles table in %s: %w", path, err)
	}
	return &GeoPackage{db: db}, nil
}

func (g *GeoPackage) Exists(tile pyramid.Tile) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var one int
	err := g.db.QueryRow(
		`SELECT 1 FROM tiles WHERE zoom_level = ? AND tile_row = ? AND tile_column = ?;`,
		tile.Zoom, tile.Row, tile.Col).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("could not check tile %s: %w", tile, err)
	}
	return true, nil
}

func (g *GeoPackage) Read(tile pyramid.Tile) (*process.Payload, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var payload process.Payload
	err := g.db.QueryRow(
		`SELECT bands, dtype, geometry_type, data FROM tiles WHERE zoom_level = ? AND tile_row = ? AND tile_column = ?;`,
		tile.Zoom, tile.Row, tile.Col).Scan(&payload.Bands, &payload.DType, &payload.GeometryType, &payload.Data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("could not read tile %s: %w", tile, err)
	}
	return &payload, nil
}

func (g *GeoPackage) Write(tile pyramid.Tile, payload *process.Payload) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, err := g.db.Exec(
		`INSERT OR REPLACE INTO tiles (zoom_level, tile_row, tile_column, bands, dtype, geometry_type, data) VALUES (?, ?, ?, ?, ?, ?, ?);`,
		tile.Zoom, tile.Row, tile.Col, payload.Bands, payload.DType, payload.GeometryType, payload.Data)
	if err != nil {
		return fmt.Errorf("could not write tile %s: %w", tile, err)
	}
	return nil
}

// Count is the number of stored tiles.
func (g *GeoPackage) Count() (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var n int
	if err := g.db.QueryRow(`SELECT COUNT(*) FROM tiles;`).Scan(&n); err != nil {
		return 0, fmt.Errorf("could not count tiles: %w", err)
	}
	return n, nil
}

func (g *GeoPackage) Close() error {
	return g.db.Close()
}
