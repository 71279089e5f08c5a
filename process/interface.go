package process

import (
	"github.com/pdok/tegel/pyramid"
)

// Reader reads input data scoped to one tile's buffered bounds.
type Reader interface {
	// IsEmpty reports whether the selected bands hold no data for the tile.
	IsEmpty(bands ...int) (bool, error)
	// Read returns the decoded data for the selected bands.
	Read(bands ...int) (*Payload, error)
}

// InputDriver opens a source reference for a tile. Decoding and reprojection
// are the driver's concern, not the orchestration core's.
type InputDriver interface {
	Open(source string, tile pyramid.Tile) (Reader, error)
}

// Store is the tile-addressable output store.
type Store interface {
	Exists(tile pyramid.Tile) (bool, error)
	Read(tile pyramid.Tile) (*Payload, error)
	Write(tile pyramid.Tile, payload *Payload) error
}

// TileData couples a tile address with its stored payload, for interpolation
// input.
type TileData struct {
	Tile    pyramid.Tile
	Payload *Payload
}

// Interpolator resamples already-written output from an adjacent zoom level
// into a derived tile. Resampling algorithms are out of scope here; the
// resampling argument names the method configured in the baselevels section.
type Interpolator interface {
	// Upsample derives a tile from its parent one zoom level lower.
	Upsample(parent TileData, target pyramid.Tile, resampling string) (*Payload, error)
	// Downsample derives a tile from its children one zoom level higher.
	Downsample(children []TileData, target pyramid.Tile, resampling string) (*Payload, error)
}

// Func is the user-supplied transformation for one tile. It returns
// ErrEmptyTile (or a nil payload) to declare the tile holds no data.
// How the function was loaded is a loader concern; the core only depends on
// this signature.
type Func func(ctx *Context) (*Payload, error)
