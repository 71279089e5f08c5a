// Package graph turns an area of interest and a zoom range into batches of
// tiles that can be processed without violating baselevel dependencies. Tiles
// within a batch are independent of each other; a batch only depends on
// batches that precede it.
package graph

import (
	"errors"
	"fmt"

	"github.com/go-spatial/geom"

	"github.com/pdok/tegel/pyramid"
	"github.com/pdok/tegel/zoom"
)

// Area selects which part of the pyramid a run covers. At most one selector
// may be set; the zero Area means the whole pyramid. A Point is widened to
// the deepest requested tile containing it; a Tile narrows the run to that
// tile's zoom and extent.
type Area struct {
	Bounds *geom.Extent
	Point  *geom.Point
	Tile   *pyramid.Tile
}

// resolve turns the selector into an extent, possibly narrowing the zoom
// range for an explicit tile.
func (a Area) resolve(p pyramid.Pyramid, zooms zoom.Range) (geom.Extent, zoom.Range, error) {
	set := 0
	for _, selected := range []bool{a.Bounds != nil, a.Point != nil, a.Tile != nil} {
		if selected {
			set++
		}
	}
	if set > 1 {
		return geom.Extent{}, zoom.Range{}, errors.New("bounds, point and tile are mutually exclusive")
	}
	switch {
	case a.Bounds != nil:
		return *a.Bounds, zooms, nil
	case a.Point != nil:
		tile, err := p.TileFromPoint(*a.Point, zooms.Max)
		if err != nil {
			return geom.Extent{}, zoom.Range{}, err
		}
		return tile.Bounds(false), zooms, nil
	case a.Tile != nil:
		if !zooms.Contains(a.Tile.Zoom) {
			return geom.Extent{}, zoom.Range{}, fmt.Errorf("tile %s is outside %s", a.Tile, zooms)
		}
		single, err := zoom.Single(a.Tile.Zoom)
		if err != nil {
			return geom.Extent{}, zoom.Range{}, err
		}
		return a.Tile.Bounds(false), single, nil
	default:
		return p.FullBounds(), zooms, nil
	}
}

// Source tells where the data for a batch comes from.
type Source int

const (
	// SourceInputs means tiles are computed from the configured inputs.
	SourceInputs Source = iota
	// SourceLowerZoom means tiles are interpolated from the zoom level below.
	SourceLowerZoom
	// SourceHigherZoom means tiles are aggregated from the zoom level above.
	SourceHigherZoom
)

func (s Source) String() string {
	switch s {
	case SourceLowerZoom:
		return "lower zoom"
	case SourceHigherZoom:
		return "higher zoom"
	default:
		return "inputs"
	}
}

// Batch is one dependency layer of the graph. Tiles are in row-major order.
type Batch struct {
	Zoom   int
	Source Source
	// SourceZoom is the zoom level whose outputs this batch reads. Only
	// meaningful when Source is not SourceInputs.
	SourceZoom int
	Tiles      []pyramid.Tile
}

// Graph holds the batches in execution order. A batch must be fully drained
// before the next one starts.
type Graph struct {
	Batches []Batch
}

// TileCount is the total number of tiles over all batches.
func (g Graph) TileCount() int {
	var n int
	for _, batch := range g.Batches {
		n += len(batch.Tiles)
	}
	return n
}

// Build enumerates the tiles of every zoom level intersecting the area and
// orders them into batches. Without baselevels every zoom reads from the
// inputs and the batches follow the configured zoom order. With baselevels
// only the levels inside the baselevel range read from the inputs; levels
// above are derived ascending from the level below them, levels beneath are
// derived descending from the level above them, so every batch's source level
// is complete before the batch runs.
//
// An area that does not intersect the pyramid yields an empty graph.
func Build(p pyramid.Pyramid, area Area, zooms zoom.Range, baselevels *zoom.Range, descending bool) (Graph, error) {
	ext, zooms, err := area.resolve(p, zooms)
	if err != nil {
		return Graph{}, err
	}
	if baselevels != nil && (!zooms.Contains(baselevels.Min) || !zooms.Contains(baselevels.Max)) {
		return Graph{}, fmt.Errorf("baselevels %s exceed zoom levels %s", baselevels, zooms)
	}

	var graph Graph
	appendBatch := func(batch Batch) error {
		tiles, err := p.TilesFromBounds(ext, batch.Zoom)
		if err != nil {
			return err
		}
		if len(tiles) == 0 {
			return nil
		}
		batch.Tiles = tiles
		graph.Batches = append(graph.Batches, batch)
		return nil
	}

	if baselevels == nil {
		levels := zooms
		levels.Descending = descending
		for _, z := range levels.Slice() {
			if err := appendBatch(Batch{Zoom: z}); err != nil {
				return Graph{}, err
			}
		}
		return graph, nil
	}

	primaries := *baselevels
	primaries.Descending = descending
	for _, z := range primaries.Slice() {
		if err := appendBatch(Batch{Zoom: z}); err != nil {
			return Graph{}, err
		}
	}
	for z := baselevels.Max + 1; z <= zooms.Max; z++ {
		if err := appendBatch(Batch{Zoom: z, Source: SourceLowerZoom, SourceZoom: z - 1}); err != nil {
			return Graph{}, err
		}
	}
	for z := baselevels.Min - 1; z >= zooms.Min; z-- {
		if err := appendBatch(Batch{Zoom: z, Source: SourceHigherZoom, SourceZoom: z + 1}); err != nil {
			return Graph{}, err
		}
	}
	return graph, nil
}
