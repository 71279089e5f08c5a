package pyramid

import (
	"testing"

	"github.com/go-spatial/geom"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mercatorPyramid(t *testing.T, metatiling, pixelbuffer uint) Pyramid {
	t.Helper()
	grid, err := LoadEmbeddedGrid("mercator")
	require.NoError(t, err)
	p, err := NewPyramid(grid, metatiling, pixelbuffer)
	require.NoError(t, err)
	return p
}

func TestLoadEmbeddedGrid(t *testing.T) {
	tests := []struct {
		id       string
		srid     uint
		wantCols uint
		wantRows uint
	}{
		{id: "mercator", srid: 3857, wantCols: 1, wantRows: 1},
		{id: "geodetic", srid: 0, wantCols: 2, wantRows: 1},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			grid, err := LoadEmbeddedGrid(tt.id)
			require.NoError(t, err)
			assert.Equal(t, tt.wantCols, grid.MatrixWidth)
			assert.Equal(t, tt.wantRows, grid.MatrixHeight)
			srid, err := grid.SRID()
			if tt.srid == 0 {
				// CRS84 has no numeric authority code
				require.Error(t, err)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.srid, srid)
			}
		})
	}

	_, err := LoadEmbeddedGrid("nosuchgrid")
	require.Error(t, err)
}

func TestMatrix(t *testing.T) {
	tests := []struct {
		name       string
		gridID     string
		metatiling uint
		zoom       int
		wantCols   uint
		wantRows   uint
	}{
		{name: "mercator zoom 0", gridID: "mercator", metatiling: 1, zoom: 0, wantCols: 1, wantRows: 1},
		{name: "mercator zoom 3", gridID: "mercator", metatiling: 1, zoom: 3, wantCols: 8, wantRows: 8},
		{name: "mercator zoom 3 metatiled", gridID: "mercator", metatiling: 4, zoom: 3, wantCols: 2, wantRows: 2},
		{name: "mercator metatile bigger than matrix", gridID: "mercator", metatiling: 4, zoom: 1, wantCols: 1, wantRows: 1},
		{name: "geodetic zoom 1", gridID: "geodetic", metatiling: 1, zoom: 1, wantCols: 4, wantRows: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			grid, err := LoadEmbeddedGrid(tt.gridID)
			require.NoError(t, err)
			p, err := NewPyramid(grid, tt.metatiling, 0)
			require.NoError(t, err)
			cols, rows := p.Matrix(tt.zoom)
			assert.Equal(t, tt.wantCols, cols)
			assert.Equal(t, tt.wantRows, rows)
		})
	}
}

func TestNewTileRejectsOutOfRange(t *testing.T) {
	p := mercatorPyramid(t, 1, 0)

	_, err := p.NewTile(1, 0, 2)
	require.Error(t, err)
	_, err = p.NewTile(1, -1, 0)
	require.Error(t, err)

	tile, err := p.NewTile(1, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, "1/1/1", tile.String())
}

func TestBounds(t *testing.T) {
	grid, err := LoadEmbeddedGrid("geodetic")
	require.NoError(t, err)
	p, err := NewPyramid(grid, 1, 0)
	require.NoError(t, err)

	tile, err := p.NewTile(0, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, geom.Extent{-180, -90, 0, 90}, tile.Bounds(false))

	tile, err = p.NewTile(1, 1, 3)
	require.NoError(t, err)
	assert.Equal(t, geom.Extent{90, -90, 180, 0}, tile.Bounds(false))
}

func TestBufferedBoundsClampedToGrid(t *testing.T) {
	p := mercatorPyramid(t, 1, 8)
	corner, err := p.NewTile(2, 0, 0)
	require.NoError(t, err)
	inner, err := p.NewTile(2, 1, 1)
	require.NoError(t, err)

	grid := p.FullBounds()
	buffer := float64(p.Pixelbuffer) * p.PixelSize(2)

	got := corner.Bounds(true)
	cornerUnbuffered := corner.Bounds(false)
	assert.Equal(t, grid.MinX(), got.MinX())
	assert.Equal(t, grid.MaxY(), got.MaxY())
	assert.InDelta(t, cornerUnbuffered.MaxX()+buffer, got.MaxX(), 1e-6)

	got = inner.Bounds(true)
	innerUnbuffered := inner.Bounds(false)
	assert.InDelta(t, innerUnbuffered.MinX()-buffer, got.MinX(), 1e-6)
	assert.InDelta(t, innerUnbuffered.MaxY()+buffer, got.MaxY(), 1e-6)
}

func TestParentChildren(t *testing.T) {
	p := mercatorPyramid(t, 1, 0)

	tile, err := p.NewTile(2, 3, 1)
	require.NoError(t, err)
	parent, ok := tile.Parent()
	require.True(t, ok)
	assert.Equal(t, Tile{Zoom: 1, Row: 1, Col: 0, Pyramid: p}, parent)

	root, err := p.NewTile(0, 0, 0)
	require.NoError(t, err)
	_, ok = root.Parent()
	assert.False(t, ok)

	children := root.Children()
	require.Len(t, children, 4)
	assert.Equal(t, Tile{Zoom: 1, Row: 0, Col: 0, Pyramid: p}, children[0])
	assert.Equal(t, Tile{Zoom: 1, Row: 0, Col: 1, Pyramid: p}, children[1])
	assert.Equal(t, Tile{Zoom: 1, Row: 1, Col: 0, Pyramid: p}, children[2])
	assert.Equal(t, Tile{Zoom: 1, Row: 1, Col: 1, Pyramid: p}, children[3])
}

func TestTilesFromBounds(t *testing.T) {
	p := mercatorPyramid(t, 1, 0)
	full := p.FullBounds()

	tests := []struct {
		name string
		ext  geom.Extent
		zoom int
		want int
	}{
		{name: "full pyramid zoom 0", ext: full, zoom: 0, want: 1},
		{name: "full pyramid zoom 1", ext: full, zoom: 1, want: 4},
		{name: "full pyramid zoom 2", ext: full, zoom: 2, want: 16},
		{name: "left half zoom 1", ext: geom.Extent{full.MinX(), full.MinY(), 0, full.MaxY()}, zoom: 1, want: 2},
		{name: "no overlap", ext: geom.Extent{full.MaxX() + 1, full.MinY(), full.MaxX() + 2, full.MaxY()}, zoom: 1, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tiles, err := p.TilesFromBounds(tt.ext, tt.zoom)
			require.NoError(t, err)
			assert.Len(t, tiles, tt.want)
		})
	}
}

func TestTilesFromBoundsRowMajor(t *testing.T) {
	p := mercatorPyramid(t, 1, 0)
	tiles, err := p.TilesFromBounds(p.FullBounds(), 1)
	require.NoError(t, err)
	require.Len(t, tiles, 4)
	assert.Equal(t, "1/0/0", tiles[0].String())
	assert.Equal(t, "1/0/1", tiles[1].String())
	assert.Equal(t, "1/1/0", tiles[2].String())
	assert.Equal(t, "1/1/1", tiles[3].String())
}

func TestTileFromPoint(t *testing.T) {
	grid, err := LoadEmbeddedGrid("geodetic")
	require.NoError(t, err)
	p, err := NewPyramid(grid, 1, 0)
	require.NoError(t, err)

	tile, err := p.TileFromPoint(geom.Point{5.0, 52.0}, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, tile.Zoom)
	assert.Equal(t, 4, tile.Col)
	assert.Equal(t, 0, tile.Row)

	_, err = p.TileFromPoint(geom.Point{200.0, 0.0}, 2)
	require.Error(t, err)
}
