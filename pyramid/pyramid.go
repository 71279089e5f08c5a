package pyramid

import (
	"fmt"
	"math"

	"github.com/go-spatial/geom"

	"github.com/pdok/tegel/mathhelp"
)

// Pyramid is a tile pyramid over a Grid, with a metatiling factor (an NxN
// group of base tiles is addressed and processed as one tile) and a
// pixelbuffer (overlap margin in pixels around each tile's nominal bounds).
type Pyramid struct {
	Grid        Grid
	Metatiling  uint `default:"1" validate:"oneof=1 2 4 8 16"`
	Pixelbuffer uint
	TileSize    uint `default:"256" validate:"min=1"`
}

// NewPyramid validates the metatiling factor and fills in the tile size.
func NewPyramid(grid Grid, metatiling uint, pixelbuffer uint) (Pyramid, error) {
	switch metatiling {
	case 1, 2, 4, 8, 16:
	default:
		return Pyramid{}, fmt.Errorf("metatiling must be one of 1, 2, 4, 8, 16, got %d", metatiling)
	}
	return Pyramid{
		Grid:        grid,
		Metatiling:  metatiling,
		Pixelbuffer: pixelbuffer,
		TileSize:    256,
	}, nil
}

// Tile addresses one (meta)tile in a Pyramid. Row 0 is the top row.
// Tiles are values: two tiles are equal iff zoom, row, col and the pyramid
// parameters all match.
type Tile struct {
	Zoom    int
	Row     int
	Col     int
	Pyramid Pyramid
}

func (t Tile) String() string {
	return fmt.Sprintf("%d/%d/%d", t.Zoom, t.Row, t.Col)
}

// Matrix returns the number of (meta)tile columns and rows at the given zoom.
func (p Pyramid) Matrix(zoom int) (cols, rows uint) {
	baseCols := p.Grid.MatrixWidth * mathhelp.Pow2(uint(zoom))
	baseRows := p.Grid.MatrixHeight * mathhelp.Pow2(uint(zoom))
	return mathhelp.CeilDiv(baseCols, p.Metatiling), mathhelp.CeilDiv(baseRows, p.Metatiling)
}

// NewTile returns a bounds-checked tile address.
func (p Pyramid) NewTile(zoom, row, col int) (Tile, error) {
	if zoom < 0 || row < 0 || col < 0 {
		return Tile{}, fmt.Errorf("tile address must not be negative: %d/%d/%d", zoom, row, col)
	}
	cols, rows := p.Matrix(zoom)
	if uint(col) >= cols || uint(row) >= rows {
		return Tile{}, fmt.Errorf("tile %d/%d/%d out of range, matrix is %dx%d", zoom, row, col, cols, rows)
	}
	return Tile{Zoom: zoom, Row: row, Col: col, Pyramid: p}, nil
}

// baseTileSpan returns the unbuffered span of a single base tile in CRS units.
func (p Pyramid) baseTileSpan(zoom int) (spanX, spanY float64) {
	ext := p.Grid.Extent()
	baseCols := float64(p.Grid.MatrixWidth * mathhelp.Pow2(uint(zoom)))
	baseRows := float64(p.Grid.MatrixHeight * mathhelp.Pow2(uint(zoom)))
	return (ext.MaxX() - ext.MinX()) / baseCols, (ext.MaxY() - ext.MinY()) / baseRows
}

// PixelSize returns the size of one pixel in CRS units at the given zoom.
func (p Pyramid) PixelSize(zoom int) float64 {
	spanX, _ := p.baseTileSpan(zoom)
	return spanX / float64(p.TileSize)
}

// Bounds returns the tile extent in CRS coordinates. With buffered true the
// pixelbuffer margin is added, clamped to the grid bounds at the grid edge.
func (t Tile) Bounds(buffered bool) geom.Extent {
	p := t.Pyramid
	grid := p.Grid.Extent()
	spanX, spanY := p.baseTileSpan(t.Zoom)
	metaSpanX := spanX * float64(p.Metatiling)
	metaSpanY := spanY * float64(p.Metatiling)

	minX := grid.MinX() + float64(t.Col)*metaSpanX
	maxY := grid.MaxY() - float64(t.Row)*metaSpanY
	maxX := math.Min(minX+metaSpanX, grid.MaxX())
	minY := math.Max(maxY-metaSpanY, grid.MinY())

	if buffered && p.Pixelbuffer > 0 {
		buffer := float64(p.Pixelbuffer) * p.PixelSize(t.Zoom)
		minX = math.Max(minX-buffer, grid.MinX())
		minY = math.Max(minY-buffer, grid.MinY())
		maxX = math.Min(maxX+buffer, grid.MaxX())
		maxY = math.Min(maxY+buffer, grid.MaxY())
	}
	return geom.Extent{minX, minY, maxX, maxY}
}

// Parent returns the tile one zoom level lower that contains this tile.
// The second return value is false at zoom 0.
func (t Tile) Parent() (Tile, bool) {
	if t.Zoom == 0 {
		return Tile{}, false
	}
	parent, err := t.Pyramid.NewTile(t.Zoom-1, t.Row/2, t.Col/2)
	if err != nil {
		return Tile{}, false
	}
	return parent, true
}

// Children returns the up to four tiles one zoom level higher covered by this
// tile, row-major.
func (t Tile) Children() []Tile {
	cols, rows := t.Pyramid.Matrix(t.Zoom + 1)
	children := make([]Tile, 0, 4)
	for row := t.Row * 2; row <= t.Row*2+1; row++ {
		for col := t.Col * 2; col <= t.Col*2+1; col++ {
			if uint(row) >= rows || uint(col) >= cols {
				continue
			}
			children = append(children, Tile{Zoom: t.Zoom + 1, Row: row, Col: col, Pyramid: t.Pyramid})
		}
	}
	return children
}

// FullBounds returns the extent covered by the whole pyramid.
func (p Pyramid) FullBounds() geom.Extent {
	return p.Grid.Extent()
}

// TilesFromBounds enumerates all tiles at the given zoom intersecting the
// extent, ascending row first, then ascending column. An extent outside the
// grid yields no tiles.
func (p Pyramid) TilesFromBounds(ext geom.Extent, zoom int) ([]Tile, error) {
	if zoom < 0 {
		return nil, fmt.Errorf("zoom must not be negative: %d", zoom)
	}
	grid := p.Grid.Extent()
	if ext.MinX() >= grid.MaxX() || ext.MaxX() <= grid.MinX() ||
		ext.MinY() >= grid.MaxY() || ext.MaxY() <= grid.MinY() {
		return nil, nil
	}
	spanX, spanY := p.baseTileSpan(zoom)
	metaSpanX := spanX * float64(p.Metatiling)
	metaSpanY := spanY * float64(p.Metatiling)
	cols, rows := p.Matrix(zoom)

	clampedMinX := math.Max(ext.MinX(), grid.MinX())
	clampedMaxX := math.Min(ext.MaxX(), grid.MaxX())
	clampedMinY := math.Max(ext.MinY(), grid.MinY())
	clampedMaxY := math.Min(ext.MaxY(), grid.MaxY())

	colMin := clampIndex(math.Floor((clampedMinX-grid.MinX())/metaSpanX), cols)
	colMax := clampIndex(math.Ceil((clampedMaxX-grid.MinX())/metaSpanX)-1, cols)
	rowMin := clampIndex(math.Floor((grid.MaxY()-clampedMaxY)/metaSpanY), rows)
	rowMax := clampIndex(math.Ceil((grid.MaxY()-clampedMinY)/metaSpanY)-1, rows)

	var tiles []Tile
	for row := rowMin; row <= rowMax; row++ {
		for col := colMin; col <= colMax; col++ {
			tiles = append(tiles, Tile{Zoom: zoom, Row: row, Col: col, Pyramid: p})
		}
	}
	return tiles, nil
}

// TileFromPoint returns the tile containing the point at the given zoom.
func (p Pyramid) TileFromPoint(pt geom.Point, zoom int) (Tile, error) {
	grid := p.Grid.Extent()
	if pt.X() < grid.MinX() || pt.X() > grid.MaxX() || pt.Y() < grid.MinY() || pt.Y() > grid.MaxY() {
		return Tile{}, fmt.Errorf("point %v outside grid %q", pt, p.Grid.ID)
	}
	spanX, spanY := p.baseTileSpan(zoom)
	metaSpanX := spanX * float64(p.Metatiling)
	metaSpanY := spanY * float64(p.Metatiling)
	cols, rows := p.Matrix(zoom)
	col := clampIndex(math.Floor((pt.X()-grid.MinX())/metaSpanX), cols)
	row := clampIndex(math.Floor((grid.MaxY()-pt.Y())/metaSpanY), rows)
	return p.NewTile(zoom, row, col)
}

func clampIndex(f float64, n uint) int {
	if f < 0 {
		return 0
	}
	if f > float64(n-1) {
		return int(n - 1)
	}
	return int(f)
}
