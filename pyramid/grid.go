// Package pyramid implements the tile pyramid used to address, enumerate and
// bound process tiles: a grid definition per CRS plus zoom-dependent tile
// matrices, with optional metatiling and pixelbuffer.
package pyramid

import (
	"embed"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/go-spatial/geom"
	"github.com/perimeterx/marshmallow"
)

var (
	//go:embed grids/*.json
	embeddedGridsJSONFS embed.FS
	embeddedGridsCache  = make(map[string]*Grid)
)

// Grid describes the tile matrix at zoom 0: the covered extent in its CRS and
// the number of tiles along each axis. Higher zooms double per axis.
type Grid struct {
	// Grid identifier, e.g. "mercator"
	ID string `validate:"required" json:"id"`
	// Title of this grid, normally used for display to a human
	Title string `json:"title,omitempty"`
	// Reference to the coordinate reference system, as a CRS URI or URN
	CRS string `validate:"required" json:"crs"`
	// Covered extent in CRS coordinates: left, bottom, right, top
	Bounds [4]float64 `validate:"required" json:"bounds"`
	// Number of tiles in width at zoom 0
	MatrixWidth uint `default:"1" validate:"min=1" json:"matrixWidth"`
	// Number of tiles in height at zoom 0
	MatrixHeight uint `default:"1" validate:"min=1" json:"matrixHeight"`
}

var (
	crsURIRegexURL = regexp.MustCompile("https?://.+/def/crs/(?P<authority>[^/]+)/[^/]+/(?P<code>[^/]+)$")
	crsURIRegexURN = regexp.MustCompile("^urn:ogc:def:crs:(?P<authority>[^:]+)::(?P<code>[^:]+)$")
)

// LoadEmbeddedGrid loads one of the built-in grid definitions, e.g. "mercator"
// or "geodetic".
func LoadEmbeddedGrid(id string) (Grid, error) {
	var grid Grid
	cached, ok := embeddedGridsCache[id]
	if ok {
		return *cached, nil
	}
	gridJSON, err := embeddedGridsJSONFS.ReadFile("grids/" + id + ".json")
	if err != nil {
		return grid, fmt.Errorf("unknown grid %q: %w", id, err)
	}
	err = json.Unmarshal(gridJSON, &grid)
	if err != nil {
		return grid, err
	}
	embeddedGridsCache[id] = &grid
	return grid, nil
}

func (g *Grid) UnmarshalJSON(data []byte) error {
	err := defaults.Set(g)
	if err != nil {
		return err
	}
	_, err = marshmallow.Unmarshal(data, g, marshmallow.WithExcludeKnownFieldsFromMap(true))
	if err != nil {
		return err
	}
	validate := validator.New(validator.WithRequiredStructEnabled())
	return validate.Struct(g)
}

// SRID parses the numeric authority code from the CRS URI.
func (g *Grid) SRID() (uint, error) {
	uriParts := crsURIRegexURL.FindStringSubmatch(g.CRS)
	if uriParts == nil {
		uriParts = crsURIRegexURN.FindStringSubmatch(g.CRS)
	}
	if uriParts == nil {
		return 0, fmt.Errorf(`could not parse crs uri %q`, g.CRS)
	}
	code, err := strconv.ParseUint(uriParts[2], 10, 64)
	if err != nil {
		return 0, fmt.Errorf(`could not parse crs authority code: %w`, err)
	}
	return uint(code), nil
}

// Extent returns the full grid bounds.
func (g *Grid) Extent() geom.Extent {
	return geom.Extent(g.Bounds)
}
