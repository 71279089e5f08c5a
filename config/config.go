// Package config reads and validates a tegel process configuration and
// resolves zoom-dependent parameters into flat per-zoom snapshots.
package config

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	orderedmap "github.com/wk8/go-ordered-map/v2"
	"gopkg.in/yaml.v3"

	"github.com/pdok/tegel/pyramid"
	"github.com/pdok/tegel/zoom"
)

// DirectOverride is the input binding sentinel for "supplied on the command
// line", e.g. via a single-input-file flag.
const DirectOverride = "from_command_line"

// ConfigurationError indicates an invalid or ambiguous process configuration.
// It is fatal before any tile is processed.
type ConfigurationError struct {
	Err error
}

func (e ConfigurationError) Error() string {
	return "configuration error: " + e.Err.Error()
}

func (e ConfigurationError) Unwrap() error {
	return e.Err
}

func configErrorf(format string, args ...any) error {
	return ConfigurationError{Err: fmt.Errorf(format, args...)}
}

// Output declares where tiles are written and the schema every payload must
// conform to.
type Output struct {
	Format       string `yaml:"format" default:"gpkg" validate:"oneof=gpkg memory"`
	Path         string `yaml:"path" validate:"required_if=Format gpkg"`
	Bands        int    `yaml:"bands" validate:"min=0"`
	DType        string `yaml:"dtype"`
	GeometryType string `yaml:"geometry_type"`
}

// Baselevels marks a zoom range as processed directly from inputs; zooms
// outside the range are derived from adjacent zoom output. Higher names the
// resampling method for zooms above the range (upsampled from their parent),
// Lower the method for zooms below it (downsampled from their children).
type Baselevels struct {
	Range  zoom.Range
	Lower  string
	Higher string
}

// Config is a fully parsed and validated process configuration.
// Params and Inputs keep their declaration order, which decides
// first-match-wins for zoom-conditional values.
type Config struct {
	Process    string
	Pyramid    pyramid.Pyramid
	ZoomLevels zoom.Range
	Baselevels *Baselevels
	Output     Output
	Order      string

	inputs *orderedmap.OrderedMap[string, ZoomConditional]
	params *orderedmap.OrderedMap[string, ZoomConditional]

	mu        sync.Mutex
	snapshots map[int]*Snapshot
}

type rawConfig struct {
	Process    string         `yaml:"process" validate:"required"`
	Pyramid    rawPyramid     `yaml:"pyramid" validate:"required"`
	ZoomLevels yaml.Node      `yaml:"zoom_levels"`
	Baselevels *rawBaselevels `yaml:"baselevels"`
	Input      yaml.Node      `yaml:"input"`
	Output     Output         `yaml:"output" validate:"required"`
	Params     yaml.Node      `yaml:"params"`
	Order      string         `yaml:"order" default:"ascending" validate:"oneof=ascending descending"`
}

type rawPyramid struct {
	Grid        yaml.Node `yaml:"grid"`
	Metatiling  uint      `yaml:"metatiling" default:"1"`
	Pixelbuffer uint      `yaml:"pixelbuffer"`
}

type rawBaselevels struct {
	Min    int    `yaml:"min"`
	Max    int    `yaml:"max"`
	Lower  string `yaml:"lower" default:"nearest"`
	Higher string `yaml:"higher" default:"nearest"`
}

// yamlGrid mirrors pyramid.Grid for inline custom grid definitions.
type yamlGrid struct {
	ID           string     `yaml:"id"`
	Title        string     `yaml:"title"`
	CRS          string     `yaml:"crs"`
	Bounds       [4]float64 `yaml:"bounds"`
	MatrixWidth  uint       `yaml:"matrixWidth" default:"1"`
	MatrixHeight uint       `yaml:"matrixHeight" default:"1"`
}

// LoadFile reads a YAML process configuration from disk.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, configErrorf("could not read configuration %q: %w", path, err)
	}
	return Parse(data)
}

// Parse parses and validates a YAML process configuration.
func Parse(data []byte) (*Config, error) {
	var raw rawConfig
	if err := defaults.Set(&raw); err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, configErrorf("invalid yaml: %w", err)
	}
	if err := defaults.Set(&raw); err != nil {
		return nil, err
	}
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(&raw); err != nil {
		return nil, ConfigurationError{Err: err}
	}

	grid, err := parseGrid(raw.Pyramid.Grid)
	if err != nil {
		return nil, err
	}
	pyr, err := pyramid.NewPyramid(grid, raw.Pyramid.Metatiling, raw.Pyramid.Pixelbuffer)
	if err != nil {
		return nil, ConfigurationError{Err: err}
	}

	zoomLevels, err := parseZoomLevels(raw.ZoomLevels)
	if err != nil {
		return nil, err
	}
	if raw.Order == "descending" {
		zoomLevels = zoomLevels.Descend()
	}

	var baselevels *Baselevels
	if raw.Baselevels != nil {
		baseRange, err := zoom.NewRange(raw.Baselevels.Min, raw.Baselevels.Max)
		if err != nil {
			return nil, ConfigurationError{Err: err}
		}
		if !zoomLevels.Contains(baseRange.Min) || !zoomLevels.Contains(baseRange.Max) {
			return nil, configErrorf("baselevels %s outside process %s", baseRange, zoomLevels)
		}
		baselevels = &Baselevels{Range: baseRange, Lower: raw.Baselevels.Lower, Higher: raw.Baselevels.Higher}
	}

	inputs, err := parseConditionalMapping(raw.Input, "input")
	if err != nil {
		return nil, err
	}
	// input bindings must be source path strings at every zoom
	for pair := inputs.Oldest(); pair != nil; pair = pair.Next() {
		for _, cv := range pair.Value.values {
			if _, isString := cv.value.(string); !isString {
				return nil, configErrorf("input %q must be a source path string, got %T", pair.Key, cv.value)
			}
		}
	}
	params, err := parseConditionalMapping(raw.Params, "params")
	if err != nil {
		return nil, err
	}

	return &Config{
		Process:    raw.Process,
		Pyramid:    pyr,
		ZoomLevels: zoomLevels,
		Baselevels: baselevels,
		Output:     raw.Output,
		Order:      raw.Order,
		inputs:     inputs,
		params:     params,
		snapshots:  make(map[int]*Snapshot),
	}, nil
}

func parseGrid(node yaml.Node) (pyramid.Grid, error) {
	if node.IsZero() {
		return pyramid.Grid{}, configErrorf("pyramid.grid is required")
	}
	if node.Kind == yaml.ScalarNode {
		var id string
		if err := node.Decode(&id); err != nil {
			return pyramid.Grid{}, ConfigurationError{Err: err}
		}
		grid, err := pyramid.LoadEmbeddedGrid(id)
		if err != nil {
			return pyramid.Grid{}, ConfigurationError{Err: err}
		}
		return grid, nil
	}
	var custom yamlGrid
	if err := defaults.Set(&custom); err != nil {
		return pyramid.Grid{}, err
	}
	if err := node.Decode(&custom); err != nil {
		return pyramid.Grid{}, configErrorf("invalid custom grid: %w", err)
	}
	grid := pyramid.Grid{
		ID:           custom.ID,
		Title:        custom.Title,
		CRS:          custom.CRS,
		Bounds:       custom.Bounds,
		MatrixWidth:  custom.MatrixWidth,
		MatrixHeight: custom.MatrixHeight,
	}
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(&grid); err != nil {
		return pyramid.Grid{}, ConfigurationError{Err: err}
	}
	return grid, nil
}

// parseZoomLevels accepts a single level, a {min, max} mapping or a list of
// levels.
func parseZoomLevels(node yaml.Node) (zoom.Range, error) {
	if node.IsZero() {
		return zoom.Range{}, configErrorf("zoom_levels is required")
	}
	switch node.Kind {
	case yaml.ScalarNode:
		var level int
		if err := node.Decode(&level); err != nil {
			return zoom.Range{}, configErrorf("invalid zoom_levels: %w", err)
		}
		r, err := zoom.Single(level)
		if err != nil {
			return zoom.Range{}, ConfigurationError{Err: err}
		}
		return r, nil
	case yaml.MappingNode:
		var minMax struct {
			Min *int `yaml:"min"`
			Max *int `yaml:"max"`
		}
		if err := node.Decode(&minMax); err != nil {
			return zoom.Range{}, configErrorf("invalid zoom_levels: %w", err)
		}
		if minMax.Min == nil || minMax.Max == nil {
			return zoom.Range{}, configErrorf("zoom_levels mapping needs both min and max")
		}
		r, err := zoom.NewRange(*minMax.Min, *minMax.Max)
		if err != nil {
			return zoom.Range{}, ConfigurationError{Err: err}
		}
		return r, nil
	case yaml.SequenceNode:
		var levels []int
		if err := node.Decode(&levels); err != nil {
			return zoom.Range{}, configErrorf("invalid zoom_levels: %w", err)
		}
		r, err := zoom.FromList(levels)
		if err != nil {
			return zoom.Range{}, ConfigurationError{Err: err}
		}
		return r, nil
	default:
		return zoom.Range{}, configErrorf("zoom_levels must be an integer, a min/max mapping or a list")
	}
}

// parseConditionalMapping reads a mapping of name to plain-or-zoom-conditional
// value, preserving declaration order.
func parseConditionalMapping(node yaml.Node, section string) (*orderedmap.OrderedMap[string, ZoomConditional], error) {
	out := orderedmap.New[string, ZoomConditional]()
	if node.IsZero() {
		return out, nil
	}
	if node.Kind != yaml.MappingNode {
		return nil, configErrorf("%s must be a mapping", section)
	}
	// yaml mapping nodes store keys and values alternating
	for i := 0; i < len(node.Content); i += 2 {
		keyNode, valueNode := node.Content[i], node.Content[i+1]
		var name string
		if err := keyNode.Decode(&name); err != nil {
			return nil, configErrorf("invalid %s key: %w", section, err)
		}
		conditional, err := parseConditionalValue(name, valueNode)
		if err != nil {
			return nil, err
		}
		out.Set(name, conditional)
	}
	return out, nil
}

func parseConditionalValue(name string, node *yaml.Node) (ZoomConditional, error) {
	if node.Kind == yaml.MappingNode && allKeysAreZoomConditions(node) {
		conditional := ZoomConditional{}
		seen := make(map[condition]struct{})
		for i := 0; i < len(node.Content); i += 2 {
			keyNode, valueNode := node.Content[i], node.Content[i+1]
			cond, err := parseCondition(keyNode.Value)
			if err != nil {
				return ZoomConditional{}, configErrorf("%s: %w", name, err)
			}
			if _, dup := seen[cond]; dup {
				return ZoomConditional{}, configErrorf("%s: duplicate zoom condition %q", name, keyNode.Value)
			}
			seen[cond] = struct{}{}
			var value any
			if err := valueNode.Decode(&value); err != nil {
				return ZoomConditional{}, configErrorf("%s: %w", name, err)
			}
			conditional.values = append(conditional.values, conditionalValue{cond: &cond, value: value})
		}
		return conditional, nil
	}
	if node.Kind == yaml.MappingNode && anyKeyIsZoomCondition(node) {
		return ZoomConditional{}, configErrorf("%s mixes zoom conditions with plain keys", name)
	}
	var value any
	if err := node.Decode(&value); err != nil {
		return ZoomConditional{}, configErrorf("%s: %w", name, err)
	}
	return ZoomConditional{values: []conditionalValue{{value: value}}}, nil
}

func allKeysAreZoomConditions(node *yaml.Node) bool {
	if len(node.Content) == 0 {
		return false
	}
	for i := 0; i < len(node.Content); i += 2 {
		if !strings.HasPrefix(node.Content[i].Value, "zoom") {
			return false
		}
	}
	return true
}

func anyKeyIsZoomCondition(node *yaml.Node) bool {
	for i := 0; i < len(node.Content); i += 2 {
		if strings.HasPrefix(node.Content[i].Value, "zoom") {
			return true
		}
	}
	return false
}
