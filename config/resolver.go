package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// condition is one parsed zoom expression, e.g. "zoom<=7".
type condition struct {
	op    string
	level int
}

// operator order matters: "<=" and ">=" must be tried before "<" and ">"
var conditionOps = []string{"=", "<=", ">=", "<", ">"}

func parseCondition(conf string) (condition, error) {
	expr := strings.TrimSpace(strings.TrimPrefix(conf, "zoom"))
	for _, op := range conditionOps {
		if !strings.HasPrefix(expr, op) {
			continue
		}
		level, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(expr, op)))
		if err != nil {
			return condition{}, fmt.Errorf("zoom level could not be determined from %q: %w", conf, err)
		}
		if level < 0 {
			return condition{}, fmt.Errorf("zoom level must not be negative in %q", conf)
		}
		return condition{op: op, level: level}, nil
	}
	return condition{}, fmt.Errorf("unknown zoom condition %q", conf)
}

func (c condition) matches(zoomLevel int) bool {
	switch c.op {
	case "=":
		return zoomLevel == c.level
	case "<=":
		return zoomLevel <= c.level
	case ">=":
		return zoomLevel >= c.level
	case "<":
		return zoomLevel < c.level
	case ">":
		return zoomLevel > c.level
	}
	return false
}

func (c condition) String() string {
	return fmt.Sprintf("zoom%s%d", c.op, c.level)
}

type conditionalValue struct {
	cond  *condition // nil for a plain value
	value any
}

// ZoomConditional is a parameter value that may differ per zoom level:
// an ordered list of (condition, value) pairs evaluated in declaration order,
// first match wins. A plain value is a single pair without condition.
type ZoomConditional struct {
	values []conditionalValue
}

// At resolves the value for a zoom level. The second return value is false
// when no condition matches, meaning the parameter is absent at that zoom.
func (zc ZoomConditional) At(zoomLevel int) (any, bool) {
	for _, cv := range zc.values {
		if cv.cond == nil || cv.cond.matches(zoomLevel) {
			return cv.value, true
		}
	}
	return nil, false
}

// Snapshot is the flat, fully resolved configuration for one zoom level.
// Immutable after construction and shared read-only between tile processes.
type Snapshot struct {
	Zoom        int
	params      *orderedmap.OrderedMap[string, any]
	inputs      *orderedmap.OrderedMap[string, string]
	fingerprint string
}

// Param returns a resolved parameter value.
func (s *Snapshot) Param(name string) (any, bool) {
	return s.params.Get(name)
}

// ParamNames returns the parameter names present at this zoom, in declaration
// order.
func (s *Snapshot) ParamNames() []string {
	names := make([]string, 0, s.params.Len())
	for pair := s.params.Oldest(); pair != nil; pair = pair.Next() {
		names = append(names, pair.Key)
	}
	return names
}

// Input returns the source reference an input identifier is bound to at this
// zoom. DirectOverride means the source comes from the command line.
func (s *Snapshot) Input(id string) (string, bool) {
	return s.inputs.Get(id)
}

// InputIDs returns the bound input identifiers in declaration order.
func (s *Snapshot) InputIDs() []string {
	ids := make([]string, 0, s.inputs.Len())
	for pair := s.inputs.Oldest(); pair != nil; pair = pair.Next() {
		ids = append(ids, pair.Key)
	}
	return ids
}

// Fingerprint identifies this snapshot's resolved content together with the
// pyramid parameters. Tiles processed under the same fingerprint are never
// recomputed unless overwrite is requested.
func (s *Snapshot) Fingerprint() string {
	return s.fingerprint
}

// Resolve returns the configuration snapshot for a zoom level. Snapshots are
// cached per zoom for the lifetime of the configuration; resolving the same
// zoom twice yields equal snapshots.
func (c *Config) Resolve(zoomLevel int) (*Snapshot, error) {
	if !c.ZoomLevels.Contains(zoomLevel) {
		return nil, configErrorf("zoom level %d not available with current configuration: %s", zoomLevel, c.ZoomLevels)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if snapshot, ok := c.snapshots[zoomLevel]; ok {
		return snapshot, nil
	}

	params := orderedmap.New[string, any]()
	for pair := c.params.Oldest(); pair != nil; pair = pair.Next() {
		if value, ok := pair.Value.At(zoomLevel); ok {
			params.Set(pair.Key, value)
		}
	}

	inputs := orderedmap.New[string, string]()
	for pair := c.inputs.Oldest(); pair != nil; pair = pair.Next() {
		value, ok := pair.Value.At(zoomLevel)
		if !ok {
			continue
		}
		source, isString := value.(string)
		if !isString {
			return nil, configErrorf("input %q must resolve to a source path at zoom %d, got %T", pair.Key, zoomLevel, value)
		}
		inputs.Set(pair.Key, source)
	}

	snapshot := &Snapshot{
		Zoom:        zoomLevel,
		params:      params,
		inputs:      inputs,
		fingerprint: c.fingerprint(zoomLevel, params, inputs),
	}
	c.snapshots[zoomLevel] = snapshot
	return snapshot, nil
}

// fingerprint hashes the zoom level, the pyramid parameters and every
// resolved value in declaration order.
func (c *Config) fingerprint(zoomLevel int, params *orderedmap.OrderedMap[string, any], inputs *orderedmap.OrderedMap[string, string]) string {
	h := sha256.New()
	fmt.Fprintf(h, "zoom=%d;grid=%s;metatiling=%d;pixelbuffer=%d;", zoomLevel, c.Pyramid.Grid.ID, c.Pyramid.Metatiling, c.Pyramid.Pixelbuffer)
	for pair := params.Oldest(); pair != nil; pair = pair.Next() {
		fmt.Fprintf(h, "param:%s=%#v;", pair.Key, pair.Value)
	}
	for pair := inputs.Oldest(); pair != nil; pair = pair.Next() {
		fmt.Fprintf(h, "input:%s=%s;", pair.Key, pair.Value)
	}
	return hex.EncodeToString(h.Sum(nil))
}
