package process

import (
	"fmt"

	"github.com/pdok/tegel/config"
	"github.com/pdok/tegel/pyramid"
)

// Context is what a process Func gets to work with: the tile, the resolved
// parameters for its zoom and lazily opened input readers.
type Context struct {
	tile     pyramid.Tile
	snapshot *config.Snapshot
	driver   InputDriver
	override string
	readers  map[string]Reader
}

func newContext(tile pyramid.Tile, snapshot *config.Snapshot, driver InputDriver, override string) *Context {
	return &Context{
		tile:     tile,
		snapshot: snapshot,
		driver:   driver,
		override: override,
		readers:  make(map[string]Reader),
	}
}

func (c *Context) Tile() pyramid.Tile {
	return c.tile
}

func (c *Context) Zoom() int {
	return c.snapshot.Zoom
}

// Param returns a resolved configuration parameter for this zoom.
func (c *Context) Param(name string) (any, bool) {
	return c.snapshot.Param(name)
}

// ParamNames returns the parameter names available at this zoom.
func (c *Context) ParamNames() []string {
	return c.snapshot.ParamNames()
}

// InputIDs returns the input identifiers bound at this zoom.
func (c *Context) InputIDs() []string {
	return c.snapshot.InputIDs()
}

// Open returns a reader for a declared input, scoped to this tile's buffered
// bounds. Readers are opened once and reused within the context.
func (c *Context) Open(inputID string) (Reader, error) {
	if reader, ok := c.readers[inputID]; ok {
		return reader, nil
	}
	source, ok := c.snapshot.Input(inputID)
	if !ok {
		return nil, fmt.Errorf("input %q is not configured at zoom %d", inputID, c.snapshot.Zoom)
	}
	if source == config.DirectOverride {
		if c.override == "" {
			return nil, fmt.Errorf("input %q expects a command line override but none was given", inputID)
		}
		source = c.override
	}
	if c.driver == nil {
		return nil, fmt.Errorf("no input driver configured, cannot open %q", inputID)
	}
	reader, err := c.driver.Open(source, c.tile)
	if err != nil {
		return nil, fmt.Errorf("could not open input %q (%s): %w", inputID, source, err)
	}
	c.readers[inputID] = reader
	return reader, nil
}
