package process

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdok/tegel/config"
	"github.com/pdok/tegel/pyramid"
)

type fakeStore struct {
	mu         sync.Mutex
	tiles      map[string]*Payload
	failWrites int
	writes     int
}

func newFakeStore() *fakeStore {
	return &fakeStore{tiles: make(map[string]*Payload)}
}

func (s *fakeStore) Exists(tile pyramid.Tile) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tiles[tile.String()]
	return ok, nil
}

func (s *fakeStore) Read(tile pyramid.Tile) (*Payload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	payload, ok := s.tiles[tile.String()]
	if !ok {
		return nil, fmt.Errorf("tile %s not found", tile)
	}
	return payload, nil
}

func (s *fakeStore) Write(tile pyramid.Tile, payload *Payload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	if s.failWrites > 0 {
		s.failWrites--
		return errors.New("connection reset")
	}
	s.tiles[tile.String()] = payload
	return nil
}

type fakeReader struct {
	empty   bool
	payload *Payload
}

func (r fakeReader) IsEmpty(_ ...int) (bool, error) {
	return r.empty, nil
}

func (r fakeReader) Read(_ ...int) (*Payload, error) {
	return r.payload, nil
}

type fakeDriver struct {
	readers map[string]fakeReader
	opened  []string
}

func (d *fakeDriver) Open(source string, _ pyramid.Tile) (Reader, error) {
	reader, ok := d.readers[source]
	if !ok {
		return nil, fmt.Errorf("no such source %q", source)
	}
	d.opened = append(d.opened, source)
	return reader, nil
}

type nearestInterpolator struct{}

func (nearestInterpolator) Upsample(parent TileData, _ pyramid.Tile, _ string) (*Payload, error) {
	return parent.Payload, nil
}

func (nearestInterpolator) Downsample(children []TileData, _ pyramid.Tile, _ string) (*Payload, error) {
	return children[0].Payload, nil
}

func testTile(t *testing.T, zoom, row, col int) pyramid.Tile {
	t.Helper()
	grid, err := pyramid.LoadEmbeddedGrid("mercator")
	require.NoError(t, err)
	p, err := pyramid.NewPyramid(grid, 1, 0)
	require.NoError(t, err)
	tile, err := p.NewTile(zoom, row, col)
	require.NoError(t, err)
	return tile
}

func testSnapshot(t *testing.T, zoom int) *config.Snapshot {
	t.Helper()
	cfg, err := config.Parse([]byte(`
process: copy
pyramid: {grid: mercator}
zoom_levels: {min: 0, max: 10}
output: {format: memory, bands: 1, dtype: float32}
input:
  in: source_a
`))
	require.NoError(t, err)
	snapshot, err := cfg.Resolve(zoom)
	require.NoError(t, err)
	return snapshot
}

func validPayload() *Payload {
	return &Payload{Bands: 1, DType: "float32", Data: []byte{1, 2, 3}}
}

func newTileProcess(t *testing.T, store Store, f Func) *TileProcess {
	t.Helper()
	return &TileProcess{
		Tile:         testTile(t, 5, 2, 3),
		Snapshot:     testSnapshot(t, 5),
		Schema:       config.Output{Bands: 1, DType: "float32"},
		Func:         f,
		Store:        store,
		WriteBackoff: time.Millisecond,
	}
}

func TestExecuteWrites(t *testing.T) {
	store := newFakeStore()
	tp := newTileProcess(t, store, func(_ *Context) (*Payload, error) {
		return validPayload(), nil
	})

	result := tp.Execute(context.Background())
	assert.Equal(t, StatusWritten, result.Status)
	require.NotNil(t, result.Payload)

	exists, err := store.Exists(tp.Tile)
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, 1, store.writes)
}

func TestExecuteSkipsExistingOutput(t *testing.T) {
	store := newFakeStore()
	require.NoError(t, store.Write(testTile(t, 5, 2, 3), validPayload()))
	store.writes = 0

	invoked := false
	tp := newTileProcess(t, store, func(_ *Context) (*Payload, error) {
		invoked = true
		return validPayload(), nil
	})

	result := tp.Execute(context.Background())
	assert.Equal(t, StatusSkipped, result.Status)
	assert.Equal(t, "output already exists", result.Reason)
	assert.False(t, invoked, "user function must not run for skipped tiles")
	assert.Equal(t, 0, store.writes)
}

func TestExecuteOverwriteRecomputes(t *testing.T) {
	store := newFakeStore()
	require.NoError(t, store.Write(testTile(t, 5, 2, 3), validPayload()))

	tp := newTileProcess(t, store, func(_ *Context) (*Payload, error) {
		return validPayload(), nil
	})
	tp.Overwrite = true

	result := tp.Execute(context.Background())
	assert.Equal(t, StatusWritten, result.Status)
}

func TestExecuteEmpty(t *testing.T) {
	tests := []struct {
		name string
		f    Func
	}{
		{name: "empty tile sentinel", f: func(_ *Context) (*Payload, error) { return nil, ErrEmptyTile }},
		{name: "nil payload", f: func(_ *Context) (*Payload, error) { return nil, nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore()
			tp := newTileProcess(t, store, tt.f)

			result := tp.Execute(context.Background())
			assert.Equal(t, StatusEmpty, result.Status)
			assert.Equal(t, 0, store.writes, "empty tiles must not be written")

			exists, err := store.Exists(tp.Tile)
			require.NoError(t, err)
			assert.False(t, exists)
		})
	}
}

func TestExecuteFailsOnSchemaMismatch(t *testing.T) {
	store := newFakeStore()
	tp := newTileProcess(t, store, func(_ *Context) (*Payload, error) {
		return &Payload{Bands: 3, DType: "float32"}, nil
	})

	result := tp.Execute(context.Background())
	assert.Equal(t, StatusFailed, result.Status)
	require.ErrorAs(t, result.Err, &OutputValidationError{})
	assert.Equal(t, 0, store.writes)
}

func TestExecuteCapturesUserFunctionFailures(t *testing.T) {
	tests := []struct {
		name string
		f    Func
	}{
		{name: "error", f: func(_ *Context) (*Payload, error) { return nil, errors.New("boom") }},
		{name: "panic", f: func(_ *Context) (*Payload, error) { panic("boom") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore()
			tp := newTileProcess(t, store, tt.f)

			result := tp.Execute(context.Background())
			assert.Equal(t, StatusFailed, result.Status)
			require.ErrorAs(t, result.Err, &UserFunctionError{})
			assert.Equal(t, 0, store.writes)
		})
	}
}

func TestExecuteRetriesTransientWriteFailures(t *testing.T) {
	store := newFakeStore()
	store.failWrites = 2
	tp := newTileProcess(t, store, func(_ *Context) (*Payload, error) {
		return validPayload(), nil
	})

	result := tp.Execute(context.Background())
	assert.Equal(t, StatusWritten, result.Status)
	assert.Equal(t, 3, store.writes)
}

func TestExecuteFailsAfterExhaustedWriteRetries(t *testing.T) {
	store := newFakeStore()
	store.failWrites = 99
	tp := newTileProcess(t, store, func(_ *Context) (*Payload, error) {
		return validPayload(), nil
	})

	result := tp.Execute(context.Background())
	assert.Equal(t, StatusFailed, result.Status)
	assert.Equal(t, DefaultWriteAttempts, store.writes)

	exists, err := store.Exists(tp.Tile)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestExecuteDerivesFromHigherZoom(t *testing.T) {
	store := newFakeStore()
	tile := testTile(t, 5, 2, 3)
	for _, child := range tile.Children() {
		require.NoError(t, store.Write(child, validPayload()))
	}

	tp := newTileProcess(t, store, nil)
	tp.Interpolator = nearestInterpolator{}
	tp.Derivation = Derivation{Mode: FromHigherZoom, Resampling: "median"}

	result := tp.Execute(context.Background())
	assert.Equal(t, StatusWritten, result.Status)
}

func TestExecuteDerivedEmptyWhenNoBaselevelOutput(t *testing.T) {
	store := newFakeStore()
	tp := newTileProcess(t, store, nil)
	tp.Interpolator = nearestInterpolator{}
	tp.Derivation = Derivation{Mode: FromHigherZoom}

	result := tp.Execute(context.Background())
	assert.Equal(t, StatusEmpty, result.Status)
}

func TestExecuteDerivesFromLowerZoom(t *testing.T) {
	store := newFakeStore()
	tile := testTile(t, 5, 2, 3)
	parent, ok := tile.Parent()
	require.True(t, ok)
	require.NoError(t, store.Write(parent, validPayload()))

	tp := newTileProcess(t, store, nil)
	tp.Interpolator = nearestInterpolator{}
	tp.Derivation = Derivation{Mode: FromLowerZoom, Resampling: "bilinear"}

	result := tp.Execute(context.Background())
	assert.Equal(t, StatusWritten, result.Status)
}

func TestContextOpen(t *testing.T) {
	driver := &fakeDriver{readers: map[string]fakeReader{
		"source_a": {payload: validPayload()},
	}}
	processCtx := newContext(testTile(t, 5, 2, 3), testSnapshot(t, 5), driver, "")

	reader, err := processCtx.Open("in")
	require.NoError(t, err)
	payload, err := reader.Read()
	require.NoError(t, err)
	assert.Equal(t, validPayload(), payload)

	// opened once, reused afterwards
	_, err = processCtx.Open("in")
	require.NoError(t, err)
	assert.Equal(t, []string{"source_a"}, driver.opened)

	_, err = processCtx.Open("nosuchinput")
	require.Error(t, err)
}

func TestCopyProcess(t *testing.T) {
	driver := &fakeDriver{readers: map[string]fakeReader{
		"source_a": {payload: validPayload()},
	}}
	processCtx := newContext(testTile(t, 5, 2, 3), testSnapshot(t, 5), driver, "")

	payload, err := Copy(processCtx)
	require.NoError(t, err)
	assert.Equal(t, validPayload(), payload)

	emptyDriver := &fakeDriver{readers: map[string]fakeReader{
		"source_a": {empty: true},
	}}
	processCtx = newContext(testTile(t, 5, 2, 3), testSnapshot(t, 5), emptyDriver, "")
	_, err = Copy(processCtx)
	require.ErrorIs(t, err, ErrEmptyTile)
}

func TestLookup(t *testing.T) {
	f, err := Lookup("copy")
	require.NoError(t, err)
	assert.NotNil(t, f)

	_, err = Lookup("nosuchprocess")
	require.Error(t, err)
}
