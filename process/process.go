// Package process executes the user-defined transformation for exactly one
// tile and turns the outcome into a terminal Result.
package process

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pdok/tegel/config"
	"github.com/pdok/tegel/pyramid"
)

const (
	DefaultWriteAttempts = 3
	DefaultWriteBackoff  = time.Second
)

// DerivationMode says where a tile's data comes from.
type DerivationMode int

const (
	// FromInputs runs the process function on raw inputs.
	FromInputs DerivationMode = iota
	// FromLowerZoom upsamples from the parent tile's already-written output.
	FromLowerZoom
	// FromHigherZoom downsamples from the children tiles' already-written output.
	FromHigherZoom
)

// Derivation carries the mode plus the configured resampling method name.
type Derivation struct {
	Mode       DerivationMode
	Resampling string
}

// TileProcess is the unit of work for one tile address. The task graph never
// schedules the same address twice within a run, so Execute does not need to
// guard against concurrent invocations for the same tile.
type TileProcess struct {
	Tile         pyramid.Tile
	Snapshot     *config.Snapshot
	Schema       config.Output
	Func         Func
	Driver       InputDriver
	Override     string
	Store        Store
	Interpolator Interpolator
	Derivation   Derivation
	Overwrite    bool

	// bounded retry for transient write failures
	WriteAttempts int
	WriteBackoff  time.Duration
}

// Execute runs the per-tile state machine:
// existence check, data generation, schema validation, write with bounded
// retries. Every outcome is terminal; errors become Failed results and never
// propagate as panics.
func (tp *TileProcess) Execute(ctx context.Context) Result {
	start := time.Now()

	if !tp.Overwrite {
		exists, err := tp.Store.Exists(tp.Tile)
		if err != nil {
			return tp.failed(start, fmt.Errorf("existence check failed: %w", err))
		}
		if exists {
			return Result{Tile: tp.Tile, Status: StatusSkipped, Reason: "output already exists", Elapsed: time.Since(start)}
		}
	}

	var payload *Payload
	var err error
	switch tp.Derivation.Mode {
	case FromLowerZoom:
		payload, err = tp.deriveFromLowerZoom()
	case FromHigherZoom:
		payload, err = tp.deriveFromHigherZoom()
	default:
		payload, err = tp.runFunc()
	}
	if errors.Is(err, ErrEmptyTile) || (err == nil && payload == nil) {
		return Result{Tile: tp.Tile, Status: StatusEmpty, Reason: "process output empty, nothing written", Elapsed: time.Since(start)}
	}
	if err != nil {
		return tp.failed(start, err)
	}

	if err := tp.validate(payload); err != nil {
		return tp.failed(start, err)
	}

	if err := tp.write(ctx, payload); err != nil {
		return tp.failed(start, err)
	}
	return Result{Tile: tp.Tile, Status: StatusWritten, Payload: payload, Elapsed: time.Since(start)}
}

// runFunc invokes the user function, converting panics into errors so one bad
// tile cannot take down the run.
func (tp *TileProcess) runFunc() (payload *Payload, err error) {
	defer func() {
		if r := recover(); r != nil {
			payload = nil
			err = UserFunctionError{Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	processCtx := newContext(tp.Tile, tp.Snapshot, tp.Driver, tp.Override)
	payload, err = tp.Func(processCtx)
	if err != nil && !errors.Is(err, ErrEmptyTile) {
		err = UserFunctionError{Err: err}
	}
	return payload, err
}

// deriveFromLowerZoom reads the parent tile's output and upsamples it.
func (tp *TileProcess) deriveFromLowerZoom() (*Payload, error) {
	parent, ok := tp.Tile.Parent()
	if !ok {
		return nil, fmt.Errorf("tile %s has no parent to derive from", tp.Tile)
	}
	exists, err := tp.Store.Exists(parent)
	if err != nil {
		return nil, fmt.Errorf("could not check baselevel output %s: %w", parent, err)
	}
	if !exists {
		return nil, ErrEmptyTile
	}
	payload, err := tp.Store.Read(parent)
	if err != nil {
		return nil, fmt.Errorf("could not read baselevel output %s: %w", parent, err)
	}
	return tp.Interpolator.Upsample(TileData{Tile: parent, Payload: payload}, tp.Tile, tp.Derivation.Resampling)
}

// deriveFromHigherZoom reads the children tiles' output and downsamples the
// mosaic.
func (tp *TileProcess) deriveFromHigherZoom() (*Payload, error) {
	var children []TileData
	for _, child := range tp.Tile.Children() {
		exists, err := tp.Store.Exists(child)
		if err != nil {
			return nil, fmt.Errorf("could not check baselevel output %s: %w", child, err)
		}
		if !exists {
			continue
		}
		payload, err := tp.Store.Read(child)
		if err != nil {
			return nil, fmt.Errorf("could not read baselevel output %s: %w", child, err)
		}
		children = append(children, TileData{Tile: child, Payload: payload})
	}
	if len(children) == 0 {
		return nil, ErrEmptyTile
	}
	return tp.Interpolator.Downsample(children, tp.Tile, tp.Derivation.Resampling)
}

// validate checks the payload shape against the declared output schema.
func (tp *TileProcess) validate(payload *Payload) error {
	if tp.Schema.Bands > 0 && payload.Bands != tp.Schema.Bands {
		return validationErrorf("expected %d bands, got %d", tp.Schema.Bands, payload.Bands)
	}
	if tp.Schema.DType != "" && payload.DType != tp.Schema.DType {
		return validationErrorf("expected dtype %s, got %s", tp.Schema.DType, payload.DType)
	}
	if tp.Schema.GeometryType != "" && payload.GeometryType != tp.Schema.GeometryType {
		return validationErrorf("expected geometry type %s, got %s", tp.Schema.GeometryType, payload.GeometryType)
	}
	return nil
}

// write stores the payload, retrying transient I/O failures a bounded number
// of times with a fixed delay.
func (tp *TileProcess) write(ctx context.Context, payload *Payload) error {
	attempts := tp.WriteAttempts
	if attempts <= 0 {
		attempts = DefaultWriteAttempts
	}
	backoff := tp.WriteBackoff
	if backoff <= 0 {
		backoff = DefaultWriteBackoff
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = tp.Store.Write(tp.Tile, payload)
		if err == nil {
			return nil
		}
		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("write of %s interrupted: %w", tp.Tile, ctx.Err())
		case <-time.After(backoff):
		}
	}
	return fmt.Errorf("write of %s failed after %d attempts: %w", tp.Tile, attempts, err)
}

func (tp *TileProcess) failed(start time.Time, err error) Result {
	return Result{Tile: tp.Tile, Status: StatusFailed, Err: err, Elapsed: time.Since(start)}
}
