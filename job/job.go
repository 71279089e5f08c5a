// Package job drives a run end to end: it resolves the configuration per
// zoom level, turns graph batches into tile processes and feeds them to an
// executor, draining each batch before the next so baselevel reads always
// see complete source levels.
package job

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/pdok/tegel/config"
	"github.com/pdok/tegel/executor"
	"github.com/pdok/tegel/graph"
	"github.com/pdok/tegel/process"
)

// Status of a finished run. StatusFailed is reserved for runs that could not
// proceed at all; tile-level failures yield StatusFinishedErrors.
const (
	StatusFinished       = "finished"
	StatusFinishedErrors = "finished with errors"
	StatusCancelled      = "cancelled"
	StatusFailed         = "failed"
)

// Summary is the outcome of a run. Counters add up to Total.
type Summary struct {
	ID        string
	Written   int
	Empty     int
	Skipped   int
	Failed    int
	Cancelled int
	Total     int
	Elapsed   time.Duration
	Status    string
}

func (s Summary) String() string {
	return fmt.Sprintf("job %s %s: %d written, %d empty, %d skipped, %d failed, %d cancelled of %d tiles in %s",
		s.ID, s.Status, s.Written, s.Empty, s.Skipped, s.Failed, s.Cancelled, s.Total, s.Elapsed.Round(time.Millisecond))
}

// Options configure a Job. Config, Graph, Store and Executor are required.
type Options struct {
	Config   *config.Config
	Graph    graph.Graph
	Store    process.Store
	Executor executor.Executor[process.Result]
	// Driver opens the configured inputs. May be nil when the process
	// reads no inputs.
	Driver process.InputDriver
	// Override replaces every input source, set from the command line.
	Override string
	// Interpolator derives baselevel tiles. Defaults to process.Nearest.
	Interpolator process.Interpolator
	Overwrite    bool
	// Observer is called with every tile result, in completion order.
	Observer func(process.Result)
}

// Job runs a tile processing graph once. A Job is single use.
type Job struct {
	id      string
	opts    Options
	f       process.Func
	started atomic.Bool
}

func New(opts Options) (*Job, error) {
	if opts.Config == nil {
		return nil, errors.New("job needs a configuration")
	}
	if opts.Store == nil {
		return nil, errors.New("job needs a store")
	}
	if opts.Executor == nil {
		return nil, errors.New("job needs an executor")
	}
	f, err := process.Lookup(opts.Config.Process)
	if err != nil {
		return nil, err
	}
	if opts.Interpolator == nil {
		opts.Interpolator = process.Nearest{}
	}
	return &Job{id: uuid.NewString(), opts: opts, f: f}, nil
}

func (j *Job) ID() string {
	return j.id
}

// Run executes all batches. It drains every started batch even when the
// context is cancelled, so finished tiles keep their results; tiles that were
// never dispatched are counted as cancelled. The returned error reports setup
// problems, not per-tile failures, which land in the summary.
func (j *Job) Run(ctx context.Context) (Summary, error) {
	summary := Summary{ID: j.id, Total: j.opts.Graph.TileCount()}
	if !j.started.CompareAndSwap(false, true) {
		return summary, fmt.Errorf("job %s already ran", j.id)
	}
	start := time.Now()

	// Zooms whose entire batch failed. Derived batches reading from a dead
	// zoom are skipped, so a broken base never cascades into useless reads.
	dead := map[int]bool{}

	for b, batch := range j.opts.Graph.Batches {
		if ctx.Err() != nil {
			for _, later := range j.opts.Graph.Batches[b:] {
				summary.Cancelled += len(later.Tiles)
			}
			break
		}

		if batch.Source != graph.SourceInputs && dead[batch.SourceZoom] {
			dead[batch.Zoom] = true
			summary.Failed += len(batch.Tiles)
			if j.opts.Observer != nil {
				for _, tile := range batch.Tiles {
					j.opts.Observer(process.Result{
						Tile:   tile,
						Status: process.StatusFailed,
						Err:    fmt.Errorf("source zoom %d produced no tiles", batch.SourceZoom),
					})
				}
			}
			continue
		}

		snapshot, err := j.opts.Config.Resolve(batch.Zoom)
		if err != nil {
			summary.Elapsed = time.Since(start)
			summary.Status = StatusFailed
			return summary, fmt.Errorf("could not resolve configuration for zoom %d: %w", batch.Zoom, err)
		}

		tasks := j.batchTasks(batch, snapshot)
		failed := 0
		for completed := range j.opts.Executor.Run(ctx, tasks) {
			result := completed.Value
			if completed.Err != nil {
				status := process.StatusFailed
				if errors.Is(completed.Err, context.Canceled) || errors.Is(completed.Err, context.DeadlineExceeded) {
					status = process.StatusCancelled
				}
				result = process.Result{Tile: batch.Tiles[completed.Index], Status: status, Err: completed.Err}
			}
			if result.Status == process.StatusFailed {
				failed++
			}
			summary.count(result.Status)
			if j.opts.Observer != nil {
				j.opts.Observer(result)
			}
		}
		if failed == len(batch.Tiles) && len(batch.Tiles) > 0 {
			dead[batch.Zoom] = true
		}
	}

	summary.Elapsed = time.Since(start)
	switch {
	case summary.Cancelled > 0:
		summary.Status = StatusCancelled
	case summary.Failed > 0:
		summary.Status = StatusFinishedErrors
	default:
		summary.Status = StatusFinished
	}
	return summary, nil
}

func (j *Job) batchTasks(batch graph.Batch, snapshot *config.Snapshot) []executor.Task[process.Result] {
	derivation := process.Derivation{}
	switch batch.Source {
	case graph.SourceLowerZoom:
		// zooms above the baselevel range upsample with the "higher" method
		derivation.Mode = process.FromLowerZoom
		if j.opts.Config.Baselevels != nil {
			derivation.Resampling = j.opts.Config.Baselevels.Higher
		}
	case graph.SourceHigherZoom:
		// zooms below the baselevel range downsample with the "lower" method
		derivation.Mode = process.FromHigherZoom
		if j.opts.Config.Baselevels != nil {
			derivation.Resampling = j.opts.Config.Baselevels.Lower
		}
	}

	tasks := make([]executor.Task[process.Result], len(batch.Tiles))
	for i, tile := range batch.Tiles {
		tp := &process.TileProcess{
			Tile:         tile,
			Snapshot:     snapshot,
			Schema:       j.opts.Config.Output,
			Func:         j.f,
			Driver:       j.opts.Driver,
			Override:     j.opts.Override,
			Store:        j.opts.Store,
			Interpolator: j.opts.Interpolator,
			Derivation:   derivation,
			Overwrite:    j.opts.Overwrite,
		}
		tasks[i] = func(ctx context.Context) process.Result {
			return tp.Execute(ctx)
		}
	}
	return tasks
}

func (s *Summary) count(status process.Status) {
	switch status {
	case process.StatusWritten:
		s.Written++
	case process.StatusEmpty:
		s.Empty++
	case process.StatusSkipped:
		s.Skipped++
	case process.StatusCancelled:
		s.Cancelled++
	default:
		s.Failed++
	}
}
