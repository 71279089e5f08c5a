package process

import (
	"time"

	"github.com/pdok/tegel/pyramid"
)

// Payload is the validated output for one tile. Data is opaque to the core;
// encoding and decoding are driver concerns. The remaining fields describe
// the payload shape for schema validation.
type Payload struct {
	Bands        int
	DType        string
	GeometryType string
	Data         []byte
}

type Status string

const (
	StatusWritten   Status = "written"
	StatusEmpty     Status = "empty"
	StatusSkipped   Status = "skipped"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Result is the terminal outcome of processing one tile. Created once,
// never mutated.
type Result struct {
	Tile    pyramid.Tile
	Status  Status
	Reason  string
	Err     error
	Payload *Payload
	Elapsed time.Duration
}

func (r Result) String() string {
	if r.Err != nil {
		return r.Tile.String() + " " + string(r.Status) + ": " + r.Err.Error()
	}
	if r.Reason != "" {
		return r.Tile.String() + " " + string(r.Status) + ": " + r.Reason
	}
	return r.Tile.String() + " " + string(r.Status)
}
