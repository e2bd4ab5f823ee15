package query

import (
	"time"

	"github.com/radiusdt/vector-analytics/internal/storage"
)

// Result is the tagged outcome of one operation: either a payload with
// the snapshot version it was computed from, or a Failure.
type Result[T any] struct {
	payload   T
	version   storage.Version
	failure   *Failure
	timestamp time.Time
	cached    bool
}

func ok[T any](payload T, v storage.Version, cached bool) Result[T] {
	return Result[T]{payload: payload, version: v, timestamp: v.LoadedAt, cached: cached}
}

func failed[T any](f *Failure, at time.Time) Result[T] {
	return Result[T]{failure: f, timestamp: at}
}

// Ok reports whether the operation succeeded.
func (r Result[T]) Ok() bool { return r.failure == nil }

// Payload returns the payload and whether there is one.
func (r Result[T]) Payload() (T, bool) { return r.payload, r.failure == nil }

// Failure returns the failure, or nil on success.
func (r Result[T]) Failure() *Failure { return r.failure }

// Version is the snapshot the payload was computed from.
func (r Result[T]) Version() storage.Version { return r.version }

// Cached reports whether the payload came from the result cache.
func (r Result[T]) Cached() bool { return r.cached }

// Envelope renders the result for transport.
func (r Result[T]) Envelope() Envelope {
	if r.failure != nil {
		return Envelope{Status: StatusError, Error: r.failure, Timestamp: r.timestamp}
	}
	return Envelope{
		Status:    StatusOK,
		Data:      r.payload,
		Snapshot:  r.version.Token,
		Timestamp: r.timestamp,
	}
}

const (
	StatusOK      = "ok"
	StatusError   = "error"
	StatusPartial = "partial"
)

// Envelope is the wire shape shared by every operation. Timestamp is the
// snapshot load time for successes, so identical queries against one
// snapshot render identically.
type Envelope struct {
	Status    string              `json:"status"`
	Data      any                 `json:"data,omitempty"`
	Sections  map[string]Envelope `json:"sections,omitempty"`
	Error     *Failure            `json:"error,omitempty"`
	Snapshot  string              `json:"snapshot,omitempty"`
	Timestamp time.Time           `json:"timestamp"`
}
