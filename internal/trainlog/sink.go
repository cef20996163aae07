// Package trainlog persists periodic session snapshots.
package trainlog

import (
	"context"
	"errors"

	"github.com/dj-oyu/wefit/rep-counter/internal/session"
)

// Sink receives snapshot records.
type Sink interface {
	Append(ctx context.Context, rec session.Record) error
}

// MultiSink appends to every sink and joins their errors.
type MultiSink []Sink

// Append writes rec to all sinks; one failing sink does not skip the rest.
func (m MultiSink) Append(ctx context.Context, rec session.Record) error {
	var errs []error
	for _, s := range m {
		if err := s.Append(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
