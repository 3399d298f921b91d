package recorder

import (
	"context"
	"errors"
)

type multi []Recorder

// Multi returns a Recorder that records to every r in order. All sinks are
// tried; their errors are joined.
func Multi(rs ...Recorder) Recorder {
	if len(rs) == 1 {
		return rs[0]
	}
	return multi(rs)
}

func (m multi) Record(ctx context.Context, ev Event) error {
	var errs []error
	for _, r := range m {
		if err := r.Record(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
