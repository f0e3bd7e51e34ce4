package events

import (
	"context"
	"errors"

	"uptrend-engine/internal/model"
)

// Fanout publishes every event to all of its publishers. A failing
// publisher does not stop the others.
type Fanout []model.EventPublisher

func (f Fanout) Publish(ctx context.Context, key string, payload []byte) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, key, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f Fanout) Close() error {
	var errs []error
	for _, p := range f {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
