package app

import (
	"context"
	"time"

	"examroom-service/internal/domain"
	"github.com/sirupsen/logrus"
)

const (
	defaultCodeLength = 6
	minCodeLength     = 6
	maxCodeLength     = 8
)

// Option customizes a service.
type Option func(*options)

type options struct {
	now        func() time.Time
	log        logrus.FieldLogger
	codeLength int
}

func newOptions(opts []Option) options {
	o := options{
		now:        time.Now,
		log:        logrus.StandardLogger(),
		codeLength: defaultCodeLength,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithClock replaces time.Now; tests use it for deterministic deadlines.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(o *options) {
		if log != nil {
			o.log = log
		}
	}
}

// WithCodeLength sets the join-code length, clamped to 6..8.
func WithCodeLength(n int) Option {
	return func(o *options) {
		switch {
		case n < minCodeLength:
			o.codeLength = minCodeLength
		case n > maxCodeLength:
			o.codeLength = maxCodeLength
		default:
			o.codeLength = n
		}
	}
}

// emit publishes an event. Delivery failures are logged, never returned: the
// state change already happened and clients resync through reads.
func emit(ctx context.Context, events Broadcaster, log logrus.FieldLogger, typ domain.EventType, roomID string, payload any) {
	if events == nil {
		return
	}
	ev, err := domain.NewEvent(typ, roomID, payload)
	if err != nil {
		log.WithError(err).WithField("room_id", roomID).Warn("encode event")
		return
	}
	if err := events.Publish(ctx, ev); err != nil {
		log.WithError(err).WithFields(logrus.Fields{"room_id": roomID, "event": typ}).Warn("broadcast failed")
	}
}
