package sync

import (
	"time"

	"github.com/sony/gobreaker"
)

// Publisher is the outbound transport seen by the engine: fire-and-forget
// bytes on the configured send topic.
type Publisher interface {
	Publish(payload []byte) error
}

// BreakerPublisher wraps a Publisher in a circuit breaker so that a dead
// broker degrades to fast-failing publishes instead of stalling every
// handler on transport timeouts. Dropped publishes are acceptable here: the
// protocol is eventually consistent and the next full sync repairs gaps.
type BreakerPublisher struct {
	inner Publisher
	cb    *gobreaker.CircuitBreaker
}

func NewBreakerPublisher(inner Publisher, name string, consecutiveFails uint32, openFor time.Duration) *BreakerPublisher {
	if consecutiveFails < 1 {
		consecutiveFails = 5
	}
	if openFor <= 0 {
		openFor = 10 * time.Second
	}
	return &BreakerPublisher{
		inner: inner,
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    name,
			Timeout: openFor,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= consecutiveFails
			},
		}),
	}
}

func (p *BreakerPublisher) Publish(payload []byte) error {
	_, err := p.cb.Execute(func() (any, error) {
		return nil, p.inner.Publish(payload)
	})
	return err
}

// State exposes the breaker state for health reporting.
func (p *BreakerPublisher) State() gobreaker.State { return p.cb.State() }
