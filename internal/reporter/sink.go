package reporter

import (
	"context"
	"math/rand/v2"
	"sync"

	"github.com/runnerr0/blocklog/internal/storage"
)

// DefaultSuccessRate is the delivery success probability of a SimulatedSink
// built with a zero rate.
const DefaultSuccessRate = 0.9

// Sink delivers one record to the upstream collector. A returned error means
// the attempt never produced an acknowledgment; a non-2xx Ack.StatusCode
// means the collector answered and refused it.
type Sink interface {
	Deliver(ctx context.Context, rec storage.Record) (storage.Ack, error)
}

// SimulatedSink stands in for the upstream collector. Each delivery succeeds
// with probability SuccessRate.
type SimulatedSink struct {
	successRate float64

	mu   sync.Mutex
	roll func() float64
}

// NewSimulatedSink returns a sink succeeding with the given probability.
// A rate of 0 selects DefaultSuccessRate; use a negative rate to always fail.
func NewSimulatedSink(successRate float64) *SimulatedSink {
	if successRate == 0 {
		successRate = DefaultSuccessRate
	}
	return &SimulatedSink{
		successRate: successRate,
		roll:        rand.Float64,
	}
}

// WithRoll replaces the random source. Used by tests.
func (s *SimulatedSink) WithRoll(roll func() float64) *SimulatedSink {
	s.mu.Lock()
	s.roll = roll
	s.mu.Unlock()
	return s
}

func (s *SimulatedSink) Deliver(ctx context.Context, _ storage.Record) (storage.Ack, error) {
	if err := ctx.Err(); err != nil {
		return storage.Ack{}, err
	}

	s.mu.Lock()
	r := s.roll()
	s.mu.Unlock()

	if r < s.successRate {
		return storage.Ack{StatusCode: 200, Response: "delivered"}, nil
	}
	return storage.Ack{StatusCode: 500, Response: "collector unavailable"}, nil
}
