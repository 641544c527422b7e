package circuitbreaker

import (
	"errors"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

// ErrOpen is returned without calling the wrapped function while the breaker is open.
var ErrOpen = gobreaker.ErrOpenState

type Settings struct {
	Name                string
	MaxHalfOpenRequests uint32
	Interval            time.Duration // closed-state counter reset period
	OpenTimeout         time.Duration // how long the breaker stays open
	ConsecutiveFailures uint32        // failures that trip the breaker
}

func DefaultSettings(name string) Settings {
	return Settings{
		Name:                name,
		MaxHalfOpenRequests: 1,
		Interval:            time.Minute,
		OpenTimeout:         30 * time.Second,
		ConsecutiveFailures: 5,
	}
}

type Breaker struct {
	cb *gobreaker.CircuitBreaker[struct{}]
}

func New(s Settings, log *zap.Logger) *Breaker {
	if log == nil {
		log = zap.NewNop()
	}
	trip := s.ConsecutiveFailures
	if trip == 0 {
		trip = 5
	}
	cb := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        s.Name,
		MaxRequests: s.MaxHalfOpenRequests,
		Interval:    s.Interval,
		Timeout:     s.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= trip
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit_breaker_state_changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	return &Breaker{cb: cb}
}

// Execute runs fn through the breaker.
func (b *Breaker) Execute(fn func() error) error {
	_, err := b.cb.Execute(func() (struct{}, error) {
		return struct{}{}, fn()
	})
	if errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrOpen
	}
	return err
}

func (b *Breaker) State() string {
	return b.cb.State().String()
}
