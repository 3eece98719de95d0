package backoff

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

type StrategyName string

const (
	ExponentialStrategy StrategyName = "exponential"
	FixedStrategy       StrategyName = "fixed"
	FibonacciStrategy   StrategyName = "fibonacci"
)

// ErrRetriesExhausted reports that the retry budget ran out. Callers get
// this instead of one more delay.
var ErrRetriesExhausted = errors.New("retries exhausted")

const (
	DefaultMinDelay = time.Second
	DefaultFactor   = 2.0
	DefaultRetries  = 5
)

// Options bound a strategy. Zero fields take the defaults above;
// zero MaxDelay means uncapped.
type Options struct {
	MinDelay time.Duration
	MaxDelay time.Duration
	Timeout  time.Duration
	Factor   float64
	Retries  int
}

// State threads attempt progress between calls. Strategies never mutate
// it; Next returns the follow-up state alongside the delay.
type State struct {
	Attempt int
}

type Strategy interface {
	Next(opts Options, st State) (time.Duration, State, error)
}

// New selects a strategy by name, defaulting to exponential.
func New(name StrategyName) (Strategy, error) {
	switch name {
	case ExponentialStrategy, "":
		return Exponential{}, nil
	case FixedStrategy:
		return Fixed{}, nil
	case FibonacciStrategy:
		return Fibonacci{}, nil
	default:
		return nil, fmt.Errorf("unknown backoff strategy: %s", name)
	}
}

// Exponential grows the delay as rand(0,1) * minDelay * factor^attempt,
// capped at maxDelay. The attempt counter starts at 1.
type Exponential struct{}

func (Exponential) Next(opts Options, st State) (time.Duration, State, error) {
	attempt := st.Attempt + 1
	next := State{Attempt: attempt}

	retries := opts.Retries
	if retries == 0 {
		retries = DefaultRetries
	}
	if attempt > retries {
		return 0, next, ErrRetriesExhausted
	}

	minDelay := opts.MinDelay
	if minDelay == 0 {
		minDelay = DefaultMinDelay
	}
	factor := opts.Factor
	if factor == 0 {
		factor = DefaultFactor
	}

	delay := time.Duration(math.Round(rand.Float64() * float64(minDelay) * math.Pow(factor, float64(attempt))))
	return capDelay(delay, opts.MaxDelay), next, nil
}

// Fixed always waits the configured timeout (minDelay when unset).
type Fixed struct{}

func (Fixed) Next(opts Options, st State) (time.Duration, State, error) {
	delay := opts.Timeout
	if delay == 0 {
		delay = opts.MinDelay
	}
	if delay == 0 {
		delay = DefaultMinDelay
	}
	return capDelay(delay, opts.MaxDelay), State{Attempt: st.Attempt + 1}, nil
}

// Fibonacci waits fib(attempt) seconds: 1s, 1s, 2s, 3s, 5s, ... capped at
// maxDelay.
type Fibonacci struct{}

func (Fibonacci) Next(opts Options, st State) (time.Duration, State, error) {
	attempt := st.Attempt + 1
	next := State{Attempt: attempt}

	retries := opts.Retries
	if retries == 0 {
		retries = DefaultRetries
	}
	if attempt > retries {
		return 0, next, ErrRetriesExhausted
	}

	prev, cur := 0, 1
	for i := 1; i < attempt; i++ {
		prev, cur = cur, prev+cur
	}
	return capDelay(time.Duration(cur)*time.Second, opts.MaxDelay), next, nil
}

func capDelay(delay, maxDelay time.Duration) time.Duration {
	if maxDelay > 0 && delay > maxDelay {
		return maxDelay
	}
	return delay
}

// Schedule computes the next delay and runs fn on a timer after it elapses,
// handing fn the threaded state. Exhaustion is reported synchronously and
// nothing is scheduled.
func Schedule(s Strategy, opts Options, st State, fn func(State)) (*time.Timer, State, error) {
	delay, next, err := s.Next(opts, st)
	if err != nil {
		return nil, next, err
	}
	timer := time.AfterFunc(delay, func() {
		fn(next)
	})
	return timer, next, nil
}
