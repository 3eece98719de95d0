package backoff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExponentialBounds(t *testing.T) {
	opts := Options{
		MinDelay: 1000 * time.Millisecond,
		Factor:   2,
		Retries:  100,
	}
	s := Exponential{}

	// first attempt: delay in [0, minDelay*factor^1]
	for range 100 {
		delay, next, err := s.Next(opts, State{})
		require.NoError(t, err)
		assert.Equal(t, 1, next.Attempt)
		assert.GreaterOrEqual(t, delay, time.Duration(0))
		assert.LessOrEqual(t, delay, 2000*time.Millisecond)
	}
}

func TestExponentialRespectsMaxDelay(t *testing.T) {
	opts := Options{
		MinDelay: time.Second,
		MaxDelay: 10 * time.Millisecond,
		Retries:  100,
	}
	s := Exponential{}
	st := State{}
	for range 10 {
		delay, next, err := s.Next(opts, st)
		require.NoError(t, err)
		assert.LessOrEqual(t, delay, 10*time.Millisecond)
		st = next
	}
}

func TestExponentialExhaustion(t *testing.T) {
	opts := Options{Retries: 2}
	s := Exponential{}

	_, st, err := s.Next(opts, State{})
	require.NoError(t, err)
	_, st, err = s.Next(opts, st)
	require.NoError(t, err)

	_, st, err = s.Next(opts, st)
	require.ErrorIs(t, err, ErrRetriesExhausted)
	assert.Equal(t, 3, st.Attempt)
}

func TestFixed(t *testing.T) {
	t.Run("uses_timeout", func(t *testing.T) {
		delay, _, err := Fixed{}.Next(Options{Timeout: 250 * time.Millisecond}, State{})
		require.NoError(t, err)
		assert.Equal(t, 250*time.Millisecond, delay)
	})

	t.Run("falls_back_to_min_delay", func(t *testing.T) {
		delay, _, err := Fixed{}.Next(Options{MinDelay: 100 * time.Millisecond}, State{})
		require.NoError(t, err)
		assert.Equal(t, 100*time.Millisecond, delay)
	})

	t.Run("default", func(t *testing.T) {
		delay, _, err := Fixed{}.Next(Options{}, State{})
		require.NoError(t, err)
		assert.Equal(t, DefaultMinDelay, delay)
	})

	t.Run("constant_across_attempts", func(t *testing.T) {
		opts := Options{Timeout: 50 * time.Millisecond}
		st := State{}
		for range 5 {
			delay, next, err := Fixed{}.Next(opts, st)
			require.NoError(t, err)
			assert.Equal(t, 50*time.Millisecond, delay)
			st = next
		}
	})
}

func TestFibonacciSequence(t *testing.T) {
	opts := Options{Retries: 10}
	s := Fibonacci{}
	st := State{}

	want := []time.Duration{
		1 * time.Second, 1 * time.Second, 2 * time.Second,
		3 * time.Second, 5 * time.Second, 8 * time.Second,
	}
	for i, expected := range want {
		delay, next, err := s.Next(opts, st)
		require.NoError(t, err, "attempt %d", i+1)
		assert.Equal(t, expected, delay, "attempt %d", i+1)
		st = next
	}
}

func TestFibonacciCapAndExhaustion(t *testing.T) {
	opts := Options{Retries: 3, MaxDelay: 1500 * time.Millisecond}
	s := Fibonacci{}

	_, st, _ := s.Next(opts, State{})
	_, st, _ = s.Next(opts, st)
	delay, st, err := s.Next(opts, st)
	require.NoError(t, err)
	assert.Equal(t, 1500*time.Millisecond, delay)

	_, _, err = s.Next(opts, st)
	require.ErrorIs(t, err, ErrRetriesExhausted)
}

func TestNewSelectsByName(t *testing.T) {
	for _, tc := range []struct {
		name StrategyName
		want Strategy
	}{
		{ExponentialStrategy, Exponential{}},
		{FixedStrategy, Fixed{}},
		{FibonacciStrategy, Fibonacci{}},
		{"", Exponential{}},
	} {
		s, err := New(tc.name)
		require.NoError(t, err)
		assert.IsType(t, tc.want, s)
	}

	_, err := New("quadratic")
	require.Error(t, err)
}

func TestScheduleRunsCallbackWithNextState(t *testing.T) {
	done := make(chan State, 1)
	timer, next, err := Schedule(Fixed{}, Options{Timeout: time.Millisecond}, State{}, func(st State) {
		done <- st
	})
	require.NoError(t, err)
	require.NotNil(t, timer)
	assert.Equal(t, 1, next.Attempt)

	select {
	case st := <-done:
		assert.Equal(t, 1, st.Attempt)
	case <-time.After(time.Second):
		t.Fatal("scheduled callback never ran")
	}
}

func TestScheduleReportsExhaustion(t *testing.T) {
	timer, _, err := Schedule(Exponential{}, Options{Retries: 1}, State{Attempt: 1}, func(State) {
		t.Fatal("must not schedule on exhaustion")
	})
	require.ErrorIs(t, err, ErrRetriesExhausted)
	assert.Nil(t, timer)
}
