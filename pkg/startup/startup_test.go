package startup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStartup(maxAttempts int) *Startup {
	s := NewStartup(ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {}), maxAttempts)
	s.unit = time.Millisecond
	return s
}

func recorder(events *[]string, name string, requires ...string) *Func {
	return &Func{
		Name:     name,
		Requires: requires,
		OnStart: func(context.Context) error {
			*events = append(*events, "start:"+name)
			return nil
		},
		OnStop: func(context.Context) error {
			*events = append(*events, "stop:"+name)
			return nil
		},
	}
}

func TestStartOrdersByDependency(t *testing.T) {
	var events []string
	s := newTestStartup(1)
	s.AddDependency(recorder(&events, "http", "postgres", "graph"))
	s.AddDependency(recorder(&events, "graph"))
	s.AddDependency(recorder(&events, "postgres"))

	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, []string{"start:postgres", "start:graph", "start:http"}, events)
	assert.Equal(t, StartupStatusStarted, s.Status("http"))

	events = nil
	require.NoError(t, s.Stop(context.Background()))
	assert.Equal(t, []string{"stop:http", "stop:graph", "stop:postgres"}, events)
	assert.Equal(t, StartupStatusStopped, s.Status("postgres"))
}

func TestAddDependencyReplacesByName(t *testing.T) {
	var events []string
	s := newTestStartup(1)
	s.AddDependency(recorder(&events, "postgres"))
	s.AddDependency(recorder(&events, "postgres"))

	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, []string{"start:postgres"}, events)
}

func TestStartRetriesFailedDependency(t *testing.T) {
	calls := 0
	s := newTestStartup(3)
	s.AddDependency(&Func{
		Name: "graph",
		OnStart: func(context.Context) error {
			calls++
			if calls < 3 {
				return errors.New("connection refused")
			}
			return nil
		},
	})

	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, 3, calls)
}

func TestStartGivesUp(t *testing.T) {
	s := newTestStartup(2)
	s.AddDependency(&Func{
		Name:    "redis",
		OnStart: func(context.Context) error { return errors.New("no route to host") },
	})

	err := s.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 2 attempts")
	assert.Equal(t, StartupStatusFailed, s.Status("redis"))
}

func TestStartRejectsUnknownAndCyclicDependencies(t *testing.T) {
	s := newTestStartup(1)
	s.AddDependency(&Func{Name: "http", Requires: []string{"missing"}})
	assert.ErrorContains(t, s.Start(context.Background()), "unknown startup dependency")

	s = newTestStartup(1)
	s.AddDependency(&Func{Name: "a", Requires: []string{"b"}})
	s.AddDependency(&Func{Name: "b", Requires: []string{"a"}})
	assert.ErrorContains(t, s.Start(context.Background()), "cycle")
}

func TestStopReturnsFirstError(t *testing.T) {
	var events []string
	s := newTestStartup(1)
	s.AddDependency(recorder(&events, "postgres"))
	s.AddDependency(&Func{
		Name:     "producer",
		Requires: []string{"postgres"},
		OnStop:   func(context.Context) error { return errors.New("flush failed") },
	})

	require.NoError(t, s.Start(context.Background()))
	err := s.Stop(context.Background())
	assert.EqualError(t, err, "flush failed")
	assert.Contains(t, events, "stop:postgres", "later dependencies still stop")
}
