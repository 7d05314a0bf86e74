package cmd

import (
	"log/slog"
	"testing"

	"github.com/dukex/weave/pkg/persistence/file"
	"github.com/dukex/weave/pkg/persistence/memory"
	"github.com/dukex/weave/pkg/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePersistenceProvider(t *testing.T) {
	tests := []struct {
		url      string
		provider string
		rest     string
	}{
		{url: "memory://", provider: "memory", rest: ""},
		{url: "file:///var/lib/weave", provider: "file", rest: "/var/lib/weave"},
		{url: "./data", provider: "file", rest: "./data"},
		{url: "postgres://u:p@db:5432/weave", provider: "postgres", rest: "u:p@db:5432/weave"},
		{url: "mongodb://db", provider: "file", rest: "db"},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			provider, rest := parsePersistenceProvider(tt.url)
			assert.Equal(t, tt.provider, provider)
			assert.Equal(t, tt.rest, rest)
		})
	}
}

func TestNewPersistence(t *testing.T) {
	p, err := NewPersistence(t.Context(), slog.Default(), "memory://")
	require.NoError(t, err)
	assert.IsType(t, &memory.Persistence{}, p)

	p, err = NewPersistence(t.Context(), slog.Default(), "file://"+t.TempDir())
	require.NoError(t, err)
	assert.IsType(t, &file.Persistence{}, p)

	_, err = NewPersistence(t.Context(), slog.Default(), "file://")
	assert.Error(t, err)
}

func TestNewQueue(t *testing.T) {
	q, err := NewQueue(t.Context(), slog.Default(), "memory://")
	require.NoError(t, err)
	assert.IsType(t, &queue.MemoryQueue{}, q)

	_, err = NewQueue(t.Context(), slog.Default(), "amqp://broker")
	assert.Error(t, err)
}

func TestNewEventBus(t *testing.T) {
	bus, err := NewEventBus("none", slog.Default(), "")
	require.NoError(t, err)
	assert.Nil(t, bus)

	bus, err = NewEventBus("gochannel", slog.Default(), "")
	require.NoError(t, err)
	require.NotNil(t, bus)
	assert.NoError(t, bus.Close())

	_, err = NewEventBus("kafka", slog.Default(), "")
	assert.Error(t, err)

	_, err = NewEventBus("rabbitmq", slog.Default(), "")
	assert.Error(t, err)
}

func TestNewTracer_Disabled(t *testing.T) {
	tracer, shutdown, err := NewTracer(t.Context(), false, "weave")
	require.NoError(t, err)
	assert.NotNil(t, tracer)
	assert.NoError(t, shutdown(t.Context()))
}
