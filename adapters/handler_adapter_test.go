package adapters_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/momentics/hioload-broadcast/adapters"
	"github.com/momentics/hioload-broadcast/api"
	"github.com/momentics/hioload-broadcast/control"
)

func TestMiddlewareHandler_Order(t *testing.T) {
	var trace []string
	mark := func(name string) adapters.Middleware {
		return func(next api.Handler) api.Handler {
			return api.HandlerFunc(func(msg *api.Message) error {
				trace = append(trace, name)
				return next.Handle(msg)
			})
		}
	}
	base := api.HandlerFunc(func(*api.Message) error {
		trace = append(trace, "base")
		return nil
	})

	h := adapters.NewMiddlewareHandler(base).Use(mark("outer")).Use(mark("inner"))
	require.NoError(t, h.Handle(&api.Message{ConnID: "c"}))
	assert.Equal(t, []string{"outer", "inner", "base"}, trace)
}

func TestRecoveryMiddleware(t *testing.T) {
	panicky := api.HandlerFunc(func(*api.Message) error { panic("boom") })
	h := adapters.NewMiddlewareHandler(panicky).Use(adapters.RecoveryMiddleware(zap.NewNop()))

	err := h.Handle(&api.Message{ConnID: "c"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestJSONInspector(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	h := adapters.JSONInspector(zap.New(core))

	require.NoError(t, h.Handle(&api.Message{ConnID: "a", Payload: []byte(`{"id":5}`)}))
	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "message received", entry.Message)
	assert.Equal(t, map[string]any{"id": float64(5)}, entry.ContextMap()["message"])

	err := h.Handle(&api.Message{ConnID: "a", Payload: []byte("not json")})
	var ce *api.MessageContentError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "a", ce.ConnID)
}

func TestDefaultChain_CountsContentErrors(t *testing.T) {
	m := control.NewMetricsRegistry()
	h := adapters.DefaultChain(zap.NewNop(), m)

	assert.NoError(t, h.Handle(&api.Message{ConnID: "a", Payload: []byte(`[1,2]`)}))
	assert.Error(t, h.Handle(&api.Message{ConnID: "a", Payload: []byte(`{`)}))

	assert.Equal(t, int64(2), m.Get(adapters.MetricHandled))
	assert.Equal(t, int64(1), m.Get(control.MetricContentErrors))
}
