// File: adapters/json_inspector.go
// Author: momentics <momentics@gmail.com>
//
// Decodes text payloads as JSON for logging. The payload is never altered.

package adapters

import (
	"encoding/json"

	"go.uber.org/zap"

	"github.com/momentics/hioload-broadcast/api"
	"github.com/momentics/hioload-broadcast/control"
)

// JSONInspector returns a handler that logs each message's decoded JSON
// value. A payload that does not parse yields *api.MessageContentError.
func JSONInspector(log *zap.Logger) api.Handler {
	return api.HandlerFunc(func(msg *api.Message) error {
		var v any
		if err := json.Unmarshal(msg.Payload, &v); err != nil {
			return &api.MessageContentError{ConnID: msg.ConnID, Err: err}
		}
		log.Info("message received", zap.String("conn", msg.ConnID), zap.Any("message", v))
		return nil
	})
}

// DefaultChain is the handler the server installs when none is given:
// metrics outermost, then recovery, logging and JSON inspection.
func DefaultChain(log *zap.Logger, m *control.MetricsRegistry) api.Handler {
	return NewMiddlewareHandler(JSONInspector(log)).
		Use(MetricsMiddleware(m)).
		Use(RecoveryMiddleware(log)).
		Use(LoggingMiddleware(log))
}
