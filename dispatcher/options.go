package dispatcher

import (
	"log/slog"
	"time"

	"github.com/ggoodman/jsonrpc-server-go/internal/metrics"
)

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger used by the dispatcher and its entities.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.log = l }
}

// WithTimeout bounds the lifetime of every entity. Values <= 0 select the
// default of 60 seconds.
func WithTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) { d.timeout = timeout }
}

// WithMaxBodyBytes limits the size of streamed request bodies. Bodies over
// the limit are reported as parse errors.
func WithMaxBodyBytes(n int64) Option {
	return func(d *Dispatcher) { d.maxBodyBytes = n }
}

// WithMetrics records entity outcomes in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}
