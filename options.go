package hanoidb

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/stairsdb/hanoidb/compression"
)

// Defaults match spec §6.
const (
	DefaultMinLevel = 10
	DefaultMaxLevel = 25
)

type options struct {
	minLevel    int
	maxLevel    int
	compression compression.Codec
	logger      *zap.Logger
	registerer  prometheus.Registerer
}

// Option configures a DB at Open time.
type Option func(*options)

// WithMinLevel overrides the nursery's flush threshold level (capacity
// 2^minLevel entries).
func WithMinLevel(l int) Option {
	return func(o *options) { o.minLevel = l }
}

// WithMaxLevel overrides the top level merges propagate to before
// stopping.
func WithMaxLevel(l int) Option {
	return func(o *options) { o.maxLevel = l }
}

// WithCompression sets the codec applied to every block a Writer in
// this database produces.
func WithCompression(c compression.Codec) Option {
	return func(o *options) { o.compression = c }
}

// WithLogger supplies a structured logger; the default is zap's no-op
// logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetricsRegisterer registers the database's flush/merge/promote
// counters against reg. Metrics are disabled (nil Registerer) by
// default.
func WithMetricsRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

func defaultOptions() options {
	return options{
		minLevel:    DefaultMinLevel,
		maxLevel:    DefaultMaxLevel,
		compression: compression.None,
		logger:      zap.NewNop(),
	}
}
