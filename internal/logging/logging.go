// Package logging builds the zap logger used across the indexer, keeping
// one consistent set of field names so log lines can be correlated across
// the chain client, decoder and processor.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a production or development zap logger depending on env.
// "production" and "development" mirror zap's own two canonical presets;
// anything else falls back to development (human-readable, for local runs).
func New(env string) (*zap.Logger, error) {
	switch env {
	case "production":
		cfg := zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		return cfg.Build()
	default:
		return zap.NewDevelopment()
	}
}

// Field name conventions used throughout the indexer, decoder and
// processor so that log lines for the same unit of work can be grepped
// together regardless of which package emitted them.
const (
	FieldTxHash        = "tx_hash"
	FieldSafe          = "safe"
	FieldBlockNumber   = "block_number"
	FieldTraceAddress  = "trace_address"
	FieldChainID       = "chain_id"
	FieldStream        = "stream"
	FieldFunctionName  = "function_name"
	FieldSafeTxHash    = "safe_tx_hash"
	FieldEndpoint      = "endpoint"
	FieldAttempt       = "attempt"
)
