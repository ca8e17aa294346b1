// Package logx configures morningbot's structured logging.
//
// This repo uses a small wrapper (logx.Logger) on top of zerolog to keep:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - Optional chat sink that forwards warnings to an operator group (min-level + rate limiting)
package logx
