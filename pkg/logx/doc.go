// Package logx configures structured logging for lifejourney.
//
// Logger is a small value type on top of zerolog that keeps:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - Runtime reconfiguration through Service.Apply
package logx
