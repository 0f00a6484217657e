// Package logx is tvrelay's structured logging: a small value-type Logger on
// top of zerolog plus a Service that owns the outputs.
//
// Outputs are swapped at runtime by Service.Apply:
//   - console (human readable, short caller)
//   - JSON file rotated by lumberjack
//   - Telegram, for records at or above a minimum level, rate limited
package logx
