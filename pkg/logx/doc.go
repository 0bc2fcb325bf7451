// Package logx is the zerolog wrapper every component logs through.
//
// Loggers obtained from a Service follow its Apply calls, so a config reload
// can change level or sinks without rebuilding components. Console output is
// human-oriented; the optional file sink is JSON lines.
package logx
