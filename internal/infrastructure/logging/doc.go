// Package logging provides structured logging for depot-core.
//
// It wraps log/slog. Every record carries service=depot and the build
// version. JSON output is the default; text is available for local work.
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Never log passwords, password hashes, or tokens. Log user ids and phone
// numbers only where an operator needs them to trace an incident.
package logging
