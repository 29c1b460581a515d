// Package system holds process-wide logging helpers: the zap logger factory and
// the request-scoped logger stored in the gin context.
package system
