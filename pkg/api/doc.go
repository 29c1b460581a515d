// Package api implements the Gin-based HTTP server of the relay: request
// logging, panic recovery, health, version and metrics routes, and the
// registration of the webhook controller.
package api
