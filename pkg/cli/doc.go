// Package cli implements the relay command line: global flags with environment
// fallbacks, .env loading, and the serve, render, check-config and version
// commands.
package cli
