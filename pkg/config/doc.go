// Package config loads the relay configuration (SMTP profiles and kintone apps)
// from a YAML or JSON file and exposes it as an immutable Registry.
package config
