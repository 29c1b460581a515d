package config

import "fmt"

// ConfigError reports missing or malformed relay configuration: an unknown SMTP
// profile, an absent app role, an app without credentials.
type ConfigError struct {
	Op  string
	Msg string
	Err error
}

func (e *ConfigError) Error() string {
	s := "config"
	if e.Op != "" {
		s += " " + e.Op
	}
	s += ": " + e.Msg
	if e.Err != nil {
		s = fmt.Sprintf("%s: %v", s, e.Err)
	}
	return s
}

func (e *ConfigError) Unwrap() error { return e.Err }
