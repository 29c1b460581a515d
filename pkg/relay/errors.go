package relay

import (
	"errors"
	"fmt"
)

// ErrNoTemplateRecord is returned when the template app holds no records.
var ErrNoTemplateRecord = errors.New("no template record")

// UpstreamError wraps a failed call to kintone or the SMTP server. The original
// error is kept so callers can still match kintone.APIError or network errors.
type UpstreamError struct {
	Op  string
	Err error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

func upstream(op string, err error) error {
	return &UpstreamError{Op: op, Err: err}
}
