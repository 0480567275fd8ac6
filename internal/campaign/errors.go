package campaign

import (
	"fmt"
	"strings"
)

// ValidationError reports a missing or invalid field of a dispatch request.
// It is raised before any network call.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

type SizeLimitError struct {
	Filename string
	Size     int64
	Limit    int64
}

func (e *SizeLimitError) Error() string {
	return fmt.Sprintf("file %s is too large (%s); maximum size is %s",
		e.Filename, FormatSize(e.Size), FormatSize(e.Limit))
}

type CountLimitError struct {
	Limit int
}

func (e *CountLimitError) Error() string {
	return fmt.Sprintf("maximum %d files allowed", e.Limit)
}

// AuthenticationError means the bearer credential was missing, expired or
// rejected. It is never a backend business failure.
type AuthenticationError struct {
	Reason string
	Err    error
}

func (e *AuthenticationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("authentication failed: %s: %v", e.Reason, e.Err)
	}
	return "authentication failed: " + e.Reason
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

// TransportError covers network failures and non-success backend replies.
// Message carries the backend's own error text verbatim when there is one.
type TransportError struct {
	Op         string
	StatusCode int
	Message    string
	Err        error
}

func (e *TransportError) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	b.WriteString(" failed")
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	} else if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *TransportError) Unwrap() error { return e.Err }

type FormatError struct {
	Reason string
}

func (e *FormatError) Error() string {
	return "unreadable recipient list: " + e.Reason
}

type EmptyResultError struct{}

func (e *EmptyResultError) Error() string {
	return "no valid recipients found (each row needs a name and an email)"
}

// FormatSize renders a byte count the way the upload view shows it.
func FormatSize(n int64) string {
	const k = 1024
	switch {
	case n < k:
		return fmt.Sprintf("%d Bytes", n)
	case n < k*k:
		return fmt.Sprintf("%.2f KB", float64(n)/k)
	case n < k*k*k:
		return fmt.Sprintf("%.2f MB", float64(n)/(k*k))
	default:
		return fmt.Sprintf("%.2f GB", float64(n)/(k*k*k))
	}
}
