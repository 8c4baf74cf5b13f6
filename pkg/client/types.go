package client

import (
	"fmt"

	"github.com/tsamsiyu/themelio/pkg/labels"
	"github.com/tsamsiyu/themelio/pkg/problem"
)

// Config holds configuration for the client
type Config struct {
	BaseURL string
	Timeout int
	Headers map[string]string
	TLS     TLSConfig
}

// TLSConfig holds TLS configuration
type TLSConfig struct {
	InsecureSkipVerify bool
	CertFile           string
	KeyFile            string
	CAFile             string
}

// ListOptions narrows list and watch requests
type ListOptions struct {
	Namespace     string
	LabelSelector labels.Selectors
	// ResourceVersion is the resume point of a watch
	ResourceVersion string
}

// WriteOptions apply to mutating requests
type WriteOptions struct {
	DryRun bool
	User   string
	Groups []string
}

// Error is a non-2xx answer. Problem is set when the server sent a problem document.
type Error struct {
	StatusCode int
	Problem    *problem.Problem
	Body       string
}

func (e *Error) Error() string {
	if e.Problem != nil {
		return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Problem.Error())
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// Unwrap exposes the problem so problem.From and problem.IsType see through the error
func (e *Error) Unwrap() error {
	if e.Problem == nil {
		return nil
	}
	return e.Problem
}
