package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrWaitTimeout is returned when a bounded wait expires before its condition holds.
	ErrWaitTimeout = errors.New("wait timed out")

	// ErrElementMissing is returned when an immediate lookup finds nothing.
	ErrElementMissing = errors.New("element not found")
)

// ValidationError lists every required input that was left empty.
type ValidationError struct {
	Missing []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("missing required inputs: %s", strings.Join(e.Missing, ", "))
}

// LaunchError wraps a failure to start or connect to the browser.
type LaunchError struct {
	Err error
}

func (e *LaunchError) Error() string {
	return fmt.Errorf("launch browser: %w", e.Err).Error()
}

func (e *LaunchError) Unwrap() error {
	return e.Err
}

// AuthError is a failure before the order loop starts. It always aborts the run.
type AuthError struct {
	Step string
	Err  error
}

func (e *AuthError) Error() string {
	return fmt.Errorf("authenticate (%s): %w", e.Step, e.Err).Error()
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// DownloadError indicates the browser never produced a completed file.
type DownloadError struct {
	Dir string
	Err error
}

func (e *DownloadError) Error() string {
	return fmt.Errorf("download into %s: %w", e.Dir, e.Err).Error()
}

func (e *DownloadError) Unwrap() error {
	return e.Err
}

// errorTypeLabel buckets a per-order failure for metrics.
func errorTypeLabel(err error) string {
	if err == nil {
		return "unknown"
	}
	var download *DownloadError
	if errors.As(err, &download) {
		return "download"
	}
	if errors.Is(err, ErrWaitTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	if errors.Is(err, ErrElementMissing) {
		return "not_found"
	}
	return "other"
}
