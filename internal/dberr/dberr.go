// Package dberr classifies database errors at the adapter boundary so the
// pipeline can decide between retrying in place, failing a table and aborting
// the run.
package dberr

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
)

// Kind partitions errors by the recovery they admit.
type Kind int

const (
	// KindFatal terminates the current table.
	KindFatal Kind = iota
	// KindConfig aborts the whole run with a diagnostic.
	KindConfig
	// KindTransient is recovered in place with reconnect and retry.
	KindTransient
	// KindSchema is recovered with an idempotent ALTER.
	KindSchema
	// KindData is recovered by coercing or nulling the offending value.
	KindData
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindTransient:
		return "transient"
	case KindSchema:
		return "schema"
	case KindData:
		return "data"
	default:
		return "fatal"
	}
}

// Error wraps an underlying error with its classification and the operation
// that produced it.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with an explicit kind.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Config builds a configuration error for the named option.
func Config(option, reason string) *Error {
	return &Error{Kind: KindConfig, Op: "config", Err: fmt.Errorf("option %s: %s", option, reason)}
}

// transientFragments are the connection-failure signatures observed from both
// drivers at runtime.
var transientFragments = []string{
	"communication link failure",
	"connection reset",
	"connection refused",
	"connection was forcibly closed",
	"broken pipe",
	"unexpected eof",
	"i/o timeout",
	"dial tcp",
	"read: connection",
	"write: connection",
	"bad connection",
	"server has gone away",
	"tcp connection",
}

// IsTransient reports whether err looks like a recoverable connection
// failure.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind == KindTransient
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, frag := range transientFragments {
		if strings.Contains(msg, frag) {
			return true
		}
	}
	return false
}

// KindOf returns the classification of err, defaulting to fatal.
func KindOf(err error) Kind {
	if err == nil {
		return KindFatal
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	if IsTransient(err) {
		return KindTransient
	}
	return KindFatal
}
