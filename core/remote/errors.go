package remote

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"record-sync/core/record"
)

// Code classifies remote failures.
type Code int

const (
	// CodeOther is any failure without a more specific classification.
	CodeOther Code = iota
	// CodeRateLimited means the server asks the client to back off.
	CodeRateLimited
	// CodeServiceUnavailable means the server is temporarily unavailable.
	CodeServiceUnavailable
	// CodeConflict means the submitted change tag no longer matches the server.
	CodeConflict
	// CodeUnknownItem means the record does not exist remotely.
	CodeUnknownItem
	// CodeNotAuthenticated means the account is signed out or its token expired.
	CodeNotAuthenticated
	// CodePermissionFailure means the account may not perform the operation.
	CodePermissionFailure
	// CodePartialFailure means some items of a batch failed. See Error.Items.
	CodePartialFailure
)

var codeNames = map[Code]string{
	CodeOther:              "other",
	CodeRateLimited:        "rate_limited",
	CodeServiceUnavailable: "service_unavailable",
	CodeConflict:           "conflict",
	CodeUnknownItem:        "unknown_item",
	CodeNotAuthenticated:   "not_authenticated",
	CodePermissionFailure:  "permission_failure",
	CodePartialFailure:     "partial_failure",
}

func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("code(%d)", int(c))
}

// ItemError is the failure of one item in a batch.
type ItemError struct {
	ID  record.ID
	Err error
}

// Error is a classified remote failure.
type Error struct {
	// Code classifies the failure.
	Code Code
	// RetryAfter is the delay the server asked for, zero if none.
	RetryAfter time.Duration
	// Items holds per-item failures in batch order for CodePartialFailure.
	Items []ItemError
	// ServerRecord is the current server copy for CodeConflict, when known.
	ServerRecord *record.Record
	// Err is the underlying cause.
	Err error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("remote ")
	b.WriteString(e.Code.String())
	if e.RetryAfter > 0 {
		fmt.Fprintf(&b, " (retry after %s)", e.RetryAfter)
	}
	if len(e.Items) > 0 {
		fmt.Fprintf(&b, ": %d item(s) failed", len(e.Items))
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Item returns the failure recorded for id, or nil.
func (e *Error) Item(id record.ID) error {
	for _, it := range e.Items {
		if it.ID == id {
			return it.Err
		}
	}
	return nil
}

// RateLimited builds a back-off error with the server-specified delay.
func RateLimited(after time.Duration) *Error {
	return &Error{Code: CodeRateLimited, RetryAfter: after}
}

// Conflict builds a version-mismatch error for id.
func Conflict(id record.ID, server *record.Record) *Error {
	return &Error{Code: CodeConflict, ServerRecord: server, Err: fmt.Errorf("record %s changed on server", id)}
}

// UnknownItem builds a missing-record error for id.
func UnknownItem(id record.ID) *Error {
	return &Error{Code: CodeUnknownItem, Err: fmt.Errorf("record %s not found", id)}
}

// NotAuthenticated builds an authentication failure.
func NotAuthenticated(cause error) *Error {
	return &Error{Code: CodeNotAuthenticated, Err: cause}
}

// Partial builds a batch failure from per-item errors.
func Partial(items []ItemError) *Error {
	return &Error{Code: CodePartialFailure, Items: items}
}

// As extracts the *Error in err's chain.
func As(err error) (*Error, bool) {
	var re *Error
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}

// CodeOf returns the classification of err, CodeOther if err is not a remote error.
func CodeOf(err error) Code {
	if re, ok := As(err); ok {
		return re.Code
	}
	return CodeOther
}

// IsCode reports whether err is a remote error with the given code.
func IsCode(err error, code Code) bool {
	re, ok := As(err)
	return ok && re.Code == code
}

// IsAuth reports whether err is an authentication or authorization failure.
func IsAuth(err error) bool {
	c := CodeOf(err)
	return c == CodeNotAuthenticated || c == CodePermissionFailure
}

// Resolve narrows a partial failure to the error of the item of interest,
// falling back to the first item error. Other errors are returned unchanged.
func Resolve(err error, target *record.ID) error {
	re, ok := As(err)
	if !ok || re.Code != CodePartialFailure || len(re.Items) == 0 {
		return err
	}
	if target != nil {
		if itemErr := re.Item(*target); itemErr != nil {
			return itemErr
		}
	}
	return re.Items[0].Err
}

// RetryDelay returns the server-specified delay if err asks for a retry.
func RetryDelay(err error) (time.Duration, bool) {
	re, ok := As(err)
	if !ok || re.RetryAfter <= 0 {
		return 0, false
	}
	switch re.Code {
	case CodeRateLimited, CodeServiceUnavailable:
		return re.RetryAfter, true
	default:
		return 0, false
	}
}
