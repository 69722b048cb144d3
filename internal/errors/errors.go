// Package errors provides custom error types for domain-specific errors.
package errors

import (
	"errors"
	"fmt"
)

// Standard sentinel errors
var (
	ErrNotAuthenticated   = errors.New("not authenticated")
	ErrConnectionFailed   = errors.New("connection failed")
	ErrNotReady           = errors.New("push server not ready")
	ErrReconnectExhausted = errors.New("max reconnection attempts reached")
	ErrNotConnected       = errors.New("not connected")
	ErrTimeout            = errors.New("operation timed out")
	ErrConfigInvalid      = errors.New("invalid configuration")
	ErrDataNotFound       = errors.New("data not found")
	ErrDatabaseError      = errors.New("database error")
	ErrMalformedPayload   = errors.New("malformed payload")
	ErrUnknownEvent       = errors.New("unknown event")
	ErrInputValidation    = errors.New("input validation failed")
	ErrCircuitOpen        = errors.New("circuit breaker is open")
	ErrEngineStopped      = errors.New("engine stopped")
)

// FeedError represents a failure on a push connection.
type FeedError struct {
	Feed string
	Op   string
	Err  error
}

func (e *FeedError) Error() string {
	return fmt.Sprintf("feed error [%s] %s: %v", e.Feed, e.Op, e.Err)
}

func (e *FeedError) Unwrap() error {
	return e.Err
}

// NewFeedError creates a new FeedError.
func NewFeedError(feed, op string, err error) *FeedError {
	return &FeedError{
		Feed: feed,
		Op:   op,
		Err:  err,
	}
}

// APIError represents a non-success response from the backend of record.
type APIError struct {
	Status   int
	Endpoint string
	Message  string
	Err      error
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("api error [%d] %s: %s: %v", e.Status, e.Endpoint, e.Message, e.Err)
	}
	return fmt.Sprintf("api error [%d] %s: %s", e.Status, e.Endpoint, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// NewAPIError creates a new APIError.
func NewAPIError(status int, endpoint, message string, err error) *APIError {
	return &APIError{
		Status:   status,
		Endpoint: endpoint,
		Message:  message,
		Err:      err,
	}
}

// CommitError represents a failed write of a dragged price level.
type CommitError struct {
	TradeID    string
	PositionID string
	Level      string
	Price      float64
	Err        error
}

func (e *CommitError) Error() string {
	target := e.TradeID
	if e.PositionID != "" {
		target = e.PositionID
	}
	return fmt.Sprintf("commit error [%s] %s @ %.2f: %v", target, e.Level, e.Price, e.Err)
}

func (e *CommitError) Unwrap() error {
	return e.Err
}

// NewCommitError creates a new CommitError.
func NewCommitError(tradeID, positionID, level string, price float64, err error) *CommitError {
	return &CommitError{
		TradeID:    tradeID,
		PositionID: positionID,
		Level:      level,
		Price:      price,
		Err:        err,
	}
}

// PayloadError represents an inbound message that failed boundary validation.
type PayloadError struct {
	Event  string
	Reason string
	Err    error
}

func (e *PayloadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("payload error [%s]: %s: %v", e.Event, e.Reason, e.Err)
	}
	return fmt.Sprintf("payload error [%s]: %s", e.Event, e.Reason)
}

func (e *PayloadError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrMalformedPayload
}

// NewPayloadError creates a new PayloadError.
func NewPayloadError(event, reason string, err error) *PayloadError {
	return &PayloadError{
		Event:  event,
		Reason: reason,
		Err:    err,
	}
}

// ValidationError represents a validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s (%v): %s", e.Field, e.Value, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrInputValidation
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// DataError represents missing or stale reference data.
type DataError struct {
	DataType string
	Key      string
	Message  string
	Err      error
}

func (e *DataError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("data error [%s] %s: %s: %v", e.DataType, e.Key, e.Message, e.Err)
	}
	return fmt.Sprintf("data error [%s] %s: %s", e.DataType, e.Key, e.Message)
}

func (e *DataError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrDataNotFound
}

// NewDataError creates a new DataError.
func NewDataError(dataType, key, message string, err error) *DataError {
	return &DataError{
		DataType: dataType,
		Key:      key,
		Message:  message,
		Err:      err,
	}
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// New returns an error that formats as the given text.
func New(text string) error {
	return errors.New(text)
}
