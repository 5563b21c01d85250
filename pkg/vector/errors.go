package vector

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrNotFound is returned when a record or collection does not exist.
	ErrNotFound = errors.New("not found")

	// ErrCapacityUnsupported is returned when the account forbids throughput provisioning.
	ErrCapacityUnsupported = errors.New("throughput provisioning not supported")

	// ErrInvalidArgument is returned for malformed caller input.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrInvalidConfig is matched by every *ConfigError.
	ErrInvalidConfig = errors.New("invalid config")

	// ErrQueryPlanRequired is matched when the gateway refuses a cross-partition query
	// (TOP, ORDER BY, RANK) that needs a client-side query plan.
	ErrQueryPlanRequired = errors.New("cross-partition query requires a query plan")
)

// ConfigError reports a missing or invalid setting.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

func (e *ConfigError) Is(target error) bool {
	return target == ErrInvalidConfig
}

// BackendError wraps a failure reported by the database.
//
// A 404 matches ErrNotFound; a rejection of throughput settings by a serverless account
// matches ErrCapacityUnsupported; a 400 for a query the gateway cannot serve matches
// ErrQueryPlanRequired. The original error is available via errors.Unwrap.
type BackendError struct {
	Op         string
	StatusCode int
	Code       string
	Message    string
	Err        error
}

func (e *BackendError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: status %d: %s", e.Op, e.StatusCode, msg)
	}
	return fmt.Sprintf("%s: %s", e.Op, msg)
}

func (e *BackendError) Unwrap() error { return e.Err }

func (e *BackendError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case ErrCapacityUnsupported:
		return isServerlessMessage(e.Message) || (e.Err != nil && isServerlessMessage(e.Err.Error()))
	case ErrQueryPlanRequired:
		return e.StatusCode == http.StatusBadRequest && isQueryPlanMessage(e.Message)
	}
	return false
}

// IsConflict reports whether err is a 409 from the backend.
func IsConflict(err error) bool {
	var be *BackendError
	return errors.As(err, &be) && be.StatusCode == http.StatusConflict
}

// IsPreconditionFailed reports whether err is an etag mismatch.
func IsPreconditionFailed(err error) bool {
	var be *BackendError
	return errors.As(err, &be) && be.StatusCode == http.StatusPreconditionFailed
}

// The account tier is only exposed through the error text, e.g.
// "Shared throughput database creation is not supported for serverless accounts".
func isServerlessMessage(msg string) bool {
	return strings.Contains(strings.ToLower(msg), "serverless")
}

// QueryPlanMessage is the gateway's answer to a cross-partition query it cannot serve.
const QueryPlanMessage = "The provided cross partition query can not be directly served by the gateway. " +
	"This is a first chance (internal) exception that all newer clients will know how to handle gracefully."

func isQueryPlanMessage(msg string) bool {
	msg = strings.ToLower(msg)
	return strings.Contains(msg, "cross partition query") || strings.Contains(msg, "query plan")
}
