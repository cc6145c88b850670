// internal/errors/errors.go
package appErrors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrQueueItemNotFound is returned by stores when an item id is unknown.
var ErrQueueItemNotFound = errors.New("queue item not found")

// ErrJobNotFound means no queue item belongs to the job id.
var ErrJobNotFound = errors.New("job not found")

// ErrJobRunning means another dispatch loop holds the job's lease.
var ErrJobRunning = errors.New("job is already being dispatched")

// ErrLeaseLost means the job's lease expired and was taken over mid-run.
var ErrLeaseLost = errors.New("job lease lost")

// InvalidContentError rejects a job whose content cannot be sent at all.
type InvalidContentError struct {
	Reason string
}

func (e *InvalidContentError) Error() string {
	return "invalid content: " + e.Reason
}

func NewInvalidContent(reason string) error {
	return &InvalidContentError{Reason: reason}
}

// InvalidPhoneError rejects a recipient before any send.
type InvalidPhoneError struct {
	Phone  string
	Reason string
}

func (e *InvalidPhoneError) Error() string {
	return fmt.Sprintf("invalid phone %q: %s", e.Phone, e.Reason)
}

func NewInvalidPhone(phone, reason string) error {
	return &InvalidPhoneError{Phone: phone, Reason: reason}
}

// NoTargetsError means every target source resolved to nothing.
type NoTargetsError struct {
	JobID string
}

func (e *NoTargetsError) Error() string {
	return fmt.Sprintf("job %s resolved to no targets", e.JobID)
}

func NewNoTargets(jobID string) error {
	return &NoTargetsError{JobID: jobID}
}

// ProviderUnavailableError rejects a whole job before any item is created.
type ProviderUnavailableError struct {
	Provider string
	Reason   string
}

func (e *ProviderUnavailableError) Error() string {
	return fmt.Sprintf("provider %s unavailable: %s", e.Provider, e.Reason)
}

func NewProviderUnavailable(provider, reason string) error {
	return &ProviderUnavailableError{Provider: provider, Reason: reason}
}

type InstanceNotConnectedError struct {
	Instance string
	State    string
}

func (e *InstanceNotConnectedError) Error() string {
	return fmt.Sprintf("instance %s not connected (state: %s)", e.Instance, e.State)
}

func NewInstanceNotConnected(instance, state string) error {
	return &InstanceNotConnectedError{Instance: instance, State: state}
}

// TransportError wraps any I/O or API failure of a provider.
type TransportError struct {
	Provider string
	Detail   string
	Err      error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s transport error: %s: %v", e.Provider, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s transport error: %s", e.Provider, e.Detail)
}

func (e *TransportError) Unwrap() error { return e.Err }

func NewTransport(provider, detail string, err error) error {
	return &TransportError{Provider: provider, Detail: detail, Err: err}
}

// RateLimitedError is a Denied decision from the rate governor.
type RateLimitedError struct {
	Provider   string
	RetryAfter string
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limit reached for %s, retry after %s", e.Provider, e.RetryAfter)
}

func NewRateLimited(provider, retryAfter string) error {
	return &RateLimitedError{Provider: provider, RetryAfter: retryAfter}
}

// UnsupportedTargetError is returned when an adapter cannot address a target kind.
type UnsupportedTargetError struct {
	Provider string
	Kind     string
}

func (e *UnsupportedTargetError) Error() string {
	return fmt.Sprintf("provider %s cannot address %s targets", e.Provider, e.Kind)
}

func NewUnsupportedTarget(provider, kind string) error {
	return &UnsupportedTargetError{Provider: provider, Kind: kind}
}

// IsValidation reports caller-input errors that are never retried.
func IsValidation(err error) bool {
	var phone *InvalidPhoneError
	var none *NoTargetsError
	var content *InvalidContentError
	return errors.As(err, &phone) || errors.As(err, &none) || errors.As(err, &content)
}

// IsAvailability reports precondition failures.
func IsAvailability(err error) bool {
	var prov *ProviderUnavailableError
	var inst *InstanceNotConnectedError
	return errors.As(err, &prov) || errors.As(err, &inst)
}

func IsRateLimited(err error) bool {
	var rl *RateLimitedError
	return errors.As(err, &rl)
}

// HTTPStatus maps an error to the status code the HTTP layer answers with.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case IsValidation(err):
		return http.StatusBadRequest
	case IsRateLimited(err):
		return http.StatusTooManyRequests
	case IsAvailability(err):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrJobNotFound), errors.Is(err, ErrQueueItemNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrJobRunning):
		return http.StatusConflict
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
