package provider

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors shared across provider implementations.
var (
	// ErrNotFound is returned by ObjectStore implementations for a
	// missing key. Distinct from transient storage failures.
	ErrNotFound = errors.New("object not found")

	ErrRateLimited  = errors.New("provider rate limit exceeded")
	ErrProviderAuth = errors.New("provider authentication failed")
)

// FetchError wraps a metrics-provider failure. Transient errors are
// retried with capped backoff at the orchestrator; permanent errors
// are recorded against the account and skipped.
type FetchError struct {
	Provider   string
	AccountID  string
	StatusCode int
	Message    string
	Transient  bool
	Err        error
}

func (e *FetchError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s fetch for account %s failed (%s, HTTP %d): %s",
			e.Provider, e.AccountID, kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s fetch for account %s failed (%s): %s",
		e.Provider, e.AccountID, kind, e.Message)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// NewFetchError classifies an HTTP status into a transient or
// permanent fetch failure. 429 and 5xx are transient; everything else
// is permanent.
func NewFetchError(providerName, accountID string, statusCode int, message string, err error) *FetchError {
	return &FetchError{
		Provider:   providerName,
		AccountID:  accountID,
		StatusCode: statusCode,
		Message:    message,
		Transient:  statusCode == http.StatusTooManyRequests || (statusCode >= 500 && statusCode < 600),
		Err:        err,
	}
}

// AIError wraps a narrative-generator failure. All variants degrade to
// a report without AI content; none fail the run.
type AIError struct {
	Kind    string // "timeout", "malformed", "unavailable"
	Message string
	Err     error
}

func (e *AIError) Error() string {
	return fmt.Sprintf("ai generation failed (%s): %s", e.Kind, e.Message)
}

func (e *AIError) Unwrap() error {
	return e.Err
}

// StorageError wraps an object-store failure other than not-found.
type StorageError struct {
	Store     string
	Key       string
	Transient bool
	Err       error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s storage error for key %q: %v", e.Store, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// DeliveryError wraps an email send failure for one set of recipients.
type DeliveryError struct {
	Recipients []string
	// RecipientRejected distinguishes a rejected address from a
	// transport failure.
	RecipientRejected bool
	Err               error
}

func (e *DeliveryError) Error() string {
	kind := "transport failure"
	if e.RecipientRejected {
		kind = "recipient rejected"
	}
	return fmt.Sprintf("delivery to %v failed (%s): %v", e.Recipients, kind, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether the error is worth retrying.
func IsTransient(err error) bool {
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Transient
	}
	var se *StorageError
	if errors.As(err, &se) {
		return se.Transient
	}
	return false
}

// IsNotFound reports whether the error is a missing object.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAIError reports whether the error came from the narrative
// generator, with its kind.
func IsAIError(err error) (string, bool) {
	var ae *AIError
	if errors.As(err, &ae) {
		return ae.Kind, true
	}
	return "", false
}
