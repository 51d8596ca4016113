package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Base error kinds
var (
	ErrConfiguration              = errors.New("configuration error")
	ErrAuthentication             = errors.New("authentication failed")
	ErrNotSubscribed              = errors.New("no active subscription")
	ErrOnTrialWithoutSubscription = errors.New("on trial without subscription")
	ErrProvider                   = errors.New("payment provider error")
	ErrValidation                 = errors.New("invalid input")
	ErrNotFound                   = errors.New("not found")
	ErrVersionConflict            = errors.New("version conflict")
)

// ErrorType represents the category of error
type ErrorType string

const (
	ErrorTypeConfiguration ErrorType = "configuration"
	ErrorTypeAuth          ErrorType = "auth"
	ErrorTypeNotSubscribed ErrorType = "not_subscribed"
	ErrorTypeOnTrial       ErrorType = "on_trial_without_subscription"
	ErrorTypeProvider      ErrorType = "provider"
	ErrorTypeValidation    ErrorType = "validation"
	ErrorTypeNotFound      ErrorType = "not_found"
	ErrorTypeConflict      ErrorType = "conflict"
	ErrorTypeInternal      ErrorType = "internal"
)

var kinds = map[ErrorType]error{
	ErrorTypeConfiguration: ErrConfiguration,
	ErrorTypeAuth:          ErrAuthentication,
	ErrorTypeNotSubscribed: ErrNotSubscribed,
	ErrorTypeOnTrial:       ErrOnTrialWithoutSubscription,
	ErrorTypeProvider:      ErrProvider,
	ErrorTypeValidation:    ErrValidation,
	ErrorTypeNotFound:      ErrNotFound,
	ErrorTypeConflict:      ErrVersionConflict,
}

// BillingError is a structured error for entitlement and billing operations.
type BillingError struct {
	Type    ErrorType
	Op      string // Operation that failed (e.g., "set_extra_user_slots")
	TeamID  string // Team the operation targeted, if any
	Message string // User-facing text; safe to surface verbatim
	Err     error  // Underlying error
}

func (e *BillingError) Error() string {
	msg := e.Message
	if msg == "" {
		if kind, ok := kinds[e.Type]; ok {
			msg = kind.Error()
		} else {
			msg = string(e.Type)
		}
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.TeamID != "" {
		return fmt.Sprintf("%s failed for team %s: %s", e.Op, e.TeamID, msg)
	}
	return fmt.Sprintf("%s failed: %s", e.Op, msg)
}

func (e *BillingError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is interface
func (e *BillingError) Is(target error) bool {
	if target == nil {
		return false
	}
	if kind, ok := kinds[e.Type]; ok && kind == target {
		return true
	}
	return errors.Is(e.Err, target)
}

// New creates a BillingError.
func New(errorType ErrorType, op, teamID, message string, err error) *BillingError {
	return &BillingError{
		Type:    errorType,
		Op:      op,
		TeamID:  teamID,
		Message: message,
		Err:     err,
	}
}

// Helper functions

// Configuration reports a missing or invalid setting.
func Configuration(op, message string) error {
	return New(ErrorTypeConfiguration, op, "", message, nil)
}

// Authentication reports a failed signature or credential check.
func Authentication(op string, err error) error {
	return New(ErrorTypeAuth, op, "", "", err)
}

// NotSubscribed reports an add-on or portal action attempted without a paid subscription.
func NotSubscribed(op, teamID string) error {
	return New(ErrorTypeNotSubscribed, op, teamID,
		"This team has no active subscription. Subscribe to a paid plan before changing add-ons.", nil)
}

// OnTrialWithoutSubscription reports an add-on action attempted during a free trial.
func OnTrialWithoutSubscription(op, teamID string) error {
	return New(ErrorTypeOnTrial, op, teamID,
		"Extra user slots are not available during a free trial. Upgrade to a paid plan to add users.", nil)
}

// Provider wraps a payment provider failure.
func Provider(op, teamID string, err error) error {
	return New(ErrorTypeProvider, op, teamID, "", err)
}

// Validation reports rejected input.
func Validation(op, message string) error {
	return New(ErrorTypeValidation, op, "", message, nil)
}

// NotFound reports a missing team.
func NotFound(op, teamID string) error {
	return New(ErrorTypeNotFound, op, teamID, "team not found", nil)
}

// TypeOf returns the ErrorType of the first BillingError in err's chain,
// falling back to the sentinel kinds.
func TypeOf(err error) ErrorType {
	if err == nil {
		return ""
	}
	var bErr *BillingError
	if errors.As(err, &bErr) {
		return bErr.Type
	}
	for t, kind := range kinds {
		if errors.Is(err, kind) {
			return t
		}
	}
	return ErrorTypeInternal
}

// HTTPStatus maps an error to the status code an API surface should return.
func HTTPStatus(err error) int {
	switch TypeOf(err) {
	case "":
		return http.StatusOK
	case ErrorTypeConfiguration:
		return http.StatusServiceUnavailable
	case ErrorTypeAuth:
		return http.StatusUnauthorized
	case ErrorTypeNotSubscribed, ErrorTypeOnTrial, ErrorTypeConflict:
		return http.StatusConflict
	case ErrorTypeValidation:
		return http.StatusBadRequest
	case ErrorTypeNotFound:
		return http.StatusNotFound
	case ErrorTypeProvider:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// UserMessage returns text that is safe to show to an end user.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var bErr *BillingError
	if errors.As(err, &bErr) {
		switch bErr.Type {
		case ErrorTypeProvider:
			if bErr.Err != nil {
				return "Payment provider error: " + bErr.Err.Error()
			}
			return "Payment provider error"
		case ErrorTypeInternal:
			return "internal error"
		}
		if bErr.Message != "" {
			return bErr.Message
		}
		if kind, ok := kinds[bErr.Type]; ok {
			return kind.Error()
		}
	}
	if t := TypeOf(err); t != ErrorTypeInternal {
		return kinds[t].Error()
	}
	return "internal error"
}
