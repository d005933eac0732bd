package pipeline

import (
	"context"
	"errors"

	"github.com/FranksOps/rankscout/internal/input"
	"github.com/FranksOps/rankscout/internal/serp"
)

// InputValidationError rejects a run before any upstream call is made.
type InputValidationError struct {
	Reason string
	Err    error
}

func (e *InputValidationError) Error() string {
	if e.Err != nil {
		return "pipeline: invalid input: " + e.Reason + ": " + e.Err.Error()
	}
	return "pipeline: invalid input: " + e.Reason
}

func (e *InputValidationError) Unwrap() error {
	return e.Err
}

// StorageError wraps a failure of the result sink.
type StorageError struct {
	Err error
}

func (e *StorageError) Error() string {
	return "pipeline: save run: " + e.Err.Error()
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// Error kinds recorded on failed runs.
const (
	KindConfiguration   = "configuration"
	KindUpstream        = "upstream"
	KindTransport       = "transport"
	KindInputValidation = "input_validation"
	KindCanceled        = "canceled"
	KindStorage         = "storage"
	KindInternal        = "internal"
)

// ErrorKind classifies err into one of the Kind constants. It returns "" for
// a nil error.
func ErrorKind(err error) string {
	var (
		cfgErr     *serp.ConfigurationError
		upErr      *serp.UpstreamError
		trErr      *serp.TransportError
		inputErr   *InputValidationError
		fileErr    *input.ValidationError
		storageErr *StorageError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &cfgErr):
		return KindConfiguration
	case errors.As(err, &upErr):
		return KindUpstream
	case errors.As(err, &trErr):
		return KindTransport
	case errors.As(err, &inputErr), errors.As(err, &fileErr):
		return KindInputValidation
	case errors.As(err, &storageErr):
		return KindStorage
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	}
	return KindInternal
}
