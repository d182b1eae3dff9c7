package errors

import (
	"errors"
	"fmt"
)

// Category classifies error types for targeted handling and monitoring.
type Category string

const (
	CategoryDecode    Category = "decode"
	CategoryEncode    Category = "encode"
	CategoryPipeline  Category = "pipeline"
	CategoryStorage   Category = "storage"
	CategoryConfig    Category = "config"
	CategoryTransient Category = "transient"
	CategoryInput     Category = "input"
)

// ProcessingError is the structured error type used throughout the module.
type ProcessingError struct {
	Category  Category
	Op        string // operation name
	Err       error
	Retryable bool
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("[%s] %s: %v", e.Category, e.Op, e.Err)
}

func (e *ProcessingError) Unwrap() error { return e.Err }

// New creates a non-retryable ProcessingError.
func New(category Category, op string, err error) *ProcessingError {
	return &ProcessingError{Category: category, Op: op, Err: err}
}

// Newf attaches a formatted detail to a sentinel while keeping it matchable
// with errors.Is.
func Newf(category Category, op string, sentinel error, format string, args ...any) *ProcessingError {
	return New(category, op, fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...)))
}

// Transient creates a retryable ProcessingError.
func Transient(op string, err error) *ProcessingError {
	return &ProcessingError{Category: CategoryTransient, Op: op, Err: err, Retryable: true}
}

// Wrap wraps an existing error with context.
func Wrap(category Category, op string, err error) error {
	if err == nil {
		return nil
	}
	return New(category, op, err)
}

// WrapAs wraps err under sentinel unless err already carries one of the
// taxonomy sentinels, in which case the original classification wins.
func WrapAs(category Category, op string, sentinel, err error) error {
	if err == nil {
		return nil
	}
	if Classified(err) {
		return err
	}
	return New(category, op, fmt.Errorf("%w: %v", sentinel, err))
}

// IsRetryable reports whether err represents a transient failure.
func IsRetryable(err error) bool {
	var pe *ProcessingError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return false
}

// IsCategory reports whether err belongs to the given category.
func IsCategory(err error, cat Category) bool {
	var pe *ProcessingError
	if errors.As(err, &pe) {
		return pe.Category == cat
	}
	return false
}

// Is and As are re-exported so callers importing this package under its
// default name keep access to the standard helpers.
func Is(err, target error) bool { return errors.Is(err, target) }
func As(err error, target any) bool { return errors.As(err, target) }

// Sentinel errors for common failure modes.
var (
	ErrInvalidInputFormat = errors.New("invalid input format")
	ErrUnsupportedFormat  = errors.New("unsupported image format")
	ErrCorruptImage       = errors.New("corrupt image")
	ErrMissingDimensions  = errors.New("missing image dimensions")
	ErrEncodeFailure      = errors.New("encode failure")
	ErrInvalidTarget      = errors.New("invalid target size")
	ErrPaddingOverflow    = errors.New("padding overflow")
	ErrInvalidDimensions  = errors.New("invalid dimensions")
	ErrEmptyInput         = errors.New("empty input")
	ErrContextCanceled    = errors.New("context canceled")
	ErrWorkerPoolFull     = errors.New("worker pool queue full")
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrInternal           = errors.New("internal error")
)

// taxonomy lists the sentinels that carry a stable public meaning.
var taxonomy = []error{
	ErrInvalidInputFormat,
	ErrUnsupportedFormat,
	ErrCorruptImage,
	ErrMissingDimensions,
	ErrEncodeFailure,
	ErrInvalidTarget,
	ErrPaddingOverflow,
	ErrEmptyInput,
	ErrWorkerPoolFull,
	ErrStorageUnavailable,
}

// Classified reports whether err wraps one of the public taxonomy sentinels.
func Classified(err error) bool {
	for _, s := range taxonomy {
		if errors.Is(err, s) {
			return true
		}
	}
	return false
}

// Join combines errors so that errors.Is matches each of them.
func Join(errs ...error) error { return errors.Join(errs...) }
