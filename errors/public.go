package errors

import (
	"context"
	"errors"
)

// Code is a stable, machine-readable identifier for a public error.
type Code string

const (
	CodeInvalidInputFormat Code = "invalid_input_format"
	CodeUnsupportedFormat  Code = "unsupported_format"
	CodeCorruptImage       Code = "corrupt_image"
	CodeMissingDimensions  Code = "missing_dimensions"
	CodeEncodeFailure      Code = "encode_failure"
	CodeInvalidTarget      Code = "invalid_target"
	CodeEmptyInput         Code = "empty_input"
	CodeBusy               Code = "busy"
	CodeStorage            Code = "storage_unavailable"
	CodeCanceled           Code = "canceled"
	CodeInternal           Code = "internal"
)

// PublicError is the caller-facing form of an error. It never carries
// internal diagnostic detail.
type PublicError struct {
	Code    Code
	Message string
}

func (e *PublicError) Error() string { return e.Message }

var publicMessages = []struct {
	sentinel error
	code     Code
	msg      string
}{
	{ErrInvalidInputFormat, CodeInvalidInputFormat, "Invalid image data format."},
	{ErrUnsupportedFormat, CodeUnsupportedFormat, "Unsupported image format. Please use JPG, PNG, or WebP."},
	{ErrCorruptImage, CodeCorruptImage, "The image could not be read. It may be damaged or truncated."},
	{ErrMissingDimensions, CodeMissingDimensions, "Could not read image dimensions."},
	{ErrEncodeFailure, CodeEncodeFailure, "The image could not be re-encoded with the requested settings."},
	{ErrPaddingOverflow, CodeEncodeFailure, "The image could not be re-encoded with the requested settings."},
	{ErrInvalidTarget, CodeInvalidTarget, "Please enter a valid positive number for target size."},
	{ErrEmptyInput, CodeEmptyInput, "No image data was provided."},
	{ErrWorkerPoolFull, CodeBusy, "Too many images are being processed. Please try again shortly."},
	{ErrStorageUnavailable, CodeStorage, "The resized image could not be saved."},
}

// Public maps err to a user-presentable error. Unclassified errors collapse
// into an opaque internal failure.
func Public(err error) *PublicError {
	if err == nil {
		return nil
	}
	var pub *PublicError
	if errors.As(err, &pub) {
		return pub
	}
	for _, m := range publicMessages {
		if errors.Is(err, m.sentinel) {
			return &PublicError{Code: m.code, Message: m.msg}
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &PublicError{Code: CodeCanceled, Message: "The request was canceled before the image was ready."}
	}
	return &PublicError{Code: CodeInternal, Message: "An unexpected error occurred during resizing."}
}
