package signature

import (
	"errors"
	"fmt"
	"net/http"
)

// ImageErrorKind classifies image failures.
type ImageErrorKind string

// Image error kinds.
const (
	ImageMissing         ImageErrorKind = "missing"
	ImageUnsupportedType ImageErrorKind = "unsupported_type"
	ImageTooLarge        ImageErrorKind = "too_large"
	ImageDecodeFailed    ImageErrorKind = "decode_failed"
	ImageEncodeFailed    ImageErrorKind = "encode_failed"
)

// ValidationError reports a bad or missing form field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// ImageError reports an unusable headshot upload.
type ImageError struct {
	Kind ImageErrorKind
	Err  error
}

func (e *ImageError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("image %s", e.Kind)
	}
	return fmt.Sprintf("image %s: %v", e.Kind, e.Err)
}

func (e *ImageError) Unwrap() error {
	return e.Err
}

// PublishError reports a failed headshot upload.
type PublishError struct {
	Key string
	Err error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish %q: %v", e.Key, e.Err)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}

// RenderError reports a template failure. It should not happen when the
// validator and publisher contracts hold.
type RenderError struct {
	Err error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("render signature: %v", e.Err)
}

func (e *RenderError) Unwrap() error {
	return e.Err
}

// NewValidationError builds a ValidationError.
func NewValidationError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// NewImageError builds an ImageError.
func NewImageError(kind ImageErrorKind, err error) error {
	return &ImageError{Kind: kind, Err: err}
}

// StatusCode maps an error from the pipeline to an HTTP status.
func StatusCode(err error) int {
	var (
		vErr *ValidationError
		iErr *ImageError
		pErr *PublishError
	)
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &vErr):
		return http.StatusBadRequest
	case errors.As(err, &iErr):
		if iErr.Kind == ImageTooLarge {
			return http.StatusRequestEntityTooLarge
		}
		return http.StatusBadRequest
	case errors.As(err, &pErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// UserMessage returns a single human-readable message that is safe to show
// to the person who submitted the form.
func UserMessage(err error) string {
	var (
		vErr *ValidationError
		iErr *ImageError
		pErr *PublishError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &vErr):
		return fieldMessage(vErr)
	case errors.As(err, &iErr):
		return imageMessage(iErr.Kind)
	case errors.As(err, &pErr):
		return "We could not store your headshot right now. Please try again in a moment."
	default:
		return "Something went wrong while generating your signature. Please try again."
	}
}

// Outcome labels an error for metrics.
func Outcome(err error) string {
	var (
		vErr *ValidationError
		iErr *ImageError
		pErr *PublishError
		rErr *RenderError
	)
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &vErr):
		return "validation"
	case errors.As(err, &iErr):
		return "image"
	case errors.As(err, &pErr):
		return "publish"
	case errors.As(err, &rErr):
		return "render"
	default:
		return "internal"
	}
}

func fieldMessage(err *ValidationError) string {
	switch err.Field {
	case "phone":
		return "Invalid cell number format. Please enter a 10-digit number."
	case "email":
		if err.Reason == ReasonRequired {
			return "Please enter an email address."
		}
		return "Invalid email format. Please enter a valid email address."
	default:
		return fmt.Sprintf("Please check the %s field: %s.", humanField(err.Field), err.Reason)
	}
}

func humanField(field string) string {
	switch field {
	case "first_name":
		return "first name"
	case "last_name":
		return "last name"
	default:
		return field
	}
}

func imageMessage(kind ImageErrorKind) string {
	switch kind {
	case ImageMissing:
		return "Please choose a headshot image to upload."
	case ImageUnsupportedType:
		return "Unsupported file type. Please upload a PNG, JPG, JPEG, or GIF image."
	case ImageTooLarge:
		return "That image is too large. Please upload a smaller headshot."
	default:
		return "We could not read that image. Please upload a different headshot."
	}
}

// Validation reasons shared by the field validator and the message mapping.
const (
	ReasonRequired      = "is required"
	ReasonPhoneDigits   = "must contain exactly 10 digits"
	ReasonInvalidFormat = "invalid format"
)
