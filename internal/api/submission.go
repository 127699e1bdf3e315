package api

import (
	"errors"
	"mime/multipart"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/email-signature/internal/fields"
	"github.com/JakeFAU/email-signature/internal/logging"
	"github.com/JakeFAU/email-signature/internal/signature"
)

// Form field names. "name" and "phone" are accepted as aliases for clients
// that send a single full name or the shorter phone key.
const (
	formFirstName    = "first_name"
	formLastName     = "last_name"
	formName         = "name"
	formTitle        = "title"
	formCellNumber   = "cell_number"
	formPhone        = "phone"
	formEmail        = "email"
	formCalendarLink = "calendar_link"
	formHeadshot     = "headshot"
	formField        = "form"
)

// formValues are echoed back into the form after a failed submission.
type formValues struct {
	FirstName    string
	LastName     string
	Title        string
	CellNumber   string
	Email        string
	CalendarLink string
}

type submission struct {
	Request signature.Request
	Upload  signature.Upload
	Values  formValues
	// fullName is set when the client sent a single "name" field.
	fullName bool
}

// parseSubmission reads the multipart form. The returned cleanup closes the
// uploaded file and removes any temporary files the multipart reader spilled
// to disk; callers must defer it even when err is non-nil.
func (s *Server) parseSubmission(w http.ResponseWriter, r *http.Request) (submission, func(), error) {
	var file multipart.File
	cleanup := func() {
		if file != nil {
			_ = file.Close()
		}
		if r.MultipartForm != nil {
			if err := r.MultipartForm.RemoveAll(); err != nil {
				logging.FromContext(r.Context(), s.logger).Warn("multipart cleanup failed", zap.Error(err))
			}
		}
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes+formOverheadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			return submission{}, cleanup, signature.NewImageError(signature.ImageTooLarge, err)
		case errors.Is(err, http.ErrNotMultipart):
			if err := r.ParseForm(); err != nil {
				return submission{}, cleanup, signature.NewValidationError(formField, signature.ReasonInvalidFormat)
			}
		default:
			return submission{}, cleanup, signature.NewValidationError(formField, signature.ReasonInvalidFormat)
		}
	}

	sub := readFields(r)
	if r.MultipartForm == nil {
		return sub, cleanup, nil
	}
	f, header, err := r.FormFile(formHeadshot)
	switch {
	case err == nil:
		file = f
		sub.Upload = signature.Upload{Filename: header.Filename, Content: f}
	case errors.Is(err, http.ErrMissingFile):
		// Left empty; the normalizer reports it after field validation.
	default:
		return sub, cleanup, signature.NewValidationError(formHeadshot, signature.ReasonInvalidFormat)
	}
	return sub, cleanup, nil
}

func readFields(r *http.Request) submission {
	values := formValues{
		FirstName:    r.FormValue(formFirstName),
		LastName:     r.FormValue(formLastName),
		Title:        r.FormValue(formTitle),
		CellNumber:   r.FormValue(formCellNumber),
		Email:        r.FormValue(formEmail),
		CalendarLink: r.FormValue(formCalendarLink),
	}
	if values.CellNumber == "" {
		values.CellNumber = r.FormValue(formPhone)
	}

	sub := submission{Values: values}
	first, last := values.FirstName, values.LastName
	if strings.TrimSpace(first) == "" && strings.TrimSpace(last) == "" {
		if name := strings.TrimSpace(r.FormValue(formName)); name != "" {
			first, last = splitName(name)
			sub.Values.FirstName, sub.Values.LastName = first, last
			sub.fullName = true
		}
	}
	sub.Request = signature.Request{
		FirstName:    first,
		LastName:     last,
		Title:        values.Title,
		RawPhone:     values.CellNumber,
		Email:        values.Email,
		CalendarLink: values.CalendarLink,
	}
	return sub
}

// splitName puts the first word in the first name and the rest in the last
// name.
func splitName(name string) (string, string) {
	parts := strings.Fields(name)
	switch len(parts) {
	case 0:
		return "", ""
	case 1:
		return parts[0], ""
	default:
		return parts[0], strings.Join(parts[1:], " ")
	}
}

// reportedField rewrites name-part errors for clients that sent one "name".
func (sub submission) reportedField(err error) error {
	var vErr *signature.ValidationError
	if !sub.fullName || !errors.As(err, &vErr) {
		return err
	}
	if vErr.Field == fields.FieldFirstName || vErr.Field == fields.FieldLastName {
		return signature.NewValidationError(formName, vErr.Reason)
	}
	return err
}

// errorField returns the offending field of a validation error, if any.
func errorField(err error) string {
	var vErr *signature.ValidationError
	if errors.As(err, &vErr) {
		return vErr.Field
	}
	var iErr *signature.ImageError
	if errors.As(err, &iErr) {
		return formHeadshot
	}
	return ""
}
