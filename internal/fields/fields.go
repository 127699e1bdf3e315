// Package fields validates and normalizes the text fields of a signature
// submission.
package fields

import (
	"fmt"
	"html"
	"regexp"
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/JakeFAU/email-signature/internal/signature"
)

// Field names reported in validation errors.
const (
	FieldFirstName = "first_name"
	FieldLastName  = "last_name"
	FieldTitle     = "title"
	FieldPhone     = "phone"
	FieldEmail     = "email"
)

var (
	emailPattern = regexp.MustCompile(`^[^@]+@[^@]+\.[^@]+$`)
	nonDigits    = regexp.MustCompile(`\D`)

	textPolicyOnce sync.Once
	textPolicy     *bluemonday.Policy
)

// Validator implements signature.FieldValidator.
type Validator struct{}

// New returns a Validator.
func New() *Validator {
	return &Validator{}
}

// Validate checks the request and returns the fields to render. The first
// failing field is reported as a *signature.ValidationError.
func (*Validator) Validate(req signature.Request) (signature.Fields, error) {
	first := plainText(req.FirstName)
	if first == "" {
		return signature.Fields{}, signature.NewValidationError(FieldFirstName, signature.ReasonRequired)
	}
	last := plainText(req.LastName)
	if last == "" {
		return signature.Fields{}, signature.NewValidationError(FieldLastName, signature.ReasonRequired)
	}
	title := plainText(req.Title)
	if title == "" {
		return signature.Fields{}, signature.NewValidationError(FieldTitle, signature.ReasonRequired)
	}
	phone, err := FormatPhone(req.RawPhone)
	if err != nil {
		return signature.Fields{}, err
	}
	email, err := ValidateEmail(req.Email)
	if err != nil {
		return signature.Fields{}, err
	}

	// A cases.Caser carries state, so each call builds its own.
	return signature.Fields{
		DisplayName:  cases.Upper(language.English).String(first + " " + last),
		Title:        cases.Title(language.English).String(title),
		Phone:        phone,
		Email:        email,
		CalendarLink: strings.TrimSpace(req.CalendarLink),
	}, nil
}

// FormatPhone strips every non-digit and formats exactly ten digits as
// "(AAA) EEE-LLLL". Blank input is valid and yields "".
func FormatPhone(raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", nil
	}
	digits := nonDigits.ReplaceAllString(raw, "")
	if len(digits) != 10 {
		return "", signature.NewValidationError(FieldPhone, signature.ReasonPhoneDigits)
	}
	return fmt.Sprintf("(%s) %s-%s", digits[:3], digits[3:6], digits[6:]), nil
}

// ValidateEmail requires a local@domain.tld shape.
func ValidateEmail(raw string) (string, error) {
	email := strings.TrimSpace(raw)
	if email == "" {
		return "", signature.NewValidationError(FieldEmail, signature.ReasonRequired)
	}
	if !emailPattern.MatchString(email) {
		return "", signature.NewValidationError(FieldEmail, signature.ReasonInvalidFormat)
	}
	return email, nil
}

// plainText strips markup, unescapes entities and collapses whitespace. The
// template escapes on output.
func plainText(raw string) string {
	stripped := html.UnescapeString(sanitizer().Sanitize(raw))
	return strings.Join(strings.Fields(stripped), " ")
}

func sanitizer() *bluemonday.Policy {
	textPolicyOnce.Do(func() {
		textPolicy = bluemonday.StrictPolicy()
	})
	return textPolicy
}
