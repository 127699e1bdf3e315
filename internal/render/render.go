// Package render fills the single email-signature template.
//
// The output is one self-contained HTML document with inline styles only;
// mail clients drop linked stylesheets and most web fonts, so the font is a
// fallback chain ending in a generic sans-serif.
package render

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"net/url"
	"regexp"
	"strings"

	"github.com/JakeFAU/email-signature/internal/signature"
	"github.com/JakeFAU/email-signature/internal/slug"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

// FilenamePrefix starts every persisted document name.
const FilenamePrefix = "signature"

// Banner is a linked brand image.
type Banner struct {
	Href     string
	ImageURL string
	Alt      string
	Width    int
	Height   int
}

// Brand holds the static assets and colours baked into every signature.
type Brand struct {
	Header        *Banner
	Footer        []Banner
	TextColor     string
	LinkColor     string
	FontFamily    string
	ScheduleLabel string
	HeadshotSize  int
	Width         int
}

// DefaultBrand returns the Hedy & Hopp brand.
func DefaultBrand() Brand {
	return Brand{
		Footer: []Banner{
			{
				Href:     "https://hedyandhopp.com/",
				ImageURL: "https://i.imgur.com/iLpJv2j.png",
				Alt:      "Hedy & Hopp",
				Width:    320,
				Height:   82,
			},
			{
				Href:     "https://podcasters.spotify.com/pod/show/wearemarketinghappy",
				ImageURL: "https://i.imgur.com/tpTA5J3.png",
				Alt:      "We Are, Marketing Happy Podcast",
				Width:    120,
				Height:   80,
			},
		},
		TextColor:     "#5c5a5b",
		LinkColor:     "#DB499A",
		FontFamily:    "'Avenir', 'Helvetica Neue', Helvetica, Arial, sans-serif",
		ScheduleLabel: "Schedule Time With Me",
		HeadshotSize:  150,
		Width:         600,
	}
}

var (
	colorPattern = regexp.MustCompile(`^#(?:[0-9a-fA-F]{3}|[0-9a-fA-F]{6})$`)
	fontPattern  = regexp.MustCompile(`^[A-Za-z0-9 ,'-]+$`)
)

type style struct {
	TextColor    template.CSS
	LinkColor    template.CSS
	FontFamily   template.CSS
	HeadshotSize int
	Width        int
}

type view struct {
	Fields      signature.Fields
	HeadshotURL string
	Brand       Brand
	Style       style
}

// Renderer implements signature.Renderer.
type Renderer struct {
	tmpl  *template.Template
	brand Brand
	style style
}

// New parses the embedded template and checks the brand settings.
func New(brand Brand) (*Renderer, error) {
	if !colorPattern.MatchString(brand.TextColor) {
		return nil, fmt.Errorf("invalid text color %q", brand.TextColor)
	}
	if !colorPattern.MatchString(brand.LinkColor) {
		return nil, fmt.Errorf("invalid link color %q", brand.LinkColor)
	}
	if !fontPattern.MatchString(brand.FontFamily) {
		return nil, fmt.Errorf("invalid font family %q", brand.FontFamily)
	}
	if !strings.HasSuffix(strings.TrimSpace(brand.FontFamily), "sans-serif") {
		return nil, fmt.Errorf("font family must end with sans-serif, got %q", brand.FontFamily)
	}
	if brand.HeadshotSize <= 0 || brand.Width <= 0 {
		return nil, fmt.Errorf("headshot size and width must be > 0")
	}
	if brand.ScheduleLabel == "" {
		brand.ScheduleLabel = DefaultBrand().ScheduleLabel
	}
	tmpl, err := template.New("signature.html.tmpl").Option("missingkey=error").ParseFS(templateFS, "templates/signature.html.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse signature template: %w", err)
	}
	return &Renderer{
		tmpl:  tmpl,
		brand: brand,
		style: style{
			// #nosec G203 -- validated against colorPattern/fontPattern above.
			TextColor:    template.CSS(brand.TextColor),
			LinkColor:    template.CSS(brand.LinkColor),
			FontFamily:   template.CSS(brand.FontFamily),
			HeadshotSize: brand.HeadshotSize,
			Width:        brand.Width,
		},
	}, nil
}

// Render fills the template. Missing required fields or a headshot URL that
// is not an absolute http(s) URL are contract violations and return an error
// without producing a document.
func (r *Renderer) Render(fields signature.Fields, headshotURL string) (signature.Document, error) {
	if strings.TrimSpace(fields.DisplayName) == "" || strings.TrimSpace(fields.Email) == "" {
		return signature.Document{}, errors.New("display name and email are required")
	}
	if err := checkHeadshotURL(headshotURL); err != nil {
		return signature.Document{}, err
	}

	var buf bytes.Buffer
	if err := r.tmpl.Execute(&buf, view{
		Fields:      fields,
		HeadshotURL: headshotURL,
		Brand:       r.brand,
		Style:       r.style,
	}); err != nil {
		return signature.Document{}, fmt.Errorf("execute template: %w", err)
	}
	return signature.Document{
		HTML:     buf.String(),
		Filename: Filename(fields.DisplayName),
	}, nil
}

// Filename derives the persisted document name from a display name:
// "signature_" followed by the lower-case, underscore-joined name.
func Filename(displayName string) string {
	name := slug.Make(displayName, "_")
	if name == "" {
		return FilenamePrefix + ".html"
	}
	return FilenamePrefix + "_" + name + ".html"
}

func checkHeadshotURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("parse headshot url: %w", err)
	}
	scheme := strings.ToLower(u.Scheme)
	if (scheme != "http" && scheme != "https") || u.Host == "" {
		return fmt.Errorf("headshot url %q is not a published http(s) url", raw)
	}
	return nil
}
