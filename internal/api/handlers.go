package api

import (
	"bytes"
	"errors"
	"mime"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/email-signature/internal/logging"
	"github.com/JakeFAU/email-signature/internal/metrics"
	"github.com/JakeFAU/email-signature/internal/signature"
	"github.com/JakeFAU/email-signature/internal/storage/documents"
)

type formView struct {
	Values      formValues
	Error       string
	ErrorField  string
	Result      *formResult
	MaxUploadMB int64
}

type formResult struct {
	HTML        string
	Filename    string
	DownloadURL string
	PreviewURL  string
	HeadshotURL string
}

type signatureResponse struct {
	HTML        string `json:"html"`
	Filename    string `json:"filename"`
	DownloadURL string `json:"download_url"`
	HeadshotURL string `json:"headshot_url"`
}

func (s *Server) showForm(w http.ResponseWriter, r *http.Request) {
	s.renderForm(w, r, http.StatusOK, formView{})
}

func (s *Server) submitForm(w http.ResponseWriter, r *http.Request) {
	sub, result, err := s.generate(w, r)
	if err != nil {
		s.renderForm(w, r, signature.StatusCode(err), formView{
			Values:     sub.Values,
			Error:      signature.UserMessage(err),
			ErrorField: errorField(err),
		})
		return
	}
	download := downloadURL(result.Document.Filename)
	s.renderForm(w, r, http.StatusOK, formView{
		Values: sub.Values,
		Result: &formResult{
			HTML:        result.Document.HTML,
			Filename:    result.Document.Filename,
			DownloadURL: download,
			PreviewURL:  download + "?inline=1",
			HeadshotURL: result.Artifact.URL,
		},
	})
}

func (s *Server) createSignature(w http.ResponseWriter, r *http.Request) {
	_, result, err := s.generate(w, r)
	if err != nil {
		writeError(r.Context(), w, signature.StatusCode(err), signature.UserMessage(err), errorField(err))
		return
	}
	writeJSON(r.Context(), w, http.StatusOK, signatureResponse{
		HTML:        result.Document.HTML,
		Filename:    result.Document.Filename,
		DownloadURL: downloadURL(result.Document.Filename),
		HeadshotURL: result.Artifact.URL,
	})
}

// generate parses the submission and runs the pipeline. Temporary upload
// files are gone by the time it returns.
func (s *Server) generate(w http.ResponseWriter, r *http.Request) (submission, signature.Result, error) {
	sub, cleanup, err := s.parseSubmission(w, r)
	defer cleanup()

	var result signature.Result
	if err == nil {
		result, err = s.generator.Generate(r.Context(), sub.Request, sub.Upload)
		err = sub.reportedField(err)
	}
	metrics.ObserveSignature(signature.Outcome(err))
	if err != nil && signature.StatusCode(err) >= http.StatusInternalServerError {
		logging.FromContext(r.Context(), s.logger).Error("signature generation failed", zap.Error(err))
	}
	return sub, result, err
}

func (s *Server) download(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "filename")
	f, err := s.documents.Open(name)
	if err != nil {
		if errors.Is(err, documents.ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		logging.FromContext(r.Context(), s.logger).Error("open document failed", zap.String("filename", name), zap.Error(err))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		logging.FromContext(r.Context(), s.logger).Error("stat document failed", zap.String("filename", name), zap.Error(err))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	disposition := "attachment"
	if r.URL.Query().Get("inline") == "1" {
		disposition = "inline"
	}
	// Non-ASCII names are emitted as an RFC 2231 filename* parameter.
	w.Header().Set("Content-Disposition", mime.FormatMediaType(disposition, map[string]string{"filename": name}))
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Content-Security-Policy", "default-src 'none'; img-src https: http: data:; style-src 'unsafe-inline'")
	http.ServeContent(w, r, name, info.ModTime(), f)
}

func (s *Server) renderForm(w http.ResponseWriter, r *http.Request, status int, view formView) {
	view.MaxUploadMB = s.opts.MaxUploadBytes >> 20
	var buf bytes.Buffer
	if err := s.form.Execute(&buf, view); err != nil {
		logging.FromContext(r.Context(), s.logger).Error("render form failed", zap.Error(err))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if _, err := buf.WriteTo(w); err != nil {
		logging.FromContext(r.Context(), s.logger).Warn("write form failed", zap.Error(err))
	}
}

func downloadURL(filename string) string {
	return "/download/" + url.PathEscape(filename)
}
