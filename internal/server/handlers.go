package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gomarkdown/markdown"
	mdhtml "github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"

	"github.com/KaramelBytes/csvlens/internal/analysis"
	"github.com/KaramelBytes/csvlens/internal/chart"
	"github.com/KaramelBytes/csvlens/internal/insight"
	"github.com/KaramelBytes/csvlens/internal/session"
)

type ctxKey struct{}

// overview is the session description returned by upload and GET.
type overview struct {
	ID            string              `json:"id"`
	FileName      string              `json:"file_name"`
	Rows          int                 `json:"rows"`
	Columns       []string            `json:"columns"`
	Schema        analysis.Schema     `json:"schema"`
	MetricChoices []string            `json:"metric_choices"`
	LabelChoices  []string            `json:"label_choices"`
	Selection     session.Selection   `json:"selection"`
	Roles         *insight.Resolution `json:"roles,omitempty"`
	HasSummary    bool                `json:"has_summary"`
	Warnings      []string            `json:"warnings"`
}

type unavailable struct {
	Available bool   `json:"available"`
	Reason    string `json:"reason"`
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	data := map[string]any{
		"MaxUploadMB":  s.cfg.MaxUploadBytes >> 20,
		"HasServerKey": strings.TrimSpace(s.cfg.APIKey) != "",
	}
	if err := s.index.Execute(w, data); err != nil {
		log.Printf("[WARN] render index: %v", err)
	}
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusBadRequest, "file too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "no file uploaded")
		return
	}
	defer file.Close()

	name := filepath.Base(header.Filename)
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv", ".tsv", ".xlsx":
	default:
		writeError(w, http.StatusBadRequest, "only .csv, .tsv and .xlsx files are allowed")
		return
	}
	opt := s.cfg.LoadOptions
	if sheet := r.FormValue("sheet"); sheet != "" {
		opt.Sheet = sheet
	}
	t, err := analysis.Load(file, name, opt)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to parse file: "+err.Error())
		return
	}

	sess := session.New(name, t, time.Now())
	if prev := r.FormValue("replace"); prev != "" {
		if old, err := s.store.Lookup(prev); err == nil {
			s.store.Replace(old.ID, sess)
		} else {
			s.store.Put(sess)
		}
	} else {
		s.store.Put(sess)
	}
	writeJSON(w, http.StatusCreated, s.overview(sess))
}

// withSession resolves {id} and stores the session in the request context.
func (s *Server) withSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, err := s.store.Lookup(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, sess)))
	})
}

func sessionFrom(r *http.Request) *session.Session {
	return r.Context().Value(ctxKey{}).(*session.Session)
}

func (s *Server) overview(sess *session.Session) overview {
	ov := overview{
		ID:            sess.ID.String(),
		FileName:      sess.FileName,
		Rows:          sess.Table.Rows(),
		Columns:       sess.Schema.All(),
		Schema:        sess.Schema,
		MetricChoices: sess.Schema.MetricChoices(),
		LabelChoices:  sess.Schema.LabelChoices(),
		Selection:     session.DefaultSelection(sess.Schema, sess.Resolution()),
		HasSummary:    sess.Summary != "",
		Warnings:      append([]string{}, sess.Table.Warnings...),
	}
	if ov.Columns == nil {
		ov.Columns = []string{}
	}
	if sess.Roles != nil {
		res := sess.Resolution()
		ov.Roles = &res
	}
	return ov
}

func (s *Server) handleOverview(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.overview(sessionFrom(r)))
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	s.store.Delete(sessionFrom(r).ID)
	w.WriteHeader(http.StatusNoContent)
}

// credential prefers the request's bearer token over the configured key.
func (s *Server) credential(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if tok, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(tok)
		}
	}
	return s.cfg.APIKey
}

func (s *Server) handleRoles(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	if s.roles == nil {
		writeJSON(w, http.StatusOK, unavailable{Reason: "role mapping is not configured"})
		return
	}
	ra, err := s.roles.Infer(r.Context(), sess.Schema.All(), s.credential(r))
	if err != nil {
		s.featureFailed(w, "roles", sess, err)
		return
	}
	_ = s.store.Update(sess.ID, func(x *session.Session) { x.Roles = ra })
	res := ra.Resolve(sess.Schema.All())
	writeJSON(w, http.StatusOK, map[string]any{
		"available": true,
		"raw":       ra.Raw,
		"roles":     res.Roles,
		"rejected":  res.Rejected,
		"selection": session.DefaultSelection(sess.Schema, res),
	})
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	if s.summarizer == nil {
		writeJSON(w, http.StatusOK, unavailable{Reason: "summary is not configured"})
		return
	}
	text, err := s.summarizer.Summarize(r.Context(), sess.Table, sess.FileName, s.credential(r))
	if err != nil {
		s.featureFailed(w, "summary", sess, err)
		return
	}
	_ = s.store.Update(sess.ID, func(x *session.Session) { x.Summary = text })
	writeJSON(w, http.StatusOK, map[string]any{
		"available": true,
		"text":      text,
		"html":      renderMarkdown(text),
	})
}

// featureFailed answers 200 with the failure kind; LLM feature failures are
// never server errors.
func (s *Server) featureFailed(w http.ResponseWriter, feature string, sess *session.Session, err error) {
	reason := "unavailable"
	if kind, ok := insight.IsFailure(err); ok {
		reason = string(kind)
	}
	if s.cfg.Debug {
		log.Printf("[DEBUG] %s for session %s: %v", feature, sess.ID, err)
	}
	writeJSON(w, http.StatusOK, unavailable{Reason: reason})
}

// selection reads metric/label from the query, falling back to defaults,
// and validates both against the table.
func (s *Server) selection(w http.ResponseWriter, r *http.Request, sess *session.Session) (session.Selection, bool) {
	q := r.URL.Query()
	sel := session.Selection{Metric: q.Get("metric"), Label: q.Get("label")}.
		WithDefaults(session.DefaultSelection(sess.Schema, sess.Resolution()))
	if err := sel.Validate(sess.Schema); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return sel, false
	}
	return sel, true
}

// intParam reads a non-negative integer query parameter. max > 0 rejects
// larger values.
func intParam(r *http.Request, name string, def, max int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errors.New("invalid " + name)
	}
	if max > 0 && n > max {
		return 0, fmt.Errorf("%s must be at most %d", name, max)
	}
	return n, nil
}

func (s *Server) topFactors(w http.ResponseWriter, r *http.Request) (analysis.AggregatedView, bool) {
	sess := sessionFrom(r)
	sel, ok := s.selection(w, r, sess)
	if !ok {
		return analysis.AggregatedView{}, false
	}
	limit, err := intParam(r, "limit", s.cfg.TopN, 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return analysis.AggregatedView{}, false
	}
	return analysis.TopFactors(sess.Table, sel.Metric, sel.Label, limit), true
}

func (s *Server) histogram(w http.ResponseWriter, r *http.Request) (analysis.Histogram, bool) {
	sess := sessionFrom(r)
	column := r.URL.Query().Get("column")
	if column == "" {
		column = r.URL.Query().Get("metric")
	}
	if column == "" {
		column = session.DefaultSelection(sess.Schema, sess.Resolution()).Metric
	}
	if !sess.Schema.Has(column) {
		writeError(w, http.StatusBadRequest, "unknown column "+strconv.Quote(column))
		return analysis.Histogram{}, false
	}
	bins, err := intParam(r, "bins", s.cfg.Bins, analysis.MaxBins)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return analysis.Histogram{}, false
	}
	return analysis.Distribution(sess.Table, column, bins), true
}

func (s *Server) handleTopFactors(w http.ResponseWriter, r *http.Request) {
	if v, ok := s.topFactors(w, r); ok {
		writeJSON(w, http.StatusOK, v)
	}
}

func (s *Server) handleHistogram(w http.ResponseWriter, r *http.Request) {
	if h, ok := s.histogram(w, r); ok {
		writeJSON(w, http.StatusOK, h)
	}
}

func (s *Server) handleTopFactorsChart(w http.ResponseWriter, r *http.Request) {
	f, err := chart.ParseFormat(chi.URLParam(r, "ext"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if v, ok := s.topFactors(w, r); ok {
		writeChart(w, f, func(b *bytes.Buffer) error { return chart.RenderTopFactors(b, v, f) })
	}
}

func (s *Server) handleHistogramChart(w http.ResponseWriter, r *http.Request) {
	f, err := chart.ParseFormat(chi.URLParam(r, "ext"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if h, ok := s.histogram(w, r); ok {
		writeChart(w, f, func(b *bytes.Buffer) error { return chart.RenderHistogram(b, h, f) })
	}
}

func writeChart(w http.ResponseWriter, f chart.Format, draw func(*bytes.Buffer) error) {
	var buf bytes.Buffer
	if err := draw(&buf); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", f.ContentType())
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(buf.Bytes())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[WARN] encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// renderMarkdown converts model output to HTML. Raw HTML in the input is dropped.
func renderMarkdown(text string) string {
	p := parser.NewWithExtensions(parser.CommonExtensions | parser.AutoHeadingIDs)
	r := mdhtml.NewRenderer(mdhtml.RendererOptions{Flags: mdhtml.CommonFlags | mdhtml.SkipHTML})
	return string(markdown.ToHTML([]byte(text), p, r))
}
