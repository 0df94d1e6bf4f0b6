package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"jobwatch/services/ingestion/internal/config"
	"jobwatch/services/ingestion/internal/errors"
	"jobwatch/services/ingestion/internal/ledger"
	"jobwatch/services/ingestion/internal/scheduler"

	"go.uber.org/zap"
)

type Scheduler interface {
	Start(ctx context.Context) error
	Stop() bool
	Running() bool
	Status() scheduler.Status
	TriggerNow(ctx context.Context) error
}

type ConfigStore interface {
	Load() (config.Document, error)
	Save(doc config.Document) (config.Validation, error)
}

type LedgerView interface {
	Entries() []ledger.Entry
	Len() int
}

type LogSource interface {
	Lines(n int) []string
}

type Deps struct {
	Scheduler Scheduler
	Config    ConfigStore
	Ledger    LedgerView
	Logs      LogSource
	// BaseContext outlives requests; loops and cycles started over HTTP
	// run under it.
	BaseContext context.Context
}

type Server struct {
	deps   Deps
	logger *zap.Logger
	mux    *http.ServeMux
}

func NewServer(logger *zap.Logger, deps Deps) *Server {
	if deps.BaseContext == nil {
		deps.BaseContext = context.Background()
	}
	s := &Server{deps: deps, logger: logger, mux: http.NewServeMux()}

	s.mux.HandleFunc("GET /health", s.health)
	s.mux.HandleFunc("GET /config", s.getConfig)
	s.mux.HandleFunc("PUT /config", s.updateConfig)
	s.mux.HandleFunc("POST /config", s.updateConfig)
	s.mux.HandleFunc("POST /scheduler/start", s.startScheduler)
	s.mux.HandleFunc("POST /scheduler/stop", s.stopScheduler)
	s.mux.HandleFunc("GET /scheduler/status", s.schedulerStatus)
	s.mux.HandleFunc("POST /cycles", s.triggerCycle)
	s.mux.HandleFunc("GET /logs", s.logs)
	s.mux.HandleFunc("GET /ledger", s.ledger)
	return s
}

func (s *Server) Handler() http.Handler {
	return s.logRequests(s.mux)
}

type response struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":            "ok",
		"scheduler_running": s.deps.Scheduler.Running(),
		"ledger_entries":    s.deps.Ledger.Len(),
	})
}

func (s *Server) getConfig(w http.ResponseWriter, r *http.Request) {
	doc, err := s.deps.Config.Load()
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, doc)
}

// configPatch holds the fields a client may update. Absent fields keep
// their stored value.
type configPatch struct {
	SearchTerms     *stringList `json:"search_terms"`
	Location        *string     `json:"location"`
	FilterCompanies *stringList `json:"filter_companies"`
	FilterWords     *stringList `json:"filter_words"`
	IntervalRun     *flexInt    `json:"interval_run"`
	Proxies         *stringList `json:"proxies"`
}

func (p configPatch) apply(doc config.Document) config.Document {
	if p.SearchTerms != nil {
		doc.SearchTerms = *p.SearchTerms
	}
	if p.Location != nil {
		doc.Location = *p.Location
	}
	if p.FilterCompanies != nil {
		doc.FilterCompanies = *p.FilterCompanies
	}
	if p.FilterWords != nil {
		doc.FilterWords = *p.FilterWords
	}
	if p.IntervalRun != nil {
		doc.IntervalRun = int(*p.IntervalRun)
	}
	if p.Proxies != nil {
		doc.Proxies = *p.Proxies
	}
	return doc
}

func (s *Server) updateConfig(w http.ResponseWriter, r *http.Request) {
	var patch configPatch
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&patch); err != nil {
		s.writeError(w, errors.InvalidInput("invalid configuration payload", err))
		return
	}

	doc, err := s.deps.Config.Load()
	if err != nil {
		s.writeError(w, err)
		return
	}

	validation, err := s.deps.Config.Save(patch.apply(doc))
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.logger.Info("configuration updated", zap.Strings("warnings", validation.Warnings))
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":   "success",
		"message":  "Configuration updated",
		"warnings": validation.Warnings,
	})
}

func (s *Server) startScheduler(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Scheduler.Start(s.deps.BaseContext); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, response{Status: "success", Message: "Scheduler started"})
}

func (s *Server) stopScheduler(w http.ResponseWriter, r *http.Request) {
	if !s.deps.Scheduler.Stop() {
		s.writeError(w, errors.Conflict("scheduler is not running", nil))
		return
	}
	s.writeJSON(w, http.StatusOK, response{Status: "success", Message: "Scheduler stopped"})
}

func (s *Server) schedulerStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.deps.Scheduler.Status())
}

func (s *Server) triggerCycle(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Scheduler.TriggerNow(s.deps.BaseContext); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, response{Status: "success", Message: "Cycle started"})
}

func (s *Server) logs(w http.ResponseWriter, r *http.Request) {
	n, err := queryInt(r, "lines", 200)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"logs": s.deps.Logs.Lines(n)})
}

func (s *Server) ledger(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 100)
	if err != nil {
		s.writeError(w, err)
		return
	}

	entries := s.deps.Ledger.Entries()
	total := len(entries)
	if limit > 0 && limit < total {
		entries = entries[total-limit:]
	}
	// Newest first.
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"total": total, "entries": entries})
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.InvalidInput(key+" must be a non-negative integer", err)
	}
	return n, nil
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch errors.TypeOf(err) {
	case errors.ErrTypeConflict:
		code = http.StatusConflict
	case errors.ErrTypeConfig, errors.ErrTypeInvalidInput:
		code = http.StatusBadRequest
	}
	if code == http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Error(err))
	}
	s.writeJSON(w, code, response{Status: "error", Message: err.Error()})
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("failed to write response", zap.Error(err))
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("took", time.Since(start)))
	})
}

// stringList accepts either a JSON array or a comma separated string.
type stringList []string

func (l *stringList) UnmarshalJSON(b []byte) error {
	var list []string
	if err := json.Unmarshal(b, &list); err == nil {
		*l = list
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	*l = config.SplitList(s)
	if *l == nil {
		*l = []string{}
	}
	return nil
}

// flexInt accepts a JSON number or a numeric string.
type flexInt int

func (n *flexInt) UnmarshalJSON(b []byte) error {
	var i int
	if err := json.Unmarshal(b, &i); err == nil {
		*n = flexInt(i)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	i, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return errors.InvalidInput("interval_run must be a whole number of minutes", err)
	}
	*n = flexInt(i)
	return nil
}
