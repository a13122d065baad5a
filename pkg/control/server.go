// Package control exposes the operator HTTP API: reply overrides, OTP relay,
// next-call language, outbound dialing and graded reports.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/harunnryd/callprobe/pkg/call"
	"github.com/harunnryd/callprobe/pkg/errorsx"
	"github.com/harunnryd/callprobe/pkg/logging"
	"github.com/harunnryd/callprobe/pkg/redact"
	"github.com/harunnryd/callprobe/pkg/reports"
	"github.com/harunnryd/callprobe/pkg/transports"
)

const maxBodyBytes = 1 << 16

var otpPattern = regexp.MustCompile(`^[0-9]{4,10}$`)

type Config struct {
	// Prefix is prepended to every /api route.
	Prefix string
	// Token, when set, must be presented as a bearer token on /api routes.
	Token       string
	DialTimeout time.Duration
}

func (c Config) withDefaults() Config {
	c.Prefix = "/" + strings.Trim(strings.TrimSpace(c.Prefix), "/")
	if c.Prefix == "/" {
		c.Prefix = "/api"
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 15 * time.Second
	}
	return c
}

// ReportReader is the read side of the report store.
type ReportReader interface {
	List(limit int) []reports.CallReport
	Get(id string) (reports.CallReport, bool)
}

type LiveCalls interface {
	Count() int64
}

type Deps struct {
	Coordinator *call.Coordinator
	Reports     ReportReader
	Calls       LiveCalls
	// Dialer is optional; without it POST /calls answers 501.
	Dialer transports.OutboundDialer
	Logger *slog.Logger
}

// Server serves the control routes.
type Server struct {
	cfg    Config
	deps   Deps
	logger *slog.Logger
}

func NewServer(cfg Config, deps Deps) *Server {
	if deps.Coordinator == nil {
		deps.Coordinator = call.NewCoordinator("")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Server{
		cfg:    cfg.withDefaults(),
		deps:   deps,
		logger: logging.NewComponentLogger(deps.Logger, "control"),
	}
}

// Routes maps each pattern to its handler.
func (s *Server) Routes() map[string]http.Handler {
	p := s.cfg.Prefix
	return map[string]http.Handler{
		"/health":       http.HandlerFunc(s.handleHealth),
		p + "/override": s.guard(http.MethodPost, s.handleOverride),
		p + "/otp":      s.guard(http.MethodPost, s.handleOTP),
		p + "/language": s.guard(http.MethodPost, s.handleLanguage),
		p + "/calls":    s.guard(http.MethodPost, s.handleDial),
		p + "/state":    s.guard(http.MethodGet, s.handleState),
		p + "/reports":  s.guard(http.MethodGet, s.handleReports),
		p + "/reports/": s.guard(http.MethodGet, s.handleReport),
	}
}

// Register mounts the routes on a transport's HTTP server.
func (s *Server) Register(r transports.HandlerRegistrar) {
	for pattern, h := range s.Routes() {
		r.Handle(pattern, h)
	}
}

// Handler returns a standalone mux serving the routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	for pattern, h := range s.Routes() {
		mux.Handle(pattern, h)
	}
	return mux
}

func (s *Server) guard(method string, fn http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			w.Header().Set("Allow", method)
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		if s.cfg.Token != "" && r.Header.Get("Authorization") != "Bearer "+s.cfg.Token {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		fn(w, r)
	})
}

type overrideRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleOverride(w http.ResponseWriter, r *http.Request) {
	var req overrideRequest
	if !decode(w, r, &req) {
		return
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}
	s.deps.Coordinator.SetOverride(text)
	s.logger.Info("override_queued", slog.String("text", redact.Text(text)))
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "queued"})
}

type otpRequest struct {
	Code string `json:"code"`
}

func (s *Server) handleOTP(w http.ResponseWriter, r *http.Request) {
	var req otpRequest
	if !decode(w, r, &req) {
		return
	}
	code := strings.ReplaceAll(strings.TrimSpace(req.Code), " ", "")
	if !otpPattern.MatchString(code) {
		writeError(w, http.StatusBadRequest, "code must be 4 to 10 digits")
		return
	}
	s.deps.Coordinator.SetOTP(code)
	s.logger.Info("otp_received", slog.String("otp", redact.Code(code)))
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "stored"})
}

type languageRequest struct {
	Language string `json:"language"`
}

func (s *Server) handleLanguage(w http.ResponseWriter, r *http.Request) {
	var req languageRequest
	if !decode(w, r, &req) {
		return
	}
	s.deps.Coordinator.SetNextLanguage(req.Language)
	state := s.deps.Coordinator.Snapshot()
	s.logger.Info("next_language_set", slog.String("language", state.NextLanguage))
	writeJSON(w, http.StatusOK, state)
}

type dialRequest struct {
	To       string `json:"to"`
	Language string `json:"language"`
}

func (s *Server) handleDial(w http.ResponseWriter, r *http.Request) {
	if s.deps.Dialer == nil {
		writeError(w, http.StatusNotImplemented, "transport cannot dial")
		return
	}
	var req dialRequest
	if !decode(w, r, &req) {
		return
	}
	to := strings.TrimSpace(req.To)
	if to == "" {
		writeError(w, http.StatusBadRequest, "to is required")
		return
	}
	if lang := strings.TrimSpace(req.Language); lang != "" {
		s.deps.Coordinator.SetNextLanguage(lang)
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.DialTimeout)
	defer cancel()
	callSID, err := s.deps.Dialer.Dial(ctx, to, "", "")
	if err != nil {
		err = errorsx.Wrap(err, errorsx.ReasonTransportDial)
		s.logger.Error("dial_failed",
			slog.String("to", redact.Text(to)),
			slog.String("reason_code", string(errorsx.Reason(err))),
			slog.String("error", err.Error()))
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	s.logger.Info("call_dialed", slog.String("call_sid", callSID), slog.String("to", redact.Text(to)))
	writeJSON(w, http.StatusCreated, map[string]any{"call_sid": callSID})
}

type stateResponse struct {
	call.CoordinatorState
	ActiveCalls int64 `json:"active_calls"`
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, stateResponse{
		CoordinatorState: s.deps.Coordinator.Snapshot(),
		ActiveCalls:      s.activeCalls(),
	})
}

func (s *Server) handleReports(w http.ResponseWriter, r *http.Request) {
	if s.deps.Reports == nil {
		writeJSON(w, http.StatusOK, []reports.CallReport{})
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	writeJSON(w, http.StatusOK, s.deps.Reports.List(limit))
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, s.cfg.Prefix+"/reports/"), "/")
	if id == "" {
		s.handleReports(w, r)
		return
	}
	if s.deps.Reports == nil {
		writeError(w, http.StatusNotFound, "report not found")
		return
	}
	rep, ok := s.deps.Reports.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "report not found")
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "active_calls": s.activeCalls()})
}

func (s *Server) activeCalls() int64 {
	if s.deps.Calls == nil {
		return 0
	}
	return s.deps.Calls.Count()
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		msg := "invalid json body"
		if errors.Is(err, io.EOF) {
			msg = "empty body"
		}
		writeError(w, http.StatusBadRequest, msg)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
