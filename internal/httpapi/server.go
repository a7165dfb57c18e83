// Package httpapi exposes the agent over HTTP: health and metrics plus a
// small versioned JSON API for mailbox, message, and send operations.
package httpapi

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	imap "github.com/zerolib/go-imap-session"
	"github.com/zerolib/go-imap-session/internal/config"
	"github.com/zerolib/go-imap-session/internal/handler"
	"github.com/zerolib/go-imap-session/internal/outbound"
)

// Server routes API requests to per-account handlers.
type Server struct {
	cfg      *config.Config
	handlers map[string]*handler.Handler
	log      *slog.Logger
}

// NewServer builds the API server over the given account handlers.
func NewServer(cfg *config.Config, handlers map[string]*handler.Handler) *Server {
	return &Server{
		cfg:      cfg,
		handlers: handlers,
		log:      slog.Default().With("component", "httpapi"),
	}
}

// Router assembles the chi router with logging, auth, and all routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		if s.cfg.Server.AuthToken != "" {
			r.Use(s.requireAuth)
		}
		r.Get("/accounts", s.handleAccounts)
		r.Route("/accounts/{account}", func(r chi.Router) {
			r.Get("/mailboxes", s.handleMailboxes)
			r.Get("/stats", s.handleStats)
			r.Get("/messages", s.handleMetadata)
			r.Get("/messages/{uid}", s.handleMessage)
			r.Post("/messages/fetch", s.handleContents)
			r.Post("/messages/delete", s.handleDelete)
			r.Post("/attachments/download", s.handleDownload)
			r.Post("/send", s.handleSend)
		})
	})
	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"remote", r.RemoteAddr)
	})
}

func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.Server.AuthToken)) != 1 {
			respondError(w, http.StatusUnauthorized, "invalid or missing bearer token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

// accountHandler resolves the {account} URL parameter, writing a 404 and
// returning nil when the account is unknown.
func (s *Server) accountHandler(w http.ResponseWriter, r *http.Request) *handler.Handler {
	name := chi.URLParam(r, "account")
	h, ok := s.handlers[name]
	if !ok {
		respondError(w, http.StatusNotFound, "unknown account "+strconv.Quote(name))
		return nil
	}
	return h
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	reports := make(map[string]imap.Report, len(s.handlers))
	healthy := true
	for name, h := range s.handlers {
		report := h.Health(r.Context())
		reports[name] = report
		if !report.Healthy {
			healthy = false
		}
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	respondJSON(w, status, map[string]any{
		"healthy":  healthy,
		"accounts": reports,
	})
}

func (s *Server) handleAccounts(w http.ResponseWriter, r *http.Request) {
	type accountView struct {
		Name         string `json:"name"`
		EmailAddress string `json:"email_address,omitempty"`
		Host         string `json:"host"`
	}
	out := make([]accountView, 0, len(s.cfg.Accounts))
	for _, a := range s.cfg.Accounts {
		out = append(out, accountView{
			Name:         a.Name,
			EmailAddress: a.EmailAddress,
			Host:         a.Incoming.Host,
		})
	}
	respondJSON(w, http.StatusOK, map[string]any{"accounts": out})
}

func (s *Server) handleMailboxes(w http.ResponseWriter, r *http.Request) {
	h := s.accountHandler(w, r)
	if h == nil {
		return
	}
	mailboxes, err := h.Mailboxes(r.Context())
	if err != nil {
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"mailboxes": mailboxes})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	h := s.accountHandler(w, r)
	if h == nil {
		return
	}
	stats, err := h.Stats(r.Context())
	if err != nil {
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"mailboxes": stats})
}

// metadataQuery parses the paging and filter query parameters.
func metadataQuery(r *http.Request) (imap.MetadataQuery, error) {
	q := imap.MetadataQuery{Mailbox: r.URL.Query().Get("mailbox")}
	if q.Mailbox == "" {
		q.Mailbox = "INBOX"
	}

	var err error
	if v := r.URL.Query().Get("page"); v != "" {
		if q.Page, err = strconv.Atoi(v); err != nil {
			return q, err
		}
	}
	if v := r.URL.Query().Get("page_size"); v != "" {
		if q.PageSize, err = strconv.Atoi(v); err != nil {
			return q, err
		}
	}
	q.Ascending = r.URL.Query().Get("order") == "asc"

	if v := r.URL.Query().Get("since"); v != "" {
		if q.Criteria.Since, err = time.Parse("2006-01-02", v); err != nil {
			return q, err
		}
	}
	if v := r.URL.Query().Get("before"); v != "" {
		if q.Criteria.Before, err = time.Parse("2006-01-02", v); err != nil {
			return q, err
		}
	}
	q.Criteria.Subject = r.URL.Query().Get("subject")
	q.Criteria.From = r.URL.Query().Get("from")
	q.Criteria.To = r.URL.Query().Get("to")
	q.Criteria.Text = r.URL.Query().Get("text")
	return q, nil
}

func (s *Server) handleMetadata(w http.ResponseWriter, r *http.Request) {
	h := s.accountHandler(w, r)
	if h == nil {
		return
	}
	q, err := metadataQuery(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	page, err := h.Metadata(r.Context(), q)
	if err != nil {
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, page)
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	h := s.accountHandler(w, r)
	if h == nil {
		return
	}
	uid, err := strconv.Atoi(chi.URLParam(r, "uid"))
	if err != nil || uid < 1 {
		respondError(w, http.StatusBadRequest, "invalid uid")
		return
	}
	mailbox := r.URL.Query().Get("mailbox")
	if mailbox == "" {
		mailbox = "INBOX"
	}
	email, err := h.Message(r.Context(), mailbox, uid)
	if err != nil {
		status := http.StatusBadGateway
		if strings.Contains(err.Error(), "not found") {
			status = http.StatusNotFound
		}
		respondError(w, status, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, email)
}

type uidsRequest struct {
	Mailbox string `json:"mailbox"`
	UIDs    []int  `json:"uids"`
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

func (s *Server) handleContents(w http.ResponseWriter, r *http.Request) {
	h := s.accountHandler(w, r)
	if h == nil {
		return
	}
	var req uidsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Mailbox == "" {
		req.Mailbox = "INBOX"
	}
	if len(req.UIDs) == 0 {
		respondError(w, http.StatusBadRequest, "uids is required")
		return
	}
	batch, err := h.Contents(r.Context(), req.Mailbox, req.UIDs)
	if err != nil {
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, batch)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	h := s.accountHandler(w, r)
	if h == nil {
		return
	}
	var req uidsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Mailbox == "" || len(req.UIDs) == 0 {
		respondError(w, http.StatusBadRequest, "mailbox and uids are required")
		return
	}
	deleted, failed, err := h.Delete(r.Context(), req.Mailbox, req.UIDs)
	if err != nil {
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"deleted":     deleted,
		"failed_uids": failed,
	})
}

type downloadRequest struct {
	Mailbox  string `json:"mailbox"`
	UID      int    `json:"uid"`
	Name     string `json:"name"`
	SavePath string `json:"save_path"`
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.EnableAttachmentDownload {
		respondError(w, http.StatusForbidden, "attachment download is disabled")
		return
	}
	h := s.accountHandler(w, r)
	if h == nil {
		return
	}
	var req downloadRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Mailbox == "" {
		req.Mailbox = "INBOX"
	}
	if req.UID < 1 || req.Name == "" || req.SavePath == "" {
		respondError(w, http.StatusBadRequest, "uid, name, and save_path are required")
		return
	}
	info, err := h.DownloadAttachment(r.Context(), req.Mailbox, req.UID, req.Name, req.SavePath)
	if err != nil {
		status := http.StatusBadGateway
		if strings.Contains(err.Error(), "not found") {
			status = http.StatusNotFound
		}
		respondError(w, status, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, info)
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	h := s.accountHandler(w, r)
	if h == nil {
		return
	}
	var msg outbound.Message
	if !decodeBody(w, r, &msg) {
		return
	}
	result, err := h.Send(r.Context(), msg)
	if err != nil {
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, result)
}
