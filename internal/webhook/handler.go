// Package webhook serves the TradingView webhook endpoint.
//
// Every request walks the same pipeline: secret check, dedup on the raw body,
// parse, format, send. Each terminal state maps to one JSON response and one
// event on the bus; nothing a client sends can crash the process.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"runtime/debug"
	"sync/atomic"
	"time"

	"tvrelay/internal/alert"
	"tvrelay/internal/dedup"
	"tvrelay/internal/eventbus"
	"tvrelay/internal/notifier"
	"tvrelay/internal/secret"
	logx "tvrelay/pkg/logx"

	"github.com/google/uuid"
)

const (
	DefaultMaxBodyBytes int64 = 1 << 20

	headerRequestID = "X-Request-ID"
	maxRequestIDLen = 128
)

// Status values in JSON responses and events.
const (
	StatusSuccess  = "success"
	StatusIgnored  = "ignored"
	StatusError    = "error"
	StatusRejected = "rejected"
)

// Sender is the part of the notifier the handler needs.
type Sender interface {
	Send(ctx context.Context, text string) notifier.Result
}

// Outcome is published on the event bus when a request reaches a terminal state.
type Outcome struct {
	RequestID   string    `json:"request_id"`
	Fingerprint string    `json:"fingerprint,omitempty"`
	Status      string    `json:"status"`
	Text        string    `json:"text,omitempty"`
	Error       string    `json:"error,omitempty"`
	Remote      string    `json:"remote,omitempty"`
	At          time.Time `json:"at"`
}

type Options struct {
	Secret   *secret.Validator
	Dedup    *dedup.Cache
	Notifier Sender
	Bus      eventbus.Bus
	Log      logx.Logger

	MaxBodyBytes int64
	// Now defaults to time.Now.
	Now func() time.Time
}

type Handler struct {
	secret   *secret.Validator
	dedup    *dedup.Cache
	notifier Sender
	bus      eventbus.Bus
	log      logx.Logger
	now      func() time.Time

	maxBody atomic.Int64
	started time.Time
}

func New(opts Options) *Handler {
	if opts.Log.IsZero() {
		opts.Log = logx.Nop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Secret == nil {
		opts.Secret = secret.New("")
	}
	if opts.Dedup == nil {
		opts.Dedup = dedup.New(0, 0)
	}
	h := &Handler{
		secret:   opts.Secret,
		dedup:    opts.Dedup,
		notifier: opts.Notifier,
		bus:      opts.Bus,
		log:      opts.Log.With(logx.String("comp", "webhook")),
		now:      opts.Now,
	}
	h.SetMaxBodyBytes(opts.MaxBodyBytes)
	h.started = h.now()
	return h
}

// SetMaxBodyBytes changes the request body limit. Non-positive means the default.
func (h *Handler) SetMaxBodyBytes(n int64) {
	if n <= 0 {
		n = DefaultMaxBodyBytes
	}
	h.maxBody.Store(n)
}

// Register mounts the webhook, info and health routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /webhook", h.handleWebhook)
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("GET /{$}", h.handleInfo)
}

type response struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

func (h *Handler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	reqID := requestID(r)
	w.Header().Set(headerRequestID, reqID)
	log := h.log.With(logx.String("req_id", reqID), logx.String("remote", r.RemoteAddr))

	out := Outcome{RequestID: reqID, Remote: r.RemoteAddr}
	defer func() {
		if p := recover(); p != nil {
			log.Error("webhook panic", logx.Any("panic", p), logx.String("stack", string(debug.Stack())))
			out.Status = StatusError
			out.Error = fmt.Sprint(p)
			h.publish(eventbus.AlertFailed, out)
			writeJSON(w, http.StatusInternalServerError, response{Status: StatusError, Message: "internal error"})
		}
	}()

	if !h.secret.Validate(r.URL.Query().Get("secret")) {
		log.Warn("invalid webhook secret")
		out.Status = StatusRejected
		h.publish(eventbus.AlertRejected, out)
		writeJSON(w, http.StatusForbidden, response{Status: StatusError, Message: "invalid secret"})
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody.Load()))
	if err != nil {
		out.Status = StatusError
		out.Error = err.Error()
		h.publish(eventbus.AlertFailed, out)

		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			log.Warn("webhook body too large", logx.Int64("limit", tooLarge.Limit))
			writeJSON(w, http.StatusRequestEntityTooLarge, response{Status: StatusError, Message: "request body too large"})
			return
		}
		log.Error("read webhook body failed", logx.Err(err))
		writeJSON(w, http.StatusInternalServerError, response{Status: StatusError, Message: "internal error"})
		return
	}

	fp := dedup.Sum(body)
	out.Fingerprint = fp.String()
	if h.dedup.CheckAndRecord(fp, h.now()) == dedup.Duplicate {
		log.Info("duplicate alert ignored", logx.String("fp", out.Fingerprint[:12]))
		out.Status = StatusIgnored
		h.publish(eventbus.AlertIgnored, out)
		writeJSON(w, http.StatusOK, response{Status: StatusIgnored, Message: "duplicate alert ignored"})
		return
	}

	text := alert.Format(alert.Parse(body))
	out.Text = text

	// A started pipeline runs to completion even if the client goes away.
	res := notifier.Result{Reason: notifier.ErrNotConfigured.Error()}
	if h.notifier != nil {
		res = h.notifier.Send(context.WithoutCancel(r.Context()), text)
	}
	if !res.OK {
		log.Error("alert relay failed", logx.String("reason", res.Reason))
		out.Status = StatusError
		out.Error = res.Reason
		h.publish(eventbus.AlertFailed, out)
		writeJSON(w, http.StatusInternalServerError, response{Status: StatusError, Message: res.Reason})
		return
	}

	log.Info("alert relayed", logx.Int("bytes", len(body)))
	out.Status = StatusSuccess
	h.publish(eventbus.AlertRelayed, out)
	writeJSON(w, http.StatusOK, response{Status: StatusSuccess, Message: "alert forwarded"})
}

func (h *Handler) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, response{Status: "running", Message: "TradingView to Telegram relay is running"})
}

type health struct {
	Status       string    `json:"status"`
	Started      time.Time `json:"started"`
	DedupEntries int       `json:"dedup_entries"`
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, health{Status: "healthy", Started: h.started, DedupEntries: h.dedup.Len()})
}

func (h *Handler) publish(typ string, out Outcome) {
	if h.bus == nil {
		return
	}
	out.At = h.now()
	h.bus.Publish(eventbus.Event{Type: typ, Time: out.At, Data: out})
}

// requestID echoes a sane caller-supplied id or mints a new one.
func requestID(r *http.Request) string {
	if id := r.Header.Get(headerRequestID); id != "" && len(id) <= maxRequestIDLen {
		return id
	}
	return uuid.NewString()
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
