package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kalambet/shopchat/internal/chat"
	"github.com/kalambet/shopchat/internal/session"
)

const (
	maxRequestBodySize = 1 << 20  // 1MB
	maxImageSize       = 10 << 20 // 10MB
)

// Conversation is the orchestrator surface exposed over HTTP and MCP.
type Conversation interface {
	Submit(ctx context.Context, text string) (session.Message, error)
	LookupBarcode(ctx context.Context, code string) (session.Message, error)
	ScanImage(ctx context.Context, filename string, r io.Reader) (session.Message, error)
	Snapshot() session.Snapshot
	SetDraft(text string)
	Reset() error
}

// Deps holds dependencies for the HTTP handler.
type Deps struct {
	Chat    Conversation
	Scope   func() session.Descriptor // optional
	Token   string
	Metrics http.Handler // optional; served unauthenticated at /metrics
}

type messageRequest struct {
	Text string `json:"text"`
}

type barcodeRequest struct {
	Code string `json:"code"`
}

type draftRequest struct {
	Input *string `json:"input"`
}

type sessionResponse struct {
	Scope    *session.Descriptor `json:"scope,omitempty"`
	Snapshot session.Snapshot    `json:"snapshot"`
}

// NewHandler returns the local chat API. Everything except /health and
// /metrics requires the bearer token.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)

	r.Get("/health", handleHealth)
	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics)
	}

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/chat/messages", handleSubmit(deps))
		r.Post("/chat/barcode", handleBarcode(deps))
		r.Post("/chat/images", handleImage(deps))
		r.Get("/chat/session", handleGetSession(deps))
		r.Put("/chat/draft", handleSetDraft(deps))
		r.Delete("/chat/session", handleResetSession(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleSubmit(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req messageRequest
		if !decodeBody(w, r, &req) {
			return
		}
		msg, err := deps.Chat.Submit(r.Context(), req.Text)
		writeMessage(w, msg, err)
	}
}

func handleBarcode(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req barcodeRequest
		if !decodeBody(w, r, &req) {
			return
		}
		msg, err := deps.Chat.LookupBarcode(r.Context(), req.Code)
		writeMessage(w, msg, err)
	}
}

func handleImage(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxImageSize)
		file, header, err := r.FormFile("file")
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "multipart field \"file\" is required: %v", err)
			return
		}
		defer file.Close()

		msg, err := deps.Chat.ScanImage(r.Context(), header.Filename, file)
		writeMessage(w, msg, err)
	}
}

func handleGetSession(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := sessionResponse{Snapshot: deps.Chat.Snapshot()}
		if deps.Scope != nil {
			d := deps.Scope()
			resp.Scope = &d
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func handleSetDraft(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req draftRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Input == nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "input is required")
			return
		}
		deps.Chat.SetDraft(*req.Input)
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleResetSession(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Chat.Reset(); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// writeMessage writes the bot reply. Search failures already arrive as an
// apology message, so err is only ever ErrEmptyInput or ErrBusy.
func writeMessage(w http.ResponseWriter, msg session.Message, err error) {
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

// writeError maps orchestrator errors onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, chat.ErrEmptyInput):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "text must not be empty")
	case errors.Is(err, chat.ErrBusy):
		httpError(w, http.StatusConflict, "conflict_error", "another message is still being answered")
	default:
		slog.Error("unexpected chat error", "error", err)
		httpError(w, http.StatusInternalServerError, "api_error", "internal error")
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"message": fmt.Sprintf(format, args...),
			"type":    errType,
		},
	})
}

// requestID echoes or assigns an X-Request-ID.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r)
	})
}
