// Package httpapi exposes the scheduler over HTTP.
//
//	POST /commands        {"command": "place Meeting 9:00"}
//	GET  /slots           full schedule as JSON
//	GET  /slots/{time}    one slot and its tasks
//	GET  /healthz
package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/HendryAvila/kmad/internal/pipeline"
	"github.com/HendryAvila/kmad/internal/schedule"
)

const (
	// maxBody caps request bodies; a command line is short.
	maxBody       = 4 << 10
	shutdownGrace = 5 * time.Second
)

// Scheduler is what the handlers need. *app.App satisfies it.
type Scheduler interface {
	Execute(ctx context.Context, line string) (pipeline.Result, error)
	Snapshot(ctx context.Context) (schedule.Snapshot, error)
}

type commandReq struct {
	Command string `json:"command"`
}

type errorResp struct {
	Error string `json:"error"`
}

type slotResp struct {
	schedule.TimeSlot
	Free  int             `json:"free"`
	Tasks []schedule.Task `json:"tasks"`
}

// NewRouter builds the HTTP handler.
func NewRouter(s Scheduler, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &handler{s: s, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(h.logRequests)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})
	r.Post("/commands", h.postCommand)
	r.Get("/slots", h.getSlots)
	r.Get("/slots/{time}", h.getSlot)
	return r
}

type handler struct {
	s      Scheduler
	logger *slog.Logger
}

func (h *handler) postCommand(w http.ResponseWriter, r *http.Request) {
	var req commandReq
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody)).Decode(&req); err != nil || strings.TrimSpace(req.Command) == "" {
		writeJSON(w, http.StatusBadRequest, errorResp{Error: `invalid body: {"command":"..."}`})
		return
	}

	res, err := h.s.Execute(r.Context(), req.Command)
	if err != nil {
		h.logger.Error("command failed", "command", req.Command, "request_id", middleware.GetReqID(r.Context()), "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}

	status := http.StatusOK
	if !res.OK() {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, res)
}

func (h *handler) getSlots(w http.ResponseWriter, r *http.Request) {
	snap, err := h.s.Snapshot(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, snap.View())
}

func (h *handler) getSlot(w http.ResponseWriter, r *http.Request) {
	t, err := schedule.NormalizeTime(chi.URLParam(r, "time"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}

	snap, err := h.s.Snapshot(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	slot, ok := snap.Slot(t)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResp{Error: "Time slot '" + t + "' does not exist"})
		return
	}
	tasks := snap.TasksIn(t)
	if tasks == nil {
		tasks = []schedule.Task{}
	}
	writeJSON(w, http.StatusOK, slotResp{TimeSlot: slot, Free: slot.Free(), Tasks: tasks})
}

func (h *handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		h.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// Serve listens on addr until ctx is cancelled, then shuts down within
// the grace period.
func Serve(ctx context.Context, addr string, h http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		logger.Info("http listening", "addr", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
