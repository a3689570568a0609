// Package server exposes the derived approval state over HTTP. The UI that
// consumes it is an external collaborator; this surface only serves
// snapshots, accepts entry edits, and publishes operational metrics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"approvalScope/internal/pipeline"
	"approvalScope/internal/view"
)

// SnapshotSource provides pipeline snapshots. *pipeline.Graph satisfies it.
type SnapshotSource interface {
	Snapshot() pipeline.Snapshot
	Subscribe() <-chan pipeline.Snapshot
}

// Server wraps the pipeline with an HTTP API.
type Server struct {
	source  SnapshotSource
	overlay *view.Overlay
	logger  *zap.Logger

	mu      sync.Mutex
	lastGen uint64
}

// NewServer builds a Server with its dependencies.
func NewServer(source SnapshotSource, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		source:  source,
		overlay: view.NewOverlay(),
		logger:  logger,
	}
}

// Router returns the HTTP routes.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.health)
	r.Get("/approvals", s.listApprovals)
	r.Get("/approvals/raw", s.listRawApprovals)
	r.Post("/approvals/calls", s.buildCalls)
	r.Put("/approvals/{id}", s.updateEntry)
	r.Handle("/metrics", promhttp.Handler())

	return r
}

// Run serves the API until the context is canceled.
func (s *Server) Run(ctx context.Context, addr string) error {
	go s.watchGenerations(ctx)

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()

	s.logger.Info("http server listening", zap.String("addr", addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// watchGenerations resets the edit overlay whenever a new pipeline run
// publishes. Selection and in-progress edits deliberately do not survive an
// account or network switch.
func (s *Server) watchGenerations(ctx context.Context) {
	updates := s.source.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-updates:
			s.observeGeneration(snap.Generation)
		}
	}
}

func (s *Server) observeGeneration(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.lastGen {
		s.lastGen = gen
		s.overlay.Reset()
	}
}

type approvalsResponse struct {
	Generation uint64       `json:"generation"`
	Owner      string       `json:"owner"`
	Loading    bool         `json:"loading"`
	Entries    []view.Entry `json:"entries"`
}

func (s *Server) listApprovals(w http.ResponseWriter, r *http.Request) {
	snap := s.source.Snapshot()
	s.observeGeneration(snap.Generation)

	filters := view.Filters{
		HideRevoked:     queryFlag(r, "hide_revoked"),
		HideZeroBalance: queryFlag(r, "hide_zero_balance"),
	}
	entries := view.Derive(snap.Approvals, snap.Tokens, snap.Balances, s.overlay, filters)

	s.writeJSON(w, http.StatusOK, approvalsResponse{
		Generation: snap.Generation,
		Owner:      snap.Owner,
		Loading:    snap.Loading,
		Entries:    entries,
	})
}

func (s *Server) listRawApprovals(w http.ResponseWriter, _ *http.Request) {
	snap := s.source.Snapshot()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"generation": snap.Generation,
		"owner":      snap.Owner,
		"loading":    snap.Loading,
		"approvals":  snap.Approvals,
	})
}

func (s *Server) buildCalls(w http.ResponseWriter, _ *http.Request) {
	snap := s.source.Snapshot()
	s.observeGeneration(snap.Generation)

	entries := view.Derive(snap.Approvals, snap.Tokens, snap.Balances, s.overlay, view.Filters{})
	calls, err := view.BuildApproveCalls(view.Selected(entries))
	if err != nil {
		s.logger.Warn("build approve calls failed", zap.Error(err))
		http.Error(w, "invalid edited amount", http.StatusUnprocessableEntity)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"calls": calls})
}

type updateEntryRequest struct {
	Selected     *bool   `json:"selected,omitempty"`
	EditedAmount *string `json:"edited_amount,omitempty"`
	InputMode    *string `json:"input_mode,omitempty"`
}

func (s *Server) updateEntry(w http.ResponseWriter, r *http.Request) {
	id := strings.ToLower(chi.URLParam(r, "id"))

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "failed to read request", http.StatusBadRequest)
		return
	}
	var req updateEntryRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	snap := s.source.Snapshot()
	s.observeGeneration(snap.Generation)

	entry, ok := findEntry(snap, id)
	if !ok {
		http.Error(w, "unknown approval", http.StatusNotFound)
		return
	}

	if req.Selected != nil {
		s.overlay.SetSelected(id, *req.Selected)
	}
	if req.EditedAmount != nil {
		s.overlay.SetEditedAmount(id, *req.EditedAmount)
	}
	if req.InputMode != nil {
		mode := view.InputMode(*req.InputMode)
		switch mode {
		case view.ModeRevoke, view.ModeUnlimited, view.ModeCustom:
			s.overlay.SetMode(id, mode, entry.Token.Decimals)
		default:
			http.Error(w, "invalid input mode", http.StatusBadRequest)
			return
		}
	}

	entries := view.Derive(snap.Approvals, snap.Tokens, snap.Balances, s.overlay, view.Filters{})
	for _, e := range entries {
		if e.ID() == id {
			s.writeJSON(w, http.StatusOK, e)
			return
		}
	}
	http.Error(w, "unknown approval", http.StatusNotFound)
}

func findEntry(snap pipeline.Snapshot, id string) (view.Entry, bool) {
	entries := view.Derive(snap.Approvals, snap.Tokens, snap.Balances, view.NewOverlay(), view.Filters{})
	for _, entry := range entries {
		if entry.ID() == id {
			return entry, true
		}
	}
	return view.Entry{}, false
}

func queryFlag(r *http.Request, name string) bool {
	value := r.URL.Query().Get(name)
	return value == "1" || strings.EqualFold(value, "true")
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Warn("write response failed", zap.Error(err))
	}
}
