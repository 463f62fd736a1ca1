package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"medley/internal/api"
	"medley/internal/config"
	"medley/internal/feeder"
	"medley/internal/logging"
	"medley/internal/media"
	"medley/internal/player"
)

// nextWaitBudget bounds how long POST /api/next may block for an item. It
// stays under the server write timeout so slow supplies yield 204 instead
// of a severed connection.
const nextWaitBudget = 25 * time.Second

type apiServer struct {
	bind     string
	logger   *slog.Logger
	daemon   *Daemon
	nextWait time.Duration

	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) (*apiServer, error) {
	if cfg == nil || d == nil {
		return nil, nil
	}
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil, nil
	}

	mux := http.NewServeMux()
	srv := &apiServer{
		bind:     bind,
		logger:   logger,
		daemon:   d,
		nextWait: nextWaitBudget,
	}

	mux.HandleFunc("/healthz", srv.handleHealth)
	mux.HandleFunc("/api/status", srv.handleStatus)
	mux.HandleFunc("/api/next", srv.handleNext)
	mux.HandleFunc("/api/roots", srv.handleRoots)
	mux.HandleFunc("/api/history", srv.handleHistory)
	mux.HandleFunc("/api/reset", srv.handleReset)
	mux.HandleFunc("/api/player", srv.handlePlayer)
	mux.HandleFunc("/api/player/", srv.handlePlayerCommand)

	srv.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv, nil
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log().Error("api server error", slog.String("error", err.Error()))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.log().Info("api server listening", slog.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s == nil {
		return
	}
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

func (s *apiServer) addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	status := s.daemon.Status(r.Context())
	payload := api.DaemonStatus{
		Running:           status.Running,
		PID:               status.PID,
		LockFilePath:      status.LockFilePath,
		HistoryDBPath:     status.HistoryDBPath,
		Supply:            api.SupplyStatusFrom(status.Supply),
		Roots:             rootStatuses(status.Roots),
		Player:            api.PlayerStatusFrom(status.Player),
		NetlinkMonitoring: status.NetlinkMonitoring,
		RootWatcher:       status.RootWatcher,
	}
	if !status.StartedAt.IsZero() {
		payload.StartedAt = status.StartedAt.UTC().Format(time.RFC3339)
	}
	s.writeJSON(w, http.StatusOK, payload)
}

// handleNext withdraws an item and hands its path to the caller. The warmed
// engine is disposed because the caller plays the file out of process.
// Queue depth headers ride on every response, including 204.
func (s *apiServer) handleNext(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var kinds []media.Kind
	if raw := strings.TrimSpace(r.URL.Query().Get("kinds")); raw != "" {
		for _, value := range strings.Split(raw, ",") {
			kind, ok := media.ParseKind(strings.TrimSpace(value))
			if !ok {
				s.writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown media kind %q", value))
				return
			}
			kinds = append(kinds, kind)
		}
	}

	waitCtx, cancel := context.WithTimeout(r.Context(), s.nextWait)
	defer cancel()

	item, err := s.daemon.NextItem(waitCtx, kinds...)
	s.writeQueueHeaders(w)
	switch {
	case err == nil:
	case errors.Is(err, feeder.ErrStopped):
		s.writeError(w, http.StatusServiceUnavailable, "supply stopped")
		return
	case errors.Is(err, context.DeadlineExceeded) && r.Context().Err() == nil:
		w.WriteHeader(http.StatusNoContent)
		return
	default:
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	engineID := string(item.Handle.ID())
	s.daemon.ReleaseItem(item)
	s.writeJSON(w, http.StatusOK, api.NextItem{
		Path:     item.Path,
		Kind:     string(item.Kind),
		Root:     item.Root,
		EngineID: engineID,
	})
}

func (s *apiServer) handleRoots(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.writeJSON(w, http.StatusOK, s.rootsResponse())
	case http.MethodPatch:
		var patch api.RootsPatch
		if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if len(patch.Enable) == 0 && len(patch.Disable) == 0 && len(patch.Add) == 0 {
			s.writeError(w, http.StatusBadRequest, "no root changes requested")
			return
		}
		if err := s.daemon.ApplyRootChanges(patch.Enable, patch.Disable, patch.Add); err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.writeJSON(w, http.StatusOK, s.rootsResponse())
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *apiServer) rootsResponse() api.RootsResponse {
	return api.RootsResponse{Roots: rootStatuses(s.daemon.RootHealth())}
}

func rootStatuses(healths []RootHealth) []api.RootStatus {
	out := make([]api.RootStatus, 0, len(healths))
	for _, health := range healths {
		out = append(out, api.RootStatus{
			Path:       health.Path,
			Enabled:    health.Enabled,
			Available:  health.Available,
			FreeBytes:  health.FreeBytes,
			TotalBytes: health.TotalBytes,
		})
	}
	return out
}

func (s *apiServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	plays, err := s.daemon.History(r.Context(), limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, api.HistoryResponse{Plays: api.PlaysFrom(plays)})
}

func (s *apiServer) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.daemon.ResetSupply()
	s.writeJSON(w, http.StatusOK, api.CommandResponse{Status: "reset"})
}

func (s *apiServer) handlePlayer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.writeJSON(w, http.StatusOK, api.PlayerStatusFrom(s.daemon.PlayerStatus()))
}

func (s *apiServer) handlePlayerCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	command := strings.TrimPrefix(r.URL.Path, "/api/player/")
	switch command {
	case "pause":
		s.finishPlayerCommand(w, "paused", s.daemon.PausePlayer(r.Context()))
	case "resume":
		s.finishPlayerCommand(w, "playing", s.daemon.ResumePlayer(r.Context()))
	case "skip":
		s.finishPlayerCommand(w, "skipped", s.daemon.SkipPlayer(r.Context()))
	case "next":
		started, err := s.daemon.AdvancePlayer(r.Context())
		status := "skipped"
		if started {
			status = "started"
		}
		s.finishPlayerCommand(w, status, err)
	case "speed":
		var req api.SpeedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if strings.TrimSpace(req.Speed) == "" {
			s.writeError(w, http.StatusBadRequest, "speed is required")
			return
		}
		speed, err := s.daemon.SetPlayerSpeed(r.Context(), req.Speed)
		if err != nil {
			s.writePlayerError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, api.CommandResponse{Status: "ok", Speed: speed.String()})
	default:
		s.writeError(w, http.StatusNotFound, "unknown player command")
	}
}

func (s *apiServer) finishPlayerCommand(w http.ResponseWriter, status string, err error) {
	if err != nil {
		s.writePlayerError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.CommandResponse{Status: status})
}

func (s *apiServer) writePlayerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, player.ErrNotPlaying):
		s.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, media.ErrUnknownSpeed):
		s.writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *apiServer) writeQueueHeaders(w http.ResponseWriter) {
	status := s.daemon.SupplyStatus()
	header := w.Header()
	header.Set(api.HeaderQueueCount, strconv.Itoa(status.ReadyCount))
	header.Set(api.HeaderQueueSize, strconv.Itoa(status.ReadyCapacity))
	header.Set(api.HeaderQueueVideoCount, strconv.FormatInt(status.Counters.Video, 10))
	header.Set(api.HeaderQueueImageCount, strconv.FormatInt(status.Counters.Image, 10))
	header.Set(api.HeaderQueueAudioCount, strconv.FormatInt(status.Counters.Audio, 10))
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log().Error("failed to encode response", slog.String("error", err.Error()))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, api.ErrorResponse{Error: message})
}

func (s *apiServer) log() *slog.Logger {
	if s.logger != nil {
		return s.logger.With(logging.String(logging.FieldComponent, "api-server"))
	}
	return logging.NewNop()
}
