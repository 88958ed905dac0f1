package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/parloapp/lingogen/internal/config"
	"github.com/parloapp/lingogen/internal/engine"
	"github.com/parloapp/lingogen/internal/ollama"
	"github.com/parloapp/lingogen/internal/openrouter"
	"github.com/parloapp/lingogen/internal/proto"
)

// server is the HTTP surface the app talks to. Handlers stay thin: decode,
// call the engine or a provider, encode.
type server struct {
	log    *slog.Logger
	store  *config.Store
	engine *engine.Engine
	remote *openrouter.Client
	local  *ollama.Client
	ledger *ledger
}

func (s *server) router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Post("/generate", s.handleGenerate)
		r.Get("/config", s.handleConfigGet)
		r.Put("/config", s.handleConfigPut)
		r.Get("/models/local", s.handleModelsLocal)
		r.Get("/models/remote", s.handleModelsRemote)
		r.Get("/quota", s.handleQuota)
		r.Get("/usage", s.handleUsage)
		r.Get("/cache/stats", s.handleCacheStats)
	})
	return r
}

func (s *server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		id := uuid.NewString()
		next.ServeHTTP(ww, r)
		s.log.Info("request",
			"id", id,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
		)
	})
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req engine.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, proto.Validationf("invalid request body: %v", err))
		return
	}
	result, err := s.engine.Generate(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": result})
}

func (s *server) handleConfigGet(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.store.Snapshot())
}

func (s *server) handleConfigPut(w http.ResponseWriter, r *http.Request) {
	var u config.Update
	if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
		s.writeError(w, proto.Validationf("invalid request body: %v", err))
		return
	}
	s.store.Apply(u)
	writeJSON(w, http.StatusOK, s.store.Snapshot())
}

func (s *server) handleModelsLocal(w http.ResponseWriter, r *http.Request) {
	models, err := s.local.Models(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": models})
}

func (s *server) handleModelsRemote(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := openrouter.ListFilter{
		StructuredOnly: boolParam(q.Get("structured")),
		FreeOnly:       boolParam(q.Get("free")),
	}
	models, err := s.remote.Models(r.Context(), filter)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": models})
}

func (s *server) handleQuota(w http.ResponseWriter, r *http.Request) {
	quota, err := s.remote.Quota(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": quota})
}

func (s *server) handleUsage(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	records, err := s.ledger.Recent(limit)
	if err != nil {
		s.log.Error("usage query failed", "error", err)
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": records})
}

func (s *server) handleCacheStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"data": s.engine.CacheStats()})
}

// writeError maps the error taxonomy onto HTTP statuses: caller mistakes and
// unusable configuration are 400s, everything that went wrong on or past the
// provider boundary is a 502.
func (s *server) writeError(w http.ResponseWriter, err error) {
	kind := proto.Kind("internal")
	status := http.StatusInternalServerError
	var perr *proto.Error
	if errors.As(err, &perr) {
		kind = perr.Kind
		switch perr.Kind {
		case proto.KindValidation, proto.KindConfig:
			status = http.StatusBadRequest
		case proto.KindUpstream, proto.KindMalformed:
			status = http.StatusBadGateway
		}
	}
	if status == http.StatusInternalServerError {
		s.log.Error("internal error", "error", err)
	}
	writeJSON(w, status, map[string]any{
		"error": map[string]string{
			"kind":   string(kind),
			"detail": err.Error(),
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func boolParam(v string) bool {
	if v == "" {
		return false
	}
	b, err := strconv.ParseBool(v)
	return err == nil && b
}
