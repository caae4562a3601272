package server

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/wattflow/wattflow/pkg/log"
	"github.com/wattflow/wattflow/pkg/storage"
	"github.com/wattflow/wattflow/pkg/types"
)

type statesResponse struct {
	types.States
	// Stale is set when the engine has nothing loaded and the last stored
	// snapshot is returned instead.
	Stale bool `json:"stale"`
}

// currentStates returns the engine's snapshot, falling back to the stored
// one. The engine's error is returned if neither is available.
func (s *Server) currentStates(r *http.Request) (statesResponse, error) {
	ctx := r.Context()
	states, err := s.states.States()
	if err == nil {
		return statesResponse{States: states}, nil
	}
	if s.storage == nil {
		return statesResponse{}, err
	}
	stored, serr := s.storage.GetSnapshot(ctx, s.cardID)
	if serr != nil {
		if !errors.Is(serr, storage.ErrSnapshotNotFound) {
			log.Ctx(ctx).WarnContext(ctx, "failed to get stored snapshot", slog.Any("error", serr))
		}
		return statesResponse{}, err
	}
	return statesResponse{States: stored, Stale: true}, nil
}

func (s *Server) handleStates(w http.ResponseWriter, r *http.Request) {
	resp, err := s.currentStates(r)
	if err != nil {
		log.Ctx(r.Context()).WarnContext(r.Context(), "no states available", slog.Any("error", err))
		writeJSONError(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, resp)
}

func (s *Server) handleNodes(w http.ResponseWriter, r *http.Request) {
	resp, err := s.currentStates(r)
	if err != nil {
		log.Ctx(r.Context()).WarnContext(r.Context(), "no states available", slog.Any("error", err))
		writeJSONError(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, struct {
		Nodes []types.NodeState `json:"nodes"`
		Stale bool              `json:"stale"`
	}{
		Nodes: resp.Nodes(s.states.Config()),
		Stale: resp.Stale,
	})
}

func (s *Server) handleModes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.states.Modes())
}

func (s *Server) handleCards(w http.ResponseWriter, r *http.Request) {
	ids := []string{}
	if s.storage != nil {
		var err error
		ids, err = s.storage.ListCards(r.Context())
		if err != nil {
			log.Ctx(r.Context()).ErrorContext(r.Context(), "failed to list cards", slog.Any("error", err))
			writeJSONError(w, "failed to list cards", http.StatusInternalServerError)
			return
		}
		if ids == nil {
			ids = []string{}
		}
	}
	writeJSON(w, ids)
}
