package server

import (
	"encoding/json"
	stderrors "errors"
	"io"
	"math"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/zsiec/cadence/internal/control"
	apperrors "github.com/zsiec/cadence/internal/errors"
	"github.com/zsiec/cadence/internal/player"
	"github.com/zsiec/cadence/pkg/version"
)

const (
	maxBodyBytes   = 4 << 10
	maxSeekSeconds = 24 * 60 * 60

	defaultHistoryLimit = 20
	maxHistoryLimit     = 200
)

// SeekRequest moves playback relative to the current position.
type SeekRequest struct {
	OffsetSeconds *float64 `json:"offset_seconds"`
}

// VolumeRequest carries exactly one of Delta or Level.
type VolumeRequest struct {
	Delta *float64 `json:"delta,omitempty"`
	Level *float64 `json:"level,omitempty"`
}

// CommandResponse acknowledges a queued command. Commands run asynchronously
// on the player's control loop.
type CommandResponse struct {
	Accepted string  `json:"accepted"`
	Value    float64 `json:"value,omitempty"`
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "public, max-age=3600")
	s.writeJSON(w, http.StatusOK, version.GetInfo())
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	s.writeJSON(w, http.StatusOK, s.controller.Status())
}

func (s *Server) handlePlayback(w http.ResponseWriter, r *http.Request) {
	var cmd control.Command
	switch mux.Vars(r)["action"] {
	case "pause":
		cmd = control.Pause()
	case "resume":
		cmd = control.Resume()
	case "toggle":
		cmd = control.TogglePause()
	case "restart":
		cmd = control.Restart()
	case "quit":
		cmd = control.Quit()
	default:
		s.writeError(w, r, apperrors.NewNotFoundError("playback action"))
		return
	}
	s.submit(w, r, cmd)
}

func (s *Server) handleSeek(w http.ResponseWriter, r *http.Request) {
	var req SeekRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.OffsetSeconds == nil {
		s.writeError(w, r, apperrors.NewValidationError("offset_seconds is required"))
		return
	}
	offset := *req.OffsetSeconds
	if math.IsNaN(offset) || math.IsInf(offset, 0) || offset == 0 || math.Abs(offset) > maxSeekSeconds {
		s.writeError(w, r, apperrors.NewValidationError("offset_seconds must be a non-zero number of at most one day").
			WithDetails(map[string]interface{}{"offset_seconds": offset}))
		return
	}
	s.submit(w, r, control.Seek(offset))
}

func (s *Server) handleVolume(w http.ResponseWriter, r *http.Request) {
	var req VolumeRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	switch {
	case (req.Delta == nil) == (req.Level == nil):
		s.writeError(w, r, apperrors.NewValidationError("exactly one of delta or level is required"))
	case req.Level != nil:
		if *req.Level < 0 || *req.Level > 1 {
			s.writeError(w, r, apperrors.NewValidationError("level must be within [0, 1]"))
			return
		}
		s.submit(w, r, control.VolumeSet(*req.Level))
	default:
		if *req.Delta < -1 || *req.Delta > 1 || *req.Delta == 0 {
			s.writeError(w, r, apperrors.NewValidationError("delta must be non-zero and within [-1, 1]"))
			return
		}
		s.submit(w, r, control.VolumeStep(*req.Delta))
	}
}

func (s *Server) handleFullscreen(w http.ResponseWriter, r *http.Request) {
	s.submit(w, r, control.ToggleFullscreen())
}

// handleHistory lists saved resume positions, most recent first.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.writeError(w, r, apperrors.NewServiceDownError("history"))
		return
	}

	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxHistoryLimit {
			s.writeError(w, r, apperrors.NewValidationError("limit must be between 1 and 200"))
			return
		}
		limit = n
	}

	entries, err := s.history.Recent(r.Context(), limit)
	if err != nil {
		s.writeError(w, r, apperrors.WrapInternalError(err, "failed to read history"))
		return
	}
	s.writeJSON(w, http.StatusOK, struct {
		Entries interface{} `json:"entries"`
	}{entries})
}

// submit hands cmd to the player. Commands need an open session.
func (s *Server) submit(w http.ResponseWriter, r *http.Request, cmd control.Command) {
	if s.controller.Status().State == player.StateIdle {
		s.writeError(w, r, apperrors.NewConflictError("no media is playing"))
		return
	}
	if err := s.controller.Submit(cmd); err != nil {
		if stderrors.Is(err, player.ErrCommandsFull) {
			s.writeError(w, r, apperrors.NewRateLimitError("player command queue is full"))
			return
		}
		s.writeError(w, r, apperrors.WrapInternalError(err, "failed to submit command"))
		return
	}
	s.writeJSON(w, http.StatusAccepted, CommandResponse{Accepted: cmd.Op.String(), Value: cmd.Value})
}

func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return apperrors.NewValidationError("invalid request body: " + err.Error())
	}
	return nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	s.errorHandler.HandleError(w, r, err)
}
