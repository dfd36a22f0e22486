package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Origanire/netfilm-backend/internal/game"
	"github.com/Origanire/netfilm-backend/internal/monitor"
)

const healthCheckTimeout = 2 * time.Second

type startRequest struct {
	Provider string `json:"provider"`
}

type answerRequest struct {
	SessionID string `json:"sessionId"`
	Answer    string `json:"answer"`
}

type confirmRequest struct {
	SessionID string `json:"sessionId"`
	IsCorrect *bool  `json:"isCorrect"`
}

type replyResponse struct {
	Action         string `json:"action"`
	Content        string `json:"content"`
	QuestionNumber int    `json:"questionNumber"`
}

type startResponse struct {
	SessionID string `json:"sessionId"`
	Provider  string `json:"provider"`
	replyResponse
}

type confirmResponse struct {
	Result         string `json:"result"`
	QuestionsAsked int    `json:"questionsAsked,omitempty"`
	Guess          string `json:"guess,omitempty"`
	Action         string `json:"action,omitempty"`
	Content        string `json:"content,omitempty"`
	QuestionNumber int    `json:"questionNumber,omitempty"`
}

type sessionsResponse struct {
	TotalSessions int                `json:"total_sessions"`
	Sessions      []game.SessionInfo `json:"sessions"`
}

type gamesResponse struct {
	Total int                `json:"total"`
	Games []game.GameSummary `json:"games"`
}

type healthResponse struct {
	Status              string                  `json:"status"`
	Provider            string                  `json:"provider"`
	ProvidersConfigured map[string]bool         `json:"providers_configured"`
	ActiveSessions      int                     `json:"active_sessions"`
	Storage             string                  `json:"storage"`
	RateLimits          []monitor.ProviderUsage `json:"rate_limits,omitempty"`
}

func newReplyResponse(reply game.Reply) replyResponse {
	return replyResponse{
		Action:         reply.Action,
		Content:        reply.Content,
		QuestionNumber: reply.QuestionNumber,
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":    "NetFilm Akinator API",
		"version": s.opts.Version,
		"endpoints": map[string]string{
			"start":          "POST /api/akinator/start",
			"answer":         "POST /api/akinator/answer",
			"confirm":        "POST /api/akinator/confirm",
			"sessions":       "GET /api/akinator/sessions",
			"session":        "GET /api/akinator/sessions/{id}",
			"delete_session": "DELETE /api/akinator/sessions/{id}",
			"games":          "GET /api/games?limit=n",
			"game":           "GET /api/games/{id}",
			"stats":          "GET /api/stats",
			"health":         "GET /health",
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:              "healthy",
		Provider:            s.opts.DefaultProvider,
		ProvidersConfigured: s.opts.Credentials,
		ActiveSessions:      len(s.engine.Sessions()),
		Storage:             "disabled",
	}

	if s.opts.Storage != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()
		if err := s.opts.Storage.HealthCheck(ctx); err != nil {
			s.logger.Warn("Storage health check failed", "error", err)
			resp.Storage = "unhealthy"
			resp.Status = "degraded"
		} else {
			resp.Storage = "healthy"
		}
	}
	if s.opts.Usage != nil {
		resp.RateLimits = s.opts.Usage.Usage()
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.engine.Stats(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := decodeJSON(r, &req, true); err != nil {
		s.writeError(w, r, err)
		return
	}

	result, err := s.engine.Start(r.Context(), strings.TrimSpace(req.Provider))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, startResponse{
		SessionID:     result.SessionID,
		Provider:      result.Provider,
		replyResponse: newReplyResponse(result.Reply),
	})
}

func (s *Server) handleAnswer(w http.ResponseWriter, r *http.Request) {
	var req answerRequest
	if err := decodeJSON(r, &req, false); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.SessionID == "" {
		s.writeError(w, r, fmt.Errorf("%w: sessionId is required", game.ErrInvalidInput))
		return
	}

	reply, err := s.engine.Answer(r.Context(), req.SessionID, req.Answer)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newReplyResponse(*reply))
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if err := decodeJSON(r, &req, false); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.SessionID == "" || req.IsCorrect == nil {
		s.writeError(w, r, fmt.Errorf("%w: sessionId and isCorrect are required", game.ErrInvalidInput))
		return
	}

	result, err := s.engine.Confirm(r.Context(), req.SessionID, *req.IsCorrect)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := confirmResponse{
		Result:         result.Result,
		QuestionsAsked: result.QuestionsAsked,
		Guess:          result.Guess,
	}
	if result.Reply != nil {
		resp.Action = result.Reply.Action
		resp.Content = result.Reply.Content
		resp.QuestionNumber = result.Reply.QuestionNumber
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions := s.engine.Sessions()
	writeJSON(w, http.StatusOK, sessionsResponse{
		TotalSessions: len(sessions),
		Sessions:      sessions,
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	info, err := s.engine.Session(r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.DeleteSession(r.PathValue("id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleRecentGames(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.writeError(w, r, fmt.Errorf("%w: limit must be a positive integer", game.ErrInvalidInput))
			return
		}
		limit = n
	}

	games, err := s.engine.RecentGames(r.Context(), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, gamesResponse{Total: len(games), Games: games})
}

func (s *Server) handleGetGame(w http.ResponseWriter, r *http.Request) {
	g, err := s.engine.Game(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

// decodeJSON reads a bounded request body. An empty body is accepted when allowEmpty is set.
func decodeJSON(r *http.Request, target interface{}, allowEmpty bool) error {
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) && allowEmpty {
			return nil
		}
		return fmt.Errorf("%w: malformed JSON body: %v", game.ErrInvalidInput, err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	encoder := json.NewEncoder(w)
	_ = encoder.Encode(payload)
}
