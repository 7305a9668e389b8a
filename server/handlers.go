package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"

	"github.com/promptforge/promptd/auth"
	"github.com/promptforge/promptd/evaluation"
	"github.com/promptforge/promptd/reasoning"
	"github.com/promptforge/promptd/sse"
)

// Prompt generation stream event names, in emission order.
const (
	eventDeepReasoningStart = "deep-reasoning-start"
	eventDeepReasoning      = "deep-reasoning"
	eventDeepReasoningEnd   = "deep-reasoning-end"
	eventMessage            = "message"
	eventEvaluateStart      = "evaluate-start"
	eventEvaluate           = "evaluate"
	eventEvaluateEnd        = "evaluate-end"
	eventError              = "error"
)

var validate = validator.New()

type promptRequest struct {
	Model        string `json:"model" validate:"required"`
	Prompt       string `json:"prompt" validate:"required"`
	Requirements string `json:"requirements"`
	Credential   string `json:"apiKey" validate:"required"`
}

type deltaPayload struct {
	Text string `json:"text"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func decodeEvaluationRequest(r *http.Request) (evaluation.Request, error) {
	var req evaluation.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return req, err
	}
	req = req.Normalize()
	return req, req.Validate()
}

// handleEvaluate runs a blocking evaluation and responds with the per-model
// result map.
func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	req, err := decodeEvaluationRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	summary, err := s.coordinator.Run(r.Context(), req)
	if err != nil {
		s.logger.Error("evaluation failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, summary.PerModel)
}

// handleEvaluateStream runs an evaluation while streaming lifecycle events.
func (s *Server) handleEvaluateStream(w http.ResponseWriter, r *http.Request) {
	req, err := decodeEvaluationRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writer, err := sse.NewWriter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	sink := evaluation.SinkFunc(func(event string, payload any) error {
		return writer.Send(event, payload)
	})
	if _, err := s.coordinator.RunStreaming(r.Context(), req, sink); err != nil {
		s.logger.Error("streaming evaluation failed", "error", err)
		_ = writer.Send(eventError, map[string]string{"error": err.Error()})
	}
}

// handlePromptStream runs the prompt generation service: deep reasoning and
// rewrite with live deltas, then a critique of the optimized prompt.
func (s *Server) handlePromptStream(w http.ResponseWriter, r *http.Request) {
	var req promptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	client, err := s.factory(req.Model, req.Credential)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writer, err := sse.NewWriter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer func() { _ = writer.Done() }()

	ctx := r.Context()
	_ = writer.Send(eventDeepReasoningStart, deltaPayload{})
	reasoningDone := false
	onDelta := func(stage reasoning.Stage, text string) {
		switch stage {
		case reasoning.StageReasoning:
			_ = writer.Send(eventDeepReasoning, deltaPayload{Text: text})
		case reasoning.StageRewrite:
			if !reasoningDone {
				reasoningDone = true
				_ = writer.Send(eventDeepReasoningEnd, deltaPayload{})
			}
			_ = writer.Send(eventMessage, deltaPayload{Text: text})
		}
	}

	_, rewritten, err := s.chain.Run(ctx, client, req.Prompt, req.Requirements, onDelta)
	if err != nil {
		s.logger.Error("prompt generation failed", "model", req.Model, "error", err)
		_ = writer.Send(eventError, map[string]string{"error": err.Error()})
		return
	}
	if !reasoningDone {
		_ = writer.Send(eventDeepReasoningEnd, deltaPayload{})
	}

	_ = writer.Send(eventEvaluateStart, deltaPayload{})
	_, err = s.chain.Critique(ctx, client, rewritten, func(stage reasoning.Stage, text string) {
		if stage == reasoning.StageCritique {
			_ = writer.Send(eventEvaluate, deltaPayload{Text: text})
		}
	})
	if err != nil {
		s.logger.Error("critique failed", "model", req.Model, "error", err)
		_ = writer.Send(eventError, map[string]string{"error": err.Error()})
		return
	}
	_ = writer.Send(eventEvaluateEnd, deltaPayload{})
}

// handleHistory lists the caller's stored evaluation runs, newest first.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	identity := auth.FromContext(r.Context())
	if identity == nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	if s.store == nil {
		writeError(w, http.StatusNotFound, "history is not enabled")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}

	records, err := s.store.ListByUser(r.Context(), identity.UserID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, records)
}
