package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/mattjoyce/trestle/internal/dsl"
	"github.com/mattjoyce/trestle/invoke"
)

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := HealthzResponse{
		Status:              "ok",
		UptimeSeconds:       int64(time.Since(s.startedAt).Seconds()),
		StepsRegistered:     s.steps.Len(),
		PipelinesRegistered: s.pipelines.Len(),
	}

	respondJSON(w, http.StatusOK, resp)
}

// handleListSteps handles GET /v1/steps.
func (s *Server) handleListSteps(w http.ResponseWriter, r *http.Request) {
	all := s.steps.All()

	resp := StepListResponse{
		Steps: make([]StepSummary, 0, len(all)),
	}
	for _, desc := range all {
		deps := desc.DependsOn()
		if deps == nil {
			deps = []string{}
		}
		resp.Steps = append(resp.Steps, StepSummary{
			Name:        desc.Name(),
			Description: desc.Description(),
			DependsOn:   deps,
		})
	}

	respondJSON(w, http.StatusOK, resp)
}

// handleGetStep handles GET /v1/steps/{step}. The response body is the
// step's wire-form dump.
func (s *Server) handleGetStep(w http.ResponseWriter, r *http.Request) {
	stepName := chi.URLParam(r, "step")

	desc, ok := s.steps.Get(stepName)
	if !ok {
		s.writeError(w, http.StatusNotFound, "step not found")
		return
	}

	respondJSON(w, http.StatusOK, desc.Dump())
}

// handleInvokeStep handles POST /v1/steps/{step}/invoke.
// Executes the step inline and returns its serialized result.
func (s *Server) handleInvokeStep(w http.ResponseWriter, r *http.Request) {
	stepName := chi.URLParam(r, "step")

	desc, ok := s.steps.Get(stepName)
	if !ok {
		s.writeError(w, http.StatusNotFound, "step not found")
		return
	}

	// Parse request body (optional)
	var req InvokeRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}

	if req.Run != "" && len(req.Results) > 0 {
		s.writeError(w, http.StatusBadRequest, "run and results are mutually exclusive")
		return
	}

	resultsJSON := string(req.Results)
	if req.Run != "" {
		if s.store == nil {
			s.writeError(w, http.StatusServiceUnavailable, "no results store configured")
			return
		}
		gathered, missing, err := s.store.Gather(r.Context(), req.Run, desc.DependsOn())
		if err != nil {
			s.logger.Error("failed to gather cached results", "step", stepName, "run", req.Run, "error", err)
			s.writeError(w, http.StatusInternalServerError, "failed to gather cached results")
			return
		}
		if len(missing) > 0 {
			s.writeError(w, http.StatusConflict, "missing cached results for: "+strings.Join(missing, ", "))
			return
		}
		resultsJSON = gathered
	}

	startTime := time.Now()
	out, err := invoke.Invoke(r.Context(), desc, string(req.Input), resultsJSON)
	if err != nil {
		s.respondInvokeError(w, err)
		return
	}

	if req.Run != "" {
		if err := s.store.Put(r.Context(), req.Run, stepName, out); err != nil {
			s.logger.Error("failed to record result", "step", stepName, "run", req.Run, "error", err)
			s.writeError(w, http.StatusInternalServerError, "failed to record result")
			return
		}
	}

	s.logger.Info("step invoked via API", "step", stepName, "duration_ms", time.Since(startTime).Milliseconds())

	respondJSON(w, http.StatusOK, InvokeResponse{
		Step:       stepName,
		Result:     json.RawMessage(out),
		DurationMs: time.Since(startTime).Milliseconds(),
	})
}

// respondInvokeError maps invocation failures to HTTP statuses: malformed
// sources to 400, parameter failures to 422 with the field list preserved,
// serialization failures to 500. Handler errors fall through as 500.
func (s *Server) respondInvokeError(w http.ResponseWriter, err error) {
	var inputErr *invoke.InputError
	var upstreamErr *invoke.UpstreamError
	var validationErr *invoke.ValidationError
	var serializationErr *invoke.SerializationError

	switch {
	case errors.As(err, &inputErr), errors.As(err, &upstreamErr):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &validationErr):
		fields := make([]FieldIssue, 0, len(validationErr.Fields))
		for _, f := range validationErr.Fields {
			fields = append(fields, FieldIssue{
				Field:  f.Field,
				Source: f.Source,
				Reason: f.Reason,
			})
		}
		respondJSON(w, http.StatusUnprocessableEntity, ValidationErrorResponse{
			Error:  "invalid parameters",
			Step:   validationErr.Step,
			Fields: fields,
		})
	case errors.As(err, &serializationErr):
		s.writeError(w, http.StatusInternalServerError, err.Error())
	default:
		s.writeError(w, http.StatusInternalServerError, "step failed: "+err.Error())
	}
}

// handleListPipelines handles GET /v1/pipelines.
func (s *Server) handleListPipelines(w http.ResponseWriter, r *http.Request) {
	all := s.pipelines.All()

	resp := PipelineListResponse{
		Pipelines: make([]PipelineSummary, 0, len(all)),
	}
	for _, p := range all {
		resp.Pipelines = append(resp.Pipelines, PipelineSummary{
			Name:        p.Name(),
			Description: p.Description(),
			ModulePath:  p.ModulePath(),
			Steps:       p.Members(),
		})
	}

	respondJSON(w, http.StatusOK, resp)
}

// handleGetPipeline handles GET /v1/pipelines/{pipeline}. The response
// body is the pipeline's wire-form dump with the DAG computed against the
// current step registry.
func (s *Server) handleGetPipeline(w http.ResponseWriter, r *http.Request) {
	pipelineName := chi.URLParam(r, "pipeline")

	p, ok := s.pipelines.Get(pipelineName)
	if !ok {
		s.writeError(w, http.StatusNotFound, "pipeline not found")
		return
	}

	dump, err := p.Dump(s.steps)
	if err != nil {
		s.logger.Error("failed to dump pipeline", "pipeline", pipelineName, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to dump pipeline: "+err.Error())
		return
	}

	respondJSON(w, http.StatusOK, dump)
}

// handleDSL handles GET /v1/dsl. Returns the fingerprinted descriptor
// document for everything currently registered.
func (s *Server) handleDSL(w http.ResponseWriter, r *http.Request) {
	env, err := dsl.Build(s.steps, s.pipelines)
	if err != nil {
		s.logger.Error("failed to build DSL document", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to build DSL document: "+err.Error())
		return
	}

	respondJSON(w, http.StatusOK, env)
}

// respondJSON is a helper to write JSON responses
func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
