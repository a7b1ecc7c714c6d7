package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/raaihank/txn-sentinel/internal/anonymizer"
	"github.com/raaihank/txn-sentinel/internal/etl"
	"github.com/raaihank/txn-sentinel/internal/stats"
	"github.com/raaihank/txn-sentinel/internal/websocket"
)

type anonymizeRequest struct {
	Text   string `json:"text"`
	Method string `json:"method,omitempty"`
}

// anonymizeResponse mirrors anonymizer.Result with each entity's matched
// text replaced by its substitute.
type anonymizeResponse struct {
	AnonymizedText   string             `json:"anonymized_text"`
	Entities         []entityView       `json:"entities_found"`
	Confidence       float64            `json:"confidence"`
	MethodUsed       anonymizer.Method  `json:"method_used"`
	Stages           []anonymizer.Stage `json:"stages"`
	ProcessingTimeMS float64            `json:"processing_time_ms"`
	RequiresReview   bool               `json:"requires_review"`
}

type entityView struct {
	Type        anonymizer.EntityType `json:"entity_type"`
	Replacement string                `json:"replacement"`
	Start       int                   `json:"start"`
	End         int                   `json:"end"`
	Confidence  float64               `json:"confidence"`
	Method      anonymizer.Method     `json:"method"`
}

func newAnonymizeResponse(result *anonymizer.Result, method anonymizer.ReplaceMethod) anonymizeResponse {
	views := make([]entityView, 0, len(result.Entities))
	for _, e := range result.Entities {
		views = append(views, entityView{
			Type:        e.Type,
			Replacement: anonymizer.Replacement(e, method),
			Start:       e.Start,
			End:         e.End,
			Confidence:  e.Confidence,
			Method:      e.Method,
		})
	}
	return anonymizeResponse{
		AnonymizedText:   result.AnonymizedText,
		Entities:         views,
		Confidence:       result.Confidence,
		MethodUsed:       result.MethodUsed,
		Stages:           result.Stages,
		ProcessingTimeMS: result.ProcessingTimeMS,
		RequiresReview:   result.RequiresReview,
	}
}

type transactionsRequest struct {
	Records []anonymizer.Record `json:"records"`
	Method  string              `json:"method,omitempty"`
}

type transactionsResponse struct {
	Records []anonymizer.Record   `json:"records"`
	Result  *etl.ProcessingResult `json:"result"`
}

type learnRequest struct {
	Entities []anonymizer.Entity `json:"entities"`
}

type learnResponse struct {
	Added           int `json:"added"`
	LearnedPatterns int `json:"learned_patterns"`
}

type statsResponse struct {
	Summary   stats.Summary              `json:"summary"`
	Uncertain []anonymizer.UncertainCase `json:"uncertain,omitempty"`
	WebSocket websocket.HubStats         `json:"websocket"`
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// handleInfo handles info requests
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":                "txn-sentinel",
		"version":             Version,
		"method":              s.method,
		"thresholds":          s.deps.Engine.Thresholds(),
		"statistical_enabled": s.config.Statistical.Enabled,
		"llm_enabled":         s.config.Adjudicator.Enabled,
		"learning_enabled":    s.deps.Learning != nil,
	})
}

// handleAnonymize anonymizes a single text
func (s *Server) handleAnonymize(w http.ResponseWriter, r *http.Request) {
	var req anonymizeRequest
	if !s.decode(w, r, &req) {
		return
	}
	method, ok := s.replaceMethod(w, req.Method)
	if !ok {
		return
	}

	_, result := s.deps.Engine.AnonymizeText(r.Context(), req.Text, method)
	s.broadcastDetection(requestID(r.Context()), result)

	writeJSON(w, http.StatusOK, newAnonymizeResponse(result, method))
}

// handleTransactions anonymizes a batch of transaction records
func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	var req transactionsRequest
	if !s.decode(w, r, &req) {
		return
	}
	method, ok := s.replaceMethod(w, req.Method)
	if !ok {
		return
	}

	batchConfig := s.config.Batch
	pipeline := etl.NewPipeline(s.deps.Engine, &batchConfig, s.logger.WithRequestID(requestID(r.Context())).Logger)
	total := int64(len(req.Records))
	pipeline.OnProgress(func(p etl.ProcessingStats) {
		s.deps.Hub.BroadcastEvent(websocket.Event{
			Type:      websocket.EventTypeBatchProgress,
			RequestID: requestID(r.Context()),
			Data: websocket.BatchEvent{
				RunID:         p.RunID,
				Total:         total,
				Done:          p.RecordsDone,
				Failed:        p.RecordsFailed,
				RatePerSecond: p.ProcessingRate,
			},
		})
	})

	records, result, err := pipeline.ProcessRecords(r.Context(), req.Records, method)
	if err != nil {
		s.logError(r, "Batch interrupted", err)
	}

	s.deps.Hub.BroadcastEvent(websocket.Event{
		Type:      websocket.EventTypeBatchCompleted,
		RequestID: requestID(r.Context()),
		Data: websocket.BatchEvent{
			RunID:          result.RunID,
			Total:          result.TotalRecords,
			Done:           result.Processed,
			Failed:         result.Failed,
			ReviewCount:    result.ReviewCount,
			EntitiesByType: result.EntitiesByType,
			Cancelled:      result.Cancelled,
		},
	})

	writeJSON(w, http.StatusOK, transactionsResponse{Records: records, Result: result})
}

// handleStats reports the processing summary. ?uncertain=true adds the
// retained uncertain cases.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	resp := statsResponse{
		Summary:   s.summary(),
		WebSocket: s.deps.Hub.GetStats(),
	}
	if withUncertain, _ := strconv.ParseBool(r.URL.Query().Get("uncertain")); withUncertain && s.deps.Stats != nil {
		resp.Uncertain = s.deps.Stats.Uncertain()
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleLearn stores templates for human-validated entities
func (s *Server) handleLearn(w http.ResponseWriter, r *http.Request) {
	if s.deps.Learning == nil {
		writeError(w, http.StatusServiceUnavailable, "learning store not configured")
		return
	}

	var req learnRequest
	if !s.decode(w, r, &req) {
		return
	}
	for _, e := range req.Entities {
		if e.Type == "" || e.Text == "" {
			writeError(w, http.StatusBadRequest, "every entity needs entity_type and text")
			return
		}
	}

	added, err := s.deps.Learning.Remember(req.Entities)
	if err != nil {
		s.logError(r, "Failed to persist learned patterns", err)
		writeError(w, http.StatusInternalServerError, "failed to persist learned patterns")
		return
	}

	writeJSON(w, http.StatusOK, learnResponse{Added: added, LearnedPatterns: s.deps.Learning.Count()})
}

func (s *Server) broadcastDetection(reqID string, result *anonymizer.Result) {
	byType := make(map[anonymizer.EntityType]int)
	for _, e := range result.Entities {
		byType[e.Type]++
	}
	s.deps.Hub.BroadcastEvent(websocket.Event{
		Type:      websocket.EventTypeDetection,
		RequestID: reqID,
		Data: websocket.DetectionEvent{
			RequestID:      reqID,
			EntitiesByType: byType,
			TotalEntities:  len(result.Entities),
			Confidence:     result.Confidence,
			Stages:         result.Stages,
			RequiresReview: result.RequiresReview,
			ProcessingMS:   result.ProcessingTimeMS,
		},
	})
}

func (s *Server) replaceMethod(w http.ResponseWriter, name string) (anonymizer.ReplaceMethod, bool) {
	if name == "" {
		return s.method, true
	}
	method, err := anonymizer.ParseReplaceMethod(name)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return "", false
	}
	return method, true
}

// decode reads a JSON body, keeping numbers as json.Number so amounts
// round-trip unchanged.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		s.logger.Debug("Rejected request body", zap.Error(err))
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
