package v1

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/agentdeck/agentdeck/pkg/logger"
	"github.com/agentdeck/agentdeck/pkg/telemetry"
)

// streamClient has no timeout: a chat stream lives as long as the worker
// keeps producing events. Transport keepalives govern the connection.
var streamClient = &http.Client{}

// chat proxies a streaming conversation turn to the session's worker.
func (s *Routes) chat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	sessionID := req.sessionID()
	if sessionID == "" {
		sessionID = r.Header.Get("X-Session-ID")
	}
	if sessionID == "" {
		http.Error(w, "session_id is required", http.StatusBadRequest)
		return
	}

	rec, err := s.sessions.GetSession(sessionID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if !s.authorize(w, r, sessionID) {
		return
	}

	userMessage := req.lastUserMessage()
	if userMessage == "" {
		http.Error(w, "No user message found", http.StatusBadRequest)
		return
	}

	endpoint := s.endpoints.Endpoint(r.Context(), rec.AgentID)
	if endpoint == "" {
		http.Error(w, "agent not found or no endpoint", http.StatusNotFound)
		return
	}

	s.sessions.Touch(r.Context(), sessionID)

	history := make([]map[string]any, 0, len(req.Messages))
	for _, msg := range req.Messages {
		history = append(history, map[string]any{"role": msg.Role, "content": msg.Content})
	}
	s.streamWorkerQuery(w, r, endpoint, queryRequest{Query: userMessage, History: history})
}

// queryAgent proxies a raw query to an agent's worker without session
// credentials, for direct agent-addressed access.
func (s *Routes) queryAgent(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agent_id")

	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Query == "" {
		http.Error(w, "query is required", http.StatusBadRequest)
		return
	}

	endpoint := s.endpoints.Endpoint(r.Context(), agentID)
	if endpoint == "" {
		http.Error(w, "agent not found or no endpoint", http.StatusNotFound)
		return
	}

	if sessionID, ok := s.sessions.SessionForAgent(agentID); ok {
		s.sessions.Touch(r.Context(), sessionID)
	}

	s.streamWorkerQuery(w, r, endpoint, req)
}

// streamWorkerQuery posts the query to the worker and relays the SSE bytes
// to the client verbatim. A non-200 from the worker becomes a single SSE
// error frame. Each write is flushed immediately.
func (s *Routes) streamWorkerQuery(w http.ResponseWriter, r *http.Request, endpoint string, query queryRequest) {
	body, err := json.Marshal(query)
	if err != nil {
		http.Error(w, "failed to encode query", http.StatusInternalServerError)
		return
	}

	upstream, err := http.NewRequestWithContext(r.Context(), http.MethodPost, endpoint+"/query", bytes.NewReader(body))
	if err != nil {
		http.Error(w, "failed to build query request", http.StatusInternalServerError)
		return
	}
	upstream.Header.Set("Content-Type", "application/json")
	upstream.Header.Set("Accept", "text/event-stream")

	resp, err := streamClient.Do(upstream)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to reach agent: %v", err), http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()
	telemetry.ChatStreams.Inc()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, _ := w.(http.Flusher)

	if resp.StatusCode != http.StatusOK {
		writeSSEError(w, resp.Body)
		if flusher != nil {
			flusher.Flush()
		}
		return
	}

	buf := make([]byte, 32*1024)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, writeErr := w.Write(buf[:n]); writeErr != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if readErr != nil {
			if readErr != io.EOF {
				logger.Debugf("Agent stream ended: %v", readErr)
			}
			return
		}
	}
}

// writeSSEError renders a worker failure as one SSE data frame so streaming
// clients surface it in-band.
func writeSSEError(w io.Writer, workerBody io.Reader) {
	raw, _ := io.ReadAll(workerBody)
	message := strings.TrimSpace(string(raw))
	if message == "" {
		message = "agent query failed"
	}
	payload, err := json.Marshal(map[string]string{"type": "error", "message": message})
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", payload)
}
