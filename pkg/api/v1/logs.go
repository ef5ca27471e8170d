package v1

import (
	"bufio"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/agentdeck/agentdeck/pkg/agent"
	"github.com/agentdeck/agentdeck/pkg/logger"
	"github.com/agentdeck/agentdeck/pkg/session"
	"github.com/agentdeck/agentdeck/pkg/telemetry"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The API is origin-agnostic; same policy as the CORS layer.
	CheckOrigin: func(*http.Request) bool { return true },
}

// LogsRouter serves WebSocket log streams mounted at /ws/agents.
func LogsRouter(sessions *session.Manager) http.Handler {
	routes := &logRoutes{agents: sessions.AgentManager()}
	r := chi.NewRouter()
	r.Get("/{agent_id}/logs", routes.streamLogs)
	return r
}

type logRoutes struct {
	agents *agent.Manager
}

// streamLogs follows the agent container's log output over a WebSocket.
// Unknown agents are rejected with close code 1008. One goroutine reads the
// blocking container stream; closing that stream on client disconnect is
// what unblocks it.
func (l *logRoutes) streamLogs(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agent_id")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Debugf("WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	stream, err := l.agents.Logs(r.Context(), agentID, true)
	if err != nil {
		_ = conn.WriteMessage(websocket.TextMessage, []byte("agent not found"))
		_ = conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "agent not found"),
		)
		return
	}
	defer stream.Close()
	telemetry.LogStreams.Inc()

	lines := make(chan string, 64)
	readErr := make(chan error, 1)
	// Closed when this handler returns so a scanner blocked on a full
	// lines buffer does not outlive the connection.
	done := make(chan struct{})
	defer close(done)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(stream)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			text := strings.TrimRight(strings.ToValidUTF8(scanner.Text(), "�"), " \t\r\n")
			if text == "" {
				continue
			}
			select {
			case lines <- text:
			case <-done:
				return
			}
		}
		if err := scanner.Err(); err != nil {
			readErr <- err
		}
	}()

	// Detect client disconnect; closing the stream unblocks the reader.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				stream.Close()
				return
			}
		}
	}()

	for line := range lines {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(line)); err != nil {
			stream.Close()
			return
		}
	}

	select {
	case err := <-readErr:
		_ = conn.WriteMessage(websocket.TextMessage, []byte(fmt.Sprintf("[error] %v", err)))
	default:
	}
}
