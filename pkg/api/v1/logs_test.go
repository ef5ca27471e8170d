package v1

import (
	"context"
	"fmt"
	"io"
	"net/http/httptest"
	"path/filepath"
	goruntime "runtime"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/agentdeck/agentdeck/pkg/agent"
	"github.com/agentdeck/agentdeck/pkg/session"
	"github.com/agentdeck/agentdeck/pkg/state"

	"github.com/agentdeck/agentdeck/pkg/container/runtime/mocks"
)

func newLogsEnv(t *testing.T) (*httptest.Server, *mocks.MockRuntime, *session.Manager) {
	t.Helper()
	ctrl := gomock.NewController(t)
	rt := mocks.NewMockRuntime(ctrl)
	dir := t.TempDir()

	agents, err := agent.NewManager(rt, "agent-deck-worker:latest", dir)
	require.NoError(t, err)
	store := state.NewLocalStore(filepath.Join(dir, "registry.json"))
	sessions := session.NewManager(context.Background(), agents, store, 60)

	server := httptest.NewServer(LogsRouter(sessions))
	t.Cleanup(server.Close)
	return server, rt, sessions
}

func dialLogs(t *testing.T, server *httptest.Server, agentID string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/" + agentID + "/logs"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestLogStreamUnknownAgent(t *testing.T) {
	server, _, _ := newLogsEnv(t)
	conn := dialLogs(t, server, "agent-nope")

	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "agent not found", string(msg))

	// The close frame carries the policy violation code.
	_, _, err = conn.ReadMessage()
	closeErr, ok := err.(*websocket.CloseError)
	require.True(t, ok, "expected a close error, got %v", err)
	assert.Equal(t, websocket.ClosePolicyViolation, closeErr.Code)
}

func TestLogStreamRelaysLines(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")
	server, rt, sessions := newLogsEnv(t)

	rt.EXPECT().DeployWorkload(gomock.Any(), gomock.Any()).
		Return(runningInfo("c1", 32768), nil)
	_, agentRecord, err := sessions.LaunchSession(
		context.Background(), "sk-test", map[string]any{"id": "demo"}, nil)
	require.NoError(t, err)

	logs := "first line\n\nsecond line\r\n"
	rt.EXPECT().WorkloadLogs(gomock.Any(), "c1", true).
		Return(io.NopCloser(strings.NewReader(logs)), nil)

	conn := dialLogs(t, server, agentRecord.AgentID)

	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "first line", string(msg))

	// Blank lines are dropped, carriage returns trimmed.
	_, msg, err = conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "second line", string(msg))
}

func TestLogStreamClientDisconnectReleasesReader(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")
	server, rt, sessions := newLogsEnv(t)

	rt.EXPECT().DeployWorkload(gomock.Any(), gomock.Any()).
		Return(runningInfo("c1", 32768), nil)
	_, agentRecord, err := sessions.LaunchSession(
		context.Background(), "sk-test", map[string]any{"id": "demo"}, nil)
	require.NoError(t, err)

	// A producer that outpaces any client keeps the line buffer full.
	pr, pw := io.Pipe()
	producerDone := make(chan struct{})
	go func() {
		defer close(producerDone)
		for i := 0; ; i++ {
			if _, err := fmt.Fprintf(pw, "line %d\n", i); err != nil {
				return
			}
		}
	}()
	rt.EXPECT().WorkloadLogs(gomock.Any(), "c1", true).Return(pr, nil)

	baseline := goruntime.NumGoroutine()

	conn := dialLogs(t, server, agentRecord.AgentID)
	_, _, err = conn.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	select {
	case <-producerDone:
	case <-time.After(5 * time.Second):
		t.Fatal("log producer still blocked after client disconnect")
	}

	// The scanner goroutine must not stay parked on the line buffer.
	deadline := time.Now().Add(5 * time.Second)
	for goruntime.NumGoroutine() > baseline && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	assert.LessOrEqual(t, goruntime.NumGoroutine(), baseline)
}
