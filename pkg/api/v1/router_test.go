package v1

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/agentdeck/agentdeck/pkg/agent"
	"github.com/agentdeck/agentdeck/pkg/container/runtime"
	"github.com/agentdeck/agentdeck/pkg/container/runtime/mocks"
	"github.com/agentdeck/agentdeck/pkg/session"
	"github.com/agentdeck/agentdeck/pkg/state"
)

type apiEnv struct {
	server   *httptest.Server
	rt       *mocks.MockRuntime
	agents   *agent.Manager
	sessions *session.Manager
	dir      string
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()
	ctrl := gomock.NewController(t)
	rt := mocks.NewMockRuntime(ctrl)
	dir := t.TempDir()

	agents, err := agent.NewManager(rt, "agent-deck-worker:latest", dir)
	require.NoError(t, err)
	store := state.NewLocalStore(filepath.Join(dir, "registry.json"))
	sessions := session.NewManager(context.Background(), agents, store, 60)

	mux := chi.NewRouter()
	mux.Mount("/api/agents", Router(sessions))
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return &apiEnv{server: server, rt: rt, agents: agents, sessions: sessions, dir: dir}
}

func runningInfo(id string, hostPort int) runtime.ContainerInfo {
	return runtime.ContainerInfo{
		ID:    id,
		Name:  "agentdeck-test",
		State: runtime.StatusRunning,
		Ports: []runtime.PortMapping{{ContainerPort: 3000, HostPort: hostPort, Protocol: "tcp"}},
	}
}

func (e *apiEnv) request(t *testing.T, method, path string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, e.server.URL+path, reader)
	require.NoError(t, err)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, payload
}

// launch drives POST /api/agents/launch and decodes the response.
func (e *apiEnv) launch(t *testing.T, containerID string, hostPort int, config map[string]any) launchResponse {
	t.Helper()
	e.rt.EXPECT().DeployWorkload(gomock.Any(), gomock.Any()).
		Return(runningInfo(containerID, hostPort), nil)

	resp, body := e.request(t, http.MethodPost, "/api/agents/launch",
		map[string]any{"config": config}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var launched launchResponse
	require.NoError(t, json.Unmarshal(body, &launched))
	return launched
}

// newWorker starts a stand-in worker HTTP server and returns its port.
func newWorker(t *testing.T, handler http.HandlerFunc) int {
	t.Helper()
	worker := httptest.NewServer(handler)
	t.Cleanup(worker.Close)
	u, err := url.Parse(worker.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	return port
}

func TestLaunchValidation(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")
	env := newAPIEnv(t)

	resp, _ := env.request(t, http.MethodPost, "/api/agents/launch", map[string]any{}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = env.request(t, http.MethodPost, "/api/agents/launch",
		map[string]any{"config": map[string]any{"allowed_tools": "not-a-list"}}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestLaunchWithPerServerMCPEnv(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")
	env := newAPIEnv(t)

	var captured runtime.DeployOptions
	env.rt.EXPECT().DeployWorkload(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, opts runtime.DeployOptions) (runtime.ContainerInfo, error) {
			captured = opts
			return runningInfo("c1", 32768), nil
		})

	resp, body := env.request(t, http.MethodPost, "/api/agents/launch",
		map[string]any{
			"config": map[string]any{"id": "demo"},
			"mcp_env": map[string]map[string]string{
				"github": {"GITHUB_TOKEN": "tok"},
				"jira":   {"JIRA_TOKEN": "jt"},
			},
		}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Equal(t, "tok", captured.EnvVars["GITHUB_TOKEN"])
	assert.Equal(t, "jt", captured.EnvVars["JIRA_TOKEN"])

	// A reserved key inside any server map rejects the launch.
	resp, _ = env.request(t, http.MethodPost, "/api/agents/launch",
		map[string]any{
			"config":  map[string]any{"id": "demo"},
			"mcp_env": map[string]map[string]string{"github": {"AGENT_ID": "x"}},
		}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestLaunchRequiresAmbientKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	env := newAPIEnv(t)

	resp, _ := env.request(t, http.MethodPost, "/api/agents/launch",
		map[string]any{"config": map[string]any{"id": "demo"}}, nil)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestLaunchChatStop(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")
	env := newAPIEnv(t)

	const frame = "data: {\"text\":\"ok\"}\n\n"
	port := newWorker(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/query", r.URL.Path)
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))
		var q queryRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&q))
		assert.Equal(t, "hi", q.Query)
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, frame)
	})

	launched := env.launch(t, "c1", port, map[string]any{"id": "demo", "name": "Demo"})
	assert.Regexp(t, `^agent-[0-9a-f]{12}$`, launched.AgentID)
	assert.Equal(t, "demo", launched.ConfigID)
	assert.Equal(t, runtime.StatusRunning, launched.Status)

	chatBody := map[string]any{
		"session_id": launched.SessionID,
		"messages":   []map[string]string{{"role": "user", "content": "hi"}},
	}
	resp, body := env.request(t, http.MethodPost, "/api/agents/chat", chatBody,
		map[string]string{"X-Session-Token": launched.SessionToken})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	assert.Equal(t, "no-cache", resp.Header.Get("Cache-Control"))
	assert.Equal(t, "no", resp.Header.Get("X-Accel-Buffering"))
	assert.Equal(t, frame, string(body))

	// Stop the session; the worker no longer has an endpoint.
	env.rt.EXPECT().StopWorkload(gomock.Any(), "c1", gomock.Any()).Return(nil)
	env.rt.EXPECT().InspectWorkload(gomock.Any(), "c1").
		Return(runtime.ContainerInfo{ID: "c1", State: "exited"}, nil).AnyTimes()
	resp, _ = env.request(t, http.MethodPost, "/api/agents/sessions/"+launched.SessionID+"/stop", nil,
		map[string]string{"X-Session-Token": launched.SessionToken})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = env.request(t, http.MethodPost, "/api/agents/chat", chatBody,
		map[string]string{"X-Session-Token": launched.SessionToken})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestChatAuth(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")
	env := newAPIEnv(t)
	launched := env.launch(t, "c1", 32768, map[string]any{"id": "demo"})

	chatBody := map[string]any{
		"session_id": launched.SessionID,
		"messages":   []map[string]string{{"role": "user", "content": "hi"}},
	}

	// Unknown session is 404 before any auth check.
	unknown := map[string]any{
		"session_id": "deadbeefdeadbeefdeadbeefdeadbeef",
		"messages":   []map[string]string{{"role": "user", "content": "hi"}},
	}
	resp, _ := env.request(t, http.MethodPost, "/api/agents/chat", unknown, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// Wrong token is 401.
	resp, _ = env.request(t, http.MethodPost, "/api/agents/chat", chatBody,
		map[string]string{"X-Session-Token": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Missing session id entirely is 400.
	resp, _ = env.request(t, http.MethodPost, "/api/agents/chat",
		map[string]any{"messages": []map[string]string{{"role": "user", "content": "hi"}}}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// No user-role message is 400.
	resp, _ = env.request(t, http.MethodPost, "/api/agents/chat",
		map[string]any{
			"session_id": launched.SessionID,
			"messages":   []map[string]string{{"role": "assistant", "content": "hello"}},
		},
		map[string]string{"X-Session-Token": launched.SessionToken})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestChatWorkerErrorBecomesSSEFrame(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")
	env := newAPIEnv(t)

	port := newWorker(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	launched := env.launch(t, "c1", port, map[string]any{"id": "demo"})

	resp, body := env.request(t, http.MethodPost, "/api/agents/chat",
		map[string]any{
			"session_id": launched.SessionID,
			"messages":   []map[string]string{{"role": "user", "content": "hi"}},
		},
		map[string]string{"X-Session-Token": launched.SessionToken})

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "data: {\"message\":\"boom\",\"type\":\"error\"}\n\n", string(body))
}

func TestTokenRotation(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")
	env := newAPIEnv(t)
	launched := env.launch(t, "c1", 32768, map[string]any{"id": "demo"})

	resp, body := env.request(t, http.MethodPost,
		"/api/agents/sessions/"+launched.SessionID+"/rotate-token", nil,
		map[string]string{"X-Session-Token": launched.SessionToken})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var rotated rotateTokenResponse
	require.NoError(t, json.Unmarshal(body, &rotated))
	assert.NotEqual(t, launched.SessionToken, rotated.SessionToken)

	// Old token no longer authorizes; the new one does.
	resp, _ = env.request(t, http.MethodPost,
		"/api/agents/sessions/"+launched.SessionID+"/rotate-token", nil,
		map[string]string{"X-Session-Token": launched.SessionToken})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	env.rt.EXPECT().StopWorkload(gomock.Any(), "c1", gomock.Any()).Return(nil)
	env.rt.EXPECT().InspectWorkload(gomock.Any(), "c1").
		Return(runtime.ContainerInfo{ID: "c1", State: "exited"}, nil)
	resp, _ = env.request(t, http.MethodPost,
		"/api/agents/sessions/"+launched.SessionID+"/stop", nil,
		map[string]string{"X-Session-Token": rotated.SessionToken})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestConfigReloadRollback(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")
	env := newAPIEnv(t)
	launched := env.launch(t, "c1", 32768, map[string]any{"id": "demo", "name": "A"})

	// Stop before the update, then the rollback restart brings the worker back.
	gomock.InOrder(
		env.rt.EXPECT().StopWorkload(gomock.Any(), "c1", gomock.Any()).Return(nil),
		env.rt.EXPECT().InspectWorkload(gomock.Any(), "c1").
			Return(runtime.ContainerInfo{ID: "c1", State: "exited"}, nil),
		env.rt.EXPECT().InspectWorkload(gomock.Any(), "c1").
			Return(runtime.ContainerInfo{ID: "c1", State: "exited"}, nil),
		env.rt.EXPECT().StartWorkload(gomock.Any(), "c1").Return(nil),
		env.rt.EXPECT().InspectWorkload(gomock.Any(), "c1").
			Return(runningInfo("c1", 32768), nil),
	)

	resp, _ := env.request(t, http.MethodPatch,
		"/api/agents/"+launched.AgentID+"/config",
		map[string]any{"config": map[string]any{"allowed_tools": "not-a-list"}},
		map[string]string{"X-Session-Token": launched.SessionToken})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// The prior document survived the failed update.
	onDisk, err := env.agents.ReadConfig(launched.AgentID)
	require.NoError(t, err)
	assert.Equal(t, "A", onDisk["name"])

	// The worker is running again.
	record, err := env.agents.GetAgent(launched.AgentID)
	require.NoError(t, err)
	assert.Equal(t, runtime.StatusRunning, record.Status)
}

func TestConfigReloadSuccessRotatesToken(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")
	env := newAPIEnv(t)
	launched := env.launch(t, "c1", 32768, map[string]any{"id": "demo", "name": "A"})

	gomock.InOrder(
		env.rt.EXPECT().StopWorkload(gomock.Any(), "c1", gomock.Any()).Return(nil),
		env.rt.EXPECT().InspectWorkload(gomock.Any(), "c1").
			Return(runtime.ContainerInfo{ID: "c1", State: "exited"}, nil),
		env.rt.EXPECT().InspectWorkload(gomock.Any(), "c1").
			Return(runtime.ContainerInfo{ID: "c1", State: "exited"}, nil),
		env.rt.EXPECT().StartWorkload(gomock.Any(), "c1").Return(nil),
		env.rt.EXPECT().InspectWorkload(gomock.Any(), "c1").
			Return(runningInfo("c1", 32768), nil),
	)

	resp, body := env.request(t, http.MethodPatch,
		"/api/agents/"+launched.AgentID+"/config",
		map[string]any{"config": map[string]any{"id": "demo", "name": "B"}},
		map[string]string{"X-Session-Token": launched.SessionToken})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var reloaded configReloadResponse
	require.NoError(t, json.Unmarshal(body, &reloaded))
	assert.Equal(t, launched.SessionID, reloaded.SessionID)
	assert.NotEqual(t, launched.SessionToken, reloaded.SessionToken)

	onDisk, err := env.agents.ReadConfig(launched.AgentID)
	require.NoError(t, err)
	assert.Equal(t, "B", onDisk["name"])
}

func TestRecreationAfterExternalRemoval(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")
	env := newAPIEnv(t)
	launched := env.launch(t, "c1", 32768, map[string]any{"id": "demo"})

	// Without an ambient key, a vanished container is a 409.
	t.Setenv("ANTHROPIC_API_KEY", "")
	env.rt.EXPECT().InspectWorkload(gomock.Any(), "c1").
		Return(runtime.ContainerInfo{}, runtime.ErrContainerNotFound)
	resp, _ := env.request(t, http.MethodPost,
		"/api/agents/sessions/"+launched.SessionID+"/start", nil,
		map[string]string{"X-Session-Token": launched.SessionToken})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// With the ambient key the container is recreated in place.
	t.Setenv("ANTHROPIC_API_KEY", "sk-new")
	gomock.InOrder(
		env.rt.EXPECT().InspectWorkload(gomock.Any(), "c1").
			Return(runtime.ContainerInfo{}, runtime.ErrContainerNotFound),
		env.rt.EXPECT().InspectWorkload(gomock.Any(), "c1").
			Return(runtime.ContainerInfo{}, runtime.ErrContainerNotFound),
		env.rt.EXPECT().DeployWorkload(gomock.Any(), gomock.Any()).
			Return(runningInfo("c2", 41000), nil),
	)
	resp, body := env.request(t, http.MethodPost,
		"/api/agents/sessions/"+launched.SessionID+"/start", nil,
		map[string]string{"X-Session-Token": launched.SessionToken})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var info agentInfo
	require.NoError(t, json.Unmarshal(body, &info))
	assert.Equal(t, launched.AgentID, info.AgentID)
	assert.Equal(t, "c2", info.ContainerID)

	// The stored hash now follows the ambient key.
	assert.True(t, env.sessions.Authorize(launched.SessionID, "", "Bearer sk-new"))
	assert.False(t, env.sessions.Authorize(launched.SessionID, "", "Bearer sk-test"))
}

func TestAgentAddressedLifecycle(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")
	env := newAPIEnv(t)
	launched := env.launch(t, "c1", 32768, map[string]any{"id": "demo"})

	// Unknown agent is 404.
	resp, _ := env.request(t, http.MethodPost, "/api/agents/agent-nope/stop", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	env.rt.EXPECT().StopWorkload(gomock.Any(), "c1", gomock.Any()).Return(nil)
	env.rt.EXPECT().InspectWorkload(gomock.Any(), "c1").
		Return(runtime.ContainerInfo{ID: "c1", State: "exited"}, nil)
	resp, _ = env.request(t, http.MethodPost,
		"/api/agents/"+launched.AgentID+"/stop", nil,
		map[string]string{"Authorization": "Bearer sk-test"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	env.rt.EXPECT().StopWorkload(gomock.Any(), "c1", gomock.Any()).Return(nil)
	env.rt.EXPECT().RemoveWorkload(gomock.Any(), "c1").Return(nil)
	env.rt.EXPECT().RemoveVolume(gomock.Any(), gomock.Any()).Return(nil)
	resp, _ = env.request(t, http.MethodDelete,
		"/api/agents/"+launched.AgentID, nil,
		map[string]string{"X-Session-Token": launched.SessionToken})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	_, err := env.sessions.GetSession(launched.SessionID)
	assert.ErrorIs(t, err, session.ErrUnknownSession)
}

func TestListSessionsReflectsAgentStatus(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")
	env := newAPIEnv(t)
	launched := env.launch(t, "c1", 32768, map[string]any{"id": "demo"})

	env.rt.EXPECT().InspectWorkload(gomock.Any(), "c1").
		Return(runtime.ContainerInfo{
			ID:     "c1",
			State:  "exited",
			Labels: map[string]string{"agentdeck": "true", "agentdeck.agent_id": launched.AgentID},
		}, nil)
	resp, body := env.request(t, http.MethodGet, "/api/agents/sessions", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var list sessionListResponse
	require.NoError(t, json.Unmarshal(body, &list))
	require.Equal(t, 1, list.Total)
	assert.Equal(t, launched.SessionID, list.Sessions[0].SessionID)
	assert.Equal(t, runtime.StatusStopped, list.Sessions[0].Status)
}

func TestInterruptSession(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")
	env := newAPIEnv(t)

	interrupted := false
	port := newWorker(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/interrupt" {
			interrupted = true
			w.WriteHeader(http.StatusOK)
			return
		}
		http.NotFound(w, r)
	})
	launched := env.launch(t, "c1", port, map[string]any{"id": "demo"})

	resp, _ := env.request(t, http.MethodPost,
		"/api/agents/sessions/"+launched.SessionID+"/interrupt", nil,
		map[string]string{"X-Session-Token": launched.SessionToken})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, interrupted)
}
