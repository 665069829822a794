package gateway

import (
	"bytes"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"murder-mystery/internal/config"
	"murder-mystery/internal/game"
	"murder-mystery/internal/roomstore"
)

type testEnv struct {
	server  *Server
	backend *roomstore.Memory
	ts      *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := config.Default()
	cfg.NotifyBackend = "memory"
	cfg.TickMillis = 50
	backend := roomstore.NewMemory(nil)
	srv := New(backend, cfg, nil)

	listener, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Skipf("skipping test; listen unavailable: %v", err)
	}
	ts := &httptest.Server{
		Listener: listener,
		Config:   &http.Server{Handler: srv.Handler()},
	}
	ts.Start()
	t.Cleanup(func() {
		srv.Close()
		ts.Close()
	})
	return &testEnv{server: srv, backend: backend, ts: ts}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) (int, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, e.ts.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var decoded map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp.StatusCode, decoded
}

func (e *testEnv) createRoom(t *testing.T, host string) (string, string) {
	t.Helper()
	status, body := e.do(t, http.MethodPost, "/api/rooms", map[string]string{"display_name": host})
	require.Equal(t, http.StatusCreated, status, "create room: %v", body)
	return body["room_id"].(string), body["player_id"].(string)
}

func (e *testEnv) join(t *testing.T, roomID, name string) string {
	t.Helper()
	status, body := e.do(t, http.MethodPost, "/api/rooms/"+roomID+"/players", map[string]string{"display_name": name})
	require.Equal(t, http.StatusCreated, status, "join: %v", body)
	return body["player_id"].(string)
}

func (e *testEnv) createScript(t *testing.T, roles ...string) (string, []string) {
	t.Helper()
	req := map[string]any{
		"title":      "Death at Blackwood Manor",
		"background": "A storm, a locked study, a body.",
		"answer":     "The cook did it with the carving knife.",
		"locations":  []map[string]any{{"name": "Study", "clues": []string{"torn letter"}}},
	}
	var list []map[string]string
	for _, name := range roles {
		list = append(list, map[string]string{"name": name, "secret": name + " has a secret"})
	}
	req["roles"] = list
	status, body := e.do(t, http.MethodPost, "/api/scripts", req)
	require.Equal(t, http.StatusCreated, status, "create script: %v", body)
	var ids []string
	for _, id := range body["role_ids"].([]any) {
		ids = append(ids, id.(string))
	}
	return body["script_id"].(string), ids
}

func TestCreateAndJoinRoom(t *testing.T) {
	env := newTestEnv(t)
	roomID, hostID := env.createRoom(t, "Ada")
	guestID := env.join(t, roomID, "  Bea   Smith ")

	status, body := env.do(t, http.MethodGet, "/api/rooms/"+roomID, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "waiting", body["phase"])
	assert.Equal(t, hostID, body["host_player_id"])

	players, err := env.backend.ListPlayers(t.Context(), roomID)
	require.NoError(t, err)
	require.Len(t, players, 2)
	assert.Equal(t, guestID, players[1].ID)
	assert.Equal(t, "Bea Smith", players[1].DisplayName)
}

func TestJoinValidation(t *testing.T) {
	env := newTestEnv(t)
	roomID, _ := env.createRoom(t, "Ada")

	status, body := env.do(t, http.MethodPost, "/api/rooms/"+roomID+"/players", map[string]string{"display_name": ""})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "display name is required", body["error"])

	status, _ = env.do(t, http.MethodPost, "/api/rooms/"+roomID+"/players", map[string]string{"display_name": "<script>"})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = env.do(t, http.MethodPost, "/api/rooms/"+uuid.NewString()+"/players", map[string]string{"display_name": "Cy"})
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = env.do(t, http.MethodGet, "/api/rooms/not-a-uuid", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestJoinWithUnicodeNames(t *testing.T) {
	env := newTestEnv(t)
	roomID, _ := env.createRoom(t, "小明")
	env.join(t, roomID, "Zoë")
	env.join(t, roomID, strings.Repeat("偵", maxNameLength))

	players, err := env.backend.ListPlayers(t.Context(), roomID)
	require.NoError(t, err)
	require.Len(t, players, 3)
	assert.Equal(t, "小明", players[0].DisplayName)

	status, body := env.do(t, http.MethodPost, "/api/rooms/"+roomID+"/players", map[string]string{"display_name": strings.Repeat("偵", maxNameLength+1)})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, body["error"], "letters, digits")
}

func TestJoinEndedRoomRejected(t *testing.T) {
	env := newTestEnv(t)
	roomID, _ := env.createRoom(t, "Ada")
	_, err := env.backend.CompareAndSetPhase(t.Context(), roomID, game.PhaseWaiting, game.PhaseEnded)
	require.NoError(t, err)

	status, _ := env.do(t, http.MethodPost, "/api/rooms/"+roomID+"/players", map[string]string{"display_name": "Bea"})
	assert.Equal(t, http.StatusConflict, status)
}

func TestAttachScriptOnlyBeforeRoleSelection(t *testing.T) {
	env := newTestEnv(t)
	ctx := t.Context()
	roomID, hostID := env.createRoom(t, "Ada")
	first, _ := env.createScript(t, "Butler", "Maid")
	second, _ := env.createScript(t, "Gardener")

	attach := func(scriptID string) int {
		status, _ := env.do(t, http.MethodPut, "/api/rooms/"+roomID+"/script", map[string]string{"player_id": hostID, "script_id": scriptID})
		return status
	}
	require.Equal(t, http.StatusOK, attach(first))
	_, err := env.backend.CompareAndSetPhase(ctx, roomID, game.PhaseWaiting, game.PhaseIntroduction)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, attach(first))

	_, err = env.backend.CompareAndSetPhase(ctx, roomID, game.PhaseIntroduction, game.PhaseRoleSelection)
	require.NoError(t, err)
	assert.Equal(t, http.StatusConflict, attach(second))

	room, err := env.backend.GetRoom(ctx, roomID)
	require.NoError(t, err)
	assert.Equal(t, first, room.ScriptID)
}

func TestAttachScriptRequiresHost(t *testing.T) {
	env := newTestEnv(t)
	roomID, hostID := env.createRoom(t, "Ada")
	guestID := env.join(t, roomID, "Bea")
	scriptID, _ := env.createScript(t, "Butler", "Maid")

	status, _ := env.do(t, http.MethodPut, "/api/rooms/"+roomID+"/script", map[string]string{"player_id": guestID, "script_id": scriptID})
	assert.Equal(t, http.StatusForbidden, status)

	status, _ = env.do(t, http.MethodPut, "/api/rooms/"+roomID+"/script", map[string]string{"player_id": hostID, "script_id": uuid.NewString()})
	assert.Equal(t, http.StatusNotFound, status)

	status, body := env.do(t, http.MethodPut, "/api/rooms/"+roomID+"/script", map[string]string{"player_id": hostID, "script_id": scriptID})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, scriptID, body["script_id"])
}

func TestCreateScriptValidation(t *testing.T) {
	env := newTestEnv(t)
	status, _ := env.do(t, http.MethodPost, "/api/scripts", map[string]any{"title": "No roles"})
	assert.Equal(t, http.StatusBadRequest, status)

	roles := make([]map[string]string, maxRoles+1)
	for i := range roles {
		roles[i] = map[string]string{"name": "Extra"}
	}
	status, _ = env.do(t, http.MethodPost, "/api/scripts", map[string]any{"title": "Crowded", "roles": roles})
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestLeaveHandsOffHost(t *testing.T) {
	env := newTestEnv(t)
	roomID, hostID := env.createRoom(t, "Ada")
	guestID := env.join(t, roomID, "Bea")

	status, body := env.do(t, http.MethodDelete, "/api/rooms/"+roomID+"/players/"+hostID, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, guestID, body["new_host_id"])
	assert.Equal(t, false, body["room_closed"])

	status, body = env.do(t, http.MethodDelete, "/api/rooms/"+roomID+"/players/"+guestID, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["room_closed"])

	status, _ = env.do(t, http.MethodGet, "/api/rooms/"+roomID, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestTallyHiddenUntilEnded(t *testing.T) {
	env := newTestEnv(t)
	roomID, hostID := env.createRoom(t, "Ada")
	ctx := t.Context()

	_, err := env.backend.InsertVote(ctx, game.Vote{RoomID: roomID, VoterID: hostID})
	require.NoError(t, err)

	status, body := env.do(t, http.MethodGet, "/api/rooms/"+roomID+"/tally", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(1), body["votes_cast"])
	assert.Equal(t, true, body["complete"])
	assert.Nil(t, body["tally"])
}

func TestStatusFor(t *testing.T) {
	cases := map[error]int{
		game.ErrRoomNotFound:      http.StatusNotFound,
		game.ErrNotHost:           http.StatusForbidden,
		game.ErrRoleAlreadyTaken:  http.StatusConflict,
		game.ErrRolesPending:      http.StatusConflict,
		game.ErrInvalidVoteTarget: http.StatusBadRequest,
		game.ErrStoreUnavailable:  http.StatusServiceUnavailable,
	}
	for err, want := range cases {
		assert.Equal(t, want, statusFor(err), err.Error())
	}
}
