package gateway

import (
	"encoding/json"
	"net/http"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"murder-mystery/internal/game"
)

const wsWait = 5 * time.Second

func (e *testEnv) dial(t *testing.T, roomID, playerID string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(e.ts.URL, "http") + "/ws/rooms/" + roomID + "/players/" + playerID
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Skipf("skipping test; websocket dial unavailable: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, cmd command) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(cmd))
}

// readUntil reads messages until match accepts one or the deadline passes.
func readUntil(t *testing.T, conn *websocket.Conn, match func(outbound) bool) outbound {
	t.Helper()
	deadline := time.Now().Add(wsWait)
	for {
		_ = conn.SetReadDeadline(deadline)
		_, payload, err := conn.ReadMessage()
		require.NoError(t, err, "waiting for websocket message")
		var msg outbound
		require.NoError(t, json.Unmarshal(payload, &msg))
		if match(msg) {
			return msg
		}
	}
}

func inPhase(phase game.Phase) func(outbound) bool {
	return func(msg outbound) bool {
		return msg.Type == "snapshot" && msg.Snapshot.Phase == phase
	}
}

func errorFor(command string) func(outbound) bool {
	return func(msg outbound) bool {
		return msg.Type == "error" && msg.Command == command
	}
}

func TestWebsocketRejectsStrangers(t *testing.T) {
	env := newTestEnv(t)
	roomID, _ := env.createRoom(t, "Ada")
	wsURL := "ws" + strings.TrimPrefix(env.ts.URL, "http") + "/ws/rooms/" + roomID + "/players/" + uuid.NewString()
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWebsocketCommandValidation(t *testing.T) {
	env := newTestEnv(t)
	roomID, hostID := env.createRoom(t, "Ada")
	conn := env.dial(t, roomID, hostID)
	readUntil(t, conn, inPhase(game.PhaseWaiting))

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"dance"}`)))
	msg := readUntil(t, conn, func(msg outbound) bool { return msg.Type == "error" })
	assert.Equal(t, "unknown command", msg.Error)

	send(t, conn, command{Type: "select_role"})
	msg = readUntil(t, conn, errorFor("select_role"))
	assert.Equal(t, "role_id is required", msg.Error)
}

func TestWebsocketPlaysFullGame(t *testing.T) {
	env := newTestEnv(t)
	roomID, hostID := env.createRoom(t, "Ada")
	guestID := env.join(t, roomID, "Bea")

	host := env.dial(t, roomID, hostID)
	guest := env.dial(t, roomID, guestID)
	first := readUntil(t, host, inPhase(game.PhaseWaiting))
	assert.True(t, first.Snapshot.IsHost)
	assert.True(t, first.Snapshot.CanAdvance)
	readUntil(t, guest, inPhase(game.PhaseWaiting))

	send(t, guest, command{Type: "start"})
	msg := readUntil(t, guest, errorFor("start"))
	assert.Equal(t, game.ErrNotHost.Error(), msg.Error)

	send(t, host, command{Type: "start"})
	readUntil(t, host, inPhase(game.PhaseIntroduction))
	readUntil(t, guest, inPhase(game.PhaseIntroduction))

	send(t, host, command{Type: "advance"})
	msg = readUntil(t, host, errorFor("advance"))
	assert.Equal(t, game.ErrScriptNotReady.Error(), msg.Error)

	scriptID, roleIDs := env.createScript(t, "Butler", "Cook")
	status, _ := env.do(t, http.MethodPut, "/api/rooms/"+roomID+"/script", map[string]string{"player_id": hostID, "script_id": scriptID})
	require.Equal(t, http.StatusOK, status)
	readUntil(t, host, func(msg outbound) bool {
		return msg.Type == "snapshot" && msg.Snapshot.Phase == game.PhaseIntroduction && msg.Snapshot.CanAdvance
	})

	send(t, host, command{Type: "advance"})
	snap := readUntil(t, guest, func(msg outbound) bool {
		return msg.Type == "snapshot" && msg.Snapshot.Phase == game.PhaseRoleSelection && len(msg.Snapshot.Roles) == 2
	})
	for _, card := range snap.Snapshot.Roles {
		assert.Empty(t, card.TakenBy)
	}

	send(t, host, command{Type: "select_role", RoleID: roleIDs[0]})
	readUntil(t, host, func(msg outbound) bool { return msg.Type == "snapshot" && msg.Snapshot.MyRole != nil })
	send(t, guest, command{Type: "select_role", RoleID: roleIDs[0]})
	msg = readUntil(t, guest, errorFor("select_role"))
	assert.Equal(t, game.ErrRoleAlreadyTaken.Error(), msg.Error)

	send(t, guest, command{Type: "select_role", RoleID: roleIDs[1]})
	snap = readUntil(t, guest, func(msg outbound) bool { return msg.Type == "snapshot" && msg.Snapshot.MyRole != nil })
	assert.Equal(t, "Cook", snap.Snapshot.MyRole.Name)
	assert.Equal(t, "Cook has a secret", snap.Snapshot.MyRole.Secret)
	readUntil(t, host, func(msg outbound) bool { return msg.Type == "snapshot" && msg.Snapshot.AllSelected })

	for _, phase := range []game.Phase{
		game.PhaseNarrative1, game.PhaseInvestigation1, game.PhaseDiscussion1,
		game.PhaseNarrative2, game.PhaseInvestigation2, game.PhaseDiscussion2, game.PhaseVoting,
	} {
		send(t, host, command{Type: "advance"})
		snap = readUntil(t, host, inPhase(phase))
		if phase == game.PhaseInvestigation1 {
			require.NotNil(t, snap.Snapshot.Timer)
			assert.Equal(t, "investigation1", snap.Snapshot.Timer.Slot)
		}
	}
	readUntil(t, guest, inPhase(game.PhaseVoting))

	send(t, host, command{Type: "advance"})
	msg = readUntil(t, host, errorFor("advance"))
	assert.Equal(t, game.ErrWrongPhase.Error(), msg.Error)

	send(t, host, command{Type: "cast_vote", TargetID: guestID})
	send(t, guest, command{Type: "cast_vote", TargetID: guestID})

	snap = readUntil(t, guest, func(msg outbound) bool {
		return msg.Type == "snapshot" && msg.Snapshot.Phase == game.PhaseEnded && msg.Snapshot.Answer != ""
	})
	require.NotNil(t, snap.Snapshot.Tally)
	assert.Equal(t, "The cook did it with the carving knife.", snap.Snapshot.Answer)
	assert.Equal(t, 2, snap.Snapshot.Tally.Counts[guestID])

	status, body := env.do(t, http.MethodGet, "/api/rooms/"+roomID+"/tally", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ended", body["phase"])
	assert.Equal(t, guestID, body["culprit"])

	texts := func() []string {
		var out []string
		for _, message := range env.backend.Messages(roomID) {
			out = append(out, message.Text)
		}
		return out
	}
	assert.Contains(t, texts(), "Ada has chosen Butler")
	require.Eventually(t, func() bool {
		return slices.Contains(texts(), "All votes are in. The truth is revealed.")
	}, wsWait, 20*time.Millisecond)
}

func TestLeavingClosesSocket(t *testing.T) {
	env := newTestEnv(t)
	roomID, hostID := env.createRoom(t, "Ada")
	guestID := env.join(t, roomID, "Bea")
	guest := env.dial(t, roomID, guestID)
	readUntil(t, guest, inPhase(game.PhaseWaiting))

	status, _ := env.do(t, http.MethodDelete, "/api/rooms/"+roomID+"/players/"+guestID, nil)
	require.Equal(t, http.StatusOK, status)

	_ = guest.SetReadDeadline(time.Now().Add(wsWait))
	for {
		if _, _, err := guest.ReadMessage(); err != nil {
			break
		}
	}
	require.Eventually(t, func() bool { return env.server.hub.Count(roomID) == 0 }, wsWait, 20*time.Millisecond)

	host := env.dial(t, roomID, hostID)
	snap := readUntil(t, host, inPhase(game.PhaseWaiting))
	assert.Len(t, snap.Snapshot.Players, 1)
}
