package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"murder-mystery/internal/game"
)

const writeTimeout = 10 * time.Second

// command is one client request on the websocket. An empty TargetID on
// cast_vote is an abstention.
type command struct {
	Type     string `json:"type" binding:"required,oneof=start advance select_role cast_vote"`
	RoleID   string `json:"role_id" binding:"required_if=Type select_role"`
	TargetID string `json:"target_id"`
}

type outbound struct {
	Type     string         `json:"type"`
	Snapshot *game.Snapshot `json:"snapshot,omitempty"`
	Command  string         `json:"command,omitempty"`
	Error    string         `json:"error,omitempty"`
}

type wsClient struct {
	conn     *websocket.Conn
	roomID   string
	playerID string

	mu sync.Mutex
}

func (c *wsClient) Send(payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

type wsHub struct {
	mu     sync.Mutex
	groups map[string]map[*wsClient]struct{}
}

func newWSHub() *wsHub {
	return &wsHub{groups: make(map[string]map[*wsClient]struct{})}
}

func (h *wsHub) Add(client *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	group := h.groups[client.roomID]
	if group == nil {
		group = make(map[*wsClient]struct{})
		h.groups[client.roomID] = group
	}
	group[client] = struct{}{}
}

func (h *wsHub) Remove(client *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	group := h.groups[client.roomID]
	if group == nil {
		return
	}
	delete(group, client)
	_ = client.conn.Close()
	if len(group) == 0 {
		delete(h.groups, client.roomID)
	}
}

// Disconnect closes every connection a player holds in a room.
func (h *wsHub) Disconnect(roomID, playerID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.groups[roomID] {
		if client.playerID == playerID {
			_ = client.conn.Close()
		}
	}
}

func (h *wsHub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, group := range h.groups {
		for client := range group {
			_ = client.conn.Close()
		}
	}
}

func (h *wsHub) Count(roomID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.groups[roomID])
}

func (s *Server) handleWebsocket(c *gin.Context) {
	var uri playerURI
	if !bindURI(c, &uri) {
		return
	}
	players, err := s.backend.ListPlayers(c.Request.Context(), uri.RoomID)
	if err != nil {
		writeError(c, err)
		return
	}
	if !slices.ContainsFunc(players, func(p game.Player) bool { return p.ID == uri.PlayerID }) {
		writeError(c, game.ErrPlayerNotFound)
		return
	}
	session, err := game.NewSession(game.Config{
		RoomID:    uri.RoomID,
		PlayerID:  uri.PlayerID,
		Store:     s.backend,
		Notifier:  s.backend,
		Messenger: s.backend,
		Clock:     s.clock,
		Durations: s.durations,
		Tick:      s.cfg.Tick(),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	log.Info().Str("room_id", uri.RoomID).Str("player_id", uri.PlayerID).Str("remote", c.Request.RemoteAddr).Msg("ws connected")
	client := &wsClient{conn: conn, roomID: uri.RoomID, playerID: uri.PlayerID}
	s.hub.Add(client)
	go s.serveClient(client, session)
}

// serveClient runs the participant's session and streams its snapshots until
// the client goes away, the room is deleted or the server shuts down.
func (s *Server) serveClient(client *wsClient, session *game.Session) {
	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	defer s.hub.Remove(client)

	done := make(chan error, 1)
	go func() {
		done <- session.Run(ctx)
	}()

	reading := false
	for {
		select {
		case snapshot := <-session.Updates():
			if err := client.Send(outbound{Type: "snapshot", Snapshot: &snapshot}); err != nil {
				log.Debug().Err(err).Str("room_id", client.roomID).Msg("ws write failed")
				return
			}
			// commands are accepted once the session has loaded the room
			if !reading {
				reading = true
				go s.readCommands(ctx, cancel, client, session)
			}
		case err := <-done:
			select {
			case snapshot := <-session.Updates():
				_ = client.Send(outbound{Type: "snapshot", Snapshot: &snapshot})
			default:
			}
			switch {
			case errors.Is(err, game.ErrRoomNotFound):
				_ = client.Send(outbound{Type: "closed"})
			case err != nil:
				log.Error().Err(err).Str("room_id", client.roomID).Str("player_id", client.playerID).Msg("session failed")
				_ = client.Send(outbound{Type: "error", Error: err.Error()})
			}
			return
		}
	}
}

func (s *Server) readCommands(ctx context.Context, cancel context.CancelFunc, client *wsClient, session *game.Session) {
	defer cancel()
	for {
		_, payload, err := client.conn.ReadMessage()
		if err != nil {
			log.Info().Err(err).Str("room_id", client.roomID).Str("player_id", client.playerID).Msg("ws disconnected")
			return
		}
		var cmd command
		if err := json.Unmarshal(payload, &cmd); err != nil {
			_ = client.Send(outbound{Type: "error", Error: "invalid command"})
			continue
		}
		if err := validateStruct(&cmd); err != nil {
			_ = client.Send(outbound{Type: "error", Command: cmd.Type, Error: resolveBindError(err, commandMessages, "invalid command")})
			continue
		}
		if err := dispatch(ctx, session, cmd); err != nil {
			log.Debug().Err(err).Str("room_id", client.roomID).Str("player_id", client.playerID).Str("command", cmd.Type).Msg("command rejected")
			_ = client.Send(outbound{Type: "error", Command: cmd.Type, Error: err.Error()})
		}
	}
}

var commandMessages = bindMessages{
	"Type":   {"required": "type is required", "oneof": "unknown command"},
	"RoleID": {"required_if": "role_id is required"},
}

func dispatch(ctx context.Context, session *game.Session, cmd command) error {
	switch cmd.Type {
	case "start":
		return session.Start(ctx)
	case "advance":
		return session.Advance(ctx)
	case "select_role":
		return session.SelectRole(ctx, cmd.RoleID)
	case "cast_vote":
		return session.CastVote(ctx, cmd.TargetID)
	}
	return errors.New("unknown command")
}
