package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"slices"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"murder-mystery/internal/game"
)

type roomURI struct {
	RoomID string `uri:"roomID" binding:"required,uuid"`
}

type playerURI struct {
	RoomID   string `uri:"roomID" binding:"required,uuid"`
	PlayerID string `uri:"playerID" binding:"required,uuid"`
}

type joinRequest struct {
	DisplayName string `json:"display_name" binding:"required,name"`
}

type attachScriptRequest struct {
	PlayerID string `json:"player_id" binding:"required,uuid"`
	ScriptID string `json:"script_id" binding:"required,uuid"`
}

type roleRequest struct {
	Name       string `json:"name" binding:"required,max=128"`
	PublicInfo string `json:"public_info"`
	Secret     string `json:"secret"`
	Mission    string `json:"mission"`
}

type scriptRequest struct {
	Title      string          `json:"title" binding:"required,max=200"`
	Background string          `json:"background"`
	Answer     string          `json:"answer"`
	Locations  json.RawMessage `json:"locations"`
	Roles      []roleRequest   `json:"roles" binding:"required,min=1,dive"`
}

var joinMessages = bindMessages{
	"DisplayName": {
		"required": "display name is required",
		"name":     fmt.Sprintf("display name must be at most %d letters, digits or simple punctuation", maxNameLength),
	},
}

type tallyResponse struct {
	RoomID    string      `json:"room_id"`
	Phase     game.Phase  `json:"phase"`
	VotesCast int         `json:"votes_cast"`
	Complete  bool        `json:"complete"`
	Tally     *game.Tally `json:"tally,omitempty"`
	Culprit   string      `json:"culprit,omitempty"`
}

func (s *Server) handleCreateRoom(c *gin.Context) {
	var req joinRequest
	if !bindJSON(c, &req, joinMessages, "") {
		return
	}
	ctx := c.Request.Context()
	room, err := s.backend.CreateRoom(ctx)
	if err != nil {
		log.Error().Err(err).Msg("create room failed")
		writeError(c, err)
		return
	}
	name, _ := validateName(req.DisplayName)
	host, err := s.backend.AddPlayer(ctx, room.ID, name)
	if err != nil {
		log.Error().Err(err).Str("room_id", room.ID).Msg("add host failed")
		writeError(c, err)
		return
	}
	log.Info().Str("room_id", room.ID).Str("player_id", host.ID).Msg("room created")
	c.JSON(http.StatusCreated, gin.H{
		"room_id":   room.ID,
		"player_id": host.ID,
		"is_host":   host.IsHost,
	})
}

func (s *Server) handleGetRoom(c *gin.Context) {
	var uri roomURI
	if !bindURI(c, &uri) {
		return
	}
	ctx := c.Request.Context()
	room, err := s.backend.GetRoom(ctx, uri.RoomID)
	if err != nil {
		writeError(c, err)
		return
	}
	players, err := s.backend.ListPlayers(ctx, uri.RoomID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"room_id":        room.ID,
		"phase":          room.Phase,
		"host_player_id": room.HostPlayerID,
		"script_id":      room.ScriptID,
		"players":        players,
	})
}

func (s *Server) handleJoinRoom(c *gin.Context) {
	var uri roomURI
	if !bindURI(c, &uri) {
		return
	}
	var req joinRequest
	if !bindJSON(c, &req, joinMessages, "") {
		return
	}
	name, _ := validateName(req.DisplayName)
	player, err := s.backend.AddPlayer(c.Request.Context(), uri.RoomID, name)
	if err != nil {
		writeError(c, err)
		return
	}
	log.Info().Str("room_id", uri.RoomID).Str("player_id", player.ID).Msg("player joined")
	c.JSON(http.StatusCreated, gin.H{
		"room_id":   uri.RoomID,
		"player_id": player.ID,
		"is_host":   player.IsHost,
	})
}

func (s *Server) handleLeaveRoom(c *gin.Context) {
	var uri playerURI
	if !bindURI(c, &uri) {
		return
	}
	departure, err := s.backend.RemovePlayer(c.Request.Context(), uri.RoomID, uri.PlayerID)
	if err != nil {
		writeError(c, err)
		return
	}
	s.hub.Disconnect(uri.RoomID, uri.PlayerID)
	resp := gin.H{"room_closed": departure.RoomClosed}
	if departure.NewHost != nil {
		resp["new_host_id"] = departure.NewHost.ID
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleAttachScript(c *gin.Context) {
	var uri roomURI
	if !bindURI(c, &uri) {
		return
	}
	var req attachScriptRequest
	if !bindJSON(c, &req, nil, "player_id and script_id are required") {
		return
	}
	ctx := c.Request.Context()
	players, err := s.backend.ListPlayers(ctx, uri.RoomID)
	if err != nil {
		writeError(c, err)
		return
	}
	if !slices.ContainsFunc(players, func(p game.Player) bool { return p.ID == req.PlayerID && p.IsHost }) {
		writeError(c, game.ErrNotHost)
		return
	}
	room, err := s.backend.AttachScript(ctx, uri.RoomID, req.ScriptID)
	if err != nil {
		writeError(c, err)
		return
	}
	log.Info().Str("room_id", room.ID).Str("script_id", room.ScriptID).Msg("script attached")
	c.JSON(http.StatusOK, gin.H{"room_id": room.ID, "script_id": room.ScriptID})
}

func (s *Server) handleCreateScript(c *gin.Context) {
	var req scriptRequest
	if !bindJSON(c, &req, nil, "title and at least one named role are required") {
		return
	}
	if len(req.Roles) > maxRoles {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("a script has at most %d roles", maxRoles)})
		return
	}
	roles := make([]game.Role, 0, len(req.Roles))
	for _, role := range req.Roles {
		roles = append(roles, game.Role{
			Name:       role.Name,
			PublicInfo: role.PublicInfo,
			Secret:     role.Secret,
			Mission:    role.Mission,
		})
	}
	script, saved, err := s.backend.SaveScript(c.Request.Context(), game.Script{
		Title:      req.Title,
		Background: req.Background,
		Answer:     req.Answer,
		Locations:  req.Locations,
	}, roles)
	if err != nil {
		log.Error().Err(err).Msg("save script failed")
		writeError(c, err)
		return
	}
	ids := make([]string, 0, len(saved))
	for _, role := range saved {
		ids = append(ids, role.ID)
	}
	c.JSON(http.StatusCreated, gin.H{"script_id": script.ID, "role_ids": ids})
}

// handleTally reports voting progress. Counts stay hidden until the room has
// ended so late voters are not swayed.
func (s *Server) handleTally(c *gin.Context) {
	var uri roomURI
	if !bindURI(c, &uri) {
		return
	}
	ctx := c.Request.Context()
	room, err := s.backend.GetRoom(ctx, uri.RoomID)
	if err != nil {
		writeError(c, err)
		return
	}
	votes, err := s.backend.ListVotes(ctx, uri.RoomID)
	if err != nil {
		writeError(c, err)
		return
	}
	players, err := s.backend.ListPlayers(ctx, uri.RoomID)
	if err != nil {
		writeError(c, err)
		return
	}
	resp := tallyResponse{
		RoomID:    room.ID,
		Phase:     room.Phase,
		VotesCast: len(votes),
		Complete:  game.VotingComplete(votes, players),
	}
	if room.Phase == game.PhaseEnded {
		tally := game.TallyVotes(votes)
		resp.Tally = &tally
		resp.Culprit, _ = tally.Plurality()
	}
	c.JSON(http.StatusOK, resp)
}
