package roomstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"murder-mystery/internal/db"
	"murder-mystery/internal/game"
)

// Postgres is the shared relational store. Invariants that must hold across
// clients are enforced by conditional updates and unique indexes, never by
// reading first.
type Postgres struct {
	db    *gorm.DB
	clock clockwork.Clock
}

func NewPostgres(conn *gorm.DB, clock clockwork.Clock) *Postgres {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Postgres{db: conn, clock: clock}
}

func (p *Postgres) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (p *Postgres) GetRoom(ctx context.Context, roomID string) (game.Room, error) {
	return p.getRoom(p.db.WithContext(ctx), roomID)
}

func (p *Postgres) getRoom(tx *gorm.DB, roomID string) (game.Room, error) {
	var row db.Room
	if err := tx.Preload("Timers").First(&row, "id = ?", roomID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return game.Room{}, game.ErrRoomNotFound
		}
		return game.Room{}, storeErr("get room", err)
	}
	return toRoom(row)
}

func (p *Postgres) ListPlayers(ctx context.Context, roomID string) ([]game.Player, error) {
	return p.listPlayers(p.db.WithContext(ctx), roomID)
}

func (p *Postgres) listPlayers(tx *gorm.DB, roomID string) ([]game.Player, error) {
	var rows []db.Player
	if err := tx.Where("room_id = ?", roomID).Order("joined_at, id").Find(&rows).Error; err != nil {
		return nil, storeErr("list players", err)
	}
	players := make([]game.Player, 0, len(rows))
	for _, row := range rows {
		players = append(players, toPlayer(row))
	}
	return players, nil
}

func (p *Postgres) ListRoles(ctx context.Context, scriptID string) ([]game.Role, error) {
	var rows []db.Role
	if err := p.db.WithContext(ctx).Where("script_id = ?", scriptID).Order("position, id").Find(&rows).Error; err != nil {
		return nil, storeErr("list roles", err)
	}
	roles := make([]game.Role, 0, len(rows))
	for _, row := range rows {
		roles = append(roles, toRole(row))
	}
	return roles, nil
}

func (p *Postgres) GetScript(ctx context.Context, scriptID string) (game.Script, error) {
	var row db.Script
	if err := p.db.WithContext(ctx).First(&row, "id = ?", scriptID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return game.Script{}, game.ErrScriptNotFound
		}
		return game.Script{}, storeErr("get script", err)
	}
	return game.Script{
		ID:         row.ID,
		Title:      row.Title,
		Background: row.Background,
		Answer:     row.Answer,
		Locations:  []byte(row.Locations),
	}, nil
}

func (p *Postgres) FindRoleHolder(ctx context.Context, roomID, roleID string) (game.Player, bool, error) {
	var row db.Player
	err := p.db.WithContext(ctx).Where("room_id = ? AND role_id = ?", roomID, roleID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return game.Player{}, false, nil
	}
	if err != nil {
		return game.Player{}, false, storeErr("find role holder", err)
	}
	return toPlayer(row), true, nil
}

func (p *Postgres) CompareAndSetPhase(ctx context.Context, roomID string, from, to game.Phase) (game.Room, error) {
	res := p.db.WithContext(ctx).
		Model(&db.Room{}).
		Where("id = ? AND phase = ?", roomID, from.String()).
		Updates(map[string]any{"phase": to.String(), "updated_at": p.clock.Now()})
	if res.Error != nil {
		return game.Room{}, storeErr("set phase", res.Error)
	}
	room, err := p.GetRoom(ctx, roomID)
	if err != nil {
		return game.Room{}, err
	}
	if res.RowsAffected == 0 {
		return room, game.ErrTransitionConflict
	}
	return room, nil
}

func (p *Postgres) StartTimer(ctx context.Context, roomID, slot string, at time.Time) (game.TimerStart, bool, error) {
	row := db.RoomTimer{RoomID: roomID, Slot: slot, StartedAt: at}
	res := p.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if res.Error != nil {
		if isForeignKeyViolation(res.Error) {
			return game.TimerStart{}, false, game.ErrRoomNotFound
		}
		return game.TimerStart{}, false, storeErr("start timer", res.Error)
	}
	var stored db.RoomTimer
	if err := p.db.WithContext(ctx).First(&stored, "room_id = ? AND slot = ?", roomID, slot).Error; err != nil {
		return game.TimerStart{}, false, storeErr("read timer", err)
	}
	return game.TimerStart{Slot: stored.Slot, StartedAt: stored.StartedAt}, res.RowsAffected == 1, nil
}

func (p *Postgres) AssignRole(ctx context.Context, roomID, playerID, roleID, displayName string) (game.Player, error) {
	updates := map[string]any{"role_id": roleID}
	if displayName != "" {
		updates["display_name"] = displayName
	}
	res := p.db.WithContext(ctx).
		Model(&db.Player{}).
		Where("id = ? AND room_id = ? AND role_id IS NULL", playerID, roomID).
		Updates(updates)
	if res.Error != nil {
		if isUniqueViolation(res.Error) {
			return game.Player{}, game.ErrRoleAlreadyTaken
		}
		if isForeignKeyViolation(res.Error) {
			return game.Player{}, game.ErrRoleNotFound
		}
		return game.Player{}, storeErr("assign role", res.Error)
	}

	var row db.Player
	if err := p.db.WithContext(ctx).First(&row, "id = ? AND room_id = ?", playerID, roomID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return game.Player{}, game.ErrPlayerNotFound
		}
		return game.Player{}, storeErr("read player", err)
	}
	if res.RowsAffected == 0 {
		return toPlayer(row), game.ErrRoleAlreadyChosen
	}
	return toPlayer(row), nil
}

func (p *Postgres) InsertVote(ctx context.Context, vote game.Vote) (game.Vote, error) {
	if vote.CastAt.IsZero() {
		vote.CastAt = p.clock.Now()
	}
	row := db.Vote{
		ID:       uuid.NewString(),
		RoomID:   vote.RoomID,
		VoterID:  vote.VoterID,
		TargetID: optional(vote.TargetID),
		CastAt:   vote.CastAt,
	}
	if err := p.db.WithContext(ctx).Create(&row).Error; err != nil {
		if isUniqueViolation(err) {
			return game.Vote{}, game.ErrDuplicateVote
		}
		if isForeignKeyViolation(err) {
			return game.Vote{}, game.ErrRoomNotFound
		}
		return game.Vote{}, storeErr("insert vote", err)
	}
	return toVote(row), nil
}

func (p *Postgres) ListVotes(ctx context.Context, roomID string) ([]game.Vote, error) {
	var rows []db.Vote
	if err := p.db.WithContext(ctx).Where("room_id = ?", roomID).Order("cast_at, id").Find(&rows).Error; err != nil {
		return nil, storeErr("list votes", err)
	}
	votes := make([]game.Vote, 0, len(rows))
	for _, row := range rows {
		votes = append(votes, toVote(row))
	}
	return votes, nil
}

func (p *Postgres) PostSystemMessage(ctx context.Context, roomID, text string) error {
	return p.postMessage(p.db.WithContext(ctx), roomID, text)
}

func (p *Postgres) postMessage(tx *gorm.DB, roomID, text string) error {
	row := db.Message{
		RoomID:    roomID,
		Kind:      "system",
		Body:      text,
		Meta:      datatypes.JSON(`{}`),
		CreatedAt: p.clock.Now(),
	}
	if err := tx.Create(&row).Error; err != nil {
		return storeErr("post message", err)
	}
	return nil
}

// Messages returns the chat log of a room in posting order.
func (p *Postgres) Messages(ctx context.Context, roomID string) ([]Message, error) {
	var rows []db.Message
	if err := p.db.WithContext(ctx).Where("room_id = ?", roomID).Order("id").Find(&rows).Error; err != nil {
		return nil, storeErr("list messages", err)
	}
	messages := make([]Message, 0, len(rows))
	for _, row := range rows {
		messages = append(messages, Message{
			RoomID:   row.RoomID,
			Text:     row.Body,
			System:   row.Kind == "system",
			PostedAt: row.CreatedAt,
		})
	}
	return messages, nil
}

func (p *Postgres) CreateRoom(ctx context.Context) (game.Room, error) {
	now := p.clock.Now()
	row := db.Room{
		ID:        uuid.NewString(),
		Phase:     game.PhaseWaiting.String(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := p.db.WithContext(ctx).Create(&row).Error; err != nil {
		return game.Room{}, storeErr("create room", err)
	}
	return toRoom(row)
}

func (p *Postgres) AddPlayer(ctx context.Context, roomID, displayName string) (game.Player, error) {
	var player game.Player
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var room db.Room
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&room, "id = ?", roomID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return game.ErrRoomNotFound
			}
			return err
		}
		if room.Phase == game.PhaseEnded.String() {
			return game.ErrWrongPhase
		}
		var count int64
		if err := tx.Model(&db.Player{}).Where("room_id = ?", roomID).Count(&count).Error; err != nil {
			return err
		}
		row := db.Player{
			ID:          uuid.NewString(),
			RoomID:      roomID,
			DisplayName: displayName,
			IsHost:      count == 0,
			JoinedAt:    p.clock.Now(),
		}
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		if row.IsHost {
			if err := tx.Model(&db.Room{}).Where("id = ?", roomID).
				Updates(map[string]any{"host_player_id": row.ID, "updated_at": p.clock.Now()}).Error; err != nil {
				return err
			}
		}
		player = toPlayer(row)
		return p.postMessage(tx, roomID, joinMessage(row.DisplayName, row.IsHost))
	})
	if err != nil {
		if errors.Is(err, game.ErrRoomNotFound) || errors.Is(err, game.ErrWrongPhase) {
			return game.Player{}, err
		}
		return game.Player{}, storeErr("add player", err)
	}
	log.Info().Str("room_id", roomID).Str("player_id", player.ID).Bool("is_host", player.IsHost).Msg("player joined")
	return player, nil
}

func (p *Postgres) RemovePlayer(ctx context.Context, roomID, playerID string) (Departure, error) {
	var departure Departure
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var room db.Room
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&room, "id = ?", roomID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return game.ErrRoomNotFound
			}
			return err
		}
		var leaving db.Player
		if err := tx.First(&leaving, "id = ? AND room_id = ?", playerID, roomID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return game.ErrPlayerNotFound
			}
			return err
		}
		if err := tx.Delete(&leaving).Error; err != nil {
			return err
		}
		departure.Player = toPlayer(leaving)

		var remaining []db.Player
		if err := tx.Where("room_id = ?", roomID).Order("joined_at, id").Find(&remaining).Error; err != nil {
			return err
		}
		if len(remaining) == 0 {
			departure.RoomClosed = true
			return tx.Delete(&room).Error
		}
		if leaving.IsHost {
			next := remaining[0]
			if err := tx.Model(&db.Player{}).Where("id = ?", next.ID).Update("is_host", true).Error; err != nil {
				return err
			}
			if err := tx.Model(&db.Room{}).Where("id = ?", roomID).
				Updates(map[string]any{"host_player_id": next.ID, "updated_at": p.clock.Now()}).Error; err != nil {
				return err
			}
			next.IsHost = true
			host := toPlayer(next)
			departure.NewHost = &host
		}
		return p.postMessage(tx, roomID, leaveMessage(leaving.DisplayName))
	})
	if err != nil {
		if errors.Is(err, game.ErrRoomNotFound) || errors.Is(err, game.ErrPlayerNotFound) {
			return Departure{}, err
		}
		return Departure{}, storeErr("remove player", err)
	}
	log.Info().
		Str("room_id", roomID).
		Str("player_id", playerID).
		Bool("room_closed", departure.RoomClosed).
		Msg("player left")
	return departure, nil
}

func (p *Postgres) SaveScript(ctx context.Context, script game.Script, roles []game.Role) (game.Script, []game.Role, error) {
	if script.ID == "" {
		script.ID = uuid.NewString()
	}
	locations := datatypes.JSON(script.Locations)
	if len(locations) == 0 {
		locations = datatypes.JSON(`[]`)
	}
	saved := make([]game.Role, 0, len(roles))
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := db.Script{
			ID:         script.ID,
			Title:      script.Title,
			Background: script.Background,
			Answer:     script.Answer,
			Locations:  locations,
			CreatedAt:  p.clock.Now(),
		}
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		for i, role := range roles {
			if role.ID == "" {
				role.ID = uuid.NewString()
			}
			role.ScriptID = script.ID
			roleRow := db.Role{
				ID:         role.ID,
				ScriptID:   script.ID,
				Position:   i,
				Name:       role.Name,
				PublicInfo: role.PublicInfo,
				Secret:     role.Secret,
				Mission:    role.Mission,
			}
			if err := tx.Create(&roleRow).Error; err != nil {
				return err
			}
			saved = append(saved, role)
		}
		return nil
	})
	if err != nil {
		return game.Script{}, nil, storeErr("save script", err)
	}
	return script, saved, nil
}

func (p *Postgres) AttachScript(ctx context.Context, roomID, scriptID string) (game.Room, error) {
	var count int64
	if err := p.db.WithContext(ctx).Model(&db.Script{}).Where("id = ?", scriptID).Count(&count).Error; err != nil {
		return game.Room{}, storeErr("find script", err)
	}
	if count == 0 {
		return game.Room{}, game.ErrScriptNotFound
	}
	res := p.db.WithContext(ctx).Model(&db.Room{}).
		Where("id = ? AND phase IN ?", roomID, []string{game.PhaseWaiting.String(), game.PhaseIntroduction.String()}).
		Updates(map[string]any{"script_id": scriptID, "updated_at": p.clock.Now()})
	if res.Error != nil {
		return game.Room{}, storeErr("attach script", res.Error)
	}
	room, err := p.GetRoom(ctx, roomID)
	if err != nil {
		return game.Room{}, err
	}
	if res.RowsAffected == 0 {
		return game.Room{}, game.ErrWrongPhase
	}
	return room, nil
}

func toRoom(row db.Room) (game.Room, error) {
	phase, err := game.ParsePhase(row.Phase)
	if err != nil {
		return game.Room{}, err
	}
	room := game.Room{
		ID:           row.ID,
		Phase:        phase,
		HostPlayerID: deref(row.HostPlayerID),
		ScriptID:     deref(row.ScriptID),
		Timers:       make(map[string]time.Time, len(row.Timers)),
	}
	for _, timer := range row.Timers {
		room.Timers[timer.Slot] = timer.StartedAt
	}
	return room, nil
}

func toPlayer(row db.Player) game.Player {
	return game.Player{
		ID:          row.ID,
		RoomID:      row.RoomID,
		DisplayName: row.DisplayName,
		IsHost:      row.IsHost,
		RoleID:      deref(row.RoleID),
		JoinedAt:    row.JoinedAt,
	}
}

func toRole(row db.Role) game.Role {
	return game.Role{
		ID:         row.ID,
		ScriptID:   row.ScriptID,
		Name:       row.Name,
		PublicInfo: row.PublicInfo,
		Secret:     row.Secret,
		Mission:    row.Mission,
	}
}

func toVote(row db.Vote) game.Vote {
	return game.Vote{
		RoomID:   row.RoomID,
		VoterID:  row.VoterID,
		TargetID: deref(row.TargetID),
		CastAt:   row.CastAt,
	}
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

func optional(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func storeErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", game.ErrStoreUnavailable, op, err)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	return false
}
