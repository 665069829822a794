package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"murder-mystery/internal/config"
	"murder-mystery/internal/game"
	"murder-mystery/internal/logging"
	"murder-mystery/internal/roomstore"
)

type scriptFile struct {
	Title      string         `yaml:"title"`
	Background string         `yaml:"background"`
	Answer     string         `yaml:"answer"`
	Roles      []roleFile     `yaml:"roles"`
	Locations  []locationFile `yaml:"locations"`
}

type roleFile struct {
	Name       string `yaml:"name"`
	PublicInfo string `yaml:"public_info"`
	Secret     string `yaml:"secret"`
	Mission    string `yaml:"mission"`
}

type locationFile struct {
	Name    string       `yaml:"name" json:"name"`
	Objects []objectFile `yaml:"objects" json:"objects"`
}

type objectFile struct {
	Name  string   `yaml:"name" json:"name"`
	Clues []string `yaml:"clues" json:"clues"`
}

func main() {
	filePath := flag.String("file", "script.yaml", "path to script yaml")
	roomID := flag.String("room", "", "room to attach the script to")
	flag.Parse()

	if err := config.LoadDotEnv(".env"); err != nil {
		log.Warn().Err(err).Msg("failed to load .env")
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	logging.Setup(cfg.LogLevel, cfg.LogPretty)
	if strings.EqualFold(cfg.NotifyBackend, "memory") {
		log.Fatal().Msg("load-script needs a shared store, NOTIFY_BACKEND=memory would discard the script")
	}

	script, roles, err := readScript(*filePath)
	if err != nil {
		log.Fatal().Err(err).Str("file", *filePath).Msg("failed to read script")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	backend, err := roomstore.Open(ctx, cfg, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("store setup failed")
	}
	defer backend.Close()

	saved, savedRoles, err := backend.SaveScript(ctx, script, roles)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to save script")
	}
	log.Info().Str("script_id", saved.ID).Str("title", saved.Title).Int("roles", len(savedRoles)).Msg("script loaded")

	if *roomID == "" {
		return
	}
	room, err := backend.AttachScript(ctx, *roomID, saved.ID)
	if err != nil {
		log.Fatal().Err(err).Str("room_id", *roomID).Msg("failed to attach script")
	}
	log.Info().Str("room_id", room.ID).Str("script_id", saved.ID).Str("phase", room.Phase.String()).Msg("script attached")
}

func readScript(path string) (game.Script, []game.Role, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return game.Script{}, nil, err
	}
	return parseScript(data)
}

func parseScript(data []byte) (game.Script, []game.Role, error) {
	var file scriptFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return game.Script{}, nil, fmt.Errorf("parse script: %w", err)
	}
	title := strings.TrimSpace(file.Title)
	if title == "" {
		return game.Script{}, nil, errors.New("script title is required")
	}
	if len(file.Roles) == 0 {
		return game.Script{}, nil, errors.New("script needs at least one role")
	}

	seen := make(map[string]bool, len(file.Roles))
	roles := make([]game.Role, 0, len(file.Roles))
	for i, role := range file.Roles {
		name := strings.TrimSpace(role.Name)
		if name == "" {
			return game.Script{}, nil, fmt.Errorf("role %d has no name", i+1)
		}
		if seen[name] {
			return game.Script{}, nil, fmt.Errorf("duplicate role %q", name)
		}
		seen[name] = true
		roles = append(roles, game.Role{
			Name:       name,
			PublicInfo: strings.TrimSpace(role.PublicInfo),
			Secret:     strings.TrimSpace(role.Secret),
			Mission:    strings.TrimSpace(role.Mission),
		})
	}

	locations := file.Locations
	if locations == nil {
		locations = []locationFile{}
	}
	encoded, err := json.Marshal(locations)
	if err != nil {
		return game.Script{}, nil, err
	}
	return game.Script{
		Title:      title,
		Background: strings.TrimSpace(file.Background),
		Answer:     strings.TrimSpace(file.Answer),
		Locations:  encoded,
	}, roles, nil
}
