package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"murder-mystery/internal/logging"
)

var versionPattern = regexp.MustCompile(`^(\d+)_.+\.up\.sql$`)

func main() {
	name := flag.String("name", "", "migration name")
	dir := flag.String("dir", filepath.Join("internal", "db", "migrations"), "migrations directory")
	flag.Parse()
	logging.Setup("info", true)

	if *name == "" {
		log.Fatal().Msg("migration name is required")
	}
	if strings.ContainsAny(*name, " ") {
		log.Fatal().Msg("migration name must not contain spaces")
	}

	version, err := nextVersion(*dir)
	if err != nil {
		log.Fatal().Err(err).Str("dir", *dir).Msg("read migrations dir")
	}
	base := fmt.Sprintf("%06d_%s", version, *name)
	upPath := filepath.Join(*dir, base+".up.sql")
	downPath := filepath.Join(*dir, base+".down.sql")

	if err := writeFile(upPath, "-- up migration\n"); err != nil {
		log.Fatal().Err(err).Msg("create up migration")
	}
	if err := writeFile(downPath, "-- down migration\n"); err != nil {
		log.Fatal().Err(err).Msg("create down migration")
	}
	log.Info().Str("up", upPath).Str("down", downPath).Msg("migration created")
}

// nextVersion returns one past the highest sequence number in dir. The
// migrations are embedded, so they must stay in the package directory.
func nextVersion(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}
	highest := 0
	for _, entry := range entries {
		match := versionPattern.FindStringSubmatch(entry.Name())
		if match == nil {
			continue
		}
		version, err := strconv.Atoi(match[1])
		if err != nil {
			continue
		}
		highest = max(highest, version)
	}
	return highest + 1, nil
}

func writeFile(path, content string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("file already exists: %s", path)
	} else if !os.IsNotExist(err) {
		return err
	}
	return os.WriteFile(path, []byte(content), 0o644)
}
