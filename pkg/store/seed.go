package store

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"parley/pkg/logger"
	"parley/pkg/models"
)

// SeedCharacters loads persona records from a YAML file (a list of
// characters) and persists them. Existing records with the same id are
// overwritten; the turn pipeline treats them as read-only afterwards.
func SeedCharacters(path string) (int, error) {
	if db == nil {
		return 0, notOpened()
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	var chars []models.Character
	if err := yaml.Unmarshal(b, &chars); err != nil {
		return 0, fmt.Errorf("%w: character seed %s: %v", ErrSchema, path, err)
	}
	n := 0
	for _, ch := range chars {
		if ch.ID == "" || ch.Name == "" {
			logger.Warn("character_seed_skipped", "id", ch.ID, "name", ch.Name)
			continue
		}
		if err := SaveCharacter(ch); err != nil {
			return n, err
		}
		n++
	}
	logger.Info("characters_seeded", "path", path, "count", n)
	return n, nil
}
