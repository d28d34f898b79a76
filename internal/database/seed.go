package database

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// RunSeeds applies database/seeds/*.sql in file name order. Seeds must be idempotent.
func RunSeeds(db *gorm.DB, log *zap.Logger) error {
	dir, ok := assetDir("seeds")
	if !ok {
		return fmt.Errorf("seeds directory %s not found", dir)
	}
	// Glob returns matches sorted.
	files, err := filepath.Glob(filepath.Join(dir, "*.sql"))
	if err != nil {
		return err
	}
	log = log.Named("seed")
	for _, path := range files {
		name := filepath.Base(path)
		script, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read seed %s: %w", name, err)
		}
		for _, stmt := range statements(string(script)) {
			if err := db.Exec(stmt).Error; err != nil {
				return fmt.Errorf("apply seed %s: %w", name, err)
			}
		}
		log.Info("seed applied", zap.String("file", name))
	}
	return nil
}

// statements splits a seed script on ";". Seed files must not put ";" inside literals.
func statements(script string) []string {
	var out []string
	for _, part := range strings.Split(script, ";") {
		if hasSQL(part) {
			out = append(out, strings.TrimSpace(part))
		}
	}
	return out
}

func hasSQL(part string) bool {
	for _, line := range strings.Split(part, "\n") {
		line = strings.TrimSpace(line)
		if line != "" && !strings.HasPrefix(line, "--") {
			return true
		}
	}
	return false
}
