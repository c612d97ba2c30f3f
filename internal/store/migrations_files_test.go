package store

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
)

func TestMigrationsHaveMatchingUpAndDownFiles(t *testing.T) {
	migrationsDir := filepath.Join("..", "..", "db", "migrations")
	entries, err := os.ReadDir(migrationsDir)
	if err != nil {
		t.Fatalf("read migrations dir: %v", err)
	}

	pattern := regexp.MustCompile(`^(\d+)_.*\.(up|down)\.sql$`)
	byVersion := map[string]map[string]bool{}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		match := pattern.FindStringSubmatch(name)
		if match == nil {
			continue
		}
		version := match[1]
		direction := match[2]
		if byVersion[version] == nil {
			byVersion[version] = map[string]bool{}
		}
		if byVersion[version][direction] {
			t.Fatalf("duplicate %s migration file for version %s", direction, version)
		}
		byVersion[version][direction] = true
	}

	if len(byVersion) == 0 {
		t.Fatal("no migrations discovered")
	}

	for version, dirs := range byVersion {
		if !dirs["up"] || !dirs["down"] {
			t.Fatalf("version %s must include both up and down files", version)
		}
	}
}

func TestRoomsMigrationDefinesSnapshotColumns(t *testing.T) {
	up, err := os.ReadFile(filepath.Join("..", "..", "db", "migrations", "0001_rooms.up.sql"))
	if err != nil {
		t.Fatalf("read rooms migration: %v", err)
	}
	sql := strings.ToLower(string(up))
	if !strings.Contains(sql, "create table if not exists rooms") {
		t.Fatal("rooms migration must create the rooms table")
	}
	for _, column := range []string{
		"id text primary key",
		"slug text not null unique",
		"title text not null default ''",
		"state bytea",
	} {
		if !strings.Contains(sql, column) {
			t.Fatalf("rooms migration missing column definition %q", column)
		}
	}

	down, err := os.ReadFile(filepath.Join("..", "..", "db", "migrations", "0001_rooms.down.sql"))
	if err != nil {
		t.Fatalf("read rooms down migration: %v", err)
	}
	if !strings.Contains(strings.ToLower(string(down)), "drop table if exists rooms") {
		t.Fatal("rooms down migration must drop the rooms table")
	}
}
