package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
)

const (
	metadataTable = "gateway_metadata"
	versionKey    = "database-version"
)

// runMigrations brings the schema up to date inside one transaction and
// returns the number of scripts applied. Any failure rolls the whole
// transaction back; migration is all-or-nothing.
//
// The stored version is read but not advanced after applying scripts, so a
// restart replays every script past the seeded value; the shipped scripts
// are idempotent to tolerate that.
// TODO: write the advanced version back to gateway_metadata once the
// replay semantics are confirmed with deployed gateways.
func runMigrations(ctx context.Context, db *sql.DB, dir string) (int, error) {
	scripts, err := listScripts(dir)
	if err != nil {
		return 0, fmt.Errorf("migrate: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("migrate: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	version, err := schemaVersion(ctx, tx)
	if err != nil {
		return 0, fmt.Errorf("migrate: read version: %w", err)
	}

	pending := pendingScripts(version, scripts)
	for _, name := range pending {
		batch, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return 0, fmt.Errorf("migrate: read %s: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx, string(batch)); err != nil {
			return 0, fmt.Errorf("migrate: apply %s: %w", name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("migrate: commit: %w", err)
	}
	return len(pending), nil
}

// listScripts returns the .sql files in dir ordered by their numeric prefix,
// so 2_x.sql sorts before 10_y.sql. Files without a numeric prefix are
// rejected: ordering would be undefined.
func listScripts(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	type script struct {
		order int
		name  string
	}
	var scripts []script
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".sql" {
			continue
		}
		order, ok := numericPrefix(e.Name())
		if !ok {
			return nil, fmt.Errorf("script %q has no numeric prefix", e.Name())
		}
		scripts = append(scripts, script{order: order, name: e.Name()})
	}

	sort.Slice(scripts, func(i, j int) bool {
		if scripts[i].order != scripts[j].order {
			return scripts[i].order < scripts[j].order
		}
		return scripts[i].name < scripts[j].name
	})

	names := make([]string, len(scripts))
	for i, s := range scripts {
		names[i] = s.name
	}
	return names, nil
}

func numericPrefix(name string) (int, bool) {
	end := 0
	for end < len(name) && name[end] >= '0' && name[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0, false
	}
	n, err := strconv.Atoi(name[:end])
	if err != nil {
		return 0, false
	}
	return n, true
}

// pendingScripts selects the scripts past the stored version. A store already
// at the latest version gets nothing to apply.
func pendingScripts(version int, scripts []string) []string {
	if version >= len(scripts) {
		return nil
	}
	return scripts[version:]
}

// schemaVersion reads the stored database version. A store without the
// metadata table is at version 0.
func schemaVersion(ctx context.Context, tx *sql.Tx) (int, error) {
	var exists bool
	err := tx.QueryRowContext(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM information_schema.tables
			WHERE table_schema = current_schema() AND table_name = $1
		)`, metadataTable).Scan(&exists)
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, nil
	}

	var raw string
	err = tx.QueryRowContext(ctx,
		"SELECT value FROM "+metadataTable+" WHERE key = $1", versionKey).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(raw)
}
