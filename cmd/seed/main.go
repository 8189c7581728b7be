// seed inserts a default operator account for local bootstrap.
// Idempotent: skips the insert when the account already exists.
package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log"
	"time"

	"fleetgate/internal/config"
	"fleetgate/internal/store"
)

const (
	seedUsername = "admin"
	seedPassword = "fleetgate-dev"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	db, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer db.Close()

	ctx := context.Background()

	// The wire protocol carries a client-side sha256 hex of the password;
	// the same derivation is used here so the seeded row matches.
	sum := sha256.Sum256([]byte(seedPassword))
	passwordHash := hex.EncodeToString(sum[:])

	var exists bool
	err = db.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM users WHERE username = $1)", seedUsername).Scan(&exists)
	if err != nil {
		log.Fatalf("seed check: %v", err)
	}
	if exists {
		log.Printf("seed already applied (%s exists), skipping", seedUsername)
		return
	}

	_, err = db.ExecContext(ctx,
		`INSERT INTO users (username, password_hash, enabled, created_at)
		 VALUES ($1, $2, $3, $4)`,
		seedUsername, passwordHash, true, time.Now().UTC())
	if err != nil {
		log.Fatalf("seed: %v", err)
	}
	log.Printf("seeded operator %q", seedUsername)
}
