package ops

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// Env holds secrets and endpoints sourced from the environment. Values
// here are never logged and never written to the audit trail or WAL.
type Env struct {
	VenueKey            string
	VenueSecret         string
	FeedURL             string
	BrainEndpoint       string
	SovereignPSK        string
	SovereignSigningKey string

	PGHost     string
	PGPort     string
	PGUser     string
	PGPassword string
	PGDatabase string
}

// LoadEnv reads an optional .env file and then the process environment.
func LoadEnv() Env {
	// Missing .env is fine; the process environment wins either way.
	_ = godotenv.Load()
	return Env{
		VenueKey:            os.Getenv("REFLEX_VENUE_KEY"),
		VenueSecret:         os.Getenv("REFLEX_VENUE_SECRET"),
		FeedURL:             os.Getenv("REFLEX_FEED_URL"),
		BrainEndpoint:       os.Getenv("REFLEX_BRAIN_ENDPOINT"),
		SovereignPSK:        os.Getenv("REFLEX_SOVEREIGN_PSK"),
		SovereignSigningKey: os.Getenv("REFLEX_SOVEREIGN_SIGNING_KEY"),
		PGHost:              os.Getenv("REFLEX_PG_HOST"),
		PGPort:              os.Getenv("REFLEX_PG_PORT"),
		PGUser:              os.Getenv("REFLEX_PG_USER"),
		PGPassword:          os.Getenv("REFLEX_PG_PASSWORD"),
		PGDatabase:          os.Getenv("REFLEX_PG_DATABASE"),
	}
}

// Check verifies that the environment carries everything the selected
// mode needs. Live trading refuses to start without venue credentials
// and a sovereign key.
func (e Env) Check(mode Mode) error {
	if e.SovereignPSK == "" {
		return fmt.Errorf("REFLEX_SOVEREIGN_PSK is not set")
	}
	if mode != ModeLive {
		return nil
	}
	if e.VenueKey == "" || e.VenueSecret == "" {
		return fmt.Errorf("live mode requires REFLEX_VENUE_KEY and REFLEX_VENUE_SECRET")
	}
	if e.FeedURL == "" {
		return fmt.Errorf("live mode requires REFLEX_FEED_URL")
	}
	return nil
}

// ArchiveEnabled reports whether the cold-store archive is configured.
func (e Env) ArchiveEnabled() bool {
	return e.PGHost != "" && e.PGDatabase != ""
}
