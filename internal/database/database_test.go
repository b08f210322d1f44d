package database

import (
	"path/filepath"
	"testing"
)

func newTestDatabase(t *testing.T) *Database {
	t.Helper()
	db, err := New(filepath.Join(t.TempDir(), "relay.db"))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return db
}

func TestSeedProviders(t *testing.T) {
	db := newTestDatabase(t)

	if err := db.SeedProviders("binance", "okx", "chainlink"); err != nil {
		t.Fatalf("SeedProviders failed: %v", err)
	}

	// First seeded provider is enabled on a fresh database.
	name, err := db.ActiveProviderName()
	if err != nil {
		t.Fatalf("ActiveProviderName failed: %v", err)
	}
	if name != "binance" {
		t.Errorf("Expected binance enabled, got %q", name)
	}

	// Re-seeding keeps the existing selection.
	if err := db.SeedProviders("okx", "binance"); err != nil {
		t.Fatalf("SeedProviders failed: %v", err)
	}
	name, _ = db.ActiveProviderName()
	if name != "binance" {
		t.Errorf("Re-seed should not change selection, got %q", name)
	}
}

func TestEnableProviderIsExclusive(t *testing.T) {
	db := newTestDatabase(t)
	db.SeedProviders("binance", "okx")

	if err := db.EnableProvider("okx"); err != nil {
		t.Fatalf("EnableProvider failed: %v", err)
	}

	name, err := db.ActiveProviderName()
	if err != nil {
		t.Fatalf("ActiveProviderName failed: %v", err)
	}
	if name != "okx" {
		t.Errorf("Expected okx, got %q", name)
	}
}

func TestActiveProviderNameEmpty(t *testing.T) {
	db := newTestDatabase(t)

	name, err := db.ActiveProviderName()
	if err != nil {
		t.Fatalf("ActiveProviderName failed: %v", err)
	}
	if name != "" {
		t.Errorf("Expected empty name on fresh database, got %q", name)
	}
}

func TestBanStateRoundTrip(t *testing.T) {
	db := newTestDatabase(t)

	if got := db.LoadBanUntil(); got != 0 {
		t.Errorf("Fresh database should report 0, got %d", got)
	}

	db.SaveBanUntil(1700000060000)
	if got := db.LoadBanUntil(); got != 1700000060000 {
		t.Errorf("Expected 1700000060000, got %d", got)
	}

	// Overwrites, including reset to 0.
	db.SaveBanUntil(0)
	if got := db.LoadBanUntil(); got != 0 {
		t.Errorf("Expected reset to 0, got %d", got)
	}
}

func TestTitleCase(t *testing.T) {
	if titleCase("binance") != "Binance" {
		t.Errorf("Expected Binance, got %s", titleCase("binance"))
	}
	if titleCase("") != "" {
		t.Error("Empty string should stay empty")
	}
}
