package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const minimalConfig = `
port: "8080"
databaseURL: "postgres://circulation:pw@localhost:5432/circulation"
jwtSecret: "test-secret"
`

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.PerDayFineRate != 5000 {
		t.Fatalf("perDayFineRate = %d, want 5000", cfg.PerDayFineRate)
	}
	if cfg.MaxOutstandingFine != 50000 {
		t.Fatalf("maxOutstandingFine = %d, want 50000", cfg.MaxOutstandingFine)
	}
	if cfg.LostBookFine != 200000 {
		t.Fatalf("lostBookFine = %d, want 200000", cfg.LostBookFine)
	}
	if cfg.ReservationHoldDays != 7 || cfg.PickupDays != 3 {
		t.Fatalf("windows = %d/%d, want 7/3", cfg.ReservationHoldDays, cfg.PickupDays)
	}
	if cfg.SweepInterval != "5m" {
		t.Fatalf("sweepInterval = %s, want 5m", cfg.SweepInterval)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("CIRCULATION_PORT", "9999")
	t.Setenv("DATABASE_URL", "postgres://env@localhost/env")
	t.Setenv("CIRCULATION_PER_DAY_FINE_RATE", "750")
	t.Setenv("CIRCULATION_RESERVATION_HOLD_DAYS", "14")

	cfg, err := Load(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "9999" {
		t.Fatalf("port = %s, want 9999", cfg.Port)
	}
	if cfg.DatabaseURL != "postgres://env@localhost/env" {
		t.Fatalf("databaseURL = %s, want env value", cfg.DatabaseURL)
	}
	if cfg.PerDayFineRate != 750 {
		t.Fatalf("perDayFineRate = %d, want 750", cfg.PerDayFineRate)
	}
	if cfg.ReservationHoldDays != 14 {
		t.Fatalf("reservationHoldDays = %d, want 14", cfg.ReservationHoldDays)
	}
}

func TestLoadValidation(t *testing.T) {
	cases := []struct {
		name    string
		content string
		wantErr string
	}{
		{"missing port", `
databaseURL: "postgres://x"
jwtSecret: "s"
`, "port is required"},
		{"missing database", `
port: "8080"
jwtSecret: "s"
`, "databaseURL is required"},
		{"missing jwt secret", `
port: "8080"
databaseURL: "postgres://x"
`, "jwtSecret is required"},
		{"negative fine", minimalConfig + `
perDayFineRate: -1
`, "fine amounts"},
		{"bad sweep interval", minimalConfig + `
sweepInterval: "sometimes"
`, "sweepInterval"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.content))
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("load error = %v, want %q", err, tc.wantErr)
			}
		})
	}
}

func TestParseJWTLeeway(t *testing.T) {
	if got, err := ParseJWTLeeway(""); err != nil || got != 0 {
		t.Fatalf("empty leeway = %v, %v, want 0, nil", got, err)
	}
	if got, err := ParseJWTLeeway("45s"); err != nil || got != 45*time.Second {
		t.Fatalf("leeway = %v, %v, want 45s", got, err)
	}
	if _, err := ParseJWTLeeway("soon"); err == nil {
		t.Fatal("invalid leeway accepted")
	}
}
