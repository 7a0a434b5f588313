package config

import (
	"strings"
	"testing"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("WB_API_KEY", "key")
	t.Setenv("PG_CONNINFO", "host=localhost dbname=postgres")
	for _, k := range []string{"PERIOD_START", "PERIOD_END", "NM_IDS", "TOP_ORDER_BY", "BATCH_SIZE"} {
		t.Setenv(k, "")
	}
}

func TestFromEnvRequiresAPIKey(t *testing.T) {
	t.Setenv("WB_API_KEY", "")
	t.Setenv("PG_CONNINFO", "host=localhost")
	if _, err := FromEnv(); err == nil {
		t.Fatal("expected error without WB_API_KEY")
	}
}

func TestFromEnvRequiresConnectionInfo(t *testing.T) {
	t.Setenv("WB_API_KEY", "key")
	t.Setenv("PG_CONNINFO", "")
	t.Setenv("SUPABASE_HOST", "")
	t.Setenv("SUPABASE_PASSWORD", "")
	if _, err := FromEnv(); err == nil {
		t.Fatal("expected error without connection info")
	}
}

func TestConninfoAssembledFromParts(t *testing.T) {
	t.Setenv("WB_API_KEY", "key")
	t.Setenv("PG_CONNINFO", "")
	t.Setenv("SUPABASE_HOST", "db.example.net")
	t.Setenv("SUPABASE_PASSWORD", "secret")
	t.Setenv("SUPABASE_OPTIONS", "project=abc123")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	for _, want := range []string{
		"host=db.example.net", "port=6543", "user=postgres",
		"dbname=postgres", "sslmode=require", "password=secret", "options=project=abc123",
	} {
		if !strings.Contains(cfg.Conninfo, want) {
			t.Fatalf("conninfo missing %q: %s", want, cfg.Conninfo)
		}
	}
}

func TestExplicitPeriod(t *testing.T) {
	setRequired(t)
	t.Setenv("PERIOD_START", "2024-03-01")
	t.Setenv("PERIOD_END", "2024-03-07")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.Period.StartStr() != "2024-03-01" || cfg.Period.EndStr() != "2024-03-07" {
		t.Fatalf("period: %s..%s", cfg.Period.StartStr(), cfg.Period.EndStr())
	}
}

func TestPeriodEndBeforeStartRejected(t *testing.T) {
	setRequired(t)
	t.Setenv("PERIOD_START", "2024-03-07")
	t.Setenv("PERIOD_END", "2024-03-01")
	if _, err := FromEnv(); err == nil {
		t.Fatal("expected inverted period to be rejected")
	}
}

func TestPeriodHalfSetRejected(t *testing.T) {
	setRequired(t)
	t.Setenv("PERIOD_START", "2024-03-01")
	t.Setenv("PERIOD_END", "")
	if _, err := FromEnv(); err == nil {
		t.Fatal("expected half-set period to be rejected")
	}
}

func TestDefaultPeriodIsSingleDay(t *testing.T) {
	setRequired(t)
	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if !cfg.Period.Start.Equal(cfg.Period.End) {
		t.Fatalf("default period must be one day: %s..%s", cfg.Period.StartStr(), cfg.Period.EndStr())
	}
	if cfg.Period.Start.IsZero() {
		t.Fatal("default period unset")
	}
}

func TestNmIDsOverrideParsed(t *testing.T) {
	setRequired(t)
	t.Setenv("NM_IDS", " 300, 100,200, 100 ,")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	want := []int64{100, 200, 300}
	if len(cfg.NmIDs) != len(want) {
		t.Fatalf("nm ids: %v", cfg.NmIDs)
	}
	for i := range want {
		if cfg.NmIDs[i] != want[i] {
			t.Fatalf("nm ids not deduplicated/sorted: %v", cfg.NmIDs)
		}
	}
}

func TestNmIDsRejectsGarbage(t *testing.T) {
	setRequired(t)
	t.Setenv("NM_IDS", "100,abc")
	if _, err := FromEnv(); err == nil {
		t.Fatal("expected bad NM_IDS to be rejected")
	}
}

func TestVariantsList(t *testing.T) {
	setRequired(t)
	t.Setenv("TOP_ORDER_BY", "orders, addToCart")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if len(cfg.Variants) != 2 || cfg.Variants[0] != "orders" || cfg.Variants[1] != "addToCart" {
		t.Fatalf("variants: %v", cfg.Variants)
	}
}

func TestBatchSizeMustBePositive(t *testing.T) {
	setRequired(t)
	t.Setenv("BATCH_SIZE", "-5")
	if _, err := FromEnv(); err == nil {
		t.Fatal("expected negative BATCH_SIZE to be rejected")
	}
}
