package config

import "testing"

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")
	t.Setenv("MANAGER_PIN", "")

	cfg := Load()
	if cfg.AuthSecret != "" {
		t.Fatalf("expected empty AUTH_SECRET when unset, got %q", cfg.AuthSecret)
	}
	if cfg.ManagerPIN != "" {
		t.Fatalf("expected empty MANAGER_PIN when unset, got %q", cfg.ManagerPIN)
	}
}

func TestLoadFallsBackOnInvalidNumbers(t *testing.T) {
	t.Setenv("LOW_STOCK_THRESHOLD", "-3")
	t.Setenv("STOCK_CACHE_TTL_SECONDS", "abc")
	t.Setenv("ACCESS_TOKEN_TTL_MINUTES", "0")

	cfg := Load()
	if cfg.LowStockThreshold != 10 {
		t.Fatalf("expected default threshold 10, got %d", cfg.LowStockThreshold)
	}
	if cfg.StockCacheTTLSeconds != 15 {
		t.Fatalf("expected default cache ttl 15, got %d", cfg.StockCacheTTLSeconds)
	}
	if cfg.AccessTokenTTLMinutes != 480 {
		t.Fatalf("expected default token ttl 480, got %d", cfg.AccessTokenTTLMinutes)
	}
}

func TestLoadReadsReportingSettings(t *testing.T) {
	t.Setenv("LOW_STOCK_THRESHOLD", "0")
	t.Setenv("REPORT_TIMEZONE", "Asia/Jakarta")
	t.Setenv("APP_ENV", "Development")

	cfg := Load()
	if cfg.LowStockThreshold != 0 {
		t.Fatalf("expected threshold 0 to be honoured, got %d", cfg.LowStockThreshold)
	}
	if cfg.ReportTimezone != "Asia/Jakarta" {
		t.Fatalf("unexpected timezone %q", cfg.ReportTimezone)
	}
	if !cfg.IsDevelopment() {
		t.Fatalf("expected development mode")
	}
}
