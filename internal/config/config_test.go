package config

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestLoadConfigDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "STORAGE_DRIVER", "CACHE_DRIVER", "UNREAD_CACHE_TTL", "STORE_TIMEOUT", "REDIS_DB"} {
		t.Setenv(key, "")
	}

	cfg := LoadConfig()
	if cfg.Port != "" {
		t.Errorf("Port = %q, an explicitly empty variable should win", cfg.Port)
	}
	if cfg.UnreadCacheTTL != time.Minute {
		t.Errorf("UnreadCacheTTL = %v, want 1m", cfg.UnreadCacheTTL)
	}
	if cfg.StoreTimeout != 5*time.Second {
		t.Errorf("StoreTimeout = %v, want 5s", cfg.StoreTimeout)
	}
	if cfg.RedisDB != 0 {
		t.Errorf("RedisDB = %d, want 0", cfg.RedisDB)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", "mysql")
	t.Setenv("CACHE_TIMEOUT", "75ms")
	t.Setenv("CONVERSATIONS_CACHE_TTL", "-3s")
	t.Setenv("REDIS_DB", "4")

	cfg := LoadConfig()
	if cfg.StorageDriver != "mysql" {
		t.Errorf("StorageDriver = %q", cfg.StorageDriver)
	}
	if cfg.CacheTimeout != 75*time.Millisecond {
		t.Errorf("CacheTimeout = %v", cfg.CacheTimeout)
	}
	if cfg.ConversationsCacheTTL != 5*time.Minute {
		t.Errorf("negative TTL should fall back, got %v", cfg.ConversationsCacheTTL)
	}
	if cfg.RedisDB != 4 {
		t.Errorf("RedisDB = %d", cfg.RedisDB)
	}
}

func TestSetupLoggerLevel(t *testing.T) {
	logger := SetupLogger(&Config{LogLevel: "warn"})
	if got := logger.GetLevel(); got != zerolog.WarnLevel {
		t.Errorf("level = %v, want warn", got)
	}

	logger = SetupLogger(&Config{LogLevel: "nonsense"})
	if got := logger.GetLevel(); got != zerolog.InfoLevel {
		t.Errorf("level = %v, want info fallback", got)
	}
}
