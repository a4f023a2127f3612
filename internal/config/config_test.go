package config

import (
	"os"
	"testing"
	"time"
)

func TestDefaultIsValidOnceRequiredFieldsAreSet(t *testing.T) {
	cfg := Default()
	cfg.DBPath = "/tmp/percolate-test"
	cfg.TenantID = "tenant-1"

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default() plus required fields should validate, got %v", err)
	}
}

func TestValidateRequiresDBPath(t *testing.T) {
	cfg := Default()
	cfg.TenantID = "tenant-1"
	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate should reject an empty DBPath")
	}
}

func TestValidateRequiresTenantID(t *testing.T) {
	cfg := Default()
	cfg.DBPath = "/tmp/percolate-test"
	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate should reject an empty TenantID")
	}
}

func TestValidateRejectsUnknownMode(t *testing.T) {
	cfg := Default()
	cfg.DBPath = "/tmp/percolate-test"
	cfg.TenantID = "tenant-1"
	cfg.Mode = "rogue"
	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate should reject a mode other than primary/follower")
	}
}

func TestValidateRequiresPrimaryAddrInFollowerMode(t *testing.T) {
	cfg := Default()
	cfg.DBPath = "/tmp/percolate-test"
	cfg.TenantID = "tenant-1"
	cfg.Mode = ModeFollower
	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate should require ReplicationPrimaryAddr in follower mode")
	}
	cfg.ReplicationPrimaryAddr = "127.0.0.1:7670"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate should accept follower mode with a primary addr set, got %v", err)
	}
}

func TestFromEnvOverlaysSetVariablesOnly(t *testing.T) {
	for _, key := range []string{
		"P8_DB_PATH", "P8_TENANT_ID", "P8_DEFAULT_EMBEDDING_PROVIDER",
		"P8_REPLICATION_MODE", "P8_REPLICATION_PRIMARY", "P8_WAL_RETENTION_HOURS",
	} {
		os.Unsetenv(key)
	}
	t.Setenv("P8_DB_PATH", "/var/lib/percolate")
	t.Setenv("P8_TENANT_ID", "tenant-env")
	t.Setenv("P8_WAL_RETENTION_HOURS", "12")

	cfg := FromEnv(Default())

	if cfg.DBPath != "/var/lib/percolate" {
		t.Fatalf("DBPath = %q, want overridden by P8_DB_PATH", cfg.DBPath)
	}
	if cfg.TenantID != "tenant-env" {
		t.Fatalf("TenantID = %q, want overridden by P8_TENANT_ID", cfg.TenantID)
	}
	if cfg.WALRetention != 12*time.Hour {
		t.Fatalf("WALRetention = %v, want 12h", cfg.WALRetention)
	}
	// DefaultEmbeddingProvider had no matching env var set, so it should
	// retain Default()'s value.
	if cfg.DefaultEmbeddingProvider != "local-hash" {
		t.Fatalf("DefaultEmbeddingProvider = %q, want unchanged default", cfg.DefaultEmbeddingProvider)
	}
}

func TestFromEnvIgnoresMalformedRetentionHours(t *testing.T) {
	t.Setenv("P8_DB_PATH", "")
	t.Setenv("P8_WAL_RETENTION_HOURS", "not-a-number")

	cfg := FromEnv(Default())
	if cfg.WALRetention != Default().WALRetention {
		t.Fatalf("malformed P8_WAL_RETENTION_HOURS should leave WALRetention unchanged, got %v", cfg.WALRetention)
	}
}
