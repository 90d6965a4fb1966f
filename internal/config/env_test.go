package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestGetEnv(t *testing.T) {
	t.Setenv("TF_TEST_STR", "hello")
	if got := GetEnv("TF_TEST_STR", "fallback"); got != "hello" {
		t.Errorf("GetEnv = %q, want hello", got)
	}
	if got := GetEnv("TF_TEST_MISSING", "fallback"); got != "fallback" {
		t.Errorf("GetEnv = %q, want fallback", got)
	}
}

func TestGetIntEnv(t *testing.T) {
	t.Setenv("TF_TEST_INT", "42")
	if got := GetIntEnv("TF_TEST_INT", 1); got != 42 {
		t.Errorf("GetIntEnv = %d, want 42", got)
	}

	t.Setenv("TF_TEST_INT_BAD", "not-a-number")
	if got := GetIntEnv("TF_TEST_INT_BAD", 7); got != 7 {
		t.Errorf("GetIntEnv with invalid value = %d, want 7", got)
	}
}

func TestGetFloatEnv(t *testing.T) {
	t.Setenv("TF_TEST_FLOAT", "0.01")
	if got := GetFloatEnv("TF_TEST_FLOAT", 1); got != 0.01 {
		t.Errorf("GetFloatEnv = %v, want 0.01", got)
	}
}

func TestGetBoolEnv(t *testing.T) {
	t.Setenv("TF_TEST_BOOL", "true")
	if !GetBoolEnv("TF_TEST_BOOL", false) {
		t.Error("GetBoolEnv = false, want true")
	}
	if GetBoolEnv("TF_TEST_BOOL_MISSING", false) {
		t.Error("GetBoolEnv for missing key = true, want default false")
	}
}

func TestGetDurationEnv(t *testing.T) {
	t.Setenv("TF_TEST_DUR", "90s")
	if got := GetDurationEnv("TF_TEST_DUR", time.Second); got != 90*time.Second {
		t.Errorf("GetDurationEnv = %v, want 90s", got)
	}
}

func TestGetSecretFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secret")
	if err := os.WriteFile(path, []byte("s3cret\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	if got := GetSecretFile(path); got != "s3cret" {
		t.Errorf("GetSecretFile = %q, want s3cret", got)
	}
	if got := GetSecretFile(""); got != "" {
		t.Errorf("GetSecretFile(\"\") = %q, want empty", got)
	}
	if got := GetSecretFile(filepath.Join(t.TempDir(), "missing")); got != "" {
		t.Errorf("GetSecretFile for missing file = %q, want empty", got)
	}
}

func TestLoadServiceConfigDefaults(t *testing.T) {
	cfg := LoadServiceConfig()
	if cfg.Port != "8080" {
		t.Errorf("Port = %q, want 8080", cfg.Port)
	}
	if cfg.MaxConcurrentJobs != 2 {
		t.Errorf("MaxConcurrentJobs = %d, want 2", cfg.MaxConcurrentJobs)
	}
	if cfg.SandboxDistro != "Ubuntu" {
		t.Errorf("SandboxDistro = %q, want Ubuntu", cfg.SandboxDistro)
	}
}
