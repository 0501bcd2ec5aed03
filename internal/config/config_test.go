package config_test

import (
	"errors"
	"flag"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/adrg/xdg"

	"github.com/NamanBalaji/webdl/internal/config"
)

func resetFlags() {
	flag.CommandLine = flag.NewFlagSet(os.Args[0], flag.ContinueOnError)
}

func mockXDG(t *testing.T) string {
	t.Helper()
	tmpDir := t.TempDir()

	oldConfigHome := xdg.ConfigHome

	xdg.ConfigHome = tmpDir

	t.Cleanup(func() {
		xdg.ConfigHome = oldConfigHome
	})

	return tmpDir
}

func setArgs(t *testing.T, args ...string) {
	t.Helper()
	oldArgs := os.Args
	os.Args = append([]string{"cmd"}, args...)
	t.Cleanup(func() { os.Args = oldArgs })
}

func writeConfig(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, "webdl"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()

	if cfg.MaxConcurrentDownloads != 3 {
		t.Errorf("expected MaxConcurrentDownloads 3, got %d", cfg.MaxConcurrentDownloads)
	}
	if cfg.HTTP.MaxRetries != 3 {
		t.Errorf("expected HTTP MaxRetries 3, got %d", cfg.HTTP.MaxRetries)
	}
	if cfg.HTTP.RetryDelay != 2*time.Second {
		t.Errorf("expected HTTP RetryDelay 2s, got %v", cfg.HTTP.RetryDelay)
	}
	if cfg.HTTP.MaxRedirects != 10 {
		t.Errorf("expected MaxRedirects 10, got %d", cfg.HTTP.MaxRedirects)
	}
	if cfg.Storage.DestinationDir != "webdl" {
		t.Errorf("expected destination dir webdl, got %q", cfg.Storage.DestinationDir)
	}
	if want := "file://" + filepath.ToSlash(xdg.UserDirs.Download); cfg.Storage.BucketURL != want {
		t.Errorf("expected bucket %q, got %q", want, cfg.Storage.BucketURL)
	}
	if filepath.Base(cfg.DBPath) != "webdl.db" {
		t.Errorf("expected webdl.db, got %q", cfg.DBPath)
	}
	if cfg.Policy.RestrictNotifications || cfg.Policy.LegacyLocalPath || cfg.Policy.Disabled {
		t.Error("expected policy switches off by default")
	}
}

func TestGetConfig_Integration(t *testing.T) {
	t.Run("No Config File Returns Defaults", func(t *testing.T) {
		mockXDG(t)
		resetFlags()
		setArgs(t)

		cfg, err := config.GetConfig()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if cfg.MaxConcurrentDownloads != 3 {
			t.Errorf("expected defaults when file missing, got %d", cfg.MaxConcurrentDownloads)
		}
		if len(cfg.Urls) != 0 {
			t.Errorf("expected no urls, got %v", cfg.Urls)
		}
	})

	t.Run("Empty Config File Returns Defaults", func(t *testing.T) {
		tmpDir := mockXDG(t)
		resetFlags()
		setArgs(t)
		writeConfig(t, tmpDir, "")

		cfg, err := config.GetConfig()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.MaxConcurrentDownloads != 3 {
			t.Errorf("expected defaults when file empty")
		}
	})

	t.Run("Valid Config File Overrides Defaults", func(t *testing.T) {
		tmpDir := mockXDG(t)
		resetFlags()
		setArgs(t)

		writeConfig(t, tmpDir, `
maxConcurrentDownloads: 10
storage:
  bucket: mem://
http:
  maxRetries: 5
  userAgent: Browser/9
policy:
  legacyLocalPath: true
`)

		cfg, err := config.GetConfig()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if cfg.MaxConcurrentDownloads != 10 {
			t.Errorf("expected MaxConcurrentDownloads 10, got %d", cfg.MaxConcurrentDownloads)
		}
		if cfg.Storage.BucketURL != "mem://" {
			t.Errorf("expected mem bucket, got %q", cfg.Storage.BucketURL)
		}
		if cfg.Storage.DestinationDir != "webdl" {
			t.Errorf("expected destination dir to remain default, got %q", cfg.Storage.DestinationDir)
		}
		if cfg.HTTP.MaxRetries != 5 || cfg.HTTP.UserAgent != "Browser/9" {
			t.Errorf("unexpected http config %+v", cfg.HTTP)
		}
		if cfg.HTTP.MaxRedirects != 10 {
			t.Errorf("expected MaxRedirects to remain default 10, got %d", cfg.HTTP.MaxRedirects)
		}
		if !cfg.Policy.LegacyLocalPath {
			t.Error("expected LegacyLocalPath to be true")
		}
	})

	t.Run("Invalid YAML Content", func(t *testing.T) {
		tmpDir := mockXDG(t)
		resetFlags()
		setArgs(t)

		// Illegal YAML (tab character)
		writeConfig(t, tmpDir, "http:\n\tmaxRetries: 5")

		if _, err := config.GetConfig(); err == nil {
			t.Error("expected YAML unmarshal error, got nil")
		}
	})
}

func TestConfig_AutoCorrection(t *testing.T) {
	tests := []struct {
		name        string
		yamlContent string
	}{
		{
			name:        "MaxConcurrentDownloads 0 becomes Default",
			yamlContent: "maxConcurrentDownloads: 0",
		},
		{
			name:        "Bucket Empty becomes Default",
			yamlContent: "storage:\n  bucket: \"\"",
		},
		{
			name:        "MaxRedirects 0 becomes Default",
			yamlContent: "http:\n  maxRedirects: 0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpDir := mockXDG(t)
			resetFlags()
			setArgs(t)
			writeConfig(t, tmpDir, tt.yamlContent)

			cfg, err := config.GetConfig()
			if err != nil {
				t.Fatalf("expected success (auto-corrected to default), got error: %v", err)
			}
			if cfg.MaxConcurrentDownloads == 0 || cfg.Storage.BucketURL == "" || cfg.HTTP.MaxRedirects == 0 {
				t.Errorf("expected zero values corrected, got %+v", cfg)
			}
		})
	}
}

func TestConfig_Validation_Errors(t *testing.T) {
	tests := []struct {
		name        string
		flags       []string
		yamlContent string
	}{
		{
			name:  "Flag Force MaxConcurrentDownloads 0",
			flags: []string{"-mcd", "0"},
		},
		{
			name:        "YAML Negative MaxRetries (Passed through by zeroOr)",
			yamlContent: "http:\n  maxRetries: -1",
		},
		{
			name:  "Flag Force Bucket Empty",
			flags: []string{"-bucket", ""},
		},
		{
			name:  "Flag Bucket Without Scheme",
			flags: []string{"-bucket", "downloads"},
		},
		{
			name:  "Flag Force DB Path Empty",
			flags: []string{"-db", ""},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpDir := mockXDG(t)
			resetFlags()
			setArgs(t, tt.flags...)

			if tt.yamlContent != "" {
				writeConfig(t, tmpDir, tt.yamlContent)
			}

			_, err := config.GetConfig()
			if !errors.Is(err, config.ErrInvalidConfig) {
				t.Errorf("expected error %v, got %v", config.ErrInvalidConfig, err)
			}
		})
	}
}

func TestGetConfig_EnvOverridesFile(t *testing.T) {
	tmpDir := mockXDG(t)
	resetFlags()
	setArgs(t)
	writeConfig(t, tmpDir, "maxConcurrentDownloads: 5\nstorage:\n  dir: fromfile")

	t.Setenv("WEBDL_MAX_CONCURRENT", "7")
	t.Setenv("WEBDL_DOWNLOAD_DIR", "fromenv")
	t.Setenv("WEBDL_RESTRICT_NOTIFICATIONS", "true")

	cfg, err := config.GetConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.MaxConcurrentDownloads != 7 {
		t.Errorf("expected env value 7, got %d", cfg.MaxConcurrentDownloads)
	}
	if cfg.Storage.DestinationDir != "fromenv" {
		t.Errorf("expected env dir, got %q", cfg.Storage.DestinationDir)
	}
	if !cfg.Policy.RestrictNotifications {
		t.Error("expected RestrictNotifications from env")
	}
}

func TestGetConfig_InvalidEnv(t *testing.T) {
	mockXDG(t)
	resetFlags()
	setArgs(t)
	t.Setenv("WEBDL_MAX_RETRIES", "many")

	_, err := config.GetConfig()
	if !errors.Is(err, config.ErrInvalidConfig) {
		t.Errorf("expected %v, got %v", config.ErrInvalidConfig, err)
	}
}

func TestGetConfig_DotEnvFile(t *testing.T) {
	mockXDG(t)
	resetFlags()
	setArgs(t)

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("WEBDL_USER_AGENT=DotEnv/1.0\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })
	t.Cleanup(func() { os.Unsetenv("WEBDL_USER_AGENT") })

	cfg, err := config.GetConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTP.UserAgent != "DotEnv/1.0" {
		t.Errorf("expected user agent from .env, got %q", cfg.HTTP.UserAgent)
	}
}

func TestGetConfig_Flags_OverrideFile(t *testing.T) {
	tmpDir := mockXDG(t)
	resetFlags()
	writeConfig(t, tmpDir, "maxConcurrentDownloads: 5\nhttp:\n  maxRetries: 5")
	t.Setenv("WEBDL_MAX_CONCURRENT", "6")

	setArgs(t,
		"-mcd", "50",
		"-mr", "1",
		"-urls", "http://example.com/a http://example.com/b",
		"http://example.com/c",
	)

	cfg, err := config.GetConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Flags beat both the env and the config file.
	if cfg.MaxConcurrentDownloads != 50 {
		t.Errorf("flag value should overwrite config file. Expected 50, got %d", cfg.MaxConcurrentDownloads)
	}
	if cfg.HTTP.MaxRetries != 1 {
		t.Errorf("flag value should overwrite config file. Expected 1, got %d", cfg.HTTP.MaxRetries)
	}

	want := []string{"http://example.com/a", "http://example.com/b", "http://example.com/c"}
	if len(cfg.Urls) != len(want) {
		t.Fatalf("expected %v, got %v", want, cfg.Urls)
	}
	for i := range want {
		if cfg.Urls[i] != want[i] {
			t.Errorf("url %d: expected %q, got %q", i, want[i], cfg.Urls[i])
		}
	}
}

func TestGetConfig_PartialFlags(t *testing.T) {
	tmpDir := mockXDG(t)
	resetFlags()
	writeConfig(t, tmpDir, `maxConcurrentDownloads: 15`)
	setArgs(t, "-legacy", "-debug")

	cfg, err := config.GetConfig()
	if err != nil {
		t.Fatal(err)
	}

	if cfg.MaxConcurrentDownloads != 15 {
		t.Errorf("expected config file value 15 to persist, got %d", cfg.MaxConcurrentDownloads)
	}
	if !cfg.Policy.LegacyLocalPath || !cfg.Debug {
		t.Errorf("expected flags applied, got legacy=%v debug=%v", cfg.Policy.LegacyLocalPath, cfg.Debug)
	}
}
