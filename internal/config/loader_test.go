package config_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/okian/herald/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfigLoader(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		ctx := context.Background()
		clearConfigEnvVars(t)

		convey.Convey("When loading config with defaults only", func() {
			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load successfully with defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
				convey.So(cfg.DigestTick, convey.ShouldEqual, time.Minute)
			})
		})

		convey.Convey("When loading config with environment variables", func() {
			t.Setenv("HERALD_ADDR", ":8080")
			t.Setenv("HERALD_QUEUE_SIZE", "500")
			t.Setenv("HERALD_WORKER_COUNT", "16")
			t.Setenv("HERALD_CLAIM_TIMEOUT", "90s")
			t.Setenv("HERALD_KAFKA_BROKERS", "localhost:9092")

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should override defaults with env vars", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.EventQueueSize, convey.ShouldEqual, 500)
				convey.So(cfg.WorkerCount, convey.ShouldEqual, 16)
				convey.So(cfg.ClaimTimeout, convey.ShouldEqual, 90*time.Second)
				convey.So(cfg.Brokers(), convey.ShouldResemble, []string{"localhost:9092"})
			})
		})

		convey.Convey("When loading config with a YAML file", func() {
			path := writeTemp(t, "herald.yaml", `
addr: ":9090"
queue_size: 300
digest_window: 48h
directory_file: /etc/herald/directory.yaml
`)
			t.Setenv("HERALD_CONFIG", path)

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load from the file", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9090")
				convey.So(cfg.EventQueueSize, convey.ShouldEqual, 300)
				convey.So(cfg.DigestWindow, convey.ShouldEqual, 48*time.Hour)
				convey.So(cfg.DirectoryFile, convey.ShouldEqual, "/etc/herald/directory.yaml")
			})

			convey.Convey("And env vars take precedence over the file", func() {
				t.Setenv("HERALD_ADDR", ":7070")

				cfg, err := config.Load(ctx)
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":7070")
			})
		})

		convey.Convey("When a .env file is provided", func() {
			path := writeTemp(t, "herald.env", "HERALD_LOG_LEVEL=debug\n")
			t.Setenv("HERALD_ENV_FILE", path)

			cfg, err := config.Load(ctx)

			convey.Convey("Then its values are applied", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.LogLevel, convey.ShouldEqual, "debug")
			})
		})

		convey.Convey("When the config file does not exist", func() {
			t.Setenv("HERALD_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))

			_, err := config.Load(ctx)

			convey.Convey("Then a load error is returned", func() {
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When postgres is selected without a DSN", func() {
			t.Setenv("HERALD_STORE_BACKEND", "postgres")

			_, err := config.Load(ctx)

			convey.Convey("Then validation fails", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
				convey.So(err.Error(), convey.ShouldContainSubstring, "DatabaseURL")
			})
		})

		convey.Convey("When an unknown log format is configured", func() {
			t.Setenv("HERALD_LOG_FORMAT", "xml")

			_, err := config.Load(ctx)

			convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
		})
	})
}

func clearConfigEnvVars(t *testing.T) {
	t.Helper()
	for _, kv := range os.Environ() {
		key, _, _ := strings.Cut(kv, "=")
		if strings.HasPrefix(key, config.EnvPrefix) {
			t.Setenv(key, "")
			_ = os.Unsetenv(key)
		}
	}
}

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}
