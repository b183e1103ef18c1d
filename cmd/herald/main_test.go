package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	service "github.com/okian/herald/internal/app"
	"github.com/okian/herald/internal/config"
	"github.com/okian/herald/internal/domain/digest"
	"github.com/okian/herald/pkg/logger"
)

const testDirectory = `
subscribers:
  - id: sub-alice
    github_login: alice
    profiles:
      - id: default
  - id: sub-carol
    github_login: carol
    profiles:
      - id: default
digests:
  - id: digest-alice
    subscriber: sub-alice
    time: "09:00"
    timezone: UTC
`

const testReview = `{
  "id": "d-1",
  "kind": "pull_request_review",
  "action": "submitted",
  "payload": {
    "action": "submitted",
    "review": {"id": 7, "state": "APPROVED", "body": "ship it", "user": {"login": "bob"}, "submitted_at": "2024-05-06T09:00:00Z"},
    "pull_request": {
      "number": 12, "title": "Add retries", "body": "", "state": "open",
      "html_url": "https://github.com/acme/api/pull/12",
      "user": {"login": "alice"},
      "requested_reviewers": [], "requested_teams": [], "assignees": []
    },
    "repository": {"id": 1, "full_name": "acme/api"},
    "sender": {"login": "bob", "type": "User"}
  }
}`

// setupEnv points the config at a temp directory file and isolates the
// process from any local .env or config file.
func setupEnv(t *testing.T) string {
	dir := t.TempDir()
	path := filepath.Join(dir, "directory.yaml")
	if err := os.WriteFile(path, []byte(testDirectory), 0o600); err != nil {
		t.Fatal(err)
	}
	envFile := filepath.Join(dir, ".env")
	if err := os.WriteFile(envFile, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(config.EnvDotFile, envFile)
	t.Setenv(config.EnvConfig, "")
	t.Setenv("HERALD_DIRECTORY_FILE", path)
	t.Setenv("HERALD_KAFKA_BROKERS", "")
	t.Setenv("HERALD_REDIS_ADDR", "")
	t.Setenv("HERALD_OPENAI_API_KEY", "")
	return dir
}

func execute(args ...string) (string, error) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestClassifyCommand(t *testing.T) {
	Convey("Given a directory with two subscribers", t, func() {
		dir := setupEnv(t)
		event := filepath.Join(dir, "event.json")
		So(os.WriteFile(event, []byte(testReview), 0o600), ShouldBeNil)

		Convey("When classifying an approval of alice's pull request", func() {
			out, err := execute("classify", event)
			So(err, ShouldBeNil)

			var got map[string]any
			So(json.Unmarshal([]byte(out), &got), ShouldBeNil)

			Convey("Then every subscriber is evaluated and both user profiles decide", func() {
				So(got["kind"], ShouldEqual, "pull_request_review")
				So(got["dropped"], ShouldBeNil)
				evals, ok := got["evaluations"].([]any)
				So(ok, ShouldBeTrue)
				So(evals, ShouldHaveLength, 2)

				alice := evals[0].(map[string]any)
				So(alice["subscriber_id"], ShouldEqual, "sub-alice")
				So(alice["decision"], ShouldNotBeNil)

				carol := evals[1].(map[string]any)
				So(carol["subscriber_id"], ShouldEqual, "sub-carol")
				So(carol["decision"], ShouldNotBeNil)
			})
		})

		Convey("When the payload is a bare webhook without --kind", func() {
			bare := filepath.Join(dir, "bare.json")
			So(os.WriteFile(bare, []byte(`{"action":"opened"}`), 0o600), ShouldBeNil)
			classifyKind = ""
			_, err := execute("classify", bare)

			Convey("Then the command fails", func() {
				So(err, ShouldNotBeNil)
			})
		})

		Convey("When the event comes from a bot", func() {
			bot := filepath.Join(dir, "bot.json")
			doc := `{"id":"d-2","kind":"pull_request","action":"opened","payload":{"action":"opened",` +
				`"pull_request":{"number":1,"title":"bump","state":"open","user":{"login":"dependabot[bot]"}},` +
				`"repository":{"id":1,"full_name":"acme/api"},"sender":{"login":"dependabot[bot]","type":"Bot"}}}`
			So(os.WriteFile(bot, []byte(doc), 0o600), ShouldBeNil)
			out, err := execute("classify", bot)
			So(err, ShouldBeNil)

			Convey("Then the drop reason is reported", func() {
				var got map[string]any
				So(json.Unmarshal([]byte(out), &got), ShouldBeNil)
				So(got["dropped"], ShouldNotBeEmpty)
				So(got["evaluations"], ShouldBeNil)
			})
		})
	})
}

func TestDigestRunCommand(t *testing.T) {
	Convey("Given a digest due at 09:00 UTC and no tracked items", t, func() {
		setupEnv(t)
		defer func() { digestAt = "" }()

		Convey("When running the scheduler shortly after the slot", func() {
			out, err := execute("digest", "run", "--at", "2024-05-06T09:05:00Z")
			So(err, ShouldBeNil)

			var rep digestReport
			So(json.Unmarshal([]byte(out), &rep), ShouldBeNil)

			Convey("Then the empty digest is suppressed", func() {
				So(rep.Due, ShouldEqual, 1)
				So(rep.Sent, ShouldEqual, 0)
				So(rep.Suppressed, ShouldEqual, 1)
				So(rep.Windows, ShouldBeEmpty)
			})
		})

		Convey("When --at is not a timestamp", func() {
			_, err := execute("digest", "run", "--at", "tomorrow")

			Convey("Then the command fails", func() {
				So(err, ShouldNotBeNil)
			})
		})
	})
}

func TestBuildDeps(t *testing.T) {
	Convey("Given the default memory configuration", t, func() {
		dir := setupEnv(t)
		c, err := config.Load(context.Background())
		So(err, ShouldBeNil)

		Convey("When building dependencies", func() {
			d, err := buildDeps(context.Background(), c, logger.Nop(), false)
			So(err, ShouldBeNil)
			defer d.Close()

			Convey("Then logging publisher and local lease are used", func() {
				_, isLog := d.publisher.(*service.LogPublisher)
				So(isLog, ShouldBeTrue)
				_, isLocal := d.lease.(*digest.LocalLease)
				So(isLocal, ShouldBeTrue)
				So(d.watcher, ShouldNotBeNil)
				So(d.producer, ShouldBeNil)
			})

			Convey("Then a service can be built", func() {
				svc, err := d.service()
				So(err, ShouldBeNil)
				defer svc.Close()
				So(svc.GetStats()["started"], ShouldEqual, false)
			})
		})

		Convey("When the directory file is missing", func() {
			c.DirectoryFile = filepath.Join(dir, "missing.yaml")
			d, err := buildDeps(context.Background(), c, logger.Nop(), false)

			Convey("Then building fails", func() {
				So(err, ShouldNotBeNil)
				So(d, ShouldBeNil)
			})
		})
	})
}

func TestParseRawEvent(t *testing.T) {
	Convey("Given a bare webhook payload", t, func() {
		data := []byte(`{"action":"opened","pull_request":{"number":1}}`)

		Convey("When a kind is supplied", func() {
			raw, err := parseRawEvent(data, "Pull_Request", "x-1")

			Convey("Then it is wrapped in an envelope", func() {
				So(err, ShouldBeNil)
				So(string(raw.Kind), ShouldEqual, "pull_request")
				So(raw.ID, ShouldEqual, "x-1")
				So(raw.ReceivedAt.IsZero(), ShouldBeFalse)
			})
		})

		Convey("When the document is not JSON", func() {
			_, err := parseRawEvent([]byte("nope"), "issues", "x-1")

			Convey("Then decoding fails", func() {
				So(err, ShouldNotBeNil)
			})
		})
	})
}

func TestUpdateSystemMetrics(t *testing.T) {
	Convey("updateSystemMetrics does not panic", t, func() {
		So(func() { updateSystemMetrics() }, ShouldNotPanic)
	})
}
