package model_test

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/okian/herald/internal/domain/model"
	"github.com/smartystreets/goconvey/convey"
)

func TestDecodePayload(t *testing.T) {
	convey.Convey("Given raw payloads", t, func() {
		convey.Convey("When decoding a pull_request payload", func() {
			raw := json.RawMessage(`{"action":"opened","pull_request":{"number":7,"title":"t","user":{"login":"alice"},
				"requested_reviewers":[],"head":{"ref":"feature","sha":"abc"}},"repository":{"id":1,"full_name":"acme/api"},
				"sender":{"login":"alice","type":"User"}}`)

			p, err := model.DecodePayload(model.KindPullRequest, raw)

			convey.Convey("Then the typed struct is returned with optional fields populated", func() {
				convey.So(err, convey.ShouldBeNil)
				pr, ok := p.(*model.PullRequestPayload)
				convey.So(ok, convey.ShouldBeTrue)
				convey.So(pr.Kind(), convey.ShouldEqual, model.KindPullRequest)
				convey.So(pr.PullRequest.Number, convey.ShouldEqual, 7)
				convey.So(pr.PullRequest.RequestedReviewers, convey.ShouldNotBeNil)
				convey.So(pr.PullRequest.Body, convey.ShouldBeNil)
				convey.So(pr.PullRequest.Head.Ref, convey.ShouldEqual, "feature")
				convey.So(pr.RequestedTeam, convey.ShouldBeNil)
			})
		})

		convey.Convey("When decoding an unknown kind", func() {
			_, err := model.DecodePayload("star", json.RawMessage(`{}`))

			convey.Convey("Then ErrUnknownKind is returned", func() {
				convey.So(errors.Is(err, model.ErrUnknownKind), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When decoding invalid JSON", func() {
			_, err := model.DecodePayload(model.KindIssues, json.RawMessage(`{"issue":`))

			convey.Convey("Then ErrMalformedPayload is returned", func() {
				convey.So(errors.Is(err, model.ErrMalformedPayload), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When the payload is empty", func() {
			_, err := model.DecodePayload(model.KindIssues, nil)
			convey.So(errors.Is(err, model.ErrMalformedPayload), convey.ShouldBeTrue)
		})
	})
}

func TestActorIsBot(t *testing.T) {
	convey.Convey("Given accounts", t, func() {
		convey.So(model.Actor{Login: "dependabot[bot]"}.IsBot(), convey.ShouldBeTrue)
		convey.So(model.Actor{Login: "ci", Type: "Bot"}.IsBot(), convey.ShouldBeTrue)
		convey.So(model.Actor{Login: "alice", Type: "User"}.IsBot(), convey.ShouldBeFalse)
		convey.So(model.Actor{}.IsBot(), convey.ShouldBeFalse)
	})
}

func TestRepositoryFilter(t *testing.T) {
	convey.Convey("Given a repository", t, func() {
		repo := model.Repository{ID: 42, FullName: "Acme/api-gateway"}

		convey.Convey("Then the all filter includes it", func() {
			convey.So(model.RepositoryFilter{}.Includes(repo), convey.ShouldBeTrue)
			convey.So(model.RepositoryFilter{Mode: model.FilterAll}.Includes(repo), convey.ShouldBeTrue)
		})

		convey.Convey("Then a selected filter matches by id or glob", func() {
			convey.So(model.RepositoryFilter{Mode: model.FilterSelected, IDs: []int64{42}}.Includes(repo), convey.ShouldBeTrue)
			convey.So(model.RepositoryFilter{Mode: model.FilterSelected, Patterns: []string{"acme/api-*"}}.Includes(repo), convey.ShouldBeTrue)
			convey.So(model.RepositoryFilter{Mode: model.FilterSelected, Patterns: []string{"acme/web"}}.Includes(repo), convey.ShouldBeFalse)
			convey.So(model.RepositoryFilter{Mode: model.FilterSelected}.Includes(repo), convey.ShouldBeFalse)
		})
	})
}

func TestSortProfiles(t *testing.T) {
	convey.Convey("Given unordered profiles", t, func() {
		in := []model.NotificationProfile{
			{ID: "b", Priority: 5}, {ID: "c", Priority: 10}, {ID: "a", Priority: 5},
		}

		out := model.SortProfiles(in)

		convey.Convey("Then they are ordered by priority desc then id asc", func() {
			convey.So(out[0].ID, convey.ShouldEqual, "c")
			convey.So(out[1].ID, convey.ShouldEqual, "a")
			convey.So(out[2].ID, convey.ShouldEqual, "b")
		})

		convey.Convey("Then the input is left untouched", func() {
			convey.So(in[0].ID, convey.ShouldEqual, "b")
		})
	})
}

func TestProfileAllows(t *testing.T) {
	convey.Convey("Given a profile with one explicit false", t, func() {
		p := model.NotificationProfile{Preferences: map[model.ActionKey]bool{
			"pull_request.closed": false,
			"pull_request.opened": true,
		}}

		convey.So(p.Allows("pull_request.opened"), convey.ShouldBeTrue)
		convey.So(p.Allows("pull_request.closed"), convey.ShouldBeFalse)
		convey.So(p.Allows("issues.opened"), convey.ShouldBeTrue)
	})
}

func TestReasonSet(t *testing.T) {
	convey.Convey("Given a reason set built with duplicates", t, func() {
		s := model.NewReasonSet(model.ReasonMentioned, model.ReasonAuthor, model.ReasonMentioned)

		convey.Convey("Then it is sorted and de-duplicated", func() {
			convey.So(s.Slice(), convey.ShouldResemble, []model.WatchingReason{model.ReasonAuthor, model.ReasonMentioned})
			convey.So(s.String(), convey.ShouldEqual, "{author,mentioned}")
			convey.So(s.HasTeamReason(), convey.ShouldBeFalse)
		})

		convey.Convey("Then it round-trips through JSON as names", func() {
			b, err := json.Marshal(s)
			convey.So(err, convey.ShouldBeNil)
			convey.So(string(b), convey.ShouldEqual, `["author","mentioned"]`)

			var back model.ReasonSet
			convey.So(json.Unmarshal(b, &back), convey.ShouldBeNil)
			convey.So(back, convey.ShouldEqual, s)
		})
	})

	convey.Convey("Given the empty set", t, func() {
		var s model.ReasonSet

		convey.So(s.Empty(), convey.ShouldBeTrue)
		convey.So(s.Slice(), convey.ShouldNotBeNil)
		convey.So(s.Slice(), convey.ShouldBeEmpty)
	})

	convey.Convey("Given an unknown reason name", t, func() {
		var s model.ReasonSet
		convey.So(json.Unmarshal([]byte(`["nope"]`), &s), convey.ShouldNotBeNil)
	})
}

func TestDigestConfigSchedule(t *testing.T) {
	convey.Convey("Given a digest config", t, func() {
		cfg := model.DigestConfig{Time: "09:30", Timezone: "Europe/Berlin", Days: []time.Weekday{time.Monday}}

		convey.Convey("Then the clock and location parse", func() {
			h, m, err := cfg.Clock()
			convey.So(err, convey.ShouldBeNil)
			convey.So(h, convey.ShouldEqual, 9)
			convey.So(m, convey.ShouldEqual, 30)

			loc, err := cfg.Location()
			convey.So(err, convey.ShouldBeNil)
			convey.So(loc.String(), convey.ShouldEqual, "Europe/Berlin")
		})

		convey.Convey("Then only configured days run", func() {
			convey.So(cfg.RunsOn(time.Monday), convey.ShouldBeTrue)
			convey.So(cfg.RunsOn(time.Tuesday), convey.ShouldBeFalse)
		})

		convey.Convey("Then invalid values are rejected", func() {
			bad := model.DigestConfig{Time: "25:00", Timezone: "Mars/Olympus"}
			_, _, err := bad.Clock()
			convey.So(errors.Is(err, model.ErrInvalidDigestConfig), convey.ShouldBeTrue)
			_, err = bad.Location()
			convey.So(errors.Is(err, model.ErrInvalidDigestConfig), convey.ShouldBeTrue)
		})
	})
}

func TestEventKeys(t *testing.T) {
	convey.Convey("Given an event with a subject", t, func() {
		e := model.Event{Kind: model.KindPullRequest, Action: "opened",
			Repository: model.Repository{FullName: "acme/api"}, Subject: &model.Subject{Number: 12}}

		convey.So(e.ActionKey(), convey.ShouldEqual, model.ActionKey("pull_request.opened"))
		convey.So(e.SubjectKey(), convey.ShouldEqual, model.SubjectKey("acme/api#12"))

		e.Subject = nil
		convey.So(e.SubjectKey(), convey.ShouldEqual, model.SubjectKey(""))
	})
}

func TestMergeReviews(t *testing.T) {
	convey.Convey("Given bob's review history", t, func() {
		t0 := time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC)
		approved := model.ReviewState{Login: "bob", State: "approved", SubmittedAt: t0}

		convey.Convey("Then a later comment does not hide the approval", func() {
			got := model.MergeReviews([]model.ReviewState{approved},
				model.ReviewState{Login: "BOB", State: "COMMENTED", SubmittedAt: t0.Add(time.Hour)})
			convey.So(got, convey.ShouldHaveLength, 1)
			convey.So(got[0].State, convey.ShouldEqual, "approved")
		})

		convey.Convey("Then a later change request replaces it", func() {
			got := model.MergeReviews([]model.ReviewState{approved},
				model.ReviewState{Login: "bob", State: "changes_requested", SubmittedAt: t0.Add(time.Hour)})
			convey.So(got[0].State, convey.ShouldEqual, model.ReviewChangesRequested)
		})

		convey.Convey("Then a stale decisive review is ignored", func() {
			got := model.MergeReviews([]model.ReviewState{approved},
				model.ReviewState{Login: "bob", State: "DISMISSED", SubmittedAt: t0.Add(-time.Hour)})
			convey.So(got[0].State, convey.ShouldEqual, "approved")
		})

		convey.Convey("Then other reviewers are appended and blank logins dropped", func() {
			got := model.MergeReviews(nil, approved, model.ReviewState{Login: "carol", State: "commented"},
				model.ReviewState{State: "APPROVED"})
			convey.So(got, convey.ShouldHaveLength, 2)
			convey.So(got[0].State, convey.ShouldEqual, model.ReviewApproved)
		})
	})
}
