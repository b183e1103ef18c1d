package watching_test

import (
	"testing"
	"time"

	"github.com/okian/herald/internal/domain/model"
	"github.com/okian/herald/internal/domain/watching"
	. "github.com/smartystreets/goconvey/convey"
)

func prEvent(body string) *model.Event {
	return &model.Event{
		Kind:       model.KindPullRequest,
		Action:     "opened",
		Repository: model.Repository{ID: 1, FullName: "acme/api"},
		Sender:     model.Actor{Login: "alice"},
		Subject: &model.Subject{
			Number:             12,
			Title:              "Add retries",
			Body:               body,
			Author:             "alice",
			RequestedReviewers: []string{"Bob"},
			Assignees:          []string{"carol"},
			RequestedTeams:     []string{"backend"},
			Head:               &model.Ref{Ref: "retries"},
		},
	}
}

func TestResolve(t *testing.T) {
	Convey("Given a pull request event", t, func() {
		ev := prEvent("cc @dave and @acme/frontend")

		Convey("When the subscriber authored it", func() {
			reasons := watching.Resolve(ev, &model.Subscriber{GitHubLogin: "alice"})

			Convey("Then the only reason is Author", func() {
				So(reasons.Slice(), ShouldResemble, []model.WatchingReason{model.ReasonAuthor})
			})
		})

		Convey("When the subscriber is a requested reviewer in a requested team", func() {
			reasons := watching.Resolve(ev, &model.Subscriber{GitHubLogin: "bob", TeamSlugs: []string{"backend"}})

			Convey("Then Reviewer and TeamReviewer accumulate", func() {
				So(reasons.Has(model.ReasonReviewer), ShouldBeTrue)
				So(reasons.Has(model.ReasonTeamReviewer), ShouldBeTrue)
				So(reasons.Has(model.ReasonAuthor), ShouldBeFalse)
			})
		})

		Convey("When the subscriber is assigned", func() {
			reasons := watching.Resolve(ev, &model.Subscriber{GitHubLogin: "carol"})
			So(reasons.Slice(), ShouldResemble, []model.WatchingReason{model.ReasonAssignee})
		})

		Convey("When the subscriber and their team are mentioned", func() {
			reasons := watching.Resolve(ev, &model.Subscriber{GitHubLogin: "dave", TeamSlugs: []string{"frontend"}})

			Convey("Then Mentioned and TeamMentioned are present", func() {
				So(reasons.Has(model.ReasonMentioned), ShouldBeTrue)
				So(reasons.Has(model.ReasonTeamMentioned), ShouldBeTrue)
			})
		})

		Convey("When the subscriber manually watches and subscribes to the subject", func() {
			sub := &model.Subscriber{
				GitHubLogin:   "erin",
				ManualWatches: []model.SubjectKey{"acme/api#12"},
				Subscriptions: []model.SubjectKey{"ACME/api#12"},
			}
			reasons := watching.Resolve(ev, sub)

			So(reasons.Slice(), ShouldResemble, []model.WatchingReason{model.ReasonSubscribed, model.ReasonManual})
		})

		Convey("When a subscriber team is among the assignee teams", func() {
			ev.Subject.AssigneeTeams = []string{"platform"}
			reasons := watching.Resolve(ev, &model.Subscriber{GitHubLogin: "frank", TeamSlugs: []string{"acme/platform"}})

			So(reasons.Has(model.ReasonTeamAssigned), ShouldBeTrue)
		})

		Convey("When the subscriber has no login", func() {
			reasons := watching.Resolve(ev, &model.Subscriber{TeamSlugs: []string{"backend"}})

			Convey("Then the set is empty", func() {
				So(reasons.Empty(), ShouldBeTrue)
			})
		})

		Convey("When the event has no subject", func() {
			ev.Subject = nil
			So(watching.Resolve(ev, &model.Subscriber{GitHubLogin: "alice"}).Empty(), ShouldBeTrue)
		})
	})

	Convey("Given an issue event", t, func() {
		ev := &model.Event{
			Kind:       model.KindIssues,
			Repository: model.Repository{FullName: "acme/api"},
			Subject: &model.Subject{
				Number:         3,
				HTMLURL:        "https://github.com/acme/api/issues/3",
				Assignees:      []string{"carol"},
				RequestedTeams: []string{"backend"},
			},
		}

		Convey("Then assignees count but team review requests do not", func() {
			So(watching.Resolve(ev, &model.Subscriber{GitHubLogin: "carol"}).Has(model.ReasonAssignee), ShouldBeTrue)
			So(watching.Resolve(ev, &model.Subscriber{GitHubLogin: "zed", TeamSlugs: []string{"backend"}}).Empty(), ShouldBeTrue)
		})
	})
}

func TestSubjectTypeOf(t *testing.T) {
	Convey("Given subjects with different signals", t, func() {
		So(watching.SubjectTypeOf(nil), ShouldEqual, model.SubjectUnknown)
		So(watching.SubjectTypeOf(&model.Subject{Head: &model.Ref{}}), ShouldEqual, model.SubjectPullRequest)
		So(watching.SubjectTypeOf(&model.Subject{RequestedReviewers: []string{}}), ShouldEqual, model.SubjectPullRequest)
		So(watching.SubjectTypeOf(&model.Subject{PullRequestLink: &model.PullRequestLink{}}), ShouldEqual, model.SubjectPullRequest)

		Convey("Then the URL is only a fallback", func() {
			So(watching.SubjectTypeOf(&model.Subject{HTMLURL: "https://github.com/a/b/pull/1"}), ShouldEqual, model.SubjectPullRequest)
			So(watching.SubjectTypeOf(&model.Subject{HTMLURL: "https://github.com/a/b/issues/1"}), ShouldEqual, model.SubjectIssue)
		})
	})
}

func TestMentions(t *testing.T) {
	Convey("Given boundary-aware mention matching", t, func() {
		Convey("Then a longer login is not a mention", func() {
			So(watching.MentionsLogin("cc @testuser", "user"), ShouldBeFalse)
			So(watching.MentionsLogin("cc @user2", "user"), ShouldBeFalse)
			So(watching.MentionsLogin("cc @user-name", "user"), ShouldBeFalse)
		})

		Convey("Then an exact handle is a mention", func() {
			So(watching.MentionsLogin("cc @user for review", "user"), ShouldBeTrue)
			So(watching.MentionsLogin("@user", "user"), ShouldBeTrue)
			So(watching.MentionsLogin("thanks @User.", "user"), ShouldBeTrue)
			So(watching.MentionsLogin("(@user)", "user"), ShouldBeTrue)
			So(watching.MentionsLogin("cc @testuser and later @user", "user"), ShouldBeTrue)
		})

		Convey("Then e-mail addresses are not mentions", func() {
			So(watching.MentionsLogin("mail me at me@user", "user"), ShouldBeFalse)
		})

		Convey("Then empty inputs never match", func() {
			So(watching.MentionsLogin("@", ""), ShouldBeFalse)
			So(watching.MentionsLogin("", "user"), ShouldBeFalse)
		})

		Convey("Then team mentions accept the org prefix", func() {
			So(watching.MentionsTeam("ping @backend", "backend"), ShouldBeTrue)
			So(watching.MentionsTeam("ping @acme/backend please", "backend"), ShouldBeTrue)
			So(watching.MentionsTeam("ping @acme/backend-oncall", "backend"), ShouldBeFalse)
			So(watching.MentionsTeam("see docs/backend", "backend"), ShouldBeFalse)
			So(watching.MentionsTeam("ping @/backend", "backend"), ShouldBeFalse)
			So(watching.MentionsTeam("ping @acme/backend", "acme/backend"), ShouldBeTrue)
		})
	})
}

func TestSearchableText(t *testing.T) {
	Convey("Given an event with a comment and a review", t, func() {
		ev := prEvent("body")
		ev.Comment = &model.Comment{Body: "comment"}
		ev.Review = &model.Review{Body: "  "}

		Convey("Then title, body and comment are joined and blanks skipped", func() {
			So(watching.SearchableText(ev), ShouldEqual, "Add retries\nbody\ncomment")
		})

		Convey("Then a mention in a comment counts", func() {
			ev.Comment.Body = "@zoe can you look"
			So(watching.Resolve(ev, &model.Subscriber{GitHubLogin: "zoe"}).Has(model.ReasonMentioned), ShouldBeTrue)
		})
	})
}

func TestReviewPredicates(t *testing.T) {
	Convey("Given a review history", t, func() {
		t0 := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
		reviews := []model.ReviewState{
			{Login: "bob", State: model.ReviewChangesRequested, SubmittedAt: t0},
			{Login: "carol", State: model.ReviewApproved, SubmittedAt: t0},
			{Login: "bob", State: model.ReviewCommented, SubmittedAt: t0.Add(time.Hour)},
		}
		open := &model.Subject{State: "open"}

		Convey("Then a later comment does not lift a change request", func() {
			So(watching.IsApproved(reviews), ShouldBeTrue)
			So(watching.HasBlockingReview(reviews), ShouldBeTrue)
			So(watching.IsReadyToMerge(open, reviews), ShouldBeFalse)
		})

		Convey("Then a later approval lifts it", func() {
			reviews = append(reviews, model.ReviewState{Login: "Bob", State: "approved", SubmittedAt: t0.Add(2 * time.Hour)})
			So(watching.HasBlockingReview(reviews), ShouldBeFalse)
			So(watching.IsReadyToMerge(open, reviews), ShouldBeTrue)
			So(watching.IsReadyToMerge(&model.Subject{State: "closed"}, reviews), ShouldBeFalse)
		})

		Convey("Then HasReviewed sees any review by the login", func() {
			So(watching.HasReviewed(reviews, "BOB"), ShouldBeTrue)
			So(watching.HasReviewed(reviews, "dave"), ShouldBeFalse)
			So(watching.HasReviewed(reviews, ""), ShouldBeFalse)
		})
	})
}

func TestInvolvedTeams(t *testing.T) {
	Convey("Given a pull request requesting a team review", t, func() {
		ev := prEvent("no mentions")
		sub := &model.Subscriber{GitHubLogin: "x", TeamSlugs: []string{"backend", "frontend"}}

		So(watching.InvolvedTeams(ev, sub), ShouldResemble, []string{"backend"})
		So(watching.InvolvedTeams(nil, sub), ShouldBeNil)
	})
}
