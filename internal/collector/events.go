package collector

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/go-github/v55/github"

	"github.com/kurihiro0119/github-repo-activity/internal/domain"
	apperrors "github.com/kurihiro0119/github-repo-activity/internal/errors"
)

const zeroSHA = "0000000000000000000000000000000000000000"

// rawEvent is an event before derivation; forced is the remote's own hint,
// used only when the ancestry check cannot answer.
type rawEvent struct {
	domain.Event
	forced bool
}

func toRawEvent(e *github.Event) rawEvent {
	ev := rawEvent{Event: domain.Event{
		ID:        e.GetID(),
		Type:      e.GetType(),
		Actor:     e.GetActor().GetLogin(),
		CreatedAt: e.GetCreatedAt().Time,
	}}

	payload, err := e.ParsePayload()
	if err != nil {
		return ev
	}

	switch p := payload.(type) {
	case *github.PushEvent:
		ev.Ref = p.GetRef()
		ev.Before = p.GetBefore()
		ev.Head = p.GetHead()
		ev.CommitCount = p.GetSize()
		if ev.CommitCount == 0 {
			ev.CommitCount = len(p.Commits)
		}
		if strings.HasPrefix(ev.Ref, "refs/heads/") {
			ev.Branch = strings.TrimPrefix(ev.Ref, "refs/heads/")
		}
		ev.forced = p.GetForced()
	case *github.CreateEvent:
		ev.Ref = p.GetRef()
		ev.RefType = p.GetRefType()
		if ev.RefType == "branch" {
			ev.Branch = ev.Ref
			ev.BranchAction = domain.BranchCreated
		}
	case *github.DeleteEvent:
		ev.Ref = p.GetRef()
		ev.RefType = p.GetRefType()
		if ev.RefType == "branch" {
			ev.Branch = ev.Ref
			ev.BranchAction = domain.BranchDeleted
		}
	case *github.PullRequestEvent:
		ev.Action = p.GetAction()
	case *github.IssuesEvent:
		ev.Action = p.GetAction()
	}
	return ev
}

// deriveEvents fills the push fields of events, which arrive newest first.
// A push is a force push when its new head does not descend from the
// branch's previous head: the head left by the preceding push on that
// branch, or the push's own "before" commit when no earlier push is known.
// The returned slice keeps the input order.
func deriveEvents(ctx context.Context, repo domain.OwnerRepo, raw []rawEvent, defaultBranch string, ancestry AncestryChecker, logger *slog.Logger) ([]domain.Event, error) {
	heads := make(map[string]string)

	for i := len(raw) - 1; i >= 0; i-- {
		ev := &raw[i]

		if ev.BranchAction == domain.BranchDeleted {
			delete(heads, ev.Branch)
			continue
		}
		if !ev.IsPush() || ev.Branch == "" {
			continue
		}

		ev.DirectPush = defaultBranch != "" && ev.Branch == defaultBranch

		old := heads[ev.Branch]
		if old == "" {
			old = ev.Before
		}
		if old != "" && old != zeroSHA && ev.Head != "" && old != ev.Head {
			descends, err := ancestry.IsAncestor(ctx, repo, old, ev.Head)
			switch {
			case err == nil:
				ev.ForcePush = !descends
			case apperrors.IsNotFound(err):
				// the old head is gone, so history was rewritten
				ev.ForcePush = true
			case apperrors.IsCancelled(err):
				return flatten(raw), err
			default:
				logger.Warn("ancestry check failed, using push payload",
					"repo", repo.String(),
					"branch", ev.Branch,
					"error", err)
				ev.ForcePush = ev.forced
			}
		}
		heads[ev.Branch] = ev.Head
	}

	return flatten(raw), nil
}

func flatten(raw []rawEvent) []domain.Event {
	events := make([]domain.Event, len(raw))
	for i := range raw {
		events[i] = raw[i].Event
	}
	return events
}
