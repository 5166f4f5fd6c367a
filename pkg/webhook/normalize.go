package webhook

import (
	"encoding/json"
	"strconv"
	"time"

	"scanhooks/internal"
	"scanhooks/pkg/storage"
)

// Normalize decodes a raw provider payload into the canonical event shape.
// It returns nil when the body is not valid JSON for the provider's schema
// or when required fields (repository, sender) are missing. The event
// timestamp is the ingestion time, not anything the provider claims.
func Normalize(raw []byte, provider string, now time.Time) *internal.Event {
	switch provider {
	case storage.ProviderGitHub:
		return normalizeGitHub(raw, now)
	case storage.ProviderGitLab:
		return normalizeGitLab(raw, now)
	case storage.ProviderBitbucket:
		return normalizeBitbucket(raw, now)
	default:
		return nil
	}
}

func normalizeGitHub(raw []byte, now time.Time) *internal.Event {
	var p gitHubPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil
	}
	if p.Repository == nil || p.Sender == nil {
		return nil
	}

	ev := &internal.Event{
		Provider: storage.ProviderGitHub,
		Kind:     "push",
		Repository: internal.Repository{
			ID:       strconv.FormatInt(p.Repository.ID, 10),
			Name:     p.Repository.Name,
			FullName: p.Repository.FullName,
			URL:      p.Repository.HTMLURL,
		},
		Sender: internal.Sender{
			ID:        strconv.FormatInt(p.Sender.ID, 10),
			Username:  p.Sender.Login,
			AvatarURL: p.Sender.AvatarURL,
		},
		Timestamp: now.Unix(),
	}

	if len(p.Commits) > 0 {
		changes := &internal.Changes{}
		for _, c := range p.Commits {
			changes.Commits = append(changes.Commits, internal.Commit{
				ID:        c.ID,
				Message:   c.Message,
				Author:    commitAuthor(c.Author.Username, c.Author.Name),
				Timestamp: parseCommitTime(c.Timestamp, now),
			})
			for _, f := range c.Added {
				changes.Files = append(changes.Files, fileChange(f))
			}
			for _, f := range c.Modified {
				changes.Files = append(changes.Files, fileChange(f))
			}
			for _, f := range c.Removed {
				changes.Files = append(changes.Files, fileChange(f))
			}
		}
		ev.Changes = changes
	}

	if p.PullRequest != nil {
		ev.Kind = "pull_request"
		ev.PullRequest = &internal.PullRequest{
			Number:     p.PullRequest.Number,
			Title:      p.PullRequest.Title,
			HeadBranch: p.PullRequest.Head.Ref,
			BaseBranch: p.PullRequest.Base.Ref,
			State:      p.PullRequest.State,
			URL:        p.PullRequest.HTMLURL,
		}
	}
	return ev
}

func normalizeGitLab(raw []byte, now time.Time) *internal.Event {
	var p gitLabPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil
	}
	if p.Project == nil {
		return nil
	}

	kind := p.ObjectKind
	if kind == "" {
		kind = "push"
	}

	username := p.UserUsername
	avatar := p.UserAvatar
	userID := p.UserID
	if p.User != nil {
		if username == "" {
			username = p.User.Username
		}
		if avatar == "" {
			avatar = p.User.AvatarURL
		}
		if userID == 0 {
			userID = p.User.ID
		}
	}
	if username == "" {
		return nil
	}

	ev := &internal.Event{
		Provider: storage.ProviderGitLab,
		Kind:     kind,
		Repository: internal.Repository{
			ID:       strconv.FormatInt(p.Project.ID, 10),
			Name:     p.Project.Name,
			FullName: p.Project.PathWithNamespace,
			URL:      p.Project.WebURL,
		},
		Sender: internal.Sender{
			ID:        strconv.FormatInt(userID, 10),
			Username:  username,
			AvatarURL: avatar,
		},
		Timestamp: now.Unix(),
	}

	if len(p.Commits) > 0 {
		changes := &internal.Changes{}
		for _, c := range p.Commits {
			changes.Commits = append(changes.Commits, internal.Commit{
				ID:        c.ID,
				Message:   c.Message,
				Author:    c.Author.Name,
				Timestamp: parseCommitTime(c.Timestamp, now),
			})
			for _, f := range c.Added {
				changes.Files = append(changes.Files, fileChange(f))
			}
			for _, f := range c.Modified {
				changes.Files = append(changes.Files, fileChange(f))
			}
			for _, f := range c.Removed {
				changes.Files = append(changes.Files, fileChange(f))
			}
		}
		ev.Changes = changes
	}

	if kind == "merge_request" && p.ObjectAttributes != nil {
		ev.Kind = "pull_request"
		ev.PullRequest = &internal.PullRequest{
			Number:     p.ObjectAttributes.IID,
			Title:      p.ObjectAttributes.Title,
			HeadBranch: p.ObjectAttributes.SourceBranch,
			BaseBranch: p.ObjectAttributes.TargetBranch,
			State:      p.ObjectAttributes.State,
			URL:        p.ObjectAttributes.URL,
		}
	}
	return ev
}

func normalizeBitbucket(raw []byte, now time.Time) *internal.Event {
	var p bitbucketPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil
	}
	if p.Repository == nil || p.Actor == nil {
		return nil
	}

	username := p.Actor.Nickname
	if username == "" {
		username = p.Actor.DisplayName
	}

	ev := &internal.Event{
		Provider: storage.ProviderBitbucket,
		Kind:     "push",
		Repository: internal.Repository{
			ID:       p.Repository.UUID,
			Name:     p.Repository.Name,
			FullName: p.Repository.FullName,
			URL:      p.Repository.Links.HTML.Href,
		},
		Sender: internal.Sender{
			ID:        p.Actor.UUID,
			Username:  username,
			AvatarURL: p.Actor.Links.Avatar.Href,
		},
		Timestamp: now.Unix(),
	}

	if p.Push != nil {
		changes := &internal.Changes{}
		for _, ch := range p.Push.Changes {
			for _, c := range ch.Commits {
				changes.Commits = append(changes.Commits, internal.Commit{
					ID:        c.Hash,
					Message:   c.Message,
					Author:    c.Author.Raw,
					Timestamp: parseCommitTime(c.Date, now),
				})
			}
		}
		if len(changes.Commits) > 0 {
			ev.Changes = changes
		}
	}

	if p.PullRequest != nil {
		ev.Kind = "pull_request"
		ev.PullRequest = &internal.PullRequest{
			Number:     p.PullRequest.ID,
			Title:      p.PullRequest.Title,
			HeadBranch: p.PullRequest.Source.Branch.Name,
			BaseBranch: p.PullRequest.Destination.Branch.Name,
			State:      p.PullRequest.State,
			URL:        p.PullRequest.Links.HTML.Href,
		}
	}
	return ev
}

// Push payloads do not carry per-file diff stats, so every touched path is
// recorded as a plain modification with zero counts.
func fileChange(name string) internal.FileChange {
	return internal.FileChange{Filename: name, Status: "modified"}
}

func commitAuthor(username, name string) string {
	if username != "" {
		return username
	}
	return name
}

func parseCommitTime(s string, now time.Time) int64 {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.Unix()
	}
	return now.Unix()
}
