package gitlab

import (
	"context"
	"fmt"

	gl "github.com/xanzy/go-gitlab"
)

// Client implements scm.Client against the GitLab API. GitLab addresses
// projects by their full path, so repoFullName is used directly. A blocked
// merge request gets a discussion note; GitLab has no reviewer-side
// REQUEST_CHANGES equivalent in the REST API.
type Client struct {
	api *gl.Client
}

func NewClient(token, baseURL string) (*Client, error) {
	var opts []gl.ClientOptionFunc
	if baseURL != "" {
		opts = append(opts, gl.WithBaseURL(baseURL))
	}
	api, err := gl.NewClient(token, opts...)
	if err != nil {
		return nil, fmt.Errorf("gitlab client: %w", err)
	}
	return &Client{api: api}, nil
}

func (c *Client) BlockPullRequest(ctx context.Context, repoFullName string, number int, reason string) error {
	note := fmt.Sprintf(":no_entry: **Merge blocked**\n\n%s", reason)
	_, _, err := c.api.Notes.CreateMergeRequestNote(repoFullName, number, &gl.CreateMergeRequestNoteOptions{
		Body: gl.String(note),
	}, gl.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("note on %s!%d: %w", repoFullName, number, err)
	}
	return nil
}

func (c *Client) CreateIssue(ctx context.Context, repoFullName string, title, body string) error {
	_, _, err := c.api.Issues.CreateIssue(repoFullName, &gl.CreateIssueOptions{
		Title:       gl.String(title),
		Description: gl.String(body),
	}, gl.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("create issue on %s: %w", repoFullName, err)
	}
	return nil
}
