package bitbucket

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"scanhooks/pkg/scm"

	bb "github.com/ktrysmt/go-bitbucket"
)

// Client implements scm.Client against the Bitbucket Cloud API. Blocking a
// pull request is expressed as a comment; Bitbucket Cloud exposes no merge
// veto through its public API.
type Client struct {
	api *bb.Client
}

func NewClient(token, baseURL string) *Client {
	if baseURL != "" {
		// The bitbucket client reads its API base from the environment.
		os.Setenv("BITBUCKET_API_BASE_URL", baseURL)
	}
	return &Client{api: bb.NewOAuthbearerToken(token)}
}

func (c *Client) BlockPullRequest(ctx context.Context, repoFullName string, number int, reason string) error {
	owner, repo, err := scm.SplitFullName(repoFullName)
	if err != nil {
		return err
	}
	_, err = c.api.Repositories.PullRequests.AddComment(&bb.PullRequestCommentOptions{
		Owner:         owner,
		RepoSlug:      repo,
		PullRequestID: strconv.Itoa(number),
		Content:       fmt.Sprintf("MERGE BLOCKED: %s", reason),
	})
	if err != nil {
		return fmt.Errorf("comment on %s#%d: %w", repoFullName, number, err)
	}
	return nil
}

func (c *Client) CreateIssue(ctx context.Context, repoFullName string, title, body string) error {
	owner, repo, err := scm.SplitFullName(repoFullName)
	if err != nil {
		return err
	}
	_, err = c.api.Repositories.Issues.Create(&bb.IssuesOptions{
		Owner:    owner,
		RepoSlug: repo,
		Title:    title,
		Content:  body,
		Kind:     "bug",
		Priority: "major",
	})
	if err != nil {
		return fmt.Errorf("create issue on %s: %w", repoFullName, err)
	}
	return nil
}
