package github

import (
	"context"
	"fmt"

	"scanhooks/pkg/scm"

	gh "github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"
)

// Client implements scm.Client against the GitHub REST API. Blocking a pull
// request is expressed as a REQUEST_CHANGES review, which prevents merging on
// repositories with review protection enabled.
type Client struct {
	api *gh.Client
}

func NewClient(token, baseURL string) (*Client, error) {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	httpClient := oauth2.NewClient(context.Background(), ts)

	api := gh.NewClient(httpClient)
	if baseURL != "" {
		var err error
		api, err = api.WithEnterpriseURLs(baseURL, baseURL)
		if err != nil {
			return nil, fmt.Errorf("github enterprise url: %w", err)
		}
	}
	return &Client{api: api}, nil
}

func (c *Client) BlockPullRequest(ctx context.Context, repoFullName string, number int, reason string) error {
	owner, repo, err := scm.SplitFullName(repoFullName)
	if err != nil {
		return err
	}
	review := &gh.PullRequestReviewRequest{
		Body:  gh.String(reason),
		Event: gh.String("REQUEST_CHANGES"),
	}
	_, _, err = c.api.PullRequests.CreateReview(ctx, owner, repo, number, review)
	if err != nil {
		return fmt.Errorf("request changes on %s#%d: %w", repoFullName, number, err)
	}
	return nil
}

func (c *Client) CreateIssue(ctx context.Context, repoFullName string, title, body string) error {
	owner, repo, err := scm.SplitFullName(repoFullName)
	if err != nil {
		return err
	}
	issue := &gh.IssueRequest{
		Title:  gh.String(title),
		Body:   gh.String(body),
		Labels: &[]string{"security"},
	}
	_, _, err = c.api.Issues.Create(ctx, owner, repo, issue)
	if err != nil {
		return fmt.Errorf("create issue on %s: %w", repoFullName, err)
	}
	return nil
}
