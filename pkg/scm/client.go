package scm

import (
	"context"
	"fmt"
	"strings"
)

// Client is the provider-side surface the action executor needs. One
// implementation per provider lives under pkg/providers.
type Client interface {
	// BlockPullRequest flags the pull request so it cannot merge until the
	// finding is resolved. The mechanism is provider-specific.
	BlockPullRequest(ctx context.Context, repoFullName string, number int, reason string) error
	// CreateIssue opens an issue on the repository.
	CreateIssue(ctx context.Context, repoFullName string, title, body string) error
}

// Registry holds one client per provider name.
type Registry struct {
	clients map[string]Client
}

func NewRegistry() *Registry {
	return &Registry{clients: map[string]Client{}}
}

func (r *Registry) Register(provider string, client Client) {
	r.clients[provider] = client
}

// For returns the client for provider, or an error when none is configured.
func (r *Registry) For(provider string) (Client, error) {
	client, ok := r.clients[provider]
	if !ok {
		return nil, fmt.Errorf("no client configured for provider %q", provider)
	}
	return client, nil
}

// SplitFullName splits "owner/repo" into its two parts.
func SplitFullName(fullName string) (owner, repo string, err error) {
	parts := strings.SplitN(fullName, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("malformed repository name %q", fullName)
	}
	return parts[0], parts[1], nil
}
