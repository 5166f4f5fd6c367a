package internal

// Event is the provider-agnostic shape every inbound webhook payload is
// normalized into before rules are evaluated. It is built per request and is
// only persisted embedded in a task or summarized into a log row.
type Event struct {
	Provider    string       `json:"provider"`
	Kind        string       `json:"kind"`
	Repository  Repository   `json:"repository"`
	Sender      Sender       `json:"sender"`
	Changes     *Changes     `json:"changes,omitempty"`
	PullRequest *PullRequest `json:"pullRequest,omitempty"`
	// Timestamp marks when this system observed the event, not when the
	// provider produced it. Retention is keyed off this value.
	Timestamp int64 `json:"timestamp"`
}

// Repository identifies the repository an event originated from.
type Repository struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	FullName string `json:"fullName"`
	URL      string `json:"url"`
}

// Sender identifies the user that caused the event.
type Sender struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	AvatarURL string `json:"avatarUrl,omitempty"`
}

// Changes carries the touched files and commits of a push-style event.
type Changes struct {
	Files   []FileChange `json:"files,omitempty"`
	Commits []Commit     `json:"commits,omitempty"`
}

// FileChange is one touched file.
type FileChange struct {
	Filename  string `json:"filename"`
	Status    string `json:"status"`
	Additions int    `json:"additions"`
	Deletions int    `json:"deletions"`
}

// Commit is one commit of a push event. Timestamp is epoch seconds.
type Commit struct {
	ID        string `json:"id"`
	Message   string `json:"message"`
	Author    string `json:"author"`
	Timestamp int64  `json:"timestamp"`
}

// PullRequest carries the pull-request context of an event, when present.
type PullRequest struct {
	Number     int    `json:"number"`
	Title      string `json:"title"`
	HeadBranch string `json:"headBranch"`
	BaseBranch string `json:"baseBranch"`
	State      string `json:"state"`
	URL        string `json:"url"`
}

// ChangedFilenames returns the names of all touched files, in payload order.
func (e Event) ChangedFilenames() []string {
	if e.Changes == nil || len(e.Changes.Files) == 0 {
		return nil
	}
	names := make([]string, 0, len(e.Changes.Files))
	for _, file := range e.Changes.Files {
		names = append(names, file.Filename)
	}
	return names
}
