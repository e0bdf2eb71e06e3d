package model

import "strings"

// Webhook event shapes at the intake boundary, matching the GitHub wire
// format for the fields the pipeline consumes.

// WebhookRepository identifies the repository a webhook event targets.
type WebhookRepository struct {
	ID            int64  `json:"id"`
	FullName      string `json:"full_name"`
	DefaultBranch string `json:"default_branch"`
	CloneURL      string `json:"clone_url"`
}

// PullRequestEvent is the payload of an X-GitHub-Event: pull_request delivery.
type PullRequestEvent struct {
	Action      string `json:"action"`
	Number      int    `json:"number"`
	PullRequest struct {
		Head struct {
			Ref string `json:"ref"`
		} `json:"head"`
		Base struct {
			Ref string `json:"ref"`
		} `json:"base"`
	} `json:"pull_request"`
	Repository WebhookRepository `json:"repository"`
}

// PushEvent is the payload of an X-GitHub-Event: push delivery.
type PushEvent struct {
	Ref        string            `json:"ref"`
	Before     string            `json:"before"`
	After      string            `json:"after"`
	Repository WebhookRepository `json:"repository"`
	Commits    []PushCommit      `json:"commits"`
}

// PushCommit is one commit in a push event, with its change sets.
type PushCommit struct {
	ID       string   `json:"id"`
	Message  string   `json:"message"`
	Added    []string `json:"added"`
	Modified []string `json:"modified"`
	Removed  []string `json:"removed"`
}

// ChangedFiles flattens the unique added/modified paths across all commits,
// preserving first-seen order.
func (e *PushEvent) ChangedFiles() []string {
	seen := make(map[string]struct{})
	var files []string
	for _, c := range e.Commits {
		for _, path := range append(append([]string{}, c.Added...), c.Modified...) {
			if _, ok := seen[path]; ok {
				continue
			}
			seen[path] = struct{}{}
			files = append(files, path)
		}
	}
	return files
}

// IsDefaultBranchRef reports whether ref targets main or master. Push events
// for any other ref are acknowledged without creating work.
func IsDefaultBranchRef(ref string) bool {
	return strings.HasSuffix(ref, "/main") || strings.HasSuffix(ref, "/master")
}

// AcceptedPRActions are the pull request actions that produce a job.
var AcceptedPRActions = map[string]struct{}{
	"opened":      {},
	"synchronize": {},
	"closed":      {},
}

// PRActionAccepted reports whether a pull request action produces a job.
func PRActionAccepted(action string) bool {
	_, ok := AcceptedPRActions[action]
	return ok
}
