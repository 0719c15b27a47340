package github

import "context"

// API is the subset of the GitHub REST API the repository tools need.
type API interface {
	OpenRepository(ctx context.Context, repoURL, branch string) (Result[RepositoryInfo], error)
	GetFile(ctx context.Context, owner, repo, path, ref string) (Result[FileContent], error)
	CreateFile(ctx context.Context, owner, repo, path string, change FileChange) (Result[FileCommit], error)
	UpdateFile(ctx context.Context, owner, repo, path string, change FileChange) (Result[FileCommit], error)
	CreateBranch(ctx context.Context, owner, repo, name, fromRef string) (Result[BranchInfo], error)
	CreatePullRequest(ctx context.Context, owner, repo string, pr NewPullRequest) (Result[PullRequest], error)
}

type RepositoryInfo struct {
	Owner         string `json:"owner" yaml:"owner"`
	Repo          string `json:"repo" yaml:"repo"`
	FullName      string `json:"full_name" yaml:"full_name"`
	DefaultBranch string `json:"default_branch" yaml:"default_branch"`
	// Branch is the branch the caller asked for, or DefaultBranch.
	Branch      string `json:"branch" yaml:"branch"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Private     bool   `json:"private" yaml:"private"`
	HTMLURL     string `json:"html_url,omitempty" yaml:"html_url,omitempty"`
}

type FileContent struct {
	Path    string `json:"path"`
	SHA     string `json:"sha"`
	Size    int    `json:"size"`
	Content string `json:"content"`
}

// FileChange is the body of a create or update contents call. SHA is
// required for updates and must be the blob SHA currently on the branch.
type FileChange struct {
	Content string
	Message string
	Branch  string
	SHA     string
}

type FileCommit struct {
	Path      string `json:"path"`
	SHA       string `json:"sha"`
	CommitSHA string `json:"commit_sha"`
	HTMLURL   string `json:"html_url,omitempty"`
}

type BranchInfo struct {
	Name string `json:"name"`
	SHA  string `json:"sha"`
}

type NewPullRequest struct {
	Title string
	Body  string
	Head  string
	Base  string
}

type PullRequest struct {
	Number  int    `json:"number"`
	Title   string `json:"title"`
	State   string `json:"state"`
	HTMLURL string `json:"html_url"`
}
