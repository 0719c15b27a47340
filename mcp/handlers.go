package mcp

import (
	"context"
	"fmt"
	"time"

	"github.com/bt-bridge/voice-repo-agent/approval"
	"github.com/bt-bridge/voice-repo-agent/github"
	"github.com/bt-bridge/voice-repo-agent/retry"
	"github.com/bt-bridge/voice-repo-agent/shared"
	"go.uber.org/zap"
)

const (
	ToolOpenRepo     = "open_repo"
	ToolCreateFile   = "create_file"
	ToolEditFile     = "edit_file"
	ToolCreateBranch = "create_branch"
	ToolCreatePR     = "create_pr"

	DefaultBaseBranch = "main"

	msgNoRepository = "No repository opened. Use open_repo first."
)

// Env is what the handlers need from the outside world.
type Env struct {
	GitHub github.API
	// Approvals gates mutating tools. Nil approves everything.
	Approvals       *approval.Manager
	ApprovalTimeout time.Duration
	Retry           retry.Policy
	Logger          shared.LoggerAdapter
	// OnRetry is called for every retried GitHub call.
	OnRetry func(tool string)
}

func (e Env) logger() shared.LoggerAdapter {
	if e.Logger == nil {
		return shared.NewNopLogger()
	}
	return e.Logger
}

// approve blocks until the user decides. It returns nil when the call may
// proceed and the failure to report otherwise.
func (e Env) approve(ctx context.Context, tool, arguments string) *Result {
	if e.Approvals == nil {
		return nil
	}
	id := e.Approvals.RequestApproval(tool, arguments, approval.RequiresApproval(tool))
	o := e.Approvals.WaitForApproval(ctx, id, e.ApprovalTimeout)
	switch o.Status {
	case approval.StatusApproved:
		return nil
	case approval.StatusDenied:
		r := Failuref("Operation denied: %s", o.Reason)
		return &r
	default:
		r := Failuref("Approval timed out for %s", tool)
		return &r
	}
}

func withRetry[T any](ctx context.Context, e Env, tool string, op func(ctx context.Context) (github.Result[T], error)) (github.Result[T], error) {
	p := e.Retry
	logger := e.logger()
	p.OnRetry = func(attempt int, delay time.Duration, reason string) {
		logger.Warn(
			"retrying github call",
			zap.String("tool", tool),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.String("reason", reason),
		)
		if e.OnRetry != nil {
			e.OnRetry(tool)
		}
	}
	return retry.Execute(ctx, p, op)
}

type OpenRepoArgs struct {
	RepoURL string `json:"repoUrl" jsonschema:"GitHub repository URL or owner/repo"`
	Branch  string `json:"branch,omitempty" jsonschema:"Branch to work on; defaults to the repository default branch"`
}

func newOpenRepo(e Env) (Handler, error) {
	return newTool(ToolOpenRepo, "Open a GitHub repository for the following operations.",
		func(ctx context.Context, args OpenRepoArgs, raw string, tc *ToolContext) (Result, error) {
			if f := blank([2]string{"repoUrl", args.RepoURL}); f != "" {
				return Failuref("Missing required argument: %s", f), nil
			}
			if r := e.approve(ctx, ToolOpenRepo, raw); r != nil {
				return *r, nil
			}
			res, err := withRetry(ctx, e, ToolOpenRepo, func(ctx context.Context) (github.Result[github.RepositoryInfo], error) {
				return e.GitHub.OpenRepository(ctx, args.RepoURL, args.Branch)
			})
			if err != nil {
				return Result{}, err
			}
			if !res.OK() {
				return Failuref("Failed to open repository: %s", res.Err.Message), nil
			}
			info := res.Data
			branch := info.Branch
			if branch == "" {
				branch = info.DefaultBranch
			}
			tc.Update(info.Owner, info.Repo, branch)
			return Success(fmt.Sprintf("Opened repository %s/%s on branch %s", info.Owner, info.Repo, branch), info), nil
		})
}

type CreateFileArgs struct {
	Path    string `json:"path" jsonschema:"Path of the new file relative to the repository root"`
	Content string `json:"content" jsonschema:"Full file content"`
	Message string `json:"message,omitempty" jsonschema:"Commit message"`
}

func newCreateFile(e Env) (Handler, error) {
	return newTool(ToolCreateFile, "Create a new file on the current branch.",
		func(ctx context.Context, args CreateFileArgs, raw string, tc *ToolContext) (Result, error) {
			if f := blank([2]string{"path", args.Path}); f != "" {
				return Failuref("Missing required argument: %s", f), nil
			}
			repo, ok := tc.Snapshot()
			if !ok {
				return Failure(msgNoRepository), nil
			}
			if r := e.approve(ctx, ToolCreateFile, raw); r != nil {
				return *r, nil
			}
			message := args.Message
			if message == "" {
				message = "Create " + args.Path
			}
			res, err := withRetry(ctx, e, ToolCreateFile, func(ctx context.Context) (github.Result[github.FileCommit], error) {
				return e.GitHub.CreateFile(ctx, repo.Owner, repo.Repo, args.Path, github.FileChange{
					Content: args.Content,
					Message: message,
					Branch:  repo.Branch,
				})
			})
			if err != nil {
				return Result{}, err
			}
			if !res.OK() {
				return Failuref("Failed to create file %s: %s", args.Path, res.Err.Message), nil
			}
			return Success(fmt.Sprintf("File created: %s (SHA: %s)", args.Path, res.Data.SHA), res.Data), nil
		})
}

type EditFileArgs struct {
	Path    string `json:"path" jsonschema:"Path of the existing file relative to the repository root"`
	Content string `json:"content" jsonschema:"New full file content"`
	Message string `json:"message,omitempty" jsonschema:"Commit message"`
}

func newEditFile(e Env) (Handler, error) {
	return newTool(ToolEditFile, "Replace the content of an existing file on the current branch.",
		func(ctx context.Context, args EditFileArgs, raw string, tc *ToolContext) (Result, error) {
			if f := blank([2]string{"path", args.Path}); f != "" {
				return Failuref("Missing required argument: %s", f), nil
			}
			repo, ok := tc.Snapshot()
			if !ok {
				return Failure(msgNoRepository), nil
			}

			current, err := withRetry(ctx, e, ToolEditFile, func(ctx context.Context) (github.Result[github.FileContent], error) {
				return e.GitHub.GetFile(ctx, repo.Owner, repo.Repo, args.Path, repo.Branch)
			})
			if err != nil {
				return Result{}, err
			}
			if !current.OK() {
				if current.StatusCode() == 404 {
					return Failuref("File not found: %s", args.Path), nil
				}
				return Failuref("Failed to read file %s: %s", args.Path, current.Err.Message), nil
			}

			if r := e.approve(ctx, ToolEditFile, raw); r != nil {
				return *r, nil
			}
			message := args.Message
			if message == "" {
				message = "Update " + args.Path
			}
			res, err := withRetry(ctx, e, ToolEditFile, func(ctx context.Context) (github.Result[github.FileCommit], error) {
				return e.GitHub.UpdateFile(ctx, repo.Owner, repo.Repo, args.Path, github.FileChange{
					Content: args.Content,
					Message: message,
					Branch:  repo.Branch,
					SHA:     current.Data.SHA,
				})
			})
			if err != nil {
				return Result{}, err
			}
			if !res.OK() {
				return Failuref("Failed to update file %s: %s", args.Path, res.Err.Message), nil
			}
			return Success(fmt.Sprintf("File updated: %s (SHA: %s)", args.Path, res.Data.SHA), res.Data), nil
		})
}

type CreateBranchArgs struct {
	BranchName string `json:"branchName" jsonschema:"Name of the new branch"`
	FromBranch string `json:"fromBranch,omitempty" jsonschema:"Branch to start from; defaults to the current branch"`
}

func newCreateBranch(e Env) (Handler, error) {
	return newTool(ToolCreateBranch, "Create a new branch in the opened repository.",
		func(ctx context.Context, args CreateBranchArgs, raw string, tc *ToolContext) (Result, error) {
			if f := blank([2]string{"branchName", args.BranchName}); f != "" {
				return Failuref("Missing required argument: %s", f), nil
			}
			repo, ok := tc.Snapshot()
			if !ok {
				return Failure(msgNoRepository), nil
			}
			from := args.FromBranch
			if from == "" {
				from = repo.Branch
			}
			if r := e.approve(ctx, ToolCreateBranch, raw); r != nil {
				return *r, nil
			}
			res, err := withRetry(ctx, e, ToolCreateBranch, func(ctx context.Context) (github.Result[github.BranchInfo], error) {
				return e.GitHub.CreateBranch(ctx, repo.Owner, repo.Repo, args.BranchName, from)
			})
			if err != nil {
				return Result{}, err
			}
			if !res.OK() {
				return Failuref("Failed to create branch %s: %s", args.BranchName, res.Err.Message), nil
			}
			return Success(fmt.Sprintf("Branch created: %s from %s", res.Data.Name, from), res.Data), nil
		})
}

type CreatePRArgs struct {
	Title      string `json:"title" jsonschema:"Pull request title"`
	Body       string `json:"body" jsonschema:"Pull request description"`
	HeadBranch string `json:"headBranch" jsonschema:"Branch containing the changes"`
	BaseBranch string `json:"baseBranch,omitempty" jsonschema:"Branch to merge into; defaults to main"`
}

func newCreatePR(e Env) (Handler, error) {
	return newTool(ToolCreatePR, "Open a pull request in the opened repository.",
		func(ctx context.Context, args CreatePRArgs, raw string, tc *ToolContext) (Result, error) {
			if f := blank([2]string{"title", args.Title}, [2]string{"headBranch", args.HeadBranch}); f != "" {
				return Failuref("Missing required argument: %s", f), nil
			}
			repo, ok := tc.Snapshot()
			if !ok {
				return Failure(msgNoRepository), nil
			}
			base := args.BaseBranch
			if base == "" {
				base = DefaultBaseBranch
			}
			if r := e.approve(ctx, ToolCreatePR, raw); r != nil {
				return *r, nil
			}
			res, err := withRetry(ctx, e, ToolCreatePR, func(ctx context.Context) (github.Result[github.PullRequest], error) {
				return e.GitHub.CreatePullRequest(ctx, repo.Owner, repo.Repo, github.NewPullRequest{
					Title: args.Title,
					Body:  args.Body,
					Head:  args.HeadBranch,
					Base:  base,
				})
			})
			if err != nil {
				return Result{}, err
			}
			if !res.OK() {
				return Failuref("Failed to create pull request: %s", res.Err.Message), nil
			}
			return Success(fmt.Sprintf("Pull request created: #%d %s", res.Data.Number, res.Data.HTMLURL), res.Data), nil
		})
}
