package mcp

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bt-bridge/voice-repo-agent/approval"
	"github.com/bt-bridge/voice-repo-agent/github"
	"github.com/bt-bridge/voice-repo-agent/retry"
	"github.com/bt-bridge/voice-repo-agent/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type call struct {
	method string
	owner  string
	repo   string
	arg    string
	change github.FileChange
	pr     github.NewPullRequest
}

// fakeAPI records every call. Each method consults its hook and falls back
// to a canned success.
type fakeAPI struct {
	mu    sync.Mutex
	calls []call

	getFile    func() (github.Result[github.FileContent], error)
	createFile func() (github.Result[github.FileCommit], error)
}

func (f *fakeAPI) record(c call) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
}

func (f *fakeAPI) Calls() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

func (f *fakeAPI) OpenRepository(_ context.Context, repoURL, branch string) (github.Result[github.RepositoryInfo], error) {
	f.record(call{method: "OpenRepository", arg: repoURL})
	owner, repo, err := github.ParseRepoURL(repoURL)
	if err != nil {
		return github.Failure[github.RepositoryInfo](400, err.Error()), nil
	}
	if branch == "" {
		branch = "main"
	}
	return github.Success(github.RepositoryInfo{Owner: owner, Repo: repo, DefaultBranch: "main", Branch: branch}), nil
}

func (f *fakeAPI) GetFile(_ context.Context, owner, repo, path, ref string) (github.Result[github.FileContent], error) {
	f.record(call{method: "GetFile", owner: owner, repo: repo, arg: path})
	if f.getFile != nil {
		return f.getFile()
	}
	return github.Success(github.FileContent{Path: path, SHA: "old-sha", Content: "old"}), nil
}

func (f *fakeAPI) CreateFile(_ context.Context, owner, repo, path string, change github.FileChange) (github.Result[github.FileCommit], error) {
	f.record(call{method: "CreateFile", owner: owner, repo: repo, arg: path, change: change})
	if f.createFile != nil {
		return f.createFile()
	}
	return github.Success(github.FileCommit{Path: path, SHA: "new-sha"}), nil
}

func (f *fakeAPI) UpdateFile(_ context.Context, owner, repo, path string, change github.FileChange) (github.Result[github.FileCommit], error) {
	f.record(call{method: "UpdateFile", owner: owner, repo: repo, arg: path, change: change})
	return github.Success(github.FileCommit{Path: path, SHA: "upd-sha"}), nil
}

func (f *fakeAPI) CreateBranch(_ context.Context, owner, repo, name, fromRef string) (github.Result[github.BranchInfo], error) {
	f.record(call{method: "CreateBranch", owner: owner, repo: repo, arg: name + "<" + fromRef})
	return github.Success(github.BranchInfo{Name: name, SHA: "abc"}), nil
}

func (f *fakeAPI) CreatePullRequest(_ context.Context, owner, repo string, pr github.NewPullRequest) (github.Result[github.PullRequest], error) {
	f.record(call{method: "CreatePullRequest", owner: owner, repo: repo, pr: pr})
	return github.Success(github.PullRequest{Number: 7, Title: pr.Title, State: "open", HTMLURL: "https://github.com/o/r/pull/7"}), nil
}

func noSleep(context.Context, time.Duration) error { return nil }

func newTestRegistry(t *testing.T, api *fakeAPI, approvals *approval.Manager) *Registry {
	t.Helper()
	p := retry.DefaultPolicy()
	p.Sleep = noSleep
	r, err := NewDefaultRegistry(Env{
		GitHub:          api,
		Approvals:       approvals,
		ApprovalTimeout: 200 * time.Millisecond,
		Retry:           p,
		Logger:          shared.NewNopLogger(),
	})
	require.NoError(t, err)
	return r
}

func openRepo(t *testing.T, r *Registry, tc *ToolContext) {
	t.Helper()
	res := r.Execute(context.Background(), ToolOpenRepo, `{"repoUrl":"https://github.com/o/r"}`, tc)
	require.True(t, res.Success, res.Message)
}

func TestDefaultRegistryNames(t *testing.T) {
	r := newTestRegistry(t, &fakeAPI{}, nil)
	assert.Equal(t, []string{"open_repo", "create_file", "edit_file", "create_branch", "create_pr"}, r.Names())

	defs, err := r.Definitions()
	require.NoError(t, err)
	require.Len(t, defs, 5)
	assert.Equal(t, "function", defs[1].Type)
	assert.Equal(t, "create_file", defs[1].Name)
	assert.Equal(t, "object", defs[1].Parameters["type"])
	props, ok := defs[1].Parameters["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, props, "path")
	assert.Contains(t, props, "content")
}

func TestRegisterDuplicate(t *testing.T) {
	r := newTestRegistry(t, &fakeAPI{}, nil)
	h, ok := r.Get(ToolOpenRepo)
	require.True(t, ok)
	assert.Error(t, r.Register(h))
}

func TestCreateFileWithoutRepository(t *testing.T) {
	api := &fakeAPI{}
	r := newTestRegistry(t, api, nil)

	res := r.Execute(context.Background(), ToolCreateFile, `{"path":"x.txt","content":"hi"}`, NewToolContext(nil))
	assert.False(t, res.Success)
	assert.Equal(t, "No repository opened. Use open_repo first.", res.Message)
	assert.Empty(t, api.Calls())
}

func TestOpenRepoThenCreateFile(t *testing.T) {
	api := &fakeAPI{}
	r := newTestRegistry(t, api, nil)

	var updates []RepoState
	tc := NewToolContext(func(s RepoState) { updates = append(updates, s) })
	openRepo(t, r, tc)
	require.Equal(t, []RepoState{{Owner: "o", Repo: "r", Branch: "main"}}, updates)

	res := r.Execute(context.Background(), ToolCreateFile, `{"path":"x.txt","content":"hi"}`, tc)
	require.True(t, res.Success, res.Message)
	assert.Equal(t, "File created: x.txt (SHA: new-sha)", res.Message)

	var creates []call
	for _, c := range api.Calls() {
		if c.method == "CreateFile" {
			creates = append(creates, c)
		}
	}
	require.Len(t, creates, 1)
	assert.Equal(t, "o", creates[0].owner)
	assert.Equal(t, "r", creates[0].repo)
	assert.Equal(t, "x.txt", creates[0].arg)
	assert.Equal(t, "hi", creates[0].change.Content)
	assert.Equal(t, "main", creates[0].change.Branch)
	assert.Equal(t, "Create x.txt", creates[0].change.Message)
}

func TestCreateFileAllowsEmptyContent(t *testing.T) {
	api := &fakeAPI{}
	r := newTestRegistry(t, api, nil)
	tc := NewToolContext(nil)
	openRepo(t, r, tc)

	res := r.Execute(context.Background(), ToolCreateFile, `{"path":".keep","content":""}`, tc)
	assert.True(t, res.Success, res.Message)
}

func TestEditFileNotFound(t *testing.T) {
	api := &fakeAPI{
		getFile: func() (github.Result[github.FileContent], error) {
			return github.Failure[github.FileContent](404, "Not Found"), nil
		},
	}
	r := newTestRegistry(t, api, nil)
	tc := NewToolContext(nil)
	openRepo(t, r, tc)

	res := r.Execute(context.Background(), ToolEditFile, `{"path":"missing.md","content":"x"}`, tc)
	assert.False(t, res.Success)
	assert.Equal(t, "File not found: missing.md", res.Message)
	for _, c := range api.Calls() {
		assert.NotEqual(t, "UpdateFile", c.method)
	}
}

func TestEditFileUsesFetchedSHA(t *testing.T) {
	api := &fakeAPI{}
	r := newTestRegistry(t, api, nil)
	tc := NewToolContext(nil)
	openRepo(t, r, tc)

	res := r.Execute(context.Background(), ToolEditFile, `{"path":"README.md","content":"new","message":"docs"}`, tc)
	require.True(t, res.Success, res.Message)
	assert.Equal(t, "File updated: README.md (SHA: upd-sha)", res.Message)

	calls := api.Calls()
	last := calls[len(calls)-1]
	assert.Equal(t, "UpdateFile", last.method)
	assert.Equal(t, "old-sha", last.change.SHA)
	assert.Equal(t, "docs", last.change.Message)
}

func TestCreateBranchDefaultsToCurrentBranch(t *testing.T) {
	api := &fakeAPI{}
	r := newTestRegistry(t, api, nil)
	tc := NewToolContext(nil)
	r.Execute(context.Background(), ToolOpenRepo, `{"repoUrl":"o/r","branch":"dev"}`, tc)

	res := r.Execute(context.Background(), ToolCreateBranch, `{"branchName":"feature"}`, tc)
	require.True(t, res.Success, res.Message)
	calls := api.Calls()
	assert.Equal(t, "feature<dev", calls[len(calls)-1].arg)
}

func TestCreatePRDefaultsBase(t *testing.T) {
	api := &fakeAPI{}
	r := newTestRegistry(t, api, nil)
	tc := NewToolContext(nil)
	openRepo(t, r, tc)

	res := r.Execute(context.Background(), ToolCreatePR, `{"title":"Add x","body":"","headBranch":"feature"}`, tc)
	require.True(t, res.Success, res.Message)
	assert.Equal(t, "Pull request created: #7 https://github.com/o/r/pull/7", res.Message)
	calls := api.Calls()
	assert.Equal(t, github.NewPullRequest{Title: "Add x", Head: "feature", Base: "main"}, calls[len(calls)-1].pr)
}

func TestArgumentValidation(t *testing.T) {
	api := &fakeAPI{}
	r := newTestRegistry(t, api, nil)
	tc := NewToolContext(nil)
	openRepo(t, r, tc)
	before := len(api.Calls())

	tests := []struct {
		name string
		tool string
		args string
		want string
	}{
		{"missing required", ToolCreateFile, `{"content":"x"}`, "Invalid arguments for create_file"},
		{"wrong type", ToolCreateBranch, `{"branchName":5}`, "Invalid arguments for create_branch"},
		{"blank path", ToolCreateFile, `{"path":"  ","content":"x"}`, "Missing required argument: path"},
		{"blank title", ToolCreatePR, `{"title":"","body":"b","headBranch":"f"}`, "Missing required argument: title"},
		{"garbage", ToolCreateFile, `not json at all`, "Invalid arguments for create_file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := r.Execute(context.Background(), tt.tool, tt.args, tc)
			assert.False(t, res.Success)
			assert.True(t, strings.HasPrefix(res.Message, tt.want), res.Message)
		})
	}
	assert.Len(t, api.Calls(), before)
}

func TestRepairsTruncatedArguments(t *testing.T) {
	api := &fakeAPI{}
	r := newTestRegistry(t, api, nil)
	tc := NewToolContext(nil)

	res := r.Execute(context.Background(), ToolOpenRepo, `{"repoUrl":"o/r"`, tc)
	require.True(t, res.Success, res.Message)
	state, ok := tc.Snapshot()
	require.True(t, ok)
	assert.Equal(t, "o/r", state.FullName())
}

func TestUnknownTool(t *testing.T) {
	r := newTestRegistry(t, &fakeAPI{}, nil)
	res := r.Execute(context.Background(), "delete_repo", `{}`, NewToolContext(nil))
	assert.False(t, res.Success)
	assert.Equal(t, "Unknown tool: delete_repo", res.Message)
}

func TestRetriesServerErrors(t *testing.T) {
	attempts := 0
	api := &fakeAPI{
		createFile: func() (github.Result[github.FileCommit], error) {
			attempts++
			if attempts < 3 {
				return github.Failure[github.FileCommit](502, "Bad Gateway"), nil
			}
			return github.Success(github.FileCommit{SHA: "s3"}), nil
		},
	}
	p := retry.DefaultPolicy()
	p.Sleep = noSleep
	var retried []string
	r, err := NewDefaultRegistry(Env{
		GitHub:  api,
		Retry:   p,
		OnRetry: func(tool string) { retried = append(retried, tool) },
	})
	require.NoError(t, err)
	tc := NewToolContext(nil)
	openRepo(t, r, tc)

	res := r.Execute(context.Background(), ToolCreateFile, `{"path":"a","content":"b"}`, tc)
	require.True(t, res.Success, res.Message)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, []string{"create_file", "create_file"}, retried)
}

func TestTransportErrorBecomesFailure(t *testing.T) {
	api := &fakeAPI{
		createFile: func() (github.Result[github.FileCommit], error) {
			return github.Result[github.FileCommit]{}, errors.New("tls: bad certificate")
		},
	}
	r := newTestRegistry(t, api, nil)
	tc := NewToolContext(nil)
	openRepo(t, r, tc)

	res := r.Execute(context.Background(), ToolCreateFile, `{"path":"a","content":"b"}`, tc)
	assert.False(t, res.Success)
	assert.Equal(t, "Tool execution error: tls: bad certificate", res.Message)
}

type panicHandler struct{ Handler }

func (panicHandler) Name() string { return "boom" }

func (panicHandler) Execute(context.Context, string, *ToolContext) (Result, error) {
	panic("kaboom")
}

func TestPanicBecomesFailure(t *testing.T) {
	var observed []bool
	r := NewRegistry(nil, WithExecutionObserver(func(tool string, ok bool, _ time.Duration) {
		observed = append(observed, ok)
	}))
	require.NoError(t, r.Register(panicHandler{}))

	var res Result
	require.NotPanics(t, func() {
		res = r.Execute(context.Background(), "boom", `{}`, NewToolContext(nil))
	})
	assert.False(t, res.Success)
	assert.Equal(t, "Tool execution error: kaboom", res.Message)
	assert.Equal(t, []bool{false}, observed)
}

func TestApprovalGate(t *testing.T) {
	newManager := func() *approval.Manager {
		return approval.NewManager(shared.NewNopLogger(),
			approval.WithIDGenerator(shared.NewSequenceGenerator("req")),
			approval.WithPollInterval(2*time.Millisecond),
		)
	}

	t.Run("open_repo needs no approval", func(t *testing.T) {
		m := newManager()
		r := newTestRegistry(t, &fakeAPI{}, m)
		openRepo(t, r, NewToolContext(nil))
	})

	t.Run("denied", func(t *testing.T) {
		m := newManager()
		api := &fakeAPI{}
		r := newTestRegistry(t, api, m)
		tc := NewToolContext(nil)
		openRepo(t, r, tc)

		reqs, cancel := m.Requests(1)
		defer cancel()
		go func() {
			req := <-reqs
			m.RespondToApproval(req.ID, false, "not today")
		}()

		res := r.Execute(context.Background(), ToolCreateFile, `{"path":"a","content":"b"}`, tc)
		assert.False(t, res.Success)
		assert.Equal(t, "Operation denied: not today", res.Message)
		for _, c := range api.Calls() {
			assert.NotEqual(t, "CreateFile", c.method)
		}
	})

	t.Run("approved", func(t *testing.T) {
		m := newManager()
		r := newTestRegistry(t, &fakeAPI{}, m)
		tc := NewToolContext(nil)
		openRepo(t, r, tc)

		reqs, cancel := m.Requests(1)
		defer cancel()
		go func() {
			req := <-reqs
			m.RespondToApproval(req.ID, true, "")
		}()

		res := r.Execute(context.Background(), ToolCreateBranch, `{"branchName":"f"}`, tc)
		assert.True(t, res.Success, res.Message)
	})

	t.Run("timeout", func(t *testing.T) {
		m := newManager()
		api := &fakeAPI{}
		r := newTestRegistry(t, api, m)
		tc := NewToolContext(nil)
		openRepo(t, r, tc)

		res := r.Execute(context.Background(), ToolCreatePR, `{"title":"t","body":"","headBranch":"f"}`, tc)
		assert.False(t, res.Success)
		assert.Equal(t, "Approval timed out for create_pr", res.Message)
		assert.Equal(t, 0, m.Len())
	})
}
