package github

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/bt-bridge/voice-repo-agent/shared"
	"github.com/bytedance/sonic"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

const (
	DefaultBaseURL = "https://api.github.com"
	DefaultTimeout = 30 * time.Second
	apiVersion     = "2022-11-28"
	userAgent      = "voice-repo-agent"
)

// Client is a thin REST binding over fasthttp.
type Client struct {
	logger  shared.LoggerAdapter
	http    *fasthttp.Client
	baseURL *url.URL
	token   string
	timeout time.Duration
}

var _ API = (*Client)(nil)

type Option func(*Client) error

func WithBaseURL(raw string) Option {
	return func(c *Client) error {
		if raw == "" {
			return nil
		}
		u, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("parsing base URL: %w", err)
		}
		c.baseURL = u
		return nil
	}
}

func WithHTTPClient(hc *fasthttp.Client) Option {
	return func(c *Client) error {
		if hc != nil {
			c.http = hc
		}
		return nil
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) error {
		if d > 0 {
			c.timeout = d
		}
		return nil
	}
}

func NewClient(logger shared.LoggerAdapter, token string, opts ...Option) (*Client, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	base, _ := url.Parse(DefaultBaseURL)
	c := &Client{
		logger:  logger.With(zap.String("component", "github")),
		http:    &fasthttp.Client{Name: userAgent},
		baseURL: base,
		token:   token,
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

type errorBody struct {
	Message string `json:"message"`
}

// do performs one request. A non-2xx status is reported through status and
// body, never as an error; err is reserved for transport failures.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, in any) (status int, body []byte, err error) {
	if err := ctx.Err(); err != nil {
		return 0, nil, err
	}
	var payload []byte
	if in != nil {
		if payload, err = sonic.Marshal(in); err != nil {
			return 0, nil, fmt.Errorf("marshaling request body: %w", err)
		}
	}

	req := fasthttp.AcquireRequest()
	u := c.baseURL.JoinPath(path)
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	req.SetRequestURI(u.String())
	req.Header.SetMethod(method)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", apiVersion)
	req.Header.Set("User-Agent", userAgent)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if payload != nil {
		req.Header.SetContentType("application/json")
		req.SetBody(payload)
	}

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	type result struct {
		status int
		body   []byte
		err    error
	}
	resC := make(chan result, 1)
	go func() {
		resp := fasthttp.AcquireResponse()
		defer fasthttp.ReleaseRequest(req)
		defer fasthttp.ReleaseResponse(resp)
		if err := c.http.DoDeadline(req, resp, deadline); err != nil {
			resC <- result{err: err}
			return
		}
		resC <- result{status: resp.StatusCode(), body: append([]byte(nil), resp.Body()...)}
	}()

	var r result
	select {
	case <-ctx.Done():
		return 0, nil, fmt.Errorf("%s %s: %w", method, path, ctx.Err())
	case r = <-resC:
	}
	if r.err != nil {
		return 0, nil, fmt.Errorf("%s %s: %w", method, path, r.err)
	}

	c.logger.Trace(
		"github request",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", r.status),
	)
	return r.status, r.body, nil
}

func failureFrom[T any](status int, body []byte) Result[T] {
	var e errorBody
	if err := sonic.Unmarshal(body, &e); err != nil || e.Message == "" {
		e.Message = strings.TrimSpace(string(body))
		if e.Message == "" {
			e.Message = fasthttp.StatusMessage(status)
		}
	}
	return Failure[T](status, e.Message)
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}

func contentsPath(owner, repo, path string) string {
	segments := strings.Split(strings.Trim(path, "/"), "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return fmt.Sprintf("/repos/%s/%s/contents/%s", url.PathEscape(owner), url.PathEscape(repo), strings.Join(segments, "/"))
}

type repoBody struct {
	Name          string `json:"name"`
	FullName      string `json:"full_name"`
	DefaultBranch string `json:"default_branch"`
	Description   string `json:"description"`
	Private       bool   `json:"private"`
	HTMLURL       string `json:"html_url"`
	Owner         struct {
		Login string `json:"login"`
	} `json:"owner"`
}

func (c *Client) OpenRepository(ctx context.Context, repoURL, branch string) (Result[RepositoryInfo], error) {
	owner, repo, err := ParseRepoURL(repoURL)
	if err != nil {
		return Failure[RepositoryInfo](fasthttp.StatusBadRequest, err.Error()), nil
	}
	status, body, err := c.do(ctx, fasthttp.MethodGet, fmt.Sprintf("/repos/%s/%s", url.PathEscape(owner), url.PathEscape(repo)), nil, nil)
	if err != nil {
		return Result[RepositoryInfo]{}, err
	}
	if !isSuccess(status) {
		return failureFrom[RepositoryInfo](status, body), nil
	}
	var rb repoBody
	if err := sonic.Unmarshal(body, &rb); err != nil {
		return Result[RepositoryInfo]{}, fmt.Errorf("decoding repository: %w", err)
	}
	info := RepositoryInfo{
		Owner:         rb.Owner.Login,
		Repo:          rb.Name,
		FullName:      rb.FullName,
		DefaultBranch: rb.DefaultBranch,
		Branch:        branch,
		Description:   rb.Description,
		Private:       rb.Private,
		HTMLURL:       rb.HTMLURL,
	}
	if info.Owner == "" {
		info.Owner = owner
	}
	if info.Repo == "" {
		info.Repo = repo
	}
	if info.Branch == "" {
		info.Branch = info.DefaultBranch
	}
	return Success(info), nil
}

type contentBody struct {
	Type     string `json:"type"`
	Path     string `json:"path"`
	SHA      string `json:"sha"`
	Size     int    `json:"size"`
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
}

func (c *Client) GetFile(ctx context.Context, owner, repo, path, ref string) (Result[FileContent], error) {
	var q url.Values
	if ref != "" {
		q = url.Values{"ref": {ref}}
	}
	status, body, err := c.do(ctx, fasthttp.MethodGet, contentsPath(owner, repo, path), q, nil)
	if err != nil {
		return Result[FileContent]{}, err
	}
	if !isSuccess(status) {
		return failureFrom[FileContent](status, body), nil
	}
	if len(body) > 0 && body[0] == '[' {
		return Failure[FileContent](fasthttp.StatusUnprocessableEntity, fmt.Sprintf("%s is a directory", path)), nil
	}
	var cb contentBody
	if err := sonic.Unmarshal(body, &cb); err != nil {
		return Result[FileContent]{}, fmt.Errorf("decoding file: %w", err)
	}
	content := cb.Content
	if cb.Encoding == "base64" {
		raw, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(cb.Content, "\n", ""))
		if err != nil {
			return Result[FileContent]{}, fmt.Errorf("decoding file content: %w", err)
		}
		content = string(raw)
	}
	return Success(FileContent{Path: cb.Path, SHA: cb.SHA, Size: cb.Size, Content: content}), nil
}

type contentsRequest struct {
	Message string `json:"message"`
	Content string `json:"content"`
	Branch  string `json:"branch,omitempty"`
	SHA     string `json:"sha,omitempty"`
}

type contentsResponse struct {
	Content struct {
		Path    string `json:"path"`
		SHA     string `json:"sha"`
		HTMLURL string `json:"html_url"`
	} `json:"content"`
	Commit struct {
		SHA string `json:"sha"`
	} `json:"commit"`
}

func (c *Client) putContents(ctx context.Context, owner, repo, path string, change FileChange) (Result[FileCommit], error) {
	in := contentsRequest{
		Message: change.Message,
		Content: base64.StdEncoding.EncodeToString([]byte(change.Content)),
		Branch:  change.Branch,
		SHA:     change.SHA,
	}
	status, body, err := c.do(ctx, fasthttp.MethodPut, contentsPath(owner, repo, path), nil, in)
	if err != nil {
		return Result[FileCommit]{}, err
	}
	if !isSuccess(status) {
		return failureFrom[FileCommit](status, body), nil
	}
	var cr contentsResponse
	if err := sonic.Unmarshal(body, &cr); err != nil {
		return Result[FileCommit]{}, fmt.Errorf("decoding commit: %w", err)
	}
	return Success(FileCommit{
		Path:      cr.Content.Path,
		SHA:       cr.Content.SHA,
		CommitSHA: cr.Commit.SHA,
		HTMLURL:   cr.Content.HTMLURL,
	}), nil
}

func (c *Client) CreateFile(ctx context.Context, owner, repo, path string, change FileChange) (Result[FileCommit], error) {
	change.SHA = ""
	return c.putContents(ctx, owner, repo, path, change)
}

func (c *Client) UpdateFile(ctx context.Context, owner, repo, path string, change FileChange) (Result[FileCommit], error) {
	if change.SHA == "" {
		return Failure[FileCommit](fasthttp.StatusUnprocessableEntity, "sha is required to update a file"), nil
	}
	return c.putContents(ctx, owner, repo, path, change)
}

type refBody struct {
	Ref    string `json:"ref"`
	Object struct {
		SHA string `json:"sha"`
	} `json:"object"`
}

func (c *Client) CreateBranch(ctx context.Context, owner, repo, name, fromRef string) (Result[BranchInfo], error) {
	o, r := url.PathEscape(owner), url.PathEscape(repo)
	status, body, err := c.do(ctx, fasthttp.MethodGet, fmt.Sprintf("/repos/%s/%s/git/ref/heads/%s", o, r, fromRef), nil, nil)
	if err != nil {
		return Result[BranchInfo]{}, err
	}
	if !isSuccess(status) {
		return failureFrom[BranchInfo](status, body), nil
	}
	var base refBody
	if err := sonic.Unmarshal(body, &base); err != nil {
		return Result[BranchInfo]{}, fmt.Errorf("decoding ref: %w", err)
	}

	in := map[string]string{"ref": "refs/heads/" + name, "sha": base.Object.SHA}
	status, body, err = c.do(ctx, fasthttp.MethodPost, fmt.Sprintf("/repos/%s/%s/git/refs", o, r), nil, in)
	if err != nil {
		return Result[BranchInfo]{}, err
	}
	if !isSuccess(status) {
		return failureFrom[BranchInfo](status, body), nil
	}
	var created refBody
	if err := sonic.Unmarshal(body, &created); err != nil {
		return Result[BranchInfo]{}, fmt.Errorf("decoding ref: %w", err)
	}
	return Success(BranchInfo{Name: name, SHA: created.Object.SHA}), nil
}

func (c *Client) CreatePullRequest(ctx context.Context, owner, repo string, pr NewPullRequest) (Result[PullRequest], error) {
	in := map[string]string{
		"title": pr.Title,
		"body":  pr.Body,
		"head":  pr.Head,
		"base":  pr.Base,
	}
	status, body, err := c.do(ctx, fasthttp.MethodPost, fmt.Sprintf("/repos/%s/%s/pulls", url.PathEscape(owner), url.PathEscape(repo)), nil, in)
	if err != nil {
		return Result[PullRequest]{}, err
	}
	if !isSuccess(status) {
		return failureFrom[PullRequest](status, body), nil
	}
	var out PullRequest
	if err := sonic.Unmarshal(body, &out); err != nil {
		return Result[PullRequest]{}, fmt.Errorf("decoding pull request: %w", err)
	}
	return Success(out), nil
}
