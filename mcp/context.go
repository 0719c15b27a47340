package mcp

import "sync"

// RepoState is the repository the session is working on.
type RepoState struct {
	Owner  string `json:"owner" yaml:"owner"`
	Repo   string `json:"repo" yaml:"repo"`
	Branch string `json:"branch" yaml:"branch"`
}

func (s RepoState) FullName() string {
	return s.Owner + "/" + s.Repo
}

// ToolContext is the per-session state shared by the handlers. Only
// open_repo writes it.
type ToolContext struct {
	mu       sync.RWMutex
	state    RepoState
	opened   bool
	onUpdate func(RepoState)
}

// NewToolContext returns an empty context. onUpdate, when set, is called
// after every Update.
func NewToolContext(onUpdate func(RepoState)) *ToolContext {
	return &ToolContext{onUpdate: onUpdate}
}

// Snapshot returns the current repository and whether one has been opened.
func (c *ToolContext) Snapshot() (RepoState, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state, c.opened
}

func (c *ToolContext) Update(owner, repo, branch string) {
	s := RepoState{Owner: owner, Repo: repo, Branch: branch}
	c.mu.Lock()
	c.state = s
	c.opened = true
	c.mu.Unlock()
	if c.onUpdate != nil {
		c.onUpdate(s)
	}
}
