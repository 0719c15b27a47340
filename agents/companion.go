package agents

import (
	"context"

	"github.com/bt-bridge/voice-repo-agent/mcp"
	"github.com/bt-bridge/voice-repo-agent/shared"
)

// Command is what the coordinator tells the companion after a tool ran.
type Command struct {
	Tool    string
	CallID  string
	Result  mcp.Result
	Repo    mcp.RepoState
	HasRepo bool
}

// Companion is notified of every tool outcome. Implementations must not
// block for long; they run on the tool goroutine.
type Companion interface {
	Notify(ctx context.Context, cmd Command) error
}

type nopCompanion struct{}

func (nopCompanion) Notify(context.Context, Command) error { return nil }

// PrinterCompanion renders tool outcomes on a Printer.
type PrinterCompanion struct {
	printer *shared.Printer
}

func NewPrinterCompanion(p *shared.Printer) *PrinterCompanion {
	return &PrinterCompanion{printer: p}
}

func (c *PrinterCompanion) Notify(_ context.Context, cmd Command) error {
	mark := "✅"
	if !cmd.Result.Success {
		mark = "❌"
	}
	if err := c.printer.Linef(0, "%s %s: %s", mark, cmd.Tool, cmd.Result.Message); err != nil {
		return err
	}
	if cmd.HasRepo && cmd.Tool == mcp.ToolOpenRepo && cmd.Result.Success {
		return c.printer.Linef(1, "📂 %s @ %s", cmd.Repo.FullName(), cmd.Repo.Branch)
	}
	return nil
}
