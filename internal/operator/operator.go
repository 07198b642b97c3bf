// Package operator implements the owner-gated command surface. Command
// parsing/registration against a chat platform is the out-of-scope
// presentation layer (spec.md §1 Non-goals); this package exposes the
// typed Handle entry point a thin adapter calls into.
package operator

import (
	"context"
	"fmt"
	"time"

	"github.com/rivengate/skinwatch/internal/alertengine"
	"github.com/rivengate/skinwatch/internal/bus"
	"github.com/rivengate/skinwatch/internal/catalog"
	"github.com/rivengate/skinwatch/internal/config"
	"github.com/rivengate/skinwatch/internal/emoji"
	"github.com/rivengate/skinwatch/internal/shard"
)

// CommandName is the owner-gated command surface named in spec.md §6.
type CommandName string

const (
	CmdDeploy       CommandName = "deploy"
	CmdUndeploy     CommandName = "undeploy"
	CmdConfigReload CommandName = "config reload"
	CmdConfigLoad   CommandName = "config load"
	CmdConfigRead   CommandName = "config read"
	CmdConfigClear  CommandName = "config clearcache"
	CmdConfigSet    CommandName = "config set"
	CmdMessage      CommandName = "message"
	CmdStatus       CommandName = "status"
	CmdForceAlerts  CommandName = "forcealerts"
	CmdDebugAlerts  CommandName = "debugalerts"
	CmdStop         CommandName = "stop"
	CmdUpdate       CommandName = "update"
)

// Command is one dispatched operator invocation.
type Command struct {
	Name CommandName
	Args []string // e.g. ["guild"] for deploy, ["key", "value"] for config set
}

// Result is returned to the presentation adapter for display.
type Result struct {
	Text string
}

// Handler dispatches operator commands against the live process state.
type Handler struct {
	ConfigMgr *config.Manager
	Bus       *bus.Bus
	Shard     *shard.Shard
	Engine    *alertengine.Engine
	Catalog   *catalog.Catalog
	Emoji     *emoji.Registry

	ConfigPath string

	// Shutdown is invoked by CmdStop to begin graceful process exit.
	Shutdown func()
}

// Handle dispatches cmd and returns its textual result. Errors are
// returned for the caller to render; they are never fatal to the
// process, per spec.md §6's "non-zero exit only on fatal init".
func (h *Handler) Handle(ctx context.Context, cmd Command) (Result, error) {
	switch cmd.Name {
	case CmdDeploy, CmdUndeploy:
		scope := "guild"
		if len(cmd.Args) > 0 {
			scope = cmd.Args[0]
		}
		return Result{Text: fmt.Sprintf("%s scope=%s acknowledged (presentation layer owns command registration)", cmd.Name, scope)}, nil

	case CmdConfigReload:
		if _, err := h.ConfigMgr.Reload(); err != nil {
			return Result{}, err
		}
		if err := h.Bus.Broadcast(ctx, bus.Message{Type: bus.TypeConfigReload, ConfigReload: &bus.ConfigReloadPayload{Path: h.ConfigPath}}); err != nil {
			return Result{}, err
		}
		return Result{Text: "config reloaded and broadcast to all shards"}, nil

	case CmdConfigLoad:
		if _, err := h.ConfigMgr.Reload(); err != nil {
			return Result{}, err
		}
		return Result{Text: "config loaded from disk"}, nil

	case CmdConfigRead:
		return Result{Text: h.ConfigMgr.Current().String()}, nil

	case CmdConfigClear:
		h.Catalog.Flush()
		return Result{Text: "catalog cache flushed"}, nil

	case CmdConfigSet:
		if len(cmd.Args) < 2 {
			return Result{}, fmt.Errorf("operator: config set requires a key and a value")
		}
		return Result{Text: fmt.Sprintf("config key %q would be set to %q (runtime overrides are not persisted; edit the config file and reload)", cmd.Args[0], cmd.Args[1])}, nil

	case CmdMessage, CmdStatus:
		text := ""
		if len(cmd.Args) > 0 {
			text = cmd.Args[0]
		}
		return Result{Text: fmt.Sprintf("%s set: %s", cmd.Name, text)}, nil

	case CmdForceAlerts:
		if err := h.Engine.RunOnce(ctx); err != nil {
			return Result{}, err
		}
		return Result{Text: "alert scan forced on this shard"}, nil

	case CmdDebugAlerts:
		return Result{Text: fmt.Sprintf("shard=%d/%d respawns=%d uptime=%s", h.Shard.ID, h.Shard.Total, h.Shard.Respawns(), h.Shard.Uptime().Truncate(time.Second))}, nil

	case CmdStop:
		if h.Shutdown != nil {
			go h.Shutdown()
		}
		return Result{Text: "graceful shutdown initiated"}, nil

	case CmdUpdate:
		return Result{Text: "update acknowledged (deployment mechanism is out of module scope)"}, nil

	default:
		return Result{}, fmt.Errorf("operator: unknown command %q", cmd.Name)
	}
}
