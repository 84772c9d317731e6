package agent

import (
	"context"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"github.com/wovenbot/loom/internal/config"
)

// hookTimeout bounds each hook command so a wedged script cannot leak
// goroutines forever.
const hookTimeout = 30 * time.Second

// HookRunner fires configured shell commands on lifecycle events. Hooks are
// fire-and-forget: the loop never waits for them and failures are only
// logged.
type HookRunner struct {
	hooks  []config.HookConfig
	logger *slog.Logger
}

// NewHookRunner wires a runner for the configured hooks.
func NewHookRunner(hooks []config.HookConfig, logger *slog.Logger) *HookRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &HookRunner{hooks: hooks, logger: logger}
}

// Fire launches every hook registered for the event. env entries are passed
// to the command as LOOM_* variables on top of the parent environment.
func (h *HookRunner) Fire(event string, env map[string]string) {
	if h == nil {
		return
	}
	for _, hook := range h.hooks {
		if hook.Event != event {
			continue
		}
		go h.runHook(hook, event, env)
	}
}

func (h *HookRunner) runHook(hook config.HookConfig, event string, env map[string]string) {
	ctx, cancel := context.WithTimeout(context.Background(), hookTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", hook.Command)
	cmd.Env = append(os.Environ(), "LOOM_EVENT="+event)
	for k, v := range env {
		cmd.Env = append(cmd.Env, "LOOM_"+k+"="+v)
	}

	if out, err := cmd.CombinedOutput(); err != nil {
		h.logger.Warn("hook command failed",
			"event", event,
			"command", hook.Command,
			"error", err,
			"output", string(out),
		)
	}
}
