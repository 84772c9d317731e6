package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/wovenbot/loom/internal/agent"
	"github.com/wovenbot/loom/internal/bus"
	"github.com/wovenbot/loom/pkg/models"
)

func buildChatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Interactive chat with in-band approval commands",
		Long: `Start an interactive session. Plain lines go to the agent; commands:

  /approve <id-prefix>          approve a pending tool call
  /deny <id-prefix> [reason]    deny a pending tool call
  /pending                      list pending approvals
  /quit                         exit`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			runtime, err := buildRuntime(cfg)
			if err != nil {
				return err
			}
			defer runtime.Close()
			return runChat(runtime)
		},
	}
}

func buildRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run [prompt]",
		Short: "Run a single prompt and print the final answer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			runtime, err := buildRuntime(cfg)
			if err != nil {
				return err
			}
			defer runtime.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			sess, _ := runtime.Sessions().GetOrCreate("cli:run", "cli")
			text, err := runtime.Run(ctx, sess.ID, args[0])
			if err != nil {
				return err
			}
			fmt.Println(text)
			return nil
		},
	}
}

func runChat(runtime *agent.Runtime) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sess, _ := runtime.Sessions().GetOrCreate("cli:chat", "cli")

	sub := runtime.Bus().Subscribe()
	defer sub.Close()
	go printEvents(ctx, sub)

	fmt.Println("loom chat. /quit to exit.")

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			if quit := handleCommand(runtime, line); quit {
				return nil
			}
			continue
		}

		// Runs go async so the prompt stays live for /approve while a tool
		// call is suspended.
		go func(prompt string) {
			if _, err := runtime.Run(ctx, sess.ID, prompt); err != nil {
				fmt.Printf("\n[run failed: %v]\n", err)
			}
		}(line)
	}
}

// handleCommand executes a slash command. Returns true to exit the REPL.
func handleCommand(runtime *agent.Runtime, line string) bool {
	fields := strings.Fields(line)
	broker := runtime.Broker()

	switch fields[0] {
	case "/quit", "/exit":
		return true

	case "/pending":
		pending := broker.Pending()
		if len(pending) == 0 {
			fmt.Println("no pending approvals")
			return false
		}
		for _, req := range pending {
			fmt.Printf("  %s  %s (%s)  %s\n", req.ID, req.ToolName, req.Tier, req.InputSummary)
		}

	case "/approve":
		if len(fields) < 2 {
			fmt.Println("usage: /approve <id-prefix>")
			return false
		}
		resolveApproval(broker, fields[1], models.Approved())

	case "/deny":
		if len(fields) < 2 {
			fmt.Println("usage: /deny <id-prefix> [reason]")
			return false
		}
		reason := "denied by operator"
		if len(fields) > 2 {
			reason = strings.Join(fields[2:], " ")
		}
		resolveApproval(broker, fields[1], models.Denied(reason))

	default:
		fmt.Printf("unknown command %s\n", fields[0])
	}
	return false
}

func resolveApproval(broker *agent.ApprovalBroker, prefix string, decision models.ApprovalDecision) {
	id := broker.FindByPrefix(prefix)
	if id == "" {
		fmt.Printf("no unique pending approval matches %q\n", prefix)
		return
	}
	if !broker.Respond(id, decision) {
		fmt.Printf("approval %s is no longer pending\n", id)
	}
}

// printEvents renders bus events to the terminal until the context ends.
func printEvents(ctx context.Context, sub *bus.Subscription) {
	for {
		ev, err := sub.Recv(ctx)
		if err == bus.ErrLagged {
			fmt.Println("\n[some events were dropped]")
			continue
		}
		if err != nil {
			return
		}

		switch ev.Type {
		case models.EventTokenChunk:
			fmt.Print(ev.Text)
		case models.EventToolCallStarted:
			fmt.Printf("\n[tool %s started]\n", ev.ToolName)
		case models.EventToolCallCompleted:
			status := "ok"
			if ev.IsError {
				status = "error"
			}
			fmt.Printf("[tool %s %s]\n", ev.ToolName, status)
		case models.EventApprovalRequested:
			if ev.Approval != nil {
				req := ev.Approval
				fmt.Printf("\n[approval needed: %s (%s) id=%s]\n  input: %s\n  /approve %s  or  /deny %s\n",
					req.ToolName, req.Tier, req.ID, req.InputSummary, shortID(req.ID), shortID(req.ID))
			}
		case models.EventApprovalResolved:
			verdict := "denied"
			if ev.Approved {
				verdict = "approved"
			}
			fmt.Printf("[approval %s %s]\n", shortID(ev.ApprovalID), verdict)
		case models.EventWarning:
			fmt.Printf("\n[warning: %s]\n", ev.Text)
		case models.EventError:
			fmt.Printf("\n[error: %s]\n", ev.Text)
		case models.EventRunCompleted:
			fmt.Println()
		}
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
