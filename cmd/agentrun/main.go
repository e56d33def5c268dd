// Package main provides the CLI entry point for the agentrun agentic
// runtime: an orchestrator loop that drives a conversational agent against
// a chat-completion-style language-model endpoint, dispatching sandboxed
// tool calls through an explicit policy engine and recording every step
// into a durable, append-only session log.
//
// # Basic Usage
//
// Run one turn against a new session:
//
//	agentrun run "check disk usage on this host"
//
// Continue an existing session:
//
//	agentrun run --session <id> "now check memory"
//
// List known sessions:
//
//	agentrun sessions list
//
// Export a session as a human-readable runbook or the round-trip event log:
//
//	agentrun sessions export <id> --format runbook_markdown
//	agentrun sessions export <id> --format events_jsonl
//
// # Environment Variables
//
// The API key environment variable is named by llm.api_key_env in the
// config file (there is no default name); agentrun never reads a key
// from anywhere else.
//
//   - AGENTRUN_CONFIG: path to the configuration file (default: agentrun.yaml)
//   - AGENTRUN_LLM_NAME, AGENTRUN_LLM_MODEL, AGENTRUN_LLM_API_BASE: llm.* overrides
//   - AGENTRUN_POLICY_MAX_RISK: policy.max_risk override
//   - AGENTRUN_SESSION_TOKEN_BUDGET: session.token_budget override
//   - AGENTRUN_STORAGE_BASE_DIR: storage.base_dir override
package main

import (
	"bufio"
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/agentrun/internal/agent"
	"github.com/haasonsaas/agentrun/internal/agent/providers"
	"github.com/haasonsaas/agentrun/internal/artifacts"
	"github.com/haasonsaas/agentrun/internal/audit"
	"github.com/haasonsaas/agentrun/internal/config"
	"github.com/haasonsaas/agentrun/internal/mcp"
	"github.com/haasonsaas/agentrun/internal/observability"
	"github.com/haasonsaas/agentrun/internal/sessions"
	"github.com/haasonsaas/agentrun/internal/tools/exec"
	"github.com/haasonsaas/agentrun/internal/tools/files"
	"github.com/haasonsaas/agentrun/internal/tools/policy"
	"github.com/haasonsaas/agentrun/internal/tools/sandbox"
	"github.com/haasonsaas/agentrun/internal/tools/sandbox/firecracker"
	"github.com/haasonsaas/agentrun/pkg/models"
)

// Build information - populated by ldflags during build.
//
// Example build command:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var configPath string

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// Separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "agentrun",
		Short: "agentrun - agentic runtime with policy-gated tool execution",
		Long: `agentrun drives a conversational agent against a chat-completion
LLM endpoint, mediates every tool call through an explicit policy engine,
and records each step to a durable, append-only session log.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "agentrun.yaml", "Path to YAML configuration file")

	rootCmd.AddCommand(
		buildRunCmd(),
		buildSessionsCmd(),
	)
	return rootCmd
}

func resolveConfigPath() string {
	if v := strings.TrimSpace(os.Getenv("AGENTRUN_CONFIG")); v != "" {
		return v
	}
	return configPath
}

// runtime bundles every collaborator a command needs, wired from one
// loaded Config. Callers are responsible for calling close when done.
type runtime struct {
	cfg      *config.Config
	store    sessions.Store
	db       *sql.DB
	gc       *artifacts.GC
	mcpMgr   *mcp.Manager
	audit    *audit.Logger
	tracer   *observability.Tracer
	metrics  *observability.Metrics
	shutdown func(context.Context) error
}

func (r *runtime) Close() {
	if r.mcpMgr != nil {
		_ = r.mcpMgr.Stop()
	}
	if r.gc != nil {
		r.gc.Stop()
	}
	if r.audit != nil {
		_ = r.audit.Close()
	}
	if r.shutdown != nil {
		_ = r.shutdown(context.Background())
	}
	if r.db != nil {
		_ = r.db.Close()
	}
}

// buildRuntime loads configuration and wires the session store, artifact
// store/GC, and MCP manager shared by every command that touches storage.
func buildRuntime(ctx context.Context) (*runtime, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if err := os.MkdirAll(cfg.Storage.BaseDir, 0o700); err != nil {
		return nil, fmt.Errorf("create storage base dir: %w", err)
	}

	tracer, shutdown := observability.NewTracer(observability.TraceConfig{
		ServiceName:    "agentrun",
		ServiceVersion: version,
		Endpoint:       os.Getenv("OTEL_ENDPOINT"),
	})

	dsn := filepath.Join(cfg.Storage.BaseDir, "sessions.db")
	store, db, err := sessions.Open(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}
	store.SetTracer(tracer)

	auditPath := filepath.Join(cfg.Storage.BaseDir, "audit.jsonl")
	auditLogger, err := audit.NewLogger(auditPath, 64<<20)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open audit logger: %w", err)
	}

	artifactsDir := filepath.Join(cfg.Storage.BaseDir, "artifacts")
	blobs, err := artifacts.NewLocalStore(artifactsDir)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open artifact store: %w", err)
	}
	repo := artifacts.NewSQLRepository(db)
	referenced := func(ctx context.Context) (map[string]bool, error) {
		return sessions.ReferencedArtifactHashes(ctx, store)
	}
	gc := artifacts.NewGC(blobs, repo, referenced, slog.Default())
	if err := gc.Start("0 * * * *"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("start artifact gc: %w", err)
	}

	mcpMgr := mcp.NewManager(cfg.Plugins.ToMCPConfig(), slog.Default())
	if err := mcpMgr.Start(ctx); err != nil {
		gc.Stop()
		_ = db.Close()
		return nil, fmt.Errorf("start mcp manager: %w", err)
	}

	return &runtime{
		cfg:      cfg,
		store:    store,
		db:       db,
		gc:       gc,
		mcpMgr:   mcpMgr,
		audit:    auditLogger,
		tracer:   tracer,
		metrics:  observability.NewMetrics(),
		shutdown: shutdown,
	}, nil
}

// buildToolRegistry registers the local filesystem/exec/backend tools and
// bridges every connected MCP server's tools into one registry.
func buildToolRegistry(cfg *config.Config, mcpMgr *mcp.Manager) (*agent.ToolRegistry, error) {
	registry := agent.NewToolRegistry()

	workspace := cfg.Storage.BaseDir
	filesCfg := files.Config{Workspace: workspace}
	execMgr := exec.NewManager(workspace)
	backend, err := buildExecBackend(cfg, execMgr)
	if err != nil {
		return nil, err
	}

	native := []models.Tool{
		files.NewReadTool(filesCfg).ToModelsTool(),
		files.NewWriteTool(filesCfg).ToModelsTool(),
		files.NewEditTool(filesCfg).ToModelsTool(),
		files.NewApplyPatchTool(filesCfg).ToModelsTool(),
		exec.NewExecTool("run_command", execMgr).ToModelsTool(),
		exec.NewProcessTool(execMgr).ToModelsTool(),
		exec.NewResolveTargetTool(backend).ToModelsTool(),
		exec.NewRunDiagnosticTool(backend).ToModelsTool(),
		exec.NewRunShellTool(backend).ToModelsTool(),
	}
	for _, tool := range native {
		if err := registry.Register(tool); err != nil {
			return nil, fmt.Errorf("register tool %q: %w", tool.Name, err)
		}
	}

	mcp.RegisterTools(registry, mcpMgr)
	return registry, nil
}

// buildExecBackend selects the execution substrate for resolve_target,
// run_diagnostic, and run_shell per cfg.Sandbox.Kind. "local" execs
// directly against the host; "docker" and "firecracker" isolate every call
// in a container or microVM instead.
func buildExecBackend(cfg *config.Config, execMgr *exec.Manager) (exec.Backend, error) {
	switch cfg.Sandbox.Kind {
	case "", "local":
		return exec.NewLocalBackend(execMgr), nil
	case "docker":
		opts := []sandbox.Option{
			sandbox.WithCPULimit(cfg.Sandbox.Docker.CPULimit),
			sandbox.WithMemoryLimit(cfg.Sandbox.Docker.MemLimitMB),
			sandbox.WithNetworkEnabled(cfg.Sandbox.Docker.NetworkEnabled),
			sandbox.WithWorkspaceRoot(cfg.Storage.BaseDir),
			sandbox.WithWorkspaceAccess(sandbox.WorkspaceAccessMode(cfg.Sandbox.Docker.WorkspaceAccess)),
		}
		return sandbox.NewDockerBackend(cfg.Sandbox.Docker.Image, opts...)
	case "firecracker":
		fcConfig := &firecracker.BackendConfig{
			KernelPath:     cfg.Sandbox.Firecracker.KernelPath,
			RootFSPath:     cfg.Sandbox.Firecracker.RootFSPath,
			OverlayDir:     cfg.Sandbox.Firecracker.OverlayDir,
			VCPUs:          cfg.Sandbox.Firecracker.VCPUs,
			MemSizeMB:      cfg.Sandbox.Firecracker.MemSizeMB,
			NetworkEnabled: cfg.Sandbox.Firecracker.NetworkEnabled,
		}
		return sandbox.NewFirecrackerBackend(fcConfig, 30*time.Second)
	default:
		return nil, fmt.Errorf("unknown sandbox kind %q", cfg.Sandbox.Kind)
	}
}

func buildSessionCollaborators(rt *runtime) (*policy.Engine, *agent.ToolRegistry, error) {
	engineCfg, err := rt.cfg.Policy.ToEngineConfig()
	if err != nil {
		return nil, nil, err
	}
	policyEngine, err := policy.NewEngine(engineCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("build policy engine: %w", err)
	}

	registry, err := buildToolRegistry(rt.cfg, rt.mcpMgr)
	if err != nil {
		return nil, nil, err
	}
	return policyEngine, registry, nil
}

// buildRunCmd runs one user turn to quiescence, streaming chunks to stdout.
func buildRunCmd() *cobra.Command {
	var sessionID string
	cmd := &cobra.Command{
		Use:   "run [prompt]",
		Short: "Run one turn of the agent loop against a session",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt, err := resolvePrompt(cmd, args)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			rt, err := buildRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			policyEngine, registry, err := buildSessionCollaborators(rt)
			if err != nil {
				return err
			}

			apiKey := os.Getenv(rt.cfg.LLM.APIKeyEnv)
			provider, err := providers.New(providers.Selection{
				Name:    rt.cfg.LLM.Name,
				Model:   rt.cfg.LLM.Model,
				APIBase: rt.cfg.LLM.APIBase,
				APIKey:  apiKey,
			})
			if err != nil {
				return fmt.Errorf("build provider: %w", err)
			}

			if sessionID == "" {
				s, err := rt.store.CreateSession(ctx)
				if err != nil {
					return fmt.Errorf("create session: %w", err)
				}
				sessionID = s.ID
				fmt.Fprintf(cmd.OutOrStdout(), "session: %s\n", sessionID)
			}

			loop := agent.NewAgenticLoop(provider, registry, rt.store, policyEngine, &agent.LoopConfig{
				MaxTurns:    rt.cfg.Session.MaxTurns,
				TokenBudget: rt.cfg.Session.TokenBudget,
				Model:       rt.cfg.LLM.Model,
			})
			loop.SetAuditLogger(rt.audit)
			loop.SetTracer(rt.tracer)
			loop.SetMetrics(rt.metrics)
			loop.SetConfirmFunc(stdinConfirm(cmd))

			chunks := loop.Run(ctx, sessionID, prompt)
			return renderChunks(cmd, chunks)
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "Existing session id to continue (creates a new session if omitted)")
	return cmd
}

func resolvePrompt(cmd *cobra.Command, args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	scanner := bufio.NewScanner(cmd.InOrStdin())
	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("read prompt from stdin: %w", err)
	}
	prompt := strings.TrimSpace(strings.Join(lines, "\n"))
	if prompt == "" {
		return "", fmt.Errorf("no prompt given: pass it as an argument or pipe it on stdin")
	}
	return prompt, nil
}

// stdinConfirm asks the operator on stdin/stdout whether to proceed with a
// confirm-gated tool call. A nil ConfirmFunc would deny by default; this
// lets an interactive operator actually escalate to allow.
func stdinConfirm(cmd *cobra.Command) agent.ConfirmFunc {
	return func(ctx context.Context, req agent.ConfirmRequest) (bool, error) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s tool call %q (%s)? [y/N] ", req.Decision.Decision, req.ToolCall.Name, req.Decision.Reason)
		reader := bufio.NewReader(cmd.InOrStdin())
		line, err := reader.ReadString('\n')
		if err != nil {
			return false, nil
		}
		answer := strings.ToLower(strings.TrimSpace(line))
		return answer == "y" || answer == "yes", nil
	}
}

func renderChunks(cmd *cobra.Command, chunks <-chan *agent.StreamChunk) error {
	out := cmd.OutOrStdout()
	for chunk := range chunks {
		switch chunk.Kind {
		case agent.ChunkTextDelta:
			fmt.Fprint(out, chunk.TextDelta)
		case agent.ChunkToolCallCompleted:
			fmt.Fprintf(out, "\n[tool call] %s(%s)\n", chunk.ToolName, chunk.ToolCallID)
		case agent.ChunkPolicyDecision:
			if chunk.PolicyDecision != nil {
				fmt.Fprintf(out, "[policy] %s: %s (%s)\n", chunk.PolicyDecision.ToolName, chunk.PolicyDecision.Decision, chunk.PolicyDecision.Reason)
			}
		case agent.ChunkToolResult:
			if chunk.ToolResult != nil {
				fmt.Fprintf(out, "[tool result] %s: %s\n", chunk.ToolResult.ToolName, chunk.ToolResult.Status)
			}
		case agent.ChunkTurnComplete:
			fmt.Fprintln(out)
		case agent.ChunkError:
			if chunk.Err != nil {
				return fmt.Errorf("turn failed: %s", chunk.Err.Error())
			}
		}
	}
	return nil
}

// buildSessionsCmd creates the "sessions" command group.
func buildSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect and export session logs",
	}
	cmd.AddCommand(buildSessionsListCmd(), buildSessionsExportCmd())
	return cmd
}

func buildSessionsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List known sessions, most recent first",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := buildRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			list, err := rt.store.ListSessions(ctx)
			if err != nil {
				return fmt.Errorf("list sessions: %w", err)
			}
			out := cmd.OutOrStdout()
			for _, s := range list {
				fmt.Fprintf(out, "%s\t%s\n", s.ID, s.CreatedAt.Format("2006-01-02T15:04:05Z07:00"))
			}
			return nil
		},
	}
}

func buildSessionsExportCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "export <session-id>",
		Short: "Export a session as events_jsonl or runbook_markdown",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			exportFormat := sessions.ExportFormat(format)
			if !sessions.IsValidExportFormat(exportFormat) {
				return fmt.Errorf("unknown format %q: want events_jsonl or runbook_markdown", format)
			}

			ctx := cmd.Context()
			rt, err := buildRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			return sessions.Export(ctx, rt.store, args[0], exportFormat, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&format, "format", string(sessions.ExportRunbookMarkdown), "Export format: events_jsonl or runbook_markdown")
	return cmd
}
