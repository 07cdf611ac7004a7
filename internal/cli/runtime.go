package cli

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/Voyage-Pet-AI/vwork/internal/config"
	"github.com/Voyage-Pet-AI/vwork/pkg/agent"
	"github.com/Voyage-Pet-AI/vwork/pkg/coretools"
	"github.com/Voyage-Pet-AI/vwork/pkg/report"
	"github.com/Voyage-Pet-AI/vwork/pkg/session"
	"github.com/Voyage-Pet-AI/vwork/pkg/todo"
	"github.com/Voyage-Pet-AI/vwork/pkg/toolexecutor"
)

// runtime holds the assembled services subcommands run against.
type runtime struct {
	registry   *toolexecutor.Registry
	dispatcher *toolexecutor.Dispatcher
	notebook   *todo.Notebook
	store      *session.Store
	reports    *report.Service

	newSession func() (*agent.Session, error)

	toolServers []*toolexecutor.ToolServerClient
}

// buildRuntime wires the tool registry, transcript store, provider, and
// report service from config. External tool servers that fail to start are
// logged and skipped so one broken server does not take the assistant down.
func buildRuntime(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*runtime, error) {
	registry := toolexecutor.NewRegistry(log)

	if err := coretools.RegisterCoreTools(registry, coretools.Options{
		WorkspaceRoot: cfg.Workspace,
	}); err != nil {
		return nil, fmt.Errorf("failed to register core tools: %w", err)
	}

	notebook, err := todo.NewNotebook(cfg.Notebook.Dir, log)
	if err != nil {
		return nil, fmt.Errorf("failed to open notebook: %w", err)
	}
	if cfg.Notebook.Watch {
		if err := notebook.Watch(); err != nil {
			log.Warn().Err(err).Msg("Notebook watcher unavailable, falling back to unwatched reads")
		}
	}
	if err := todo.RegisterTodoTools(registry, notebook); err != nil {
		return nil, fmt.Errorf("failed to register todo tools: %w", err)
	}

	rt := &runtime{
		registry: registry,
		notebook: notebook,
	}

	for _, srv := range cfg.ToolServers {
		client := toolexecutor.NewToolServerClient(srv.Name, srv.Command, srv.Args)
		if err := client.Start(ctx); err != nil {
			log.Error().Str("server", srv.Name).Err(err).Msg("Tool server failed to start, skipping")
			continue
		}
		if err := registry.RegisterServer(ctx, srv.Name, client, srv.Allowlist); err != nil {
			log.Error().Str("server", srv.Name).Err(err).Msg("Tool server registration failed, skipping")
			_ = client.Stop()
			continue
		}
		rt.toolServers = append(rt.toolServers, client)
	}

	rt.store, err = session.NewStore(cfg.Transcripts.Dir, log)
	if err != nil {
		return nil, fmt.Errorf("failed to open transcript store: %w", err)
	}

	creds := agent.StaticCredential(cfg.Provider.APIKey)
	provider, err := agent.NewProvider(cfg.Provider.Name, creds, agent.ProviderOptions{
		Model:       cfg.Provider.Model,
		MaxTokens:   cfg.Provider.MaxTokens,
		Temperature: cfg.Provider.Temperature,
	})
	if err != nil {
		return nil, err
	}

	rt.dispatcher = toolexecutor.NewDispatcher(registry, log)
	rt.newSession = func() (*agent.Session, error) {
		return agent.NewSession(agent.SessionConfig{
			Provider:     provider,
			Dispatcher:   rt.dispatcher,
			SystemPrompt: cfg.Agent.SystemPrompt,
			MaxRounds:    cfg.Agent.MaxRounds,
			Logger:       log,
		})
	}

	rt.reports, err = report.NewService(rt.newSession, rt.store, log)
	if err != nil {
		return nil, fmt.Errorf("failed to build report service: %w", err)
	}

	if err := report.RegisterReportTools(registry, rt.reports); err != nil {
		return nil, fmt.Errorf("failed to register report tools: %w", err)
	}

	return rt, nil
}

// close stops the notebook watcher and all tool server processes.
func (rt *runtime) close(log zerolog.Logger) {
	if err := rt.notebook.Stop(); err != nil {
		log.Warn().Err(err).Msg("Notebook watcher did not stop cleanly")
	}
	for _, client := range rt.toolServers {
		if err := client.Stop(); err != nil {
			log.Warn().Str("server", client.Namespace()).Err(err).Msg("Tool server did not stop cleanly")
		}
	}
}
