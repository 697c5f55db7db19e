// ABOUTME: Builds the frozen tool registry from configured built-in packs and MCP servers.
// ABOUTME: Owns the note store and MCP sessions so shutdown can release them.

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/2389/chat-gateway/internal/builtins"
	"github.com/2389/chat-gateway/internal/config"
	"github.com/2389/chat-gateway/internal/store"
	"github.com/2389/chat-gateway/internal/tools"
)

// toolset is the registry plus the resources its tools hold open.
type toolset struct {
	registry *tools.Registry
	notes    store.NoteStore
	sources  []*tools.MCPSource
}

// buildToolset registers every configured pack and freezes the registry.
func buildToolset(ctx context.Context, cfg *config.Config, httpClient *http.Client, logger *slog.Logger) (*toolset, error) {
	ts := &toolset{
		registry: tools.NewRegistry(tools.Options{
			DefaultTimeout: cfg.Tools.Timeout,
			Logger:         logger,
		}),
	}

	if err := ts.registerBuiltins(cfg, httpClient); err != nil {
		_ = ts.Close()
		return nil, err
	}

	for _, srv := range cfg.Tools.MCPServers {
		src, err := tools.DialMCP(ctx, srv.Name, srv.URL, logger)
		if err != nil {
			_ = ts.Close()
			return nil, fmt.Errorf("connecting MCP server %s: %w", srv.Name, err)
		}
		ts.sources = append(ts.sources, src)

		pack, err := src.Pack(ctx)
		if err != nil {
			_ = ts.Close()
			return nil, err
		}
		if err := ts.registry.RegisterPack(pack); err != nil {
			_ = ts.Close()
			return nil, fmt.Errorf("registering MCP server %s: %w", srv.Name, err)
		}
	}

	ts.registry.Freeze()
	logger.Info("tool registry frozen", "tool_count", ts.registry.Len())
	return ts, nil
}

func (ts *toolset) registerBuiltins(cfg *config.Config, httpClient *http.Client) error {
	if cfg.HasBuiltin(config.BuiltinBase) {
		if err := ts.registry.RegisterPack(builtins.BasePack(httpClient)); err != nil {
			return fmt.Errorf("registering base pack: %w", err)
		}
	}
	if cfg.HasBuiltin(config.BuiltinNotes) {
		notes, err := store.NewSQLiteStore(cfg.Tools.Notes.Path)
		if err != nil {
			return fmt.Errorf("opening note store: %w", err)
		}
		ts.notes = notes
		if err := ts.registry.RegisterPack(builtins.NotesPack(notes)); err != nil {
			return fmt.Errorf("registering notes pack: %w", err)
		}
	}
	return nil
}

// Close ends MCP sessions and closes the note store.
func (ts *toolset) Close() error {
	var errs []error
	for _, src := range ts.sources {
		if err := src.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	ts.sources = nil
	if ts.notes != nil {
		if err := ts.notes.Close(); err != nil {
			errs = append(errs, err)
		}
		ts.notes = nil
	}
	return errors.Join(errs...)
}
