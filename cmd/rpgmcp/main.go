// Command rpgmcp runs the Repository Planning Graph MCP server.
//
// It communicates over stdio using JSON-RPC 2.0 (MCP protocol) and
// persists its graph under a repository's .rpg/ directory.
//
// Optional environment variables:
//
//	RPGMCP_CONFIG                - path to a TOML config file
//	RPGMCP_LOG_LEVEL             - log level: debug, info, warn, error (default: info)
//	RPGMCP_PARSER_URL            - parser collaborator endpoint
//	RPGMCP_EMBEDDING_URL         - embedding collaborator endpoint
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rpgmcp/rpgmcp/internal/config"
	"github.com/rpgmcp/rpgmcp/internal/mcp"
	"github.com/rpgmcp/rpgmcp/internal/rpg"
	"github.com/rpgmcp/rpgmcp/internal/scheduler"
	"github.com/rpgmcp/rpgmcp/internal/service"
	rpgtools "github.com/rpgmcp/rpgmcp/internal/tools/rpg"
)

// Version is set via ldflags at build time.
var Version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "rpgmcp: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath, repoDir string
	flag.StringVar(&configPath, "config", "", "path to a TOML config file")
	flag.StringVar(&repoDir, "repo", ".", "repository root whose .rpg/ directory holds persisted state")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Log.Level),
	}))

	version := cfg.Server.Version
	if Version != "dev" {
		version = Version
	}

	absRepo, err := filepath.Abs(repoDir)
	if err != nil {
		return fmt.Errorf("resolving repo path: %w", err)
	}

	logger.Info("starting rpgmcp", "version", version, "repo", absRepo)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	timeout := time.Duration(cfg.Collaborators.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	var parser rpg.ParserCollaborator
	if cfg.Collaborators.ParserURL != "" {
		parser = newHTTPParserCollaborator(cfg.Collaborators.ParserURL, timeout)
	}
	var embedder rpg.EmbeddingCollaborator
	if cfg.Collaborators.EmbeddingURL != "" {
		embedder = newHTTPEmbeddingCollaborator(cfg.Collaborators.EmbeddingURL, timeout)
	}

	svc, err := service.New(cfg, filepath.Join(absRepo, ".rpg"), parser, embedder, logger)
	if err != nil {
		return fmt.Errorf("constructing service: %w", err)
	}

	registry := mcp.NewRegistry()

	registry.Register(rpgtools.NewBuildRPG(svc))
	registry.Register(rpgtools.NewUpdateRPG(svc))
	registry.Register(rpgtools.NewReloadRPG(svc))
	registry.Register(rpgtools.NewRPGInfo(svc))

	registry.Register(rpgtools.NewLiftingStatus(svc))
	registry.Register(rpgtools.NewGetEntitiesForLifting(svc))
	registry.Register(rpgtools.NewSubmitLiftResults(svc))
	registry.Register(rpgtools.NewFinalizeLifting(svc))
	registry.Register(rpgtools.NewGetFilesForSynthesis(svc))
	registry.Register(rpgtools.NewSubmitFileSyntheses(svc))

	registry.Register(rpgtools.NewBuildSemanticHierarchy(svc))
	registry.Register(rpgtools.NewSubmitHierarchy(svc))
	registry.Register(rpgtools.NewGetRoutingCandidates(svc))
	registry.Register(rpgtools.NewSubmitRoutingDecisions(svc))

	registry.Register(rpgtools.NewSearchNode(svc))
	registry.Register(rpgtools.NewFetchNode(svc))
	registry.Register(rpgtools.NewExploreRPG(svc))
	registry.Register(rpgtools.NewContextPack(svc))
	registry.Register(rpgtools.NewImpactRadius(svc))
	registry.Register(rpgtools.NewPlanChange(svc))
	registry.Register(rpgtools.NewFindPaths(svc))
	registry.Register(rpgtools.NewSliceBetween(svc))

	var sched *scheduler.Scheduler
	if cfg.Janitor.Enabled {
		sched = scheduler.NewScheduler(logger)
		sched.AddJob(rpg.NewConsistencyJob(svc.Store, logger), time.Duration(cfg.Janitor.IntervalHours)*time.Hour)
		sched.Start(ctx)
		defer sched.Stop()
	}

	server := mcp.NewServer(registry, mcp.ServerInfo{
		Name:    cfg.Server.Name,
		Version: version,
	}, logger)

	var runErr error
	if cfg.Transport.Mode == "http" {
		runErr = runHTTP(ctx, server, cfg, logger)
	} else {
		runErr = server.Run(ctx)
	}
	if runErr != nil {
		return runErr
	}
	return svc.Flush()
}

func runHTTP(ctx context.Context, server *mcp.Server, cfg *config.Config, logger *slog.Logger) error {
	httpServer := mcp.NewHTTPServer(server, cfg.Transport.CORSOrigins, logger)
	addr := cfg.Transport.Host + ":" + cfg.Transport.Port
	httpSrv := &http.Server{Addr: addr, Handler: httpServer.Handler()}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("rpgmcp listening", "addr", addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
