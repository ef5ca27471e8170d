package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/agentdeck/agentdeck/pkg/agent"
	"github.com/agentdeck/agentdeck/pkg/api"
	"github.com/agentdeck/agentdeck/pkg/config"
	"github.com/agentdeck/agentdeck/pkg/container/docker"
	"github.com/agentdeck/agentdeck/pkg/logger"
	"github.com/agentdeck/agentdeck/pkg/session"
	"github.com/agentdeck/agentdeck/pkg/state"
)

var (
	host string
	port int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the AgentDeck API server",
	Long:  `Starts the AgentDeck control plane and listens for HTTP requests.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()
		return runServe(ctx, fmt.Sprintf("%s:%d", host, port))
	},
}

func init() {
	serveCmd.Flags().StringVar(&host, "host", "127.0.0.1", "Host address to bind the server to")
	serveCmd.Flags().IntVar(&port, "port", 8000, "Port to bind the server to")
}

func runServe(ctx context.Context, address string) error {
	cfg := config.Load()

	var rt *docker.Client
	var err error
	if cfg.DockerSocket != "" {
		rt, err = docker.NewClientWithSocketPath(ctx, cfg.DockerSocket)
	} else {
		rt, err = docker.NewClient(ctx)
	}
	if err != nil {
		return fmt.Errorf("failed to create container runtime: %w", err)
	}

	agentManager, err := agent.NewManager(rt, cfg.WorkerImage, cfg.StateDir)
	if err != nil {
		return fmt.Errorf("failed to create agent manager: %w", err)
	}

	store := state.NewLocalStore(filepath.Join(cfg.StateDir, "registry.json"))
	sessionManager := session.NewManager(ctx, agentManager, store, cfg.SessionIdleMinutes)
	sweeper := session.NewSweeper(sessionManager, time.Duration(cfg.SessionSweepSeconds)*time.Second)

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		sweeper.Run(ctx)
		return nil
	})
	group.Go(func() error {
		return api.Serve(ctx, address, sessionManager)
	})

	if err := group.Wait(); err != nil {
		return err
	}
	logger.Infof("AgentDeck stopped")
	return nil
}
