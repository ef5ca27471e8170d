// Package main is the entry point for the AgentDeck control plane.
package main

import (
	"os"

	"github.com/agentdeck/agentdeck/cmd/agentdeck/app"
	"github.com/agentdeck/agentdeck/pkg/logger"
)

func main() {
	logger.Initialize()

	if err := app.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
