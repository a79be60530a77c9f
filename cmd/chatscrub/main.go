package main

import (
	"flag"
	"fmt"
	"net/http"

	"github.com/chatscrub/chatscrub/internal/config"
	"github.com/chatscrub/chatscrub/internal/logger"
	"github.com/chatscrub/chatscrub/internal/mcpserver"
	"github.com/chatscrub/chatscrub/internal/scan"
	"github.com/chatscrub/chatscrub/internal/server"
	"github.com/chatscrub/chatscrub/internal/store"
)

const version = "1.0.0"

func main() {
	mcpMode := flag.Bool("mcp", false, "serve MCP over stdio instead of HTTP")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.L.Error("failed to load configuration", "error", err)
		return
	}
	logger.SetLevel(cfg.Log.Level)

	st := store.New()
	runner := scan.NewRunner(st, cfg)

	if *mcpMode {
		logger.L.Info("serving MCP on stdio")
		if err := mcpserver.New(st, runner, version).ServeStdio(); err != nil {
			logger.L.Error("MCP server stopped", "error", err)
		}
		return
	}

	srv := server.New(st, runner)

	serverAddr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	logger.L.Info("starting server", "address", serverAddr)
	if err := http.ListenAndServe(serverAddr, srv.Handler()); err != nil {
		logger.L.Error("failed to start server", "error", err)
	}
}
