// Command gen4eva keeps an image-generation page generating forever.
//
// Usage:
//
//	gen4eva -config gen4eva.yaml             # drive the page from YAML config
//	gen4eva -url https://host/image          # defaults, explicit page
//	gen4eva -config gen4eva.yaml -mcp        # also serve control tools on stdio
//	gen4eva -print-script                    # print the page bridge and exit
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/gen4eva"
	"github.com/hazyhaar/gen4eva/internal/bridge"
)

func main() {
	configPath := flag.String("config", "", "path to gen4eva.yaml config file")
	pageURL := flag.String("url", "", "host page URL (overrides page.url)")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	serveMCP := flag.Bool("mcp", false, "serve MCP control tools on stdin/stdout")
	printScript := flag.Bool("print-script", false, "print the page bridge script and exit")
	flag.Parse()

	if *printScript {
		fmt.Print(bridge.Script())
		return
	}

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, *configPath, *pageURL, *serveMCP); err != nil {
		logger.Error("gen4eva: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, configPath, pageURL string, serveMCP bool) error {
	cfg := gen4eva.DefaultConfig()
	if configPath != "" {
		var err error
		if cfg, err = gen4eva.LoadConfigFile(configPath); err != nil {
			return fmt.Errorf("load config: %w", err)
		}
	}
	if pageURL != "" {
		cfg.Page.URL = pageURL
	}
	if cfg.Page.URL == "" {
		fmt.Fprintln(os.Stderr, "usage: gen4eva -config <file> | -url <url> [-mcp] | -print-script")
		os.Exit(2)
	}

	agent := gen4eva.New(cfg, logger)
	if err := agent.Start(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	defer agent.Stop()

	if serveMCP {
		srv := mcp.NewServer(&mcp.Implementation{Name: "gen4eva", Version: bridge.Revision()}, nil)
		agent.Control().RegisterMCP(srv)
		logger.Info("gen4eva: serving MCP on stdio")
		if err := srv.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
			return fmt.Errorf("mcp: %w", err)
		}
		return nil
	}

	<-ctx.Done()
	return nil
}
