// Valet - action confirmation and execution pipeline for chat assistants.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/harborchat/valet/pkg/assistant"
	"github.com/harborchat/valet/pkg/audit"
	"github.com/harborchat/valet/pkg/bus"
	"github.com/harborchat/valet/pkg/config"
	"github.com/harborchat/valet/pkg/directory"
	"github.com/harborchat/valet/pkg/exec"
	"github.com/harborchat/valet/pkg/gateway"
	"github.com/harborchat/valet/pkg/logger"
	"github.com/harborchat/valet/pkg/orchestrator"
	"github.com/harborchat/valet/pkg/providers"
	"github.com/harborchat/valet/pkg/schedule"
	"github.com/harborchat/valet/pkg/session"
	"github.com/harborchat/valet/pkg/transport"
	"github.com/harborchat/valet/pkg/uistream"
)

var (
	version   = "dev"
	buildTime string
)

func main() {
	if len(os.Args) < 2 {
		printHelp()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		serveCmd()
	case "version", "--version", "-v":
		printVersion()
	case "help", "--help", "-h":
		printHelp()
	default:
		fmt.Printf("Unknown command: %s\n\n", os.Args[1])
		printHelp()
		os.Exit(1)
	}
}

func printVersion() {
	fmt.Printf("valet v%s\n", version)
	if buildTime != "" {
		fmt.Printf("  Build: %s\n", buildTime)
	}
	fmt.Printf("  Go: %s\n", runtime.Version())
}

func printHelp() {
	fmt.Println("valet - action confirmation and execution pipeline")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  valet serve [--config <path>]   Run the gateway and executor")
	fmt.Println("  valet version                   Show version")
}

func configPath() string {
	args := os.Args[2:]
	for i, arg := range args {
		if (arg == "--config" || arg == "-config") && i+1 < len(args) {
			return args[i+1]
		}
	}
	if p := os.Getenv("VALET_CONFIG"); p != "" {
		return p
	}
	return "valet.yaml"
}

func buildProvider(cfg *config.Config) providers.Provider {
	if cfg.Provider.Name == "openai" {
		return providers.NewOpenAIProvider(cfg.Provider.OpenAIAPIKey)
	}
	return providers.NewClaudeProvider(cfg.Provider.AnthropicAPIKey)
}

func buildDirectory(cfg *config.Config) directory.Directory {
	if cfg.Redis.Addr == "" {
		logger.InfoC("main", "contact directory: in-memory")
		return directory.NewMemoryDirectory()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	logger.InfoCF("main", "contact directory: redis", map[string]interface{}{
		"addr": cfg.Redis.Addr,
	})
	return directory.NewRedisDirectory(client)
}

func serveCmd() {
	godotenv.Load()

	cfg, err := config.Load(configPath())
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}
	logger.SetLevel(logger.ParseLevel(cfg.LogLevel))

	if err := os.MkdirAll(cfg.StateDir, 0755); err != nil {
		fmt.Printf("Error creating state dir: %v\n", err)
		os.Exit(1)
	}
	os.MkdirAll(filepath.Dir(cfg.AuditPath), 0755)

	auditStore, err := audit.OpenSQLite(cfg.AuditPath)
	if err != nil {
		fmt.Printf("Error opening audit store: %v\n", err)
		os.Exit(1)
	}
	defer auditStore.Close()

	dir := buildDirectory(cfg)
	schedules := schedule.NewMemoryStore()
	reminders := schedule.NewMemoryReminderStore()
	sessions := session.NewManager(filepath.Join(cfg.StateDir, "sessions"))
	mb := bus.NewMessageBus()

	svc := exec.NewService(auditStore, dir, schedules, reminders, mb, sessions)
	verifier := transport.NewVerifier([]byte(cfg.Auth.Secret))

	conn, err := transport.Connect(cfg.NATS.URL, "valet", cfg.NATS.Timeout)
	if err != nil {
		fmt.Printf("Error connecting to NATS: %v\n", err)
		os.Exit(1)
	}
	defer conn.Close()

	server := transport.NewServer(conn, svc, verifier, cfg.NATS.Timeout)
	if err := server.Start(); err != nil {
		fmt.Printf("Error starting action RPC: %v\n", err)
		os.Exit(1)
	}
	defer server.Close()
	fmt.Println("✓ Action RPC started")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bridge := transport.NewChatBridge(conn, mb)
	if err := bridge.Start(ctx); err != nil {
		fmt.Printf("Error starting chat bridge: %v\n", err)
		os.Exit(1)
	}
	defer bridge.Close()
	fmt.Println("✓ Chat bridge started")

	hub := uistream.NewHub()
	defer hub.Close()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", hub.Handler())
	httpServer := &http.Server{Addr: cfg.UI.Addr, Handler: mux}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.ErrorCF("main", "UI stream server failed", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}()
	fmt.Printf("✓ UI state stream on ws://%s/ws\n", cfg.UI.Addr)

	asst := assistant.New(buildProvider(cfg), sessions, cfg.Provider.Model)

	executors := func(principalID string) (orchestrator.Executor, error) {
		return transport.NewClient(conn, verifier, principalID, cfg.Auth.TokenTTL, cfg.NATS.Timeout)
	}
	gw := gateway.New(mb, asst, executors, dir, hub,
		orchestrator.WithCallTimeout(cfg.Pipeline.CallTimeout),
		orchestrator.WithResultTTL(cfg.Pipeline.ResultTTL),
	)
	go gw.Run(ctx)

	fmt.Println("✓ Gateway started")
	fmt.Println("Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)
	<-sigChan

	fmt.Println("\nShutting down...")
	cancel()
	mb.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	httpServer.Shutdown(shutdownCtx)
	fmt.Println("✓ Stopped")
}
