// Command agentbridged is the local agent bridge daemon: it runs the
// reference claudecode adapter (and, when configured, the ACP adapter),
// the session orchestrator, the approval manager, and the WebSocket
// gateway behind one gin.Engine HTTP server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/relaywire/agentbridge/internal/acpadapter"
	"github.com/relaywire/agentbridge/internal/adapter"
	"github.com/relaywire/agentbridge/internal/approval"
	"github.com/relaywire/agentbridge/internal/catalogue"
	"github.com/relaywire/agentbridge/internal/claudecode"
	"github.com/relaywire/agentbridge/internal/config"
	gwws "github.com/relaywire/agentbridge/internal/gateway/websocket"
	"github.com/relaywire/agentbridge/internal/logger"
	"github.com/relaywire/agentbridge/internal/orchestrator"
	"github.com/relaywire/agentbridge/internal/protocol"
	"github.com/relaywire/agentbridge/internal/relay"
	"github.com/relaywire/agentbridge/internal/tracing"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)

	log.Info("starting agentbridged")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	factory := protocol.NewFactory()

	// Session catalogue: persists descriptors so a restart doesn't forget
	// what sessions exist, and so multiple daemon instances sharing a
	// Postgres backend agree on session metadata.
	var catalog orchestrator.Catalogue
	switch cfg.Catalogue.Driver {
	case "postgres":
		pg, err := catalogue.NewPostgres(ctx, cfg.Catalogue.DSN)
		if err != nil {
			log.Fatal("failed to connect to catalogue database", zap.Error(err))
		}
		defer pg.Close()
		catalog = pg
		log.Info("using postgres session catalogue")
	default:
		catalog = catalogue.NewMemory()
		log.Info("using in-memory session catalogue")
	}

	// Cross-instance relay: disabled (single-instance, in-process) unless
	// a NATS URL is configured.
	var bus relay.EventBus
	if cfg.Bus.NATSURL != "" {
		nats, err := relay.NewNATS(cfg.Bus.NATSURL, log)
		if err != nil {
			log.Fatal("failed to connect to relay", zap.Error(err))
		}
		defer nats.Close()
		bus = nats
	} else {
		bus = relay.NewMemory()
	}

	approvalMgr := approval.New(cfg.Approval, log.WithFields(zap.String("component", "approval")), factory)

	adapters := make(map[string]adapter.Adapter)

	if cfg.Adapters.ClaudeCode.Enabled {
		cc := claudecode.New(cfg.Adapters.ClaudeCode, factory, log)
		adapters["claude-code"] = cc
		log.Info("claudecode adapter enabled", zap.String("sessionRoot", cfg.Adapters.ClaudeCode.SessionRoot))
	}

	if cfg.Adapters.ACP.Enabled {
		acp := acpadapter.New(cfg.Adapters.ACP, approvalMgr, factory, log)
		adapters["acp"] = acp
		log.Info("acp adapter enabled", zap.String("binary", cfg.Adapters.ACP.BinaryPath))
	}

	if len(adapters) == 0 {
		log.Fatal("no adapters enabled; set adapters.claudeCode.enabled or adapters.acp.enabled")
	}

	orch := orchestrator.New(log, adapters)
	orch.SetCatalogue(catalog)
	orch.SetRelay(bus)

	gateway := gwws.New(log)
	gateway.Hub.SetHooks(orch.Hooks(authenticator(cfg.Server.AuthToken)))
	gateway.Hub.SetApprovalHandler(approvalMgr)
	orch.SetBroadcaster(gateway.Hub)
	approvalMgr.SetBroadcaster(gateway.Hub)

	if err := orch.Start(ctx); err != nil {
		log.Fatal("failed to start orchestrator", zap.Error(err))
	}

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(tracing.GinMiddleware("agentbridged"))
	gateway.SetupRoutes(router, approvalMgr)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	// No blanket read/write timeouts: the hook approve endpoint blocks for
	// up to the approval timeout, and WebSocket connections are long-lived.
	// Slowloris-style abuse is bounded by the header timeout instead.
	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("listening", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down agentbridged")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	// Resolve every pending approval with "ask" before the WS/HTTP surface
	// goes away, so a client still waiting on approval:requested sees
	// approval:resolved instead of having its socket closed out from under
	// it.
	approvalMgr.Cleanup()
	gateway.Shutdown()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("http server shutdown error", zap.Error(err))
	}
	orch.Stop()
	if err := tracing.Shutdown(shutdownCtx); err != nil {
		log.Error("tracing shutdown error", zap.Error(err))
	}

	log.Info("agentbridged stopped")
}

// authenticator builds the hub's OnAuth hook from a single shared bearer
// token. An empty configured token accepts any client token, for local
// development where the daemon and its only client run on one machine.
func authenticator(expected string) orchestrator.AuthFunc {
	return func(ctx context.Context, token string) gwws.AuthResult {
		if expected == "" {
			return gwws.AuthResult{Valid: true, UserID: "local"}
		}
		if token == expected {
			return gwws.AuthResult{Valid: true, UserID: "local"}
		}
		return gwws.AuthResult{Valid: false}
	}
}
