package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	tmlog "github.com/tendermint/tendermint/libs/log"

	"talk.mini/talk/internal/abci"
	"talk.mini/talk/internal/api"
	"talk.mini/talk/internal/config"
	"talk.mini/talk/internal/docs"
	"talk.mini/talk/internal/events"
	"talk.mini/talk/internal/identity"
	"talk.mini/talk/internal/ledger"
	"talk.mini/talk/internal/logger"
	"talk.mini/talk/internal/tendermint"
	"talk.mini/talk/internal/types"
)

type options struct {
	configPath string
	initNode   bool
	withNode   bool
}

func run(ctx context.Context, opts options) error {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := config.LoadConfig(opts.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ring := logger.New(cfg.LogBuffer)
	if err := logger.Setup(cfg.LogLevel, ring); err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	log.WithFields(log.Fields{"version": types.Version, "backend": cfg.Backend}).Info("talkd starting")

	id, err := identity.LoadOrCreateIdentity(cfg.KeyFile)
	if err != nil {
		return fmt.Errorf("load identity: %w", err)
	}
	keyring, err := identity.NewKeyring(cfg.Keyring)
	if err != nil {
		return fmt.Errorf("load keyring: %w", err)
	}
	log.WithFields(log.Fields{"node": id.PublicKeyHex(), "registered": len(keyring.Users())}).Info("identity loaded")

	store, err := openBackend(cfg)
	if err != nil {
		return err
	}
	defer closeBackend(store, cfg)

	l := ledger.New(store.Backend)
	if err := l.Audit(); err != nil {
		return fmt.Errorf("ledger audit: %w", err)
	}

	hub := events.NewHub()
	app, err := abci.NewABCIApplication(l, keyring, hub)
	if err != nil {
		return fmt.Errorf("create abci application: %w", err)
	}

	tmCfg := &tendermint.Config{
		TendermintHome: cfg.TendermintHome,
		SocketAddress:  cfg.ABCISocket,
	}
	if log.IsLevelEnabled(log.DebugLevel) {
		tmCfg.Logger = tmlog.NewTMLogger(tmlog.NewSyncWriter(os.Stderr))
	}
	abciServer, err := tendermint.NewABCIServer(app, tmCfg)
	if err != nil {
		return err
	}
	if err := abciServer.Start(); err != nil {
		return err
	}
	defer abciServer.Stop()
	log.WithField("socket", abciServer.SocketPath()).Info("ABCI server listening")

	var node *exec.Cmd
	if opts.initNode || opts.withNode {
		if err := tendermint.InitTendermint(cfg.TendermintHome); err != nil {
			return err
		}
	}
	if opts.withNode {
		node = tendermint.GetTendermintCommand(cfg.TendermintHome, cfg.ABCISocket)
		if err := node.Start(); err != nil {
			return fmt.Errorf("start tendermint: %w", err)
		}
		log.WithField("pid", node.Process.Pid).Info("tendermint node started")
	}

	if err := ensurePortAvailable(cfg.HTTPPort); err != nil {
		return fmt.Errorf("port %d unavailable: %w", cfg.HTTPPort, err)
	}
	svc := api.NewService(store.Backend, hub, ring, docs.NewService(nil), id.PublicKeyHex())
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           svc.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serverErrors := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrors <- err
		}
	}()
	log.Infof("Operator API available at http://localhost:%d", cfg.HTTPPort)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case <-ctx.Done():
		log.Info("Shutting down...")
	case err := <-serverErrors:
		log.WithError(err).Error("HTTP server exited")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	httpServer.Shutdown(shutdownCtx)

	if node != nil && node.Process != nil {
		node.Process.Signal(syscall.SIGTERM)
		node.Wait()
	}
	return nil
}

func ensurePortAvailable(port int) error {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return err
	}
	return listener.Close()
}
