// Package tendermint runs the talk ABCI application behind a socket server
// and talks to the Tendermint node over RPC.
//
// Tendermint runs as a separate process and connects to the socket given by
// its --proxy_app flag; talkd only serves the application side.
package tendermint

import (
	"errors"
	"fmt"
	"os"
	"strings"

	abciserver "github.com/tendermint/tendermint/abci/server"
	abci "github.com/tendermint/tendermint/abci/types"
	tmlog "github.com/tendermint/tendermint/libs/log"
	"github.com/tendermint/tendermint/libs/service"
)

// Config holds configuration for the ABCI server and Tendermint connection.
type Config struct {
	// TendermintHome is the directory for Tendermint data and config
	TendermintHome string

	// SocketAddress is where the ABCI server listens, "unix://talk.sock" or
	// "tcp://127.0.0.1:26658"
	SocketAddress string

	// Logger receives the socket server's own logs; nil discards them.
	Logger tmlog.Logger
}

// ABCIServer wraps an ABCI socket server.
type ABCIServer struct {
	server service.Service
	socket string
}

// NewABCIServer creates a socket server for app. Call Start to begin listening.
func NewABCIServer(app abci.Application, config *Config) (*ABCIServer, error) {
	if app == nil {
		return nil, errors.New("ABCI application cannot be nil")
	}
	if config == nil {
		return nil, errors.New("config cannot be nil")
	}
	if config.SocketAddress == "" {
		return nil, errors.New("socket address cannot be empty")
	}

	server := abciserver.NewSocketServer(config.SocketAddress, app)
	logger := config.Logger
	if logger == nil {
		logger = tmlog.NewNopLogger()
	}
	server.SetLogger(logger.With("module", "abci-server"))

	return &ABCIServer{server: server, socket: config.SocketAddress}, nil
}

// Start begins listening for Tendermint connections. A stale unix socket
// file from an earlier run is removed first.
func (s *ABCIServer) Start() error {
	if path, ok := unixPath(s.socket); ok {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove stale socket: %w", err)
		}
	}
	if err := s.server.Start(); err != nil {
		return fmt.Errorf("failed to start ABCI server: %w", err)
	}
	return nil
}

// Stop shuts the server down and removes the socket file.
func (s *ABCIServer) Stop() error {
	if s.server.IsRunning() {
		if err := s.server.Stop(); err != nil {
			return fmt.Errorf("failed to stop ABCI server: %w", err)
		}
	}

	if path, ok := unixPath(s.socket); ok {
		os.Remove(path)
	}
	return nil
}

// IsRunning returns true if the ABCI server is currently running.
func (s *ABCIServer) IsRunning() bool {
	return s.server.IsRunning()
}

// SocketPath returns the socket address the server is listening on.
func (s *ABCIServer) SocketPath() string {
	return s.socket
}

func unixPath(addr string) (string, bool) {
	return strings.CutPrefix(addr, "unix://")
}
