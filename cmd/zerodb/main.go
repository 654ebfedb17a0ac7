// Command zerodb runs one Raft-replicated node of the document store.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	bundoc "github.com/kartikbazzad/zerodb"
	"github.com/kartikbazzad/zerodb/internal/config"
	"github.com/kartikbazzad/zerodb/internal/logging"
	"github.com/kartikbazzad/zerodb/internal/transport"
	"github.com/kartikbazzad/zerodb/raft"
)

var log zerolog.Logger

func main() {
	root := &cobra.Command{
		Use:     "zerodb",
		Short:   "A Raft-replicated document store",
		Version: "0.1.0",
	}
	root.AddCommand(serveCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	var (
		file       string
		host       string
		peerPort   uint16
		clientPort uint16
		dataDir    string
		logLevel   string
		logJSON    bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start a node and serve peer + client traffic until terminated",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Default()
			if file != "" {
				loaded, err := config.Load(file)
				if err != nil {
					return exitErr(2, err)
				}
				cfg = loaded
			}
			if cmd.Flags().Changed("host") {
				cfg.Network.Host = host
			}
			if cmd.Flags().Changed("peer-port") {
				cfg.Network.PeerPort = peerPort
			}
			if cmd.Flags().Changed("client-port") {
				cfg.Network.ClientPort = clientPort
			}
			if cmd.Flags().Changed("log-level") {
				cfg.Logging.Level = logLevel
			}
			if cmd.Flags().Changed("log-json") {
				cfg.Logging.JSON = logJSON
			}

			if err := cfg.Validate(); err != nil {
				return exitErr(2, err)
			}

			log = logging.New(logging.Config{Level: cfg.LogLevel(), JSON: cfg.Logging.JSON})

			if err := preflightListeners(cfg.PeerAddr(), cfg.ClientAddr()); err != nil {
				return exitErr(1, err)
			}

			if dataDir == "" {
				dataDir = "zerodb-data"
			}
			if err := os.MkdirAll(dataDir, 0o755); err != nil {
				return exitErr(2, fmt.Errorf("create data dir %q: %w", dataDir, err))
			}

			db, err := bundoc.Open(bundoc.DefaultOptions(dataDir))
			if err != nil {
				return exitErr(1, fmt.Errorf("open database: %w", err))
			}
			defer db.Close()

			raftCfg, err := cfg.RaftConfig()
			if err != nil {
				return exitErr(2, err)
			}

			store := raft.NewMemoryStore()
			nodeLogger := logging.ForNode(log, raftCfg.ID.String())
			node, err := raft.NewNode(raftCfg, store, db, nodeLogger)
			if err != nil {
				return exitErr(1, fmt.Errorf("construct node: %w", err))
			}

			srv := transport.NewServer(cfg.PeerAddr(), cfg.ClientAddr(), node.Channels(), node.Membership, logging.WithComponent(log, "transport"))
			if err := srv.Start(); err != nil {
				return exitErr(1, fmt.Errorf("start transport: %w", err))
			}

			ctx, cancel := context.WithCancel(context.Background())
			errCh := make(chan error, 1)
			go func() {
				errCh <- node.Start(ctx)
			}()

			log.Info().
				Str("node_id", raftCfg.ID.String()).
				Str("peer_addr", cfg.PeerAddr()).
				Str("client_addr", cfg.ClientAddr()).
				Msg("zerodb node started")

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

			select {
			case <-sigCh:
				log.Info().Msg("shutdown signal received")
			case err := <-errCh:
				cancel()
				srv.Stop()
				if err != nil {
					return exitErr(1, fmt.Errorf("node loop exited: %w", err))
				}
				return nil
			}

			cancel()
			<-errCh
			srv.Stop()
			log.Info().Msg("shutdown complete")
			return nil
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "path to a zerodb.toml configuration file")
	cmd.Flags().StringVar(&host, "host", "", "bind host (overrides network.host)")
	cmd.Flags().Uint16Var(&peerPort, "peer-port", 0, "peer RPC port (overrides network.peer_port)")
	cmd.Flags().Uint16Var(&clientPort, "client-port", 0, "client request port (overrides network.client_port)")
	cmd.Flags().StringVar(&dataDir, "data-dir", "", "directory for on-disk collection storage")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	cmd.Flags().BoolVar(&logJSON, "log-json", false, "emit logs as JSON")

	return cmd
}

// preflightListeners confirms both addresses are actually bindable before
// the database is opened and the node goroutine is spawned, so a port
// conflict fails fast instead of leaving storage half-initialized.
func preflightListeners(peerAddr, clientAddr string) error {
	for _, addr := range []string{peerAddr, clientAddr} {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("bind %s: %w", addr, err)
		}
		ln.Close()
	}
	return nil
}

// exitErr handles configuration errors (code 2) itself: it prints the error
// and exits the process with code 2 at once. For any other code it returns
// err unchanged; RunE's non-nil return is what makes main exit with code 1.
func exitErr(code int, err error) error {
	if code == 2 {
		fmt.Fprintln(os.Stderr, "configuration error:", err)
		os.Exit(2)
	}
	return err
}
