package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/stdr"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/stepherg/vshostbridge/internal/config"
	"github.com/stepherg/vshostbridge/internal/diagnostics"
	"github.com/stepherg/vshostbridge/internal/events"
	"github.com/stepherg/vshostbridge/internal/loadestimator"
	"github.com/stepherg/vshostbridge/internal/protocol"
	"github.com/stepherg/vshostbridge/internal/rpc"
	"github.com/stepherg/vshostbridge/internal/services"
	"github.com/stepherg/vshostbridge/internal/socket"
)

func newServeCommand() *cobra.Command {
	var listen string
	var transport string
	var diagAddr string
	var keepAlive bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Accept extension host connections and run the IPC/RPC core",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Listen = listen
			}
			if transport != "" {
				cfg.Transport = config.Transport(transport)
			}
			if cmd.Flags().Changed("keepalive") {
				cfg.KeepAliveEnabled = keepAlive
			}

			stdLog := stdr.New(log.New(os.Stderr, "", log.LstdFlags))
			stdr.SetVerbosity(cfg.LogLevel)
			return runServe(cmd.Context(), cfg, stdLog, diagAddr)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "listen address, overrides VSHOSTBRIDGE_LISTEN")
	cmd.Flags().StringVar(&transport, "transport", "", "tcp|unix|websocket, overrides VSHOSTBRIDGE_TRANSPORT")
	cmd.Flags().StringVar(&diagAddr, "diagnostics-listen", ":9230", "HTTP address serving /healthz and /diagnostics/stream")
	cmd.Flags().BoolVar(&keepAlive, "keepalive", true, "enable PersistentProtocol keep-alive ticker, overrides VSHOSTBRIDGE_KEEPALIVE")

	return cmd
}

func runServe(ctx context.Context, cfg config.Config, log logr.Logger, diagAddr string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	bus := events.NewBus()

	diagSrv := &http.Server{Addr: diagAddr}
	diagMux := http.NewServeMux()
	diagMux.HandleFunc("/healthz", diagnostics.HealthHandler())
	diagMux.HandleFunc("/diagnostics/stream", diagnostics.StreamHandler(bus, log))
	diagSrv.Handler = diagMux

	// The diagnostics server, the IPC listener (or upgrade server), and
	// the shutdown watcher run as one coordinated group: any one
	// returning an error cancels gctx for the other two, and Wait
	// reports the first failure.
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := diagSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("diagnostics server: %w", err)
		}
		return nil
	})

	var closeIPC func() error

	switch cfg.Transport {
	case config.TransportWS:
		ipcSrv := &http.Server{Addr: cfg.Listen}
		ipcMux := http.NewServeMux()
		ipcMux.HandleFunc("/ipc", func(w http.ResponseWriter, r *http.Request) {
			sock, err := socket.UpgradeHTTP(w, r, cfg.AllowedOrigin, log)
			if err != nil {
				log.Error(err, "websocket upgrade rejected", "origin", r.Header.Get("Origin"))
				return
			}
			serveSocket(sock, cfg, log, bus, uuid.NewString(), r.RemoteAddr)
		})
		ipcSrv.Handler = ipcMux
		log.Info("listening", "transport", cfg.Transport, "address", cfg.Listen, "path", "/ipc")

		g.Go(func() error {
			if err := ipcSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return fmt.Errorf("ipc server: %w", err)
			}
			return nil
		})
		closeIPC = ipcSrv.Close

	case config.TransportTCP, config.TransportUnix:
		ln, err := net.Listen(string(cfg.Transport), cfg.Listen)
		if err != nil {
			return fmt.Errorf("vshostbridge: listen: %w", err)
		}
		log.Info("listening", "transport", cfg.Transport, "address", cfg.Listen)

		g.Go(func() error {
			for {
				conn, err := ln.Accept()
				if err != nil {
					select {
					case <-gctx.Done():
						return nil
					default:
						return fmt.Errorf("accept: %w", err)
					}
				}
				go handleConnection(conn, cfg, log, bus)
			}
		})
		closeIPC = ln.Close

	default:
		return fmt.Errorf("vshostbridge: unknown transport %q", cfg.Transport)
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = diagSrv.Shutdown(shutdownCtx)
		_ = closeIPC()
		return nil
	})

	return g.Wait()
}

// handleConnection wires one accepted net.Conn into a NodeSocket and
// hands it to serveSocket.
func handleConnection(conn net.Conn, cfg config.Config, log logr.Logger, bus *events.Bus) {
	connID := uuid.NewString()
	sock := socket.NewNodeSocket(conn, log.WithValues("conn", connID))
	serveSocket(sock, cfg, log, bus, connID, conn.RemoteAddr().String())
}

// serveSocket wires one connected socket.Socket through the full layer
// stack: Socket -> PersistentProtocol -> RPCProtocol, then registers the
// host-side service mocks (see registerHostServices).
func serveSocket(sock socket.Socket, cfg config.Config, log logr.Logger, bus *events.Bus, connID, remote string) {
	connLog := log.WithValues("conn", connID)
	bus.Publish(events.Event{ConnID: connID, Kind: events.KindConnected, Detail: remote})

	p := protocol.NewPersistentProtocol(sock, connLog,
		protocol.WithKeepAlive(cfg.KeepAliveEnabled),
		protocol.WithLoadEstimator(loadestimator.NewHeuristic()),
		protocol.WithUnresponsiveThreshold(cfg.UnresponsiveThreshold),
		protocol.WithReconnectionGrace(cfg.ReconnectGrace),
	)
	r := rpc.NewRPCProtocol(p, connLog)

	registerHostServices(r)

	p.OnSocketClose(func(e socket.CloseEvent) {
		bus.Publish(events.Event{ConnID: connID, Kind: events.KindDisconnected, Detail: e.String()})
	})
	p.OnDidDispose(func() {
		bus.Publish(events.Event{ConnID: connID, Kind: events.KindDisposed})
	})
	r.OnDidChangeResponsiveState(func(s rpc.ResponsiveState) {
		kind := events.KindResponsive
		if s == rpc.StateUnresponsive {
			kind = events.KindUnresponsive
		}
		bus.Publish(events.Event{ConnID: connID, Kind: kind})
	})

	sock.StartReceiving()
}

// registerHostServices installs host-side mock implementations of the
// MainThreadDocuments, MainThreadCommands and MainThreadStorage shapes:
// the core does not implement editor or document semantics, it only needs
// somewhere to dispatch incoming calls so the wire protocol can be
// exercised end to end. No local is registered for the other MainThread*
// identifiers, so calls to them are answered with a missing-actor error.
func registerHostServices(r *rpc.RPCProtocol) {
	r.RegisterLocal(services.MainThreadDocuments, &services.MockMainThreadDocuments{})
	r.RegisterLocal(services.MainThreadCommands, services.NewMockMainThreadCommands())
	r.RegisterLocal(services.MainThreadStorage, services.NewMockMainThreadStorage())
}
