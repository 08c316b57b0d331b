// Command citadel-server hosts peer sessions, and also runs the
// rendezvous bootstrap when -bootstrap is set: it accepts
// primary-stream connections, assigns each one the next CID from a
// counter (no authentication is performed), and routes PeerSignals
// between sessions via internal/peer.Router.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"citadel/internal/account"
	"citadel/internal/config"
	"citadel/internal/peer"
	"citadel/internal/rendezvous"
	"citadel/pkg/logger"
)

const (
	appName    = "citadel-server"
	appVersion = "0.1.0"
)

func main() {
	var (
		configPath    = flag.String("config", "config.yml", "path to configuration file")
		bootstrapAddr = flag.String("bootstrap", "", "if set, also run the HTTP rendezvous bootstrap server on this address (e.g. :9000)")
		version       = flag.Bool("version", false, "show version information")
	)
	flag.Parse()

	if *version {
		fmt.Printf("%s v%s\n", appName, appVersion)
		os.Exit(0)
	}

	log := logger.NewDefaultLogger().WithComponent("main")
	log.Info("starting "+appName, logger.String("version", appVersion))

	configManager := config.NewManager()
	if err := configManager.LoadFromFile(*configPath); err != nil {
		log.Error("failed to load configuration", logger.Error(err), logger.String("path", *configPath))
		os.Exit(1)
	}
	cfg := configManager.Get()
	log.SetLevel(logger.ParseLevel(cfg.LogLevel))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	accounts := account.NewManager()
	router := peer.NewRouter(log)

	if *bootstrapAddr != "" {
		bootstrap := rendezvous.NewServer(log)
		httpServer := &http.Server{Addr: *bootstrapAddr, Handler: bootstrap}
		go func() {
			log.Info("rendezvous bootstrap listening", logger.String("addr", *bootstrapAddr))
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("rendezvous server stopped", logger.Error(err))
			}
		}()
		go func() {
			<-ctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			httpServer.Shutdown(shutdownCtx)
		}()
	}

	var nextCID atomic.Uint64

	listener, err := net.Listen("tcp", cfg.BindAddr)
	if err != nil {
		log.Error("failed to listen for primary streams", logger.Error(err), logger.String("bindAddr", cfg.BindAddr))
		os.Exit(1)
	}
	log.Info("listening for peer primary streams", logger.String("bindAddr", cfg.BindAddr))

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				select {
				case <-ctx.Done():
					return
				default:
					log.Error("accept error", logger.Error(err))
					continue
				}
			}
			cid := peer.CID(nextCID.Add(1))
			go serveConnection(ctx, cid, conn, router, accounts, log)
		}
	}()

	<-sigChan
	log.Info("received shutdown signal, stopping")
	cancel()
	listener.Close()
	time.Sleep(300 * time.Millisecond)
	log.Info(appName + " stopped")
}

// serveConnection registers a session for a freshly accepted primary
// stream and dispatches incoming signals to the router until the
// connection closes.
func serveConnection(ctx context.Context, cid peer.CID, conn net.Conn, router *peer.Router, accounts *account.Manager, log logger.Logger) {
	defer conn.Close()

	sender := peer.SenderFunc(func(data []byte) error {
		_, err := conn.Write(append(data, '\n'))
		return err
	})

	session := peer.NewSession(cid, sender, nil, accounts, log)
	router.RegisterSession(session)
	defer router.CloseSession(cid)

	log.Info("session established", logger.Any("cid", cid))

	reader := bufio.NewReader(conn)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := reader.ReadBytes('\n')
		if err != nil {
			log.Info("session closed", logger.Any("cid", cid), logger.Error(err))
			return
		}

		sig, err := peer.DecodePeerSignal(line[:len(line)-1])
		if err != nil {
			log.Warn("dropping malformed signal", logger.Any("cid", cid), logger.Error(err))
			continue
		}

		if err := dispatchSignal(router, accounts, cid, sig); err != nil {
			log.Warn("signal delivery failed", logger.Any("cid", cid), logger.Error(err))
		}
	}
}

func dispatchSignal(router *peer.Router, accounts *account.Manager, fromCID peer.CID, sig peer.PeerSignal) error {
	switch sig.Kind {
	case peer.SignalPostRegister:
		return router.RoutePostRegister(accounts, fromCID, sig)
	case peer.SignalPostConnect:
		return router.RoutePostConnect(fromCID, sig)
	case peer.SignalDisconnect:
		return router.RouteDisconnect(fromCID, sig)
	default:
		return fmt.Errorf("unhandled signal kind %v", sig.Kind)
	}
}
