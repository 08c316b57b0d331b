// Command citadel-client discovers this host's public address via
// STUN, exchanges candidates with a peer through the rendezvous
// bootstrap, hole-punches a UDP socket, and then drops into an
// interactive console for driving registration/connection against a
// citadel-server.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"citadel/internal/config"
	"citadel/internal/cryptoconfig"
	"citadel/internal/nat"
	"citadel/internal/peer"
	"citadel/internal/rendezvous"
	"citadel/internal/wire"
	"citadel/pkg/logger"
	"citadel/pkg/types"
)

const (
	appName    = "citadel-client"
	appVersion = "0.1.0"
)

func main() {
	var (
		configPath    = flag.String("config", "config.yml", "path to configuration file")
		bootstrapURL  = flag.String("bootstrap", "", "rendezvous bootstrap URL (e.g. http://203.0.113.4:9000/)")
		room          = flag.String("room", "", "rendezvous room name shared with the peer")
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
	go func() {
		<-sigChan
		log.Info("received shutdown signal")
		cancel()
	}()

	discoverer, err := nat.NewDiscoverer(cfg.StunServers, log)
	if err != nil {
		log.Error("failed to build STUN discoverer", logger.Error(err))
		os.Exit(1)
	}

	info, err := discoverer.ClassifyNAT()
	if err != nil {
		log.Error("NAT discovery failed", logger.Error(err))
		os.Exit(1)
	}
	log.Info("discovered network info", logger.Any("natType", info.NATType.String()), logger.Any("endpoint", info.Endpoint))

	if *bootstrapURL != "" && *room != "" {
		if err := exchangeAndPunch(ctx, *bootstrapURL, *room, info, log); err != nil {
			log.Error("candidate exchange / hole-punch failed", logger.Error(err))
		}
	}

	runConsole(ctx, cfg.ServerAddr, log)
	log.Info(appName + " stopped")
}

// exchangeAndPunch posts this side's candidates to the rendezvous
// server, waits for the peer's, and attempts a Method3 hole-punch over
// a fresh UDP socket. Failures are logged, not fatal: the interactive
// console still lets a user fall back to a relayed/server-mediated
// connection.
func exchangeAndPunch(ctx context.Context, bootstrapURL, room string, info *types.NetworkInfo, log logger.Logger) error {
	client := rendezvous.NewClient(bootstrapURL)
	defer client.Close()

	posting := rendezvous.Posting{Candidates: []string{info.Endpoint.String()}, NATType: info.NATType.String()}
	if err := client.Post(room, "client", posting); err != nil {
		return fmt.Errorf("post candidates: %w", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	peerPosting, err := client.WaitForPeer(waitCtx, room, "client")
	if err != nil {
		return fmt.Errorf("wait for peer candidates: %w", err)
	}

	peerAddrs := make([]*net.UDPAddr, 0, len(peerPosting.Candidates))
	for _, c := range peerPosting.Candidates {
		addr, err := net.ResolveUDPAddr("udp", c)
		if err != nil {
			log.Warn("skipping unparsable peer candidate", logger.String("candidate", c), logger.Error(err))
			continue
		}
		peerAddrs = append(peerAddrs, addr)
	}
	if len(peerAddrs) == 0 {
		return fmt.Errorf("peer posted no usable candidates")
	}

	conn, err := net.ListenUDP("udp", nil)
	if err != nil {
		return fmt.Errorf("listen udp: %w", err)
	}
	defer conn.Close()

	key, err := cryptoconfig.GenerateKey()
	if err != nil {
		return fmt.Errorf("generate hole-punch key: %w", err)
	}
	container, err := cryptoconfig.NewContainer(key)
	if err != nil {
		return fmt.Errorf("build crypto container: %w", err)
	}

	puncher := nat.NewSingleHolePuncher(wire.HolePunchID("client-socket"), container, log)
	sock, err := puncher.ExecuteEither(ctx, conn, nat.RoleInitiator, peerAddrs)
	if err != nil {
		return fmt.Errorf("hole punch: %w", err)
	}

	log.Info("hole punch succeeded", logger.Any("observedNatAddr", sock.ObservedNatAddr))
	return nil
}

// runConsole drives a register/connect/list/quit command loop against
// a session, adapted from the teacher's interactive mapping updater.
func runConsole(ctx context.Context, serverAddr string, log logger.Logger) {
	fmt.Println("citadel interactive console")
	fmt.Println("commands: register <cid> <username>, connect <cid>, list, quit")

	var conn net.Conn
	var err error
	if serverAddr != "" {
		conn, err = net.Dial("tcp", serverAddr)
		if err != nil {
			log.Error("failed to dial server", logger.Error(err), logger.String("serverAddr", serverAddr))
		}
	}
	if conn != nil {
		defer conn.Close()
	}

	tickets := make(map[string]peer.Ticket)
	var nextTicket uint64

	scanner := bufio.NewScanner(os.Stdin)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		fmt.Print("citadel> ")
		if !scanner.Scan() {
			return
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		parts := strings.Fields(input)
		command := strings.ToLower(parts[0])

		switch command {
		case "register":
			if len(parts) != 3 {
				fmt.Println("usage: register <peer-cid> <username>")
				continue
			}
			peerCID, perr := strconv.ParseUint(parts[1], 10, 64)
			if perr != nil {
				fmt.Println("invalid cid:", perr)
				continue
			}
			nextTicket++
			ticket := peer.Ticket(nextTicket)
			tickets[parts[1]] = ticket
			sendPostRegister(conn, peer.CID(peerCID), parts[2], ticket, log)

		case "connect":
			if len(parts) != 2 {
				fmt.Println("usage: connect <peer-cid>")
				continue
			}
			peerCID, perr := strconv.ParseUint(parts[1], 10, 64)
			if perr != nil {
				fmt.Println("invalid cid:", perr)
				continue
			}
			nextTicket++
			ticket := peer.Ticket(nextTicket)
			sendPostConnect(conn, peer.CID(peerCID), ticket, log)

		case "list":
			for cidStr, ticket := range tickets {
				fmt.Printf("  pending request to %s (ticket %d)\n", cidStr, ticket)
			}

		case "quit", "exit":
			return

		default:
			fmt.Printf("unknown command: %s\n", command)
		}
	}
}

func sendPostRegister(conn net.Conn, peerCID peer.CID, username string, ticket peer.Ticket, log logger.Logger) {
	if conn == nil {
		fmt.Println("not connected to a server")
		return
	}
	sig := peer.NewPostRegisterRequest(peer.ConnectionType{PeerCID: peerCID}, username, ticket)
	if err := sendSignal(conn, sig); err != nil {
		log.Error("failed to send post-register", logger.Error(err))
	}
}

func sendPostConnect(conn net.Conn, peerCID peer.CID, ticket peer.Ticket, log logger.Logger) {
	if conn == nil {
		fmt.Println("not connected to a server")
		return
	}
	sig := peer.NewPostConnectRequest(peer.ConnectionType{PeerCID: peerCID}, ticket, peer.SecuritySettings{}, types.UdpDisabled)
	if err := sendSignal(conn, sig); err != nil {
		log.Error("failed to send post-connect", logger.Error(err))
	}
}

func sendSignal(conn net.Conn, sig peer.PeerSignal) error {
	data, err := peer.EncodePeerSignal(sig)
	if err != nil {
		return err
	}
	_, err = conn.Write(append(data, '\n'))
	return err
}
