// Package nat implements the NAT Traversal Engine: STUN-based public
// address discovery and the single-socket Method3 hole-punch
// algorithm.
package nat

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/pion/stun"

	"citadel/pkg/logger"
	"citadel/pkg/types"
)

// discoveryCache caches the last STUN discovery result per local
// connection to avoid re-querying on every engine init. Consolidated
// from the teacher's two near-duplicate caches (stunCache in stun.go
// and STUNCache in stun_optimized.go).
type discoveryCache struct {
	mu        sync.RWMutex
	publicTo  map[string]string
	timestamp map[string]time.Time
}

func newDiscoveryCache() *discoveryCache {
	return &discoveryCache{
		publicTo:  make(map[string]string),
		timestamp: make(map[string]time.Time),
	}
}

func (c *discoveryCache) get(stunServer string, ttl time.Duration) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	addr, ok := c.publicTo[stunServer]
	if !ok {
		return "", false
	}
	if time.Since(c.timestamp[stunServer]) > ttl {
		return "", false
	}
	return addr, true
}

func (c *discoveryCache) set(stunServer, addr string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.publicTo[stunServer] = addr
	c.timestamp[stunServer] = time.Now()
}

// Discoverer performs STUN-based public-address discovery and NAT type
// classification for up to three configured servers (spec.md 6: "STUN
// server list: up to three addresses, consumed at engine init").
type Discoverer struct {
	servers []string
	cache   *discoveryCache
	log     logger.Logger
}

// NewDiscoverer builds a Discoverer over up to three STUN servers.
func NewDiscoverer(servers []string, log logger.Logger) (*Discoverer, error) {
	if len(servers) == 0 {
		return nil, errors.New("nat: at least one stun server is required")
	}
	if len(servers) > 3 {
		return nil, fmt.Errorf("nat: at most three stun servers supported, got %d", len(servers))
	}
	return &Discoverer{servers: servers, cache: newDiscoveryCache(), log: log.WithComponent("nat.stun")}, nil
}

// PublicAddress discovers the node's public address via the primary
// STUN server, trying IPv4 then IPv6 then a network-agnostic dial, and
// caches the result for cacheTTL.
func (d *Discoverer) PublicAddress(cacheTTL time.Duration) (string, error) {
	primary := d.servers[0]
	if addr, ok := d.cache.get(primary, cacheTTL); ok {
		return addr, nil
	}

	addr, err := d.dualStackDiscover(primary)
	if err != nil {
		return "", err
	}
	d.cache.set(primary, addr)
	return addr, nil
}

func (d *Discoverer) dualStackDiscover(stunServer string) (string, error) {
	if addr, err := d.discoverWithNetwork(stunServer, "udp4"); err == nil {
		return addr, nil
	}
	if addr, err := d.discoverWithNetwork(stunServer, "udp6"); err == nil {
		return addr, nil
	}
	return d.discoverWithNetwork(stunServer, "udp")
}

func (d *Discoverer) discoverWithNetwork(stunServer, network string) (string, error) {
	conn, err := net.Dial(network, stunServer)
	if err != nil {
		return "", err
	}
	defer conn.Close()

	client, err := stun.NewClient(conn)
	if err != nil {
		return "", err
	}
	defer client.Close()

	message := stun.MustBuild(stun.TransactionID, stun.BindingRequest)

	var publicAddr string
	var cbErr error
	callback := func(res stun.Event) {
		if res.Error != nil {
			cbErr = res.Error
			return
		}
		var xorAddr stun.XORMappedAddress
		if err := xorAddr.GetFrom(res.Message); err != nil {
			cbErr = err
			return
		}
		publicAddr = xorAddr.String()
	}

	if err := client.Do(message, callback); err != nil {
		return "", err
	}
	if cbErr != nil {
		return "", cbErr
	}
	if publicAddr == "" {
		return "", errors.New("nat: no public address in stun response")
	}
	return publicAddr, nil
}

// ClassifyNAT runs the multi-probe NAT classification: same-server
// re-query from the same local port (symmetric detection) and, if a
// secondary server is configured, a different-server probe (full-cone
// detection).
func (d *Discoverer) ClassifyNAT() (*types.NetworkInfo, error) {
	primary := d.servers[0]

	localConn, err := net.Dial("udp", primary)
	if err != nil {
		return nil, fmt.Errorf("nat: dial primary stun server: %w", err)
	}
	localAddr := localConn.LocalAddr().String()
	localConn.Close()

	info := &types.NetworkInfo{
		Timestamp:  time.Now(),
		STUNServer: primary,
	}
	if host, _, err := net.SplitHostPort(localAddr); err == nil {
		info.LocalIP = net.ParseIP(host)
	}

	mapping1, err := d.discoverWithNetwork(primary, "udp")
	if err != nil {
		return nil, fmt.Errorf("nat: primary stun discovery failed: %w", err)
	}
	if host, portStr, err := net.SplitHostPort(mapping1); err == nil {
		info.PublicIP = net.ParseIP(host)
		fmt.Sscanf(portStr, "%d", &info.PublicPort)
	}
	if endpoint, err := net.ResolveUDPAddr("udp", mapping1); err == nil {
		info.Endpoint = endpoint
	}

	if info.LocalIP != nil && info.PublicIP != nil && info.LocalIP.Equal(info.PublicIP) {
		info.NATType = types.NATTypeNone
		d.log.Debug("no NAT detected", logger.String("local", localAddr))
		return info, nil
	}

	mapping2, err := d.discoverFromLocalAddr(primary, localAddr)
	if err == nil && mapping2 != mapping1 {
		info.NATType = types.NATTypeSymmetric
		d.log.Warn("symmetric NAT detected", logger.String("mapping1", mapping1), logger.String("mapping2", mapping2))
		return info, nil
	}

	if len(d.servers) > 1 {
		mapping3, err := d.discoverWithNetwork(d.servers[1], "udp")
		if err == nil && samePort(mapping1, mapping3) {
			info.NATType = types.NATTypeFullCone
			return info, nil
		}
	}

	info.NATType = types.NATTypeRestrictedCone
	return info, nil
}

func (d *Discoverer) discoverFromLocalAddr(stunServer, localAddr string) (string, error) {
	localUDPAddr, err := net.ResolveUDPAddr("udp", localAddr)
	if err != nil {
		return "", err
	}

	conn, err := net.DialUDP("udp", localUDPAddr, nil)
	if err != nil {
		return d.discoverWithNetwork(stunServer, "udp")
	}
	defer conn.Close()

	client, err := stun.NewClient(conn)
	if err != nil {
		return "", err
	}
	defer client.Close()

	message := stun.MustBuild(stun.TransactionID, stun.BindingRequest)
	var publicAddr string
	var cbErr error
	callback := func(res stun.Event) {
		if res.Error != nil {
			cbErr = res.Error
			return
		}
		var xorAddr stun.XORMappedAddress
		if err := xorAddr.GetFrom(res.Message); err != nil {
			cbErr = err
			return
		}
		publicAddr = xorAddr.String()
	}
	if err := client.Do(message, callback); err != nil {
		return "", err
	}
	if cbErr != nil {
		return "", cbErr
	}
	if publicAddr == "" {
		return "", errors.New("nat: no public address in stun response")
	}
	return publicAddr, nil
}

func samePort(a, b string) bool {
	_, pa, errA := net.SplitHostPort(a)
	_, pb, errB := net.SplitHostPort(b)
	return errA == nil && errB == nil && pa == pb
}
