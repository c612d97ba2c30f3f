// Package discovery advertises a sync relay over mDNS and lets clients on
// the same network find it without a configured URL.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/grandcat/zeroconf"
)

const (
	Domain      = "local."
	pathTXTKey  = "path="
	defaultPath = "/sync"
)

var ErrNotFound = errors.New("no relay found")

// Advertisement is a running mDNS registration.
type Advertisement struct {
	server *zeroconf.Server
}

// Advertise registers the relay listening on port under service, announcing
// the websocket path in a TXT record.
func Advertise(service string, port int, path string) (*Advertisement, error) {
	host, _ := os.Hostname()
	if path == "" {
		path = defaultPath
	}
	server, err := zeroconf.Register(
		fmt.Sprintf("coderoom-%s", host),
		service,
		Domain,
		port,
		[]string{pathTXTKey + path},
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("register mdns service: %w", err)
	}
	return &Advertisement{server: server}, nil
}

func (a *Advertisement) Shutdown() {
	if a != nil && a.server != nil {
		a.server.Shutdown()
	}
}

// Browse returns the websocket URL of the first relay that answers before
// ctx is done.
func Browse(ctx context.Context, service string) (string, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return "", fmt.Errorf("create mdns resolver: %w", err)
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	if err := resolver.Browse(ctx, service, Domain, entries); err != nil {
		return "", fmt.Errorf("browse mdns: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return "", ErrNotFound
		case entry, ok := <-entries:
			if !ok {
				return "", ErrNotFound
			}
			if url, ok := RelayURL(entry); ok {
				return url, nil
			}
		}
	}
}

// RelayURL builds the websocket URL announced by entry.
func RelayURL(entry *zeroconf.ServiceEntry) (string, bool) {
	if entry == nil || entry.Port == 0 {
		return "", false
	}
	var host string
	switch {
	case len(entry.AddrIPv4) > 0:
		host = entry.AddrIPv4[0].String()
	case len(entry.AddrIPv6) > 0:
		host = entry.AddrIPv6[0].String()
	case entry.HostName != "":
		host = strings.TrimSuffix(entry.HostName, ".")
	default:
		return "", false
	}
	path := defaultPath
	for _, txt := range entry.Text {
		if strings.HasPrefix(txt, pathTXTKey) {
			path = strings.TrimPrefix(txt, pathTXTKey)
		}
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return "ws://" + net.JoinHostPort(host, strconv.Itoa(entry.Port)) + path, true
}
