// Package discovery finds stream endpoints announcing themselves over mDNS.
package discovery

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strings"

	"github.com/grandcat/zeroconf"
)

// Service is the mDNS service type endpoints advertise.
const Service = "_sdrhal._tcp"

// Endpoint is one discovered device.
type Endpoint struct {
	Instance  string // advertised name, e.g. "sdrhal on lab-bench"
	Hostname  string // DNS hostname, e.g. "bench.local."
	Addresses []net.IP
	Port      int
	TXT       []string
}

// Addr returns a dialable host:port, preferring IPv4.
func (e Endpoint) Addr() string {
	for _, ip := range e.Addresses {
		if ip.To4() != nil {
			return net.JoinHostPort(ip.String(), fmt.Sprint(e.Port))
		}
	}
	if len(e.Addresses) > 0 {
		return net.JoinHostPort(e.Addresses[0].String(), fmt.Sprint(e.Port))
	}
	return net.JoinHostPort(strings.TrimSuffix(e.Hostname, "."), fmt.Sprint(e.Port))
}

// Browse blocks until ctx expires and returns deduplicated endpoints, sorted
// by instance name for stable CLI output.
func Browse(ctx context.Context) ([]Endpoint, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("mdns resolver: %w", err)
	}

	entries := make(chan *zeroconf.ServiceEntry)
	found := make(map[string]Endpoint)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for {
			select {
			case e, ok := <-entries:
				if !ok {
					return
				}
				if e == nil {
					continue
				}
				addrs := make([]net.IP, 0, len(e.AddrIPv4)+len(e.AddrIPv6))
				addrs = append(addrs, e.AddrIPv4...)
				addrs = append(addrs, e.AddrIPv6...)
				key := fmt.Sprintf("%s|%d", e.HostName, e.Port)
				found[key] = Endpoint{
					Instance:  cleanInstance(e.Instance),
					Hostname:  e.HostName,
					Addresses: addrs,
					Port:      e.Port,
					TXT:       append([]string{}, e.Text...),
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	if err := resolver.Browse(ctx, Service, "local.", entries); err != nil {
		return nil, fmt.Errorf("mdns browse: %w", err)
	}
	<-done

	out := make([]Endpoint, 0, len(found))
	for _, e := range found {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Instance < out[j].Instance })
	return out, nil
}

// cleanInstance removes zeroconf escape sequences: "\ " => " "
func cleanInstance(s string) string {
	return strings.ReplaceAll(s, `\ `, " ")
}
