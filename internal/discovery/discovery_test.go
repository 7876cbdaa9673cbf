package discovery

import (
	"net"
	"testing"
)

func TestEndpointAddr(t *testing.T) {
	cases := []struct {
		name string
		e    Endpoint
		want string
	}{
		{
			"prefers ipv4",
			Endpoint{Addresses: []net.IP{net.ParseIP("fe80::1"), net.ParseIP("192.168.2.1")}, Port: 5025},
			"192.168.2.1:5025",
		},
		{
			"ipv6 only",
			Endpoint{Addresses: []net.IP{net.ParseIP("fe80::1")}, Port: 5025},
			"[fe80::1]:5025",
		},
		{
			"falls back to hostname",
			Endpoint{Hostname: "bench.local.", Port: 5025},
			"bench.local:5025",
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := c.e.Addr(); got != c.want {
				t.Errorf("Addr() = %q, want %q", got, c.want)
			}
		})
	}
}

func TestCleanInstance(t *testing.T) {
	if got := cleanInstance(`sdrhal\ on\ bench`); got != "sdrhal on bench" {
		t.Errorf("cleanInstance = %q", got)
	}
}
