package interceptor

import (
	"fmt"
	"net"
	"strings"

	"github.com/Warxim/deluder/message"
	"github.com/yl2chen/cidranger"
)

// Bypass matches messages whose destination lies in a configured network.
// Bridges let such messages through untouched.
type Bypass struct {
	ranger cidranger.Ranger
	size   int
}

// NewBypass parses CIDRs or single addresses. An empty list never matches.
func NewBypass(networks []string) (*Bypass, error) {
	b := &Bypass{ranger: cidranger.NewPCTrieRanger()}
	for _, n := range networks {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		if !strings.Contains(n, "/") {
			ip := net.ParseIP(n)
			if ip == nil {
				return nil, fmt.Errorf("invalid bypass address %q", n)
			}
			if ip.To4() != nil {
				n += "/32"
			} else {
				n += "/128"
			}
		}
		_, ipNet, err := net.ParseCIDR(n)
		if err != nil {
			return nil, fmt.Errorf("invalid bypass network %q: %w", n, err)
		}
		if err := b.ranger.Insert(cidranger.NewBasicRangerEntry(*ipNet)); err != nil {
			return nil, err
		}
		b.size++
	}
	return b, nil
}

// Match reports whether the message destination is bypassed.
func (b *Bypass) Match(msg *message.Message) bool {
	if b == nil || b.size == 0 {
		return false
	}
	addr, ok := msg.Metadata.Text(message.KeyDestinationIP)
	if !ok {
		return false
	}
	ip := net.ParseIP(addr)
	if ip == nil {
		return false
	}
	found, err := b.ranger.Contains(ip)
	return err == nil && found
}
