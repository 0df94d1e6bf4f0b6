package proxy

import (
	"net"
	"net/url"
	"strings"
	"sync"

	"jobwatch/services/ingestion/internal/errors"
)

type Protocol string

const (
	HTTP   Protocol = "HTTP"
	SOCKS5 Protocol = "SOCKS5"
)

// socksPortMarker identifies SOCKS5 endpoints in bare host:port addresses.
const socksPortMarker = ":4145"

// Endpoint is a proxy address and the protocol used to talk to it.
type Endpoint struct {
	Address  string   `json:"address"`
	Protocol Protocol `json:"protocol"`
}

func (e Endpoint) String() string {
	return e.Address + " (" + string(e.Protocol) + ")"
}

// URL returns the endpoint as a proxy URL suitable for an http.Transport.
func (e Endpoint) URL() *url.URL {
	scheme := "http"
	if e.Protocol == SOCKS5 {
		scheme = "socks5"
	}
	return &url.URL{Scheme: scheme, Host: e.Address}
}

// ParseEndpoint classifies a configured proxy address. An explicit
// socks5:// or http(s):// prefix wins; otherwise the SOCKS port marker
// decides.
func ParseEndpoint(raw string) (Endpoint, error) {
	addr := strings.TrimSpace(raw)
	if addr == "" {
		return Endpoint{}, errors.Config("empty proxy address", nil)
	}

	proto := HTTP
	switch lower := strings.ToLower(addr); {
	case strings.HasPrefix(lower, "socks5://"), strings.HasPrefix(lower, "socks5h://"):
		proto = SOCKS5
		addr = addr[strings.Index(addr, "://")+3:]
	case strings.HasPrefix(lower, "http://"), strings.HasPrefix(lower, "https://"):
		addr = addr[strings.Index(addr, "://")+3:]
	case strings.Contains(addr, socksPortMarker):
		proto = SOCKS5
	}

	addr = strings.TrimSuffix(addr, "/")
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return Endpoint{}, errors.Config("invalid proxy address "+raw, err)
	}

	return Endpoint{Address: addr, Protocol: proto}, nil
}

// Rotator hands out endpoints in fixed round-robin order.
type Rotator struct {
	mu        sync.Mutex
	endpoints []Endpoint
	next      int
}

// NewRotator parses the pool. An empty pool or an unparsable entry is a
// configuration error; Next never fails afterwards.
func NewRotator(addresses []string) (*Rotator, error) {
	if len(addresses) == 0 {
		return nil, errors.Config("proxy pool is empty", nil)
	}

	endpoints := make([]Endpoint, 0, len(addresses))
	for _, a := range addresses {
		ep, err := ParseEndpoint(a)
		if err != nil {
			return nil, err
		}
		endpoints = append(endpoints, ep)
	}

	return &Rotator{endpoints: endpoints}, nil
}

func (r *Rotator) Next() Endpoint {
	r.mu.Lock()
	defer r.mu.Unlock()

	ep := r.endpoints[r.next]
	r.next = (r.next + 1) % len(r.endpoints)
	return ep
}

func (r *Rotator) Len() int {
	return len(r.endpoints)
}
