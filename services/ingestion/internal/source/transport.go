package source

import (
	"net"
	"net/http"
	"sync"
	"time"

	"jobwatch/services/ingestion/internal/errors"
	"jobwatch/services/ingestion/internal/proxy"

	xproxy "golang.org/x/net/proxy"
)

// newProxiedClient returns an http.Client whose connections go through ep.
// HTTP proxies use the standard CONNECT path; SOCKS5 proxies dial through
// x/net/proxy.
func newProxiedClient(ep proxy.Endpoint, timeout time.Duration) (*http.Client, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()

	switch ep.Protocol {
	case proxy.SOCKS5:
		base := &net.Dialer{Timeout: 30 * time.Second}
		d, err := xproxy.SOCKS5("tcp", ep.Address, nil, base)
		if err != nil {
			return nil, errors.Fetch("creating socks5 dialer for "+ep.Address, err)
		}
		cd, ok := d.(xproxy.ContextDialer)
		if !ok {
			return nil, errors.Internal("socks5 dialer does not support contexts", nil)
		}
		transport.Proxy = nil
		transport.DialContext = cd.DialContext
	default:
		transport.Proxy = http.ProxyURL(ep.URL())
	}

	return &http.Client{Transport: transport, Timeout: timeout}, nil
}

// clientPool keeps one http.Client per proxy endpoint so connections to a
// proxy are reused across attempts and cycles.
type clientPool struct {
	timeout time.Duration
	direct  *http.Client

	mu      sync.Mutex
	proxied map[proxy.Endpoint]*http.Client
}

func newClientPool(timeout time.Duration) *clientPool {
	return &clientPool{
		timeout: timeout,
		direct:  &http.Client{Timeout: timeout},
		proxied: make(map[proxy.Endpoint]*http.Client),
	}
}

// get returns the client for ep, or the direct client when ep is empty.
func (p *clientPool) get(ep proxy.Endpoint) (*http.Client, error) {
	if ep.Address == "" {
		return p.direct, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.proxied[ep]; ok {
		return c, nil
	}
	c, err := newProxiedClient(ep, p.timeout)
	if err != nil {
		return nil, err
	}
	p.proxied[ep] = c
	return c, nil
}

func (p *clientPool) CloseIdleConnections() {
	p.direct.CloseIdleConnections()

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range p.proxied {
		c.CloseIdleConnections()
	}
}
