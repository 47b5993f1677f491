package paystack

import "sync"

// Credentials is one Paystack API key pair.
type Credentials struct {
	SecretKey string
	PublicKey string
}

// KeyProvider supplies the key pair for live or test mode.
type KeyProvider interface {
	Keys(testMode bool) Credentials
}

// StaticKeys is a KeyProvider over fixed key pairs.
type StaticKeys struct {
	Live Credentials
	Test Credentials
}

// Keys returns the test or live key pair.
func (k StaticKeys) Keys(testMode bool) Credentials {
	if testMode {
		return k.Test
	}
	return k.Live
}

// Provider returns the API client for live or test mode.
type Provider interface {
	API(testMode bool) API
}

// Clients lazily builds and caches one Client per mode.
type Clients struct {
	keys KeyProvider
	opts []Option

	mu      sync.Mutex
	clients map[bool]*Client
}

// NewClients creates a per-mode client cache.
func NewClients(keys KeyProvider, opts ...Option) *Clients {
	return &Clients{
		keys:    keys,
		opts:    opts,
		clients: make(map[bool]*Client, 2),
	}
}

// API returns the cached client for the mode, creating it on first use.
func (c *Clients) API(testMode bool) API {
	c.mu.Lock()
	defer c.mu.Unlock()

	if client, ok := c.clients[testMode]; ok {
		return client
	}
	client := NewClient(c.keys.Keys(testMode).SecretKey, c.opts...)
	c.clients[testMode] = client
	return client
}
