package config

import (
	"fmt"
	"sync"
)

// Capability keys for the service locator. Components resolve their
// collaborators by capability rather than by concrete type so that the
// conductor can swap implementations during tests.
const (
	CapAdminServer     = "admin.server"
	CapResponder       = "messaging.responder"
	CapCollector       = "stats.collector"
	CapWalletIdentity  = "wallet.identity"
	CapConnectionStore = "connections.store"
)

// Injector is a small service locator: singleton collaborators are bound
// under a capability key once during boot and resolved read-mostly after.
type Injector struct {
	mu       sync.RWMutex
	services map[string]any
}

// NewInjector creates an empty Injector.
func NewInjector() *Injector {
	return &Injector{services: make(map[string]any)}
}

// Bind registers a service under a capability key, replacing any prior
// binding for the same key.
func (i *Injector) Bind(capability string, svc any) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.services[capability] = svc
}

// Resolve fetches a bound service. The second return is false when the
// capability has never been bound.
func (i *Injector) Resolve(capability string) (any, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	svc, ok := i.services[capability]
	return svc, ok
}

// MustResolve fetches a required service, erroring when absent.
func (i *Injector) MustResolve(capability string) (any, error) {
	svc, ok := i.Resolve(capability)
	if !ok {
		return nil, fmt.Errorf("config: no service bound for capability %q", capability)
	}
	return svc, nil
}

// Context is the injection context: the immutable-after-build settings
// map plus the service locator. It is built once by a Builder and owned
// by the conductor for the life of the process.
type Context struct {
	Settings Settings
	Injector *Injector
}

// NewContext creates a Context around existing settings.
func NewContext(settings Settings) *Context {
	if settings == nil {
		settings = make(Settings)
	}
	return &Context{
		Settings: settings,
		Injector: NewInjector(),
	}
}
