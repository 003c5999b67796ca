package chatstore

import (
	"strings"
	"sync"
)

type MessageStoreFactory func(dsn string) (MessageStore, error)

var storeFactoryRegistry = struct {
	mu        sync.RWMutex
	factories map[string]MessageStoreFactory
}{
	factories: map[string]MessageStoreFactory{},
}

func RegisterMessageStoreFactory(scheme string, factory MessageStoreFactory) {
	scheme = normalizeStoreScheme(scheme)
	if scheme == "" || factory == nil {
		return
	}
	storeFactoryRegistry.mu.Lock()
	defer storeFactoryRegistry.mu.Unlock()
	storeFactoryRegistry.factories[scheme] = factory
}

func lookupMessageStoreFactory(scheme string) (MessageStoreFactory, bool) {
	scheme = normalizeStoreScheme(scheme)
	storeFactoryRegistry.mu.RLock()
	defer storeFactoryRegistry.mu.RUnlock()
	factory, ok := storeFactoryRegistry.factories[scheme]
	return factory, ok
}

// RegisteredSchemes lists the schemes currently registered, for
// diagnostics output.
func RegisteredSchemes() []string {
	storeFactoryRegistry.mu.RLock()
	defer storeFactoryRegistry.mu.RUnlock()
	schemes := make([]string, 0, len(storeFactoryRegistry.factories))
	for scheme := range storeFactoryRegistry.factories {
		schemes = append(schemes, scheme)
	}
	return schemes
}

func normalizeStoreScheme(scheme string) string {
	return strings.ToLower(strings.TrimSpace(scheme))
}
