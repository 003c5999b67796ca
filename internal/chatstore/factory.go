package chatstore

import (
	"fmt"
	"net/url"
	"strings"
)

// BuildMessageStoreFromDSN picks a backend by DSN scheme. Registered
// factories take precedence over the built-in schemes so deployments
// can swap in their own backend without forking the factory.
func BuildMessageStoreFromDSN(dsn string) (MessageStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return NewMemoryStore(), nil
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, err
	}
	scheme := strings.ToLower(strings.TrimSpace(parsed.Scheme))
	if factory, ok := lookupMessageStoreFactory(scheme); ok {
		return factory(dsn)
	}
	switch scheme {
	case "memory", "mem", "inmem":
		return NewMemoryStore(), nil
	case "postgres", "postgresql":
		return NewPostgresStore(dsn)
	case "sqlite":
		path, pathErr := dsnPath(parsed, dsn)
		if pathErr != nil {
			return nil, pathErr
		}
		return NewSQLiteStore(path)
	case "", "file":
		path, pathErr := dsnPath(parsed, dsn)
		if pathErr != nil {
			return nil, pathErr
		}
		return NewSQLiteStore(path)
	default:
		return nil, fmt.Errorf("unsupported message store scheme: %s", scheme)
	}
}

func dsnPath(parsed *url.URL, raw string) (string, error) {
	if parsed.Opaque != "" {
		return parsed.Opaque, nil
	}
	path := parsed.Path
	if parsed.Host != "" {
		path = parsed.Host + path
	}
	if path == "" {
		path = strings.TrimPrefix(raw, parsed.Scheme+"://")
	}
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("%w: empty path in dsn %q", ErrInvalidInput, raw)
	}
	return path, nil
}
