package fieldsync

import (
	"fmt"
	"net/url"
	"strings"
)

// BuildRecordStoreFromDSN maps a storage DSN to a store implementation:
// memory://, file://path (or a bare path), and postgres://….
func BuildRecordStoreFromDSN(dsn string) (RecordStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrInvalidInput
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, err
	}
	scheme := strings.ToLower(strings.TrimSpace(parsed.Scheme))
	switch scheme {
	case "", "file":
		path, pathErr := dsnPath(parsed, dsn)
		if pathErr != nil {
			return nil, pathErr
		}
		return NewFileRecordStore(path)
	case "memory", "mem", "inmem":
		return NewMemoryRecordStore(), nil
	case "postgres", "postgresql":
		return NewPostgresRecordStore(dsn)
	default:
		return nil, fmt.Errorf("unsupported record store scheme: %s", scheme)
	}
}

func dsnPath(parsed *url.URL, raw string) (string, error) {
	if parsed.Scheme == "" {
		return raw, nil
	}
	path := parsed.Opaque
	if path == "" {
		path = parsed.Host + parsed.Path
	}
	path = strings.TrimSpace(path)
	if path == "" {
		return "", fmt.Errorf("missing path in DSN: %s", raw)
	}
	return path, nil
}
