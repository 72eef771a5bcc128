package blob

import (
	"context"
	"fmt"
)

// Backend names accepted by Open.
const (
	BackendMemory = "memory"
	BackendGCS    = "gcs"
	BackendNATS   = "nats"
)

// Config selects and configures a backend for Open.
type Config struct {
	Backend string

	// GCS
	Bucket          string
	CredentialsFile string
	Endpoint        string

	// NATS
	NATS         NATSConnConfig
	NATSBucket   string
	MaxValueSize int32
}

// Open builds the configured backend. A NATS store opened here owns its
// connection and closes it on Close.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Backend {
	case BackendMemory, "":
		return NewMemoryStore(), nil

	case BackendGCS:
		return NewGCSStore(ctx, GCSConfig{
			Bucket:          cfg.Bucket,
			CredentialsFile: cfg.CredentialsFile,
			Endpoint:        cfg.Endpoint,
		})

	case BackendNATS:
		conn, err := DialNATS(cfg.NATS)
		if err != nil {
			return nil, err
		}
		s, err := NewNATSStore(ctx, NATSStoreConfig{
			Conn:         conn,
			Bucket:       cfg.NATSBucket,
			MaxValueSize: cfg.MaxValueSize,
		})
		if err != nil {
			conn.Close()
			return nil, err
		}
		s.ownsConn = true
		return s, nil

	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Backend)
	}
}
