package node

import (
	"context"
	"fmt"

	"github.com/woozymasta/maintsync/internal/config"
	"github.com/woozymasta/maintsync/internal/storage"
	"github.com/woozymasta/maintsync/internal/transport"
	"github.com/woozymasta/maintsync/internal/vars"
)

// OpenStore opens and migrates the configured database.
func OpenStore(ctx context.Context, cfg config.Storage) (*storage.Repository, error) {
	return storage.New(ctx, cfg.Driver, cfg.Source())
}

// OpenTransport connects the configured sync transport. It returns nil without error
// when sync is disabled.
func OpenTransport(ctx context.Context, cfg config.Sync, node string) (transport.Transport, error) {
	switch cfg.Transport {
	case config.TransportNone, "":
		return nil, nil

	case config.TransportRedis:
		r, err := transport.NewRedis(ctx, transport.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Channel:  cfg.Redis.Channel,
		})
		if err != nil {
			return nil, err
		}
		return r, nil

	case config.TransportNATS:
		n, err := transport.NewNATS(ctx, transport.NATSConfig{
			URL:     cfg.NATS.URL,
			Subject: cfg.NATS.Subject,
			Name:    vars.Agent(node),
		})
		if err != nil {
			return nil, err
		}
		return n, nil

	default:
		return nil, fmt.Errorf("unknown sync transport %q", cfg.Transport)
	}
}
