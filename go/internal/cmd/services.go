package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mcdev12/classpoll/go/internal/poll/coordinator"
	"github.com/mcdev12/classpoll/go/internal/poll/gateway"
	"github.com/mcdev12/classpoll/go/internal/poll/relay"
	"github.com/mcdev12/classpoll/go/internal/poll/storage"
)

type Services struct {
	Store             storage.Store
	Coordinator       *coordinator.Coordinator
	ConnectionManager *gateway.ConnectionManager
	WSHandler         *gateway.WebSocketHandler
	APIHandler        *gateway.APIHandler

	RelayPublisher *relay.Publisher
	RelayConsumer  *relay.Consumer

	pool *pgxpool.Pool
}

// setupServices wires the dependency chain:
// store -> coordinator -> gateway, with an optional NATS relay on the side.
func setupServices(ctx context.Context, config *Config) (*Services, error) {
	services := &Services{}

	switch config.Storage.Driver {
	case "postgres":
		pool, err := setupDatabase(ctx)
		if err != nil {
			return nil, err
		}
		services.pool = pool

		store := storage.NewPostgresStore(pool)
		if err := store.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
		services.Store = store
	case "memory", "":
		services.Store = storage.NewMemoryStore()
	default:
		return nil, fmt.Errorf("unknown storage driver %q", config.Storage.Driver)
	}

	var publisher *relay.Publisher
	if config.Nats.Enabled {
		pubCfg := relay.DefaultPublisherConfig()
		pubCfg.URL = config.Nats.URL
		pubCfg.StreamName = config.Nats.Stream

		p, err := relay.NewPublisher(pubCfg)
		if err != nil {
			services.Close()
			return nil, fmt.Errorf("setup relay publisher: %w", err)
		}
		publisher = p
		services.RelayPublisher = p
	}

	// The coordinator and connection manager reference each other, so the
	// handler side is bound after both exist.
	cm := gateway.NewConnectionManager(gateway.DefaultConnectionConfig(), nil)
	coordCfg := coordinator.Config{
		Store:       services.Store,
		Broadcaster: cm,
	}
	if publisher != nil {
		coordCfg.Relay = publisher
	}
	coord := coordinator.New(coordCfg)
	cm.SetHandler(coord)

	services.Coordinator = coord
	services.ConnectionManager = cm
	services.WSHandler = gateway.NewWebSocketHandler(cm)
	services.APIHandler = gateway.NewAPIHandler(coord)

	if config.Nats.Enabled {
		conCfg := relay.DefaultConsumerConfig()
		conCfg.URL = config.Nats.URL
		conCfg.StreamName = config.Nats.Stream

		consumer, err := relay.NewConsumer(cm, coord.InstanceID(), conCfg)
		if err != nil {
			services.Close()
			return nil, fmt.Errorf("setup relay consumer: %w", err)
		}
		services.RelayConsumer = consumer
	}

	return services, nil
}

func (s *Services) Close() {
	if s.RelayConsumer != nil {
		s.RelayConsumer.Stop()
	}
	if s.RelayPublisher != nil {
		s.RelayPublisher.Close()
	}
	if s.pool != nil {
		s.pool.Close()
	}
}
