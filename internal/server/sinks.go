package server

import (
	"context"
	"fmt"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/campus-crawler/internal/config"
	"github.com/JakeFAU/campus-crawler/internal/delivery"
	memorypublisher "github.com/JakeFAU/campus-crawler/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/campus-crawler/internal/publisher/pubsub"
	gcsstorage "github.com/JakeFAU/campus-crawler/internal/storage/gcs"
	localstorage "github.com/JakeFAU/campus-crawler/internal/storage/local"
	pgstore "github.com/JakeFAU/campus-crawler/internal/storage/postgres"
)

// Sinks owns the delivery router and the clients behind its cloud sinks.
type Sinks struct {
	Router *delivery.Router
	// Memory captures memory:// deliveries.
	Memory *memorypublisher.Publisher

	logger      *zap.Logger
	storage     *storage.Client
	publisher   *gcppublisher.Publisher
	recordStore *pgstore.RecordStore
}

// OpenSinks registers every sink the configuration enables. Webhook, file and
// memory sinks are always present; gs://, pubsub:// and db:// depend on their
// config sections.
func OpenSinks(ctx context.Context, cfg config.Config, logger *zap.Logger) (*Sinks, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Sinks{
		Router: delivery.NewRouter(logger.Named("delivery")),
		Memory: memorypublisher.New(),
		logger: logger,
	}
	s.Router.Register(delivery.NewWebhook(nil, delivery.WebhookConfig{
		Timeout:    cfg.Delivery.Timeout,
		MaxRetries: cfg.Delivery.MaxRetries,
		UserAgent:  cfg.Crawler.UserAgent,
	}, logger.Named("webhook")), "http", "https")
	s.Router.Register(s.Memory, "memory")

	if err := s.openCloud(ctx, cfg); err != nil {
		s.Close()
		return nil, err
	}
	logger.Info("delivery sinks registered", zap.Strings("schemes", s.Router.Schemes()))
	return s, nil
}

func (s *Sinks) openCloud(ctx context.Context, cfg config.Config) error {
	local, err := localstorage.New(localstorage.Config{BaseDir: cfg.Delivery.LocalDir})
	if err != nil {
		return fmt.Errorf("local sink init failed: %w", err)
	}
	s.Router.Register(local, "file")

	if cfg.GCS.Enabled {
		s.storage, err = storage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("gcs client init failed: %w", err)
		}
		blobs, err := gcsstorage.New(s.storage)
		if err != nil {
			return fmt.Errorf("gcs sink init failed: %w", err)
		}
		s.Router.Register(blobs, "gs")
	}

	if cfg.PubSub.ProjectID != "" {
		s.publisher, err = gcppublisher.New(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			return fmt.Errorf("pubsub sink init failed: %w", err)
		}
		s.Router.Register(s.publisher, "pubsub")
		s.logger.Info("pubsub sink enabled", zap.String("project", cfg.PubSub.ProjectID))
	}

	if cfg.DB.DSN != "" {
		s.recordStore, err = pgstore.NewRecordStore(ctx, pgstore.RecordStoreConfig{
			DSN:      cfg.DB.DSN,
			Table:    cfg.DB.Table,
			MaxConns: cfg.DB.MaxConns,
		})
		if err != nil {
			return fmt.Errorf("record store init failed: %w", err)
		}
		if err := s.recordStore.EnsureSchema(ctx, cfg.DB.Table); err != nil {
			return fmt.Errorf("record store schema: %w", err)
		}
		s.Router.Register(s.recordStore, "db")
		s.logger.Info("db sink enabled", zap.String("table", cfg.DB.Table))
	}
	return nil
}

// Close releases cloud clients and database pools.
func (s *Sinks) Close() {
	if s == nil {
		return
	}
	if s.publisher != nil {
		if err := s.publisher.Close(); err != nil {
			s.logger.Warn("pubsub publisher close failed", zap.Error(err))
		}
	}
	if s.storage != nil {
		if err := s.storage.Close(); err != nil {
			s.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if s.recordStore != nil {
		s.recordStore.Close()
	}
}
