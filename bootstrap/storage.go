package bootstrap

import (
	"context"
	"fmt"
	"os"
	"time"

	"logwarden/config"
	"logwarden/ml"
	"logwarden/storage"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// StorageComponents holds all storage-related components.
type StorageComponents struct {
	SQLite         *storage.SQLite
	EventStorage   *storage.SQLiteEventStorage
	RuleStorage    *storage.SQLiteRuleStorage
	AlertStorage   *storage.SQLiteAlertStorage
	AnomalyStorage *storage.SQLiteAnomalyStorage
	ModelStore     ml.ModelStore
}

// InitSQLite opens the database and applies migrations.
func InitSQLite(dirs DataDirectories, sugar *zap.SugaredLogger) (*storage.SQLite, error) {
	sqlite, err := storage.NewSQLite(dirs.SQLite, sugar)
	if err != nil {
		fmt.Fprintf(os.Stderr, "\n========================================\n")
		fmt.Fprintf(os.Stderr, "FATAL: SQLite Initialization Failed\n")
		fmt.Fprintf(os.Stderr, "========================================\n")
		fmt.Fprintf(os.Stderr, "%s\n", ClassifySQLiteError(err, dirs.SQLite))
		fmt.Fprintf(os.Stderr, "========================================\n\n")
		return nil, fmt.Errorf("failed to initialize SQLite: %w", err)
	}

	sugar.Info("SQLite initialized successfully")
	return sqlite, nil
}

// InitStorage builds every store over sqlite. Model artifacts go to the
// database or to cfg.DataPaths.MLDir depending on ml.model_store.
func InitStorage(cfg *config.Config, sqlite *storage.SQLite, sugar *zap.SugaredLogger) (*StorageComponents, error) {
	sc := &StorageComponents{
		SQLite:         sqlite,
		EventStorage:   storage.NewSQLiteEventStorage(sqlite),
		RuleStorage:    storage.NewSQLiteRuleStorage(sqlite, sugar),
		AlertStorage:   storage.NewSQLiteAlertStorage(sqlite, sugar),
		AnomalyStorage: storage.NewSQLiteAnomalyStorage(sqlite, sugar),
	}

	switch cfg.ML.ModelStore {
	case config.ModelStoreFile:
		store, err := ml.NewFileModelStore(cfg.DataPaths.MLDir, sugar)
		if err != nil {
			return nil, err
		}
		sc.ModelStore = store
	default:
		sc.ModelStore = storage.NewMLModelStorage(sqlite, sugar)
	}
	sugar.Infow("Model store ready", "backend", cfg.ML.ModelStore)
	return sc, nil
}

// InitRedis connects to Redis when the distributed run lock is enabled. It
// returns nil when redis.enabled is false.
func InitRedis(ctx context.Context, cfg *config.Config, sugar *zap.SugaredLogger) (redis.UniversalClient, error) {
	if !cfg.Redis.Enabled {
		return nil, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Redis.Addr,
		Password:    cfg.Redis.Password,
		DB:          cfg.Redis.DB,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		fmt.Fprintf(os.Stderr, "%s\n", ClassifyRedisError(err, cfg.Redis.Addr))
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	sugar.Infow("Connected to Redis", "addr", cfg.Redis.Addr)
	return client, nil
}
