package bootstrap

import (
	"context"

	"logwarden/config"
	"logwarden/core"
	"logwarden/detect"
	"logwarden/ml"
	"logwarden/service"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Redis keys of the cross-process run locks.
const (
	rulesLockKey     = "logwarden:lock:rules"
	anomaliesLockKey = "logwarden:lock:anomalies"
)

// InitEngine builds the rule engine and registers it for cache invalidation
// on rule edits.
func InitEngine(cfg *config.Config, sc *StorageComponents, sugar *zap.SugaredLogger) (*detect.Engine, error) {
	cache, err := detect.NewFilterCache(cfg.Detection.FilterCacheSize)
	if err != nil {
		return nil, err
	}
	engine := detect.NewEngine(sc.RuleStorage, service.NewAlertStore(sc.AlertStorage), sugar, detect.WithFilterCache(cache))
	sc.RuleStorage.SetCacheInvalidator(engine)
	return engine, nil
}

// InitPipeline builds the anomaly pipeline.
func InitPipeline(cfg *config.Config, sc *StorageComponents, sugar *zap.SugaredLogger) *ml.Pipeline {
	forestCfg := ml.IsolationForestConfig{
		NumTrees:      cfg.ML.NumTrees,
		SubsampleSize: cfg.ML.SubsampleSize,
		Contamination: cfg.ML.Contamination,
		Seed:          cfg.ML.Seed,
	}
	models := ml.NewModelManager(cfg.ML.ModelName, forestCfg, sc.ModelStore, sugar)
	return ml.NewPipeline(ml.NewFeatureExtractor(sc.EventStorage, sugar), models, sc.AnomalyStorage, sugar)
}

// InitService assembles the detection service. Jobs run on pool; run locks
// are shared through Redis when client is non-nil.
func InitService(cfg *config.Config, engine *detect.Engine, pipeline *ml.Pipeline, pool *core.WorkerPool, client redis.UniversalClient, sugar *zap.SugaredLogger) *service.Service {
	svcCfg := service.Config{
		Engine:   engine,
		Pipeline: pipeline,
		Policy:   cfg.Severity,
		Jobs:     service.NewJobs(pool, 100, sugar),
		Logger:   sugar,
	}
	if client != nil {
		svcCfg.RulesLock = service.NewRedisLock(client, rulesLockKey, cfg.Redis.LockTTL, sugar)
		svcCfg.AnomalyLock = service.NewRedisLock(client, anomaliesLockKey, cfg.Redis.LockTTL, sugar)
	}
	return service.New(svcCfg)
}

// NewWorkerPool creates and starts the background job pool.
func NewWorkerPool(ctx context.Context, cfg *config.Config, sugar *zap.SugaredLogger) (*core.WorkerPool, error) {
	pool := core.NewWorkerPool(ctx, cfg.Worker.Count, cfg.Worker.QueueSize, "jobs", sugar)
	if err := pool.Start(); err != nil {
		return nil, err
	}
	return pool, nil
}
