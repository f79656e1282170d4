package bootstrap

import (
	"fmt"
	"os"

	"logwarden/config"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// InitLogger initializes the zap logger with colored console output at level
// ("debug", "info", "warn" or "error"; anything else means info). Logs go to
// stderr so command output on stdout stays machine-readable.
func InitLogger(level string) (*zap.Logger, *zap.SugaredLogger, error) {
	lvl := zapcore.InfoLevel
	if level != "" {
		if err := lvl.UnmarshalText([]byte(level)); err != nil {
			lvl = zapcore.InfoLevel
		}
	}

	encoderConfig := zap.NewDevelopmentEncoderConfig()
	encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeCaller = zapcore.ShortCallerEncoder

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderConfig),
		zapcore.AddSync(os.Stderr),
		lvl,
	)

	logger := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	return logger, logger.Sugar(), nil
}

// InitConfig loads the application configuration. path may be empty.
func InitConfig(path string) (*config.Config, error) {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to load config: %v\n", err)
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// logConfig records the settings that matter when diagnosing a deployment.
func logConfig(cfg *config.Config, sugar *zap.SugaredLogger) {
	sugar.Infow("Data paths configuration",
		"data_dir", cfg.DataPaths.DataDir,
		"sqlite_path", cfg.DataPaths.SQLitePath,
		"ml_dir", cfg.DataPaths.MLDir)
	sugar.Infow("Config loaded",
		"model_store", cfg.ML.ModelStore,
		"model_name", cfg.ML.ModelName,
		"contamination", cfg.ML.Contamination,
		"severity_high", cfg.Severity.High,
		"severity_medium", cfg.Severity.Medium,
		"redis_lock", cfg.Redis.Enabled)
}

// DataDirectoriesFromConfig creates DataDirectories from configuration.
func DataDirectoriesFromConfig(cfg *config.Config) DataDirectories {
	dirs := DataDirectories{
		Base:   cfg.DataPaths.DataDir,
		SQLite: cfg.DataPaths.SQLitePath,
	}
	if cfg.ML.ModelStore == config.ModelStoreFile {
		dirs.ML = cfg.DataPaths.MLDir
	}
	return dirs
}
