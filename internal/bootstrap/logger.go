package bootstrap

import (
	"market_maker/internal/core"
	"market_maker/pkg/logging"
)

// InitLogger builds the process-wide structured logger and registers
// it as the package-level default so pkg/logging's convenience
// functions (Info/Warn/Error) reach it too.
func InitLogger(cfg *Config) core.ILogger {
	logger, err := logging.NewZapLogger(cfg.System.LogLevel)
	if err != nil {
		// NewZapLogger only fails to build the underlying zap core;
		// fall back to INFO rather than leave the process unlogged.
		logger, _ = logging.NewZapLogger("INFO")
	}

	withMarket := logger.WithField("market", cfg.Trading.Market)
	logging.SetGlobalLogger(withMarket)
	return withMarket
}
