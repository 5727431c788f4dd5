// internal/workers/push/process-apns-feedback/config.go
package processapnsfeedback

import (
	"fmt"
	"time"

	"apns-workers/internal/common/config"
)

type Config struct {
	Timeout     time.Duration
	BatchSize   int
	Environment string
}

func createConfigFromAppConfig(appCfg *config.Config) *Config {
	cfg := &Config{
		Timeout:     60 * time.Second,
		BatchSize:   500,
		Environment: config.EnvironmentSandbox,
	}
	if appCfg == nil {
		return cfg
	}

	wcfg := config.GetWorkerConfig(appCfg, TaskType)
	if wcfg.Timeout > 0 {
		cfg.Timeout = config.GetDuration(wcfg.Timeout)
	}
	if appCfg.APNs.FeedbackBatchSize > 0 {
		cfg.BatchSize = appCfg.APNs.FeedbackBatchSize
	}
	if appCfg.APNs.Environment != "" {
		cfg.Environment = appCfg.APNs.Environment
	}
	return cfg
}

func (c *Config) Validate() error {
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive")
	}
	return nil
}
