// internal/workers/push/send-push-notification/config.go
package sendpushnotification

import (
	"fmt"
	"time"

	"apns-workers/internal/apns/payload"
	"apns-workers/internal/common/config"
)

type Config struct {
	Timeout          time.Duration
	MaxPayloadLength int
	Truncate         bool
	// NotificationTTL sets the frame expiry when the job gives none. Zero
	// asks the gateway not to store the notification.
	NotificationTTL time.Duration
}

func createConfigFromAppConfig(appCfg *config.Config) *Config {
	cfg := &Config{
		Timeout:          10 * time.Second,
		MaxPayloadLength: payload.DefaultMaxLength,
	}
	if appCfg == nil {
		return cfg
	}

	wcfg := config.GetWorkerConfig(appCfg, TaskType)
	if wcfg.Timeout > 0 {
		cfg.Timeout = config.GetDuration(wcfg.Timeout)
	}
	if appCfg.APNs.MaxPayloadLength > 0 {
		cfg.MaxPayloadLength = appCfg.APNs.MaxPayloadLength
	}
	cfg.Truncate = appCfg.APNs.Truncate
	cfg.NotificationTTL = time.Duration(appCfg.APNs.NotificationTTL) * time.Second
	return cfg
}

func (c *Config) Validate() error {
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.MaxPayloadLength <= 0 {
		return fmt.Errorf("max_payload_length must be positive")
	}
	if c.NotificationTTL < 0 {
		return fmt.Errorf("notification_ttl must not be negative")
	}
	return nil
}
