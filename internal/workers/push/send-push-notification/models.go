// internal/workers/push/send-push-notification/models.go
package sendpushnotification

import "time"

type Input struct {
	DeviceToken string `json:"deviceToken"`

	// Alert is a plain-text alert. The remaining alert fields build an
	// alert dictionary instead; the two forms are mutually exclusive.
	Alert        string   `json:"alert,omitempty"`
	AlertBody    string   `json:"alertBody,omitempty"`
	ActionLocKey string   `json:"actionLocKey,omitempty"`
	LocKey       string   `json:"locKey,omitempty"`
	LocArgs      []string `json:"locArgs,omitempty"`
	LaunchImage  string   `json:"launchImage,omitempty"`

	Badge  *int                   `json:"badge,omitempty"`
	Sound  string                 `json:"sound,omitempty"`
	Custom map[string]interface{} `json:"custom,omitempty"`

	Identifier *uint32    `json:"identifier,omitempty"`
	Expiry     *time.Time `json:"expiry,omitempty"`
	Truncate   *bool      `json:"truncate,omitempty"`
	MaxLength  int        `json:"maxLength,omitempty"`
}

type Output struct {
	NotificationID string `json:"notificationId"`
	Status         string `json:"status"`
	Identifier     uint32 `json:"identifier"`
	PayloadBytes   int    `json:"payloadBytes"`
	Truncated      bool   `json:"truncated"`
	SentAt         string `json:"sentAt,omitempty"` // ISO 8601
}

// Statuses
const (
	StatusSent    = "sent"
	StatusSkipped = "skipped"
)

// InputSchema is used when no registry entry is supplied.
const InputSchema = `{
  "type": "object",
  "required": ["deviceToken"],
  "properties": {
    "deviceToken": {"type": "string", "pattern": "^[0-9a-fA-F]{2,}$"},
    "alert": {"type": "string"},
    "alertBody": {"type": "string"},
    "actionLocKey": {"type": "string"},
    "locKey": {"type": "string"},
    "locArgs": {"type": "array", "items": {"type": "string"}},
    "launchImage": {"type": "string"},
    "badge": {"type": "integer", "minimum": 0},
    "sound": {"type": "string"},
    "custom": {"type": "object"},
    "identifier": {"type": "integer", "minimum": 0, "maximum": 4294967295},
    "expiry": {"type": "string", "format": "date-time"},
    "truncate": {"type": "boolean"},
    "maxLength": {"type": "integer", "minimum": 1, "maximum": 65535}
  }
}`
