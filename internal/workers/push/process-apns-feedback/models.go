// internal/workers/push/process-apns-feedback/models.go
package processapnsfeedback

type Input struct {
	// DryRun decodes and counts records without touching any store.
	DryRun bool `json:"dryRun,omitempty"`
}

type Output struct {
	RecordsProcessed  int    `json:"recordsProcessed"`
	TokensDeactivated int    `json:"tokensDeactivated"`
	EventsPublished   int    `json:"eventsPublished"`
	CompletedAt       string `json:"completedAt"` // ISO 8601
}

const InputSchema = `{
  "type": "object",
  "properties": {
    "dryRun": {"type": "boolean"}
  }
}`
