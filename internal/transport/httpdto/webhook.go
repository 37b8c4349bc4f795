package httpdto

// WebhookAckDTO is the body returned to the provider once a delivery
// is durably queued (or recognized as a duplicate).
type WebhookAckDTO struct {
	EventID   string `json:"event_id,omitempty"`
	Duplicate bool   `json:"duplicate,omitempty"`
	Queued    bool   `json:"queued"`
}
