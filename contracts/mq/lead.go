package mq

import "time"

const RoutingKeyLeadInterested = "lead.interested"

// LeadInterestedPayload is published when a message is classified Interested
// and notifications run in queue mode.
type LeadInterestedPayload struct {
	Account     string    `json:"account"`
	MessageID   string    `json:"message_id"`
	Category    string    `json:"category"`
	From        string    `json:"from"`
	Subject     string    `json:"subject"`
	BodyPreview string    `json:"body_preview"`
	ReceivedAt  time.Time `json:"received_at"`
}
