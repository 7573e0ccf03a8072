// Package model holds the domain models shared between the biz and data layers.
package model

import "time"

// Item processing status constants. Failed items stay on the retry path;
// exhausted items carried a cause the store will never accept and are left
// for manual inspection.
const (
	ItemStatusPending   = "pending"
	ItemStatusProcessed = "processed"
	ItemStatusFailed    = "failed"
	ItemStatusExhausted = "exhausted"
)

// InboundItem is a raw item delivered by the notification source, waiting to
// be turned into a part-inquiry record by the processing pipeline.
type InboundItem struct {
	ID         uint64
	MessageID  string
	Subject    string
	Sender     string
	Payload    string
	Status     string
	RetryCount int
	LastError  string
	ReceivedAt time.Time
}

// Retryable reports whether the item is still eligible for the failed-item
// retry path given the configured retry ceiling.
func (i *InboundItem) Retryable(maxRetries int) bool {
	return i.Status == ItemStatusFailed && i.RetryCount < maxRetries
}
