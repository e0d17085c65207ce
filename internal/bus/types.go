package bus

import "time"

// Kind classifies envelope traffic.
type Kind string

const (
	KindInbound  Kind = "inbound"
	KindOutbound Kind = "outbound"
	KindSystem   Kind = "system"
)

// Attachment references media carried with a message.
type Attachment struct {
	URL         string `json:"url"`
	ContentType string `json:"content_type,omitempty"`
	Caption     string `json:"caption,omitempty"`
}

// Content is the payload of an envelope.
type Content struct {
	Text        string       `json:"text"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Envelope is the unit of traffic on the bus. Immutable once published.
//
// System envelopes always reference a completed bot invocation or a
// heartbeat tick via Reference.
type Envelope struct {
	ID        string            `json:"id"`
	Kind      Kind              `json:"kind"`
	Channel   string            `json:"channel"`
	ChatID    string            `json:"chat_id"`
	SenderID  string            `json:"sender_id"`
	Timestamp time.Time         `json:"timestamp"`
	Content   Content           `json:"content"`
	Reference string            `json:"reference,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// PartitionKey identifies the conversation an envelope belongs to.
// Ordering is FIFO per partition; partitions never block each other.
func (e Envelope) PartitionKey() string {
	return e.Channel + ":" + e.ChatID
}
