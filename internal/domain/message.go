package domain

// InboundMessage is a raw message handed over by a source collaborator.
// Delivery is at-least-once and not guaranteed to be ordered.
type InboundMessage struct {
	SourceID  int64  // signal source (user/channel) the message came from
	MessageID int64  // message identifier, increasing per source
	ChatID    *int64 // chat the message was posted in (nullable)
	SenderID  *int64 // sender of the message (nullable)
	Text      string // raw message text
}
