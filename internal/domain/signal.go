package domain

import "time"

// EventSignalParsed is the event kind tag carried by every delivered payload.
const EventSignalParsed = "signal_parsed"

// TimestampLayout renders event timestamps as ISO-8601 UTC with microseconds.
const TimestampLayout = "2006-01-02T15:04:05.000000Z"

// ParsedSignal is the structured result of parsing one inbound message.
// Message metadata is attached by the caller, not by the parser.
type ParsedSignal struct {
	Timestamp       time.Time // creation instant, set at parse time
	MessageID       *int64    // nullable
	ChatID          *int64    // nullable
	SenderID        *int64    // nullable
	ContractAddress *string   // base58 token address (nullable)
	RawText         string    // original input
}

// WithMessage returns a copy of s carrying the metadata of msg.
func (s ParsedSignal) WithMessage(msg InboundMessage) ParsedSignal {
	id := msg.MessageID
	s.MessageID = &id
	s.ChatID = msg.ChatID
	s.SenderID = msg.SenderID
	return s
}

// Event builds the delivery payload for s.
func (s ParsedSignal) Event() *SignalEvent {
	return &SignalEvent{
		Timestamp:       s.Timestamp.UTC().Format(TimestampLayout),
		Event:           EventSignalParsed,
		MessageID:       s.MessageID,
		ChatID:          s.ChatID,
		SenderID:        s.SenderID,
		ContractAddress: s.ContractAddress,
	}
}

// SignalEvent is the canonical payload delivered to sinks and kept in status.
// Field order is the wire order; absent optionals encode as null.
type SignalEvent struct {
	Timestamp       string  `json:"ts"`
	Event           string  `json:"event"`
	MessageID       *int64  `json:"message_id"`
	ChatID          *int64  `json:"chat_id"`
	SenderID        *int64  `json:"sender_id"`
	ContractAddress *string `json:"contract_address"`
}

// Clone returns a deep copy of e. The optional fields get their own storage.
func (e *SignalEvent) Clone() *SignalEvent {
	if e == nil {
		return nil
	}
	c := *e
	c.MessageID = clonePtr(e.MessageID)
	c.ChatID = clonePtr(e.ChatID)
	c.SenderID = clonePtr(e.SenderID)
	c.ContractAddress = clonePtr(e.ContractAddress)
	return &c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
