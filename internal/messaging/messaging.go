// Package messaging carries document-change events between the write side
// and live subscriptions, on top of Watermill pub/sub.
package messaging

import (
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill/message"
)

// ChangeEvent is published on topic TopicFor(collection) after every
// successful store mutation. Subscribers filter by key and re-read the
// document; the event itself carries no document body.
type ChangeEvent struct {
	Collection string `json:"collection"`
	Key        string `json:"key"`
	Deleted    bool   `json:"deleted"`
}

// TopicFor returns the change-event topic for a store collection.
func TopicFor(collection string) string {
	return "docs." + collection
}

// DecodeChangeEvent parses a change event out of a Watermill message.
func DecodeChangeEvent(msg *message.Message) (ChangeEvent, error) {
	var ev ChangeEvent
	err := json.Unmarshal(msg.Payload, &ev)
	return ev, err
}

// Broker bundles the publisher shared by all writers with a factory for
// per-caller subscribers. Every live feed gets its own subscriber so one
// slow consumer cannot stall another.
type Broker interface {
	message.Publisher
	NewSubscriber() (message.Subscriber, error)
	Close() error
}
