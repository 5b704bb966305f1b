// Package control implements the message protocol from the hosting page
// into the intermediary.
package control

import (
	"encoding/json"
)

const (
	TypeSkipWaiting = "SKIP_WAITING"
	TypeCacheURLs   = "CACHE_URLS"
)

type Message struct {
	Type string   `json:"type"`
	URLs []string `json:"urls,omitempty"`
}

// Decode parses a control message. It reports false for anything that is
// not one of the known shapes.
func Decode(raw []byte) (Message, bool) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return Message{}, false
	}
	switch msg.Type {
	case TypeSkipWaiting:
		return Message{Type: TypeSkipWaiting}, true
	case TypeCacheURLs:
		if msg.URLs == nil {
			return Message{}, false
		}
		return msg, true
	default:
		return Message{}, false
	}
}
