package clients

// Outbound message types, sent from the intermediary to open pages
const (
	TypeCacheUpdated       = "CACHE_UPDATED"
	TypeReload             = "RELOAD"
	TypeNotification       = "NOTIFICATION"
	TypeNotificationClosed = "NOTIFICATION_CLOSED"
	TypeFocus              = "FOCUS"
)

// Message is delivered to a client mailbox and read by the page as JSON
type Message struct {
	Type string `json:"type"`
	URL  string `json:"url,omitempty"`
	Data any    `json:"data,omitempty"`
}
