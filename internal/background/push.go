package background

import (
	"context"
	"strings"
	"time"

	"github.com/iTrooz/offline-cache-proxy/internal/clients"
	"github.com/iTrooz/offline-cache-proxy/internal/config"
	"github.com/sirupsen/logrus"
)

// Notification action identifiers
const (
	ActionView  = "view"
	ActionClose = "close"
)

type NotificationAction struct {
	Action string `json:"action"`
	Title  string `json:"title"`
	Icon   string `json:"icon,omitempty"`
}

type NotificationData struct {
	DateOfArrival int64 `json:"dateOfArrival"`
	PrimaryKey    int   `json:"primaryKey"`
}

type Notification struct {
	Title   string               `json:"title"`
	Body    string               `json:"body"`
	Icon    string               `json:"icon"`
	Badge   string               `json:"badge"`
	Vibrate []int                `json:"vibrate"`
	Data    NotificationData     `json:"data"`
	Actions []NotificationAction `json:"actions"`
}

// Notifier is the host environment's notification and window API
type Notifier interface {
	ShowNotification(ctx context.Context, n Notification) error
	CloseNotification(ctx context.Context) error
	// FocusOrOpen focuses a window showing url, opening one if none exists
	FocusOrOpen(ctx context.Context, url string) error
}

// Push turns push events and notification clicks into Notifier calls
type Push struct {
	cfg      config.NotificationsConfig
	notifier Notifier
	now      func() time.Time
}

func NewPush(cfg config.NotificationsConfig, notifier Notifier) *Push {
	return &Push{cfg: cfg, notifier: notifier, now: time.Now}
}

// OnPush shows a notification. payload is plain text; empty uses the default body.
func (p *Push) OnPush(ctx context.Context, payload []byte) error {
	body := strings.TrimSpace(string(payload))
	if body == "" {
		body = p.cfg.DefaultBody
	}

	n := Notification{
		Title:   p.cfg.Title,
		Body:    body,
		Icon:    p.cfg.Icon,
		Badge:   p.cfg.Badge,
		Vibrate: append([]int(nil), p.cfg.Vibrate...),
		Data: NotificationData{
			DateOfArrival: p.now().UnixMilli(),
			PrimaryKey:    1,
		},
		Actions: []NotificationAction{
			{Action: ActionView, Title: "View", Icon: p.cfg.Icon},
			{Action: ActionClose, Title: "Close", Icon: p.cfg.Icon},
		},
	}
	logrus.Debugf("Showing push notification: %q", body)
	return p.notifier.ShowNotification(ctx, n)
}

// OnNotificationClick closes the notification and, for the view action,
// brings the application root to the front
func (p *Push) OnNotificationClick(ctx context.Context, action string) error {
	if err := p.notifier.CloseNotification(ctx); err != nil {
		return err
	}
	if action != ActionView {
		return nil
	}
	return p.notifier.FocusOrOpen(ctx, p.cfg.RootURL)
}

// ClientNotifier delivers notifications to open pages through their mailboxes
type ClientNotifier struct {
	registry *clients.Registry
}

func NewClientNotifier(registry *clients.Registry) *ClientNotifier {
	return &ClientNotifier{registry: registry}
}

func (c *ClientNotifier) ShowNotification(ctx context.Context, n Notification) error {
	c.registry.Broadcast(clients.Message{Type: clients.TypeNotification, Data: n})
	return nil
}

func (c *ClientNotifier) CloseNotification(ctx context.Context) error {
	c.registry.Broadcast(clients.Message{Type: clients.TypeNotificationClosed})
	return nil
}

func (c *ClientNotifier) FocusOrOpen(ctx context.Context, url string) error {
	if !c.registry.Focus(url) {
		c.registry.OpenWindow(url)
	}
	return nil
}
