// Package clients tracks the pages served by the intermediary.
package clients

import (
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Client is one open page
type Client struct {
	ID string

	mu         sync.Mutex
	controller string
	reloading  bool
	mailbox    []Message
}

// Controller returns the version controlling the client, or "" when uncontrolled
func (c *Client) Controller() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.controller
}

// Post queues a message for the page
func (c *Client) Post(msg Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mailbox = append(c.mailbox, msg)
}

// Drain returns and clears the queued messages
func (c *Client) Drain() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.mailbox
	c.mailbox = nil
	return out
}

// setController hands the client to version. A page reloads at most once
// in its lifetime on controller change, so repeated claims never loop.
func (c *Client) setController(version string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.controller == version {
		return false
	}
	c.controller = version
	if !c.reloading {
		c.reloading = true
		c.mailbox = append(c.mailbox, Message{Type: TypeReload})
	}
	return true
}

// Registry holds the open clients in opening order
type Registry struct {
	mu      sync.RWMutex
	clients map[string]*Client
	order   []string
	windows []string
}

func NewRegistry() *Registry {
	return &Registry{
		clients: make(map[string]*Client),
	}
}

// Open registers a new page controlled by controller ("" for uncontrolled)
func (r *Registry) Open(controller string) *Client {
	c := &Client{
		ID:         uuid.NewString(),
		controller: controller,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[c.ID] = c
	r.order = append(r.order, c.ID)
	logrus.Debugf("Client %s opened (controller %q)", c.ID, controller)
	return c
}

func (r *Registry) Get(id string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[id]
	return c, ok
}

// Close forgets a client; it reports whether the client existed
func (r *Registry) Close(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.clients[id]; !ok {
		return false
	}
	delete(r.clients, id)
	for i, cid := range r.order {
		if cid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	logrus.Debugf("Client %s closed", id)
	return true
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// CountControlledBy returns the number of clients controlled by version
func (r *Registry) CountControlledBy(version string) int {
	n := 0
	for _, c := range r.snapshot() {
		if c.Controller() == version {
			n++
		}
	}
	return n
}

// Claim makes version the controller of every open client and returns how
// many clients changed controller
func (r *Registry) Claim(version string) int {
	claimed := 0
	for _, c := range r.snapshot() {
		if c.setController(version) {
			claimed++
		}
	}
	if claimed > 0 {
		logrus.Infof("Version %s claimed %d client(s)", version, claimed)
	}
	return claimed
}

// Broadcast posts msg to every open client
func (r *Registry) Broadcast(msg Message) {
	for _, c := range r.snapshot() {
		c.Post(msg)
	}
}

// Focus asks the oldest open client to show url; false when no client is open
func (r *Registry) Focus(url string) bool {
	clients := r.snapshot()
	if len(clients) == 0 {
		return false
	}
	clients[0].Post(Message{Type: TypeFocus, URL: url})
	return true
}

// OpenWindow records a request to open a new window on url
func (r *Registry) OpenWindow(url string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.windows = append(r.windows, url)
	logrus.Infof("Opening window on %s", url)
}

// OpenedWindows returns the URLs passed to OpenWindow
func (r *Registry) OpenedWindows() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.windows...)
}

func (r *Registry) snapshot() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Client, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.clients[id])
	}
	return out
}
