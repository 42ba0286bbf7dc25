// Package client talks to a board server: the realtime channel and the JSON
// HTTP API.
package client

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"prism-board/domain"
)

var (
	ErrNotConnected = errors.New("realtime: not connected")
	ErrUnauthorized = errors.New("realtime: unauthorized")
)

const writeTimeout = 10 * time.Second

// Dialer is the gorilla dialer used for the realtime channel.
var Dialer = &websocket.Dialer{
	Proxy:            http.ProxyFromEnvironment,
	HandshakeTimeout: 10 * time.Second,
}

// Client is one realtime connection with typed emit and listen.
type Client struct {
	socketURL string
	log       *log.Logger

	mu   sync.Mutex
	conn *websocket.Conn
	subs map[string]map[*Subscription]struct{}

	writeMu sync.Mutex
}

// New returns a client for the server at baseURL (http or https).
func New(baseURL string, logger *log.Logger) (*Client, error) {
	if logger == nil {
		logger = log.StandardLogger()
	}
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return nil, errors.New("unsupported scheme " + u.Scheme)
	}
	u.Path += "/socket"
	return &Client{socketURL: u.String(), log: logger, subs: map[string]map[*Subscription]struct{}{}}, nil
}

// Connect opens the channel with token. It is a no-op while connected.
func (c *Client) Connect(ctx context.Context, token string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return nil
	}
	header := http.Header{}
	if !strings.HasPrefix(token, "Bearer ") {
		token = "Bearer " + token
	}
	header.Set("Authorization", token)

	conn, resp, err := Dialer.DialContext(ctx, c.socketURL, header)
	if resp != nil && resp.Body != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return ErrUnauthorized
		}
		return err
	}
	c.conn = conn
	go c.readLoop(conn)
	return nil
}

// Connected reports whether a connection is open.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Disconnect closes the connection and ends every subscription.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	c.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	err := conn.Close()
	c.teardown(conn)
	return err
}

// Emit sends event without waiting for an outcome.
func (c *Client) Emit(event string, payload any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	msg, err := domain.EncodeFrame(event, payload)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, msg)
}

// Listen subscribes to every future occurrence of event.
func (c *Client) Listen(event string) (*Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil, ErrNotConnected
	}
	sub := newSubscription(event, c.detach)
	set, ok := c.subs[event]
	if !ok {
		set = map[*Subscription]struct{}{}
		c.subs[event] = set
	}
	set[sub] = struct{}{}
	return sub, nil
}

func (c *Client) detach(s *Subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if set, ok := c.subs[s.Event]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(c.subs, s.Event)
		}
	}
}

func (c *Client) readLoop(conn *websocket.Conn) {
	defer c.teardown(conn)
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.WithError(err).Warn("realtime connection lost")
			}
			return
		}
		f, err := domain.DecodeFrame(msg)
		if err != nil {
			c.log.WithError(err).Warn("dropping malformed frame")
			continue
		}
		c.mu.Lock()
		for sub := range c.subs[f.Event] {
			sub.push(f.Data)
		}
		c.mu.Unlock()
	}
}

// teardown forgets conn and ends its subscriptions. Only the first call for a
// given connection has an effect.
func (c *Client) teardown(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	var subs []*Subscription
	for _, set := range c.subs {
		for s := range set {
			subs = append(subs, s)
		}
	}
	c.subs = map[string]map[*Subscription]struct{}{}
	c.mu.Unlock()
	for _, s := range subs {
		s.Close()
	}
}
