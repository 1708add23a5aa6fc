// Package ari is the Asterisk REST Interface integration variant: call
// events arrive over the ARI websocket, variables and dialplan continuation
// go through the REST api.
package ari

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/openims/shbridge/pkg/bridge"
)

type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	App      string

	PingInterval time.Duration
}

// Client holds the event websocket and the REST client for channel
// operations.
type Client struct {
	cfg  Config
	log  *slog.Logger
	base string
	http *http.Client

	mu     sync.Mutex
	conn   *websocket.Conn
	events chan bridge.CallEvent
	closed chan struct{}
	once   sync.Once
}

// stasisEvent is the subset of ARI event fields the bridge reads. The
// application arguments of StasisStart carry the operation and its
// positional arguments.
type stasisEvent struct {
	Type    string   `json:"type"`
	Args    []string `json:"args"`
	Channel struct {
		ID string `json:"id"`
	} `json:"channel"`
}

// Dial opens the ARI event websocket for the configured application.
func Dial(cfg Config, log *slog.Logger) (*Client, error) {
	if cfg.Port == 0 {
		cfg.Port = 8088
	}
	if cfg.PingInterval == 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}

	c := &Client{
		cfg:    cfg,
		log:    log,
		base:   fmt.Sprintf("http://%s:%d/ari", cfg.Host, cfg.Port),
		http:   &http.Client{Timeout: 10 * time.Second},
		events: make(chan bridge.CallEvent, 64),
		closed: make(chan struct{}),
	}

	wsURL := fmt.Sprintf("ws://%s:%d/ari/events?app=%s&api_key=%s",
		cfg.Host, cfg.Port,
		url.QueryEscape(cfg.App),
		url.QueryEscape(cfg.Username+":"+cfg.Password))

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.Dial(wsURL, nil)
	if err != nil {
		return nil, errors.WithMessage(err, "dial ari websocket")
	}
	c.conn = conn

	go c.listen()
	go c.pingLoop()

	log.Info("connected to ari", slog.String("host", cfg.Host), slog.String("app", cfg.App))
	return c, nil
}

// Events is the stream of StasisStart events decoded into call events.
func (c *Client) Events() <-chan bridge.CallEvent {
	return c.events
}

func (c *Client) Close() {
	c.once.Do(func() {
		close(c.closed)
		c.mu.Lock()
		conn := c.conn
		c.conn = nil
		c.mu.Unlock()
		if conn != nil {
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutting down"))
			conn.Close()
		}
	})
}

func (c *Client) listen() {
	defer close(c.events)
	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.closed:
			default:
				c.log.Error("ari websocket read failed", slog.String("error", err.Error()))
				c.Close()
			}
			return
		}
		var ev stasisEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			continue
		}
		if ev.Type != "StasisStart" || len(ev.Args) == 0 {
			continue
		}
		callEvent := bridge.CallEvent{
			CorrelationID: ev.Channel.ID,
			Operation:     ev.Args[0],
			Arguments:     ev.Args[1:],
		}
		select {
		case c.events <- callEvent:
		case <-c.closed:
			return
		}
	}
}

func (c *Client) pingLoop() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.mu.Lock()
			conn := c.conn
			c.mu.Unlock()
			if conn == nil {
				return
			}
			if err := conn.WriteMessage(websocket.PingMessage, []byte(strconv.FormatInt(time.Now().UnixMilli(), 10))); err != nil {
				c.log.Warn("ari ping failed", slog.String("error", err.Error()))
			}
		case <-c.closed:
			return
		}
	}
}

func (c *Client) post(ctx context.Context, path string, query url.Values) error {
	u := c.base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, nil)
	if err != nil {
		return err
	}
	req.SetBasicAuth(c.cfg.Username, c.cfg.Password)
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errors.Errorf("ari %s: %s", path, resp.Status)
	}
	return nil
}

// SetVariable sets one channel variable.
func (c *Client) SetVariable(ctx context.Context, correlationID, name, value string) error {
	return c.post(ctx, "/channels/"+url.PathEscape(correlationID)+"/variable", url.Values{
		"variable": {name},
		"value":    {value},
	})
}

// Resume continues the channel in the dialplan, ending its Stasis stay.
func (c *Client) Resume(ctx context.Context, correlationID string) error {
	return c.post(ctx, "/channels/"+url.PathEscape(correlationID)+"/continue", nil)
}
