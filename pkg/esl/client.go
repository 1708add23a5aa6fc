// Package esl is a thin FreeSWITCH Event Socket (inbound) client: enough to
// authenticate, receive CUSTOM events and issue api commands against call
// legs. It is not a general ESL library.
package esl

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/openims/shbridge/pkg/bridge"
)

type Config struct {
	Host     string
	Port     int
	Password string

	// DialTimeout bounds the TCP connect and the auth handshake.
	DialTimeout time.Duration
	// CommandTimeout bounds each api command round trip.
	CommandTimeout time.Duration
}

// message is one framed ESL payload: MIME-ish headers plus an optional body.
type message struct {
	headers textproto.MIMEHeader
	body    string
}

// Client multiplexes command replies and asynchronous events over the single
// event socket. A mutex serializes commands so each reply pairs with the
// command that produced it.
type Client struct {
	cfg  Config
	log  *slog.Logger
	conn net.Conn
	tp   *textproto.Reader

	cmdMu   sync.Mutex
	replies chan *message
	events  chan bridge.CallEvent
	closed  chan struct{}
	once    sync.Once
}

// Dial connects, authenticates and subscribes to CUSTOM events. The returned
// client delivers decoded call events on Events until closed.
func Dial(cfg Config, log *slog.Logger) (*Client, error) {
	if cfg.Port == 0 {
		cfg.Port = 8021
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if cfg.CommandTimeout == 0 {
		cfg.CommandTimeout = 5 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}

	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	conn, err := net.DialTimeout("tcp", addr, cfg.DialTimeout)
	if err != nil {
		return nil, errors.WithMessage(err, "dial event socket")
	}

	c := &Client{
		cfg:     cfg,
		log:     log,
		conn:    conn,
		tp:      textproto.NewReader(bufio.NewReader(conn)),
		replies: make(chan *message, 1),
		events:  make(chan bridge.CallEvent, 64),
		closed:  make(chan struct{}),
	}

	deadline := time.Now().Add(cfg.DialTimeout)
	conn.SetDeadline(deadline)
	if err := c.handshake(); err != nil {
		conn.Close()
		return nil, err
	}
	conn.SetDeadline(time.Time{})

	go c.readLoop()

	if err := c.subscribe(); err != nil {
		c.Close()
		return nil, err
	}
	log.Info("connected to freeswitch event socket", slog.String("addr", addr))
	return c, nil
}

func (c *Client) handshake() error {
	msg, err := c.readMessage()
	if err != nil {
		return errors.WithMessage(err, "read auth request")
	}
	if msg.headers.Get("Content-Type") != "auth/request" {
		return errors.Errorf("unexpected greeting %q", msg.headers.Get("Content-Type"))
	}
	if err := c.write("auth " + c.cfg.Password); err != nil {
		return err
	}
	msg, err = c.readMessage()
	if err != nil {
		return errors.WithMessage(err, "read auth reply")
	}
	if !strings.HasPrefix(msg.headers.Get("Reply-Text"), "+OK") {
		return errors.Errorf("authentication refused: %s", msg.headers.Get("Reply-Text"))
	}
	return nil
}

func (c *Client) subscribe() error {
	reply, err := c.command(context.Background(), "event plain CUSTOM")
	if err != nil {
		return errors.WithMessage(err, "subscribe to events")
	}
	if !strings.HasPrefix(reply.headers.Get("Reply-Text"), "+OK") {
		return errors.Errorf("event subscription refused: %s", reply.headers.Get("Reply-Text"))
	}
	return nil
}

// Events is the stream of decoded CUSTOM events.
func (c *Client) Events() <-chan bridge.CallEvent {
	return c.events
}

func (c *Client) Close() {
	c.once.Do(func() {
		close(c.closed)
		c.conn.Close()
	})
}

func (c *Client) write(cmd string) error {
	_, err := io.WriteString(c.conn, cmd+"\n\n")
	return errors.WithMessage(err, "write command")
}

// command sends one line and waits for its command/reply or api/response.
func (c *Client) command(ctx context.Context, cmd string) (*message, error) {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()
	if err := c.write(cmd); err != nil {
		return nil, err
	}
	select {
	case reply := <-c.replies:
		return reply, nil
	case <-time.After(c.cfg.CommandTimeout):
		return nil, errors.Errorf("timed out waiting for reply to %q", cmd)
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.closed:
		return nil, errors.New("event socket closed")
	}
}

// api runs an api command and returns the response body.
func (c *Client) api(ctx context.Context, cmd string) (string, error) {
	reply, err := c.command(ctx, "api "+cmd)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(reply.body), nil
}

// SetVariable sets one channel variable via uuid_setvar. The value is
// single-quoted so spaces survive FreeSWITCH's argument parsing.
func (c *Client) SetVariable(ctx context.Context, correlationID, name, value string) error {
	body, err := c.api(ctx, fmt.Sprintf("uuid_setvar %s %s '%s'", correlationID, name, value))
	if err != nil {
		return err
	}
	if !strings.HasPrefix(body, "+OK") {
		return errors.Errorf("uuid_setvar %s: %s", name, body)
	}
	return nil
}

// Resume breaks the channel out of its parked/waiting state so dialplan
// processing continues.
func (c *Client) Resume(ctx context.Context, correlationID string) error {
	body, err := c.api(ctx, "uuid_break "+correlationID)
	if err != nil {
		return err
	}
	if !strings.HasPrefix(body, "+OK") {
		return errors.Errorf("uuid_break: %s", body)
	}
	return nil
}

func (c *Client) readMessage() (*message, error) {
	headers, err := c.tp.ReadMIMEHeader()
	if err != nil {
		return nil, err
	}
	msg := &message{headers: headers}
	if cl := headers.Get("Content-Length"); cl != "" {
		n, err := strconv.Atoi(cl)
		if err != nil {
			return nil, errors.WithMessage(err, "bad Content-Length")
		}
		body := make([]byte, n)
		if _, err := io.ReadFull(c.tp.R, body); err != nil {
			return nil, err
		}
		msg.body = string(body)
	}
	return msg, nil
}

// readLoop routes framed payloads: command replies to the waiting command,
// events to the event channel.
func (c *Client) readLoop() {
	defer close(c.events)
	for {
		msg, err := c.readMessage()
		if err != nil {
			select {
			case <-c.closed:
			default:
				c.log.Error("event socket read failed", slog.String("error", err.Error()))
				c.Close()
			}
			return
		}
		switch msg.headers.Get("Content-Type") {
		case "command/reply", "api/response":
			select {
			case c.replies <- msg:
			default:
				c.log.Warn("dropped unexpected command reply")
			}
		case "text/event-plain":
			if ev, ok := decodeEvent(msg.body); ok {
				select {
				case c.events <- ev:
				case <-c.closed:
					return
				}
			}
		case "text/disconnect-notice":
			c.log.Warn("event socket disconnect notice")
			c.Close()
			return
		}
	}
}

// decodeEvent parses a plain-format event body into a call event. Only
// CUSTOM events with a subclass and channel id are bridged; everything else
// is dropped.
func decodeEvent(body string) (bridge.CallEvent, bool) {
	headers := parseEventHeaders(body)
	if headers["Event-Name"] != "CUSTOM" {
		return bridge.CallEvent{}, false
	}
	ev := bridge.CallEvent{
		CorrelationID: headers["Unique-ID"],
		Operation:     headers["Event-Subclass"],
	}
	if ev.CorrelationID == "" || ev.Operation == "" {
		return bridge.CallEvent{}, false
	}
	ev.Arguments = append(ev.Arguments, headers["MSISDN"])
	for _, extra := range []string{"Data-Reference", "Sh-Data", "Subs-Req-Type"} {
		if v, ok := headers[extra]; ok && v != "" {
			ev.Arguments = append(ev.Arguments, v)
		}
	}
	return ev, true
}

// parseEventHeaders decodes the "Key: value" lines of a plain event body.
// Values are URL-encoded by FreeSWITCH.
func parseEventHeaders(body string) map[string]string {
	headers := make(map[string]string)
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			break
		}
		key, value, ok := strings.Cut(line, ": ")
		if !ok {
			continue
		}
		if decoded, err := url.QueryUnescape(value); err == nil {
			value = decoded
		}
		headers[key] = value
	}
	return headers
}
