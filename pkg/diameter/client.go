package diameter

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/fiorix/go-diameter/v4/diam"
	"github.com/fiorix/go-diameter/v4/diam/avp"
	"github.com/fiorix/go-diameter/v4/diam/datatype"
	"github.com/fiorix/go-diameter/v4/diam/dict"
	"github.com/fiorix/go-diameter/v4/diam/sm"

	"github.com/openims/shbridge/pkg/monitoring"
)

// Data-Reference values understood by the peer HSS. The integer mapping is
// protocol-defined (TS 29.329).
const (
	DataRefRepositoryData = 0
	DataRefIMSUserState   = 1
	DataRefMSISDN         = 6
)

// Subs-Req-Type values for Subscribe-Notifications.
const (
	SubsReqSubscribe   = 0
	SubsReqUnsubscribe = 1
)

// SessionState is the lifecycle of the single peer connection.
type SessionState int32

const (
	Disconnected SessionState = iota
	Connecting
	Connected
	Failed
)

func (s SessionState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Failed:
		return "failed"
	default:
		return "disconnected"
	}
}

// Settings identifies this bridge and its peer. All four identity fields are
// required; the zero durations fall back to the protocol defaults.
type Settings struct {
	OriginHost       string
	OriginRealm      string
	DestinationHost  string
	DestinationRealm string

	PeerAddr    string // host:port of the HSS
	NetworkType string // "tcp" or "sctp"
	ProductName string

	WatchdogInterval time.Duration
	RequestTimeout   time.Duration
	MaxRetransmits   uint
}

// ProfileQuery selects the subscriber and the data subset to fetch.
type ProfileQuery struct {
	IdentityType  string // "Public-Identity" (default) or "MSISDN"
	IdentityValue string
	DataReference int
}

func (q ProfileQuery) userIdentity() AVP {
	idType := q.IdentityType
	if idType == "" {
		idType = "Public-Identity"
	}
	return Group("User-Identity", NewAVP(idType, q.IdentityValue))
}

// UserDataAnswer is the UDA payload of interest. UserData carries the raw
// Sh-Data XML document.
type UserDataAnswer struct {
	SessionID          datatype.UTF8String       `avp:"Session-Id"`
	ResultCode         datatype.Unsigned32       `avp:"Result-Code"`
	ExperimentalResult experimentalResult        `avp:"Experimental-Result"`
	OriginHost         datatype.DiameterIdentity `avp:"Origin-Host"`
	OriginRealm        datatype.DiameterIdentity `avp:"Origin-Realm"`
	UserData           string                    `avp:"Sh-User-Data"`
}

type experimentalResult struct {
	ExperimentalResultCode datatype.Unsigned32 `avp:"Experimental-Result-Code"`
}

type shAnswer struct {
	SessionID          datatype.UTF8String `avp:"Session-Id"`
	ResultCode         datatype.Unsigned32 `avp:"Result-Code"`
	ExperimentalResult experimentalResult  `avp:"Experimental-Result"`
}

// Client owns the single persistent connection to the HSS. Any number of
// requests may be in flight concurrently; answers are correlated back by
// Session-Id through the pending map.
type Client struct {
	settings Settings
	log      *slog.Logger

	mu    sync.Mutex
	state SessionState
	conn  diam.Conn
	w     io.Writer // the connection; a seam for tests

	pmu     sync.Mutex
	pending map[string]chan *diam.Message

	seq          atomic.Uint64
	watchdogStop chan struct{}
	watchdogOnce sync.Once
}

func New(settings Settings, log *slog.Logger) *Client {
	if settings.NetworkType == "" {
		settings.NetworkType = "tcp"
	}
	if settings.ProductName == "" {
		settings.ProductName = "sh-bridge"
	}
	if settings.WatchdogInterval == 0 {
		settings.WatchdogInterval = 30 * time.Second
	}
	if settings.RequestTimeout == 0 {
		settings.RequestTimeout = 5 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		settings:     settings,
		log:          log,
		pending:      make(map[string]chan *diam.Message),
		watchdogStop: make(chan struct{}),
	}
}

// State reports the connection lifecycle state. Callers use it to fail fast
// before building a request.
func (c *Client) State() SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) setState(s SessionState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Dial performs the transport connect and CER/CEA exchange with the peer.
// There is no automatic redial; a failed Dial leaves the session Disconnected
// and the caller decides whether the process can continue.
func (c *Client) Dial() error {
	c.setState(Connecting)

	cfg := &sm.Settings{
		OriginHost:       datatype.DiameterIdentity(c.settings.OriginHost),
		OriginRealm:      datatype.DiameterIdentity(c.settings.OriginRealm),
		VendorID:         Vendor3GPP,
		ProductName:      datatype.UTF8String(c.settings.ProductName),
		OriginStateID:    datatype.Unsigned32(time.Now().Unix()),
		FirmwareRevision: 1,
	}
	mux := sm.New(cfg)

	mux.HandleIdx(
		diam.CommandIndex{AppID: ShApplicationID, Code: cmdUserData, Request: false},
		c.handleAnswer("User-Data"))
	mux.HandleIdx(
		diam.CommandIndex{AppID: ShApplicationID, Code: cmdProfileUpdate, Request: false},
		c.handleAnswer("Profile-Update"))
	mux.HandleIdx(
		diam.CommandIndex{AppID: ShApplicationID, Code: cmdSubscribeNotifications, Request: false},
		c.handleAnswer("Subscribe-Notifications"))
	mux.HandleIdx(
		diam.CommandIndex{AppID: 0, Code: diam.DeviceWatchdog, Request: false},
		c.handleWatchdogAnswer())
	mux.HandleIdx(diam.ALL_CMD_INDEX, c.handleUnexpected())

	go c.logErrorReports(mux.ErrorReports())

	cli := &sm.Client{
		Dict:             dict.Default,
		Handler:          mux,
		MaxRetransmits:   c.settings.MaxRetransmits,
		EnableWatchdog:   false,
		WatchdogInterval: 0,
		SupportedVendorID: []*diam.AVP{
			diam.NewAVP(avp.SupportedVendorID, avp.Mbit, 0, datatype.Unsigned32(Vendor3GPP)),
		},
		VendorSpecificApplicationID: []*diam.AVP{
			diam.NewAVP(avp.VendorSpecificApplicationID, avp.Mbit, 0, &diam.GroupedAVP{
				AVP: []*diam.AVP{
					diam.NewAVP(avp.AuthApplicationID, avp.Mbit, 0, datatype.Unsigned32(ShApplicationID)),
					diam.NewAVP(avp.VendorID, avp.Mbit, 0, datatype.Unsigned32(Vendor3GPP)),
				},
			}),
		},
	}

	conn, err := cli.DialNetwork(c.settings.NetworkType, c.settings.PeerAddr)
	if err != nil {
		c.setState(Disconnected)
		return errors.WithMessage(err, "dial diameter peer")
	}

	c.mu.Lock()
	c.conn = conn
	c.w = conn
	c.state = Connected
	c.mu.Unlock()

	go c.watchConn(conn)

	c.log.Info("connected to diameter peer",
		slog.String("peer", c.settings.PeerAddr),
		slog.String("network", c.settings.NetworkType))
	return nil
}

// watchConn flips the session state when the transport drops. Queries issued
// afterwards fail fast with ErrNotConnected.
func (c *Client) watchConn(conn diam.Conn) {
	<-conn.(diam.CloseNotifier).CloseNotify()
	c.setState(Disconnected)
	c.log.Error("diameter connection lost", slog.String("peer", c.settings.PeerAddr))
}

// Close stops the watchdog and tears down the connection.
func (c *Client) Close() {
	c.watchdogOnce.Do(func() { close(c.watchdogStop) })
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.w = nil
	c.state = Disconnected
	c.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

// nextSessionID produces a process-unique Session-Id in the
// "originHost;timestamp;sequence" form. Uniqueness within the process
// lifetime is what the pending map correlates on.
func (c *Client) nextSessionID() string {
	return c.settings.OriginHost + ";" +
		strconv.FormatInt(time.Now().Unix(), 10) + ";" +
		strconv.FormatUint(c.seq.Add(1), 10)
}

// envelope returns the fixed AVPs every Sh request carries, in the order the
// peer expects them.
func (c *Client) envelope(sid string, q ProfileQuery) []AVP {
	return []AVP{
		NewAVP("Session-Id", sid),
		NewAVP("Auth-Application-Id", ShApplicationID),
		NewAVP("Origin-Host", c.settings.OriginHost),
		NewAVP("Origin-Realm", c.settings.OriginRealm),
		NewAVP("Destination-Realm", c.settings.DestinationRealm),
		NewAVP("Destination-Host", c.settings.DestinationHost),
		q.userIdentity(),
		NewAVP("Data-Reference", q.DataReference),
		Group("Vendor-Specific-Application-Id",
			NewAVP("Vendor-Id", Vendor3GPP),
			NewAVP("Auth-Application-Id", ShApplicationID),
		),
	}
}

func (c *Client) newRequest(code uint32, avps []AVP) (*diam.Message, error) {
	m := diam.NewRequest(code, ShApplicationID, dict.Default)
	if err := appendAVPs(m, avps); err != nil {
		return nil, err
	}
	return m, nil
}

// UserData sends a UDR for the queried subscriber and waits for the
// correlated UDA. The answer's Sh-User-Data field carries the profile XML;
// parsing it is the caller's concern.
func (c *Client) UserData(ctx context.Context, q ProfileQuery) (*UserDataAnswer, error) {
	sid := c.nextSessionID()
	m, err := c.newRequest(cmdUserData, c.envelope(sid, q))
	if err != nil {
		return nil, err
	}
	ans, err := c.send(ctx, "User-Data", sid, m)
	if err != nil {
		return nil, err
	}
	var uda UserDataAnswer
	if err := ans.Unmarshal(&uda); err != nil {
		return nil, errors.WithMessage(err, "unmarshal UDA")
	}
	if code := answerCode(uda.ResultCode, uda.ExperimentalResult); code != diam.Success {
		return nil, &AnswerError{Command: "User-Data", Code: code}
	}
	return &uda, nil
}

// ProfileUpdate sends a PUR writing repositoryDataXML to the subscriber's
// RepositoryData. The returned map is the answer's AVPs by name,
// last-write-wins on duplicates.
func (c *Client) ProfileUpdate(ctx context.Context, q ProfileQuery, repositoryDataXML string) (map[string]interface{}, error) {
	q.DataReference = DataRefRepositoryData
	sid := c.nextSessionID()
	avps := append(c.envelope(sid, q), NewAVP("Sh-User-Data", repositoryDataXML))
	m, err := c.newRequest(cmdProfileUpdate, avps)
	if err != nil {
		return nil, err
	}
	ans, err := c.send(ctx, "Profile-Update", sid, m)
	if err != nil {
		return nil, err
	}
	if err := checkAnswer("Profile-Update", ans); err != nil {
		return nil, err
	}
	return avpValues(ans), nil
}

// SubscribeNotifications sends an SNR; subsReqType is SubsReqSubscribe or
// SubsReqUnsubscribe.
func (c *Client) SubscribeNotifications(ctx context.Context, q ProfileQuery, subsReqType int) (map[string]interface{}, error) {
	sid := c.nextSessionID()
	avps := append(c.envelope(sid, q), NewAVP("Subs-Req-Type", subsReqType))
	m, err := c.newRequest(cmdSubscribeNotifications, avps)
	if err != nil {
		return nil, err
	}
	ans, err := c.send(ctx, "Subscribe-Notifications", sid, m)
	if err != nil {
		return nil, err
	}
	if err := checkAnswer("Subscribe-Notifications", ans); err != nil {
		return nil, err
	}
	return avpValues(ans), nil
}

// send writes the request and blocks until the correlated answer, the
// timeout, or ctx. The pending entry is always reaped on exit so a late
// answer is just logged as unmatched.
func (c *Client) send(ctx context.Context, command, sid string, m *diam.Message) (*diam.Message, error) {
	c.mu.Lock()
	w := c.w
	connected := c.state == Connected
	c.mu.Unlock()
	if !connected || w == nil {
		monitoring.QueriesTotal.WithLabelValues(command, "not_connected").Inc()
		return nil, ErrNotConnected
	}

	ch := make(chan *diam.Message, 1)
	c.pmu.Lock()
	c.pending[sid] = ch
	c.pmu.Unlock()
	defer func() {
		c.pmu.Lock()
		delete(c.pending, sid)
		c.pmu.Unlock()
	}()

	monitoring.InflightRequests.Inc()
	defer monitoring.InflightRequests.Dec()

	if _, err := m.WriteTo(w); err != nil {
		monitoring.QueriesTotal.WithLabelValues(command, "write_error").Inc()
		return nil, errors.WithMessage(err, "write request")
	}

	select {
	case ans := <-ch:
		monitoring.QueriesTotal.WithLabelValues(command, "answered").Inc()
		return ans, nil
	case <-time.After(c.settings.RequestTimeout):
		monitoring.QueriesTotal.WithLabelValues(command, "timeout").Inc()
		return nil, ErrRequestTimeout
	case <-ctx.Done():
		monitoring.QueriesTotal.WithLabelValues(command, "canceled").Inc()
		return nil, ctx.Err()
	}
}

// resolve hands an answer to the waiter registered under sid. Reports whether
// a waiter was found.
func (c *Client) resolve(sid string, m *diam.Message) bool {
	c.pmu.Lock()
	ch, ok := c.pending[sid]
	c.pmu.Unlock()
	if !ok {
		return false
	}
	select {
	case ch <- m:
	default:
	}
	return true
}

func (c *Client) handleAnswer(command string) diam.HandlerFunc {
	return func(conn diam.Conn, m *diam.Message) {
		sidAVP, err := m.FindAVP(avp.SessionID, 0)
		if err != nil {
			c.log.Warn("answer without Session-Id", slog.String("command", command))
			return
		}
		sid := string(sidAVP.Data.(datatype.UTF8String))
		if !c.resolve(sid, m) {
			c.log.Warn("unmatched answer",
				slog.String("command", command),
				slog.String("session_id", sid))
		}
	}
}

func (c *Client) handleWatchdogAnswer() diam.HandlerFunc {
	return func(conn diam.Conn, m *diam.Message) {
		c.log.Debug("device watchdog answer received")
	}
}

func (c *Client) handleUnexpected() diam.HandlerFunc {
	return func(conn diam.Conn, m *diam.Message) {
		c.log.Warn("unexpected diameter message",
			slog.String("peer", conn.RemoteAddr().String()),
			slog.String("message", m.String()))
	}
}

func (c *Client) logErrorReports(ec <-chan *diam.ErrorReport) {
	for report := range ec {
		c.log.Error("diameter error report", slog.String("error", report.Error.Error()))
	}
}

// RunWatchdog sends a Device-Watchdog request on a fixed cadence until ctx
// is canceled or the session is closed. Failures are logged and swallowed; a
// missed cycle never changes the recorded session state.
func (c *Client) RunWatchdog(ctx context.Context) error {
	ticker := time.NewTicker(c.settings.WatchdogInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := c.sendWatchdog(); err != nil {
				monitoring.WatchdogFailures.Inc()
				c.log.Warn("device watchdog send failed", slog.String("error", err.Error()))
			}
		case <-ctx.Done():
			return nil
		case <-c.watchdogStop:
			return nil
		}
	}
}

// sendWatchdog is fire-and-forget: the DWA is consumed by its handler and
// never awaited.
func (c *Client) sendWatchdog() error {
	c.mu.Lock()
	w := c.w
	connected := c.state == Connected
	c.mu.Unlock()
	if !connected || w == nil {
		return ErrNotConnected
	}

	m := diam.NewRequest(diam.DeviceWatchdog, 0, dict.Default)
	err := appendAVPs(m, []AVP{
		NewAVP("Origin-Host", c.settings.OriginHost),
		NewAVP("Origin-Realm", c.settings.OriginRealm),
	})
	if err != nil {
		return err
	}
	_, err = m.WriteTo(w)
	return err
}

func answerCode(rc datatype.Unsigned32, exp experimentalResult) uint32 {
	if rc != 0 {
		return uint32(rc)
	}
	return uint32(exp.ExperimentalResultCode)
}

func checkAnswer(command string, m *diam.Message) error {
	var ans shAnswer
	if err := m.Unmarshal(&ans); err != nil {
		return errors.WithMessagef(err, "unmarshal %s answer", command)
	}
	if code := answerCode(ans.ResultCode, ans.ExperimentalResult); code != diam.Success {
		return &AnswerError{Command: command, Code: code}
	}
	return nil
}

// avpValues flattens an answer's AVP list into a name-keyed map. The list is
// scanned in order, so duplicate names resolve last-write-wins.
func avpValues(m *diam.Message) map[string]interface{} {
	out := make(map[string]interface{}, len(m.AVP))
	for _, a := range m.AVP {
		out[avpName(a)] = avpValue(a.Data)
	}
	return out
}

func avpName(a *diam.AVP) string {
	if d, err := dict.Default.FindAVPWithVendor(ShApplicationID, a.Code, a.VendorID); err == nil {
		return d.Name
	}
	return fmt.Sprintf("AVP-%d", a.Code)
}

func avpValue(d datatype.Type) interface{} {
	switch v := d.(type) {
	case datatype.UTF8String:
		return string(v)
	case datatype.OctetString:
		return string(v)
	case datatype.DiameterIdentity:
		return string(v)
	case datatype.Unsigned32:
		return uint32(v)
	case datatype.Enumerated:
		return int32(v)
	case *diam.GroupedAVP:
		group := make(map[string]interface{}, len(v.AVP))
		for _, a := range v.AVP {
			group[avpName(a)] = avpValue(a.Data)
		}
		return group
	default:
		return d.String()
	}
}
