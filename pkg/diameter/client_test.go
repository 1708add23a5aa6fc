package diameter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/fiorix/go-diameter/v4/diam"
	"github.com/fiorix/go-diameter/v4/diam/avp"
	"github.com/fiorix/go-diameter/v4/diam/datatype"
	"github.com/fiorix/go-diameter/v4/diam/dict"
)

func testClient() *Client {
	return New(Settings{
		OriginHost:       "bridge.example.org",
		OriginRealm:      "example.org",
		DestinationHost:  "hss.example.org",
		DestinationRealm: "example.org",
		PeerAddr:         "127.0.0.1:3868",
		RequestTimeout:   100 * time.Millisecond,
	}, nil)
}

func TestEnvelopeAVPs(t *testing.T) {
	c := testClient()

	queries := []ProfileQuery{
		{IdentityValue: "sip:alice@ims.example.org"},
		{IdentityType: "MSISDN", IdentityValue: "3342012860", DataReference: DataRefMSISDN},
		{IdentityType: "Public-Identity", IdentityValue: "tel:+3342012860", DataReference: DataRefIMSUserState},
	}
	commands := []uint32{cmdUserData, cmdProfileUpdate, cmdSubscribeNotifications}

	for _, q := range queries {
		for _, code := range commands {
			sid := c.nextSessionID()
			m, err := c.newRequest(code, c.envelope(sid, q))
			if err != nil {
				t.Fatalf("newRequest(%d): %v", code, err)
			}

			for _, fixed := range []struct {
				code   uint32
				vendor uint32
			}{
				{avp.SessionID, 0},
				{avp.AuthApplicationID, 0},
				{avp.OriginHost, 0},
				{avp.OriginRealm, 0},
				{avp.DestinationRealm, 0},
				{avp.DestinationHost, 0},
				{avpUserIdentity, Vendor3GPP},
				{avpDataReference, Vendor3GPP},
				{avp.VendorSpecificApplicationID, 0},
			} {
				if _, err := m.FindAVP(fixed.code, fixed.vendor); err != nil {
					t.Errorf("command %d query %+v: missing AVP %d: %v", code, q, fixed.code, err)
				}
			}

			vsa, err := m.FindAVP(avp.VendorSpecificApplicationID, 0)
			if err != nil {
				t.Fatalf("missing Vendor-Specific-Application-Id: %v", err)
			}
			group, ok := vsa.Data.(*diam.GroupedAVP)
			if !ok {
				t.Fatalf("Vendor-Specific-Application-Id is not grouped: %T", vsa.Data)
			}
			foundVendor := false
			for _, member := range group.AVP {
				if member.Code == avp.VendorID && member.Data.(datatype.Unsigned32) == Vendor3GPP {
					foundVendor = true
				}
			}
			if !foundVendor {
				t.Errorf("Vendor-Specific-Application-Id without Vendor-Id %d", Vendor3GPP)
			}
		}
	}
}

func TestUserIdentityDefaultsToPublicIdentity(t *testing.T) {
	c := testClient()
	m, err := c.newRequest(cmdUserData, c.envelope(c.nextSessionID(), ProfileQuery{IdentityValue: "alice"}))
	if err != nil {
		t.Fatal(err)
	}
	ui, err := m.FindAVP(avpUserIdentity, Vendor3GPP)
	if err != nil {
		t.Fatalf("missing User-Identity: %v", err)
	}
	group, ok := ui.Data.(*diam.GroupedAVP)
	if !ok {
		t.Fatalf("User-Identity is not grouped: %T", ui.Data)
	}
	if len(group.AVP) != 1 || group.AVP[0].Code != avpPublicIdentity {
		t.Errorf("expected a single Public-Identity member, got %+v", group.AVP)
	}
}

func TestSessionIDUnique(t *testing.T) {
	c := testClient()
	const workers = 8
	const perWorker = 250

	var mu sync.Mutex
	seen := make(map[string]bool, workers*perWorker)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids := make([]string, 0, perWorker)
			for j := 0; j < perWorker; j++ {
				ids = append(ids, c.nextSessionID())
			}
			mu.Lock()
			for _, id := range ids {
				seen[id] = true
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(seen) != workers*perWorker {
		t.Errorf("expected %d unique session ids, got %d", workers*perWorker, len(seen))
	}
}

func TestQueriesFailFastWhenDisconnected(t *testing.T) {
	c := testClient()
	ctx := context.Background()
	q := ProfileQuery{IdentityValue: "3342012860"}

	if _, err := c.UserData(ctx, q); !errors.Is(err, ErrNotConnected) {
		t.Errorf("UserData: expected ErrNotConnected, got %v", err)
	}
	if _, err := c.ProfileUpdate(ctx, q, "<Sh-Data/>"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("ProfileUpdate: expected ErrNotConnected, got %v", err)
	}
	if _, err := c.SubscribeNotifications(ctx, q, SubsReqSubscribe); !errors.Is(err, ErrNotConnected) {
		t.Errorf("SubscribeNotifications: expected ErrNotConnected, got %v", err)
	}
}

func TestSendTimesOutWithoutAnswer(t *testing.T) {
	c := testClient()
	c.mu.Lock()
	c.state = Connected
	c.w = io.Discard
	c.mu.Unlock()

	sid := c.nextSessionID()
	m, err := c.newRequest(cmdUserData, c.envelope(sid, ProfileQuery{IdentityValue: "alice"}))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.send(context.Background(), "User-Data", sid, m); !errors.Is(err, ErrRequestTimeout) {
		t.Errorf("expected ErrRequestTimeout, got %v", err)
	}

	c.pmu.Lock()
	remaining := len(c.pending)
	c.pmu.Unlock()
	if remaining != 0 {
		t.Errorf("pending map not reaped: %d entries left", remaining)
	}
}

func TestSendResolvesCorrelatedAnswer(t *testing.T) {
	c := testClient()
	c.settings.RequestTimeout = 2 * time.Second
	c.mu.Lock()
	c.state = Connected
	c.w = io.Discard
	c.mu.Unlock()

	sid := c.nextSessionID()
	m, err := c.newRequest(cmdUserData, c.envelope(sid, ProfileQuery{IdentityValue: "alice"}))
	if err != nil {
		t.Fatal(err)
	}
	want := diam.NewRequest(cmdUserData, ShApplicationID, dict.Default)

	go func() {
		for !c.resolve(sid, want) {
			time.Sleep(time.Millisecond)
		}
	}()

	got, err := c.send(context.Background(), "User-Data", sid, m)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if got != want {
		t.Error("send returned a different message than resolved")
	}
}

func TestResolveUnknownSessionID(t *testing.T) {
	c := testClient()
	if c.resolve("bridge.example.org;0;0", nil) {
		t.Error("resolve reported a waiter for an unknown session id")
	}
}

type errWriter struct{}

func (errWriter) Write(p []byte) (int, error) { return 0, fmt.Errorf("broken pipe") }

func TestWatchdogFailureKeepsState(t *testing.T) {
	c := testClient()
	c.mu.Lock()
	c.state = Connected
	c.w = errWriter{}
	c.mu.Unlock()

	if err := c.sendWatchdog(); err == nil {
		t.Fatal("expected sendWatchdog to fail")
	}
	if got := c.State(); got != Connected {
		t.Errorf("watchdog failure changed session state to %v", got)
	}
}

type countingWriter struct {
	mu sync.Mutex
	n  int
}

func (w *countingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.n++
	return len(p), nil
}

func (w *countingWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.n
}

func TestWatchdogCadenceIndependentOfPendingRequest(t *testing.T) {
	c := testClient()
	c.settings.WatchdogInterval = 5 * time.Millisecond
	c.settings.RequestTimeout = 5 * time.Second
	w := &countingWriter{}
	c.mu.Lock()
	c.state = Connected
	c.w = w
	c.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	watchdogDone := make(chan error, 1)
	go func() { watchdogDone <- c.RunWatchdog(ctx) }()

	// Park a request mid-flight; the ticker must keep firing around it.
	sid := c.nextSessionID()
	m, err := c.newRequest(cmdUserData, c.envelope(sid, ProfileQuery{IdentityValue: "alice"}))
	if err != nil {
		t.Fatal(err)
	}
	sendDone := make(chan struct{})
	go func() {
		c.send(context.Background(), "User-Data", sid, m)
		close(sendDone)
	}()

	deadline := time.After(2 * time.Second)
	for w.count() < 4 { // the pending request's write plus several watchdogs
		select {
		case <-deadline:
			t.Fatalf("only %d writes before deadline", w.count())
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	if err := <-watchdogDone; err != nil {
		t.Fatalf("RunWatchdog: %v", err)
	}
	c.resolve(sid, diam.NewRequest(cmdUserData, ShApplicationID, dict.Default))
	<-sendDone
}

func TestWatchdogRequiresConnection(t *testing.T) {
	c := testClient()
	if err := c.sendWatchdog(); !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
}

func TestAnswerCode(t *testing.T) {
	tests := []struct {
		name string
		rc   datatype.Unsigned32
		exp  uint32
		want uint32
	}{
		{"result code wins", 2001, 0, 2001},
		{"experimental fallback", 0, 5001, 5001},
		{"both present", 5012, 5001, 5012},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := answerCode(tc.rc, experimentalResult{ExperimentalResultCode: datatype.Unsigned32(tc.exp)})
			if got != tc.want {
				t.Errorf("answerCode = %d, want %d", got, tc.want)
			}
		})
	}
}
