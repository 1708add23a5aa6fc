package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const fullConfig = `
mode: esl
metricsAddr: ":9109"
diameter:
  originHost: bridge.openims.test
  originRealm: openims.test
  destinationHost: hss.openims.test
  destinationRealm: openims.test
  peerHost: 10.0.0.10
  peerPort: 3869
  networkType: sctp
  watchdogInterval: 15s
  requestTimeout: 3s
freeswitch_esl:
  host: 127.0.0.1
  port: 8021
  password: ClueCon
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, fullConfig))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Mode != "esl" {
		t.Errorf("mode = %q", cfg.Mode)
	}
	if cfg.Diameter.PeerPort != 3869 {
		t.Errorf("peerPort = %d", cfg.Diameter.PeerPort)
	}
	if cfg.Diameter.NetworkType != "sctp" {
		t.Errorf("networkType = %q", cfg.Diameter.NetworkType)
	}
	if cfg.ESL.Password != "ClueCon" {
		t.Errorf("esl password = %q", cfg.ESL.Password)
	}
	wi, err := cfg.WatchdogInterval()
	if err != nil || wi != 15*time.Second {
		t.Errorf("watchdogInterval = %v, %v", wi, err)
	}
	rt, err := cfg.RequestTimeout()
	if err != nil || rt != 3*time.Second {
		t.Errorf("requestTimeout = %v, %v", rt, err)
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
diameter:
  originHost: bridge.openims.test
  originRealm: openims.test
  destinationHost: hss.openims.test
  destinationRealm: openims.test
  peerHost: 10.0.0.10
freeswitch_esl:
  host: 127.0.0.1
`))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Mode != "esl" {
		t.Errorf("default mode = %q", cfg.Mode)
	}
	if cfg.Diameter.PeerPort != 3868 {
		t.Errorf("default peerPort = %d", cfg.Diameter.PeerPort)
	}
	if d, err := cfg.WatchdogInterval(); err != nil || d != 0 {
		t.Errorf("default watchdogInterval = %v, %v", d, err)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{
			name: "missing origin host",
			body: strings.Replace(fullConfig, "originHost: bridge.openims.test", "", 1),
			want: "diameter.originHost",
		},
		{
			name: "missing peer host",
			body: strings.Replace(fullConfig, "peerHost: 10.0.0.10", "", 1),
			want: "diameter.peerHost",
		},
		{
			name: "bad watchdog duration",
			body: strings.Replace(fullConfig, "watchdogInterval: 15s", "watchdogInterval: fast", 1),
			want: "diameter.watchdogInterval",
		},
		{
			name: "unknown mode",
			body: strings.Replace(fullConfig, "mode: esl", "mode: sip", 1),
			want: "unknown mode",
		},
		{
			name: "esl mode without host",
			body: strings.Replace(fullConfig, "host: 127.0.0.1", "", 1),
			want: "freeswitch_esl.host",
		},
		{
			name: "not yaml",
			body: "{{{",
			want: "parse config file",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.body))
			if err == nil {
				t.Fatal("expected an error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestLoadAriMode(t *testing.T) {
	body := `
mode: ari
diameter:
  originHost: bridge.openims.test
  originRealm: openims.test
  destinationHost: hss.openims.test
  destinationRealm: openims.test
  peerHost: 10.0.0.10
asterisk_ari:
  host: 127.0.0.1
  username: bridge
  password: secret
  appname: shbridge
`
	cfg, err := Load(writeConfig(t, body))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ARI.App != "shbridge" {
		t.Errorf("ari app = %q", cfg.ARI.App)
	}

	_, err = Load(writeConfig(t, strings.Replace(body, "  appname: shbridge", "", 1)))
	if err == nil || !strings.Contains(err.Error(), "asterisk_ari") {
		t.Errorf("expected ari validation error, got %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}
