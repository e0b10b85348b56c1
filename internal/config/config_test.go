package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Tor.Host != "127.0.0.1" || cfg.Tor.Port != 9050 {
		t.Errorf("Tor = %+v, want 127.0.0.1:9050", cfg.Tor)
	}
	if cfg.Defaults.Timeout != 30*time.Second {
		t.Errorf("Defaults.Timeout = %v, want 30s", cfg.Defaults.Timeout)
	}
	if cfg.Defaults.Retries != 3 {
		t.Errorf("Defaults.Retries = %d, want 3", cfg.Defaults.Retries)
	}
	if len(cfg.Peers) != 0 {
		t.Errorf("Peers = %v, want empty", cfg.Peers)
	}
}

const samplePubKey = "028d7500dd4c12685d1f568b4c2b5048e8534b873319f3a8daa612b469132ec7f7"

func TestParse_ValidConfig(t *testing.T) {
	yamlConfig := `
peers:
  - name: alice
    host: "203.0.113.4:9735"
    pubkey: "` + samplePubKey + `"
    rune: "r-alice"
  - name: bob
    host: "bobnode.onion:9735"
    pubkey: "` + samplePubKey + `"
    rune: "r-bob"

tor:
  host: "127.0.0.1"
  port: 9150

defaults:
  timeout: 10s
  retries: 5
`
	cfg, err := Parse([]byte(yamlConfig))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if len(cfg.Peers) != 2 {
		t.Fatalf("expected 2 peers, got %d", len(cfg.Peers))
	}
	if cfg.Peers[0].Name != "alice" || cfg.Peers[0].HostPort != "203.0.113.4:9735" {
		t.Errorf("unexpected first peer: %+v", cfg.Peers[0])
	}
	if cfg.Tor.Port != 9150 {
		t.Errorf("Tor.Port = %d, want 9150", cfg.Tor.Port)
	}
	if cfg.Defaults.Timeout != 10*time.Second || cfg.Defaults.Retries != 5 {
		t.Errorf("unexpected defaults: %+v", cfg.Defaults)
	}
}

func TestParse_DefaultsAppliedWhenOmitted(t *testing.T) {
	cfg, err := Parse([]byte(`peers: []`))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if cfg.Tor.Port != 9050 {
		t.Errorf("expected default tor port to survive, got %d", cfg.Tor.Port)
	}
	if cfg.Defaults.Timeout != 30*time.Second {
		t.Errorf("expected default timeout to survive, got %v", cfg.Defaults.Timeout)
	}
}

func TestParse_DuplicatePeerName(t *testing.T) {
	yamlConfig := `
peers:
  - name: alice
    host: "203.0.113.4:9735"
    pubkey: "` + samplePubKey + `"
    rune: "r1"
  - name: alice
    host: "203.0.113.5:9735"
    pubkey: "` + samplePubKey + `"
    rune: "r2"
`
	_, err := Parse([]byte(yamlConfig))
	if err == nil {
		t.Fatal("expected an error for a duplicate peer name")
	}
	if !strings.Contains(err.Error(), "duplicate peer name") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestParse_BadPubKeyHex(t *testing.T) {
	yamlConfig := `
peers:
  - name: alice
    host: "203.0.113.4:9735"
    pubkey: "not-hex"
    rune: "r1"
`
	_, err := Parse([]byte(yamlConfig))
	if err == nil {
		t.Fatal("expected an error for invalid pubkey hex")
	}
}

func TestParse_WrongPubKeyLength(t *testing.T) {
	yamlConfig := `
peers:
  - name: alice
    host: "203.0.113.4:9735"
    pubkey: "aabbcc"
    rune: "r1"
`
	_, err := Parse([]byte(yamlConfig))
	if err == nil {
		t.Fatal("expected an error for a too-short pubkey")
	}
	if !strings.Contains(err.Error(), "33 bytes") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestParse_MissingHost(t *testing.T) {
	yamlConfig := `
peers:
  - name: alice
    pubkey: "` + samplePubKey + `"
    rune: "r1"
`
	_, err := Parse([]byte(yamlConfig))
	if err == nil {
		t.Fatal("expected an error for a missing host")
	}
}

func TestParse_EnvVarExpansion(t *testing.T) {
	t.Setenv("LNSOCKET_TEST_RUNE", "secret-rune-value")

	yamlConfig := `
peers:
  - name: alice
    host: "203.0.113.4:9735"
    pubkey: "` + samplePubKey + `"
    rune: "${LNSOCKET_TEST_RUNE}"
`
	cfg, err := Parse([]byte(yamlConfig))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if cfg.Peers[0].Rune != "secret-rune-value" {
		t.Errorf("Rune = %q, want expanded env var", cfg.Peers[0].Rune)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yamlConfig := `
peers:
  - name: alice
    host: "203.0.113.4:9735"
    pubkey: "` + samplePubKey + `"
    rune: "r1"
`
	if err := os.WriteFile(path, []byte(yamlConfig), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(cfg.Peers) != 1 || cfg.Peers[0].Name != "alice" {
		t.Errorf("unexpected loaded config: %+v", cfg)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Fatal("expected an error for a missing file")
	}
}

func TestPeerLookup(t *testing.T) {
	cfg := Default()
	cfg.Peers = []PeerConfig{{Name: "alice", HostPort: "h:1", PubKey: samplePubKey, Rune: "r"}}

	p, err := cfg.Peer("alice")
	if err != nil {
		t.Fatalf("Peer(alice) failed: %v", err)
	}
	if p.HostPort != "h:1" {
		t.Errorf("unexpected peer: %+v", p)
	}

	if _, err := cfg.Peer("nobody"); err == nil {
		t.Fatal("expected an error for an unknown peer name")
	}
}

func TestRedacted(t *testing.T) {
	cfg := Default()
	cfg.Peers = []PeerConfig{{Name: "alice", HostPort: "h:1", PubKey: samplePubKey, Rune: "top-secret"}}

	red := cfg.Redacted()
	if red.Peers[0].Rune == "top-secret" {
		t.Fatal("expected Redacted to replace the rune token")
	}
	if cfg.Peers[0].Rune != "top-secret" {
		t.Fatal("Redacted must not mutate the original config")
	}
}
