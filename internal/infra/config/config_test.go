package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	if cfg.Gateway.Addr != ":8080" {
		t.Errorf("Gateway.Addr = %q, want :8080", cfg.Gateway.Addr)
	}
	if cfg.Network.AP.SSID != "8266" || cfg.Network.AP.Passphrase != "12345678" {
		t.Errorf("AP = %+v, want 8266/12345678", cfg.Network.AP)
	}
	if cfg.Network.Station.PollInterval != 100*time.Millisecond || cfg.Network.Station.MaxAttempts != 150 {
		t.Errorf("station budget = %s x %d", cfg.Network.Station.PollInterval, cfg.Network.Station.MaxAttempts)
	}
	if cfg.TimeSync.TimezoneOffset != 8*time.Hour {
		t.Errorf("TimezoneOffset = %s, want 8h", cfg.TimeSync.TimezoneOffset)
	}
	if !cfg.Indicator.Enabled || cfg.Indicator.Pin != 2 || !cfg.Indicator.ActiveLow {
		t.Errorf("Indicator = %+v", cfg.Indicator)
	}
	if err := Validate(cfg); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoadNonExistentReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Node.GPIOBackend != "sim" {
		t.Errorf("GPIOBackend = %q, want sim", cfg.Node.GPIOBackend)
	}
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, "config.yaml", `
node:
  name: "bench"
pins:
  - id: 4
  - id: 5
    pwm: true
    initial: 1
indicator:
  enabled: false
network:
  radio: "none"
  station:
    ssid: "lab"
    passphrase: "secret99"
    retry_interval: 30s
timesync:
  host: "pool.ntp.org"
  resync_schedule: "@hourly"
gateway:
  addr: "127.0.0.1:9000"
  metrics: true
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Node.Name != "bench" {
		t.Errorf("Node.Name = %q", cfg.Node.Name)
	}
	if len(cfg.Pins) != 2 || !cfg.Pins[1].PWM || cfg.Pins[1].Initial != 1 {
		t.Errorf("Pins = %+v", cfg.Pins)
	}
	if cfg.Network.Radio != "none" || cfg.Network.Station.SSID != "lab" {
		t.Errorf("Network = %+v", cfg.Network)
	}
	if cfg.Network.Station.RetryInterval != 30*time.Second {
		t.Errorf("RetryInterval = %s", cfg.Network.Station.RetryInterval)
	}
	// Untouched nested fields keep their defaults.
	if cfg.Network.Station.MaxAttempts != 150 {
		t.Errorf("MaxAttempts = %d, want default 150", cfg.Network.Station.MaxAttempts)
	}
	if cfg.TimeSync.Host != "pool.ntp.org" || cfg.TimeSync.ResyncSchedule != "@hourly" {
		t.Errorf("TimeSync = %+v", cfg.TimeSync)
	}
	if cfg.Gateway.Addr != "127.0.0.1:9000" || !cfg.Gateway.Metrics {
		t.Errorf("Gateway = %+v", cfg.Gateway)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := writeConfigFile(t, t.TempDir(), "config.yaml", "pins: [unclosed")
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "parse config") {
		t.Fatalf("expected parse error, got %v", err)
	}
}

func TestLoadValidationFailure(t *testing.T) {
	path := writeConfigFile(t, t.TempDir(), "config.yaml", "node:\n  gpio_backend: \"sysfs\"\n")
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "gpio_backend") {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("GPIONODE_STATION_SSID", "env-net")
	t.Setenv("GPIONODE_GATEWAY_ADDR", ":9999")
	t.Setenv("GPIONODE_TIMEZONE_OFFSET", "-5h")
	t.Setenv("GPIONODE_TIMESYNC_ENABLED", "false")
	t.Setenv("GPIONODE_EVENTS_QUEUE_SIZE", "64")
	t.Setenv("GPIONODE_TRACER_ENABLED", "true")
	t.Setenv("GPIONODE_TRACER_EXPORTER", "stdout")

	cfg := Defaults()
	ApplyEnvOverrides(cfg)

	if cfg.Network.Station.SSID != "env-net" {
		t.Errorf("SSID = %q", cfg.Network.Station.SSID)
	}
	if cfg.Gateway.Addr != ":9999" {
		t.Errorf("Addr = %q", cfg.Gateway.Addr)
	}
	if cfg.TimeSync.TimezoneOffset != -5*time.Hour {
		t.Errorf("TimezoneOffset = %s", cfg.TimeSync.TimezoneOffset)
	}
	if cfg.TimeSync.Enabled {
		t.Error("TimeSync.Enabled should be false")
	}
	if cfg.Events.QueueSize != 64 {
		t.Errorf("QueueSize = %d", cfg.Events.QueueSize)
	}
	if !cfg.Tracer.Enabled || cfg.Tracer.Exporter != "stdout" {
		t.Errorf("Tracer = %+v", cfg.Tracer)
	}
}

func TestEnvOverridesIgnoresBadNumbers(t *testing.T) {
	t.Setenv("GPIONODE_TIMEZONE_OFFSET", "eight")
	t.Setenv("GPIONODE_EVENTS_QUEUE_SIZE", "lots")

	cfg := Defaults()
	ApplyEnvOverrides(cfg)
	if cfg.TimeSync.TimezoneOffset != 8*time.Hour || cfg.Events.QueueSize != 256 {
		t.Errorf("bad values should be ignored: %s %d", cfg.TimeSync.TimezoneOffset, cfg.Events.QueueSize)
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	enc, err := EncryptValue("wifi-secret", "board-key")
	if err != nil {
		t.Fatalf("EncryptValue: %v", err)
	}
	if strings.Contains(enc, "wifi-secret") {
		t.Error("ciphertext leaks plaintext")
	}
	dec, err := DecryptValue(enc, "board-key")
	if err != nil {
		t.Fatalf("DecryptValue: %v", err)
	}
	if dec != "wifi-secret" {
		t.Errorf("got %q, want wifi-secret", dec)
	}
}

func TestDecryptWrongPassphrase(t *testing.T) {
	enc, err := EncryptValue("wifi-secret", "right")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := DecryptValue(enc, "wrong"); err == nil {
		t.Error("expected error with wrong passphrase")
	}
}

func TestDecryptValueMalformed(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"no separator", "deadbeef"},
		{"bad salt", "zz:00"},
		{"bad ciphertext", "00:zz"},
		{"too short", "00112233445566778899aabbccddeeff:00"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecryptValue(tt.input, "key"); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestLoadWithConfigKey(t *testing.T) {
	enc, err := EncryptValue("station-pass", "board-key")
	if err != nil {
		t.Fatal(err)
	}
	path := writeConfigFile(t, t.TempDir(), "config.yaml", `
network:
  station:
    ssid: "lab"
    passphrase: "enc:`+enc+`"
`)
	t.Setenv(EnvKeyVar, "board-key")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Network.Station.Passphrase != "station-pass" {
		t.Errorf("Passphrase = %q, want decrypted value", cfg.Network.Station.Passphrase)
	}
}

func TestLoadEncryptedWithoutKey(t *testing.T) {
	enc, err := EncryptValue("station-pass", "board-key")
	if err != nil {
		t.Fatal(err)
	}
	path := writeConfigFile(t, t.TempDir(), "config.yaml", "network:\n  ap:\n    passphrase: \"enc:"+enc+"\"\n")

	_, err = Load(path)
	if err == nil || !strings.Contains(err.Error(), EnvKeyVar) {
		t.Fatalf("expected missing key error, got %v", err)
	}
}

func TestLoadDecryptSecretsError(t *testing.T) {
	path := writeConfigFile(t, t.TempDir(), "config.yaml", "network:\n  station:\n    passphrase: \"enc:nothex\"\n")
	t.Setenv(EnvKeyVar, "board-key")

	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "decrypt secrets") {
		t.Fatalf("expected decrypt error, got %v", err)
	}
}

func TestDecryptSecretsNoEncPrefix(t *testing.T) {
	cfg := Defaults()
	cfg.Network.Station.Passphrase = "plain"
	if err := decryptSecrets(cfg, "key"); err != nil {
		t.Fatalf("decryptSecrets: %v", err)
	}
	if cfg.Network.Station.Passphrase != "plain" {
		t.Errorf("plain value changed to %q", cfg.Network.Station.Passphrase)
	}
}

func TestLoadInsecurePermissions(t *testing.T) {
	path := writeConfigFile(t, t.TempDir(), "config.yaml", "node:\n  name: x\n")
	if err := os.Chmod(path, 0666); err != nil {
		t.Fatal(err)
	}
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "insecure permissions") {
		t.Fatalf("expected permissions error, got %v", err)
	}
}

func TestValidatePermissions(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		mode    os.FileMode
		wantErr bool
	}{
		{0600, false},
		{0644, false},
		{0640, false},
		{0660, true},
		{0666, true},
	}
	for _, tt := range tests {
		path := filepath.Join(dir, "perm.yaml")
		if err := os.WriteFile(path, nil, 0600); err != nil {
			t.Fatal(err)
		}
		if err := os.Chmod(path, tt.mode); err != nil {
			t.Fatal(err)
		}
		err := validatePermissions(path)
		if (err != nil) != tt.wantErr {
			t.Errorf("mode %o: err = %v, wantErr %v", tt.mode, err, tt.wantErr)
		}
	}
}

func TestValidatePermissionsStatError(t *testing.T) {
	if err := validatePermissions(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Error("expected stat error")
	}
}
