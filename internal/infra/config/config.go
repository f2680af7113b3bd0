package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/argon2"
	"gopkg.in/yaml.v3"
)

// EnvKeyVar names the environment variable holding the secrets passphrase.
const EnvKeyVar = "GPIONODE_CONFIG_KEY"

const encPrefix = "enc:"

// Config is the root configuration.
type Config struct {
	Includes  []string        `yaml:"includes,omitempty"`
	Node      NodeConfig      `yaml:"node"`
	Pins      []PinConfig     `yaml:"pins"`
	Indicator IndicatorConfig `yaml:"indicator"`
	Network   NetworkConfig   `yaml:"network"`
	TimeSync  TimeSyncConfig  `yaml:"timesync"`
	Actions   ActionsConfig   `yaml:"actions"`
	Events    EventsConfig    `yaml:"events"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	MDNS      MDNSConfig      `yaml:"mdns"`
	Journal   JournalConfig   `yaml:"journal"`
	Logger    LoggerConfig    `yaml:"logger"`
	Tracer    TracerConfig    `yaml:"tracer"`
}

// NodeConfig identifies the node and selects the pin driver.
type NodeConfig struct {
	Name         string `yaml:"name"`
	GPIOBackend  string `yaml:"gpio_backend"`  // "sim" or "periph"
	PWMFrequency int    `yaml:"pwm_frequency"` // Hz
}

// PinConfig declares one controllable pin.
type PinConfig struct {
	ID      int  `yaml:"id"`
	PWM     bool `yaml:"pwm"`
	Initial int  `yaml:"initial"`
}

// IndicatorConfig configures the status LED.
type IndicatorConfig struct {
	Enabled   bool `yaml:"enabled"`
	Pin       int  `yaml:"pin"`
	ActiveLow bool `yaml:"active_low"`
}

// NetworkConfig configures the boot connectivity sequence.
type NetworkConfig struct {
	Radio     string         `yaml:"radio"` // "sim", "command" or "none"
	Interface string         `yaml:"interface"`
	Station   StationConfig  `yaml:"station"`
	AP        APConfig       `yaml:"ap"`
	Commands  CommandsConfig `yaml:"commands"`
	// SimConnectAfter is the poll on which the simulated station associates;
	// negative never associates.
	SimConnectAfter int `yaml:"sim_connect_after"`
}

// StationConfig holds station credentials and the connect budget.
type StationConfig struct {
	SSID          string        `yaml:"ssid"`
	Passphrase    string        `yaml:"passphrase"`
	PollInterval  time.Duration `yaml:"poll_interval"`
	MaxAttempts   int           `yaml:"max_attempts"`
	SuccessPulse  time.Duration `yaml:"success_pulse"`
	RetryInterval time.Duration `yaml:"retry_interval"` // 0 disables retries while in AP mode
}

// APConfig holds the fallback access point settings.
type APConfig struct {
	SSID          string        `yaml:"ssid"`
	Passphrase    string        `yaml:"passphrase"`
	BlinkInterval time.Duration `yaml:"blink_interval"`
	BlinkDuration time.Duration `yaml:"blink_duration"`
}

// CommandsConfig holds command templates for the "command" radio.
type CommandsConfig struct {
	Connect    string `yaml:"connect"`
	Check      string `yaml:"check"`
	Disconnect string `yaml:"disconnect"`
	StartAP    string `yaml:"start_ap"`
	StopAP     string `yaml:"stop_ap"`
}

// TimeSyncConfig configures network time synchronization.
type TimeSyncConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Host           string        `yaml:"host"`
	Timeout        time.Duration `yaml:"timeout"`
	Attempts       int           `yaml:"attempts"`
	Backoff        time.Duration `yaml:"backoff"`
	TimezoneOffset time.Duration `yaml:"timezone_offset"`
	ResyncSchedule string        `yaml:"resync_schedule"` // cron expression or duration; empty disables
	Breaker        BreakerConfig `yaml:"breaker"`
}

// BreakerConfig configures the circuit breaker around the time source.
type BreakerConfig struct {
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
}

// ActionsConfig configures the scheduled action engine.
type ActionsConfig struct {
	SweepSchedule string `yaml:"sweep_schedule"`
}

// EventsConfig configures the in-process event bus.
type EventsConfig struct {
	QueueSize int `yaml:"queue_size"`
}

// GatewayConfig configures the HTTP API.
type GatewayConfig struct {
	Addr            string          `yaml:"addr"`
	ReadTimeout     time.Duration   `yaml:"read_timeout"`
	WriteTimeout    time.Duration   `yaml:"write_timeout"`
	SecurityHeaders bool            `yaml:"security_headers"`
	EventStream     bool            `yaml:"event_stream"` // GET /ws
	Metrics         bool            `yaml:"metrics"`      // GET /metrics
	RateLimit       RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig configures per-client request limiting.
type RateLimitConfig struct {
	Enabled        bool     `yaml:"enabled"`
	RequestsPerMin int      `yaml:"requests_per_min"`
	Burst          int      `yaml:"burst"`
	TrustedProxies []string `yaml:"trusted_proxies"`
}

// MDNSConfig configures service advertisement.
type MDNSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Instance string `yaml:"instance"`
	Service  string `yaml:"service"`
	Domain   string `yaml:"domain"`
}

// JournalConfig configures the on-disk event journal.
type JournalConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Path       string `yaml:"path"`
	MaxEntries int    `yaml:"max_entries"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`
	// SampleRatio keeps this fraction of root traces; 0 keeps all.
	SampleRatio float64 `yaml:"sample_ratio"`
}

// defaultDataDir returns the persistent data directory under $HOME/.gpio-node.
// Falls back to "./data" if $HOME cannot be determined.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}
	return filepath.Join(home, ".gpio-node")
}

// Defaults returns the stock board layout: LED on GPIO2, PWM on GPIO2 and
// GPIO5, fallback access point "8266".
func Defaults() *Config {
	return &Config{
		Node: NodeConfig{
			Name:         "gpio-node",
			GPIOBackend:  "sim",
			PWMFrequency: 500,
		},
		Pins: []PinConfig{
			{ID: 2, PWM: true, Initial: 1},
			{ID: 4},
			{ID: 5, PWM: true},
			{ID: 12},
			{ID: 13},
			{ID: 14},
		},
		Indicator: IndicatorConfig{
			Enabled:   true,
			Pin:       2,
			ActiveLow: true,
		},
		Network: NetworkConfig{
			Radio:     "sim",
			Interface: "wlan0",
			Station: StationConfig{
				PollInterval: 100 * time.Millisecond,
				MaxAttempts:  150,
				SuccessPulse: 3 * time.Second,
			},
			AP: APConfig{
				SSID:          "8266",
				Passphrase:    "12345678",
				BlinkInterval: 500 * time.Millisecond,
				BlinkDuration: 10 * time.Second,
			},
			Commands: CommandsConfig{
				Connect:    "nmcli device wifi connect {ssid} password {passphrase}",
				Check:      "nmcli -t -f STATE general",
				Disconnect: "nmcli device disconnect {iface}",
				StartAP:    "nmcli device wifi hotspot ifname {iface} ssid {ssid} password {passphrase}",
				StopAP:     "nmcli connection down Hotspot",
			},
			SimConnectAfter: 1,
		},
		TimeSync: TimeSyncConfig{
			Enabled:        true,
			Host:           "ntp.ntsc.ac.cn",
			Timeout:        5 * time.Second,
			Attempts:       3,
			Backoff:        2 * time.Second,
			TimezoneOffset: 8 * time.Hour,
			Breaker: BreakerConfig{
				MaxFailures: 5,
				Timeout:     5 * time.Minute,
			},
		},
		Actions: ActionsConfig{
			SweepSchedule: "1s",
		},
		Events: EventsConfig{
			QueueSize: 256,
		},
		Gateway: GatewayConfig{
			Addr:            ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			SecurityHeaders: true,
			RateLimit: RateLimitConfig{
				RequestsPerMin: 600,
				Burst:          20,
			},
		},
		MDNS: MDNSConfig{
			Service: "_gpio-node._tcp",
			Domain:  "local.",
		},
		Journal: JournalConfig{
			Path:       filepath.Join(defaultDataDir(), "journal.db"),
			MaxEntries: 10000,
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Exporter: "noop",
		},
	}
}

// Load reads a YAML config file, applies env var overrides, and decrypts secrets.
// A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			ApplyEnvOverrides(cfg)
			if err := finish(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	if err := validatePermissions(absPath); err != nil {
		return nil, err
	}

	// First pass: unmarshal to get the includes list.
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if len(cfg.Includes) > 0 {
		visited := map[string]bool{absPath: true}
		if err := processIncludes(cfg, filepath.Dir(absPath), visited, 0); err != nil {
			return nil, err
		}

		// Second pass: re-unmarshal main config so it takes precedence over includes.
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config (second pass): %w", err)
		}
		cfg.Includes = nil
	}

	ApplyEnvOverrides(cfg)
	if err := finish(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// finish decrypts secrets when a passphrase is available and validates.
func finish(cfg *Config) error {
	if passphrase := os.Getenv(EnvKeyVar); passphrase != "" {
		if err := decryptSecrets(cfg, passphrase); err != nil {
			return fmt.Errorf("decrypt secrets: %w", err)
		}
	}
	return Validate(cfg)
}

// ApplyEnvOverrides maps GPIONODE_* env vars to config fields.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("GPIONODE_NODE_NAME"); v != "" {
		cfg.Node.Name = v
	}
	if v := os.Getenv("GPIONODE_GPIO_BACKEND"); v != "" {
		cfg.Node.GPIOBackend = v
	}
	if v := os.Getenv("GPIONODE_NETWORK_RADIO"); v != "" {
		cfg.Network.Radio = v
	}
	if v := os.Getenv("GPIONODE_NETWORK_INTERFACE"); v != "" {
		cfg.Network.Interface = v
	}
	if v := os.Getenv("GPIONODE_STATION_SSID"); v != "" {
		cfg.Network.Station.SSID = v
	}
	if v := os.Getenv("GPIONODE_STATION_PASSPHRASE"); v != "" {
		cfg.Network.Station.Passphrase = v
	}
	if v := os.Getenv("GPIONODE_AP_SSID"); v != "" {
		cfg.Network.AP.SSID = v
	}
	if v := os.Getenv("GPIONODE_AP_PASSPHRASE"); v != "" {
		cfg.Network.AP.Passphrase = v
	}
	if v := os.Getenv("GPIONODE_TIMESYNC_ENABLED"); v != "" {
		cfg.TimeSync.Enabled = v == "true"
	}
	if v := os.Getenv("GPIONODE_TIMESYNC_HOST"); v != "" {
		cfg.TimeSync.Host = v
	}
	if v := os.Getenv("GPIONODE_TIMEZONE_OFFSET"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.TimeSync.TimezoneOffset = d
		}
	}
	if v := os.Getenv("GPIONODE_GATEWAY_ADDR"); v != "" {
		cfg.Gateway.Addr = v
	}
	if v := os.Getenv("GPIONODE_GATEWAY_METRICS"); v == "true" {
		cfg.Gateway.Metrics = true
	}
	if v := os.Getenv("GPIONODE_GATEWAY_EVENT_STREAM"); v == "true" {
		cfg.Gateway.EventStream = true
	}
	if v := os.Getenv("GPIONODE_MDNS_ENABLED"); v == "true" {
		cfg.MDNS.Enabled = true
	}
	if v := os.Getenv("GPIONODE_JOURNAL_ENABLED"); v == "true" {
		cfg.Journal.Enabled = true
	}
	if v := os.Getenv("GPIONODE_JOURNAL_PATH"); v != "" {
		cfg.Journal.Path = v
	}
	if v := os.Getenv("GPIONODE_EVENTS_QUEUE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Events.QueueSize = n
		}
	}
	if v := os.Getenv("GPIONODE_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("GPIONODE_LOGGER_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("GPIONODE_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("GPIONODE_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}
	if v := os.Getenv("GPIONODE_TRACER_SAMPLE_RATIO"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Tracer.SampleRatio = f
		}
	}
}

// secretFields returns the config fields that may hold "enc:" values.
func secretFields(cfg *Config) map[string]*string {
	return map[string]*string{
		"network.station.passphrase": &cfg.Network.Station.Passphrase,
		"network.ap.passphrase":      &cfg.Network.AP.Passphrase,
	}
}

// decryptSecrets finds "enc:..." values in secret fields and decrypts them.
func decryptSecrets(cfg *Config, passphrase string) error {
	for name, fp := range secretFields(cfg) {
		if !strings.HasPrefix(*fp, encPrefix) {
			continue
		}
		decrypted, err := DecryptValue(strings.TrimPrefix(*fp, encPrefix), passphrase)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		*fp = decrypted
	}
	return nil
}

// EncryptValue encrypts a plaintext value with AES-256-GCM using a passphrase.
func EncryptValue(plaintext, passphrase string) (string, error) {
	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	// Format: hex(salt) + ":" + hex(nonce+ciphertext)
	return hex.EncodeToString(salt) + ":" + hex.EncodeToString(ciphertext), nil
}

// DecryptValue decrypts an AES-256-GCM encrypted value.
func DecryptValue(encrypted, passphrase string) (string, error) {
	saltHex, dataHex, ok := strings.Cut(encrypted, ":")
	if !ok {
		return "", fmt.Errorf("invalid encrypted format")
	}

	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return "", fmt.Errorf("decode salt: %w", err)
	}

	data, err := hex.DecodeString(dataHex)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}

	return string(plaintext), nil
}

func newGCM(passphrase string, salt []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(deriveKey(passphrase, salt))
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return gcm, nil
}

// deriveKey uses Argon2id to derive a 32-byte key from passphrase + salt.
func deriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, 1, 64*1024, 4, 32)
}

// validatePermissions checks the config file has restrictive permissions.
// Station credentials live in it.
func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	mode := info.Mode().Perm()
	// Allow 0600 and 0644 (readable by others but not writable)
	if mode&0o077 > 0o044 {
		return fmt.Errorf("config file %s has insecure permissions %o (want 0600 or 0644)", path, mode)
	}
	return nil
}
