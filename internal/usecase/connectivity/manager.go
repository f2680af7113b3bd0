// Package connectivity brings the node onto a network at boot: station mode
// when the configured network answers in time, otherwise a local access point.
package connectivity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gpio-node/internal/domain"
)

// Config holds the credentials and timing of the boot sequence.
type Config struct {
	StationSSID       string
	StationPassphrase string
	APSSID            string
	APPassphrase      string

	PollInterval    time.Duration // station association poll cadence
	MaxAttempts     int           // polls before falling back to AP
	SuccessPulse    time.Duration // indicator on-time after station connect
	APBlinkInterval time.Duration
	APBlinkDuration time.Duration
}

// DefaultConfig returns the timing of the stock firmware: 150 polls at 100 ms,
// a 3 s success pulse and a 10 s AP blink at 500 ms.
func DefaultConfig() Config {
	return Config{
		APSSID:          "8266",
		APPassphrase:    "12345678",
		PollInterval:    100 * time.Millisecond,
		MaxAttempts:     150,
		SuccessPulse:    3 * time.Second,
		APBlinkInterval: 500 * time.Millisecond,
		APBlinkDuration: 10 * time.Second,
	}
}

// Manager runs the connectivity state machine.
type Manager struct {
	cfg    Config
	radio  domain.Radio
	led    domain.Indicator
	bus    domain.EventBus
	logger *slog.Logger

	mu    sync.Mutex
	state domain.ConnState
	mode  domain.ConnectivityMode
	ran   bool

	retryMu sync.Mutex // serializes RetryStation
}

// New creates a manager in the idle state.
func New(cfg Config, radio domain.Radio, led domain.Indicator, logger *slog.Logger) *Manager {
	return &Manager{
		cfg:    cfg,
		radio:  radio,
		led:    led,
		logger: logger,
		state:  domain.StateIdle,
	}
}

// SetEventBus attaches a bus for connectivity.state events.
func (m *Manager) SetEventBus(bus domain.EventBus) { m.bus = bus }

// State returns the current state.
func (m *Manager) State() domain.ConnState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Mode returns the selected mode, or ModeUnknown before Run completes.
func (m *Manager) Mode() domain.ConnectivityMode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mode
}

// Run performs the boot sequence once and returns the selected mode. A second
// call returns the mode chosen by the first. Run returns early with ctx's
// error if ctx is cancelled; every indicator activity has stopped by then.
func (m *Manager) Run(ctx context.Context) (domain.ConnectivityMode, error) {
	m.mu.Lock()
	if m.ran {
		mode := m.mode
		m.mu.Unlock()
		return mode, nil
	}
	m.ran = true
	m.mu.Unlock()

	err := m.joinStation(ctx)
	switch {
	case err == nil:
		m.transition(domain.StateConnected, domain.ModeStation)
		return domain.ModeStation, m.pulse(ctx)
	case ctx.Err() != nil:
		return domain.ModeUnknown, ctx.Err()
	}

	m.logger.Warn("station connect failed, falling back to access point",
		"ssid", m.cfg.StationSSID, "error", err)
	m.transition(domain.StateStationFailed, domain.ModeUnknown)
	if derr := m.radio.DisconnectStation(ctx); derr != nil {
		m.logger.Debug("station disconnect failed", "error", derr)
	}
	return m.startAP(ctx)
}

// joinStation associates with the configured network, blinking the
// indicator while it polls. It returns ErrConnectivityTimeout when the poll
// budget runs out.
func (m *Manager) joinStation(ctx context.Context) error {
	m.transition(domain.StateConnectingStation, domain.ModeUnknown)

	if err := m.radio.ConnectStation(ctx, m.cfg.StationSSID, m.cfg.StationPassphrase); err != nil {
		return err
	}

	stop := m.blink(ctx, m.cfg.PollInterval)
	defer stop()

	for attempt := 1; attempt <= m.cfg.MaxAttempts; attempt++ {
		ok, err := m.radio.StationConnected(ctx)
		if err != nil {
			m.logger.Debug("station poll failed", "attempt", attempt, "error", err)
		}
		if ok {
			m.logger.Info("station connected", "ssid", m.cfg.StationSSID, "attempts", attempt)
			return nil
		}
		if attempt == m.cfg.MaxAttempts {
			break
		}
		if err := sleep(ctx, m.cfg.PollInterval); err != nil {
			return err
		}
	}
	return domain.NewDomainError("Manager.joinStation", domain.ErrConnectivityTimeout,
		fmt.Sprintf("no association after %d polls", m.cfg.MaxAttempts))
}

// pulse holds the indicator on to signal a successful connect, then returns
// it to idle.
func (m *Manager) pulse(ctx context.Context) error {
	if m.cfg.SuccessPulse <= 0 {
		return nil
	}
	m.indicate(m.led.On)
	err := sleep(ctx, m.cfg.SuccessPulse)
	m.indicate(m.led.Off)
	return err
}

func (m *Manager) startAP(ctx context.Context) (domain.ConnectivityMode, error) {
	m.transition(domain.StateStartingAP, domain.ModeUnknown)

	if err := m.radio.StartAP(ctx, m.cfg.APSSID, m.cfg.APPassphrase); err != nil {
		return domain.ModeUnknown, domain.NewDomainError("Manager.startAP",
			fmt.Errorf("%w: %w", domain.ErrRadio, err), m.cfg.APSSID)
	}
	m.logger.Info("access point started", "ssid", m.cfg.APSSID)

	blinkCtx, cancel := context.WithTimeout(ctx, m.cfg.APBlinkDuration)
	stop := m.blink(blinkCtx, m.cfg.APBlinkInterval)
	<-blinkCtx.Done()
	stop()
	cancel()
	m.indicate(m.led.Off)

	m.transition(domain.StateAPActive, domain.ModeAccessPoint)
	return domain.ModeAccessPoint, ctx.Err()
}

// RetryStation re-attempts the station connection while the access point is
// up. On success the access point is stopped and the mode becomes Station.
// It reports whether the node is now in station mode. Overlapping calls
// return immediately.
func (m *Manager) RetryStation(ctx context.Context) (bool, error) {
	if !m.retryMu.TryLock() {
		return false, nil
	}
	defer m.retryMu.Unlock()

	if m.Mode() != domain.ModeAccessPoint {
		return m.Mode() == domain.ModeStation, nil
	}

	if err := m.joinStation(ctx); err != nil {
		if derr := m.radio.DisconnectStation(ctx); derr != nil {
			m.logger.Debug("station disconnect failed", "error", derr)
		}
		m.indicate(m.led.Off)
		m.transition(domain.StateAPActive, domain.ModeAccessPoint)
		if errors.Is(err, domain.ErrConnectivityTimeout) {
			return false, nil
		}
		return false, err
	}

	if err := m.radio.StopAP(ctx); err != nil {
		m.logger.Warn("stop access point failed", "error", err)
	}
	m.indicate(m.led.Off)
	m.transition(domain.StateConnected, domain.ModeStation)
	return true, nil
}

// blink toggles the indicator every interval until ctx is done or the
// returned stop function is called. stop waits for the goroutine to exit.
func (m *Manager) blink(ctx context.Context, interval time.Duration) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		if interval <= 0 {
			return
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.indicate(m.led.Toggle)
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

func (m *Manager) indicate(fn func() error) {
	if err := fn(); err != nil {
		m.logger.Debug("indicator write failed", "error", err)
	}
}

func (m *Manager) transition(to domain.ConnState, mode domain.ConnectivityMode) {
	m.mu.Lock()
	from := m.state
	m.state = to
	if mode != domain.ModeUnknown {
		m.mode = mode
	}
	m.mu.Unlock()

	m.logger.Info("connectivity state", "from", string(from), "to", string(to), "mode", string(mode))
	if m.bus != nil {
		m.bus.Publish(context.Background(), domain.NewEvent(domain.EventConnectivityState,
			domain.ConnectivityPayload{From: from, To: to, Mode: mode}))
	}
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
