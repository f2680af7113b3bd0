package connectivity

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gpio-node/internal/domain"
)

type fakeRadio struct {
	mu           sync.Mutex
	connectOn    int // poll number that reports connected; 0 never
	polls        int
	apStarts     int
	apStops      int
	disconnects  int
	connectCalls int
	connectErr   error
}

func (r *fakeRadio) ConnectStation(context.Context, string, string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connectCalls++
	r.polls = 0
	return r.connectErr
}

func (r *fakeRadio) StationConnected(context.Context) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.polls++
	return r.connectOn > 0 && r.polls >= r.connectOn, nil
}

func (r *fakeRadio) DisconnectStation(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disconnects++
	return nil
}

func (r *fakeRadio) StartAP(context.Context, string, string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.apStarts++
	return nil
}

func (r *fakeRadio) StopAP(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.apStops++
	return nil
}

func (r *fakeRadio) counts() (polls, apStarts int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.polls, r.apStarts
}

type fakeLED struct {
	mu      sync.Mutex
	toggles int
	lit     bool
}

func (l *fakeLED) On() error  { return l.set(true) }
func (l *fakeLED) Off() error { return l.set(false) }

func (l *fakeLED) set(lit bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lit = lit
	return nil
}

func (l *fakeLED) Toggle() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.toggles++
	l.lit = !l.lit
	return nil
}

func (l *fakeLED) snapshot() (int, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.toggles, l.lit
}

func fastConfig() Config {
	return Config{
		StationSSID:     "home",
		APSSID:          "8266",
		APPassphrase:    "12345678",
		PollInterval:    time.Millisecond,
		MaxAttempts:     5,
		SuccessPulse:    time.Millisecond,
		APBlinkInterval: time.Millisecond,
		APBlinkDuration: 10 * time.Millisecond,
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRun_StationNeverConnects(t *testing.T) {
	radio := &fakeRadio{}
	led := &fakeLED{}
	m := New(fastConfig(), radio, led, testLogger())

	mode, err := m.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.ModeAccessPoint, mode)
	assert.Equal(t, domain.StateAPActive, m.State())

	polls, apStarts := radio.counts()
	assert.Equal(t, 5, polls, "station polled exactly MaxAttempts times")
	assert.Equal(t, 1, apStarts, "access point started exactly once")
	assert.Equal(t, 1, radio.disconnects)

	_, lit := led.snapshot()
	assert.False(t, lit, "indicator idle after AP blink")
}

func TestRun_StationConnectsOnThirdPoll(t *testing.T) {
	radio := &fakeRadio{connectOn: 3}
	led := &fakeLED{}
	m := New(fastConfig(), radio, led, testLogger())

	mode, err := m.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.ModeStation, mode)
	assert.Equal(t, domain.StateConnected, m.State())

	polls, apStarts := radio.counts()
	assert.Equal(t, 3, polls)
	assert.Zero(t, apStarts)
}

func TestRun_IndicatorStoppedAfterReturn(t *testing.T) {
	radio := &fakeRadio{}
	led := &fakeLED{}
	m := New(fastConfig(), radio, led, testLogger())

	_, err := m.Run(context.Background())
	require.NoError(t, err)

	before, _ := led.snapshot()
	time.Sleep(20 * time.Millisecond)
	after, _ := led.snapshot()
	assert.Equal(t, before, after, "no blink activity may outlive Run")
}

func TestRun_ConnectErrorFallsBack(t *testing.T) {
	radio := &fakeRadio{connectErr: errors.New("no such device")}
	m := New(fastConfig(), radio, &fakeLED{}, testLogger())

	mode, err := m.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.ModeAccessPoint, mode)

	polls, apStarts := radio.counts()
	assert.Zero(t, polls)
	assert.Equal(t, 1, apStarts)
}

func TestRun_Cancelled(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxAttempts = 1_000_000
	radio := &fakeRadio{}
	led := &fakeLED{}
	m := New(cfg, radio, led, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	mode, err := m.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, domain.ModeUnknown, mode)

	_, apStarts := radio.counts()
	assert.Zero(t, apStarts)

	before, _ := led.snapshot()
	time.Sleep(10 * time.Millisecond)
	after, _ := led.snapshot()
	assert.Equal(t, before, after)
}

func TestRun_OnlyOnce(t *testing.T) {
	radio := &fakeRadio{connectOn: 1}
	m := New(fastConfig(), radio, &fakeLED{}, testLogger())

	_, err := m.Run(context.Background())
	require.NoError(t, err)
	mode, err := m.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.ModeStation, mode)
	assert.Equal(t, 1, radio.connectCalls)
}

func TestRetryStation(t *testing.T) {
	radio := &fakeRadio{}
	m := New(fastConfig(), radio, &fakeLED{}, testLogger())

	mode, err := m.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, domain.ModeAccessPoint, mode)

	ok, err := m.RetryStation(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, domain.ModeAccessPoint, m.Mode())
	assert.Equal(t, domain.StateAPActive, m.State())

	radio.mu.Lock()
	radio.connectOn = 2
	radio.mu.Unlock()

	ok, err = m.RetryStation(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, domain.ModeStation, m.Mode())
	assert.Equal(t, 1, radio.apStops)
	_, apStarts := radio.counts()
	assert.Equal(t, 1, apStarts)
}

func TestRetryStation_FailureLeavesIndicatorIdle(t *testing.T) {
	radio := &fakeRadio{}
	led := &fakeLED{}
	m := New(fastConfig(), radio, led, testLogger())
	_, err := m.Run(context.Background())
	require.NoError(t, err)

	// Radio refuses the connect outright.
	require.NoError(t, led.On())
	radio.mu.Lock()
	radio.connectErr = errors.New("device busy")
	radio.mu.Unlock()
	ok, err := m.RetryStation(context.Background())
	require.Error(t, err)
	assert.False(t, ok)
	_, lit := led.snapshot()
	assert.False(t, lit, "indicator idle after failed connect")

	// Poll budget runs out while blinking.
	require.NoError(t, led.On())
	radio.mu.Lock()
	radio.connectErr = nil
	radio.mu.Unlock()
	ok, err = m.RetryStation(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
	_, lit = led.snapshot()
	assert.False(t, lit, "indicator idle after exhausted retry")
	assert.Equal(t, domain.ModeAccessPoint, m.Mode())
}

func TestRetryStation_NoopInStationMode(t *testing.T) {
	radio := &fakeRadio{connectOn: 1}
	m := New(fastConfig(), radio, &fakeLED{}, testLogger())
	_, err := m.Run(context.Background())
	require.NoError(t, err)

	ok, err := m.RetryStation(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, radio.connectCalls)
}
