package main

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gpio-node/internal/adapter/journal"
	"gpio-node/internal/domain"
	"gpio-node/internal/infra/config"
	"gpio-node/internal/infra/logger"
)

// testConfig is a fast simulated node bound to a loopback port.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Defaults()
	cfg.Network.Station.PollInterval = time.Millisecond
	cfg.Network.Station.SuccessPulse = 0
	cfg.Network.AP.BlinkInterval = time.Millisecond
	cfg.Network.AP.BlinkDuration = 5 * time.Millisecond
	cfg.TimeSync.Enabled = false
	cfg.Gateway.Addr = "127.0.0.1:0"
	cfg.Gateway.Metrics = true
	cfg.Journal.Path = filepath.Join(t.TempDir(), "journal.db")
	return cfg
}

func TestPinSpecs(t *testing.T) {
	specs := pinSpecs([]config.PinConfig{
		{ID: 2, PWM: true, Initial: 1},
		{ID: 4},
	})
	require.Len(t, specs, 2)
	assert.Equal(t, domain.PinID(2), specs[0].ID)
	assert.Equal(t, domain.CapDigitalAndPWM, specs[0].Capability)
	assert.Equal(t, domain.High, specs[0].Initial)
	assert.Equal(t, domain.CapDigitalOnly, specs[1].Capability)
	assert.Equal(t, domain.Low, specs[1].Initial)
}

func TestNode_RunServesAPI(t *testing.T) {
	cfg := testConfig(t)
	cfg.Journal.Enabled = true

	n, err := buildNode(cfg, logger.Discard())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- n.Run(ctx) }()

	require.Eventually(t, func() bool { return n.gateway.BoundAddr() != "" }, 5*time.Second, 5*time.Millisecond)
	base := "http://" + n.gateway.BoundAddr()

	resp, err := http.Get(base + "/gpio4?state=1")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"success","state":1}`, string(body))
	assert.Equal(t, domain.ModeStation, n.mode())

	resp, err = http.Get(base + "/metrics")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(body), "gpionode_actions_pending 0")
	assert.Contains(t, string(body), "gpionode_station_connected 1")

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("node did not stop")
	}
	require.NoError(t, n.Close(context.Background()))

	j, err := journal.Open(cfg.Journal.Path, cfg.Journal.MaxEntries, logger.Discard())
	require.NoError(t, err)
	defer j.Close()
	entries, err := j.Recent(context.Background(), 100, domain.EventPinChanged)
	require.NoError(t, err)
	assert.NotEmpty(t, entries)

	handled, err := j.Recent(context.Background(), 100, domain.EventRequestHandled)
	require.NoError(t, err)
	assert.Empty(t, handled, "request events are not journaled")
}

func TestNode_BootFallsBackToAccessPoint(t *testing.T) {
	cfg := testConfig(t)
	cfg.Network.SimConnectAfter = -1
	cfg.Network.Station.MaxAttempts = 2
	cfg.Network.Station.RetryInterval = time.Hour

	n, err := buildNode(cfg, logger.Discard())
	require.NoError(t, err)
	defer n.Close(context.Background())

	require.NoError(t, n.boot(context.Background()))
	assert.Equal(t, domain.ModeAccessPoint, n.mode())

	// The station still never associates, so the retry keeps the AP up.
	require.NoError(t, n.retryStation(context.Background()))
	assert.Equal(t, domain.ModeAccessPoint, n.mode())
}

func TestNode_NoRadioCountsAsStation(t *testing.T) {
	cfg := testConfig(t)
	cfg.Network.Radio = "none"

	n, err := buildNode(cfg, logger.Discard())
	require.NoError(t, err)
	defer n.Close(context.Background())

	assert.Nil(t, n.conn)
	require.NoError(t, n.boot(context.Background()))
	assert.Equal(t, domain.ModeStation, n.mode())
}

func TestNode_BadScheduleRejected(t *testing.T) {
	cfg := testConfig(t)
	cfg.Actions.SweepSchedule = "whenever"

	_, err := buildNode(cfg, logger.Discard())
	assert.Error(t, err)
}

func TestRunEncrypt(t *testing.T) {
	t.Setenv(config.EnvKeyVar, "board-secret")

	var out bytes.Buffer
	require.NoError(t, runEncrypt([]string{"hunter22"}, &out))

	line := strings.TrimSpace(out.String())
	require.True(t, strings.HasPrefix(line, "enc:"))
	plain, err := config.DecryptValue(strings.TrimPrefix(line, "enc:"), "board-secret")
	require.NoError(t, err)
	assert.Equal(t, "hunter22", plain)
}

func TestRunEncrypt_NeedsKey(t *testing.T) {
	t.Setenv(config.EnvKeyVar, "")

	var out bytes.Buffer
	err := runEncrypt([]string{"hunter22"}, &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), config.EnvKeyVar)
	assert.Error(t, runEncrypt(nil, &out))
}
