package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"

	"gpio-node/internal/adapter/clock"
	"gpio-node/internal/adapter/discovery"
	"gpio-node/internal/adapter/gateway"
	"gpio-node/internal/adapter/indicator"
	"gpio-node/internal/adapter/journal"
	"gpio-node/internal/adapter/radio"
	"gpio-node/internal/adapter/timesource"
	"gpio-node/internal/domain"
	"gpio-node/internal/infra/config"
	"gpio-node/internal/infra/logger"
	"gpio-node/internal/infra/middleware"
	"gpio-node/internal/usecase/actions"
	"gpio-node/internal/usecase/connectivity"
	"gpio-node/internal/usecase/eventbus"
	"gpio-node/internal/usecase/pinregistry"
	"gpio-node/internal/usecase/router"
	"gpio-node/internal/usecase/scheduling"
	"gpio-node/internal/usecase/timesync"
)

// node holds every long-lived component of one running board.
type node struct {
	cfg *config.Config
	log *slog.Logger

	bus       *eventbus.Bus
	pins      *pinregistry.Registry
	clock     *clock.OffsetClock
	engine    *actions.Engine
	router    *router.Router
	conn      *connectivity.Manager // nil when the radio is "none"
	syncer    *timesync.Syncer      // nil when time sync is disabled
	breaker   *timesource.BreakerSource
	scheduler *scheduling.Scheduler
	journal   *journal.SQLiteJournal // nil when disabled
	gateway   *gateway.Server
	mdns      *discovery.MDNS

	detachJournal func()
}

// buildNode wires the components from cfg. Nothing touches the network yet.
func buildNode(cfg *config.Config, log *slog.Logger) (*node, error) {
	n := &node{cfg: cfg, log: log}
	n.bus = eventbus.New(logger.Component(log, "eventbus"), cfg.Events.QueueSize)

	driver, err := newDriver(cfg)
	if err != nil {
		n.bus.Close()
		return nil, fmt.Errorf("gpio driver: %w", err)
	}
	n.pins, err = pinregistry.New(driver, pinSpecs(cfg.Pins), logger.Component(log, "pins"))
	if err != nil {
		n.bus.Close()
		return nil, fmt.Errorf("pins: %w", err)
	}
	n.pins.SetEventBus(n.bus)

	n.clock = clock.NewOffset()
	n.engine = actions.New(n.pins, logger.Component(log, "actions"))
	n.engine.SetEventBus(n.bus)
	n.router = router.New(n.pins, n.engine, n.clock, logger.Component(log, "router"))
	n.router.SetEventBus(n.bus)

	if err := n.buildConnectivity(); err != nil {
		n.bus.Close()
		return nil, err
	}
	n.buildTimeSync()

	if cfg.Journal.Enabled {
		n.journal, err = journal.Open(cfg.Journal.Path, cfg.Journal.MaxEntries, logger.Component(log, "journal"))
		if err != nil {
			n.bus.Close()
			return nil, fmt.Errorf("journal: %w", err)
		}
		n.detachJournal = n.journal.Attach(n.bus, domain.EventRequestHandled)
	}

	if err := n.buildScheduler(); err != nil {
		n.closeStores()
		return nil, err
	}
	n.buildGateway()
	if cfg.MDNS.Enabled {
		n.mdns = discovery.New(logger.Component(log, "mdns"))
	}
	return n, nil
}

func pinSpecs(pins []config.PinConfig) []pinregistry.PinSpec {
	specs := make([]pinregistry.PinSpec, 0, len(pins))
	for _, p := range pins {
		capability := domain.CapDigitalOnly
		if p.PWM {
			capability = domain.CapDigitalAndPWM
		}
		specs = append(specs, pinregistry.PinSpec{
			ID:         domain.PinID(p.ID),
			Capability: capability,
			Initial:    domain.Level(p.Initial),
		})
	}
	return specs
}

func (n *node) buildConnectivity() error {
	netCfg := n.cfg.Network

	var r domain.Radio
	switch netCfg.Radio {
	case "none":
		return nil
	case "sim":
		r = radio.NewSim(netCfg.SimConnectAfter)
	case "command":
		c := netCfg.Commands
		r = radio.NewCommand(radio.Commands{
			Connect:    c.Connect,
			Check:      c.Check,
			Disconnect: c.Disconnect,
			StartAP:    c.StartAP,
			StopAP:     c.StopAP,
		}, netCfg.Interface, radio.ExecRunner)
	default:
		return fmt.Errorf("network: unknown radio %q", netCfg.Radio)
	}

	var led domain.Indicator = indicator.Nop{}
	if n.cfg.Indicator.Enabled {
		led = indicator.NewPin(n.pins, domain.PinID(n.cfg.Indicator.Pin), n.cfg.Indicator.ActiveLow)
	}

	n.conn = connectivity.New(connectivity.Config{
		StationSSID:       netCfg.Station.SSID,
		StationPassphrase: netCfg.Station.Passphrase,
		APSSID:            netCfg.AP.SSID,
		APPassphrase:      netCfg.AP.Passphrase,
		PollInterval:      netCfg.Station.PollInterval,
		MaxAttempts:       netCfg.Station.MaxAttempts,
		SuccessPulse:      netCfg.Station.SuccessPulse,
		APBlinkInterval:   netCfg.AP.BlinkInterval,
		APBlinkDuration:   netCfg.AP.BlinkDuration,
	}, r, led, logger.Component(n.log, "connectivity"))
	n.conn.SetEventBus(n.bus)
	return nil
}

func (n *node) buildTimeSync() {
	ts := n.cfg.TimeSync
	if !ts.Enabled {
		return
	}
	n.breaker = timesource.NewBreaker(
		timesource.NewNTP(ts.Host, ts.Timeout),
		timesource.BreakerConfig{MaxFailures: ts.Breaker.MaxFailures, Timeout: ts.Breaker.Timeout},
		logger.Component(n.log, "timesource"),
	)
	n.syncer = timesync.New(timesync.Config{
		Attempts:       ts.Attempts,
		Backoff:        ts.Backoff,
		TimezoneOffset: ts.TimezoneOffset,
	}, n.breaker, n.clock, logger.Component(n.log, "timesync"))
	n.syncer.SetEventBus(n.bus)
}

func (n *node) buildScheduler() error {
	n.scheduler = scheduling.NewScheduler(logger.Component(n.log, "scheduler"))

	n.scheduler.RegisterAction(scheduling.ActionSweep, func(context.Context) error {
		n.engine.Sweep(n.clock.Now())
		return nil
	})
	if err := n.scheduler.AddTask(scheduling.ScheduledTask{
		Name:     "action-sweep",
		Schedule: n.cfg.Actions.SweepSchedule,
		Action:   scheduling.ActionSweep,
		Quiet:    true,
	}); err != nil {
		return err
	}

	if n.syncer != nil && n.cfg.TimeSync.ResyncSchedule != "" {
		n.scheduler.RegisterAction(scheduling.ActionClockResync, func(ctx context.Context) error {
			if n.mode() != domain.ModeStation {
				return nil
			}
			_, err := n.syncer.Sync(ctx)
			return err
		})
		if err := n.scheduler.AddTask(scheduling.ScheduledTask{
			Name:     "clock-resync",
			Schedule: n.cfg.TimeSync.ResyncSchedule,
			Action:   scheduling.ActionClockResync,
		}); err != nil {
			return err
		}
	}

	if retry := n.cfg.Network.Station.RetryInterval; n.conn != nil && retry > 0 {
		n.scheduler.RegisterAction(scheduling.ActionStationRetry, n.retryStation)
		if err := n.scheduler.AddTask(scheduling.ScheduledTask{
			Name:     "station-retry",
			Schedule: retry.String(),
			Action:   scheduling.ActionStationRetry,
			Timeout:  n.stationBudget() + 5*time.Second,
			Quiet:    true,
		}); err != nil {
			return err
		}
	}
	return nil
}

// retryStation rejoins the configured network while the fallback AP is up
// and syncs the clock once it succeeds.
func (n *node) retryStation(ctx context.Context) error {
	if n.conn.Mode() != domain.ModeAccessPoint {
		return nil
	}
	ok, err := n.conn.RetryStation(ctx)
	if err != nil || !ok {
		return err
	}
	if n.syncer != nil {
		if _, err := n.syncer.Sync(ctx); err != nil {
			n.log.Warn("clock sync after station retry failed", "error", err)
		}
	}
	return nil
}

func (n *node) stationBudget() time.Duration {
	st := n.cfg.Network.Station
	return time.Duration(st.MaxAttempts) * st.PollInterval
}

func (n *node) buildGateway() {
	gw := n.cfg.Gateway
	opts := gateway.Options{
		Addr:            gw.Addr,
		ReadTimeout:     gw.ReadTimeout,
		WriteTimeout:    gw.WriteTimeout,
		SecurityHeaders: gw.SecurityHeaders,
		EventStream:     gw.EventStream,
		Metrics:         gw.Metrics,
	}
	if gw.RateLimit.Enabled {
		opts.RateLimit = &middleware.RateLimitConfig{
			RequestsPerMin: gw.RateLimit.RequestsPerMin,
			BurstSize:      gw.RateLimit.Burst,
			TrustedProxies: gw.RateLimit.TrustedProxies,
		}
	}
	n.gateway = gateway.NewServer(n.router, n.bus, opts, logger.Component(n.log, "gateway"))
	n.registerGauges(n.gateway.Metrics())
}

func (n *node) registerGauges(m *gateway.Metrics) {
	m.RegisterGauge("gpionode_actions_pending", "Scheduled pin flips waiting to fire.", func() float64 {
		return float64(len(n.engine.Pending()))
	})
	m.RegisterGauge("gpionode_events_dropped", "Events dropped by the full event queue.", func() float64 {
		return float64(n.bus.Dropped())
	})
	m.RegisterGauge("gpionode_station_connected", "1 when the node joined the configured network.", func() float64 {
		if n.mode() == domain.ModeStation {
			return 1
		}
		return 0
	})
	m.RegisterGauge("gpionode_clock_offset_seconds", "Wall clock offset from the system clock.", func() float64 {
		return n.clock.Offset().Seconds()
	})
	if n.breaker != nil {
		m.RegisterGauge("gpionode_timesource_breaker_open", "1 when the time source breaker is open.", func() float64 {
			if n.breaker.State() == gobreaker.StateOpen {
				return 1
			}
			return 0
		})
	}
}

// mode reports the connectivity mode; a node without a radio counts as
// joined.
func (n *node) mode() domain.ConnectivityMode {
	if n.conn == nil {
		return domain.ModeStation
	}
	return n.conn.Mode()
}

// boot runs the connectivity sequence and, in station mode, one clock sync.
// Failures are logged; the node always goes on to serve.
func (n *node) boot(ctx context.Context) error {
	mode := domain.ModeStation
	if n.conn != nil {
		var err error
		mode, err = n.conn.Run(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			n.log.Warn("connectivity sequence failed", "error", err)
		}
	}
	n.log.Info("network ready", "mode", string(mode))

	if mode == domain.ModeStation && n.syncer != nil {
		if _, err := n.syncer.Sync(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			n.log.Warn("initial clock sync failed", "error", err)
		}
	}
	return nil
}

// Run boots the node and serves until ctx is cancelled.
func (n *node) Run(ctx context.Context) error {
	if err := n.boot(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}

	if err := n.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}
	if n.mdns != nil {
		go n.advertise(ctx)
	}

	n.log.Info("gpio-node running", "pins", len(n.cfg.Pins), "addr", n.cfg.Gateway.Addr)
	return n.gateway.Start(ctx)
}

func (n *node) advertise(ctx context.Context) {
	port, err := discovery.PortOf(n.cfg.Gateway.Addr)
	if err != nil {
		n.log.Warn("mdns: cannot derive port", "addr", n.cfg.Gateway.Addr, "error", err)
		return
	}
	instance := n.cfg.MDNS.Instance
	if instance == "" {
		instance = n.cfg.Node.Name
	}
	pins := n.pins.Pins()
	ids := make([]string, 0, len(pins))
	for _, p := range pins {
		ids = append(ids, strconv.Itoa(int(p.Pin)))
	}
	err = n.mdns.Advertise(ctx, discovery.Advertisement{
		Instance: instance,
		Service:  n.cfg.MDNS.Service,
		Domain:   n.cfg.MDNS.Domain,
		Port:     port,
		TXT: map[string]string{
			"node": n.cfg.Node.Name,
			"pins": strings.Join(ids, ","),
			"mode": string(n.mode()),
		},
	})
	if err != nil {
		n.log.Warn("mdns advertise failed", "error", err)
	}
}

// Close stops background work and releases stores.
func (n *node) Close(ctx context.Context) error {
	var errs []error
	if err := n.gateway.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("gateway: %w", err))
	}
	if err := n.scheduler.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("scheduler: %w", err))
	}
	if err := n.closeStores(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// closeStores drains the bus before closing the journal so queued events
// are still written.
func (n *node) closeStores() error {
	n.bus.Close()
	if n.journal == nil {
		return nil
	}
	if n.detachJournal != nil {
		n.detachJournal()
	}
	if err := n.journal.Close(); err != nil {
		return fmt.Errorf("journal: %w", err)
	}
	return nil
}
