// Package app bootstraps and orchestrates the system: driver, heap
// governance, scanner, the selected engine, the capture sinks, the catalog
// and the diagnostics server.
package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/lcalzada-xor/snuffle/internal/adapters/reporting"
	"github.com/lcalzada-xor/snuffle/internal/adapters/storage"
	"github.com/lcalzada-xor/snuffle/internal/adapters/web"
	"github.com/lcalzada-xor/snuffle/internal/attack"
	"github.com/lcalzada-xor/snuffle/internal/capture"
	"github.com/lcalzada-xor/snuffle/internal/config"
	"github.com/lcalzada-xor/snuffle/internal/core/domain"
	"github.com/lcalzada-xor/snuffle/internal/core/ports"
	"github.com/lcalzada-xor/snuffle/internal/heap"
	"github.com/lcalzada-xor/snuffle/internal/mock"
	"github.com/lcalzada-xor/snuffle/internal/recon"
	"github.com/lcalzada-xor/snuffle/internal/telemetry"
	"github.com/lcalzada-xor/snuffle/internal/writer"
)

// mainLoopTick paces engine updates; timerTick paces heap governance.
const (
	mainLoopTick = 50 * time.Millisecond
	timerTick    = 250 * time.Millisecond
)

// realSleeper backs the conditioner on a live system.
type realSleeper struct{}

func (realSleeper) Sleep(d time.Duration) { time.Sleep(d) }

// Application holds the core components of the system and owns their
// lifecycle.
type Application struct {
	Config      *config.Config
	Scanner     *recon.Scanner
	Governor    *heap.Governor
	Conditioner *heap.Conditioner
	Catalog     *storage.Catalog
	WebServer   *web.Server
	Hub         *web.Hub

	captureEngine *capture.Engine
	attackEngine  *attack.Engine
	excluded      *attack.ExclusionList

	driver     ports.RadioDriver
	probe      ports.HeapProbe
	ble        ports.BLEController
	mockDriver *mock.Driver

	tracerShutdown func(context.Context) error
}

// New bootstraps from configuration. Without -mock a hardware driver must be
// supplied through NewWithDriver; this binary carries none.
func New(cfg *config.Config) (*Application, error) {
	if !cfg.MockMode {
		return nil, fmt.Errorf("no hardware radio driver on this platform; run with -mock or embed via NewWithDriver")
	}

	simHeap := mock.NewSimHeap(300_000, 260_000)
	ble := mock.NewSimBLE(simHeap, 26_000)
	driver := mock.NewDriver(simHeap, mockNetworks())

	app, err := NewWithDriver(cfg, driver, simHeap, ble)
	if err != nil {
		return nil, err
	}
	app.mockDriver = driver
	return app, nil
}

// NewWithDriver bootstraps against a concrete radio driver and allocator
// probe; ble may be nil.
func NewWithDriver(cfg *config.Config, driver ports.RadioDriver, probe ports.HeapProbe, ble ports.BLEController) (*Application, error) {
	app := &Application{
		Config: cfg,
		driver: driver,
		probe:  probe,
		ble:    ble,
	}
	if err := app.bootstrap(); err != nil {
		return nil, fmt.Errorf("application bootstrap failed: %w", err)
	}
	return app, nil
}

func (a *Application) bootstrap() error {
	cfg := a.Config

	telemetry.InitMetrics()
	shutdown, err := telemetry.InitTracer()
	if err != nil {
		return fmt.Errorf("tracer init: %w", err)
	}
	a.tracerShutdown = shutdown

	catalog, err := storage.NewCatalog(cfg.DBPath)
	if err != nil {
		return err
	}
	a.Catalog = catalog

	a.Governor = heap.NewGovernor(a.probe, cfg.Policy)
	if minFree, minLargest, err := catalog.LoadWatermarks(context.Background()); err == nil {
		a.Governor.LoadPreviousSession(minFree, minLargest)
	}

	sleeper := ports.Sleeper(realSleeper{})
	a.Conditioner = heap.NewConditioner(a.driver, a.ble, a.Governor, a.probe, cfg.Policy, sleeper)

	a.Scanner = recon.NewScanner(a.driver, a.Governor, cfg.Policy,
		time.Duration(cfg.HopIntervalMs)*time.Millisecond)

	sink := writer.NewMulti(
		writer.NewHashcat(cfg.CaptureDir),
		writer.NewPcap(cfg.CaptureDir),
	)

	a.Hub = web.NewHub()
	a.excluded = attack.NewExclusionList(cfg.ExclusionPath, cfg.Policy.MaxExcludedNetworks)

	switch cfg.Mode {
	case "attack":
		a.attackEngine = attack.NewEngine(a.Scanner, a.driver, a.Governor, sink, a.excluded, cfg.Policy)
		a.attackEngine.Events = a.Hub
		a.attackEngine.Capture().Catalog = catalog
		a.attackEngine.Capture().Events = a.Hub
	case "passive":
		a.captureEngine = capture.NewEngine(a.Scanner, a.Governor, sink, cfg.Policy)
		a.captureEngine.Catalog = catalog
		a.captureEngine.Events = a.Hub
	default:
		return fmt.Errorf("unknown mode %q", cfg.Mode)
	}

	a.WebServer = web.NewServer(cfg.Addr, a.Hub, a.status)
	a.WebServer.Catalog = catalog
	a.WebServer.Excluded = a.excluded
	pdf := reporting.NewPDFExporter()
	a.WebServer.PDFReport = func() ([]byte, error) {
		recs, err := catalog.ListCaptures(context.Background(), 200)
		if err != nil {
			return nil, err
		}
		return pdf.GenerateSessionReport(a.status(), recs)
	}
	return nil
}

func (a *Application) status() web.Status {
	st := web.Status{
		Mode:        a.Config.Mode,
		Channel:     a.Scanner.CurrentChannel(),
		Networks:    a.Scanner.NetworkCount(),
		PacketCount: a.Scanner.PacketCount(),
		HealthPct:   a.Governor.DisplayPercent(),
		Pressure:    a.Governor.Pressure().String(),
	}
	st.MinFree, st.MinLargest = a.Governor.Watermarks()
	if a.captureEngine != nil {
		st.State = a.captureEngine.State().String()
		st.Handshakes = a.captureEngine.HandshakeCount()
		st.PMKIDs = a.captureEngine.PMKIDCount()
	}
	if a.attackEngine != nil {
		st.State = a.attackEngine.State().String()
		st.Handshakes = a.attackEngine.Capture().HandshakeCount()
		st.PMKIDs = a.attackEngine.Capture().PMKIDCount()
	}
	return st
}

// Run starts everything and blocks until ctx is cancelled.
func (a *Application) Run(ctx context.Context) error {
	if a.mockDriver != nil {
		a.mockDriver.Run(ctx)
		defer a.mockDriver.Stop()
	}

	if err := a.Scanner.Start(); err != nil {
		return fmt.Errorf("scanner start: %w", err)
	}
	defer a.Scanner.Stop()

	if a.captureEngine != nil {
		if err := a.captureEngine.Start(); err != nil {
			return err
		}
		defer a.captureEngine.Stop()
	}
	if a.attackEngine != nil {
		if err := a.attackEngine.Start(); err != nil {
			return err
		}
		defer a.attackEngine.Stop()
	}

	go func() {
		if err := a.WebServer.Run(ctx); err != nil {
			log.Printf("[APP] Web server: %v", err)
		}
	}()

	go a.timerLoop(ctx)

	ticker := time.NewTicker(mainLoopTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			a.shutdown()
			return nil
		case <-ticker.C:
			a.Scanner.Tick()
			if a.captureEngine != nil {
				a.captureEngine.Update()
			}
			if a.attackEngine != nil {
				a.attackEngine.Update()
			}
		}
	}
}

// timerLoop is the low-priority tick: heap governance, the conditioning
// latch, and watermark persistence.
func (a *Application) timerLoop(ctx context.Context) {
	ticker := time.NewTicker(timerTick)
	defer ticker.Stop()
	lastPersist := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.Governor.Update()

			if a.Governor.ConsumeConditionRequest() {
				// Conditioning owns the radio: pause scanning around it
				paused := a.Scanner.IsRunning()
				if paused {
					a.Scanner.Pause()
				}
				largest := a.Conditioner.Condition()
				log.Printf("[APP] Conditioning finished: largest=%d", largest)
				if paused {
					a.Scanner.Resume()
				}
			}

			if time.Since(lastPersist) >= a.Config.Policy.WatermarkSaveInterval {
				minFree, minLargest := a.Governor.Watermarks()
				persistCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				if err := a.Catalog.SaveWatermarks(persistCtx, minFree, minLargest); err != nil {
					log.Printf("[APP] Watermark persist failed: %v", err)
				}
				cancel()
				lastPersist = time.Now()
			}
		}
	}
}

func (a *Application) shutdown() {
	minFree, minLargest := a.Governor.Watermarks()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	a.Catalog.SaveWatermarks(ctx, minFree, minLargest)

	if a.tracerShutdown != nil {
		a.tracerShutdown(ctx)
	}
	a.Catalog.Close()
}

// mockNetworks is the synthetic neighbourhood mock mode wakes up in.
func mockNetworks() []mock.SimNetwork {
	return []mock.SimNetwork{
		{
			BSSID:   domain.BSSID{0xAA, 0xBB, 0xCC, 0x11, 0x22, 0x33},
			SSID:    "CoffeeShack",
			Channel: 1,
			RSSI:    -52,
			Auth:    domain.AuthWPA2PSK,
			Station: domain.BSSID{0xDD, 0xEE, 0xFF, 0x44, 0x55, 0x66},
		},
		{
			BSSID:   domain.BSSID{0x11, 0x22, 0x33, 0xAA, 0xBB, 0xCC},
			SSID:    "Library-Guest",
			Channel: 6,
			RSSI:    -61,
			Auth:    domain.AuthWPA2PSK,
			PMKID:   [16]byte{0x5A, 0x1F, 0x33, 0x07, 0x42, 0x9C, 0x11, 0xEE, 0x23, 0x8D, 0x6B, 0x54, 0x71, 0x02, 0xF0, 0xAB},
		},
		{
			BSSID:   domain.BSSID{0xDE, 0xAD, 0xBE, 0xEF, 0x00, 0x01},
			SSID:    "Modern-AP",
			Channel: 11,
			RSSI:    -70,
			Auth:    domain.AuthWPA3PSK,
			PMF:     true,
		},
	}
}
