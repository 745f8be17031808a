// Package recon owns the radio's single promiscuous-mode slot: it maintains
// the shared table of observed networks, hops channels on a schedule, hands
// parsed packets to the one subscribed engine, and sweeps stale entries.
package recon

import (
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lcalzada-xor/snuffle/internal/config"
	"github.com/lcalzada-xor/snuffle/internal/core/domain"
	"github.com/lcalzada-xor/snuffle/internal/core/ports"
	"github.com/lcalzada-xor/snuffle/internal/heap"
	"github.com/lcalzada-xor/snuffle/internal/telemetry"
)

// Scanner is the channel scanner. All table mutation happens under its
// critical section; the table's backing array is reserved up front so
// admission within the cap never reallocates.
type Scanner struct {
	radio ports.RadioDriver
	gov   *heap.Governor
	pol   config.Policy
	now   func() time.Time

	state AtomicState

	mu       sync.Mutex // the critical section guarding networks
	networks []domain.DetectedNetwork

	packetCB     atomic.Pointer[ports.PacketCallback]
	newNetworkCB atomic.Pointer[ports.NewNetworkFunc]

	currentChannel atomic.Uint32
	channelLocked  atomic.Bool
	protectedKey   atomic.Uint64 // BSSID key sheltered from cleanup; 0 = none

	hopInterval time.Duration
	hopIdx      int
	lastHop     time.Time
	lastCleanup time.Time

	packetCount atomic.Uint64
}

// NewScanner creates a scanner over the given driver.
func NewScanner(radio ports.RadioDriver, gov *heap.Governor, pol config.Policy, hopInterval time.Duration) *Scanner {
	return &Scanner{
		radio:       radio,
		gov:         gov,
		pol:         pol,
		now:         time.Now,
		hopInterval: hopInterval,
	}
}

// SetClock overrides the time source for tests.
func (s *Scanner) SetClock(now func() time.Time) { s.now = now }

// Start brings the radio into promiscuous mode and begins hopping.
func (s *Scanner) Start() error {
	if s.state.Get() == StateRunning {
		return nil
	}
	log.Printf("[RECON] Starting scanner (hop=%v)", s.hopInterval)

	s.mu.Lock()
	if s.networks == nil {
		s.networks = make([]domain.DetectedNetwork, 0, s.pol.MaxNetworks)
	}
	s.mu.Unlock()

	if err := s.radio.SetModeSTA(); err != nil {
		return err
	}
	if err := s.radio.Disconnect(); err != nil {
		return err
	}
	s.radio.SetPromiscuousCallback(s.onPacket)
	s.radio.SetPromiscuousFilter(nil)
	if err := s.radio.SetPromiscuous(true); err != nil {
		return err
	}

	s.hopIdx = 0
	ch := domain.ChannelOrder[0]
	s.radio.SetChannel(ch)
	s.currentChannel.Store(uint32(ch))
	now := s.now()
	s.lastHop = now
	s.lastCleanup = now
	s.state.Set(StateRunning)
	return nil
}

// Pause suspends packet delivery, typically around SD writes sharing the SPI
// bus. The table is retained.
func (s *Scanner) Pause() {
	if !s.state.CompareAndSwap(StateRunning, StatePaused) {
		return
	}
	s.radio.SetPromiscuous(false)
}

// Resume re-enables packet delivery after a Pause.
func (s *Scanner) Resume() {
	if !s.state.CompareAndSwap(StatePaused, StateRunning) {
		return
	}
	s.radio.SetPromiscuous(true)
}

// Stop tears the scanner down. No callback is observed after return.
func (s *Scanner) Stop() {
	if s.state.Get() == StateStopped {
		return
	}
	log.Printf("[RECON] Stopping scanner")
	s.state.Set(StateStopped)
	s.radio.SetPromiscuous(false)
	s.radio.SetPromiscuousCallback(nil)
	s.channelLocked.Store(false)
	s.protectedKey.Store(0)

	s.mu.Lock()
	s.networks = nil
	s.mu.Unlock()
}

// IsRunning reports whether packets are being delivered.
func (s *Scanner) IsRunning() bool { return s.state.Get() == StateRunning }

// SetPacketCallback installs the single subscriber slot; a second install
// replaces the first, nil clears.
func (s *Scanner) SetPacketCallback(cb ports.PacketCallback) {
	if cb == nil {
		s.packetCB.Store(nil)
		return
	}
	s.packetCB.Store(&cb)
}

// SetNewNetworkCallback installs the advisory new-network hook.
func (s *Scanner) SetNewNetworkCallback(cb ports.NewNetworkFunc) {
	if cb == nil {
		s.newNetworkCB.Store(nil)
		return
	}
	s.newNetworkCB.Store(&cb)
}

// LockChannel pins the hop scheduler to ch.
func (s *Scanner) LockChannel(ch uint8) {
	s.channelLocked.Store(true)
	if uint8(s.currentChannel.Load()) != ch {
		s.radio.SetChannel(ch)
		s.currentChannel.Store(uint32(ch))
	}
}

// UnlockChannel releases the channel lock; hopping resumes on the next tick.
func (s *Scanner) UnlockChannel() {
	s.channelLocked.Store(false)
}

// IsChannelLocked reports whether the hop scheduler is pinned.
func (s *Scanner) IsChannelLocked() bool { return s.channelLocked.Load() }

// CurrentChannel returns the channel the radio is tuned to.
func (s *Scanner) CurrentChannel() uint8 { return uint8(s.currentChannel.Load()) }

// HopIntervalMs returns the base hop interval.
func (s *Scanner) HopIntervalMs() uint32 {
	return uint32(s.hopInterval / time.Millisecond)
}

// SetHopInterval retunes the hop schedule; the attack engine's bored sweep
// uses a faster cadence than the base scan.
func (s *Scanner) SetHopInterval(d time.Duration) {
	if d > 0 {
		s.hopInterval = d
	}
}

// PacketCount returns the number of frames observed since Start.
func (s *Scanner) PacketCount() uint64 { return s.packetCount.Load() }

// EnterCritical acquires the table lock. No allocation or I/O until
// ExitCritical.
func (s *Scanner) EnterCritical() { s.mu.Lock() }

// ExitCritical releases the table lock.
func (s *Scanner) ExitCritical() { s.mu.Unlock() }

// NetworksLocked returns the shared table. Only valid between EnterCritical
// and ExitCritical.
func (s *Scanner) NetworksLocked() []domain.DetectedNetwork { return s.networks }

// FindNetworkIndex returns the table index for bssid, or -1. Thread-safe.
func (s *Scanner) FindNetworkIndex(bssid domain.BSSID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.findLocked(bssid)
}

func (s *Scanner) findLocked(bssid domain.BSSID) int {
	for i := range s.networks {
		if s.networks[i].BSSID == bssid {
			return i
		}
	}
	return -1
}

// NetworkCount returns the table size. Thread-safe.
func (s *Scanner) NetworkCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.networks)
}

// SetProtected shelters one BSSID from the stale sweep while an attack is in
// flight; zero value clears.
func (s *Scanner) SetProtected(bssid domain.BSSID) {
	s.protectedKey.Store(bssid.Key())
}

// ClearProtected removes the cleanup shelter.
func (s *Scanner) ClearProtected() { s.protectedKey.Store(0) }

// EstimateClientCount gives a coarse client estimate from data-frame recency.
func (s *Scanner) EstimateClientCount(n *domain.DetectedNetwork) int {
	if n.LastDataSeen.IsZero() {
		return 0
	}
	age := s.now().Sub(n.LastDataSeen)
	switch {
	case age < 5*time.Second:
		return 2
	case age < 15*time.Second:
		return 1
	}
	return 0
}

// Tick advances the hop schedule and runs the periodic stale sweep. Called
// from the main loop.
func (s *Scanner) Tick() {
	if s.state.Get() != StateRunning {
		return
	}
	now := s.now()

	if !s.channelLocked.Load() && now.Sub(s.lastHop) >= s.hopInterval {
		s.hopIdx = (s.hopIdx + 1) % len(domain.ChannelOrder)
		ch := domain.ChannelOrder[s.hopIdx]
		s.radio.SetChannel(ch)
		s.currentChannel.Store(uint32(ch))
		s.lastHop = now
	}

	if now.Sub(s.lastCleanup) >= s.pol.NetworkCleanupInterval {
		s.cleanupStale(now)
		s.lastCleanup = now
	}
}

// cleanupStale compacts the table in place, dropping entries unseen for the
// stale timeout. The protected BSSID survives regardless of age.
func (s *Scanner) cleanupStale(now time.Time) {
	protected := s.protectedKey.Load()

	s.mu.Lock()
	kept := s.networks[:0]
	for i := range s.networks {
		n := &s.networks[i]
		if now.Sub(n.LastSeen) <= s.pol.NetworkStaleTimeout || n.BSSID.Key() == protected {
			kept = append(kept, *n)
		}
	}
	removed := len(s.networks) - len(kept)
	s.networks = kept
	s.mu.Unlock()

	if removed > 0 {
		log.Printf("[RECON] Cleanup: evicted %d stale networks", removed)
	}
}

// onPacket runs on the driver's receive task. It updates the table and
// forwards the frame to the subscribed engine. No logging here.
func (s *Scanner) onPacket(pkt *ports.RxPacket) {
	if s.state.Get() != StateRunning || pkt == nil {
		return
	}
	s.packetCount.Add(1)

	frame := pkt.Payload
	if len(frame) < 24 {
		return
	}

	switch pkt.Type {
	case ports.PacketMgmt:
		subtype := (frame[0] >> 4) & 0x0F
		if subtype == 0x08 || subtype == 0x05 { // beacon / probe response
			s.handleBeacon(frame, pkt.RSSI, subtype == 0x05)
		}
	case ports.PacketData:
		s.noteDataFrame(frame)
	}

	if cb := s.packetCB.Load(); cb != nil {
		(*cb)(pkt)
	}
}

// handleBeacon creates or refreshes the table entry for the transmitting AP.
// A probe response reveals hidden SSIDs the beacon withheld.
func (s *Scanner) handleBeacon(frame []byte, rssi int8, probeResp bool) {
	if len(frame) < beaconFixedLen {
		return
	}
	if int(rssi) < s.pol.ScanRSSIFloor {
		return
	}
	info, ok := parseBeacon(frame)
	if !ok {
		return
	}
	var bssid domain.BSSID
	copy(bssid[:], frame[16:22])
	now := s.now()
	ch := uint8(s.currentChannel.Load())

	var created domain.DetectedNetwork
	haveNew := false

	s.mu.Lock()
	idx := s.findLocked(bssid)
	if idx >= 0 {
		n := &s.networks[idx]
		n.RSSI = rssi
		n.SmoothedRSSI += 0.3 * (float64(rssi) - n.SmoothedRSSI)
		n.LastSeen = now
		n.Channel = ch
		if !probeResp {
			n.BeaconCount++
			if info.Interval > 0 {
				if n.BeaconIntervalEMA == 0 {
					n.BeaconIntervalEMA = info.Interval
				} else {
					n.BeaconIntervalEMA += 0.2 * (info.Interval - n.BeaconIntervalEMA)
				}
			}
		}
		if n.SSID == "" && info.SSID != "" {
			n.SSID = info.SSID
			n.Hidden = false
		}
		if info.Auth != domain.AuthOpen || n.Auth == domain.AuthOpen {
			n.Auth = info.Auth
			n.PMF = info.PMF
		}
	} else if len(s.networks) < cap(s.networks) &&
		s.gov.CanGrow(s.pol.MinHeapForNetworkAdd, 0) {
		s.networks = append(s.networks, domain.DetectedNetwork{
			BSSID:             bssid,
			SSID:              info.SSID,
			Channel:           ch,
			RSSI:              rssi,
			SmoothedRSSI:      float64(rssi),
			Auth:              info.Auth,
			PMF:               info.PMF,
			Hidden:            info.Hidden,
			FirstSeen:         now,
			LastSeen:          now,
			BeaconCount:       1,
			BeaconIntervalEMA: info.Interval,
		})
		created = s.networks[len(s.networks)-1]
		haveNew = true
	}
	s.mu.Unlock()

	if haveNew {
		if cb := s.newNetworkCB.Load(); cb != nil {
			(*cb)(&created)
		}
	}
}

// noteDataFrame stamps the owning network's last-data timestamp.
func (s *Scanner) noteDataFrame(frame []byte) {
	toDS := frame[1]&0x01 != 0
	fromDS := frame[1]&0x02 != 0

	var bssid domain.BSSID
	switch {
	case toDS && !fromDS:
		copy(bssid[:], frame[4:10])
	case !toDS && fromDS:
		copy(bssid[:], frame[10:16])
	case !toDS && !fromDS:
		copy(bssid[:], frame[16:22])
	default:
		return
	}

	now := s.now()
	s.mu.Lock()
	if idx := s.findLocked(bssid); idx >= 0 {
		s.networks[idx].LastDataSeen = now
		s.networks[idx].LastSeen = now
	}
	s.mu.Unlock()
}

// InjectTestNetwork is the stress-test surface: it admits a synthetic entry
// through the same growth gates as real traffic, with no RF involved.
func (s *Scanner) InjectTestNetwork(bssid domain.BSSID, ssid string, channel uint8, rssi int8, auth domain.AuthMode, pmf bool) {
	if s.state.Get() != StateRunning {
		return
	}
	if !s.gov.CanGrow(s.pol.MinHeapForInject, s.pol.MinFragRatioForGrowth) {
		telemetry.InsertsRejected.WithLabelValues("networks", "heap").Inc()
		return
	}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	if idx := s.findLocked(bssid); idx >= 0 {
		n := &s.networks[idx]
		n.RSSI = rssi
		n.LastSeen = now
		n.BeaconCount++
		return
	}
	if len(s.networks) >= cap(s.networks) {
		return
	}
	s.networks = append(s.networks, domain.DetectedNetwork{
		BSSID:        bssid,
		SSID:         ssid,
		Channel:      channel,
		RSSI:         rssi,
		SmoothedRSSI: float64(rssi),
		Auth:         auth,
		PMF:          pmf,
		Hidden:       ssid == "",
		FirstSeen:    now,
		LastSeen:     now,
		BeaconCount:  1,
	})
}
