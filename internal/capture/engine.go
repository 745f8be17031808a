// Package capture implements the passive capture engine: it turns the
// scanner's packet feed into durable handshake and PMKID captures without
// allocating, logging or touching storage in the radio-callback context, and
// drives an adaptive channel-hop state machine that camps on productive
// channels.
package capture

import (
	"log"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/google/uuid"

	"github.com/lcalzada-xor/snuffle/internal/config"
	"github.com/lcalzada-xor/snuffle/internal/core/domain"
	"github.com/lcalzada-xor/snuffle/internal/core/ports"
	"github.com/lcalzada-xor/snuffle/internal/heap"
	"github.com/lcalzada-xor/snuffle/internal/ring"
	"github.com/lcalzada-xor/snuffle/internal/telemetry"
)

// State is the hop scheduler state of the passive engine.
type State int32

const (
	StateHopping State = iota
	StateDwelling
	StateHunting
	StateIdleSweep
)

func (s State) String() string {
	switch s {
	case StateHopping:
		return "Hopping"
	case StateDwelling:
		return "Dwelling"
	case StateHunting:
		return "Hunting"
	case StateIdleSweep:
		return "IdleSweep"
	}
	return "Unknown"
}

// Engine is the passive capture engine. Update runs on the main loop; the
// packet callback runs on the driver's receive task and only touches the
// deferral rings, the channel counters and the busy short-circuit.
type Engine struct {
	recon ports.NetworkRecon
	gov   *heap.Governor
	sink  ports.CaptureWriter
	pol   config.Policy
	now   func() time.Time

	// Optional collaborators; all tolerate absence.
	Catalog ports.CaptureCatalog
	Events  ports.EventSink

	// Advisory hooks fired on the main thread after a capture is stored.
	OnHandshakeCaptured func(ssid string)
	OnPMKIDCaptured     func(ssid string)

	// HopControl gives the engine the hop scheduler. The attack engine
	// runs a subordinate instance with this off: it owns the channel
	// itself, and PMKID dwells would fight its locks.
	HopControl bool

	SessionID string

	running atomic.Bool
	busy    atomic.Bool
	state   atomic.Int32

	// Deferral buffers, written by the callback, drained by Update.
	pendingHS         *ring.SlotPool[pairKey, pendingHandshake]
	pendingPMKIDs     *ring.Ring[pendingPMKID]
	pendingBeacon     *ring.Ring[pendingBeacon]
	pendingIncomplete *ring.Ring[domain.IncompleteHandshake]

	dwellResolved atomic.Bool
	dwellStart    time.Time

	statsMu      sync.Mutex
	channelStats [13]domain.ChannelStats

	// Main-thread state below.
	handshakes []domain.CapturedHandshake
	pmkids     []domain.CapturedPMKID
	incomplete []domain.IncompleteHandshake

	currentChannel     uint8
	channelIndex       int
	adaptiveDwellUntil time.Time
	huntStart          time.Time
	lastHuntTime       time.Time
	lastHuntChannel    uint8
	lastCycleActivity  uint16

	lastCleanup     time.Time
	lastSaveSweep   time.Time
	lastStatsDecay  time.Time
	lastBeaconAudit time.Time
	pendingSave     bool
}

var (
	handshakeMinBlock = int(unsafe.Sizeof(domain.CapturedHandshake{}))
	pmkidMinBlock     = int(unsafe.Sizeof(domain.CapturedPMKID{}))
)

// NewEngine creates a passive engine over the scanner handle.
func NewEngine(recon ports.NetworkRecon, gov *heap.Governor, sink ports.CaptureWriter, pol config.Policy) *Engine {
	return &Engine{
		recon:      recon,
		gov:        gov,
		sink:       sink,
		pol:        pol,
		now:        time.Now,
		HopControl: true,
	}
}

// SetClock overrides the time source for tests.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// State returns the current scheduler state.
func (e *Engine) State() State { return State(e.state.Load()) }

// IsRunning reports whether the engine is started.
func (e *Engine) IsRunning() bool { return e.running.Load() }

// HandshakeCount returns the number of durable handshake entries.
func (e *Engine) HandshakeCount() int { return len(e.handshakes) }

// PMKIDCount returns the number of durable PMKID entries.
func (e *Engine) PMKIDCount() int { return len(e.pmkids) }

// Start subscribes the engine to the packet feed and resets all state.
func (e *Engine) Start() error {
	if e.running.Load() {
		return nil
	}
	e.SessionID = uuid.New().String()
	log.Printf("[CAPTURE] Starting passive engine (session %s)", e.SessionID)

	e.handshakes = make([]domain.CapturedHandshake, 0, e.pol.MaxHandshakes)
	e.pmkids = make([]domain.CapturedPMKID, 0, e.pol.MaxPMKIDs)
	e.incomplete = make([]domain.IncompleteHandshake, 0, e.pol.MaxIncompleteHS)

	e.pendingHS = ring.NewSlotPool[pairKey, pendingHandshake](pendingHandshakeSlots)
	e.pendingPMKIDs = ring.New[pendingPMKID](pendingPMKIDSlots)
	e.pendingBeacon = ring.New[pendingBeacon](1)
	e.pendingIncomplete = ring.New[domain.IncompleteHandshake](pendingIncompleteSlots)

	e.statsMu.Lock()
	for i := range e.channelStats {
		e.channelStats[i] = domain.ChannelStats{Channel: domain.ChannelOrder[i], Priority: 100}
	}
	e.statsMu.Unlock()

	now := e.now()
	e.state.Store(int32(StateHopping))
	e.currentChannel = e.recon.CurrentChannel()
	if idx := domain.ChannelIndex(e.currentChannel); idx >= 0 {
		e.channelIndex = idx
	} else {
		e.channelIndex = 0
	}
	e.adaptiveDwellUntil = time.Time{}
	e.huntStart = time.Time{}
	e.lastHuntTime = time.Time{}
	e.lastHuntChannel = 0
	e.lastCycleActivity = 0
	e.dwellResolved.Store(false)
	e.lastCleanup = now
	e.lastSaveSweep = now
	e.lastStatsDecay = now
	e.lastBeaconAudit = now
	e.pendingSave = false

	e.running.Store(true)
	e.recon.SetPacketCallback(e.HandlePacket)
	return nil
}

// HasPMKID reports whether a non-zero PMKID is held for bssid.
func (e *Engine) HasPMKID(bssid domain.BSSID) bool {
	for i := range e.pmkids {
		if e.pmkids[i].BSSID == bssid && !e.pmkids[i].IsZero() {
			return true
		}
	}
	return false
}

// HasValidPairFor reports whether any exchange for bssid reached a
// crackable pair.
func (e *Engine) HasValidPairFor(bssid domain.BSSID) bool {
	for i := range e.handshakes {
		if e.handshakes[i].BSSID == bssid && e.handshakes[i].HasValidPair() {
			return true
		}
	}
	return false
}

// HasM1WithoutM2 reports an exchange for bssid holding M1 but still missing
// M2, the case worth extending the post-attack wait for.
func (e *Engine) HasM1WithoutM2(bssid domain.BSSID) bool {
	for i := range e.handshakes {
		hs := &e.handshakes[i]
		if hs.BSSID == bssid && hs.CapturedMask&0b0001 != 0 && hs.CapturedMask&0b0010 == 0 {
			return true
		}
	}
	return false
}

// Stop unsubscribes, flushes pending saves and releases engine-local memory.
// No callback is observed after return and any outstanding channel lock is
// released.
func (e *Engine) Stop() {
	if !e.running.Load() {
		return
	}
	log.Printf("[CAPTURE] Stopping passive engine")
	e.running.Store(false)
	e.busy.Store(true)
	defer e.busy.Store(false)

	e.recon.SetPacketCallback(nil)
	if e.recon.IsChannelLocked() {
		e.recon.UnlockChannel()
	}

	pausedByUs := false
	if e.recon.IsRunning() {
		e.recon.Pause()
		pausedByUs = true
	}
	e.saveAllPMKIDs()
	e.saveAllHandshakes()
	if pausedByUs {
		e.recon.Resume()
	}

	// Release beacon blobs and the collections themselves
	for i := range e.handshakes {
		e.handshakes[i].ReleaseBeacon()
	}
	e.handshakes = nil
	e.pmkids = nil
	e.incomplete = nil
	e.pendingHS.Reset()
	e.pendingPMKIDs.Reset()
	e.pendingBeacon.Reset()
	e.pendingIncomplete.Reset()
}

// HandlePacket is the installed packet callback; the attack engine also
// feeds it when it owns the subscriber slot. Receive-task context: fixed-size
// copies under short critical sections and counter updates only.
func (e *Engine) HandlePacket(pkt *ports.RxPacket) {
	if pkt == nil || !e.running.Load() {
		return
	}
	if e.busy.Load() {
		// The drain owns the collections right now; dropping is cheaper
		// than contending.
		telemetry.PacketsDropped.WithLabelValues("busy").Inc()
		return
	}

	frame := pkt.Payload
	if len(frame) < 24 {
		return
	}

	switch pkt.Type {
	case ports.PacketMgmt:
		if (frame[0]>>4)&0x0F == 0x08 {
			e.onBeacon(frame)
		}
	case ports.PacketData:
		e.onDataFrame(frame, pkt.RSSI)
	}
}

// ssidFromBeacon returns the SSID element body, aliasing the frame.
func ssidFromBeacon(frame []byte) []byte {
	offset := 36
	for offset+2 <= len(frame) {
		tag := frame[offset]
		length := int(frame[offset+1])
		if offset+2+length > len(frame) {
			return nil
		}
		if tag == 0 {
			if length > 0 && length <= 32 {
				return frame[offset+2 : offset+2+length]
			}
			return nil
		}
		offset += 2 + length
	}
	return nil
}

// onBeacon resolves pending PMKID dwells, stores the beacon blob for pcap
// export and feeds the channel activity counters.
func (e *Engine) onBeacon(frame []byte) {
	if len(frame) < 40 || len(frame) > 2346 {
		return
	}
	var bssid domain.BSSID
	copy(bssid[:], frame[16:22])
	ssid := ssidFromBeacon(frame)

	// Resolve a pending PMKID awaiting its SSID
	if State(e.state.Load()) == StateDwelling && len(ssid) > 0 {
		resolved := false
		e.pendingPMKIDs.PeekUpdate(func(p *pendingPMKID) {
			if p.BSSID == bssid && p.SSIDLen == 0 {
				p.SSIDLen = uint8(copy(p.SSID[:], ssid))
				resolved = true
			}
		})
		if resolved {
			e.dwellResolved.Store(true)
		}
	}

	// Single-slot beacon store; matching to handshakes is deferred to the
	// drain where allocation is legal.
	var pb pendingBeacon
	pb.BSSID = bssid
	pb.Len = uint16(copy(pb.Data[:], frame))
	e.pendingBeacon.TryPush(pb)

	e.bumpChannelStats(func(s *domain.ChannelStats) {
		s.BeaconCount++
		s.LifetimeBeacons++
		s.LastActivity = e.now()
	})
}

// onDataFrame dissects EAPOL and queues frames, PMKIDs and incomplete-mask
// records into the deferral rings.
func (e *Engine) onDataFrame(frame []byte, rssi int8) {
	parsed, ok := dissectDataFrame(frame)
	if !ok {
		return
	}
	telemetry.PacketsCaptured.WithLabelValues("eapol").Inc()

	ch := e.recon.CurrentChannel()

	// PMKID from M1. An all-zero PMKID is queued too: the drain records it
	// as terminal so identical frames never reopen the slot.
	if parsed.PMKID != nil || parsed.PMKIDZero {
		var p pendingPMKID
		p.BSSID = parsed.BSSID
		p.Station = parsed.Station
		if parsed.PMKID != nil {
			copy(p.PMKID[:], parsed.PMKID)
		}
		p.Channel = ch
		if !e.pendingPMKIDs.TryPush(p) {
			telemetry.PacketsDropped.WithLabelValues("pmkid_ring_full").Inc()
		}
	}

	// Handshake frame: merge into the slot for this exchange
	key := pairKey{bssid: parsed.BSSID, station: parsed.Station}
	frameIdx := int(parsed.MessageNum) - 1
	stored := e.pendingHS.UpdateForKey(key, func(v *pendingHandshake, fresh bool) {
		if fresh {
			v.BSSID = parsed.BSSID
			v.Station = parsed.Station
			v.Mask = 0
			v.Channel = ch
			for i := range v.Frames {
				v.Frames[i].Len = 0
				v.Frames[i].FullLen = 0
			}
		}
		f := &v.Frames[frameIdx]
		f.Len = uint16(copy(f.Data[:], parsed.EAPOL))
		f.FullLen = uint16(copy(f.Full[:], frame))
		f.RSSI = rssi
		v.Mask |= 1 << frameIdx
	})
	if !stored {
		telemetry.PacketsDropped.WithLabelValues("handshake_pool_full").Inc()
	}

	e.bumpChannelStats(func(s *domain.ChannelStats) {
		s.EAPOLCount++
		s.LastActivity = e.now()
	})

	// Incomplete tracking for the hunt heuristic
	e.pendingIncomplete.TryPush(domain.IncompleteHandshake{
		BSSID:        parsed.BSSID,
		CapturedMask: 1 << frameIdx,
		Channel:      ch,
		LastSeen:     e.now(),
	})
}

func (e *Engine) bumpChannelStats(fn func(s *domain.ChannelStats)) {
	idx := domain.ChannelIndex(e.recon.CurrentChannel())
	if idx < 0 {
		return
	}
	e.statsMu.Lock()
	fn(&e.channelStats[idx])
	e.statsMu.Unlock()
}

// Update is the main-loop tick: drain the deferral rings, advance the hop
// state machine, and run the periodic sweeps. All allocation and I/O happens
// here.
func (e *Engine) Update() {
	if !e.running.Load() {
		return
	}
	now := e.now()

	e.busy.Store(true)
	defer e.busy.Store(false)

	prevChannel := e.currentChannel
	e.currentChannel = e.recon.CurrentChannel()
	if idx := domain.ChannelIndex(e.currentChannel); idx >= 0 {
		e.channelIndex = idx
	}
	channelChanged := e.currentChannel != prevChannel

	e.drainBeacon()
	e.drainPMKIDs(now)
	e.drainIncomplete()
	e.drainHandshakes(now)

	// Beacon blob audit: saved handshakes no longer need theirs
	if now.Sub(e.lastBeaconAudit) > 10*time.Second {
		for i := range e.handshakes {
			if e.handshakes[i].Saved && e.handshakes[i].HasBeacon() {
				e.handshakes[i].ReleaseBeacon()
			}
		}
		e.lastBeaconAudit = now
	}

	if e.HopControl {
		e.stepStateMachine(now, channelChanged)
	}

	if now.Sub(e.lastCleanup) > 10*time.Second {
		e.pruneIncomplete(now)
		e.lastCleanup = now
	}
	if now.Sub(e.lastStatsDecay) > e.pol.StatsDecayInterval {
		e.decayChannelStats()
		e.lastStatsDecay = now
	}
	if now.Sub(e.lastSaveSweep) > e.pol.BackupSaveInterval {
		e.pendingSave = true
		e.lastSaveSweep = now
	}
	if e.pendingSave {
		e.pendingSave = false
		e.saveWithScannerPaused(func() {
			e.saveAllPMKIDs()
			e.saveAllHandshakes()
		})
	}
}

// drainBeacon attaches the queued beacon blob to a matching in-progress
// handshake.
func (e *Engine) drainBeacon() {
	pb, ok := e.pendingBeacon.TryPop()
	if !ok || pb.Len == 0 {
		return
	}
	for i := range e.handshakes {
		hs := &e.handshakes[i]
		if !hs.Saved && !hs.HasBeacon() && hs.BSSID == pb.BSSID {
			hs.Beacon = make([]byte, pb.Len)
			copy(hs.Beacon, pb.Data[:pb.Len])
			break
		}
	}
}

// drainPMKIDs processes the head of the PMKID ring, starting a dwell when
// the SSID is unknown and the beacon has not yet resolved it.
func (e *Engine) drainPMKIDs(now time.Time) {
	head, ok := e.pendingPMKIDs.Peek()
	if !ok {
		return
	}

	// All-zero PMKIDs are invalid-terminal: record and mark saved without
	// any dwell or writer involvement.
	zero := true
	for _, b := range head.PMKID {
		if b != 0 {
			zero = false
			break
		}
	}
	if zero {
		if head, ok = e.pendingPMKIDs.TryPop(); ok {
			if idx := e.findOrCreatePMKID(head.BSSID); idx >= 0 {
				p := &e.pmkids[idx]
				if !p.Saved && p.IsZero() {
					p.Station = head.Station
					p.Timestamp = now
					p.Saved = true
				}
			}
		}
		return
	}

	canProcess := true
	if head.SSIDLen == 0 && e.HopControl {
		if e.State() != StateDwelling {
			e.startDwell(now)
		}
		if e.State() == StateDwelling && !e.dwellResolved.Load() &&
			now.Sub(e.dwellStart) < e.pol.DwellTime {
			canProcess = false
		}
	}
	if !canProcess {
		return
	}

	head, ok = e.pendingPMKIDs.TryPop()
	if !ok {
		return
	}

	ssid := head.ssidString()
	if ssid == "" {
		ssid = e.lookupSSID(head.BSSID)
	}

	idx := e.findOrCreatePMKID(head.BSSID)
	if idx >= 0 && !e.pmkids[idx].Saved {
		p := &e.pmkids[idx]
		p.PMKID = head.PMKID
		p.Station = head.Station
		if p.SSID == "" {
			p.SSID = ssid
		}
		p.Timestamp = now

		if p.SSID != "" && !p.Saved {
			log.Printf("[CAPTURE] PMKID captured: %s (%s)", p.SSID, p.BSSID)
			e.publish(domain.CaptureEvent{
				Kind: domain.EventPMKIDCaptured, SSID: p.SSID,
				BSSID: p.BSSID.Hex(), Station: p.Station.Hex(),
				Channel: head.Channel, Timestamp: now,
			})
			if e.OnPMKIDCaptured != nil {
				e.OnPMKIDCaptured(p.SSID)
			}
			e.saveWithScannerPaused(e.saveAllPMKIDs)
		}
	}

	if e.State() == StateDwelling {
		e.state.Store(int32(StateHopping))
		e.dwellResolved.Store(false)
		e.adaptiveDwellUntil = time.Time{}
		if e.recon.IsChannelLocked() {
			e.recon.UnlockChannel()
		}
	}
}

func (e *Engine) drainIncomplete() {
	for {
		ihs, ok := e.pendingIncomplete.TryPop()
		if !ok {
			return
		}
		e.trackIncomplete(ihs)
	}
}

// drainHandshakes copies queued frames into the durable collection and
// triggers the save path on the first valid pair.
func (e *Engine) drainHandshakes(now time.Time) {
	for {
		_, pending, ok := e.pendingHS.DrainOne()
		if !ok {
			return
		}

		idx := e.findOrCreateHandshake(pending.BSSID, pending.Station, now)
		if idx < 0 {
			continue
		}
		hs := &e.handshakes[idx]

		for msgIdx := 0; msgIdx < 4; msgIdx++ {
			if pending.Mask&(1<<msgIdx) == 0 {
				continue
			}
			if hs.Frames[msgIdx].Len != 0 {
				continue // first arrival wins
			}
			src := &pending.Frames[msgIdx]
			if src.Len == 0 || src.Len > domain.MaxEAPOLLen {
				continue
			}
			dst := &hs.Frames[msgIdx]
			copy(dst.Data[:], src.Data[:src.Len])
			dst.Len = src.Len
			dst.MessageNum = uint8(msgIdx + 1)
			dst.Timestamp = now
			if src.FullLen > 0 && src.FullLen <= domain.MaxFullFrameLen {
				copy(dst.Full[:], src.Full[:src.FullLen])
				dst.FullLen = src.FullLen
				dst.RSSI = src.RSSI
			}
			hs.CapturedMask |= 1 << msgIdx
			hs.LastSeen = now
		}

		if hs.SSID == "" {
			hs.SSID = e.lookupSSID(hs.BSSID)
		}

		if hs.HasValidPair() && !hs.Saved {
			e.markNetworkHandshake(hs.BSSID)
			log.Printf("[CAPTURE] Handshake pair complete: %s (%s) mask=%04b",
				hs.SSID, hs.BSSID, hs.CapturedMask)
			e.publish(domain.CaptureEvent{
				Kind: domain.EventHandshakeCaptured, SSID: hs.SSID,
				BSSID: hs.BSSID.Hex(), Station: hs.Station.Hex(),
				Channel: pending.Channel, Timestamp: now,
			})
			if e.OnHandshakeCaptured != nil {
				e.OnHandshakeCaptured(hs.SSID)
			}
			e.saveWithScannerPaused(e.saveAllHandshakes)
		}
	}
}

// lookupSSID reads the network table under the scanner's critical section.
func (e *Engine) lookupSSID(bssid domain.BSSID) string {
	idx := e.recon.FindNetworkIndex(bssid)
	if idx < 0 {
		return ""
	}
	var ssid string
	e.recon.EnterCritical()
	nets := e.recon.NetworksLocked()
	if idx < len(nets) && nets[idx].BSSID == bssid {
		ssid = nets[idx].SSID
	}
	e.recon.ExitCritical()
	return ssid
}

func (e *Engine) markNetworkHandshake(bssid domain.BSSID) {
	idx := e.recon.FindNetworkIndex(bssid)
	if idx < 0 {
		return
	}
	e.recon.EnterCritical()
	nets := e.recon.NetworksLocked()
	if idx < len(nets) && nets[idx].BSSID == bssid {
		nets[idx].HasHandshake = true
	}
	e.recon.ExitCritical()
}

func (e *Engine) publish(ev domain.CaptureEvent) {
	if e.Events != nil {
		e.Events.Publish(ev)
	}
}

// findOrCreatePMKID returns the index for bssid, admitting a new entry only
// through the pressure and heap gates.
func (e *Engine) findOrCreatePMKID(bssid domain.BSSID) int {
	for i := range e.pmkids {
		if e.pmkids[i].BSSID == bssid {
			return i
		}
	}
	if len(e.pmkids) >= e.pol.MaxPMKIDs {
		telemetry.InsertsRejected.WithLabelValues("pmkids", "cap").Inc()
		return -1
	}
	if e.gov.Pressure() >= heap.PressureWarning {
		telemetry.InsertsRejected.WithLabelValues("pmkids", "pressure").Inc()
		return -1
	}
	s := e.gov.Snapshot()
	if s.Free < e.pol.MinHeapForNetworkAdd {
		telemetry.InsertsRejected.WithLabelValues("pmkids", "low_heap").Inc()
		return -1
	}
	if s.Largest < pmkidMinBlock+e.pol.PMKIDAllocSlack {
		telemetry.InsertsRejected.WithLabelValues("pmkids", "fragmented").Inc()
		return -1
	}
	e.pmkids = append(e.pmkids, domain.CapturedPMKID{BSSID: bssid})
	return len(e.pmkids) - 1
}

// findOrCreateHandshake returns the index for the (bssid, station) pair,
// admitting a new entry only through the pressure and heap gates.
func (e *Engine) findOrCreateHandshake(bssid, station domain.BSSID, now time.Time) int {
	for i := range e.handshakes {
		if e.handshakes[i].BSSID == bssid && e.handshakes[i].Station == station {
			return i
		}
	}
	if len(e.handshakes) >= e.pol.MaxHandshakes {
		telemetry.InsertsRejected.WithLabelValues("handshakes", "cap").Inc()
		return -1
	}
	if e.gov.Pressure() >= heap.PressureWarning {
		telemetry.InsertsRejected.WithLabelValues("handshakes", "pressure").Inc()
		return -1
	}
	s := e.gov.Snapshot()
	if s.Free < e.pol.MinHeapForHandshakeAdd {
		telemetry.InsertsRejected.WithLabelValues("handshakes", "low_heap").Inc()
		return -1
	}
	if s.Largest < handshakeMinBlock+e.pol.HSAllocSlack {
		telemetry.InsertsRejected.WithLabelValues("handshakes", "fragmented").Inc()
		return -1
	}
	e.handshakes = append(e.handshakes, domain.CapturedHandshake{
		BSSID:     bssid,
		Station:   station,
		FirstSeen: now,
		LastSeen:  now,
	})
	return len(e.handshakes) - 1
}

func (e *Engine) trackIncomplete(ihs domain.IncompleteHandshake) {
	for i := range e.incomplete {
		if e.incomplete[i].BSSID == ihs.BSSID {
			e.incomplete[i].CapturedMask |= ihs.CapturedMask
			e.incomplete[i].LastSeen = ihs.LastSeen
			return
		}
	}
	if len(e.incomplete) < e.pol.MaxIncompleteHS {
		e.incomplete = append(e.incomplete, ihs)
	}
}

func (e *Engine) pruneIncomplete(now time.Time) {
	kept := e.incomplete[:0]
	for _, ihs := range e.incomplete {
		if now.Sub(ihs.LastSeen) <= e.pol.IncompleteHSTimeout {
			kept = append(kept, ihs)
		}
	}
	e.incomplete = kept
}
