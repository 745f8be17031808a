package capture

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lcalzada-xor/snuffle/internal/core/domain"
	"github.com/lcalzada-xor/snuffle/internal/core/ports"
	"github.com/lcalzada-xor/snuffle/internal/heap"
)

func seedNetwork(recon *fakeRecon, bssid domain.BSSID, ssid string, ch uint8) {
	recon.mu.Lock()
	recon.networks = append(recon.networks, domain.DetectedNetwork{
		BSSID: bssid, SSID: ssid, Channel: ch, Auth: domain.AuthWPA2PSK,
	})
	recon.mu.Unlock()
}

func deliverEAPOL(recon *fakeRecon, msg uint8, ap, sta domain.BSSID, pmkid []byte) {
	recon.deliver(&ports.RxPacket{
		Payload: buildEAPOLFrame(msg, ap, sta, pmkid),
		RSSI:    -52,
		Type:    ports.PacketData,
	})
}

// Full four-message exchange: the capture becomes durable at M2, saves
// exactly once, and later messages extend the mask without a second save.
func TestEngine_FullHandshakeCapture(t *testing.T) {
	e, recon, w, _, _ := newTestEngine(t)
	seedNetwork(recon, apBSSID, "testnet", 6)

	deliverEAPOL(recon, 1, apBSSID, staMAC, nil)
	e.Update()
	require.Equal(t, 1, e.HandshakeCount())
	assert.Equal(t, 0, w.handshakeCalls, "M1 alone is not a valid pair")

	deliverEAPOL(recon, 2, apBSSID, staMAC, nil)
	e.Update()
	require.Equal(t, 1, e.HandshakeCount())
	assert.Equal(t, uint8(0b0011), e.handshakes[0].CapturedMask)
	assert.True(t, e.handshakes[0].HasValidPair())
	assert.Equal(t, 1, w.handshakeCalls, "save fires once on first valid pair")
	assert.Equal(t, uint8(domain.MessagePairM1M2), w.lastPair)
	assert.Equal(t, "testnet", w.lastSSID)
	assert.Equal(t, apBSSID, w.lastBSSID)

	deliverEAPOL(recon, 3, apBSSID, staMAC, nil)
	e.Update()
	assert.Equal(t, uint8(0b0111), e.handshakes[0].CapturedMask)
	assert.Equal(t, 1, w.handshakeCalls, "saved flag guards against a second save")

	// SPI discipline: every save paused and resumed the scanner
	assert.Equal(t, recon.pauses, recon.resumes)
	assert.True(t, recon.running)

	e.Stop()
	assert.Nil(t, recon.cb, "no callback observed after stop")
	assert.Equal(t, 0, e.HandshakeCount())
}

// At most one durable entry per (BSSID, station) pair, however many times
// the frames repeat.
func TestEngine_OneHandshakePerPair(t *testing.T) {
	e, recon, _, _, _ := newTestEngine(t)
	seedNetwork(recon, apBSSID, "testnet", 6)

	for i := 0; i < 5; i++ {
		deliverEAPOL(recon, 1, apBSSID, staMAC, nil)
		e.Update()
	}
	assert.Equal(t, 1, e.HandshakeCount())

	other := domain.BSSID{0x01, 0x02, 0x03, 0x04, 0x05, 0x06}
	deliverEAPOL(recon, 1, apBSSID, other, nil)
	e.Update()
	assert.Equal(t, 2, e.HandshakeCount(), "distinct station is a distinct pair")
}

// Clientless PMKID capture resolved by a beacon during the dwell.
func TestEngine_PMKIDCapture(t *testing.T) {
	e, recon, w, _, _ := newTestEngine(t)

	pmkid := make([]byte, 16)
	for i := range pmkid {
		pmkid[i] = byte(i + 1)
	}
	deliverEAPOL(recon, 1, pmkidAP, staMAC, pmkid)

	// First tick: SSID unknown, the engine camps for the beacon
	e.Update()
	assert.Equal(t, StateDwelling, e.State())
	assert.True(t, recon.locked)
	assert.Equal(t, 0, w.pmkidCalls)

	// Beacon resolves the SSID in callback context
	beacon := make([]byte, 36)
	beacon[0] = 0x80
	copy(beacon[16:22], pmkidAP[:])
	beacon = append(beacon, 0, 3, 'f', 'o', 'o')
	recon.deliver(&ports.RxPacket{Payload: beacon, RSSI: -50, Type: ports.PacketMgmt})

	e.Update()
	require.Equal(t, 1, e.PMKIDCount())
	assert.Equal(t, "foo", e.pmkids[0].SSID)
	assert.True(t, e.pmkids[0].Saved)
	assert.Equal(t, 1, w.pmkidCalls)
	assert.Equal(t, StateHopping, e.State(), "dwell released after resolution")
	assert.False(t, recon.locked)
}

// PMKID with the SSID already in the network table resolves on dwell timeout.
func TestEngine_PMKIDResolvesFromTableAfterDwellTimeout(t *testing.T) {
	e, recon, w, _, clk := newTestEngine(t)
	seedNetwork(recon, pmkidAP, "foo", 1)

	pmkid := []byte{9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9}
	deliverEAPOL(recon, 1, pmkidAP, staMAC, pmkid)

	e.Update()
	assert.Equal(t, StateDwelling, e.State())

	clk.advance(4 * time.Second) // past the dwell timeout
	e.Update()
	require.Equal(t, 1, e.PMKIDCount())
	assert.Equal(t, "foo", e.pmkids[0].SSID)
	assert.Equal(t, 1, w.pmkidCalls)
}

// All-zero PMKID: marked saved without a writer call; repeats never reopen.
func TestEngine_AllZeroPMKIDTerminal(t *testing.T) {
	e, recon, w, _, _ := newTestEngine(t)
	seedNetwork(recon, pmkidAP, "foo", 1)

	zero := make([]byte, 16)
	deliverEAPOL(recon, 1, pmkidAP, staMAC, zero)
	e.Update()

	require.Equal(t, 1, e.PMKIDCount())
	assert.True(t, e.pmkids[0].Saved)
	assert.Equal(t, 0, w.pmkidCalls, "invalid-terminal: never written")
	assert.Equal(t, uint8(0), e.pmkids[0].SaveAttempts)

	deliverEAPOL(recon, 1, pmkidAP, staMAC, zero)
	e.Update()
	assert.Equal(t, 1, e.PMKIDCount(), "identical M1 must not reopen the slot")
	assert.Equal(t, 0, w.pmkidCalls)
}

// Hidden SSID: capture held with no attempt counted; beacon backfill later
// triggers the save without having burned attempts.
func TestEngine_HiddenSSIDBackfill(t *testing.T) {
	e, recon, w, _, clk := newTestEngine(t)
	seedNetwork(recon, apBSSID, "", 6) // hidden

	deliverEAPOL(recon, 1, apBSSID, staMAC, nil)
	deliverEAPOL(recon, 2, apBSSID, staMAC, nil)
	e.Update()

	require.Equal(t, 1, e.HandshakeCount())
	assert.True(t, e.handshakes[0].HasValidPair())
	assert.Equal(t, 0, w.handshakeCalls, "no save attempt without an SSID")
	assert.Equal(t, uint8(0), e.handshakes[0].SaveAttempts)

	// The beacon finally reveals the SSID
	recon.mu.Lock()
	recon.networks[0].SSID = "revealed"
	recon.mu.Unlock()

	clk.advance(31 * time.Second) // backup save sweep
	e.Update()
	assert.Equal(t, 1, w.handshakeCalls)
	assert.True(t, e.handshakes[0].Saved)
	assert.Equal(t, uint8(1), e.handshakes[0].SaveAttempts)
}

// Save failures: three attempts with backoff, then give up but keep the
// in-memory copy.
func TestEngine_SaveRetriesCapped(t *testing.T) {
	e, recon, w, _, clk := newTestEngine(t)
	seedNetwork(recon, apBSSID, "testnet", 6)
	w.err = errors.New("sd write failed")

	deliverEAPOL(recon, 1, apBSSID, staMAC, nil)
	deliverEAPOL(recon, 2, apBSSID, staMAC, nil)
	e.Update()
	assert.Equal(t, uint8(1), e.handshakes[0].SaveAttempts)
	assert.False(t, e.handshakes[0].Saved)

	for i := 0; i < 4; i++ {
		clk.advance(31 * time.Second)
		e.Update()
	}
	assert.Equal(t, uint8(3), e.handshakes[0].SaveAttempts, "attempts capped at 3")
	assert.True(t, e.handshakes[0].Saved, "given up but retained in memory")
	assert.Equal(t, 1, e.HandshakeCount())
}

// New inserts are rejected once pressure reaches Warning; existing entries
// are untouched.
func TestEngine_PressureGateBlocksInserts(t *testing.T) {
	e, recon, _, probe, _ := newTestEngine(t)
	seedNetwork(recon, apBSSID, "testnet", 6)

	deliverEAPOL(recon, 1, apBSSID, staMAC, nil)
	e.Update()
	require.Equal(t, 1, e.HandshakeCount())

	// Collapse the heap to Warning
	probe.free = 45000
	probe.largest = 40000
	e.gov.Update()
	require.GreaterOrEqual(t, e.gov.Pressure(), heap.PressureWarning)

	other := domain.BSSID{0x01, 0x01, 0x01, 0x01, 0x01, 0x01}
	deliverEAPOL(recon, 1, other, staMAC, nil)
	e.Update()
	assert.Equal(t, 1, e.HandshakeCount(), "insert rejected under pressure")

	// The existing entry still accepts frames
	deliverEAPOL(recon, 2, apBSSID, staMAC, nil)
	e.Update()
	assert.Equal(t, uint8(0b0011), e.handshakes[0].CapturedMask)
}

// Overrunning the 4-slot pending pool by 10x drops the excess without
// corrupting stored exchanges.
func TestEngine_PendingPoolOverrun(t *testing.T) {
	e, recon, _, _, _ := newTestEngine(t)
	seedNetwork(recon, apBSSID, "testnet", 6)

	for i := 0; i < 40; i++ {
		sta := domain.BSSID{0xDD, 0xEE, 0xFF, 0x44, 0x55, byte(i)}
		deliverEAPOL(recon, 1, apBSSID, sta, nil)
	}
	e.Update()

	assert.LessOrEqual(t, e.HandshakeCount(), pendingHandshakeSlots)
	for i := range e.handshakes {
		assert.Equal(t, uint8(0b0001), e.handshakes[i].CapturedMask)
		assert.Equal(t, apBSSID, e.handshakes[i].BSSID)
	}
}

// Two EAPOL bursts on a channel trip the HUNTING camp; the hunt times out
// back to HOPPING with the per-channel cooldown armed.
func TestEngine_HuntingTriggerAndTimeout(t *testing.T) {
	e, recon, _, _, clk := newTestEngine(t)
	seedNetwork(recon, apBSSID, "testnet", 6)
	recon.current = 11
	e.Update() // sync to channel 11

	recon.current = 6
	deliverEAPOL(recon, 1, apBSSID, staMAC, nil)
	deliverEAPOL(recon, 2, apBSSID, staMAC, nil)
	e.Update() // channel changed; stats show 2 EAPOL on ch 6

	assert.Equal(t, StateHunting, e.State())
	assert.True(t, recon.locked)

	clk.advance(9 * time.Second) // past HuntDuration
	e.Update()
	assert.Equal(t, StateHopping, e.State())
	assert.False(t, recon.locked)
}

// A dead full cycle drops into IDLE_SWEEP; any activity exits it.
func TestEngine_IdleSweep(t *testing.T) {
	e, recon, _, _, _ := newTestEngine(t)

	// Walk a full silent cycle ending back at index 0
	for _, ch := range []uint8{11, 2, 3, 4, 5, 7, 8, 9, 10, 12, 13, 1} {
		recon.current = ch
		e.Update()
	}
	assert.Equal(t, StateIdleSweep, e.State())

	// Beacon activity on the next channel wakes it up
	recon.current = 6
	beacon := make([]byte, 36)
	beacon[0] = 0x80
	copy(beacon[16:22], apBSSID[:])
	beacon = append(beacon, 0, 1, 'x')
	recon.deliver(&ports.RxPacket{Payload: beacon, RSSI: -50, Type: ports.PacketMgmt})
	e.Update()
	assert.Equal(t, StateHopping, e.State())
}

// Stop while a channel lock is outstanding releases it and flushes saves.
func TestEngine_StopReleasesLockAndFlushes(t *testing.T) {
	e, recon, w, _, _ := newTestEngine(t)
	seedNetwork(recon, apBSSID, "testnet", 6)

	deliverEAPOL(recon, 1, apBSSID, staMAC, nil)
	deliverEAPOL(recon, 2, apBSSID, staMAC, nil)
	e.Update()
	require.Equal(t, 1, w.handshakeCalls)

	// Force a lock via hunting on a fresh channel
	recon.current = 11
	deliverEAPOL(recon, 3, apBSSID, staMAC, nil)
	deliverEAPOL(recon, 4, apBSSID, staMAC, nil)
	e.Update()
	require.True(t, recon.locked)

	e.Stop()
	assert.False(t, recon.locked, "stop releases any outstanding lock")
	assert.Nil(t, recon.cb)
	assert.Equal(t, 0, e.PMKIDCount())
	assert.Equal(t, 0, e.HandshakeCount())
}

// The busy short-circuit drops packets instead of contending with the drain.
func TestEngine_BusyShortCircuit(t *testing.T) {
	e, recon, _, _, _ := newTestEngine(t)
	seedNetwork(recon, apBSSID, "testnet", 6)

	e.busy.Store(true)
	deliverEAPOL(recon, 1, apBSSID, staMAC, nil)
	e.busy.Store(false)

	e.Update()
	assert.Equal(t, 0, e.HandshakeCount(), "packet during busy window is dropped")
}

// M2+M3 (no M1) is also a valid crackable pair.
func TestEngine_M2M3Pair(t *testing.T) {
	e, recon, w, _, _ := newTestEngine(t)
	seedNetwork(recon, apBSSID, "testnet", 6)

	deliverEAPOL(recon, 2, apBSSID, staMAC, nil)
	e.Update()
	assert.Equal(t, 0, w.handshakeCalls)

	deliverEAPOL(recon, 3, apBSSID, staMAC, nil)
	e.Update()
	require.Equal(t, 1, e.HandshakeCount())
	assert.Equal(t, 1, w.handshakeCalls)
	assert.Equal(t, uint8(domain.MessagePairM2M3), w.lastPair)
}

func TestEngine_ManyPairsIndependent(t *testing.T) {
	e, recon, w, _, _ := newTestEngine(t)

	for i := 0; i < 3; i++ {
		ap := domain.BSSID{0xAA, 0, 0, 0, 0, byte(i)}
		seedNetwork(recon, ap, fmt.Sprintf("net%d", i), 6)
		deliverEAPOL(recon, 1, ap, staMAC, nil)
		deliverEAPOL(recon, 2, ap, staMAC, nil)
		e.Update()
	}
	assert.Equal(t, 3, e.HandshakeCount())
	assert.Equal(t, 3, w.handshakeCalls)
}
