package capture

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lcalzada-xor/snuffle/internal/config"
	"github.com/lcalzada-xor/snuffle/internal/core/domain"
	"github.com/lcalzada-xor/snuffle/internal/core/ports"
	"github.com/lcalzada-xor/snuffle/internal/heap"
)

var (
	apBSSID  = domain.BSSID{0xAA, 0xBB, 0xCC, 0x11, 0x22, 0x33}
	staMAC   = domain.BSSID{0xDD, 0xEE, 0xFF, 0x44, 0x55, 0x66}
	pmkidAP  = domain.BSSID{0x11, 0x22, 0x33, 0xAA, 0xBB, 0xCC}
)

// fakeRecon is a scripted ports.NetworkRecon.
type fakeRecon struct {
	mu       sync.Mutex
	networks []domain.DetectedNetwork

	running    bool
	pauses     int
	resumes    int
	cb         ports.PacketCallback
	newNetCB   ports.NewNetworkFunc
	locked     bool
	current    uint8
	protected  domain.BSSID
	hopMs      uint32
}

func newFakeRecon() *fakeRecon {
	return &fakeRecon{running: true, current: 6, hopMs: 300}
}

func (f *fakeRecon) IsRunning() bool { return f.running }
func (f *fakeRecon) Pause()          { f.running = false; f.pauses++ }
func (f *fakeRecon) Resume()         { f.running = true; f.resumes++ }

func (f *fakeRecon) SetPacketCallback(cb ports.PacketCallback)    { f.cb = cb }
func (f *fakeRecon) SetNewNetworkCallback(cb ports.NewNetworkFunc) { f.newNetCB = cb }

func (f *fakeRecon) SetProtected(b domain.BSSID) { f.protected = b }
func (f *fakeRecon) ClearProtected()             { f.protected = domain.BSSID{} }

func (f *fakeRecon) LockChannel(ch uint8) { f.locked = true; f.current = ch }
func (f *fakeRecon) UnlockChannel()       { f.locked = false }
func (f *fakeRecon) IsChannelLocked() bool { return f.locked }
func (f *fakeRecon) CurrentChannel() uint8 { return f.current }
func (f *fakeRecon) HopIntervalMs() uint32 { return f.hopMs }
func (f *fakeRecon) SetHopInterval(d time.Duration) {
	f.hopMs = uint32(d / time.Millisecond)
}

func (f *fakeRecon) EnterCritical() { f.mu.Lock() }
func (f *fakeRecon) ExitCritical()  { f.mu.Unlock() }
func (f *fakeRecon) NetworksLocked() []domain.DetectedNetwork { return f.networks }

func (f *fakeRecon) FindNetworkIndex(bssid domain.BSSID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.networks {
		if f.networks[i].BSSID == bssid {
			return i
		}
	}
	return -1
}

func (f *fakeRecon) NetworkCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.networks)
}

func (f *fakeRecon) EstimateClientCount(n *domain.DetectedNetwork) int { return 0 }

func (f *fakeRecon) InjectTestNetwork(bssid domain.BSSID, ssid string, channel uint8, rssi int8, auth domain.AuthMode, pmf bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.networks = append(f.networks, domain.DetectedNetwork{
		BSSID: bssid, SSID: ssid, Channel: channel, RSSI: rssi, Auth: auth, PMF: pmf,
	})
}

func (f *fakeRecon) deliver(pkt *ports.RxPacket) {
	if f.cb != nil {
		f.cb(pkt)
	}
}

// recordingWriter captures sink invocations.
type recordingWriter struct {
	pmkidCalls     int
	handshakeCalls int
	lastPair       uint8
	lastSSID       string
	lastBSSID      domain.BSSID
	err            error
}

func (w *recordingWriter) EnsureDirectory(string) error { return nil }
func (w *recordingWriter) WritePMKIDRecord(ssid string, bssid, station domain.BSSID, pmkid [16]byte) error {
	if w.err != nil {
		return w.err
	}
	w.pmkidCalls++
	w.lastSSID = ssid
	w.lastBSSID = bssid
	return nil
}
func (w *recordingWriter) WriteHandshakeRecords(ssid string, bssid, station domain.BSSID, frames *[4]domain.EAPOLFrame, mask uint8, beacon []byte, messagePair uint8) error {
	if w.err != nil {
		return w.err
	}
	w.handshakeCalls++
	w.lastPair = messagePair
	w.lastSSID = ssid
	w.lastBSSID = bssid
	return nil
}

type testProbe struct {
	free    int
	largest int
}

func (p *testProbe) FreeBytes() int        { return p.free }
func (p *testProbe) LargestFreeBlock() int { return p.largest }

type testClock struct{ t time.Time }

func newTestClock() *testClock {
	return &testClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}
func (c *testClock) now() time.Time          { return c.t }
func (c *testClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestEngine(t *testing.T) (*Engine, *fakeRecon, *recordingWriter, *testProbe, *testClock) {
	t.Helper()
	recon := newFakeRecon()
	probe := &testProbe{free: 150000, largest: 120000}
	pol := config.DefaultPolicy()
	gov := heap.NewGovernor(probe, pol)
	w := &recordingWriter{}
	e := NewEngine(recon, gov, w, pol)
	clk := newTestClock()
	e.SetClock(clk.now)
	require.NoError(t, e.Start())
	return e, recon, w, probe, clk
}

// buildEAPOLFrame assembles an 802.11 data frame carrying the given key
// message. pmkid, when non-nil, is embedded as an M1 KDE.
func buildEAPOLFrame(msg uint8, ap, sta domain.BSSID, pmkid []byte) []byte {
	fromAP := msg == 1 || msg == 3

	frame := make([]byte, 24)
	frame[0] = 0x08 // data frame
	if fromAP {
		frame[1] = 0x02 // FromDS
		copy(frame[4:10], sta[:])
		copy(frame[10:16], ap[:])
	} else {
		frame[1] = 0x01 // ToDS
		copy(frame[4:10], ap[:])
		copy(frame[10:16], sta[:])
	}

	frame = append(frame, 0xAA, 0xAA, 0x03, 0x00, 0x00, 0x00, 0x88, 0x8E)

	keyDataLen := 0
	if pmkid != nil {
		keyDataLen = 22
	}
	eapol := make([]byte, 99+keyDataLen)
	eapol[0] = 0x02
	eapol[1] = 0x03 // Key
	bodyLen := len(eapol) - 4
	eapol[2] = byte(bodyLen >> 8)
	eapol[3] = byte(bodyLen)
	eapol[4] = 0x02 // RSN descriptor

	var keyInfo uint16
	switch msg {
	case 1:
		keyInfo = 0x008A
	case 2:
		keyInfo = 0x010A
	case 3:
		keyInfo = 0x01CA
	case 4:
		keyInfo = 0x030A
	}
	eapol[5] = byte(keyInfo >> 8)
	eapol[6] = byte(keyInfo)

	// Nonce region marker, distinct per message
	for i := 17; i < 49; i++ {
		eapol[i] = 0xA0 + msg
	}
	// MIC region marker
	for i := 81; i < 97; i++ {
		eapol[i] = 0xC0 + msg
	}

	if pmkid != nil {
		eapol[97] = 0
		eapol[98] = 22
		kde := []byte{0xDD, 0x14, 0x00, 0x0F, 0xAC, 0x04}
		copy(eapol[99:], kde)
		copy(eapol[105:], pmkid)
	}
	return append(frame, eapol...)
}
