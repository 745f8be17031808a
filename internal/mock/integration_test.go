package mock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lcalzada-xor/snuffle/internal/capture"
	"github.com/lcalzada-xor/snuffle/internal/config"
	"github.com/lcalzada-xor/snuffle/internal/core/domain"
	"github.com/lcalzada-xor/snuffle/internal/heap"
	"github.com/lcalzada-xor/snuffle/internal/recon"
)

type countingWriter struct {
	handshakes int
	pmkids     int
}

func (w *countingWriter) EnsureDirectory(string) error { return nil }
func (w *countingWriter) WritePMKIDRecord(ssid string, bssid, station domain.BSSID, pmkid [16]byte) error {
	w.pmkids++
	return nil
}
func (w *countingWriter) WriteHandshakeRecords(ssid string, bssid, station domain.BSSID, frames *[4]domain.EAPOLFrame, mask uint8, beacon []byte, messagePair uint8) error {
	w.handshakes++
	return nil
}

func simNetworks() []SimNetwork {
	return []SimNetwork{
		{
			BSSID:   domain.BSSID{0xAA, 0xBB, 0xCC, 0x11, 0x22, 0x33},
			SSID:    "simnet",
			Channel: 1,
			RSSI:    -48,
			Auth:    domain.AuthWPA2PSK,
			Station: domain.BSSID{0xDD, 0xEE, 0xFF, 0x44, 0x55, 0x66},
		},
		{
			BSSID:   domain.BSSID{0x11, 0x22, 0x33, 0xAA, 0xBB, 0xCC},
			SSID:    "wpa3sim",
			Channel: 6,
			RSSI:    -60,
			Auth:    domain.AuthWPA3PSK,
			PMF:     true,
		},
	}
}

// Synthetic traffic flows through the real scanner and capture engine.
func TestSimPipeline_DiscoversNetworks(t *testing.T) {
	simHeap := NewSimHeap(150000, 120000)
	driver := NewDriver(simHeap, simNetworks())
	pol := config.DefaultPolicy()
	gov := heap.NewGovernor(simHeap, pol)
	sc := recon.NewScanner(driver, gov, pol, 60*time.Millisecond)

	require.NoError(t, sc.Start())
	defer sc.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	driver.Run(ctx)
	defer driver.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && sc.NetworkCount() < 2 {
		sc.Tick()
		time.Sleep(10 * time.Millisecond)
	}
	require.Equal(t, 2, sc.NetworkCount())

	idx := sc.FindNetworkIndex(domain.BSSID{0x11, 0x22, 0x33, 0xAA, 0xBB, 0xCC})
	require.GreaterOrEqual(t, idx, 0)
	sc.EnterCritical()
	n := sc.NetworksLocked()[idx]
	sc.ExitCritical()
	assert.Equal(t, domain.AuthWPA3PSK, n.Auth)
	assert.True(t, n.PMF, "RSN capabilities survive the sim round-trip")
	assert.Greater(t, sc.PacketCount(), uint64(0))
}

// A deauth transmitted at the sim AP provokes the station's reconnect
// exchange, which the capture engine turns into a saved handshake.
func TestSimPipeline_CapturesReconnectHandshake(t *testing.T) {
	simHeap := NewSimHeap(150000, 120000)
	nets := simNetworks()
	driver := NewDriver(simHeap, nets)
	pol := config.DefaultPolicy()
	gov := heap.NewGovernor(simHeap, pol)
	sc := recon.NewScanner(driver, gov, pol, time.Hour) // no hopping; locked below

	require.NoError(t, sc.Start())
	defer sc.Stop()

	w := &countingWriter{}
	eng := capture.NewEngine(sc, gov, w, pol)
	require.NoError(t, eng.Start())
	defer eng.Stop()

	sc.LockChannel(1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	driver.Run(ctx)
	defer driver.Stop()

	// Let the beacon register, then kick the client off
	time.Sleep(150 * time.Millisecond)
	eng.Update()

	deauth := make([]byte, 26)
	deauth[0] = 0xC0
	copy(deauth[16:22], nets[0].BSSID[:])
	require.NoError(t, driver.Transmit(deauth))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && w.handshakes == 0 {
		eng.Update()
		time.Sleep(20 * time.Millisecond)
	}
	assert.Equal(t, 1, w.handshakes, "reconnect exchange captured and saved once")
	assert.Equal(t, 1, eng.HandshakeCount())
}
