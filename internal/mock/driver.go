package mock

import (
	"context"
	"sync"
	"time"

	"github.com/lcalzada-xor/snuffle/internal/core/domain"
	"github.com/lcalzada-xor/snuffle/internal/core/ports"
)

// Driver is the simulated vendor radio. It emits beacons for the configured
// networks on whatever channel the consumer tunes, reacts to association
// requests with PMKID-bearing M1 frames, and answers deauth bursts with a
// reconnecting four-way exchange. Packet delivery happens on an internal
// goroutine, mirroring the vendor driver's receive task.
type Driver struct {
	mu          sync.Mutex
	cb          ports.PacketCallback
	promiscuous bool
	channel     uint8
	networks    []SimNetwork
	heap        *SimHeap
	churnGain   int

	beaconEvery time.Duration
	cancel      context.CancelFunc
	wg          sync.WaitGroup

	// pending replies triggered by Transmit, delivered on the next tick
	pendingM1    []domain.BSSID
	pendingFour  []domain.BSSID
}

// NewDriver creates a stopped simulated radio.
func NewDriver(heap *SimHeap, networks []SimNetwork) *Driver {
	return &Driver{
		heap:        heap,
		networks:    networks,
		channel:     1,
		churnGain:   1500,
		beaconEvery: 50 * time.Millisecond,
	}
}

// Run starts the delivery goroutine until ctx is cancelled.
func (d *Driver) Run(ctx context.Context) {
	ctx, d.cancel = context.WithCancel(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ticker := time.NewTicker(d.beaconEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				d.tick()
			}
		}
	}()
}

// Stop halts delivery and waits for the task to drain.
func (d *Driver) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()
}

func (d *Driver) tick() {
	d.mu.Lock()
	cb := d.cb
	on := d.promiscuous
	ch := d.channel
	m1s := d.pendingM1
	fours := d.pendingFour
	d.pendingM1 = nil
	d.pendingFour = nil
	nets := d.networks
	d.mu.Unlock()

	if !on || cb == nil {
		return
	}

	// The driver's pools reorganize while packets flow
	if d.heap != nil {
		d.heap.Churn(d.churnGain)
	}

	for i := range nets {
		n := &nets[i]
		if n.Channel != ch {
			continue
		}
		deliver(cb, beaconFrame(n), n.RSSI, ch, ports.PacketMgmt)

		if !isZero(n.Station) {
			deliver(cb, dataFrame(n.BSSID, n.Station), n.RSSI, ch, ports.PacketData)
		}
	}

	for _, bssid := range m1s {
		if n := d.find(bssid); n != nil && n.Channel == ch {
			deliver(cb, eapolFrame(1, n, nil), n.RSSI, ch, ports.PacketData)
		}
	}
	for _, bssid := range fours {
		if n := d.find(bssid); n != nil && n.Channel == ch && !isZero(n.Station) {
			for msg := uint8(1); msg <= 4; msg++ {
				deliver(cb, eapolFrame(msg, n, nil), n.RSSI, ch, ports.PacketData)
			}
		}
	}
}

func (d *Driver) find(bssid domain.BSSID) *SimNetwork {
	for i := range d.networks {
		if d.networks[i].BSSID == bssid {
			return &d.networks[i]
		}
	}
	return nil
}

func deliver(cb ports.PacketCallback, frame []byte, rssi int8, ch uint8, typ ports.PacketType) {
	cb(&ports.RxPacket{Payload: frame, RSSI: rssi, Channel: ch, Type: typ})
}

func isZero(b domain.BSSID) bool { return b == domain.BSSID{} }

// --- ports.RadioDriver ---

func (d *Driver) SetModeSTA() error { return nil }
func (d *Driver) Disconnect() error { return nil }

func (d *Driver) SetChannel(ch uint8) error {
	d.mu.Lock()
	d.channel = ch
	d.mu.Unlock()
	return nil
}

func (d *Driver) SetPromiscuous(enabled bool) error {
	d.mu.Lock()
	d.promiscuous = enabled
	d.mu.Unlock()
	return nil
}

func (d *Driver) SetPromiscuousCallback(cb ports.PacketCallback) {
	d.mu.Lock()
	d.cb = cb
	d.mu.Unlock()
}

func (d *Driver) SetPromiscuousFilter(types []ports.PacketType) {}

// Transmit reacts to injected frames: an association request schedules an
// M1-with-PMKID reply, a deauth schedules the station's reconnect exchange.
func (d *Driver) Transmit(frame []byte) error {
	if len(frame) < 22 {
		return nil
	}
	subtype := frame[0]
	var bssid domain.BSSID
	copy(bssid[:], frame[16:22])

	d.mu.Lock()
	switch subtype {
	case 0x00: // association request
		d.pendingM1 = append(d.pendingM1, bssid)
	case 0xC0, 0xA0: // deauth / disassoc
		d.pendingFour = append(d.pendingFour, bssid)
	}
	d.mu.Unlock()
	return nil
}

func (d *Driver) MAC() domain.BSSID {
	return domain.BSSID{0x02, 0x00, 0x00, 0x5A, 0x1F, 0x01}
}
