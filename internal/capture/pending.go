package capture

import (
	"github.com/lcalzada-xor/snuffle/internal/core/domain"
)

// Deferral buffer sizing. Slots are fixed at engine start; the callback
// drops packets rather than growing anything.
const (
	pendingHandshakeSlots  = 4
	pendingPMKIDSlots      = 4
	pendingIncompleteSlots = 8
)

// pairKey identifies one (BSSID, station) exchange.
type pairKey struct {
	bssid   domain.BSSID
	station domain.BSSID
}

// pendingFrame is one queued message copied in callback context.
type pendingFrame struct {
	Data    [domain.MaxEAPOLLen]byte
	Len     uint16
	Full    [domain.MaxFullFrameLen]byte
	FullLen uint16
	RSSI    int8
}

// pendingHandshake batches frames for one exchange until the main-thread
// drain copies them into the durable collection. Roughly 3.3 KB per slot.
type pendingHandshake struct {
	BSSID   domain.BSSID
	Station domain.BSSID
	Frames  [4]pendingFrame
	Mask    uint8
	Channel uint8
}

// pendingPMKID is a queued M1 PMKID awaiting SSID resolution.
type pendingPMKID struct {
	BSSID   domain.BSSID
	Station domain.BSSID
	PMKID   [16]byte
	SSID    [32]byte
	SSIDLen uint8
	Channel uint8
}

func (p *pendingPMKID) ssidString() string {
	return string(p.SSID[:p.SSIDLen])
}

// pendingBeacon is the single-slot beacon blob store, matched to in-progress
// handshakes by the drain.
type pendingBeacon struct {
	BSSID domain.BSSID
	Data  [512]byte
	Len   uint16
}
