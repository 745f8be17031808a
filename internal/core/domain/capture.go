package domain

import "time"

// Size caps for stored frames. The EAPOL payload feeds the hashcat 22000
// export, the full radio frame feeds the pcap export.
const (
	MaxEAPOLLen     = 512
	MaxFullFrameLen = 300
)

// Message pair codes emitted in hashcat 22000 records.
const (
	MessagePairM1M2    = 0x00
	MessagePairM2M3    = 0x02
	MessagePairInvalid = 0xFF
)

// EAPOLFrame is one stored message of the four-way exchange.
type EAPOLFrame struct {
	Data    [MaxEAPOLLen]byte // EAPOL payload, starts at the version byte
	Len     uint16
	Full    [MaxFullFrameLen]byte // full 802.11 frame for pcap export
	FullLen uint16

	MessageNum uint8 // 1..4
	RSSI       int8
	Timestamp  time.Time
}

// CapturedHandshake is an in-progress or completed four-message key exchange
// for one (BSSID, station) pair. Slot i of Frames is populated iff bit i of
// CapturedMask is set.
type CapturedHandshake struct {
	BSSID   BSSID
	Station BSSID
	SSID    string // backfilled lazily from beacons

	Frames       [4]EAPOLFrame
	CapturedMask uint8

	// Beacon is an optional frame blob attached for pcap export. Released
	// once the handshake is saved.
	Beacon []byte

	FirstSeen time.Time
	LastSeen  time.Time

	Saved        bool
	SaveAttempts uint8
}

// HasValidPair reports whether the mask holds a crackable combination:
// M1+M2 or M2+M3 with non-zero frame lengths.
func (h *CapturedHandshake) HasValidPair() bool {
	if h.CapturedMask&0b0011 == 0b0011 && h.Frames[0].Len > 0 && h.Frames[1].Len > 0 {
		return true
	}
	if h.CapturedMask&0b0110 == 0b0110 && h.Frames[1].Len > 0 && h.Frames[2].Len > 0 {
		return true
	}
	return false
}

// MessagePair returns the hashcat message-pair code for the best available
// combination, or MessagePairInvalid when no valid pair exists. M1+M2 is
// preferred: the ANonce comes straight from the authenticator.
func (h *CapturedHandshake) MessagePair() uint8 {
	if h.CapturedMask&0b0011 == 0b0011 && h.Frames[0].Len > 0 && h.Frames[1].Len > 0 {
		return MessagePairM1M2
	}
	if h.CapturedMask&0b0110 == 0b0110 && h.Frames[1].Len > 0 && h.Frames[2].Len > 0 {
		return MessagePairM2M3
	}
	return MessagePairInvalid
}

// HasBeacon reports whether a beacon blob is attached.
func (h *CapturedHandshake) HasBeacon() bool {
	return len(h.Beacon) > 0
}

// ReleaseBeacon drops the beacon blob once it is no longer needed.
func (h *CapturedHandshake) ReleaseBeacon() {
	h.Beacon = nil
}

// CapturedPMKID is a one-shot key identifier extracted from an M1 frame,
// keyed by BSSID; the station is informational.
type CapturedPMKID struct {
	BSSID   BSSID
	Station BSSID
	PMKID   [16]byte
	SSID    string

	Timestamp    time.Time
	Saved        bool
	SaveAttempts uint8
}

// IsZero reports an all-zero PMKID, which is invalid-but-terminal: it is
// marked saved without ever being written.
func (p *CapturedPMKID) IsZero() bool {
	for _, b := range p.PMKID {
		if b != 0 {
			return false
		}
	}
	return true
}

// IncompleteHandshake tracks a partial capture by mask, feeding the
// hunt-scheduling heuristic.
type IncompleteHandshake struct {
	BSSID        BSSID
	CapturedMask uint8
	Channel      uint8
	LastSeen     time.Time
}

// CaptureEventKind labels events published to the diagnostics stream.
type CaptureEventKind string

const (
	EventNetworkFound      CaptureEventKind = "network"
	EventHandshakeCaptured CaptureEventKind = "handshake"
	EventPMKIDCaptured     CaptureEventKind = "pmkid"
	EventAttackStarted     CaptureEventKind = "attack"
	EventBored             CaptureEventKind = "bored"
)

// CaptureEvent is the payload pushed over the websocket hub and recorded in
// the capture catalog.
type CaptureEvent struct {
	Kind      CaptureEventKind `json:"kind"`
	SSID      string           `json:"ssid,omitempty"`
	BSSID     string           `json:"bssid,omitempty"`
	Station   string           `json:"station,omitempty"`
	Channel   uint8            `json:"channel,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}
