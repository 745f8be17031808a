package capture

import (
	"github.com/lcalzada-xor/snuffle/internal/core/domain"
)

// llcSnapEAPOL is the eight-byte prefix preceding EAPOL in a data frame.
var llcSnapEAPOL = [8]byte{0xAA, 0xAA, 0x03, 0x00, 0x00, 0x00, 0x88, 0x8E}

// pmkidKDEPrefix identifies the PMKID KDE inside the M1 key data region.
var pmkidKDEPrefix = [6]byte{0xDD, 0x14, 0x00, 0x0F, 0xAC, 0x04}

// eapolKeyMinLen is the minimum EAPOL-Key payload for a 4-way message.
const eapolKeyMinLen = 99

// parsedEAPOL is the outcome of dissecting a data frame. All slices alias
// the driver's buffer and are only valid inside the callback.
type parsedEAPOL struct {
	BSSID      domain.BSSID
	Station    domain.BSSID
	MessageNum uint8
	EAPOL      []byte // payload starting at the version byte
	PMKID      []byte // 16 bytes when an M1 carried a PMKID KDE, else nil
	PMKIDZero  bool   // an all-zero PMKID was present (invalid-terminal)
}

// dissectDataFrame walks an 802.11 data frame to the EAPOL-Key payload and
// classifies the message. Bounds are in terms of the driver-reported length.
// Returns false for anything that is not a usable key message.
func dissectDataFrame(frame []byte) (parsedEAPOL, bool) {
	var out parsedEAPOL

	if len(frame) < 24 || len(frame) > 2346 {
		return out, false
	}

	toDS := frame[1]&0x01 != 0
	fromDS := frame[1]&0x02 != 0

	if toDS && fromDS {
		// WDS frames carry four addresses; not a station exchange
		return out, false
	}
	dst, src := frame[4:10], frame[10:16]

	// Header length: QoS adds 2, QoS+Order (+HTC) adds 4 more
	offset := 24
	subtype := (frame[0] >> 4) & 0x0F
	isQoS := subtype&0x08 != 0
	if isQoS {
		offset += 2
		if frame[1]&0x80 != 0 {
			offset += 4
		}
	}

	if offset+8 > len(frame) {
		return out, false
	}
	for i := 0; i < 8; i++ {
		if frame[offset+i] != llcSnapEAPOL[i] {
			return out, false
		}
	}

	eapol := frame[offset+8:]
	if len(eapol) < 4 {
		return out, false
	}
	if eapol[1] != 0x03 { // EAPOL-Key only
		return out, false
	}
	if len(eapol) < eapolKeyMinLen {
		return out, false
	}

	keyInfo := uint16(eapol[5])<<8 | uint16(eapol[6])
	install := keyInfo>>6&1 != 0
	keyAck := keyInfo>>7&1 != 0
	keyMIC := keyInfo>>8&1 != 0
	secure := keyInfo>>9&1 != 0

	var msg uint8
	switch {
	case keyAck && !keyMIC:
		msg = 1
	case !keyAck && keyMIC && !secure:
		msg = 2
	case keyAck && keyMIC && install:
		msg = 3
	case !keyAck && keyMIC && secure:
		msg = 4
	default:
		return out, false
	}

	// M1/M3 travel AP->station, M2/M4 station->AP
	if msg == 1 || msg == 3 {
		copy(out.BSSID[:], src)
		copy(out.Station[:], dst)
	} else {
		copy(out.BSSID[:], dst)
		copy(out.Station[:], src)
	}
	out.MessageNum = msg
	out.EAPOL = eapol

	if msg == 1 {
		out.PMKID, out.PMKIDZero = extractPMKID(eapol)
	}
	return out, true
}

// extractPMKID scans the M1 key data region for the PMKID KDE. Descriptor
// type 0x02 (RSN) only; all-zero PMKIDs are reported as invalid-terminal.
func extractPMKID(eapol []byte) (pmkid []byte, zero bool) {
	if eapol[4] != 0x02 || len(eapol) < 121 {
		return nil, false
	}
	keyDataLen := int(eapol[97])<<8 | int(eapol[98])
	if keyDataLen < 22 || len(eapol) < eapolKeyMinLen+keyDataLen {
		return nil, false
	}
	keyData := eapol[eapolKeyMinLen : eapolKeyMinLen+keyDataLen]

	for i := 0; i+22 <= len(keyData); i++ {
		match := true
		for j := 0; j < 6; j++ {
			if keyData[i+j] != pmkidKDEPrefix[j] {
				match = false
				break
			}
		}
		if !match {
			continue
		}
		candidate := keyData[i+6 : i+22]
		allZero := true
		for _, b := range candidate {
			if b != 0 {
				allZero = false
				break
			}
		}
		if allZero {
			return nil, true
		}
		return candidate, false
	}
	return nil, false
}
