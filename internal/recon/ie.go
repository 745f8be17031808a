package recon

import (
	"github.com/lcalzada-xor/snuffle/internal/core/domain"
)

// Information element tags the scanner cares about.
const (
	ieTagSSID   = 0
	ieTagRSN    = 48
	ieTagVendor = 221
)

// BeaconInfo is what the tag walk extracts from a beacon or probe response.
type BeaconInfo struct {
	SSID     string
	Hidden   bool
	Auth     domain.AuthMode
	PMF      bool
	Interval float64 // beacon interval in milliseconds
}

// beaconFixedLen is the 24-byte header plus timestamp(8), interval(2) and
// capability(2) fixed fields.
const beaconFixedLen = 36

// parseBeacon walks the IEs of a beacon/probe-response frame with strict
// bounds. Every length check is against the driver-reported frame length,
// never a string walk.
func parseBeacon(frame []byte) (BeaconInfo, bool) {
	info := BeaconInfo{Auth: domain.AuthOpen, Hidden: true}
	if len(frame) < beaconFixedLen || len(frame) > 2346 {
		return info, false
	}

	// Beacon interval is in time units of 1024us
	intervalTU := uint16(frame[32]) | uint16(frame[33])<<8
	info.Interval = float64(intervalTU) * 1.024

	capability := uint16(frame[34]) | uint16(frame[35])<<8
	privacy := capability&0x0010 != 0

	hasRSN := false
	hasWPA := false

	offset := beaconFixedLen
	for offset+2 <= len(frame) {
		tag := frame[offset]
		length := int(frame[offset+1])
		if offset+2+length > len(frame) {
			break
		}
		body := frame[offset+2 : offset+2+length]

		switch tag {
		case ieTagSSID:
			if length > 0 && length <= 32 {
				// A zeroed SSID element is still a hidden network
				allZero := true
				for _, b := range body {
					if b != 0 {
						allZero = false
						break
					}
				}
				if !allZero {
					info.SSID = string(body)
					info.Hidden = false
				}
			}
		case ieTagRSN:
			if auth, pmf, ok := parseRSN(body); ok {
				hasRSN = true
				info.Auth = auth
				info.PMF = pmf
			}
		case ieTagVendor:
			// Microsoft WPA OUI 00:50:F2 type 1
			if length >= 4 && body[0] == 0x00 && body[1] == 0x50 && body[2] == 0xF2 && body[3] == 0x01 {
				hasWPA = true
			}
		}
		offset += 2 + length
	}

	switch {
	case hasRSN && hasWPA:
		info.Auth = domain.AuthWPAWPA2PSK
	case hasRSN:
		// parseRSN already set it
	case hasWPA:
		info.Auth = domain.AuthWPAPSK
	case privacy:
		info.Auth = domain.AuthWEP
	default:
		info.Auth = domain.AuthOpen
	}
	return info, true
}

// RSN AKM suite types (OUI 00:0F:AC)
const (
	akm8021X    = 1
	akmPSK      = 2
	akmPSK256   = 6
	akmSAE      = 8
	akmFTSAE    = 9
	akm8021X256 = 5
)

// parseRSN extracts the authentication mode and the MFP-required bit from an
// RSN element body.
func parseRSN(data []byte) (auth domain.AuthMode, pmf bool, ok bool) {
	if len(data) < 2 {
		return domain.AuthWPA2PSK, false, false
	}
	offset := 2 // version

	// Group cipher suite
	if offset+4 > len(data) {
		return domain.AuthWPA2PSK, false, true
	}
	offset += 4

	// Pairwise cipher suites
	if offset+2 > len(data) {
		return domain.AuthWPA2PSK, false, true
	}
	count := int(data[offset]) | int(data[offset+1])<<8
	offset += 2 + count*4
	if offset > len(data) {
		return domain.AuthWPA2PSK, false, true
	}

	// AKM suites
	hasPSK, hasSAE, hasEnt := false, false, false
	if offset+2 <= len(data) {
		count = int(data[offset]) | int(data[offset+1])<<8
		offset += 2
		for i := 0; i < count && offset+4 <= len(data); i++ {
			if data[offset] == 0x00 && data[offset+1] == 0x0F && data[offset+2] == 0xAC {
				switch data[offset+3] {
				case akmPSK, akmPSK256:
					hasPSK = true
				case akmSAE, akmFTSAE:
					hasSAE = true
				case akm8021X, akm8021X256:
					hasEnt = true
				}
			}
			offset += 4
		}
	}

	// RSN capabilities: bit 6 is MFP-required, bit 7 MFP-capable
	if offset+2 <= len(data) {
		caps := uint16(data[offset]) | uint16(data[offset+1])<<8
		pmf = caps&0x0040 != 0
	}

	switch {
	case hasSAE && hasPSK:
		auth = domain.AuthWPA2WPA3PSK
	case hasSAE:
		auth = domain.AuthWPA3PSK
	case hasEnt:
		auth = domain.AuthEnterprise
	default:
		auth = domain.AuthWPA2PSK
	}
	return auth, pmf, true
}
