package mock

import (
	"github.com/lcalzada-xor/snuffle/internal/core/domain"
)

// beaconFrame renders a minimal beacon for the network: header, fixed
// fields, SSID element and an RSN element matching its auth mode.
func beaconFrame(n *SimNetwork) []byte {
	frame := make([]byte, 36, 96)
	frame[0] = 0x80
	for i := 4; i < 10; i++ {
		frame[i] = 0xFF
	}
	copy(frame[10:16], n.BSSID[:])
	copy(frame[16:22], n.BSSID[:])
	frame[32] = 0x64 // 100 TU beacon interval
	frame[34] = 0x01 // ESS
	if n.Auth != domain.AuthOpen {
		frame[34] |= 0x10 // privacy
	}

	frame = append(frame, 0x00, byte(len(n.SSID)))
	frame = append(frame, n.SSID...)

	if n.Auth >= domain.AuthWPA2PSK {
		akm := byte(2) // PSK
		if n.Auth == domain.AuthWPA3PSK {
			akm = 8 // SAE
		}
		var caps uint16
		if n.PMF {
			caps = 0x00C0
		}
		rsn := []byte{
			0x01, 0x00,
			0x00, 0x0F, 0xAC, 0x04,
			0x01, 0x00,
			0x00, 0x0F, 0xAC, 0x04,
			0x01, 0x00,
			0x00, 0x0F, 0xAC, akm,
			byte(caps), byte(caps >> 8),
		}
		frame = append(frame, 48, byte(len(rsn)))
		frame = append(frame, rsn...)
	}
	return frame
}

// dataFrame is a plain station->AP data frame used for client discovery.
func dataFrame(ap, station domain.BSSID) []byte {
	frame := make([]byte, 32)
	frame[0] = 0x08
	frame[1] = 0x01 // ToDS
	copy(frame[4:10], ap[:])
	copy(frame[10:16], station[:])
	return frame
}

// eapolFrame renders one message of the four-way exchange. An M1 carries
// the network's PMKID KDE when configured.
func eapolFrame(msg uint8, n *SimNetwork, station *domain.BSSID) []byte {
	sta := n.Station
	if station != nil {
		sta = *station
	}

	fromAP := msg == 1 || msg == 3
	frame := make([]byte, 24, 160)
	frame[0] = 0x08
	if fromAP {
		frame[1] = 0x02
		copy(frame[4:10], sta[:])
		copy(frame[10:16], n.BSSID[:])
	} else {
		frame[1] = 0x01
		copy(frame[4:10], n.BSSID[:])
		copy(frame[10:16], sta[:])
	}
	frame = append(frame, 0xAA, 0xAA, 0x03, 0x00, 0x00, 0x00, 0x88, 0x8E)

	withPMKID := msg == 1 && n.PMKID != [16]byte{}
	keyDataLen := 0
	if withPMKID {
		keyDataLen = 22
	}
	eapol := make([]byte, 99+keyDataLen)
	eapol[0] = 0x02
	eapol[1] = 0x03
	bodyLen := len(eapol) - 4
	eapol[2] = byte(bodyLen >> 8)
	eapol[3] = byte(bodyLen)
	eapol[4] = 0x02

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

	for i := 17; i < 49; i++ {
		eapol[i] = 0xA0 + msg
	}
	if msg != 1 {
		for i := 81; i < 97; i++ {
			eapol[i] = 0xC0 + msg
		}
	}
	if withPMKID {
		eapol[97] = 0
		eapol[98] = 22
		copy(eapol[99:], []byte{0xDD, 0x14, 0x00, 0x0F, 0xAC, 0x04})
		copy(eapol[105:], n.PMKID[:])
	}
	return append(frame, eapol...)
}
