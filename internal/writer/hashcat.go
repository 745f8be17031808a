package writer

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/lcalzada-xor/snuffle/internal/core/domain"
)

// Hashcat writes 22000-format line records: WPA*01 for PMKIDs, WPA*02 for
// handshakes.
type Hashcat struct {
	Dir string
}

// NewHashcat creates a hashcat-format writer rooted at dir.
func NewHashcat(dir string) *Hashcat {
	return &Hashcat{Dir: dir}
}

func (h *Hashcat) EnsureDirectory(path string) error {
	return ensureDir(path)
}

func macHex(b domain.BSSID) string {
	return hex.EncodeToString(b[:])
}

// WritePMKIDRecord appends a WPA*01 record:
// WPA*01*PMKID*MAC_AP*MAC_CLIENT*ESSID***01
func (h *Hashcat) WritePMKIDRecord(ssid string, bssid, station domain.BSSID, pmkid [16]byte) error {
	if err := ensureDir(h.Dir); err != nil {
		return err
	}
	name := captureBasename(ssid, bssid) + ".22000"
	path := filepath.Join(h.Dir, name)

	essid := ssid
	if len(essid) > 32 {
		essid = essid[:32]
	}

	line := fmt.Sprintf("WPA*01*%s*%s*%s*%s***01\n",
		hex.EncodeToString(pmkid[:]),
		macHex(bssid),
		macHex(station),
		hex.EncodeToString([]byte(essid)))

	return appendLine(path, line)
}

// WriteHandshakeRecords appends a WPA*02 record:
// WPA*02*MIC*MAC_AP*MAC_CLIENT*ESSID*ANONCE*EAPOL*MESSAGEPAIR
// The MIC comes from M2; the ANonce from M1 (pair 0x00) or M3 (pair 0x02);
// the EAPOL blob is M2 with its MIC field zeroed.
func (h *Hashcat) WriteHandshakeRecords(ssid string, bssid, station domain.BSSID, frames *[4]domain.EAPOLFrame, mask uint8, beacon []byte, messagePair uint8) error {
	nonceFrame, eapolFrame, err := pickFrames(frames, messagePair)
	if err != nil {
		return err
	}
	if err := ensureDir(h.Dir); err != nil {
		return err
	}
	name := captureBasename(ssid, bssid) + "_hs.22000"
	path := filepath.Join(h.Dir, name)

	// MIC lives at offset 81, 16 bytes, in M2
	mic := eapolFrame.Data[81:97]

	// ANonce at offset 17, 32 bytes
	anonce := nonceFrame.Data[17:49]

	// EAPOL length from the header, capped by what we stored
	eapolLen := int(eapolFrame.Data[2])<<8 | int(eapolFrame.Data[3])
	eapolLen += 4
	if eapolLen > int(eapolFrame.Len) {
		eapolLen = int(eapolFrame.Len)
	}
	eapolCopy := make([]byte, eapolLen)
	copy(eapolCopy, eapolFrame.Data[:eapolLen])
	for i := 81; i < 97 && i < len(eapolCopy); i++ {
		eapolCopy[i] = 0
	}

	essid := ssid
	if len(essid) > 32 {
		essid = essid[:32]
	}

	line := fmt.Sprintf("WPA*02*%s*%s*%s*%s*%s*%s*%02x\n",
		hex.EncodeToString(mic),
		macHex(bssid),
		macHex(station),
		hex.EncodeToString([]byte(essid)),
		hex.EncodeToString(anonce),
		hex.EncodeToString(eapolCopy),
		messagePair)

	return appendLine(path, line)
}

// pickFrames selects the nonce-bearing frame and the MIC-bearing M2 for the
// given message pair, validating minimum lengths.
func pickFrames(frames *[4]domain.EAPOLFrame, messagePair uint8) (nonce, eapol *domain.EAPOLFrame, err error) {
	switch messagePair {
	case domain.MessagePairM1M2:
		nonce, eapol = &frames[0], &frames[1]
	case domain.MessagePairM2M3:
		nonce, eapol = &frames[2], &frames[1]
	default:
		return nil, nil, fmt.Errorf("no valid message pair (code %#02x)", messagePair)
	}
	if nonce.Len < 51 {
		return nil, nil, fmt.Errorf("nonce frame too short: %d", nonce.Len)
	}
	if eapol.Len < 97 {
		return nil, nil, fmt.Errorf("eapol frame too short: %d", eapol.Len)
	}
	return nonce, eapol, nil
}

func appendLine(path, line string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
