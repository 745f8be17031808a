// Package writer renders completed captures into the two canonical output
// formats: hashcat 22000 line records and libpcap files with a minimal
// radiotap prefix. The engines depend only on ports.CaptureWriter and carry
// no format knowledge.
package writer

import (
	"fmt"
	"os"
	"strings"

	"github.com/lcalzada-xor/snuffle/internal/core/domain"
	"github.com/lcalzada-xor/snuffle/internal/core/ports"
)

// sanitizeFilename maps anything outside [A-Za-z0-9_-] to underscores.
func sanitizeFilename(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, c := range s {
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '-' || c == '_' {
			b.WriteRune(c)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

// captureBasename builds SSID_BSSID from sanitized parts.
func captureBasename(ssid string, bssid domain.BSSID) string {
	return fmt.Sprintf("%s_%s", sanitizeFilename(ssid), bssid.Hex())
}

func ensureDir(path string) error {
	if err := os.MkdirAll(path, 0755); err != nil {
		return fmt.Errorf("create capture dir %s: %w", path, err)
	}
	return nil
}

// Multi fans a capture out to several writers; the first error wins but all
// writers are attempted.
type Multi struct {
	Writers []ports.CaptureWriter
}

// NewMulti combines writers into one sink.
func NewMulti(writers ...ports.CaptureWriter) *Multi {
	return &Multi{Writers: writers}
}

func (m *Multi) EnsureDirectory(path string) error {
	var first error
	for _, w := range m.Writers {
		if err := w.EnsureDirectory(path); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m *Multi) WritePMKIDRecord(ssid string, bssid, station domain.BSSID, pmkid [16]byte) error {
	var first error
	for _, w := range m.Writers {
		if err := w.WritePMKIDRecord(ssid, bssid, station, pmkid); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m *Multi) WriteHandshakeRecords(ssid string, bssid, station domain.BSSID, frames *[4]domain.EAPOLFrame, mask uint8, beacon []byte, messagePair uint8) error {
	var first error
	for _, w := range m.Writers {
		if err := w.WriteHandshakeRecords(ssid, bssid, station, frames, mask, beacon, messagePair); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Noop discards everything; used by tests and as the absent-SD fallback.
type Noop struct{}

func (Noop) EnsureDirectory(string) error { return nil }
func (Noop) WritePMKIDRecord(string, domain.BSSID, domain.BSSID, [16]byte) error {
	return nil
}
func (Noop) WriteHandshakeRecords(string, domain.BSSID, domain.BSSID, *[4]domain.EAPOLFrame, uint8, []byte, uint8) error {
	return nil
}
