package writer

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/lcalzada-xor/snuffle/internal/core/domain"
)

// radiotapHeader is the minimal 8-byte radiotap prefix: revision, pad,
// length 8 little-endian, empty present flags.
var radiotapHeader = []byte{0x00, 0x00, 0x08, 0x00, 0x00, 0x00, 0x00, 0x00}

// Pcap writes one libpcap file per handshake, radiotap-prefixed, linktype
// IEEE802_11_RADIO. PMKID records have no pcap representation.
type Pcap struct {
	Dir string
}

// NewPcap creates a pcap writer rooted at dir.
func NewPcap(dir string) *Pcap {
	return &Pcap{Dir: dir}
}

func (p *Pcap) EnsureDirectory(path string) error {
	return ensureDir(path)
}

// WritePMKIDRecord is a no-op: the 22000 line is the canonical PMKID form.
func (p *Pcap) WritePMKIDRecord(ssid string, bssid, station domain.BSSID, pmkid [16]byte) error {
	return nil
}

// WriteHandshakeRecords writes the beacon (when present) and every captured
// full frame into SSID_BSSID.pcap.
func (p *Pcap) WriteHandshakeRecords(ssid string, bssid, station domain.BSSID, frames *[4]domain.EAPOLFrame, mask uint8, beacon []byte, messagePair uint8) error {
	if err := ensureDir(p.Dir); err != nil {
		return err
	}
	name := captureBasename(ssid, bssid) + ".pcap"
	path := filepath.Join(p.Dir, name)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	w := pcapgo.NewWriter(f)
	if err := w.WriteFileHeader(65536, layers.LinkTypeIEEE80211Radio); err != nil {
		return fmt.Errorf("pcap header: %w", err)
	}

	writeFrame := func(ts time.Time, frame []byte) error {
		buf := make([]byte, len(radiotapHeader)+len(frame))
		copy(buf, radiotapHeader)
		copy(buf[len(radiotapHeader):], frame)
		ci := gopacket.CaptureInfo{
			Timestamp:     ts,
			CaptureLength: len(buf),
			Length:        len(buf),
		}
		return w.WritePacket(ci, buf)
	}

	wrote := 0
	if len(beacon) > 0 {
		ts := time.Now()
		for i := 0; i < 4; i++ {
			if mask&(1<<i) != 0 && !frames[i].Timestamp.IsZero() {
				ts = frames[i].Timestamp
				break
			}
		}
		if err := writeFrame(ts, beacon); err != nil {
			return err
		}
		wrote++
	}

	for i := 0; i < 4; i++ {
		if mask&(1<<i) == 0 {
			continue
		}
		fr := &frames[i]
		if fr.FullLen == 0 || int(fr.FullLen) > domain.MaxFullFrameLen {
			continue
		}
		if err := writeFrame(fr.Timestamp, fr.Full[:fr.FullLen]); err != nil {
			return err
		}
		wrote++
	}

	if wrote == 0 {
		// Nothing usable: remove the empty shell
		f.Close()
		os.Remove(path)
		return fmt.Errorf("no frames with full-frame data for %s", bssid)
	}
	return nil
}
