package capture

import (
	"context"
	"log"
	"time"

	"github.com/lcalzada-xor/snuffle/internal/core/domain"
	"github.com/lcalzada-xor/snuffle/internal/core/ports"
	"github.com/lcalzada-xor/snuffle/internal/telemetry"
)

// saveWithScannerPaused brackets SD writes with a scanner pause so the radio
// driver and the writer never contend on the shared SPI bus.
func (e *Engine) saveWithScannerPaused(fn func()) {
	pausedByUs := false
	if e.recon.IsRunning() {
		e.recon.Pause()
		pausedByUs = true
		time.Sleep(5 * time.Millisecond) // let the bus settle
	}
	fn()
	if pausedByUs {
		e.recon.Resume()
	}
}

// saveAllPMKIDs walks the collection and writes every eligible entry.
// Attempts are capped with backoff; an entry with no SSID is skipped without
// counting an attempt (the expected race with beacon arrival); an all-zero
// PMKID is terminal and never written.
func (e *Engine) saveAllPMKIDs() {
	now := e.now()
	for i := range e.pmkids {
		p := &e.pmkids[i]
		if p.Saved || int(p.SaveAttempts) >= e.pol.MaxSaveAttempts {
			continue
		}
		if now.Sub(p.Timestamp) < e.pol.SaveBackoffs[p.SaveAttempts] {
			continue
		}

		if p.SSID == "" {
			p.SSID = e.lookupSSID(p.BSSID)
		}
		if p.SSID == "" {
			continue
		}

		if p.IsZero() {
			p.Saved = true
			continue
		}

		p.SaveAttempts++
		if err := e.sink.WritePMKIDRecord(p.SSID, p.BSSID, p.Station, p.PMKID); err != nil {
			log.Printf("[CAPTURE] PMKID save failed (%d/%d): %v",
				p.SaveAttempts, e.pol.MaxSaveAttempts, err)
			if int(p.SaveAttempts) >= e.pol.MaxSaveAttempts {
				p.Saved = true // give up; keep the in-memory copy
			}
			continue
		}

		p.Saved = true
		telemetry.CapturesSaved.WithLabelValues("pmkid").Inc()
		log.Printf("[CAPTURE] PMKID saved: %s (%s)", p.SSID, p.BSSID)
		e.recordCatalog("pmkid", p.SSID, p.BSSID.Hex(), p.Station.Hex(), 0, 0)
	}
}

// saveAllHandshakes writes every valid-pair handshake that has not been
// saved yet, with the same attempt/backoff discipline.
func (e *Engine) saveAllHandshakes() {
	now := e.now()
	for i := range e.handshakes {
		hs := &e.handshakes[i]
		if hs.Saved || !hs.HasValidPair() || int(hs.SaveAttempts) >= e.pol.MaxSaveAttempts {
			continue
		}
		if now.Sub(hs.LastSeen) < e.pol.SaveBackoffs[hs.SaveAttempts] {
			continue
		}

		if hs.SSID == "" {
			hs.SSID = e.lookupSSID(hs.BSSID)
		}
		if hs.SSID == "" {
			continue
		}

		pair := hs.MessagePair()
		if pair == domain.MessagePairInvalid {
			continue
		}

		// Frame length validation: malformed data never counts as an attempt
		var nonceLen, eapolLen uint16
		if pair == domain.MessagePairM1M2 {
			nonceLen, eapolLen = hs.Frames[0].Len, hs.Frames[1].Len
		} else {
			nonceLen, eapolLen = hs.Frames[2].Len, hs.Frames[1].Len
		}
		if nonceLen < 51 || eapolLen < 97 {
			continue
		}

		hs.SaveAttempts++
		err := e.sink.WriteHandshakeRecords(hs.SSID, hs.BSSID, hs.Station,
			&hs.Frames, hs.CapturedMask, hs.Beacon, pair)
		if err != nil {
			log.Printf("[CAPTURE] Handshake save failed (%d/%d): %v",
				hs.SaveAttempts, e.pol.MaxSaveAttempts, err)
			if int(hs.SaveAttempts) >= e.pol.MaxSaveAttempts {
				hs.Saved = true
			}
			continue
		}

		hs.Saved = true
		telemetry.CapturesSaved.WithLabelValues("handshake").Inc()
		log.Printf("[CAPTURE] Handshake saved: %s (%s) pair=%#02x", hs.SSID, hs.BSSID, pair)
		e.recordCatalog("handshake", hs.SSID, hs.BSSID.Hex(), hs.Station.Hex(), 0, hs.CapturedMask)
	}
}

func (e *Engine) recordCatalog(kind, ssid, bssid, station string, channel uint8, mask uint8) {
	if e.Catalog == nil {
		return
	}
	rec := ports.CaptureRecord{
		SessionID: e.SessionID,
		Kind:      kind,
		SSID:      ssid,
		BSSID:     bssid,
		Station:   station,
		Channel:   channel,
		Messages:  mask,
		SavedAt:   e.now(),
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := e.Catalog.RecordCapture(ctx, rec); err != nil {
		log.Printf("[CAPTURE] Catalog record failed: %v", err)
	}
}
