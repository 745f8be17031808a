package attack

import (
	"time"

	"github.com/lcalzada-xor/snuffle/internal/core/domain"
)

// scoreTarget rates one candidate. Quality (signal, recency, data activity,
// beacon cadence), proximity and client bonuses, an auth-mode adjustment, and
// a penalty per prior attempt.
func (e *Engine) scoreTarget(n *domain.DetectedNetwork, now time.Time, estClients int) int {
	score := 0

	// RSSI normalized 0-60: -90 dBm and below is 0, -30 dBm and up is 60
	rssi := int(n.RSSI)
	switch {
	case rssi >= -30:
		score += 60
	case rssi > -90:
		score += rssi + 90
	}

	// Recency 0-20
	sinceSeen := now.Sub(n.LastSeen)
	switch {
	case sinceSeen < 5*time.Second:
		score += 20
	case sinceSeen < 30*time.Second:
		score += 20 - int(sinceSeen/(1500*time.Millisecond))
	}

	// Recent data 0-20
	if !n.LastDataSeen.IsZero() {
		sinceData := now.Sub(n.LastDataSeen)
		switch {
		case sinceData < 10*time.Second:
			score += 20
		case sinceData < 60*time.Second:
			score += 10
		}
	}

	// Beacon cadence 0-10: a steady beacon interval means a stable AP
	if n.BeaconIntervalEMA > 0 && n.BeaconIntervalEMA < 200 {
		score += 10
	} else if n.BeaconCount > 3 {
		score += 5
	}

	// Proximity bonus at very strong signal
	if rssi >= -45 {
		score += 15
	}

	// Recent-client bonus 0-30
	if !n.LastDataSeen.IsZero() {
		sinceData := now.Sub(n.LastDataSeen)
		switch {
		case sinceData < 5*time.Second:
			score += 30
		case sinceData < 15*time.Second:
			score += 15
		}
	}

	// Estimated clients
	score += 5 * estClients

	// Auth mode adjustment
	switch n.Auth {
	case domain.AuthWEP:
		score += 15
	case domain.AuthWPAPSK:
		score += 10
	case domain.AuthWPA3PSK, domain.AuthWPA2WPA3PSK:
		score -= 10
	}

	score -= 8 * int(n.AttackAttempts)
	return score
}

// eligible is the hard filter, independent of score.
func (e *Engine) eligible(n *domain.DetectedNetwork, now time.Time) bool {
	if n.SSID == "" || n.Hidden {
		return false
	}
	if n.OnCooldown(now) {
		return false
	}
	if n.PMF {
		return false
	}
	if n.HasHandshake {
		return false
	}
	if n.Auth == domain.AuthOpen {
		return false
	}
	if int(n.AttackAttempts) >= e.pol.TargetMaxAttempts {
		return false
	}
	if int(n.RSSI) < e.pol.AttackRSSIFloor {
		return false
	}
	if e.excluded.Contains(n.BSSID) {
		return false
	}
	return true
}

// candidate is a selection result copied out of the critical section.
type candidate struct {
	bssid        domain.BSSID
	ssid         string
	channel      uint8
	score        int
	recentClient bool
}

// selectTarget scores the table and returns the best candidate. A candidate
// with recent client traffic is preferred over a higher-scoring stale one.
func (e *Engine) selectTarget(now time.Time) (candidate, bool) {
	var best, bestRecent candidate
	haveBest, haveRecent := false, false

	e.recon.EnterCritical()
	nets := e.recon.NetworksLocked()
	for i := range nets {
		n := &nets[i]
		if !e.eligible(n, now) {
			continue
		}
		est := e.recon.EstimateClientCount(n)
		c := candidate{
			bssid:        n.BSSID,
			ssid:         n.SSID,
			channel:      n.Channel,
			score:        e.scoreTarget(n, now, est),
			recentClient: !n.LastDataSeen.IsZero() && now.Sub(n.LastDataSeen) < 15*time.Second,
		}
		if !haveBest || c.score > best.score {
			best = c
			haveBest = true
		}
		if c.recentClient && (!haveRecent || c.score > bestRecent.score) {
			bestRecent = c
			haveRecent = true
		}
	}
	e.recon.ExitCritical()

	if haveRecent {
		return bestRecent, true
	}
	return best, haveBest
}

// attackCooldown maps signal strength to the retry cooldown: stronger
// signals get shorter cooldowns.
func (e *Engine) attackCooldown(rssi int8) time.Duration {
	span := e.pol.CooldownMax - e.pol.CooldownMin
	frac := float64(-30-int(rssi)) / 60.0
	if frac < 0 {
		frac = 0
	}
	if frac > 1 {
		frac = 1
	}
	return e.pol.CooldownMin + time.Duration(frac*float64(span))
}
