package capture

import (
	"time"

	"github.com/lcalzada-xor/snuffle/internal/core/domain"
)

// stepStateMachine advances the HOPPING/DWELLING/HUNTING/IDLE_SWEEP machine.
// Main-thread only.
func (e *Engine) stepStateMachine(now time.Time, channelChanged bool) {
	switch e.State() {
	case StateHopping:
		// Clear an expired adaptive dwell lock
		if !e.adaptiveDwellUntil.IsZero() && !now.Before(e.adaptiveDwellUntil) {
			e.adaptiveDwellUntil = time.Time{}
			if e.recon.IsChannelLocked() {
				e.recon.UnlockChannel()
			}
		}

		if !e.adaptiveDwellUntil.IsZero() {
			if e.checkHuntingTrigger(now) {
				e.adaptiveDwellUntil = time.Time{}
			}
			return
		}

		if e.recon.IsChannelLocked() {
			e.recon.UnlockChannel()
		}

		if channelChanged {
			if e.checkHuntingTrigger(now) {
				return
			}
			e.checkIdleSweep()

			// Extend time on busy channels beyond the base hop interval
			desired := e.adaptiveHopDelay()
			base := time.Duration(e.recon.HopIntervalMs()) * time.Millisecond
			if desired > base {
				e.adaptiveDwellUntil = now.Add(desired - base)
				if !e.recon.IsChannelLocked() {
					e.recon.LockChannel(e.currentChannel)
				}
			}
		}

	case StateDwelling:
		if !e.recon.IsChannelLocked() {
			e.recon.LockChannel(e.currentChannel)
		}
		if e.dwellResolved.Load() || now.Sub(e.dwellStart) > e.pol.DwellTime {
			e.state.Store(int32(StateHopping))
			e.dwellResolved.Store(false)
			if e.recon.IsChannelLocked() {
				e.recon.UnlockChannel()
			}
		}

	case StateHunting:
		if !e.recon.IsChannelLocked() {
			e.recon.LockChannel(e.currentChannel)
		}
		if now.Sub(e.huntStart) > e.pol.HuntDuration {
			e.state.Store(int32(StateHopping))
			e.lastHuntTime = now
			e.lastHuntChannel = e.currentChannel
			e.adaptiveDwellUntil = time.Time{}
			if e.recon.IsChannelLocked() {
				e.recon.UnlockChannel()
			}
		}
		// HUNTING deliberately does not hop: camp on the hot channel

	case StateIdleSweep:
		if e.recon.IsChannelLocked() {
			e.recon.UnlockChannel()
		}
		e.adaptiveDwellUntil = time.Time{}

		if channelChanged {
			e.statsMu.Lock()
			s := e.channelStats[e.channelIndex]
			e.statsMu.Unlock()
			if s.BeaconCount > 0 || s.EAPOLCount > 0 {
				e.state.Store(int32(StateHopping))
			}
		}
	}
}

// startDwell camps briefly on the current channel waiting for a beacon to
// resolve a pending PMKID's SSID.
func (e *Engine) startDwell(now time.Time) {
	e.state.Store(int32(StateDwelling))
	e.dwellStart = now
	e.dwellResolved.Store(false)
	e.adaptiveDwellUntil = time.Time{}
	if !e.recon.IsChannelLocked() {
		e.recon.LockChannel(e.currentChannel)
	}
}

// checkHuntingTrigger enters HUNTING when the channel shows a burst of EAPOL
// or beacon activity, with an anti-oscillation cooldown per channel.
func (e *Engine) checkHuntingTrigger(now time.Time) bool {
	if e.lastHuntChannel == e.currentChannel && now.Sub(e.lastHuntTime) < e.pol.HuntCooldown {
		return false
	}

	e.statsMu.Lock()
	s := e.channelStats[e.channelIndex]
	e.statsMu.Unlock()

	if int(s.EAPOLCount) >= 2 || int(s.BeaconCount) >= e.pol.BusyBeaconThresh {
		e.state.Store(int32(StateHunting))
		e.huntStart = now
		e.lastHuntChannel = e.currentChannel
		e.lastHuntTime = now
		e.adaptiveDwellUntil = time.Time{}
		if !e.recon.IsChannelLocked() {
			e.recon.LockChannel(e.currentChannel)
		}
		return true
	}
	return false
}

// checkIdleSweep tallies a finished hop cycle; a fully dead spectrum drops
// the engine into IDLE_SWEEP.
func (e *Engine) checkIdleSweep() {
	if e.channelIndex != 0 {
		return
	}
	e.statsMu.Lock()
	total := uint16(0)
	for i := range e.channelStats {
		total += e.channelStats[i].BeaconCount
	}
	e.statsMu.Unlock()

	e.lastCycleActivity = total
	if total == 0 {
		e.state.Store(int32(StateIdleSweep))
	}
}

// adaptiveHopDelay is the product of the per-channel base, the local activity
// multiplier and the global spectrum multiplier. The integer multipliers are
// tuning values carried from the shipped firmware.
func (e *Engine) adaptiveHopDelay() time.Duration {
	e.statsMu.Lock()
	s := e.channelStats[e.channelIndex]
	e.statsMu.Unlock()

	base := e.pol.HopBaseSecondary
	if domain.IsPrimaryChannel(s.Channel) {
		base = e.pol.HopBasePrimary
	}

	var delay time.Duration
	switch {
	case int(s.BeaconCount) >= e.pol.BusyBeaconThresh:
		delay = base * 3 / 2
	case s.BeaconCount >= 2:
		delay = base
	case int(s.DeadStreak) >= e.pol.DeadStreakLimit:
		delay = e.pol.HopMin
	default:
		delay = base * 7 / 10
	}

	if e.lastCycleActivity < 5 {
		delay = delay * 3 / 5
	} else if e.lastCycleActivity > 40 {
		delay = delay * 6 / 5
	}
	return delay
}

// decayChannelStats zeroes the rolling counters.
func (e *Engine) decayChannelStats() {
	e.statsMu.Lock()
	for i := range e.channelStats {
		e.channelStats[i].Reset()
	}
	e.statsMu.Unlock()
	e.lastCycleActivity = 0
}
