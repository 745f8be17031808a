package domain

import "time"

// ChannelOrder is the hop schedule: non-overlapping channels first.
var ChannelOrder = [13]uint8{1, 6, 11, 2, 3, 4, 5, 7, 8, 9, 10, 12, 13}

// ChannelIndex maps a 2.4 GHz channel number to its slot in ChannelOrder,
// or -1 for channels outside the schedule.
func ChannelIndex(ch uint8) int {
	for i, c := range ChannelOrder {
		if c == ch {
			return i
		}
	}
	return -1
}

// IsPrimaryChannel reports the non-overlapping channels 1, 6 and 11.
func IsPrimaryChannel(ch uint8) bool {
	return ch == 1 || ch == 6 || ch == 11
}

// ChannelStats holds per-channel rolling activity counters used by the
// adaptive hop scheduler. Decayed every couple of minutes.
type ChannelStats struct {
	Channel         uint8
	BeaconCount     uint16
	EAPOLCount      uint16
	LastActivity    time.Time
	Priority        uint8
	DeadStreak      uint8
	LifetimeBeacons uint32
}

// Reset zeroes the rolling counters while preserving lifetime totals.
func (s *ChannelStats) Reset() {
	s.BeaconCount = 0
	s.EAPOLCount = 0
	s.Priority = 100
	s.DeadStreak = 0
}
