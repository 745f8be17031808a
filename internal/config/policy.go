package config

import "time"

// Policy is the centralized parameter block for heap governance, scanning,
// capture and attack timing. Everything here is configuration, not code;
// defaults mirror the shipped firmware tuning.
type Policy struct {
	// TLS gating thresholds
	MinHeapForTLS      int
	MinContigForTLS    int
	ProactiveContig    int
	StableThreshold    int

	// Allocation safety floors
	MinHeapForNetworkAdd   int
	MinHeapForHandshakeAdd int
	MinHeapForInject       int

	// Allocation slack (allocator overhead cushion)
	ReserveSlackSmall int
	ReserveSlackLarge int
	PMKIDAllocSlack   int
	HSAllocSlack      int

	// Pressure level thresholds (free bytes / fragmentation ratio)
	PressureL1Free int
	PressureL2Free int
	PressureL3Free int
	PressureL1Frag float64
	PressureL2Frag float64
	PressureL3Frag float64

	PressureHysteresis time.Duration

	// Health sampling and the conditioning-request latch
	HealthSampleInterval  time.Duration
	ConditionTriggerPct   int
	ConditionClearPct     int
	FragPenaltyScale      float64
	DisplayEMAAlphaDown   float64
	DisplayEMAAlphaUp     float64
	ConditionCooldownMin  time.Duration
	ConditionCooldownMax  time.Duration
	ConditionCooldownBase time.Duration

	// Conditioning cycle timing
	ConditioningDwell       time.Duration
	ConditioningStep        time.Duration
	ConditioningWarmup      time.Duration
	ConditioningLogInterval time.Duration
	ConditioningFinalDelay  time.Duration

	// Radio/BLE settle delays during conditioning and reset
	WiFiModeDelay       time.Duration
	WiFiDisconnectDelay time.Duration
	WiFiShutdownDelay   time.Duration
	BLEStopDelay        time.Duration
	BLEDeinitDelay      time.Duration

	// Growth gating
	MinFragRatioForGrowth float64

	// Scanner admission
	ScanRSSIFloor int

	// Collection caps
	MaxNetworks            int
	MaxHandshakes          int
	MaxPMKIDs              int
	MaxIncompleteHS        int
	IncompleteHSTimeout    time.Duration
	NetworkStaleTimeout    time.Duration
	NetworkCleanupInterval time.Duration

	// Capture engine hop tuning
	HopBasePrimary     time.Duration
	HopBaseSecondary   time.Duration
	HopMin             time.Duration
	BusyBeaconThresh   int
	DeadStreakLimit    int
	HuntDuration       time.Duration
	HuntCooldown       time.Duration
	DwellTime          time.Duration
	StatsDecayInterval time.Duration
	BackupSaveInterval time.Duration

	// Attack engine timing
	ScanDuration        time.Duration
	PMKIDHuntMax        time.Duration
	PMKIDTimeout        time.Duration
	LockTime            time.Duration
	LockFastTrack       time.Duration
	LockEarlyExit       time.Duration
	AttackTimeout       time.Duration
	DeauthBurstInterval time.Duration
	DeauthBurstFrames   int
	DeauthJitterMax     time.Duration
	WaitTime            time.Duration
	BoredRetryTime      time.Duration
	BoredFastSweep      time.Duration
	BoredSlowSweep      time.Duration
	TargetMaxAttempts   int
	TargetWarmupMin     time.Duration
	TargetWarmupForce   time.Duration
	CooldownMin         time.Duration
	CooldownMax         time.Duration
	AttackRSSIFloor     int

	// Exclusion list
	MaxExcludedNetworks int

	// Save protocol
	SaveBackoffs    [3]time.Duration
	MaxSaveAttempts int

	// Watermark persistence
	WatermarkSaveInterval time.Duration
}

// DefaultPolicy returns the shipped tuning.
func DefaultPolicy() Policy {
	return Policy{
		MinHeapForTLS:   35000,
		MinContigForTLS: 35000,
		ProactiveContig: 45000,
		StableThreshold: 50000,

		MinHeapForNetworkAdd:   30000,
		MinHeapForHandshakeAdd: 60000,
		MinHeapForInject:       80000,

		ReserveSlackSmall: 256,
		ReserveSlackLarge: 1024,
		PMKIDAllocSlack:   256,
		HSAllocSlack:      1024,

		PressureL1Free: 80000,
		PressureL2Free: 50000,
		PressureL3Free: 30000,
		PressureL1Frag: 0.60,
		PressureL2Frag: 0.40,
		PressureL3Frag: 0.25,

		PressureHysteresis: 3 * time.Second,

		HealthSampleInterval:  time.Second,
		ConditionTriggerPct:   65,
		ConditionClearPct:     75,
		FragPenaltyScale:      0.60,
		DisplayEMAAlphaDown:   0.10,
		DisplayEMAAlphaUp:     0.20,
		ConditionCooldownMin:  15 * time.Second,
		ConditionCooldownMax:  60 * time.Second,
		ConditionCooldownBase: 30 * time.Second,

		ConditioningDwell:       3 * time.Second,
		ConditioningStep:        100 * time.Millisecond,
		ConditioningWarmup:      time.Second,
		ConditioningLogInterval: time.Second,
		ConditioningFinalDelay:  50 * time.Millisecond,

		WiFiModeDelay:       50 * time.Millisecond,
		WiFiDisconnectDelay: 50 * time.Millisecond,
		WiFiShutdownDelay:   80 * time.Millisecond,
		BLEStopDelay:        50 * time.Millisecond,
		BLEDeinitDelay:      100 * time.Millisecond,

		MinFragRatioForGrowth: 0.40,

		ScanRSSIFloor: -92,

		MaxNetworks:            64,
		MaxHandshakes:          16,
		MaxPMKIDs:              32,
		MaxIncompleteHS:        16,
		IncompleteHSTimeout:    60 * time.Second,
		NetworkStaleTimeout:    30 * time.Second,
		NetworkCleanupInterval: 5 * time.Second,

		HopBasePrimary:     500 * time.Millisecond,
		HopBaseSecondary:   300 * time.Millisecond,
		HopMin:             150 * time.Millisecond,
		BusyBeaconThresh:   8,
		DeadStreakLimit:    3,
		HuntDuration:       8 * time.Second,
		HuntCooldown:       20 * time.Second,
		DwellTime:          3 * time.Second,
		StatsDecayInterval: 2 * time.Minute,
		BackupSaveInterval: 30 * time.Second,

		ScanDuration:        5 * time.Second,
		PMKIDHuntMax:        30 * time.Second,
		PMKIDTimeout:        300 * time.Millisecond,
		LockTime:            6 * time.Second,
		LockFastTrack:       2500 * time.Millisecond,
		LockEarlyExit:       4 * time.Second,
		AttackTimeout:       15 * time.Second,
		DeauthBurstInterval: 180 * time.Millisecond,
		DeauthBurstFrames:   4,
		DeauthJitterMax:     8 * time.Millisecond,
		WaitTime:            4500 * time.Millisecond,
		BoredRetryTime:      30 * time.Second,
		BoredFastSweep:      500 * time.Millisecond,
		BoredSlowSweep:      2 * time.Second,
		TargetMaxAttempts:   4,
		TargetWarmupMin:     1500 * time.Millisecond,
		TargetWarmupForce:   5 * time.Second,
		CooldownMin:         4 * time.Second,
		CooldownMax:         12 * time.Second,
		AttackRSSIFloor:     -82,

		MaxExcludedNetworks: 50,

		SaveBackoffs:    [3]time.Duration{0, 2 * time.Second, 5 * time.Second},
		MaxSaveAttempts: 3,

		WatermarkSaveInterval: time.Minute,
	}
}
