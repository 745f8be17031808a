package heap

import (
	"log"
	"sync/atomic"
	"time"

	"github.com/lcalzada-xor/snuffle/internal/config"
	"github.com/lcalzada-xor/snuffle/internal/core/ports"
	"github.com/lcalzada-xor/snuffle/internal/telemetry"
)

// Conditioner performs the active heap conditioning cycle: it tears down the
// companion BLE stack, then exercises the WiFi driver's per-packet alloc/free
// churn in promiscuous mode across every channel.
//
// The allocator coalesces adjacent blocks immediately on free, so the
// driver's churn heals fragmentation around its long-lived allocations
// instead of adding to it. The driver only reorganizes its pools while it is
// actually processing packets, which is why the callback is installed with no
// filter and the rotation covers all 13 channels.
type Conditioner struct {
	radio ports.RadioDriver
	ble   ports.BLEController // may be nil
	gov   *Governor
	probe ports.HeapProbe
	pol   config.Policy
	sleep ports.Sleeper

	packets atomic.Uint32
}

// NewConditioner wires the conditioning cycle. ble may be nil when no
// companion stack exists.
func NewConditioner(radio ports.RadioDriver, ble ports.BLEController, gov *Governor, probe ports.HeapProbe, pol config.Policy, sleep ports.Sleeper) *Conditioner {
	return &Conditioner{radio: radio, ble: ble, gov: gov, probe: probe, pol: pol, sleep: sleep}
}

// rotation spreads consecutive steps across distant channels so the driver
// sees traffic everywhere within a few hundred milliseconds.
var rotation = [13]uint8{1, 6, 11, 2, 7, 12, 3, 8, 13, 4, 9, 5, 10}

// Condition runs the full cycle and returns the largest contiguous block
// afterwards. It cannot fail: any intermediate error still leaves the driver
// in STA mode with promiscuous off, and the achieved size is returned for the
// caller to judge. Blocked outright under critical pressure.
func (c *Conditioner) Condition() int {
	initialFree := c.probe.FreeBytes()
	initialLargest := c.probe.LargestFreeBlock()

	if c.gov.Pressure() >= PressureCritical {
		log.Printf("[HEAP] Conditioning blocked at critical pressure: free=%d largest=%d",
			initialFree, initialLargest)
		return initialLargest
	}

	log.Printf("[HEAP] Conditioning: free=%d largest=%d", initialFree, initialLargest)
	telemetry.ConditioningRuns.Inc()

	// Phase A: companion-radio teardown. The BLE stack holds buffers that
	// survive a mere stop; only a full deinit releases them.
	if c.ble != nil && c.ble.Initialized() {
		log.Printf("[HEAP] BLE active - deinitializing to reclaim memory")
		c.ble.StopActivity()
		c.sleep.Sleep(c.pol.BLEStopDelay)
		c.ble.Deinit()
		c.sleep.Sleep(c.pol.BLEDeinitDelay)
		log.Printf("[HEAP] BLE deinit complete: free=%d largest=%d",
			c.probe.FreeBytes(), c.probe.LargestFreeBlock())
	}

	// Phase B: driver exercise.
	c.packets.Store(0)
	started := time.Now()

	if err := c.radio.SetModeSTA(); err != nil {
		log.Printf("[HEAP] STA mode failed: %v", err)
		c.teardown()
		return c.probe.LargestFreeBlock()
	}
	c.sleep.Sleep(c.pol.WiFiModeDelay)

	if err := c.radio.Disconnect(); err != nil {
		log.Printf("[HEAP] Disconnect failed: %v", err)
	}
	c.sleep.Sleep(c.pol.WiFiDisconnectDelay)

	// Callback installed, no filter: the driver must process every packet
	// for its pools to churn.
	c.radio.SetPromiscuousCallback(c.countPacket)
	c.radio.SetPromiscuousFilter(nil)
	if err := c.radio.SetPromiscuous(true); err != nil {
		log.Printf("[HEAP] Promiscuous enable failed: %v", err)
		c.teardown()
		return c.probe.LargestFreeBlock()
	}
	c.radio.SetChannel(rotation[0])

	log.Printf("[HEAP] Driver exercise (%v): free=%d largest=%d",
		c.pol.ConditioningDwell, c.probe.FreeBytes(), c.probe.LargestFreeBlock())

	steps := int((c.pol.ConditioningDwell + c.pol.ConditioningStep - 1) / c.pol.ConditioningStep)
	if steps < 1 {
		steps = 1
	}
	for i := 0; i < steps; i++ {
		c.radio.SetChannel(rotation[i%len(rotation)])
		c.sleep.Sleep(c.pol.ConditioningStep)

		elapsed := time.Duration(i+1) * c.pol.ConditioningStep
		largest := c.probe.LargestFreeBlock()
		if elapsed > c.pol.ConditioningWarmup && largest >= c.pol.StableThreshold {
			log.Printf("[HEAP] Early exit at %v - heap stabilized (pkts=%d)",
				elapsed, c.packets.Load())
			break
		}
		if c.pol.ConditioningLogInterval > 0 && elapsed%c.pol.ConditioningLogInterval == 0 {
			log.Printf("[HEAP] Exercise %ds: free=%d largest=%d pkts=%d",
				int(elapsed.Seconds()), c.probe.FreeBytes(), largest, c.packets.Load())
		}
	}

	// Phase C: teardown.
	c.teardown()
	c.sleep.Sleep(c.pol.ConditioningFinalDelay)

	finalFree := c.probe.FreeBytes()
	finalLargest := c.probe.LargestFreeBlock()
	log.Printf("[HEAP] Conditioning complete (%v): free=%d (%+d) largest=%d (%+d) pkts=%d",
		time.Since(started).Round(time.Millisecond),
		finalFree, finalFree-initialFree,
		finalLargest, finalLargest-initialLargest,
		c.packets.Load())

	c.gov.ResetPeaks()
	return finalLargest
}

// countPacket is the installed receive callback: a free-running counter and
// nothing else.
func (c *Conditioner) countPacket(_ *ports.RxPacket) {
	c.packets.Add(1)
}

// teardown restores STA mode with promiscuous off, whatever state the cycle
// reached.
func (c *Conditioner) teardown() {
	c.radio.SetPromiscuous(false)
	c.radio.SetPromiscuousCallback(nil)
	c.radio.Disconnect()
	c.radio.SetModeSTA()
	c.sleep.Sleep(c.pol.WiFiShutdownDelay)
}
