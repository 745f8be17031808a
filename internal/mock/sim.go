// Package mock provides the simulated radio driver, allocator probe and BLE
// stack used by mock mode and the integration tests: synthetic traffic
// through the real engine pipeline, no hardware involved.
package mock

import (
	"sync"

	"github.com/lcalzada-xor/snuffle/internal/core/domain"
	"github.com/lcalzada-xor/snuffle/internal/core/ports"
)

// SimHeap is a settable allocator probe. Churn models the coalescing
// recovery the real driver exercise produces.
type SimHeap struct {
	mu      sync.Mutex
	free    int
	largest int
	ceiling int
}

// NewSimHeap creates a probe with the given starting landscape.
func NewSimHeap(free, largest int) *SimHeap {
	return &SimHeap{free: free, largest: largest, ceiling: free}
}

func (h *SimHeap) FreeBytes() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.free
}

func (h *SimHeap) LargestFreeBlock() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.largest
}

// Set forces the landscape.
func (h *SimHeap) Set(free, largest int) {
	h.mu.Lock()
	h.free = free
	h.largest = largest
	h.mu.Unlock()
}

// Churn merges free blocks: the largest block grows toward the free total.
func (h *SimHeap) Churn(gain int) {
	h.mu.Lock()
	h.largest += gain
	if h.largest > h.free {
		h.largest = h.free
	}
	h.mu.Unlock()
}

// SimBLE is a fake companion stack holding a fixed buffer reservation that
// only a full deinit releases.
type SimBLE struct {
	mu       sync.Mutex
	heap     *SimHeap
	active   bool
	reserved int
}

// NewSimBLE initializes the stack, reserving bytes from the probe.
func NewSimBLE(heap *SimHeap, reserved int) *SimBLE {
	heap.mu.Lock()
	heap.free -= reserved
	if heap.largest > heap.free {
		heap.largest = heap.free
	}
	heap.mu.Unlock()
	return &SimBLE{heap: heap, active: true, reserved: reserved}
}

func (b *SimBLE) Initialized() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.active
}

func (b *SimBLE) StopActivity() {}

func (b *SimBLE) Deinit() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.active {
		return
	}
	b.active = false
	b.heap.mu.Lock()
	b.heap.free += b.reserved
	b.heap.mu.Unlock()
}

var _ ports.HeapProbe = (*SimHeap)(nil)
var _ ports.BLEController = (*SimBLE)(nil)
var _ ports.RadioDriver = (*Driver)(nil)

// SimNetwork describes one synthetic access point.
type SimNetwork struct {
	BSSID   domain.BSSID
	SSID    string
	Channel uint8
	RSSI    int8
	Auth    domain.AuthMode
	PMF     bool

	// Station, when non-zero, is a client that re-handshakes after a
	// deauth burst and answers data polls.
	Station domain.BSSID

	// PMKID, when non-zero, is returned in the M1 reply to an
	// association request.
	PMKID [16]byte
}
