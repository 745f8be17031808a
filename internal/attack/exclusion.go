package attack

import (
	"bufio"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/lcalzada-xor/snuffle/internal/core/domain"
)

// ExclusionList is the persistent table of protected networks: one uppercase
// hex BSSID per line with an optional SSID comment, capped at a fixed slot
// count. Excluded networks are filtered from PMKID hunting and target
// selection; mid-attack exclusion aborts the attack cleanly.
type ExclusionList struct {
	mu    sync.RWMutex
	path  string
	cap   int
	names map[uint64]string // BSSID key -> SSID comment (may be empty)
}

// NewExclusionList creates a list backed by path, loading nothing yet.
func NewExclusionList(path string, capacity int) *ExclusionList {
	if capacity <= 0 {
		capacity = 50
	}
	return &ExclusionList{
		path:  path,
		cap:   capacity,
		names: make(map[uint64]string, capacity),
	}
}

// Load reads the file. Blank and #-prefixed lines are ignored; records past
// the cap are dropped. A missing file is an empty list, not an error.
func (x *ExclusionList) Load() error {
	f, err := os.Open(x.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open exclusion list: %w", err)
	}
	defer f.Close()

	x.mu.Lock()
	defer x.mu.Unlock()
	x.names = make(map[uint64]string, x.cap)

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if len(x.names) >= x.cap {
			log.Printf("[ATTACK] Exclusion list full (%d); remaining lines ignored", x.cap)
			break
		}
		fields := strings.SplitN(line, " ", 2)
		bssid, err := domain.ParseBSSID(fields[0])
		if err != nil {
			log.Printf("[ATTACK] Skipping malformed exclusion line %q: %v", line, err)
			continue
		}
		comment := ""
		if len(fields) == 2 {
			comment = strings.TrimSpace(fields[1])
		}
		x.names[bssid.Key()] = comment
	}
	return scanner.Err()
}

// Save writes the list back, sorted by BSSID for idempotent round-trips.
func (x *ExclusionList) Save() error {
	x.mu.RLock()
	keys := make([]uint64, 0, len(x.names))
	for k := range x.names {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	var b strings.Builder
	for _, k := range keys {
		var bssid domain.BSSID
		for i := 0; i < 6; i++ {
			bssid[i] = byte(k >> (8 * (5 - i)))
		}
		if comment := x.names[k]; comment != "" {
			fmt.Fprintf(&b, "%s %s\n", bssid.Hex(), comment)
		} else {
			fmt.Fprintf(&b, "%s\n", bssid.Hex())
		}
	}
	x.mu.RUnlock()

	if err := os.WriteFile(x.path, []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("write exclusion list: %w", err)
	}
	return nil
}

// Contains reports whether bssid is protected.
func (x *ExclusionList) Contains(bssid domain.BSSID) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	_, ok := x.names[bssid.Key()]
	return ok
}

// Add records bssid and flushes to disk. Returns false when the table is
// full.
func (x *ExclusionList) Add(bssid domain.BSSID, ssid string) bool {
	x.mu.Lock()
	if _, exists := x.names[bssid.Key()]; !exists && len(x.names) >= x.cap {
		x.mu.Unlock()
		return false
	}
	x.names[bssid.Key()] = ssid
	x.mu.Unlock()

	if err := x.Save(); err != nil {
		log.Printf("[ATTACK] Exclusion flush failed: %v", err)
	}
	return true
}

// Remove deletes bssid and flushes to disk.
func (x *ExclusionList) Remove(bssid domain.BSSID) {
	x.mu.Lock()
	delete(x.names, bssid.Key())
	x.mu.Unlock()

	if err := x.Save(); err != nil {
		log.Printf("[ATTACK] Exclusion flush failed: %v", err)
	}
}

// Len returns the number of protected networks.
func (x *ExclusionList) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.names)
}
