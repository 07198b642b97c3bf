// Package catalog implements the cached, versioned lookup tables (items,
// prices, cosmetics, rarities, bundles, maps, agents, ranks, seasons, game
// modes, battle-pass schedule) with debounced, leader-elected, atomic
// persistence to disk.
package catalog

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/rivengate/skinwatch/internal/bus"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const debounceWindow = 3 * time.Second

// Snapshot is the full on-disk representation, keyed by the same
// formatVersion/gameVersion pair the operator command surface inspects.
type Snapshot struct {
	FormatVersion int               `json:"formatVersion"`
	GameVersion   string            `json:"gameVersion"`
	Items         map[string]Item   `json:"items"`
	Prices        map[string]Price  `json:"prices"`
	Cosmetics     map[string]any    `json:"cosmetics"`
	Rarities      map[string]any    `json:"rarities"`
	Bundles       map[string]any    `json:"bundles"`
	Maps          map[string]any    `json:"maps"`
	Agents        map[string]any    `json:"agents"`
	Ranks         map[string]any    `json:"ranks"`
	Seasons       map[string]any    `json:"seasons"`
	GameModes     map[string]any    `json:"gameModes"`
	BattlePass    map[string]any    `json:"battlePass"`
}

// Item is a single catalog entry with the locale-name map fuzzy search
// works over.
type Item struct {
	ID          string            `json:"id"`
	Names       map[string]string `json:"names"` // locale -> display name
	Canonical   string            `json:"canonical"`
}

// Price is a discovered price observation.
type Price struct {
	Cost     int    `json:"cost"`
	Currency string `json:"currency"`
}

const currentFormatVersion = 1

// Catalog is the process-wide cached view. Writes are debounced and only
// performed by the elected leader shard; peers replace their in-memory
// snapshot wholesale on a catalog_reload broadcast.
type Catalog struct {
	path string
	bus  *bus.Bus

	mu       sync.RWMutex
	snapshot Snapshot

	flushMu    sync.Mutex
	flushTimer *time.Timer
	dirty      bool
}

// New loads path if present (starting from an empty snapshot otherwise)
// and wires catalog_reload handling from the bus.
func New(path string, b *bus.Bus) (*Catalog, error) {
	c := &Catalog{path: path, bus: b, snapshot: emptySnapshot()}

	if data, err := os.ReadFile(path); err == nil {
		var snap Snapshot
		if err := json.Unmarshal(data, &snap); err == nil {
			c.snapshot = snap
		}
	}

	if b != nil {
		b.OnMessage(func(msg bus.Message) {
			if msg.Type == bus.TypeCatalogReload {
				c.reloadFromDisk()
			}
		})
	}

	return c, nil
}

func emptySnapshot() Snapshot {
	return Snapshot{
		FormatVersion: currentFormatVersion,
		Items:         make(map[string]Item),
		Prices:        make(map[string]Price),
		Cosmetics:     make(map[string]any),
		Rarities:      make(map[string]any),
		Bundles:       make(map[string]any),
		Maps:          make(map[string]any),
		Agents:        make(map[string]any),
		Ranks:         make(map[string]any),
		Seasons:       make(map[string]any),
		GameModes:     make(map[string]any),
		BattlePass:    make(map[string]any),
	}
}

// GameVersion returns the manifest id the current tables were fetched
// under.
func (c *Catalog) GameVersion() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot.GameVersion
}

// ReplaceAll atomically swaps in freshly-fetched tables for a new game
// version, discarding stale data (spec.md §4.G: "on version change the
// catalog refetches all tables").
func (c *Catalog) ReplaceAll(gameVersion string, snap Snapshot) {
	snap.GameVersion = gameVersion
	snap.FormatVersion = currentFormatVersion
	if snap.Prices == nil {
		snap.Prices = make(map[string]Price)
	}
	c.mu.Lock()
	c.snapshot = snap
	c.mu.Unlock()
	c.scheduleFlush()
}

// MergePrices folds partial (observed from a shop fetch) into the catalog's
// price table. The merge is a monotone set union: merge(a); merge(b) is
// equivalent to merge(a ∪ b), so concurrent callers never race each other
// into an inconsistent state.
func (c *Catalog) MergePrices(partial map[string]Price) {
	if len(partial) == 0 {
		return
	}
	c.mu.Lock()
	for id, p := range partial {
		c.snapshot.Prices[id] = p
	}
	c.mu.Unlock()
	c.scheduleFlush()
}

// Item looks up a catalog item by id.
func (c *Catalog) Item(id string) (Item, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	it, ok := c.snapshot.Items[id]
	return it, ok
}

// scheduleFlush debounces writes: repeated mutations within debounceWindow
// coalesce into a single disk write, performed only if this shard holds
// the catalog-writer leader lock.
func (c *Catalog) scheduleFlush() {
	c.flushMu.Lock()
	defer c.flushMu.Unlock()
	c.dirty = true
	if c.flushTimer != nil {
		return
	}
	c.flushTimer = time.AfterFunc(debounceWindow, c.flush)
}

func (c *Catalog) flush() {
	c.flushMu.Lock()
	c.flushTimer = nil
	wasDirty := c.dirty
	c.dirty = false
	c.flushMu.Unlock()

	if !wasDirty {
		return
	}

	if c.bus != nil {
		unlock, err := c.bus.Lock(context.Background(), "catalog-writer", debounceWindow*2)
		if err != nil {
			// Another shard is the leader; it will flush and broadcast
			// catalog_reload for us to pick up.
			return
		}
		defer unlock()
	}

	c.writeAtomic()

	if c.bus != nil {
		c.bus.Broadcast(context.Background(), bus.Message{Type: bus.TypeCatalogReload})
	}
}

func (c *Catalog) writeAtomic() error {
	c.mu.RLock()
	data, err := json.MarshalIndent(c.snapshot, "", "  ")
	c.mu.RUnlock()
	if err != nil {
		return err
	}

	dir := filepath.Dir(c.path)
	tmp, err := os.CreateTemp(dir, ".skins-*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), c.path)
}

func (c *Catalog) reloadFromDisk() {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return
	}
	c.mu.Lock()
	c.snapshot = snap
	c.mu.Unlock()
}

// Flush writes any still-debounced mutation immediately, used on graceful
// shutdown; it writes nothing when no mutation is pending.
func (c *Catalog) Flush() {
	c.flushMu.Lock()
	if c.flushTimer != nil {
		c.flushTimer.Stop()
		c.flushTimer = nil
	}
	c.flushMu.Unlock()
	c.flush()
}
