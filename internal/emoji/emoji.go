// Package emoji implements the upload-once, reference-forever custom
// emoji registry: an asset is uploaded to the chat platform at most once
// per process lifetime, and every shard learns its reference id via a
// catalog-reload-style broadcast instead of re-uploading locally.
package emoji

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rivengate/skinwatch/internal/bus"
)

// Uploader performs the opaque chat-platform upload call. Out of this
// module's scope (spec.md §1 excludes the chat platform SDK).
type Uploader interface {
	Upload(ctx context.Context, name string, image []byte) (referenceID string, err error)
}

// Entry is one registered emoji's persisted state.
type Entry struct {
	Name        string `json:"name"`
	ReferenceID string `json:"referenceId"`
	UploadedAt  int64  `json:"uploadedAt"`
}

// Registry tracks uploaded emoji references and persists them using the
// same debounced atomic-write idiom as internal/catalog, since both are
// small shared lookup tables a single shard owns and the rest read.
type Registry struct {
	path     string
	uploader Uploader
	bus      *bus.Bus

	mu      sync.RWMutex
	entries map[string]Entry

	flushMu    sync.Mutex
	flushTimer *time.Timer
}

const debounceWindow = 3 * time.Second

// New loads any existing persisted registry from path and subscribes to
// emoji_catalog_warm broadcasts so peer shards learn newly uploaded
// references without uploading themselves.
func New(path string, uploader Uploader, b *bus.Bus) *Registry {
	r := &Registry{path: path, uploader: uploader, bus: b, entries: make(map[string]Entry)}
	r.reloadFromDisk()
	b.OnMessage(func(msg bus.Message) {
		if msg.Type == bus.TypeEmojiCatalogWarm && msg.EmojiCatalogWarm != nil {
			r.mu.Lock()
			for name, refID := range msg.EmojiCatalogWarm.Snapshot {
				r.entries[name] = Entry{Name: name, ReferenceID: refID, UploadedAt: time.Now().Unix()}
			}
			r.mu.Unlock()
		}
	})
	return r
}

// Lookup returns the reference id for name if already uploaded.
func (r *Registry) Lookup(name string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e.ReferenceID, ok
}

// EnsureUploaded returns name's reference id, uploading it exactly once
// if this shard has not seen it before, then broadcasting the new entry
// so peer shards warm their own cache instead of re-uploading.
func (r *Registry) EnsureUploaded(ctx context.Context, name string, image []byte) (string, error) {
	if id, ok := r.Lookup(name); ok {
		return id, nil
	}

	refID, err := r.uploader.Upload(ctx, name, image)
	if err != nil {
		return "", err
	}

	entry := Entry{Name: name, ReferenceID: refID, UploadedAt: time.Now().Unix()}
	r.mu.Lock()
	r.entries[name] = entry
	r.mu.Unlock()

	r.scheduleFlush()

	if err := r.bus.Broadcast(ctx, bus.Message{
		Type:             bus.TypeEmojiCatalogWarm,
		EmojiCatalogWarm: &bus.EmojiCatalogWarmPayload{Snapshot: map[string]string{entry.Name: entry.ReferenceID}},
	}); err != nil {
		return "", err
	}

	return refID, nil
}

func (r *Registry) scheduleFlush() {
	r.flushMu.Lock()
	defer r.flushMu.Unlock()
	if r.flushTimer != nil {
		r.flushTimer.Stop()
	}
	r.flushTimer = time.AfterFunc(debounceWindow, r.flush)
}

// Flush forces an immediate persist, used on shutdown.
func (r *Registry) Flush() {
	r.flush()
}

func (r *Registry) flush() {
	if r.path == "" {
		return
	}
	r.mu.RLock()
	snapshot := make(map[string]Entry, len(r.entries))
	for k, v := range r.entries {
		snapshot[k] = v
	}
	r.mu.RUnlock()

	data, err := json.Marshal(snapshot)
	if err != nil {
		return
	}
	_ = writeAtomic(r.path, data)
}

func (r *Registry) reloadFromDisk() {
	if r.path == "" {
		return
	}
	data, err := os.ReadFile(r.path)
	if err != nil {
		return
	}
	var snapshot map[string]Entry
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return
	}
	r.mu.Lock()
	r.entries = snapshot
	r.mu.Unlock()
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "emoji-registry-*.json")
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
	return os.Rename(tmp.Name(), path)
}
