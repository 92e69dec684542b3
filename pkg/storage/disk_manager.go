package storage

import (
	"fmt"
	"os"
	"sync"

	"github.com/mnohosten/diskcore/pkg/concurrent"
)

// DiskManager is the buffer pool's external collaborator: a synchronous,
// file-backed page store. It performs no caching of its own — that is the
// buffer pool's job — and is safe for concurrent use at page granularity via
// a single mutex, matching the teacher's DiskManager shape.
type DiskManager struct {
	file  *os.File
	codec Codec
	mu    sync.Mutex

	counters *concurrent.CounterSet
}

// DiskManagerConfig configures the optional page codec. The zero value means
// no compression or encryption.
type DiskManagerConfig struct {
	Codec Codec
}

// DefaultDiskManagerConfig returns a config with no page transform applied.
func DefaultDiskManagerConfig() DiskManagerConfig {
	return DiskManagerConfig{Codec: NoopCodec{}}
}

// NewDiskManager opens (creating if needed) the backing file at path.
func NewDiskManager(path string) (*DiskManager, error) {
	return NewDiskManagerWithConfig(path, DefaultDiskManagerConfig())
}

// NewDiskManagerWithConfig opens the backing file with an explicit codec.
func NewDiskManagerWithConfig(path string, cfg DiskManagerConfig) (*DiskManager, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("disk manager: open %s: %w", path, err)
	}
	codec := cfg.Codec
	if codec == nil {
		codec = NoopCodec{}
	}
	return &DiskManager{
		file:     f,
		codec:    codec,
		counters: concurrent.NewCounterSet("reads", "writes"),
	}, nil
}

// ReadPage reads page id's bytes into buf (len(buf) must be PageSize). Pages
// past the current end of file are treated as all-zero (never written yet).
func (dm *DiskManager) ReadPage(id PageID, buf *[PageSize]byte) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	offset := int64(id) * DiskSlotSize
	raw := make([]byte, DiskSlotSize)
	n, err := dm.file.ReadAt(raw, offset)
	if err != nil && n == 0 {
		// Short/absent read: brand-new page, leave buf zeroed.
		for i := range buf {
			buf[i] = 0
		}
		return nil
	}
	decoded, err := dm.codec.Decode(raw)
	if err != nil {
		return fmt.Errorf("disk manager: decode page %d: %w", id, err)
	}
	if len(decoded) != PageSize {
		return fmt.Errorf("disk manager: decoded page %d has size %d, want %d", id, len(decoded), PageSize)
	}
	copy(buf[:], decoded)
	dm.counters.Get("reads").Inc()
	return nil
}

// WritePage writes buf to page id's slot on disk.
func (dm *DiskManager) WritePage(id PageID, buf *[PageSize]byte) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	encoded, err := dm.codec.Encode(buf[:])
	if err != nil {
		return fmt.Errorf("disk manager: encode page %d: %w", id, err)
	}
	offset := int64(id) * DiskSlotSize
	if _, err := dm.file.WriteAt(encoded, offset); err != nil {
		return fmt.Errorf("disk manager: write page %d: %w", id, err)
	}
	dm.counters.Get("writes").Inc()
	return nil
}

// Sync flushes the backing file to stable storage.
func (dm *DiskManager) Sync() error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	return dm.file.Sync()
}

// Close syncs and closes the backing file.
func (dm *DiskManager) Close() error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if err := dm.file.Sync(); err != nil {
		dm.file.Close()
		return err
	}
	return dm.file.Close()
}

// Stats returns read/write counters.
func (dm *DiskManager) Stats() map[string]int64 {
	return dm.counters.Snapshot()
}
