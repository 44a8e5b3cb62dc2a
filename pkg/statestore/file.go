package statestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// globalShard holds keys that carry no namespace prefix.
const globalShard = "_global"

// fileEntry is the on-disk form of a Record. JSON values are kept inline so
// the state file stays readable; anything else is stored base64 in Raw.
type fileEntry struct {
	Value     json.RawMessage `json:"value,omitempty"`
	Raw       []byte          `json:"raw,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// FileStore keeps records in one JSON file per namespace under dir. The
// namespace is the key segment before the first "/". Writes replace the file
// via temp-file + rename so concurrent readers never see a torn file;
// concurrent writers from different processes may lose an update (last
// rename wins).
type FileStore struct {
	dir string
	mu  sync.Mutex
}

// NewFileStore returns a FileStore rooted at dir, creating it if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create state dir %s: %w", dir, err)
	}
	return &FileStore{dir: dir}, nil
}

// Dir returns the directory holding the shard files.
func (f *FileStore) Dir() string { return f.dir }

// ShardPath returns the file holding keys of namespace ns.
func (f *FileStore) ShardPath(ns string) string {
	return filepath.Join(f.dir, ns+".json")
}

func (f *FileStore) shardFor(key string) string {
	if i := strings.IndexByte(key, '/'); i > 0 {
		return key[:i]
	}
	return globalShard
}

// load reads a shard. A missing or corrupt file reads as empty: this state
// is ephemeral and the next write replaces it.
func (f *FileStore) load(shard string) (map[string]fileEntry, error) {
	data, err := os.ReadFile(f.ShardPath(shard))
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]fileEntry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read shard %s: %w", shard, err)
	}
	entries := map[string]fileEntry{}
	if err := json.Unmarshal(data, &entries); err != nil {
		return map[string]fileEntry{}, nil
	}
	return entries, nil
}

func (f *FileStore) save(shard string, entries map[string]fileEntry) error {
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("encode shard %s: %w", shard, err)
	}
	tmp, err := os.CreateTemp(f.dir, "."+shard+"-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp for shard %s: %w", shard, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write shard %s: %w", shard, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close shard %s: %w", shard, err)
	}
	if err := os.Rename(tmpName, f.ShardPath(shard)); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace shard %s: %w", shard, err)
	}
	return nil
}

func toRecord(key string, e fileEntry) Record {
	rec := Record{Key: key, UpdatedAt: e.UpdatedAt}
	if len(e.Value) > 0 {
		rec.Value = append([]byte(nil), e.Value...)
	} else {
		rec.Value = append([]byte(nil), e.Raw...)
	}
	return rec
}

// Get implements Store.
func (f *FileStore) Get(ctx context.Context, key string) (Record, bool, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	entries, err := f.load(f.shardFor(key))
	if err != nil {
		return Record{}, false, err
	}
	e, ok := entries[key]
	if !ok {
		return Record{}, false, nil
	}
	return toRecord(key, e), true, nil
}

// Put implements Store.
func (f *FileStore) Put(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now()
	}
	e := fileEntry{UpdatedAt: rec.UpdatedAt.UTC()}
	if json.Valid(rec.Value) {
		e.Value = append(json.RawMessage(nil), rec.Value...)
	} else {
		e.Raw = append([]byte(nil), rec.Value...)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	shard := f.shardFor(rec.Key)
	entries, err := f.load(shard)
	if err != nil {
		return err
	}
	entries[rec.Key] = e
	return f.save(shard, entries)
}

// Delete implements Store.
func (f *FileStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	shard := f.shardFor(key)
	entries, err := f.load(shard)
	if err != nil {
		return err
	}
	if _, ok := entries[key]; !ok {
		return nil
	}
	delete(entries, key)
	return f.save(shard, entries)
}

// List implements Store. Prefixes that name a namespace read only that
// namespace's shard; shorter prefixes scan every shard.
func (f *FileStore) List(ctx context.Context, prefix string, notBefore time.Time) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	var shards []string
	if i := strings.IndexByte(prefix, '/'); i > 0 {
		shards = []string{prefix[:i]}
	} else {
		all, err := f.shards()
		if err != nil {
			return nil, err
		}
		shards = all
	}

	var out []Record
	for _, shard := range shards {
		entries, err := f.load(shard)
		if err != nil {
			return nil, err
		}
		for key, e := range entries {
			rec := toRecord(key, e)
			if keep(rec, prefix, notBefore) {
				out = append(out, rec)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (f *FileStore) shards() ([]string, error) {
	des, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, fmt.Errorf("read state dir: %w", err)
	}
	var out []string
	for _, de := range des {
		name := de.Name()
		if de.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".json") {
			continue
		}
		out = append(out, strings.TrimSuffix(name, ".json"))
	}
	return out, nil
}
