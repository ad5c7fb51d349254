package store

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"evcal/internal/ics"
	appLog "evcal/internal/log"
	"evcal/internal/model"
)

const (
	documentFile = "series.ics"
	metaFile     = "meta.json"
)

type fileMeta struct {
	UID       string    `json:"uid"`
	Revision  int64     `json:"revision"`
	UpdatedAt time.Time `json:"updated_at"`
}

// FileStore keeps one directory per series under a base directory. The
// directory is named by a hash of the uid and holds the series as an
// iCalendar document plus a small JSON file with the revision.
type FileStore struct {
	mu  sync.RWMutex
	dir string
	loc *time.Location
}

// NewFileStore creates dir if needed. Floating times in stored documents
// are read in loc.
func NewFileStore(dir string, loc *time.Location) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New("file store: empty directory")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("file store: %w", err)
	}
	if loc == nil {
		loc = time.Local
	}
	return &FileStore{dir: dir, loc: loc}, nil
}

func (f *FileStore) Get(ctx context.Context, uid string) (model.Series, error) {
	if err := ctx.Err(); err != nil {
		return model.Series{}, err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.read(f.pathFor(uid), uid)
}

func (f *FileStore) Create(ctx context.Context, s model.Series) (model.Series, error) {
	if err := ctx.Err(); err != nil {
		return model.Series{}, err
	}
	if err := checkUID(s.UID()); err != nil {
		return model.Series{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	path := f.pathFor(s.UID())
	if _, err := os.Stat(filepath.Join(path, metaFile)); err == nil {
		return model.Series{}, fmt.Errorf("%w: %s", ErrAlreadyExists, s.UID())
	}
	s = s.Clone()
	s.Revision = 1
	if err := f.write(path, s); err != nil {
		return model.Series{}, err
	}
	return s, nil
}

func (f *FileStore) Update(ctx context.Context, s model.Series) (model.Series, error) {
	if err := ctx.Err(); err != nil {
		return model.Series{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	path := f.pathFor(s.UID())
	meta, err := f.readMeta(path, s.UID())
	if err != nil {
		return model.Series{}, err
	}
	if meta.Revision != s.Revision {
		return model.Series{}, fmt.Errorf("%w: %s at revision %d, got %d", ErrConflict, s.UID(), meta.Revision, s.Revision)
	}
	s = s.Clone()
	s.Revision++
	if err := f.write(path, s); err != nil {
		return model.Series{}, err
	}
	return s, nil
}

func (f *FileStore) Delete(ctx context.Context, uid string, revision int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	path := f.pathFor(uid)
	meta, err := f.readMeta(path, uid)
	if err != nil {
		return err
	}
	if revision != 0 && meta.Revision != revision {
		return fmt.Errorf("%w: %s at revision %d, got %d", ErrConflict, uid, meta.Revision, revision)
	}
	return os.RemoveAll(path)
}

func (f *FileStore) List(ctx context.Context) ([]model.Series, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, err
	}
	out := make([]model.Series, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		path := filepath.Join(f.dir, e.Name())
		meta, err := f.readMeta(path, e.Name())
		if err != nil {
			appLog.Error("file store: skipping entry", err, "dir", e.Name())
			continue
		}
		s, err := f.read(path, meta.UID)
		if err != nil {
			appLog.Error("file store: skipping entry", err, "uid", meta.UID)
			continue
		}
		out = append(out, s)
	}
	slices.SortFunc(out, func(a, b model.Series) int { return strings.Compare(a.UID(), b.UID()) })
	return out, nil
}

func (f *FileStore) pathFor(uid string) string {
	sum := sha256.Sum256([]byte(uid))
	return filepath.Join(f.dir, hex.EncodeToString(sum[:8]))
}

func (f *FileStore) readMeta(path, uid string) (fileMeta, error) {
	var meta fileMeta
	data, err := os.ReadFile(filepath.Join(path, metaFile))
	if errors.Is(err, fs.ErrNotExist) {
		return meta, fmt.Errorf("%w: %s", ErrNotFound, uid)
	}
	if err != nil {
		return meta, err
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return meta, fmt.Errorf("file store: meta for %s: %w", uid, err)
	}
	return meta, nil
}

func (f *FileStore) read(path, uid string) (model.Series, error) {
	meta, err := f.readMeta(path, uid)
	if err != nil {
		return model.Series{}, err
	}
	body, err := os.Open(filepath.Join(path, documentFile))
	if err != nil {
		return model.Series{}, fmt.Errorf("file store: %s: %w", uid, err)
	}
	defer body.Close()

	list, err := ics.Decode(body, f.loc)
	if err != nil {
		return model.Series{}, fmt.Errorf("file store: %s: %w", uid, err)
	}
	for _, s := range list {
		if s.UID() == meta.UID {
			s.Revision = meta.Revision
			return s, nil
		}
	}
	return model.Series{}, fmt.Errorf("%w: %s", ErrNotFound, uid)
}

// write stores the document first so meta never points at a missing or
// older body.
func (f *FileStore) write(path string, s model.Series) error {
	if err := os.MkdirAll(path, 0o700); err != nil {
		return err
	}
	var doc bytes.Buffer
	if err := ics.Encode(&doc, s); err != nil {
		return err
	}
	if err := writeAtomic(filepath.Join(path, documentFile), doc.Bytes()); err != nil {
		return err
	}
	meta, err := json.MarshalIndent(fileMeta{UID: s.UID(), Revision: s.Revision, UpdatedAt: time.Now().UTC()}, "", "  ")
	if err != nil {
		return err
	}
	return writeAtomic(filepath.Join(path, metaFile), meta)
}

func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
