// Package modelstore persists trained model bundles as gzip-compressed gob files
// named {name}_v{version}.gob.gz, with a sha256 checksum over the raw payload.
package modelstore

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"vehirec/internal/domain"
	"vehirec/internal/pipeline"
	"vehirec/internal/ranker"
)

const (
	fileSuffix         = ".gob.gz"
	maxPublishAttempts = 5
)

// Metadata describes a stored bundle.
type Metadata struct {
	Name           string        `json:"name"`
	Version        int           `json:"version"`
	RunID          string        `json:"run_id"`
	Ranker         string        `json:"ranker"`
	TrainedAt      time.Time     `json:"trained_at"`
	SavedAt        time.Time     `json:"saved_at"`
	Users          int           `json:"users"`
	Items          int           `json:"items"`
	Features       int           `json:"features"`
	Examples       int           `json:"examples"`
	Shortfall      int           `json:"shortfall"`
	ValidationLoss float64       `json:"validation_loss"`
	TrainDuration  time.Duration `json:"train_duration"`
	Checksum       string        `json:"checksum"`
	SizeBytes      int64         `json:"size_bytes"`
}

// Bundle is everything needed to serve recommendations: the fitted pipeline state
// and the trained ranker.
type Bundle struct {
	Meta   Metadata
	State  *pipeline.State
	Ranker ranker.Ranker
}

type payload struct {
	State      *pipeline.State
	RankerKind string
	RankerData []byte
}

type storedFile struct {
	Metadata       Metadata
	CompressedData []byte
}

// Store manages bundle files in one directory. Version numbers are always
// derived from the directory, so several processes may share it.
type Store struct {
	baseDir string
	mu      sync.RWMutex
}

func NewStore(baseDir string) (*Store, error) {
	if err := os.MkdirAll(baseDir, 0o750); err != nil {
		return nil, fmt.Errorf("create model directory: %w", err)
	}
	s := &Store{baseDir: baseDir}
	if _, err := os.ReadDir(baseDir); err != nil {
		return nil, fmt.Errorf("scan existing models: %w", err)
	}
	return s, nil
}

func parseFilename(file string) (name string, version int, ok bool) {
	base, found := strings.CutSuffix(file, fileSuffix)
	if !found {
		return "", 0, false
	}
	idx := strings.LastIndex(base, "_v")
	if idx <= 0 {
		return "", 0, false
	}
	v, err := strconv.Atoi(base[idx+2:])
	if err != nil || v <= 0 {
		return "", 0, false
	}
	return base[:idx], v, true
}

func (s *Store) path(name string, version int) string {
	return filepath.Join(s.baseDir, fmt.Sprintf("%s_v%d%s", name, version, fileSuffix))
}

// LatestVersion returns the newest version of name currently on disk.
func (s *Store) LatestVersion(name string) (int, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest(name)
}

func (s *Store) latest(name string) (int, bool, error) {
	versions, err := s.storedVersions(name)
	if err != nil {
		return 0, false, err
	}
	if len(versions) == 0 {
		return 0, false, nil
	}
	return versions[len(versions)-1], true, nil
}

// Save writes a bundle under the next version and returns the final metadata.
func (s *Store) Save(ctx context.Context, name string, b Bundle) (Metadata, error) {
	if err := ctx.Err(); err != nil {
		return Metadata{}, err
	}
	if b.State == nil || b.Ranker == nil {
		return Metadata{}, fmt.Errorf("save model: incomplete bundle")
	}

	rankerData, err := b.Ranker.MarshalBinary()
	if err != nil {
		return Metadata{}, fmt.Errorf("save model: %w", err)
	}

	var raw bytes.Buffer
	if err := gob.NewEncoder(&raw).Encode(payload{State: b.State, RankerKind: b.Ranker.Name(), RankerData: rankerData}); err != nil {
		return Metadata{}, fmt.Errorf("encode model: %w", err)
	}
	hash := sha256.Sum256(raw.Bytes())

	var compressed bytes.Buffer
	gzw := gzip.NewWriter(&compressed)
	if _, err := gzw.Write(raw.Bytes()); err != nil {
		return Metadata{}, fmt.Errorf("compress model: %w", err)
	}
	if err := gzw.Close(); err != nil {
		return Metadata{}, fmt.Errorf("finalize compression: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	meta := b.Meta
	meta.Name = name
	meta.Ranker = b.Ranker.Name()
	meta.Checksum = hex.EncodeToString(hash[:])
	meta.SizeBytes = int64(compressed.Len())
	meta.SavedAt = time.Now()

	for attempt := 0; attempt < maxPublishAttempts; attempt++ {
		latest, _, err := s.latest(name)
		if err != nil {
			return Metadata{}, fmt.Errorf("save model: %w", err)
		}
		meta.Version = latest + 1

		err = s.publish(name, meta, compressed.Bytes())
		if err == nil {
			return meta, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return Metadata{}, err
		}
		// another process took this version first
	}
	return Metadata{}, fmt.Errorf("publish model file: version conflict after %d attempts", maxPublishAttempts)
}

// publish writes the file under a temp name and hard-links it into place.
// The link fails with fs.ErrExist instead of replacing an existing version.
func (s *Store) publish(name string, meta Metadata, compressed []byte) error {
	tmp, err := os.CreateTemp(s.baseDir, name+"-*.tmp")
	if err != nil {
		return fmt.Errorf("create model file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if err := gob.NewEncoder(tmp).Encode(storedFile{Metadata: meta, CompressedData: compressed}); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write model file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close model file: %w", err)
	}
	if err := os.Link(tmpName, s.path(name, meta.Version)); err != nil {
		return fmt.Errorf("publish model file: %w", err)
	}
	return nil
}

// Load reads a bundle. Version 0 means the latest one.
// ErrModelNotFound is returned when nothing was saved under name.
func (s *Store) Load(ctx context.Context, name string, version int) (*Bundle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if version == 0 {
		v, ok, err := s.latest(name)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: %s", domain.ErrModelNotFound, name)
		}
		version = v
	}

	sf, err := readFile(s.path(name, version))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s v%d", domain.ErrModelNotFound, name, version)
		}
		return nil, err
	}

	gzr, err := gzip.NewReader(bytes.NewReader(sf.CompressedData))
	if err != nil {
		return nil, fmt.Errorf("decompress model: %w", err)
	}
	defer func() { _ = gzr.Close() }()

	raw, err := io.ReadAll(gzr)
	if err != nil {
		return nil, fmt.Errorf("read decompressed data: %w", err)
	}

	hash := sha256.Sum256(raw)
	if checksum := hex.EncodeToString(hash[:]); checksum != sf.Metadata.Checksum {
		return nil, fmt.Errorf("checksum mismatch: expected %s, got %s", sf.Metadata.Checksum, checksum)
	}

	var p payload
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&p); err != nil {
		return nil, fmt.Errorf("decode model: %w", err)
	}

	r, err := ranker.New(p.RankerKind, ranker.Config{})
	if err != nil {
		return nil, fmt.Errorf("decode model: %w", err)
	}
	if err := r.UnmarshalBinary(p.RankerData); err != nil {
		return nil, err
	}

	return &Bundle{Meta: sf.Metadata, State: p.State, Ranker: r}, nil
}

func readFile(path string) (*storedFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	var sf storedFile
	if err := gob.NewDecoder(f).Decode(&sf); err != nil {
		return nil, fmt.Errorf("read model file: %w", err)
	}
	return &sf, nil
}

// List returns metadata of every stored version of name, oldest first.
func (s *Store) List(ctx context.Context, name string) ([]Metadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	versions, err := s.storedVersions(name)
	if err != nil {
		return nil, err
	}

	out := make([]Metadata, 0, len(versions))
	for _, v := range versions {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		sf, err := readFile(s.path(name, v))
		if err != nil {
			continue
		}
		out = append(out, sf.Metadata)
	}
	return out, nil
}

// Prune deletes all but the newest keep versions of name.
func (s *Store) Prune(ctx context.Context, name string, keep int) (int, error) {
	if keep < 1 {
		keep = 1
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	versions, err := s.storedVersions(name)
	if err != nil {
		return 0, err
	}
	if len(versions) <= keep {
		return 0, nil
	}

	removed := 0
	for _, v := range versions[:len(versions)-keep] {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if err := os.Remove(s.path(name, v)); err != nil && !os.IsNotExist(err) {
			return removed, fmt.Errorf("delete model: %w", err)
		}
		removed++
	}
	return removed, nil
}

func (s *Store) storedVersions(name string) ([]int, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, fmt.Errorf("read directory: %w", err)
	}
	var versions []int
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		n, v, ok := parseFilename(entry.Name())
		if ok && n == name {
			versions = append(versions, v)
		}
	}
	sort.Ints(versions)
	return versions, nil
}
