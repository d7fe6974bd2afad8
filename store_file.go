package parcache

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

var fileRecordMagic = []byte("PCR1")

const fileRecordHeaderLen = 12

// fileStore keeps one self-contained record file per key under dir. Records
// carry their own expiry, so no index file is needed for correctness. Writes
// go through a temp file and an atomic rename: concurrent writers to the same
// key race to last-write-wins, and readers never observe a torn record.
type fileStore struct {
	dir        string
	defaultTTL time.Duration
	counter    hitCounter
}

func newFileStore(dir string, defaultTTL time.Duration) Store {
	if dir == "" {
		dir = defaultFileDir()
	}
	if defaultTTL <= 0 {
		defaultTTL = defaultCacheTTL
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return newErrorStore(DriverFile, storageErr(DriverFile, "mkdir", err))
	}
	return &fileStore{
		dir:        dir,
		defaultTTL: defaultTTL,
	}
}

func (s *fileStore) Driver() Driver {
	return DriverFile
}

func (s *fileStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	path := s.path(key)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.counter.record(false)
			return nil, false, nil
		}
		return nil, false, storageErr(DriverFile, "get", err)
	}

	expiresAt, value, err := decodeFileRecord(data)
	if err != nil {
		_ = os.Remove(path)
		return nil, false, storageErr(DriverFile, "get", err)
	}

	if expiresAt > 0 && time.Now().UnixNano() > expiresAt {
		_ = os.Remove(path)
		s.counter.record(false)
		return nil, false, nil
	}

	s.counter.record(true)
	return value, true, nil
}

func (s *fileStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	expiresAt := time.Now().Add(ttl).UnixNano()

	tmp, err := os.CreateTemp(s.dir, "entry-*")
	if err != nil {
		return storageErr(DriverFile, "set", err)
	}
	tmpPath := tmp.Name()

	var header [fileRecordHeaderLen]byte
	copy(header[:4], fileRecordMagic)
	binary.BigEndian.PutUint64(header[4:], uint64(expiresAt))

	if _, err := tmp.Write(header[:]); err != nil {
		tmp.Close()
		_ = os.Remove(tmpPath)
		return storageErr(DriverFile, "set", err)
	}
	if _, err := tmp.Write(value); err != nil {
		tmp.Close()
		_ = os.Remove(tmpPath)
		return storageErr(DriverFile, "set", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return storageErr(DriverFile, "set", err)
	}
	if err := os.Rename(tmpPath, s.path(key)); err != nil {
		_ = os.Remove(tmpPath)
		return storageErr(DriverFile, "set", err)
	}
	return nil
}

func (s *fileStore) Add(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	_, ok, err := s.Get(ctx, key)
	if err != nil {
		return false, err
	}
	if ok {
		return false, nil
	}
	return true, s.Set(ctx, key, value, ttl)
}

func (s *fileStore) Increment(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	current := int64(0)
	if body, ok, err := s.Get(ctx, key); err != nil {
		return 0, err
	} else if ok {
		n, err := strconv.ParseInt(string(body), 10, 64)
		if err != nil {
			return 0, storageErr(DriverFile, "increment", errors.New("value is not numeric"))
		}
		current = n
	}
	next := current + delta
	if err := s.Set(ctx, key, []byte(strconv.FormatInt(next, 10)), ttl); err != nil {
		return 0, err
	}
	return next, nil
}

func (s *fileStore) Delete(_ context.Context, key string) error {
	if err := os.Remove(s.path(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return storageErr(DriverFile, "delete", err)
	}
	return nil
}

func (s *fileStore) DeleteMany(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		if err := s.Delete(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

func (s *fileStore) Flush(_ context.Context) error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return storageErr(DriverFile, "flush", err)
	}
	for _, entry := range entries {
		_ = os.Remove(filepath.Join(s.dir, entry.Name()))
	}
	return nil
}

func (s *fileStore) Stats(_ context.Context) (Stats, error) {
	hits, misses := s.counter.snapshot()
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Stats{Hits: hits, Misses: misses}, nil
		}
		return Stats{}, storageErr(DriverFile, "stats", err)
	}
	size := int64(0)
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".entry") {
			size++
		}
	}
	return Stats{Hits: hits, Misses: misses, Size: size}, nil
}

func (s *fileStore) path(key string) string {
	sum := sha256.Sum256([]byte(key))
	name := hex.EncodeToString(sum[:])
	return filepath.Join(s.dir, name+".entry")
}

func decodeFileRecord(data []byte) (int64, []byte, error) {
	if len(data) < fileRecordHeaderLen || !bytes.Equal(data[:4], fileRecordMagic) {
		return 0, nil, errors.New("malformed cache record")
	}
	expiresAt := int64(binary.BigEndian.Uint64(data[4:fileRecordHeaderLen]))
	return expiresAt, data[fileRecordHeaderLen:], nil
}
