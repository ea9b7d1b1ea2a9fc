// Package cache is a small compressed key/value cache on bitcask, used for
// lookups that are expensive to refetch from the Twitch API.
package cache

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"git.mills.io/prologic/bitcask"
	"golang.org/x/crypto/sha3"

	"twitchbot/internal/infrastructure/logger"
)

// ErrMiss is returned when a key is absent or expired.
var ErrMiss = errors.New("cache: miss")

const maxValueSize = 4 * 1024 * 1024

type Store struct {
	db *bitcask.Bitcask
}

func Open(path string) (*Store, error) {
	db, err := bitcask.Open(path, bitcask.WithMaxValueSize(maxValueSize))
	if err != nil {
		return nil, fmt.Errorf("cache: open %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// RunMerge reclaims space every interval until ctx is done.
func (s *Store) RunMerge(ctx context.Context, interval time.Duration) {
	log := logger.Service("cache")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.db.Merge(); err != nil {
				log.Error("merge failed", "error", err)
			}
		}
	}
}

// PutJSON stores v under key; ttl <= 0 keeps it forever.
func (s *Store) PutJSON(key string, v any, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("cache: encode %s: %w", key, err)
	}
	compressed, err := compress(raw)
	if err != nil {
		return err
	}
	if ttl > 0 {
		return s.db.PutWithTTL(cacheKey(key), compressed, ttl)
	}
	return s.db.Put(cacheKey(key), compressed)
}

func (s *Store) GetJSON(key string, v any) error {
	compressed, err := s.db.Get(cacheKey(key))
	if err != nil {
		return ErrMiss
	}
	raw, err := decompress(compressed)
	if err != nil {
		return fmt.Errorf("cache: decompress %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("cache: decode %s: %w", key, err)
	}
	return nil
}

func (s *Store) Delete(key string) error {
	return s.db.Delete(cacheKey(key))
}

func cacheKey(key string) []byte {
	hash := sha3.Sum224([]byte(key))
	return []byte(hex.EncodeToString(hash[:]))
}

func compress(data []byte) ([]byte, error) {
	var b bytes.Buffer
	gz, err := gzip.NewWriterLevel(&b, gzip.BestCompression)
	if err != nil {
		return nil, err
	}
	if _, err := gz.Write(data); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

func decompress(data []byte) ([]byte, error) {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer gz.Close()
	return io.ReadAll(gz)
}
