// Copyright 2021-2024
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package common

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	lru "github.com/hashicorp/golang-lru"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
	"github.com/zeebo/blake3"
)

var (
	ErrCacheMiss    = errors.New("cache miss")
	ErrCorruptEntry = errors.New("cache entry is too short")
)

var (
	cacheLock sync.RWMutex
	rdb       *redis.Client
	cache     *lru.Cache
	cacheTTL  time.Duration
)

// SetupCache creates the local LRU cache and, when cache.redis is set, the
// shared redis tier. A cache.local_size of 0 disables caching.
func SetupCache() error {
	cacheLock.Lock()
	defer cacheLock.Unlock()

	cache = nil
	rdb = nil
	cacheTTL = time.Duration(viper.GetInt("cache.ttl")) * time.Second

	level, err := parseCompressionLevel(viper.GetString("cache.compression"))
	if err != nil {
		log.Error().Err(err).Msg("invalid cache compression level")
		return err
	}
	compressionLevel = level

	size := viper.GetInt("cache.local_size")
	if size <= 0 {
		log.Debug().Msg("response cache disabled")
		return nil
	}

	cache, err = lru.New(size)
	if err != nil {
		log.Error().Err(err).Int("Size", size).Msg("could not create LRU cache")
		return err
	}

	if viper.GetBool("cache.redis") {
		opt, err := redis.ParseURL(viper.GetString("cache.redis_url"))
		if err != nil {
			log.Error().Err(err).Msg("could not parse redis URL")
			return err
		}
		rdb = redis.NewClient(opt)
	}

	return nil
}

// CacheKey hashes the given parts into a fixed length key
func CacheKey(parts ...string) string {
	h := blake3.New()
	for _, part := range parts {
		// error is always nil for hash writers
		_, _ = h.Write([]byte(part))
		_, _ = h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil)[:16])
}

// CacheSet compresses and stores bytes under key. Entries older than
// cache.ttl seconds are never returned; a ttl of 0 keeps them forever.
func CacheSet(ctx context.Context, key string, bytes []byte) error {
	cacheLock.RLock()
	defer cacheLock.RUnlock()

	if cache == nil {
		return nil
	}

	frame, err := Compress(bytes)
	if err != nil {
		return err
	}
	entry := encodeEntry(time.Now(), frame)
	cache.Add(key, entry)

	if rdb != nil {
		return rdb.Set(ctx, key, entry, cacheTTL).Err()
	}
	return nil
}

// CacheGet returns the decompressed value for key or ErrCacheMiss
func CacheGet(ctx context.Context, key string) ([]byte, error) {
	cacheLock.RLock()
	defer cacheLock.RUnlock()

	if cache == nil {
		return nil, ErrCacheMiss
	}

	if v, ok := cache.Get(key); ok {
		stored, frame, err := decodeEntry(v.([]byte))
		if err != nil || expired(stored) {
			cache.Remove(key)
			return nil, ErrCacheMiss
		}
		return Decompress(frame)
	}

	if rdb != nil {
		val, err := rdb.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		if err != nil {
			return nil, err
		}
		stored, frame, err := decodeEntry(val)
		if err != nil || expired(stored) {
			return nil, ErrCacheMiss
		}
		cache.Add(key, val)
		return Decompress(frame)
	}

	return nil, ErrCacheMiss
}

// encodeEntry prefixes frame with the store time as big endian unix nanos
func encodeEntry(stored time.Time, frame []byte) []byte {
	entry := make([]byte, 8+len(frame))
	binary.BigEndian.PutUint64(entry, uint64(stored.UnixNano()))
	copy(entry[8:], frame)
	return entry
}

func decodeEntry(entry []byte) (time.Time, []byte, error) {
	if len(entry) < 8 {
		return time.Time{}, nil, ErrCorruptEntry
	}
	stored := time.Unix(0, int64(binary.BigEndian.Uint64(entry)))
	return stored, entry[8:], nil
}

func expired(stored time.Time) bool {
	return cacheTTL > 0 && time.Since(stored) > cacheTTL
}
