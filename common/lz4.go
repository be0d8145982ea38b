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
	"bytes"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/pierrec/lz4/v4"
)

var (
	ErrUnknownCompressionLevel = errors.New("unknown compression level")
)

var (
	compressionLevel = lz4.Fast
	writerPool       = sync.Pool{
		New: func() any { return lz4.NewWriter(nil) },
	}
)

// parseCompressionLevel maps fast or 1-9 to an lz4 level
func parseCompressionLevel(name string) (lz4.CompressionLevel, error) {
	levels := map[string]lz4.CompressionLevel{
		"":     lz4.Fast,
		"fast": lz4.Fast,
		"1":    lz4.Level1,
		"2":    lz4.Level2,
		"3":    lz4.Level3,
		"4":    lz4.Level4,
		"5":    lz4.Level5,
		"6":    lz4.Level6,
		"7":    lz4.Level7,
		"8":    lz4.Level8,
		"9":    lz4.Level9,
	}

	level, ok := levels[strings.ToLower(name)]
	if !ok {
		return lz4.Fast, fmt.Errorf("%w: %q", ErrUnknownCompressionLevel, name)
	}
	return level, nil
}

// Compress writes in as a single lz4 frame at the level chosen by
// cache.compression
func Compress(in []byte) ([]byte, error) {
	buf := bytes.NewBuffer(make([]byte, 0, len(in)/2))

	zw := writerPool.Get().(*lz4.Writer)
	defer writerPool.Put(zw)

	zw.Reset(buf)
	if err := zw.Apply(lz4.CompressionLevelOption(compressionLevel)); err != nil {
		return nil, err
	}
	if _, err := zw.Write(in); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decompress reads a frame written by Compress
func Decompress(in []byte) ([]byte, error) {
	var out bytes.Buffer
	if _, err := out.ReadFrom(lz4.NewReader(bytes.NewReader(in))); err != nil {
		return nil, fmt.Errorf("lz4: %w", err)
	}
	return out.Bytes(), nil
}
