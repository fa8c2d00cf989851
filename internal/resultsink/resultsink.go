// Package resultsink dumps per-vertex algorithm results to disk as
// msgpack records inside a zstd stream.
package resultsink

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"
)

// Record is one per-vertex result.
type Record struct {
	ID  uint32      `msgpack:"id"`
	Val interface{} `msgpack:"val"`
}

// Save writes one record per vertex in [0, n), pulling values from
// value.
func Save(path string, n uint64, value func(id uint32) interface{}) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("resultsink: create %s: %w", path, err)
	}
	defer f.Close()

	zw, err := zstd.NewWriter(f)
	if err != nil {
		return fmt.Errorf("resultsink: zstd writer: %w", err)
	}
	enc := msgpack.NewEncoder(zw)

	for id := uint64(0); id < n; id++ {
		if err := enc.Encode(Record{ID: uint32(id), Val: value(uint32(id))}); err != nil {
			zw.Close()
			return fmt.Errorf("resultsink: encode vertex %d: %w", id, err)
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("resultsink: close zstd stream: %w", err)
	}
	return f.Sync()
}

// Load streams the records of a result file to fn.
func Load(path string, fn func(rec Record) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("resultsink: open %s: %w", path, err)
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return fmt.Errorf("resultsink: zstd reader: %w", err)
	}
	defer zr.Close()
	dec := msgpack.NewDecoder(zr)

	for {
		var rec Record
		if err := dec.Decode(&rec); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("resultsink: decode: %w", err)
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
}
