// Package journal is an append-only audit log of ledger mutations.
// Every budget movement, and in particular every override of the
// conservation invariant, is recorded here with its authorizing actor.
package journal

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

var (
	ErrClosed    = errors.New("journal closed")
	ErrCorrupted = errors.New("journal record corrupted")
)

// maxRecordBytes bounds a single record on replay so a truncated or
// corrupted length prefix cannot trigger a huge allocation.
const maxRecordBytes = 1 << 20

// Event is one audited ledger mutation.
type Event struct {
	ID          string    `json:"id"`
	Kind        string    `json:"kind"`
	CategoryID  string    `json:"category_id"`
	AmountCents int64     `json:"amount_cents"`
	Version     uint64    `json:"version"`
	Actor       string    `json:"actor,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	Override    bool      `json:"override,omitempty"`
	At          time.Time `json:"at"`
}

// Journal appends events to a single file. Records are a uint32
// little-endian length followed by the JSON-encoded event, synced on
// every append.
type Journal struct {
	mu     sync.Mutex
	file   *os.File
	closed bool
}

func Open(filename string) (*Journal, error) {
	file, err := os.OpenFile(filename, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	return &Journal{file: file}, nil
}

func (j *Journal) Append(event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode journal event: %w", err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return ErrClosed
	}

	if err := binary.Write(j.file, binary.LittleEndian, uint32(len(data))); err != nil {
		return fmt.Errorf("write journal length: %w", err)
	}
	if _, err := j.file.Write(data); err != nil {
		return fmt.Errorf("write journal record: %w", err)
	}
	return j.file.Sync()
}

// Replay streams every event in append order. The handler returning an
// error stops the replay and surfaces that error.
func Replay(filename string, fn func(Event) error) error {
	file, err := os.Open(filename)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("open journal for replay: %w", err)
	}
	defer file.Close()

	for {
		var length uint32
		if err := binary.Read(file, binary.LittleEndian, &length); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read journal length: %w", err)
		}
		if length > maxRecordBytes {
			return fmt.Errorf("%w: record length %d", ErrCorrupted, length)
		}

		data := make([]byte, length)
		if _, err := io.ReadFull(file, data); err != nil {
			return fmt.Errorf("%w: %v", ErrCorrupted, err)
		}

		var event Event
		if err := json.Unmarshal(data, &event); err != nil {
			return fmt.Errorf("%w: %v", ErrCorrupted, err)
		}
		if err := fn(event); err != nil {
			return err
		}
	}
}

func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil
	}
	j.closed = true
	return j.file.Close()
}
