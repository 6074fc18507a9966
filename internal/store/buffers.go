package store

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// BufferStatusUpdate persists a status update payload of a group that had
// no callback registered when it was published; the bus buffers every such
// update. The buffer is drained by Bus.DrainUndelivered at engine startup
// (spec.md §4.6).
func (s *Store) BufferStatusUpdate(payload any) error {
	return s.bufferEvent(collStatusUpdates, payload)
}

// BufferProgressUpdate is the progress-update analogue of BufferStatusUpdate.
func (s *Store) BufferProgressUpdate(payload any) error {
	return s.bufferEvent(collProgressUpdates, payload)
}

func (s *Store) bufferEvent(collection string, payload any) error {
	id := uuid.NewString()
	return writeRecord(s.recordPath(collection, id), payload)
}

// DrainStatusUpdates returns every buffered status update payload, in
// arbitrary order, decoding each with unmarshal, and deletes them from the
// store. Events that fail to decode are skipped rather than aborting the
// whole drain, since a single corrupt buffered record should not block
// delivery of the rest.
func (s *Store) DrainStatusUpdates(unmarshal func(data []byte) error) error {
	return s.drainEvents(collStatusUpdates, unmarshal)
}

// DrainProgressUpdates is the progress-update analogue of DrainStatusUpdates.
func (s *Store) DrainProgressUpdates(unmarshal func(data []byte) error) error {
	return s.drainEvents(collProgressUpdates, unmarshal)
}

func (s *Store) drainEvents(collection string, unmarshal func(data []byte) error) error {
	dir := s.collectionDir(collection)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if err := unmarshal(data); err == nil {
			deleteRecordQuiet(path)
		}
	}
	return nil
}

func deleteRecordQuiet(path string) {
	_ = deleteRecord(path)
}
