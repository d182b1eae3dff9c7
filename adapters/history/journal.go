package history

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/Skryldev/sizefit/core"
	apperrors "github.com/Skryldev/sizefit/errors"
)

// Journal is a file-backed HistoryStore. Every Add appends one zstd frame
// holding a JSON-encoded entry; List streams the concatenated frames.
type Journal struct {
	path string

	mu  sync.Mutex
	enc *zstd.Encoder
	dec *zstd.Decoder
	now func() time.Time
	log core.Logger
}

// OpenJournal prepares a journal at path, creating parent directories.
// The file itself is created on the first Add.
func OpenJournal(path string) (*Journal, error) {
	if path == "" {
		return nil, fmt.Errorf("history journal: empty path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("history journal: mkdir: %w", err)
	}
	enc, err := zstd.NewWriter(nil,
		zstd.WithEncoderConcurrency(1),
		zstd.WithEncoderLevel(zstd.SpeedBetterCompression),
	)
	if err != nil {
		return nil, fmt.Errorf("history journal: encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil,
		zstd.WithDecoderConcurrency(1),
		zstd.WithDecoderLowmem(true),
	)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("history journal: decoder: %w", err)
	}
	return &Journal{path: path, enc: enc, dec: dec, now: time.Now, log: core.NopLogger{}}, nil
}

// SetLogger sets where List reports a damaged tail.
func (j *Journal) SetLogger(l core.Logger) {
	if l == nil {
		l = core.NopLogger{}
	}
	j.mu.Lock()
	j.log = l
	j.mu.Unlock()
}

// Close releases the codec resources. The journal must not be used afterwards.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.dec.Close()
	return j.enc.Close()
}

func (j *Journal) Add(ctx context.Context, e core.HistoryEntry) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", apperrors.Wrap(apperrors.CategoryStorage, "history.add", err)
	}
	e = stamp(e, j.now)
	line, err := json.Marshal(e)
	if err != nil {
		return "", apperrors.Wrap(apperrors.CategoryStorage, "history.add.marshal", err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	frame := j.enc.EncodeAll(line, nil)

	f, err := os.OpenFile(j.path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return "", unavailable("history.add.open", err)
	}
	if _, err := f.Write(frame); err != nil {
		f.Close()
		return "", unavailable("history.add.write", err)
	}
	if err := f.Close(); err != nil {
		return "", unavailable("history.add.close", err)
	}
	return e.ID, nil
}

func (j *Journal) List(ctx context.Context, limit int) ([]core.HistoryEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryStorage, "history.list", err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	raw, err := os.ReadFile(j.path)
	if errors.Is(err, os.ErrNotExist) {
		return []core.HistoryEntry{}, nil
	}
	if err != nil {
		return nil, unavailable("history.list.read", err)
	}
	entries, err := j.replay(raw)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []core.HistoryEntry{}
	}
	return newest(entries, limit), nil
}

// replay decodes entries until the stream ends. A torn final frame only
// drops that frame, and so does damage after at least one good entry: the
// prefix is returned and the rest is logged. Damage before any entry is an
// error.
func (j *Journal) replay(raw []byte) ([]core.HistoryEntry, error) {
	if err := j.dec.Reset(bytes.NewReader(raw)); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryStorage, "history.list.decode", err)
	}
	defer j.dec.Reset(nil)

	var entries []core.HistoryEntry
	dec := json.NewDecoder(j.dec)
	for {
		var e core.HistoryEntry
		err := dec.Decode(&e)
		if err == io.EOF {
			return entries, nil
		}
		if err != nil {
			if len(entries) == 0 && !errors.Is(err, io.ErrUnexpectedEOF) {
				return nil, apperrors.Wrap(apperrors.CategoryStorage, "history.list.decode", err)
			}
			j.log.Warn("history.list.truncated", "path", j.path, "kept", len(entries), "error", err.Error())
			return entries, nil
		}
		entries = append(entries, e)
	}
}

func unavailable(op string, err error) error {
	return apperrors.New(apperrors.CategoryStorage, op, apperrors.Join(apperrors.ErrStorageUnavailable, err))
}
