// Package logstore manages the per-task append-only log files
// described in spec.md §4.D / §6: one plain file per task id under
// task_logs/, kept open by the child for merged stdout+stderr.
package logstore

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/klauspost/compress/zstd"
)

const logDirName = "task_logs"
const seekChunkSize = 4096

// Store resolves and manages log files under a pueue directory.
type Store struct {
	dir string
}

// New returns a Store rooted at pueueDirectory/task_logs, creating the
// directory if necessary.
func New(pueueDirectory string) (*Store, error) {
	dir := filepath.Join(pueueDirectory, logDirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("logstore: create directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Path returns the deterministic log file path for a task id.
func (s *Store) Path(id int) string {
	return filepath.Join(s.dir, strconv.Itoa(id)+".log")
}

// Create truncates-or-creates the log file for id and returns two
// handles to it, so the spawned child can be given distinct stdout and
// stderr file descriptors that both append to the same file.
func (s *Store) Create(id int) (stdout, stderr *os.File, err error) {
	path := s.Path(id)
	stdout, err = os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("logstore: create %d: %w", id, err)
	}
	// O_APPEND on a separate open file description: without it, stdout
	// and stderr would each start writing at offset 0 and clobber each
	// other instead of interleaving into one growing log.
	stderr, err = os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		stdout.Close()
		return nil, nil, fmt.Errorf("logstore: reopen %d for stderr: %w", id, err)
	}
	return stdout, stderr, nil
}

// OpenRead opens the log file for reading. It returns os.ErrNotExist
// wrapped if the file is missing, which callers (the log streamer in
// particular) must tolerate: the file may be deleted underneath them.
func (s *Store) OpenRead(id int) (*os.File, error) {
	f, err := os.Open(s.Path(id))
	if err != nil {
		return nil, err
	}
	return f, nil
}

// Delete removes a task's log file. Missing files are not an error.
func (s *Store) Delete(id int) error {
	if err := os.Remove(s.Path(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("logstore: delete %d: %w", id, err)
	}
	return nil
}

// ResetAll removes every file in the log directory.
func (s *Store) ResetAll() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("logstore: read directory: %w", err)
	}
	for _, e := range entries {
		if err := os.Remove(filepath.Join(s.dir, e.Name())); err != nil {
			return fmt.Errorf("logstore: remove %s: %w", e.Name(), err)
		}
	}
	return nil
}

// SeekToLastLines seeks f to the byte offset of the start of the last n
// lines, scanning backwards in seekChunkSize chunks and counting '\n'
// bytes. It returns complete=true if the whole file fits within n
// lines, in which case f is left at offset 0 (spec.md §8 boundary
// behaviour).
func SeekToLastLines(f *os.File, n int) (complete bool, err error) {
	if n <= 0 {
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return false, fmt.Errorf("logstore: seek start: %w", err)
		}
		return true, nil
	}

	size, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		return false, fmt.Errorf("logstore: seek end: %w", err)
	}

	var (
		newlines  int
		pos       = size
		foundAt   int64 = -1
		chunk           = make([]byte, seekChunkSize)
	)
	for pos > 0 {
		readSize := int64(seekChunkSize)
		if pos < readSize {
			readSize = pos
		}
		pos -= readSize
		if _, err := f.Seek(pos, io.SeekStart); err != nil {
			return false, fmt.Errorf("logstore: seek chunk: %w", err)
		}
		if _, err := io.ReadFull(f, chunk[:readSize]); err != nil {
			return false, fmt.Errorf("logstore: read chunk: %w", err)
		}
		for i := int(readSize) - 1; i >= 0; i-- {
			if chunk[i] == '\n' {
				newlines++
				if newlines == n+1 {
					foundAt = pos + int64(i) + 1
					break
				}
			}
		}
		if foundAt >= 0 {
			break
		}
	}

	if foundAt < 0 {
		// Fewer than n lines in the whole file.
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return false, fmt.Errorf("logstore: seek start: %w", err)
		}
		return true, nil
	}

	if _, err := f.Seek(foundAt, io.SeekStart); err != nil {
		return false, fmt.Errorf("logstore: seek found offset: %w", err)
	}
	return false, nil
}

// ReadCompressed optionally seeks to the last `lines` lines, then reads
// the remainder of f and compresses it with zstd. outputComplete
// mirrors SeekToLastLines's complete flag when lines is set, or is
// always true when the entire file was read.
func ReadCompressed(f *os.File, lines *int) (compressed []byte, outputComplete bool, err error) {
	outputComplete = true
	if lines != nil {
		complete, err := SeekToLastLines(f, *lines)
		if err != nil {
			return nil, false, err
		}
		outputComplete = complete
	}

	raw, err := io.ReadAll(f)
	if err != nil {
		return nil, false, fmt.Errorf("logstore: read remainder: %w", err)
	}

	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf)
	if err != nil {
		return nil, false, fmt.Errorf("logstore: new zstd writer: %w", err)
	}
	if _, err := enc.Write(raw); err != nil {
		enc.Close()
		return nil, false, fmt.Errorf("logstore: compress: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, false, fmt.Errorf("logstore: finalize compression: %w", err)
	}
	return buf.Bytes(), outputComplete, nil
}

// Decompress is the client-side counterpart to ReadCompressed.
func Decompress(compressed []byte) ([]byte, error) {
	dec, err := zstd.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("logstore: new zstd reader: %w", err)
	}
	defer dec.Close()
	out, err := io.ReadAll(dec)
	if err != nil {
		return nil, fmt.Errorf("logstore: decompress: %w", err)
	}
	return out, nil
}

// TailText reads the last n lines of the log file for id as plain
// text, used by the callback renderer's `output` variable. Missing
// files yield an empty string, not an error.
func (s *Store) TailText(id int, n int) (string, error) {
	f, err := s.OpenRead(id)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	defer f.Close()

	if _, err := SeekToLastLines(f, n); err != nil {
		return "", err
	}
	raw, err := io.ReadAll(f)
	if err != nil {
		return "", fmt.Errorf("logstore: read tail: %w", err)
	}
	return string(raw), nil
}
