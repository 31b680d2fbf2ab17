package selfupdate

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// ArgsFile is the name of the argument hand-over file.
const ArgsFile = "args.json"

// ErrQueueOccupied is returned by Put while an unconsumed entry exists.
var ErrQueueOccupied = errors.New("argument queue already holds an entry")

// ArgsQueue is a durable queue of depth one carrying a command line across
// a self-update. An entry is written once and read at most once.
type ArgsQueue struct {
	fs   afero.Fs
	path string
}

// NewArgsQueue returns the queue stored in dir.
func NewArgsQueue(fsys afero.Fs, dir string) *ArgsQueue {
	return &ArgsQueue{fs: fsys, path: filepath.Join(dir, ArgsFile)}
}

// Path returns the backing file path.
func (q *ArgsQueue) Path() string {
	return q.path
}

// Put stores args. It fails with ErrQueueOccupied if an entry is pending.
func (q *ArgsQueue) Put(args []string) error {
	if args == nil {
		args = []string{}
	}
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("marshal args: %w", err)
	}

	f, err := q.fs.OpenFile(q.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return ErrQueueOccupied
		}
		return fmt.Errorf("create args file: %w", err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		q.fs.Remove(q.path)
		return fmt.Errorf("write args file: %w", err)
	}
	if err := f.Close(); err != nil {
		q.fs.Remove(q.path)
		return fmt.Errorf("close args file: %w", err)
	}
	return nil
}

// Take consumes the pending entry. ok is false when the queue is empty.
// The file is removed before the entry is decoded, so an entry is never
// delivered twice even if decoding fails.
func (q *ArgsQueue) Take() (args []string, ok bool, err error) {
	f, err := q.fs.Open(q.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("open args file: %w", err)
	}
	data, err := io.ReadAll(f)
	f.Close()
	if err != nil {
		return nil, false, fmt.Errorf("read args file: %w", err)
	}

	if err := q.fs.Remove(q.path); err != nil {
		return nil, false, fmt.Errorf("remove args file: %w", err)
	}

	if err := json.Unmarshal(data, &args); err != nil {
		return nil, false, fmt.Errorf("decode args file: %w", err)
	}
	return args, true, nil
}
