package selfupdate

import (
	"errors"
	"os"
	"sync"

	"github.com/spf13/afero"
)

var errLocked = errors.New("the process cannot access the file because it is being used by another process")

// flakyFs fails selected operations a set number of times before
// delegating to the wrapped filesystem.
type flakyFs struct {
	afero.Fs

	mu       sync.Mutex
	failures map[string]int
	calls    map[string]int
}

func newFlakyFs(base afero.Fs) *flakyFs {
	return &flakyFs{Fs: base, failures: map[string]int{}, calls: map[string]int{}}
}

func (f *flakyFs) failNext(op string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[op] = n
}

func (f *flakyFs) callCount(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *flakyFs) check(op, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[op]++
	if f.failures[op] > 0 {
		f.failures[op]--
		return &os.PathError{Op: op, Path: name, Err: errLocked}
	}
	return nil
}

func (f *flakyFs) Rename(oldname, newname string) error {
	if err := f.check("rename", newname); err != nil {
		return err
	}
	return f.Fs.Rename(oldname, newname)
}

func (f *flakyFs) Remove(name string) error {
	if err := f.check("remove", name); err != nil {
		return err
	}
	return f.Fs.Remove(name)
}

func (f *flakyFs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	if flag&(os.O_WRONLY|os.O_RDWR) != 0 {
		if err := f.check("openwrite", name); err != nil {
			return nil, err
		}
	}
	return f.Fs.OpenFile(name, flag, perm)
}

type recordingLauncher struct {
	mu    sync.Mutex
	calls [][]string
	err   error
}

func (l *recordingLauncher) Launch(path string, args ...string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return l.err
	}
	l.calls = append(l.calls, append([]string{path}, args...))
	return nil
}

func (l *recordingLauncher) launched() [][]string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}
