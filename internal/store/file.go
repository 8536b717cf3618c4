package store

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gustycube/baxter/internal/types"
)

const watchlistFileName = "watchlist"

var classFileNames = map[types.Class]string{
	types.ClassAllowed: "allowed_ips",
	types.ClassFlagged: "flagged_ips",
	types.ClassBanned:  "banned_ips",
}

// File keeps one append-only text file per set, one target per line, and an
// in-memory copy that is reloaded from disk on every Snapshot so files
// removed or edited by an outside scheduler are picked up by the next run.
type File struct {
	mu  sync.Mutex
	dir string
	mem *Memory
}

// OpenFile creates dir if needed and loads the existing artifacts.
func OpenFile(dir string) (*File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	f := &File{dir: dir}
	if err := f.reload(); err != nil {
		return nil, err
	}
	return f, nil
}

// Path returns the artifact file backing class.
func (f *File) Path(class types.Class) string {
	return filepath.Join(f.dir, classFileNames[class])
}

func (f *File) reload() error {
	mem := NewMemory()
	for class, name := range classFileNames {
		lines, err := readLines(filepath.Join(f.dir, name))
		if err != nil {
			return err
		}
		mem.sets[class] = lines
	}
	lines, err := readLines(filepath.Join(f.dir, watchlistFileName))
	if err != nil {
		return err
	}
	for _, n := range lines {
		mem.watch = append(mem.watch, n)
		mem.watchBy[n]++
	}
	f.mem = mem
	return nil
}

func (f *File) Snapshot(ctx context.Context) (map[string]types.Class, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.reload(); err != nil {
		return nil, err
	}
	return f.mem.Snapshot(ctx)
}

func (f *File) Append(ctx context.Context, class types.Class, target string) error {
	if err := validClass(class); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := appendLine(f.Path(class), target); err != nil {
		return err
	}
	return f.mem.Append(ctx, class, target)
}

func (f *File) List(ctx context.Context, class types.Class) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mem.List(ctx, class)
}

func (f *File) AppendWatch(ctx context.Context, notation string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := appendLine(filepath.Join(f.dir, watchlistFileName), notation); err != nil {
		return 0, err
	}
	return f.mem.AppendWatch(ctx, notation)
}

func (f *File) Watchlist(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mem.Watchlist(ctx)
}

func (f *File) ResetDaily(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, name := range classFileNames {
		if err := removeIfExists(filepath.Join(f.dir, name)); err != nil {
			return err
		}
	}
	return f.mem.ResetDaily(ctx)
}

func (f *File) ResetWeekly(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := removeIfExists(filepath.Join(f.dir, watchlistFileName)); err != nil {
		return err
	}
	return f.mem.ResetWeekly(ctx)
}

func (f *File) Ping(ctx context.Context) error {
	_, err := os.Stat(f.dir)
	return err
}

func (f *File) Close() error { return nil }

func readLines(path string) ([]string, error) {
	fh, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer fh.Close()

	var lines []string
	sc := bufio.NewScanner(fh)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line != "" {
			lines = append(lines, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return lines, nil
}

func appendLine(path, line string) error {
	fh, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	if _, err := fh.WriteString(line + "\n"); err != nil {
		fh.Close()
		return fmt.Errorf("append %s: %w", path, err)
	}
	if err := fh.Sync(); err != nil {
		fh.Close()
		return fmt.Errorf("sync %s: %w", path, err)
	}
	return fh.Close()
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", path, err)
	}
	return nil
}
