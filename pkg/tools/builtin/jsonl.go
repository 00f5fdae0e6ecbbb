package builtin

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// jsonlFile is a newline-delimited JSON file of records of type T.
type jsonlFile[T any] struct {
	mu   sync.Mutex
	path string
}

func newJSONLFile[T any](dir, name string) *jsonlFile[T] {
	return &jsonlFile[T]{path: filepath.Join(dir, name)}
}

func (f *jsonlFile[T]) append(rec T) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	line, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return err
	}
	fh, err := os.OpenFile(f.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer fh.Close()
	_, err = fh.Write(append(line, '\n'))
	return err
}

// readAll returns every record. A missing file is an empty list.
func (f *jsonlFile[T]) readAll() ([]T, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.readLocked()
}

func (f *jsonlFile[T]) readLocked() ([]T, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []T
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for n := 1; sc.Scan(); n++ {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var rec T
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, fmt.Errorf("%s:%d: %w", filepath.Base(f.path), n, err)
		}
		out = append(out, rec)
	}
	return out, sc.Err()
}

// update rewrites the file with the records returned by fn.
func (f *jsonlFile[T]) update(fn func([]T) ([]T, error)) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	recs, err := f.readLocked()
	if err != nil {
		return err
	}
	recs, err = fn(recs)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	for _, r := range recs {
		line, err := json.Marshal(r)
		if err != nil {
			return err
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, f.path)
}
