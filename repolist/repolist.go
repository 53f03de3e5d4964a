// Package repolist reads and writes the descriptor cache, a line delimited
// file with one JSON repository record per line.
package repolist

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"time"

	"github.com/utilitywarehouse/repo-zoek/mirror"
)

const (
	// CloneURLFieldSSH selects the ssh clone url of a record
	CloneURLFieldSSH = "sshUrl"
	// CloneURLFieldHTTPS selects the https url of a record
	CloneURLFieldHTTPS = "url"

	maxLineSize = 4 * 1024 * 1024
)

var ErrMalformed = errors.New("malformed repository record")

type Label struct {
	Name string `json:"name"`
}

type Labels struct {
	Nodes []Label `json:"nodes"`
}

type Language struct {
	Name string `json:"name"`
}

// Record is a single cached repository. Its JSON form matches the repository
// node returned by the GitHub GraphQL API.
type Record struct {
	Name            string    `json:"name"`
	CreatedAt       time.Time `json:"createdAt"`
	DiskUsage       *int64    `json:"diskUsage"`
	IsDisabled      bool      `json:"isDisabled"`
	IsEmpty         bool      `json:"isEmpty"`
	Labels          Labels    `json:"labels"`
	PrimaryLanguage *Language `json:"primaryLanguage"`
	SSHURL          string    `json:"sshUrl"`
	URL             string    `json:"url"`
}

// ValidCloneURLField returns true if given field can be used as clone url
func ValidCloneURLField(field string) bool {
	return field == CloneURLFieldSSH || field == CloneURLFieldHTTPS
}

// Writer writes records to a temporary file next to the cache. The cache is
// only replaced on Commit so readers never see a partially written list.
type Writer struct {
	path  string
	tmp   *os.File
	buf   *bufio.Writer
	enc   *json.Encoder
	count int
}

// Create starts a new cache at path
func Create(path string) (*Writer, error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return nil, fmt.Errorf("unable to create temp repo list file err:%w", err)
	}
	buf := bufio.NewWriter(tmp)
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	return &Writer{path: path, tmp: tmp, buf: buf, enc: enc}, nil
}

// Write appends a record
func (w *Writer) Write(r Record) error {
	if err := w.enc.Encode(r); err != nil {
		return fmt.Errorf("unable to write record %q err:%w", r.Name, err)
	}
	w.count++
	return nil
}

// Count returns number of records written so far
func (w *Writer) Count() int {
	return w.count
}

// Commit flushes written records and atomically replaces the cache
func (w *Writer) Commit() error {
	if err := w.buf.Flush(); err != nil {
		w.Abort()
		return fmt.Errorf("unable to flush repo list err:%w", err)
	}
	if err := w.tmp.Close(); err != nil {
		os.Remove(w.tmp.Name())
		return fmt.Errorf("unable to close repo list err:%w", err)
	}
	if err := os.Rename(w.tmp.Name(), w.path); err != nil {
		os.Remove(w.tmp.Name())
		return fmt.Errorf("unable to replace repo list err:%w", err)
	}
	return nil
}

// Abort discards written records, existing cache is left untouched
func (w *Writer) Abort() {
	w.tmp.Close()
	os.Remove(w.tmp.Name())
}

// Read returns a lazy sequence of descriptors read from the cache at path.
// A line which can't be decoded ends the sequence with an error wrapping
// ErrMalformed. Records without name are yielded with an empty name.
func Read(path, cloneURLField string) iter.Seq2[mirror.Descriptor, error] {
	return func(yield func(mirror.Descriptor, error) bool) {
		if !ValidCloneURLField(cloneURLField) {
			yield(mirror.Descriptor{}, fmt.Errorf("invalid clone url field %q", cloneURLField))
			return
		}

		f, err := os.Open(path)
		if err != nil {
			yield(mirror.Descriptor{}, fmt.Errorf("unable to open repo list err:%w", err))
			return
		}
		defer f.Close()

		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 64*1024), maxLineSize)

		var lineNo int
		for scanner.Scan() {
			lineNo++
			d, err := decode(scanner.Bytes(), cloneURLField)
			if err != nil {
				yield(mirror.Descriptor{}, fmt.Errorf("%s:%d: %w", path, lineNo, err))
				return
			}
			if !yield(d, nil) {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			yield(mirror.Descriptor{}, fmt.Errorf("unable to read repo list err:%w", err))
		}
	}
}

// Names returns all non empty record names in the cache
func Names(path string) (map[string]bool, error) {
	names := make(map[string]bool)
	// name is independent of the clone url field
	for d, err := range Read(path, CloneURLFieldSSH) {
		if err != nil {
			return nil, err
		}
		if d.Name != "" {
			names[d.Name] = true
		}
	}
	return names, nil
}

// Lookup returns the descriptor with given name
func Lookup(path, cloneURLField, name string) (mirror.Descriptor, bool, error) {
	for d, err := range Read(path, cloneURLField) {
		if err != nil {
			return mirror.Descriptor{}, false, err
		}
		if d.Name == name {
			return d, true, nil
		}
	}
	return mirror.Descriptor{}, false, nil
}

func decode(line []byte, cloneURLField string) (mirror.Descriptor, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(line, &fields); err != nil {
		return mirror.Descriptor{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if fields == nil {
		return mirror.Descriptor{}, fmt.Errorf("%w: record is not an object", ErrMalformed)
	}

	var d mirror.Descriptor
	var err error

	if d.Name, err = optionalString(fields, "name"); err != nil {
		return mirror.Descriptor{}, err
	}
	if d.CloneURL, err = optionalString(fields, cloneURLField); err != nil {
		return mirror.Descriptor{}, err
	}

	if raw, ok := fields["diskUsage"]; ok && !isNull(raw) {
		var v int64
		if err := json.Unmarshal(raw, &v); err != nil {
			return mirror.Descriptor{}, fmt.Errorf("%w: diskUsage: %v", ErrMalformed, err)
		}
		if v < 0 {
			return mirror.Descriptor{}, fmt.Errorf("%w: diskUsage is negative", ErrMalformed)
		}
		d.DiskUsageKB = &v
	}

	return d, nil
}

func optionalString(fields map[string]json.RawMessage, key string) (string, error) {
	raw, ok := fields[key]
	if !ok || isNull(raw) {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrMalformed, key, err)
	}
	return s, nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
