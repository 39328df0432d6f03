package graph

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/JakeFAU/genealogy-crawler/internal/genealogy"
)

// Data is the persisted layout of the data file.
type Data struct {
	Nodes []genealogy.Node `json:"nodes"`
	Edges []genealogy.Edge `json:"edges"`
}

// fileNode accepts both the current node layout and the legacy one, where a
// node embeds its advisors and students and year may be a string.
type fileNode struct {
	ID       int             `json:"id"`
	Name     *string         `json:"name"`
	School   *string         `json:"school"`
	Country  *string         `json:"country"`
	Year     json.RawMessage `json:"year"`
	Subject  *string         `json:"subject"`
	Advisors []int           `json:"advisors"`
	Students []int           `json:"students"`
}

type fileData struct {
	Nodes []fileNode       `json:"nodes"`
	Edges []genealogy.Edge `json:"edges"`
}

// LoadFile reads the data file at path. A missing file yields an empty store
// and false. Unreadable or malformed content is an ErrFatalSetup.
func LoadFile(path string) (*Store, bool, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return New(), false, nil
	}
	if err != nil {
		return nil, false, genealogy.FatalSetup("read data file %s: %v", path, err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, false, genealogy.FatalSetup("data file %s is empty", path)
	}
	d, err := Decode(raw)
	if err != nil {
		return nil, false, genealogy.FatalSetup("decode data file %s: %v", path, err)
	}
	return FromData(d), true, nil
}

// Decode parses data file content, converting legacy nodes to edges.
func Decode(raw []byte) (Data, error) {
	var fd fileData
	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(&fd); err != nil {
		return Data{}, fmt.Errorf("decode graph: %w", err)
	}
	if fd.Nodes == nil && fd.Edges == nil {
		return Data{}, errors.New("decode graph: no nodes or edges key")
	}

	d := Data{
		Nodes: make([]genealogy.Node, 0, len(fd.Nodes)),
		Edges: fd.Edges,
	}
	for _, fn := range fd.Nodes {
		year, err := decodeYear(fn.Year)
		if err != nil {
			return Data{}, fmt.Errorf("decode node %d: %w", fn.ID, err)
		}
		d.Nodes = append(d.Nodes, genealogy.Node{
			ID:      fn.ID,
			Name:    nonEmpty(fn.Name),
			School:  nonEmpty(fn.School),
			Country: nonEmpty(fn.Country),
			Year:    year,
			Subject: nonEmpty(fn.Subject),
		})
		for _, student := range fn.Students {
			d.Edges = append(d.Edges, genealogy.Edge{AdvisorID: fn.ID, StudentID: student})
		}
		for _, advisor := range fn.Advisors {
			d.Edges = append(d.Edges, genealogy.Edge{AdvisorID: advisor, StudentID: fn.ID})
		}
	}
	return d, nil
}

func decodeYear(raw json.RawMessage) (*int, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return &n, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("year %s: %w", string(raw), err)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return nil, fmt.Errorf("year %q: %w", s, err)
	}
	return &n, nil
}

func nonEmpty(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	return s
}

// Encode renders the store as indented JSON with sorted nodes and edges.
func (s *Store) Encode() ([]byte, error) {
	d := s.Data()
	if d.Edges == nil {
		d.Edges = []genealogy.Edge{}
	}
	b, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode graph: %w", err)
	}
	return append(b, '\n'), nil
}

// SaveFile writes the store to path atomically.
func (s *Store) SaveFile(path string) error {
	b, err := s.Encode()
	if err != nil {
		return err
	}
	return WriteFileAtomic(path, b, 0o644)
}

// WriteFileAtomic writes data to a temp file in the target directory and
// renames it over path, so readers never see a partial file.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write %s: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close %s: %w", tmpName, err)
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		cleanup()
		return fmt.Errorf("chmod %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}
