// Package snapshot writes and discovers the immutable per-run metadata files.
//
// Every run writes metadata_<ts>.json and errors_<ts>.txt into the output
// directory and then repoints latest.json at them. Existing snapshots are
// never overwritten.
package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/JakeFAU/genealogy-crawler/internal/genealogy"
	"github.com/JakeFAU/genealogy-crawler/internal/graph"
)

const (
	// TimestampLayout is embedded in snapshot file names, always in UTC.
	TimestampLayout       = "20060102_150405.000"
	legacyTimestampLayout = "20060102_150405"

	// IndexFile points at the most recent snapshot.
	IndexFile = "latest.json"

	metadataPrefix = "metadata_"
	errorsPrefix   = "errors_"
)

// Snapshot is the metadata record of one run.
type Snapshot struct {
	Timestamp         string      `json:"timestamp"`
	RunID             string      `json:"run_id,omitempty"`
	IDMin             int         `json:"id_min"`
	StartID           int         `json:"start_id"`
	LastValidID       int         `json:"last_valid_id"`
	TotalNodes        int         `json:"total_nodes"`
	TotalEdges        int         `json:"total_edges"`
	NewRecordsThisRun int         `json:"new_records_this_run"`
	BadIDs            []int       `json:"bad_ids"`
	ErrorsCount       int         `json:"errors_count"`
	IDsAttempted      int         `json:"ids_attempted"`
	StopReason        string      `json:"stop_reason,omitempty"`
	Unresolved        map[int]int `json:"unresolved,omitempty"`
	AbandonedIDs      []int       `json:"abandoned_ids,omitempty"`
}

// Index is the content of latest.json. File names are relative to the
// output directory.
type Index struct {
	MetadataFile string `json:"metadata_file"`
	ErrorsFile   string `json:"errors_file"`
	Timestamp    string `json:"timestamp"`
	RunID        string `json:"run_id,omitempty"`
}

// Paths locates the files written for one run.
type Paths struct {
	Metadata string
	Errors   string
}

// Entry is one snapshot found in an output directory.
type Entry struct {
	Path      string
	Timestamp time.Time
}

// FileNames returns the metadata and error log names for ts.
func FileNames(ts time.Time) (string, string) {
	stamp := ts.UTC().Format(TimestampLayout)
	return metadataPrefix + stamp + ".json", errorsPrefix + stamp + ".txt"
}

// Write persists snap and its error log into dir and updates the index. The
// snapshot timestamp is taken from ts; on a name collision ts is advanced by
// a millisecond until a free name is found.
func Write(dir string, snap Snapshot, runErrors []genealogy.RunError, ts time.Time) (Paths, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Paths{}, fmt.Errorf("create output dir %s: %w", dir, err)
	}

	var (
		paths Paths
		err   error
	)
	for attempt := 0; attempt < 1000; attempt++ {
		stamp := ts.Add(time.Duration(attempt) * time.Millisecond)
		snap.Timestamp = stamp.UTC().Format(TimestampLayout)
		metaName, errName := FileNames(stamp)
		paths = Paths{Metadata: filepath.Join(dir, metaName), Errors: filepath.Join(dir, errName)}
		err = writeMetadata(paths.Metadata, snap)
		if !errors.Is(err, fs.ErrExist) {
			break
		}
	}
	if err != nil {
		return Paths{}, err
	}

	if err := WriteErrorLog(paths.Errors, runErrors); err != nil {
		return paths, err
	}

	idx := Index{
		MetadataFile: filepath.Base(paths.Metadata),
		ErrorsFile:   filepath.Base(paths.Errors),
		Timestamp:    snap.Timestamp,
		RunID:        snap.RunID,
	}
	b, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return paths, fmt.Errorf("encode index: %w", err)
	}
	if err := graph.WriteFileAtomic(filepath.Join(dir, IndexFile), append(b, '\n'), 0o644); err != nil {
		return paths, fmt.Errorf("write index: %w", err)
	}
	return paths, nil
}

func writeMetadata(path string, snap Snapshot) error {
	if snap.BadIDs == nil {
		snap.BadIDs = []int{}
	}
	b, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return createExclusive(path, append(b, '\n'))
}

// WriteErrorLog writes one "id,message" line per entry, in ID order. The file
// must not already exist.
func WriteErrorLog(path string, runErrors []genealogy.RunError) error {
	sorted := append([]genealogy.RunError(nil), runErrors...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	var sb strings.Builder
	for _, e := range sorted {
		msg := strings.Join(strings.Fields(e.Message), " ")
		fmt.Fprintf(&sb, "%d,%s\n", e.ID, msg)
	}
	return createExclusive(path, []byte(sb.String()))
}

func createExclusive(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	return nil
}

// Load reads the snapshot at path. Any failure is an ErrFatalSetup since the
// run cannot know where to resume.
func Load(path string) (*Snapshot, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, genealogy.FatalSetup("read metadata %s: %v", path, err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, genealogy.FatalSetup("decode metadata %s: %v", path, err)
	}
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, genealogy.FatalSetup("decode metadata %s: %v", path, err)
	}
	// Older snapshots recorded the cursor as id_max.
	if _, ok := fields["last_valid_id"]; !ok {
		if legacy, ok := fields["id_max"]; ok {
			if err := json.Unmarshal(legacy, &snap.LastValidID); err != nil {
				return nil, genealogy.FatalSetup("decode metadata %s: id_max: %v", path, err)
			}
		}
	}
	if snap.IDMin == 0 {
		snap.IDMin = 1
	}
	return &snap, nil
}

// Discover returns the path of the most recent snapshot in dir, or "" when
// there is none. The index is preferred; without a usable index the newest
// metadata file by embedded timestamp wins.
func Discover(dir string) (string, error) {
	if path, ok := fromIndex(dir); ok {
		return path, nil
	}
	entries, err := List(dir)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "", nil
	}
	return entries[len(entries)-1].Path, nil
}

func fromIndex(dir string) (string, bool) {
	raw, err := os.ReadFile(filepath.Join(dir, IndexFile))
	if err != nil {
		return "", false
	}
	var idx Index
	if err := json.Unmarshal(raw, &idx); err != nil || idx.MetadataFile == "" {
		return "", false
	}
	path := filepath.Join(dir, filepath.Base(idx.MetadataFile))
	if _, err := os.Stat(path); err != nil {
		return "", false
	}
	return path, true
}

// List returns every metadata file in dir, oldest first. Names without a
// parseable timestamp are ordered by modification time.
func List(dir string) ([]Entry, error) {
	dirEntries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}

	var out []Entry
	for _, de := range dirEntries {
		name := de.Name()
		if de.IsDir() || !strings.HasPrefix(name, "metadata") || !strings.HasSuffix(name, ".json") {
			continue
		}
		ts, ok := ParseTimestamp(name)
		if !ok {
			info, err := de.Info()
			if err != nil {
				continue
			}
			ts = info.ModTime().UTC()
		}
		out = append(out, Entry{Path: filepath.Join(dir, name), Timestamp: ts})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Path < out[j].Path
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, nil
}

// ParseTimestamp extracts the timestamp embedded in a metadata file name.
func ParseTimestamp(name string) (time.Time, bool) {
	stamp := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(name), metadataPrefix), ".json")
	for _, layout := range []string{TimestampLayout, legacyTimestampLayout} {
		if ts, err := time.ParseInLocation(layout, stamp, time.UTC); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}
