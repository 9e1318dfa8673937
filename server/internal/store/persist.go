package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/defecttrend/defecttrend/pkg/trend"
	"github.com/defecttrend/defecttrend/pkg/types"
)

// FormatVersion is the history document version written by Save.
const FormatVersion = 2

// historyFile is the on-disk document. Records per job are oldest first.
type historyFile struct {
	Version int                        `json:"version"`
	SavedAt time.Time                  `json:"saved_at"`
	Jobs    map[string]json.RawMessage `json:"jobs"`
}

type jobHistory struct {
	UpdatedAt time.Time         `json:"updated_at"`
	Builds    []json.RawMessage `json:"builds"`
}

// record is the version 2 build record.
type record struct {
	Version   int            `json:"version"`
	Number    int            `json:"number"`
	Label     string         `json:"label,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Counts    map[string]int `json:"counts"`
}

// legacyRecord is the version 1 build record: a display label such as "#12",
// a unix millisecond timestamp and one flat field per severity.
type legacyRecord struct {
	Build       string `json:"build"`
	Timestamp   int64  `json:"timestamp"`
	Error       int    `json:"error"`
	Warning     int    `json:"warning"`
	Style       int    `json:"style"`
	Performance int    `json:"performance"`
	Information int    `json:"information"`
	NoCategory  int    `json:"no_category"`
	Portability int    `json:"portability"`
}

// Save writes every job's history to path. The file is replaced atomically.
func (s *Store) Save(path string) error {
	s.mu.RLock()
	gen := s.gen
	entries := make([]Entry, 0, len(s.data))
	for _, e := range s.data {
		entries = append(entries, *e)
	}
	s.mu.RUnlock()

	doc := historyFile{
		Version: FormatVersion,
		SavedAt: s.now().UTC(),
		Jobs:    make(map[string]json.RawMessage, len(entries)),
	}
	for _, e := range entries {
		jh := jobHistory{UpdatedAt: e.UpdatedAt.UTC()}
		err := trend.Walk(e.Head, 0, func(n *types.HistoryNode) error {
			raw, err := json.Marshal(record{
				Version:   FormatVersion,
				Number:    n.Build.Number,
				Label:     n.Build.Label,
				Timestamp: n.Build.Timestamp.UTC(),
				Counts:    n.Snapshot.Keys(),
			})
			if err != nil {
				return err
			}
			jh.Builds = append(jh.Builds, raw)
			return nil
		})
		if err != nil {
			return fmt.Errorf("store: save job %q: %w", e.Job, err)
		}
		// Walk is newest first; the file is oldest first.
		for i, j := 0, len(jh.Builds)-1; i < j; i, j = i+1, j-1 {
			jh.Builds[i], jh.Builds[j] = jh.Builds[j], jh.Builds[i]
		}
		raw, err := json.Marshal(jh)
		if err != nil {
			return fmt.Errorf("store: save job %q: %w", e.Job, err)
		}
		doc.Jobs[e.Job] = raw
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("store: encode history: %w", err)
	}
	if err := writeAtomic(path, data); err != nil {
		return fmt.Errorf("store: write %s: %w", path, err)
	}

	s.mu.Lock()
	if gen > s.savedGen {
		s.savedGen = gen
	}
	s.mu.Unlock()
	return nil
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// LoadFile replaces the store's contents with the history at path.
// A missing file leaves the store empty and is not an error.
func (s *Store) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("store: read %s: %w", path, err)
	}

	var doc historyFile
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("store: parse %s: %w", path, err)
	}
	if doc.Version > FormatVersion {
		return fmt.Errorf("store: %s has unsupported version %d (max %d)", path, doc.Version, FormatVersion)
	}

	now := s.now()
	loaded := make(map[string]*Entry, len(doc.Jobs))
	for job, raw := range doc.Jobs {
		jh, err := decodeJob(raw, now)
		if err != nil {
			return fmt.Errorf("store: job %q: %w", job, err)
		}
		e, err := buildEntry(job, jh)
		if err != nil {
			return fmt.Errorf("store: job %q: %w", job, err)
		}
		loaded[job] = e
	}

	s.mu.Lock()
	s.data = loaded
	s.gen++
	s.savedGen = s.gen
	s.mu.Unlock()
	return nil
}

// decodeJob accepts both the object form and the version 1 bare list.
func decodeJob(raw json.RawMessage, now time.Time) (jobHistory, error) {
	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, "[") {
		var builds []json.RawMessage
		if err := json.Unmarshal(raw, &builds); err != nil {
			return jobHistory{}, err
		}
		return jobHistory{UpdatedAt: now, Builds: builds}, nil
	}
	var jh jobHistory
	if err := json.Unmarshal(raw, &jh); err != nil {
		return jobHistory{}, err
	}
	if jh.UpdatedAt.IsZero() {
		jh.UpdatedAt = now
	}
	return jh, nil
}

func buildEntry(job string, jh jobHistory) (*Entry, error) {
	recs := make([]record, 0, len(jh.Builds))
	for i, raw := range jh.Builds {
		r, err := migrateRecord(raw)
		if err != nil {
			return nil, fmt.Errorf("build %d: %w", i, err)
		}
		recs = append(recs, r)
	}
	sort.SliceStable(recs, func(i, j int) bool { return recs[i].Number < recs[j].Number })

	var head *types.HistoryNode
	for i, r := range recs {
		if i > 0 && r.Number == recs[i-1].Number {
			return nil, fmt.Errorf("duplicate build %d: %w", r.Number, types.ErrDataIntegrity)
		}
		snap, err := types.SnapshotFromKeys(r.Counts)
		if err != nil {
			return nil, fmt.Errorf("build %d: %w", r.Number, err)
		}
		head = head.Prepend(types.Build{Number: r.Number, Label: r.Label, Timestamp: r.Timestamp}, snap)
	}
	return &Entry{Job: job, Head: head, Builds: len(recs), UpdatedAt: jh.UpdatedAt}, nil
}

// migrateRecord decodes a stored build record of any known version and
// returns it in the current form.
func migrateRecord(raw json.RawMessage) (record, error) {
	var hdr struct {
		Version int `json:"version"`
	}
	if err := json.Unmarshal(raw, &hdr); err != nil {
		return record{}, err
	}

	switch hdr.Version {
	case 0, 1:
		var old legacyRecord
		if err := json.Unmarshal(raw, &old); err != nil {
			return record{}, err
		}
		return upgradeV1(old)
	case FormatVersion:
		var r record
		if err := json.Unmarshal(raw, &r); err != nil {
			return record{}, err
		}
		if r.Number <= 0 {
			return record{}, fmt.Errorf("build number %d: %w", r.Number, types.ErrDataIntegrity)
		}
		return r, nil
	default:
		return record{}, fmt.Errorf("unsupported record version %d", hdr.Version)
	}
}

func upgradeV1(old legacyRecord) (record, error) {
	n, err := strconv.Atoi(strings.TrimPrefix(strings.TrimSpace(old.Build), "#"))
	if err != nil || n <= 0 {
		return record{}, fmt.Errorf("version 1 build label %q has no build number: %w", old.Build, types.ErrDataIntegrity)
	}
	r := record{
		Version: FormatVersion,
		Number:  n,
		Label:   old.Build,
		Counts: map[string]int{
			types.SeverityError.String():       old.Error,
			types.SeverityWarning.String():     old.Warning,
			types.SeverityStyle.String():       old.Style,
			types.SeverityPerformance.String(): old.Performance,
			types.SeverityInformation.String(): old.Information,
			types.SeverityNoCategory.String():  old.NoCategory,
			types.SeverityPortability.String(): old.Portability,
		},
	}
	if old.Timestamp > 0 {
		r.Timestamp = time.UnixMilli(old.Timestamp).UTC()
	}
	return r, nil
}
