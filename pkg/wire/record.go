package wire

import (
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/defecttrend/defecttrend/pkg/types"
)

var jobNameRE = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// BuildRecord is one analysed build as shipped by an agent.
type BuildRecord struct {
	Job       string         `json:"job"`
	Number    int            `json:"number"`
	Label     string         `json:"label,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Counts    map[string]int `json:"counts"`
}

// ValidJobName reports whether name can be used as a job identifier.
func ValidJobName(name string) bool {
	return jobNameRE.MatchString(name)
}

// Validate checks the record's identity fields and counts.
func (r BuildRecord) Validate() error {
	if !ValidJobName(r.Job) {
		return fmt.Errorf("wire: invalid job name %q", r.Job)
	}
	if r.Number <= 0 {
		return fmt.Errorf("wire: build number must be positive, got %d", r.Number)
	}
	if _, err := r.Snapshot(); err != nil {
		return fmt.Errorf("wire: %w", err)
	}
	return nil
}

// Snapshot converts the record's counts into a Snapshot.
func (r BuildRecord) Snapshot() (types.Snapshot, error) {
	return types.SnapshotFromKeys(r.Counts)
}

// Build returns the record's build identity.
func (r BuildRecord) Build() types.Build {
	return types.Build{Number: r.Number, Label: r.Label, Timestamp: r.Timestamp}
}

// ToStruct encodes r as a protobuf Struct.
func (r BuildRecord) ToStruct() (*structpb.Struct, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("wire: encode record: %w", err)
	}
	s := &structpb.Struct{}
	if err := protojson.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("wire: encode record: %w", err)
	}
	return s, nil
}

// RecordFromStruct decodes a BuildRecord from a protobuf Struct.
func RecordFromStruct(s *structpb.Struct) (BuildRecord, error) {
	var r BuildRecord
	if s == nil {
		return r, fmt.Errorf("wire: empty record")
	}
	data, err := protojson.Marshal(s)
	if err != nil {
		return r, fmt.Errorf("wire: decode record: %w", err)
	}
	if err := json.Unmarshal(data, &r); err != nil {
		return r, fmt.Errorf("wire: decode record: %w", err)
	}
	return r, nil
}
