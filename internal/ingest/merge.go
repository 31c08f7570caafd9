// Package ingest implements merging of multi-part lightning artifacts.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"stormsync/internal/timestamp"
	"stormsync/internal/types"
)

// Event is a single lightning event detection.
type Event struct {
	ID            int64   `json:"event_id"`
	TimeOffset    float64 `json:"event_time_offset"`
	Lat           float64 `json:"lat"`
	Lon           float64 `json:"lon"`
	Energy        float64 `json:"energy"`
	ParentGroupID int64   `json:"event_parent_group_id"`
}

// Group is a cluster of events detected in one frame.
type Group struct {
	ID            int64   `json:"group_id"`
	TimeOffset    float64 `json:"group_time_offset"`
	Lat           float64 `json:"lat"`
	Lon           float64 `json:"lon"`
	Energy        float64 `json:"energy"`
	Area          float64 `json:"area"`
	QualityFlag   int     `json:"group_quality_flag"`
	ParentFlashID int64   `json:"group_parent_flash_id"`
}

// Flash is a full lightning flash spanning one or more groups.
type Flash struct {
	ID                   int64   `json:"flash_id"`
	TimeOffsetFirstEvent float64 `json:"flash_time_offset_of_first_event"`
	TimeOffsetLastEvent  float64 `json:"flash_time_offset_of_last_event"`
	Lat                  float64 `json:"lat"`
	Lon                  float64 `json:"lon"`
	Energy               float64 `json:"energy"`
	Area                 float64 `json:"area"`
	QualityFlag          int     `json:"flash_quality_flag"`
}

// EventCollection is the payload of one lightning artifact. Merged
// collections concatenate the detection slices, sum the counts and widen the
// coverage interval.
type EventCollection struct {
	Events  []Event `json:"events"`
	Groups  []Group `json:"groups"`
	Flashes []Flash `json:"flashes"`

	EventCount int `json:"event_count"`
	GroupCount int `json:"group_count"`
	FlashCount int `json:"flash_count"`

	TimeCoverageStart time.Time `json:"time_coverage_start"`
	TimeCoverageEnd   time.Time `json:"time_coverage_end"`
	ProductTime       time.Time `json:"product_time"`

	Attributes map[string]string `json:"attributes,omitempty"`
}

// PartCodec reads and writes lightning artifacts on disk.
type PartCodec interface {
	DecodePart(path string) (*EventCollection, error)
	EncodePart(path string, col *EventCollection) error
}

// JSONPartCodec is the default codec, storing collections as JSON.
type JSONPartCodec struct{}

// DecodePart reads the collection stored at path.
func (JSONPartCodec) DecodePart(path string) (*EventCollection, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read part %s: %w", path, err)
	}
	var col EventCollection
	if err := json.Unmarshal(data, &col); err != nil {
		return nil, fmt.Errorf("failed to decode part %s: %w", path, err)
	}
	return &col, nil
}

// EncodePart writes col to path.
func (JSONPartCodec) EncodePart(path string, col *EventCollection) error {
	data, err := json.Marshal(col)
	if err != nil {
		return fmt.Errorf("failed to encode part %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write part %s: %w", path, err)
	}
	return nil
}

// Merger combines the parts of one multi-part instant into a single artifact.
type Merger struct {
	codec  PartCodec
	logger *slog.Logger
}

// NewMerger creates a Merger. A nil codec defaults to JSON.
func NewMerger(codec PartCodec, logger *slog.Logger) *Merger {
	if codec == nil {
		codec = JSONPartCodec{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Merger{codec: codec, logger: logger}
}

// MergeParts merges parts into one artifact in outdir and deletes the merged
// inputs. Merging is best effort: on any failure the individual parts are
// kept on disk and returned unchanged, so downstream consumers always see the
// current file list.
func (m *Merger) MergeParts(_ context.Context, parts []string, outdir, product string, target time.Time) []string {
	if len(parts) <= 1 {
		return parts
	}

	cols := make([]*EventCollection, 0, len(parts))
	for _, p := range parts {
		col, err := m.codec.DecodePart(p)
		if err != nil {
			m.logger.Error("failed to merge parts, keeping individual files",
				"error", &types.AppError{
					Code:    types.ErrCodeArtifactMergeFailed,
					Message: fmt.Sprintf("failed to decode %s: %v", p, err),
					Err:     err,
				})
			return parts
		}
		cols = append(cols, col)
	}
	merged := mergeCollections(cols)

	ts, ok := newestPartTimestamp(parts)
	if !ok {
		m.logger.Warn("no part timestamp recognized, naming from target", "target", target)
		ts = target
	}
	mergedPath := filepath.Join(outdir, MergedArtifactName(product, ts))

	if err := m.codec.EncodePart(mergedPath, merged); err != nil {
		m.logger.Error("failed to merge parts, keeping individual files",
			"error", &types.AppError{
				Code:    types.ErrCodeArtifactMergeFailed,
				Message: fmt.Sprintf("failed to write %s: %v", mergedPath, err),
				Err:     err,
			})
		return parts
	}

	deleted := 0
	for _, p := range parts {
		if err := os.Remove(p); err != nil {
			m.logger.Warn("failed to delete merged part", "path", p, "error", err)
			continue
		}
		deleted++
	}
	m.logger.Debug("deleted merged parts", "count", deleted)

	return []string{mergedPath}
}

func mergeCollections(cols []*EventCollection) *EventCollection {
	merged := &EventCollection{}
	for i, col := range cols {
		merged.Events = append(merged.Events, col.Events...)
		merged.Groups = append(merged.Groups, col.Groups...)
		merged.Flashes = append(merged.Flashes, col.Flashes...)
		merged.EventCount += col.EventCount
		merged.GroupCount += col.GroupCount
		merged.FlashCount += col.FlashCount

		if i == 0 || col.TimeCoverageStart.Before(merged.TimeCoverageStart) {
			merged.TimeCoverageStart = col.TimeCoverageStart
		}
		if i == 0 || col.TimeCoverageEnd.After(merged.TimeCoverageEnd) {
			merged.TimeCoverageEnd = col.TimeCoverageEnd
		}
		if i == 0 || col.ProductTime.Before(merged.ProductTime) {
			merged.ProductTime = col.ProductTime
		}
	}
	if len(cols) > 0 && cols[0].Attributes != nil {
		merged.Attributes = make(map[string]string, len(cols[0].Attributes))
		for k, v := range cols[0].Attributes {
			merged.Attributes[k] = v
		}
	}
	return merged
}

// newestPartTimestamp extracts the newest recognizable timestamp among the
// part filenames.
func newestPartTimestamp(parts []string) (time.Time, bool) {
	var newest time.Time
	found := false
	for _, p := range parts {
		ts, ok := timestamp.Extract(filepath.Base(p))
		if !ok {
			continue
		}
		if !found || ts.After(newest) {
			newest = ts
			found = true
		}
	}
	return newest, found
}

// MergedArtifactName builds the filename of a merged artifact. The extension
// matches the individual parts so lexicographic directory order stays
// chronological.
func MergedArtifactName(product string, ts time.Time) string {
	return "OR_" + product + "_merged_" + timestamp.FormatCompact(ts) + ".nc"
}
