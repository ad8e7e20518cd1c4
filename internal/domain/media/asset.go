package media

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type AssetKind string

const (
	AssetKindVideo AssetKind = "video"
	AssetKindAudio AssetKind = "audio"
)

func ParseAssetKind(raw string) (AssetKind, error) {
	switch AssetKind(raw) {
	case AssetKindVideo, AssetKindAudio:
		return AssetKind(raw), nil
	}
	return "", fmt.Errorf("%w: unknown asset kind %q", ErrInvalidInput, raw)
}

type DerivedKind string

const (
	DerivedKindThumbnail        DerivedKind = "thumbnail"
	DerivedKindTransientMarkers DerivedKind = "transient_markers"
	DerivedKindWaveform         DerivedKind = "waveform"
)

// DerivedKindsFor returns the derived artifacts applicable to an asset kind.
func DerivedKindsFor(kind AssetKind) []DerivedKind {
	switch kind {
	case AssetKindVideo:
		return []DerivedKind{DerivedKindThumbnail}
	case AssetKindAudio:
		return []DerivedKind{DerivedKindTransientMarkers, DerivedKindWaveform}
	}
	return nil
}

type DerivedStatus string

const (
	DerivedStatusNotStarted DerivedStatus = "not_started"
	DerivedStatusPending    DerivedStatus = "pending"
	DerivedStatusReady      DerivedStatus = "ready"
	DerivedStatusFailed     DerivedStatus = "failed"
)

type DerivedState struct {
	Status     DerivedStatus `json:"status"`
	StorageKey string        `json:"storage_key,omitempty"`
	ProducedAt *time.Time    `json:"produced_at,omitempty"`
	Reason     string        `json:"reason,omitempty"`
	FailedAt   *time.Time    `json:"failed_at,omitempty"`
}

type Asset struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Kind         AssetKind `gorm:"column:kind;not null;index" json:"kind"`
	OriginalName string    `gorm:"column:original_name;not null" json:"original_name"`
	MimeType     string    `gorm:"column:mime_type" json:"mime_type"`
	SizeBytes    int64     `gorm:"column:size_bytes;not null" json:"size_bytes"`
	StorageKey   string    `gorm:"column:storage_key;not null" json:"storage_key"`

	// Probed media metadata, filled in by derived jobs when obtainable.
	DurationSeconds *float64 `gorm:"column:duration_seconds" json:"duration_seconds,omitempty"`
	Width           *int     `gorm:"column:width" json:"width,omitempty"`
	Height          *int     `gorm:"column:height" json:"height,omitempty"`
	SampleRate      *int     `gorm:"column:sample_rate" json:"sample_rate,omitempty"`
	Channels        *int     `gorm:"column:channels" json:"channels,omitempty"`

	Derived datatypes.JSON `gorm:"column:derived" json:"derived"`

	UploadedAt time.Time      `gorm:"column:uploaded_at;not null;index" json:"uploaded_at"`
	UpdatedAt  time.Time      `gorm:"column:updated_at;not null" json:"updated_at"`
	DeletedAt  gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Asset) TableName() string { return "asset" }

// DerivedStates decodes the derived column. Kinds applicable to the asset but
// absent from the column read as not_started.
func (a *Asset) DerivedStates() (map[DerivedKind]DerivedState, error) {
	states := make(map[DerivedKind]DerivedState)
	if len(a.Derived) > 0 {
		if err := json.Unmarshal(a.Derived, &states); err != nil {
			return nil, fmt.Errorf("decode derived states: %w", err)
		}
	}
	for _, k := range DerivedKindsFor(a.Kind) {
		if _, ok := states[k]; !ok {
			states[k] = DerivedState{Status: DerivedStatusNotStarted}
		}
	}
	return states, nil
}

func (a *Asset) SetDerivedStates(states map[DerivedKind]DerivedState) error {
	raw, err := json.Marshal(states)
	if err != nil {
		return fmt.Errorf("encode derived states: %w", err)
	}
	a.Derived = datatypes.JSON(raw)
	return nil
}

// NewDerivedStates builds the initial map for a fresh asset.
func NewDerivedStates(kind AssetKind) (datatypes.JSON, error) {
	states := make(map[DerivedKind]DerivedState)
	for _, k := range DerivedKindsFor(kind) {
		states[k] = DerivedState{Status: DerivedStatusNotStarted}
	}
	raw, err := json.Marshal(states)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(raw), nil
}
