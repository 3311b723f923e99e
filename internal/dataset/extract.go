package dataset

import (
	"context"
	"errors"
	"time"

	"github.com/skycastml/pvnowcast/internal/config"
	"github.com/skycastml/pvnowcast/internal/cube"
	"github.com/skycastml/pvnowcast/internal/pvdb"
	"github.com/skycastml/pvnowcast/internal/sites"
)

// Extractor produces zero or one Sample per (anchor, site) pair. It is a pure
// function of the two immutable datasets; a pair that cannot be aligned is
// reported with a DiscardReason, never an error. Errors are reserved for I/O
// failures reading the source data.
type Extractor struct {
	pv     pvdb.Store
	frames *cube.Field
	table  *sites.Table
	source string
	window config.WindowConfig
}

// NewExtractor wires an extractor over explicit dataset handles.
func NewExtractor(pv pvdb.Store, frames *cube.Field, table *sites.Table, source string, window config.WindowConfig) *Extractor {
	return &Extractor{pv: pv, frames: frames, table: table, source: source, window: window}
}

// Window returns the extractor's window geometry.
func (e *Extractor) Window() config.WindowConfig {
	return e.window
}

// Extract aligns the feature, target, and crop windows for one (anchor, site)
// pair. The returned sample is non-nil exactly when the reason is DiscardNone.
func (e *Extractor) Extract(ctx context.Context, anchor time.Time, siteID int64) (*Sample, DiscardReason, error) {
	anchor = anchor.UTC()
	w := e.window

	coord, err := e.table.Lookup(e.source, siteID)
	if err != nil {
		if errors.Is(err, sites.ErrUnknownSource) || errors.Is(err, sites.ErrUnknownSite) {
			return nil, DiscardUnknownSite, nil
		}
		return nil, DiscardNone, err
	}

	features, err := e.pv.Range(ctx, siteID, anchor, anchor.Add(w.FeatureSpan()))
	if err != nil {
		return nil, DiscardNone, err
	}
	if len(features) != w.FeatureSteps {
		return nil, DiscardFeatureWindow, nil
	}

	targetStart := anchor.Add(w.TargetOffset)
	targets, err := e.pv.Range(ctx, siteID, targetStart, targetStart.Add(w.TargetSpan()))
	if err != nil {
		return nil, DiscardNone, err
	}
	if len(targets) != w.TargetSteps {
		return nil, DiscardTargetWindow, nil
	}

	recs := e.frames.TimeIndicesBetween(anchor, anchor.Add(w.FeatureSpan()))
	if len(recs) != w.FeatureSteps {
		return nil, DiscardFrameCount, nil
	}

	half := w.CropSize / 2
	frames, err := e.frames.ReadCrop(recs, coord.Y-half, coord.X-half, w.CropSize, w.Channel)
	if err != nil {
		if errors.Is(err, cube.ErrOutOfBounds) {
			return nil, DiscardCropBounds, nil
		}
		return nil, DiscardNone, err
	}

	s := &Sample{
		Anchor:   anchor,
		SiteID:   siteID,
		Features: make([]float32, w.FeatureSteps),
		Frames:   frames,
		Targets:  make([]float32, w.TargetSteps),
	}
	for i, r := range features {
		s.Features[i] = float32(r.Value)
	}
	for i, r := range targets {
		s.Targets[i] = float32(r.Value)
	}
	return s, DiscardNone, nil
}
