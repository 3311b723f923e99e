package dataset

import "time"

// Sample is one training example: an hour of PV history, the matching
// satellite crop sequence, and the future PV readings to predict. Samples
// are ephemeral and owned by whoever requested them.
type Sample struct {
	Anchor time.Time
	SiteID int64

	// Features holds FeatureSteps PV readings starting at the anchor.
	Features []float32

	// Frames holds the spatial crops for the feature window, flat, shaped
	// (FeatureSteps, CropSize, CropSize).
	Frames []float32

	// Targets holds TargetSteps future PV readings.
	Targets []float32
}

// DiscardReason names why an (anchor, site) pair produced no sample.
// Discards are expected with sparse real-world data and are never errors.
type DiscardReason int

const (
	// DiscardNone means the sample was extracted successfully.
	DiscardNone DiscardReason = iota

	// DiscardUnknownSite: the site is absent from the location table.
	DiscardUnknownSite

	// DiscardFeatureWindow: the PV feature window has the wrong point count.
	DiscardFeatureWindow

	// DiscardTargetWindow: the PV target window has the wrong point count.
	DiscardTargetWindow

	// DiscardFrameCount: the imagery cube has the wrong number of time steps
	// in the feature window.
	DiscardFrameCount

	// DiscardCropBounds: the crop extends past the imagery grid edge.
	DiscardCropBounds
)

func (d DiscardReason) String() string {
	switch d {
	case DiscardNone:
		return "none"
	case DiscardUnknownSite:
		return "unknown site"
	case DiscardFeatureWindow:
		return "incomplete feature window"
	case DiscardTargetWindow:
		return "incomplete target window"
	case DiscardFrameCount:
		return "incomplete imagery window"
	case DiscardCropBounds:
		return "crop out of bounds"
	default:
		return "unknown"
	}
}
