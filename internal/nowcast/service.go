// Package nowcast composes the datasets, the extractor, and the trained
// network into the prediction service the HTTP API serves.
package nowcast

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/skycastml/pvnowcast/internal/dataset"
	"github.com/skycastml/pvnowcast/internal/logging"
	"github.com/skycastml/pvnowcast/internal/model"
	"github.com/skycastml/pvnowcast/internal/pvdb"
	"github.com/skycastml/pvnowcast/internal/sites"
)

// ErrNoModel is returned when no checkpoint has been loaded yet.
var ErrNoModel = errors.New("no model loaded")

// ErrModelGeometry is returned when the loaded checkpoint's geometry does
// not match the samples the extractor produces.
var ErrModelGeometry = errors.New("model geometry mismatch")

// ErrNotExtractable is wrapped around a discard reason when a prediction
// request's sample cannot be formed.
var ErrNotExtractable = errors.New("sample not extractable")

// Service answers prediction and history queries over the immutable datasets
// and a hot-swappable network checkpoint.
type Service struct {
	pv        pvdb.Store
	table     *sites.Table
	extractor *dataset.Extractor

	mu  sync.RWMutex
	net *model.ConvNet
}

// NewService wires a Service. The network may be nil until the first reload.
func NewService(pv pvdb.Store, table *sites.Table, extractor *dataset.Extractor, net *model.ConvNet) *Service {
	return &Service{pv: pv, table: table, extractor: extractor, net: net}
}

// ReloadModel swaps in the checkpoint at path. The previous network keeps
// serving until the new one has loaded successfully.
func (s *Service) ReloadModel(path string) error {
	net, err := model.Load(path)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.net = net
	s.mu.Unlock()
	logging.Info().Str("path", path).Msg("model reloaded")
	return nil
}

// Predict extracts the sample anchored at anchor for the site and runs the
// network over it. A pair that cannot be aligned returns ErrNotExtractable
// with the discard reason attached.
func (s *Service) Predict(ctx context.Context, siteID int64, anchor time.Time) ([]float32, dataset.DiscardReason, error) {
	s.mu.RLock()
	net := s.net
	s.mu.RUnlock()
	if net == nil {
		return nil, dataset.DiscardNone, ErrNoModel
	}

	sample, reason, err := s.extractor.Extract(ctx, anchor, siteID)
	if err != nil {
		return nil, dataset.DiscardNone, err
	}
	if reason != dataset.DiscardNone {
		return nil, reason, ErrNotExtractable
	}
	mcfg := net.Config()
	if len(sample.Features) != mcfg.FeatureDim || len(sample.Frames) != mcfg.FrameDim() {
		return nil, dataset.DiscardNone, fmt.Errorf("%w: sample carries %d+%d values, model wants %d+%d",
			ErrModelGeometry, len(sample.Features), len(sample.Frames), mcfg.FeatureDim, mcfg.FrameDim())
	}

	// Forward mutates accumulation state inside the network.
	s.mu.Lock()
	pred := net.Forward(sample.Features, sample.Frames)
	out := make([]float32, len(pred))
	copy(out, pred)
	s.mu.Unlock()
	return out, dataset.DiscardNone, nil
}

// History delegates a PV range query to the underlying store.
func (s *Service) History(ctx context.Context, siteID int64, from, to time.Time) ([]pvdb.Reading, error) {
	return s.pv.Range(ctx, siteID, from, to)
}

// SiteIDs lists the sites known for a data source.
func (s *Service) SiteIDs(source string) []int64 {
	return s.table.SiteIDs(source)
}

// Sources lists the data sources in the site index.
func (s *Service) Sources() []string {
	return s.table.Sources()
}
