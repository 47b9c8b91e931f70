package prediction

import (
	"context"
	"strings"
	"time"

	"github.com/lightvibes/biomap/internal/logger"
	"github.com/lightvibes/biomap/internal/narrative"
)

// Narrator produces a risk assessment for a forecast chart.
type Narrator interface {
	Assess(ctx context.Context, species, plotBase64 string) (*narrative.Assessment, error)
}

// Store persists completed predictions.
type Store interface {
	SavePrediction(ctx context.Context, req Request, res *Result) error
}

// Forecaster is satisfied by *Client.
type Forecaster interface {
	Predict(ctx context.Context, req Request) (*Result, error)
}

// Service runs a forecast and attaches the optional narrative and history.
type Service struct {
	forecaster Forecaster
	narrator   Narrator
	store      Store
	log        logger.Logger
}

// NewService wires a forecaster with an optional narrator and store; either
// may be nil.
func NewService(f Forecaster, n Narrator, s Store) *Service {
	return &Service{forecaster: f, narrator: n, store: s, log: GetLogger()}
}

// Run fetches the forecast chart. A narrative failure is reported on the
// result instead of failing the call, and a store failure is only logged.
func (s *Service) Run(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	res, err := s.forecaster.Predict(ctx, req)
	if err != nil {
		return nil, err
	}
	req.SpeciesName = strings.TrimSpace(req.SpeciesName)

	if s.narrator != nil {
		a, err := s.narrator.Assess(ctx, req.SpeciesName, res.Plot)
		if err != nil {
			s.log.Warn("risk narrative unavailable",
				logger.String("species", req.SpeciesName),
				logger.Error(err))
			res.NarrativeError = err.Error()
		} else {
			res.Assessment = a
		}
	}

	if s.store != nil {
		if err := s.store.SavePrediction(ctx, req, res); err != nil {
			s.log.Error("failed to save prediction",
				logger.String("species", req.SpeciesName),
				logger.Error(err))
		}
	}

	s.log.Debug("prediction completed",
		logger.String("species", req.SpeciesName),
		logger.Bool("has_assessment", res.Assessment != nil),
		logger.Duration("elapsed", time.Since(start)))
	return res, nil
}
