// Package datastore persists prediction history with gorm.
package datastore

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lightvibes/biomap/internal/conf"
	"github.com/lightvibes/biomap/internal/errors"
	"github.com/lightvibes/biomap/internal/prediction"
)

const (
	componentName = "datastore"

	// DefaultListLimit applies when List is called with a non-positive limit.
	DefaultListLimit = 50
	maxListLimit     = 500
)

// Interface abstracts the database backend.
type Interface interface {
	Open() error
	Close() error
	Save(ctx context.Context, record *PredictionRecord) error
	List(ctx context.Context, limit int) ([]PredictionRecord, error)
	Get(ctx context.Context, id string) (*PredictionRecord, error)
	SavePrediction(ctx context.Context, req prediction.Request, res *prediction.Result) error
}

// DataStore implements the queries shared by every backend.
type DataStore struct {
	DB *gorm.DB
}

// New returns the backend enabled in settings, or nil when persistence is off.
func New(settings *conf.Settings) Interface {
	if !settings.Datastore.Enabled {
		return nil
	}
	switch {
	case settings.Datastore.SQLite.Enabled:
		return &SQLiteStore{Settings: settings}
	case settings.Datastore.MySQL.Enabled:
		return &MySQLStore{Settings: settings}
	default:
		return nil
	}
}

// Save inserts record, assigning an id and timestamp when missing.
func (ds *DataStore) Save(ctx context.Context, record *PredictionRecord) error {
	if ds.DB == nil {
		return errNotOpen()
	}
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	start := time.Now()
	if err := ds.DB.WithContext(ctx).Create(record).Error; err != nil {
		return errors.New(err).
			Category(errors.CategoryDatabase).
			Component(componentName).
			Context("operation", "save_prediction").
			Context("species", record.SpeciesName).
			Timing("save_prediction", time.Since(start)).
			Build()
	}
	return nil
}

// SavePrediction records a completed forecast.
func (ds *DataStore) SavePrediction(ctx context.Context, req prediction.Request, res *prediction.Result) error {
	record := &PredictionRecord{
		SpeciesName:      req.SpeciesName,
		NSteps:           req.NSteps,
		PredictionAmount: req.PredictionAmount,
		NarrativeError:   res.NarrativeError,
		PlotBytes:        len(res.Plot),
	}
	if a := res.Assessment; a != nil {
		record.Score = a.Score
		record.Explanation = a.Explanation
		record.Prevention = a.Prevention
	}
	return ds.Save(ctx, record)
}

// List returns the newest records first.
func (ds *DataStore) List(ctx context.Context, limit int) ([]PredictionRecord, error) {
	if ds.DB == nil {
		return nil, errNotOpen()
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}
	limit = min(limit, maxListLimit)

	var records []PredictionRecord
	err := ds.DB.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, errors.New(err).
			Category(errors.CategoryDatabase).
			Component(componentName).
			Context("operation", "list_predictions").
			Build()
	}
	return records, nil
}

// Get returns the record with id. A missing record is a NotFound error.
func (ds *DataStore) Get(ctx context.Context, id string) (*PredictionRecord, error) {
	if ds.DB == nil {
		return nil, errNotOpen()
	}
	if _, err := uuid.Parse(id); err != nil {
		return nil, errors.ValidationError(componentName, "invalid prediction id")
	}

	var record PredictionRecord
	err := ds.DB.WithContext(ctx).First(&record, "id = ?", id).Error
	switch {
	case stderrors.Is(err, gorm.ErrRecordNotFound):
		return nil, errors.Newf("prediction %s not found", id).
			Category(errors.CategoryNotFound).
			Component(componentName).
			Build()
	case err != nil:
		return nil, errors.New(err).
			Category(errors.CategoryDatabase).
			Component(componentName).
			Context("operation", "get_prediction").
			Build()
	}
	return &record, nil
}

// closeDB closes the underlying sql.DB.
func (ds *DataStore) closeDB() error {
	if ds.DB == nil {
		return errNotOpen()
	}
	sqlDB, err := ds.DB.DB()
	if err != nil {
		return errors.New(err).Category(errors.CategoryDatabase).Component(componentName).Build()
	}
	if err := sqlDB.Close(); err != nil {
		return errors.New(err).Category(errors.CategoryDatabase).Component(componentName).Build()
	}
	return nil
}

func errNotOpen() error {
	return errors.Newf("database connection is not initialized").
		Category(errors.CategoryState).
		Component(componentName).
		Build()
}
