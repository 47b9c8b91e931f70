package datastore

import "time"

// PredictionRecord is one saved forecast with its risk narrative.
type PredictionRecord struct {
	ID               string    `gorm:"primaryKey;size:36" json:"id"`
	SpeciesName      string    `gorm:"index;size:255;not null" json:"speciesName"`
	NSteps           int       `json:"nSteps"`
	PredictionAmount int       `json:"predictionAmount"`
	Score            string    `gorm:"size:64" json:"score,omitempty"`
	Explanation      string    `gorm:"type:text" json:"explanation,omitempty"`
	Prevention       string    `gorm:"type:text" json:"prevention,omitempty"`
	NarrativeError   string    `gorm:"type:text" json:"narrativeError,omitempty"`
	PlotBytes        int       `json:"plotBytes"`
	CreatedAt        time.Time `gorm:"index" json:"createdAt"`
}

// TableName overrides the gorm default.
func (PredictionRecord) TableName() string {
	return "prediction_history"
}
