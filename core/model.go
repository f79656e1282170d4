package core

import "time"

// ModelArtifact is the persisted form of a trained anomaly model. Data is
// opaque to stores; Columns is the feature order the model was trained on.
type ModelArtifact struct {
	Name            string    `json:"name"`
	Algorithm       string    `json:"algorithm"`
	Data            []byte    `json:"-"`
	Columns         []string  `json:"columns"`
	TrainingSamples int       `json:"training_samples"`
	TrainedAt       time.Time `json:"trained_at"`
}
