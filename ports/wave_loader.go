package ports

import (
	"context"

	"minwage/domain/survey"
)

// WaveLoader supplies raw survey waves. It is the only source of I/O
// latency in the pipeline; loading completes before harmonization.
type WaveLoader interface {
	// Waves lists the waves available to load, in survey order
	Waves(ctx context.Context) ([]survey.WaveID, error)
	// Load reads one wave's raw table
	Load(ctx context.Context, id survey.WaveID) (*survey.RawWave, error)
}
