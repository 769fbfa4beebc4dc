// Package stages holds the pipeline stage contract and the four analysis
// stages. A stage reads the shared planning context, appends candidate
// suggestions, and may raise the aggregate confidence; it never removes
// or mutates suggestions appended by earlier stages.
package stages

import (
	"context"

	"github.com/kalambet/pengeplan/internal/planning"
)

// Stage is one transformation step in the pipeline. Execute mutates the
// given context in place; any error is fatal to the run.
type Stage interface {
	Name() string
	Execute(ctx context.Context, pc *planning.Context) error
}
