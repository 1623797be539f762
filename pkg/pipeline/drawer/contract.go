package drawer

import (
	"io"
	"time"

	"github.com/askiada/go-orchestrator/pkg/pipeline/measure"
	"github.com/askiada/go-orchestrator/pkg/pipeline/model"
)

// Drawer is an interface that defines the methods for drawing a pipeline.
type Drawer interface {
	// AddStep adds a step to the pipeline drawer.
	AddStep(id string, info model.StepInfo) error
	// AddLink adds a link between parent and children steps.
	AddLink(parentID, childID string) error
	// SetStatus colours the step after the status it ended with.
	SetStatus(id string, status model.Status) error
	// SetTotalTime sets the total time for the step.
	SetTotalTime(id string, elapsed time.Duration) error
	// AddMeasure adds a measure to the pipeline drawer.
	AddMeasure(measure measure.Measure) error
	// Render writes the pipeline graph to w.
	Render(w io.Writer) error
}
