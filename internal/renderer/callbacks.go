package renderer

import (
	"context"

	"github.com/openartifacts/canvasd/internal/artifact"
	"github.com/openartifacts/canvasd/internal/classify"
)

// Callbacks are the seams to the surrounding UI chrome. Every field is
// optional; nil callbacks are skipped. All callbacks may be invoked from
// internal goroutines and must not block.
type Callbacks struct {
	// OnLoading reports loading-state changes
	OnLoading func(artifactID string, loading bool)
	// OnPreviewError reports the current classified error; nil clears it
	OnPreviewError func(artifactID string, cerr *classify.Error)
	// OnRequestFix asks the generative model to repair the program
	OnRequestFix func(artifactID string, cerr classify.Error)
	// OnStrategyChange reports an execution-strategy switch
	OnStrategyChange func(artifactID string, strategy artifact.Strategy)
	// OnRenderComplete fires once per completed render attempt, with or
	// without error, so one hook point can observe "finished".
	OnRenderComplete func(artifactID string, success bool, errText string)
}

// PackageRunner is the external collaborator that resolves arbitrary
// package imports. Only its success/error callbacks are consumed here;
// everything else about it is out of scope.
type PackageRunner interface {
	Run(ctx context.Context, source string, onReady func(), onError func(message string))
}
