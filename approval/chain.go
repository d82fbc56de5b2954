package approval

import (
	"context"
	"fmt"

	"github.com/warp/settlement-engine/directory"
)

// ChainBuilder derives approval chains from the manager hierarchy.
type ChainBuilder struct {
	Directory directory.Directory
}

// Build returns the ordered steps for a new request: the first N managers
// above the requester, nearest first, where N is the configured level count
// clamped to the hierarchy depth. A requester at the top of the hierarchy
// (or a type with zero levels) gets an empty chain, which DeriveStatus
// treats as approved.
//
// Hierarchy cycles and dangling manager references fail; the request is
// never created on a partial chain.
func (b ChainBuilder) Build(ctx context.Context, t RequestType, requesterID string, settings Settings) (Chain, error) {
	managers, err := directory.ManagerChain(ctx, b.Directory, requesterID)
	if err != nil {
		return nil, fmt.Errorf("build chain for %s: %w", requesterID, err)
	}

	levels := settings.For(t).RequiredLevels
	if levels > len(managers) {
		levels = len(managers)
	}

	chain := make(Chain, 0, levels)
	for i := 0; i < levels; i++ {
		chain = append(chain, Step{
			Level:      i + 1,
			ApproverID: managers[i],
			Status:     StepPending,
		})
	}
	return chain, nil
}
