package actuator

import (
	"context"

	"github.com/cfengine-go/promise-engine/internal/domain"
)

// Noop always reports kept without side effects, used for promise
// types that have no in-core handling and no external collaborator
// wired in yet (dry runs, tests, `-n`).
type Noop struct{}

func (Noop) Actuate(ctx context.Context, p domain.ConcretePromise) (domain.Outcome, string, error) {
	return domain.OutcomeKept, "noop", nil
}
