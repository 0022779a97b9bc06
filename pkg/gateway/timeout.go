package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/dukex/coursepipe/pkg/models"
	"github.com/dukex/coursepipe/pkg/protocol"
)

// DefaultTimeout bounds a completion of a stage without a specific timeout.
const DefaultTimeout = 3 * time.Minute

// DefaultStageTimeouts are the completion timeouts of the slower stages.
func DefaultStageTimeouts() map[models.Stage]time.Duration {
	return map[models.Stage]time.Duration{
		models.StageEpisodeContent:  6 * time.Minute,
		models.StageFinalEvaluation: 5 * time.Minute,
		models.StagePractice:        4 * time.Minute,
	}
}

// TimeoutGateway bounds every completion by the timeout of its stage.
type TimeoutGateway struct {
	next     protocol.LLMGateway
	timeouts map[models.Stage]time.Duration
	fallback time.Duration
}

func WithTimeouts(next protocol.LLMGateway, timeouts map[models.Stage]time.Duration, fallback time.Duration) *TimeoutGateway {
	if fallback <= 0 {
		fallback = DefaultTimeout
	}

	return &TimeoutGateway{next: next, timeouts: timeouts, fallback: fallback}
}

// Timeout returns the timeout applied to a stage.
func (g *TimeoutGateway) Timeout(stage models.Stage) time.Duration {
	if timeout, ok := g.timeouts[stage]; ok && timeout > 0 {
		return timeout
	}

	return g.fallback
}

func (g *TimeoutGateway) Complete(ctx context.Context, request *protocol.Request) (*protocol.Completion, error) {
	ctx, cancel := context.WithTimeout(ctx, g.Timeout(request.Stage))
	defer cancel()

	completion, err := g.next.Complete(ctx, request)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) && protocol.ErrorCode(err) == "" {
			return nil, &Error{Code: protocol.CodeGatewayTimeout, Message: "completion timed out", Err: err}
		}

		return nil, err
	}

	return completion, nil
}
