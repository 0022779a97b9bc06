package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/dukex/coursepipe/pkg/models"
	"github.com/dukex/coursepipe/pkg/protocol"
)

// Dummy answers completions with a function, for local runs and tests.
type Dummy struct {
	respond func(request *protocol.Request) (string, error)
}

func NewDummy(respond func(request *protocol.Request) (string, error)) *Dummy {
	return &Dummy{respond: respond}
}

func (d *Dummy) Complete(ctx context.Context, request *protocol.Request) (*protocol.Completion, error) {
	if err := ctx.Err(); err != nil {
		return nil, &Error{Code: protocol.CodeGatewayTimeout, Message: "completion cancelled", Err: err}
	}

	started := time.Now()

	content, err := d.respond(request)
	if err != nil {
		return nil, err
	}

	return &protocol.Completion{
		Content:      content,
		Provider:     "dummy",
		InputTokens:  len(request.Prompt) / 4,
		OutputTokens: len(content) / 4,
		Latency:      time.Since(started),
	}, nil
}

// Canned returns a responder producing schema-valid output for every stage of
// a course with the given number of episodes.
func Canned(episodeCount int) func(request *protocol.Request) (string, error) {
	return func(request *protocol.Request) (string, error) {
		scope, _ := strconv.Atoi(request.Metadata["scope_key"])

		var payload any

		switch request.Stage {
		case models.StageIdea:
			payload = map[string]any{"options": []map[string]any{
				{"id": "opt-1", "title": "The essentials", "pitch": "A guided tour of the key ideas.", "audience": "newcomers"},
				{"id": "opt-2", "title": "Deep dive", "pitch": "Chapter by chapter analysis.", "audience": "enthusiasts"},
			}}
		case models.StageOutline:
			episodes := make([]map[string]any, 0, episodeCount)
			for i := 1; i <= episodeCount; i++ {
				episodes = append(episodes, map[string]any{"number": i, "title": fmt.Sprintf("Episode %d", i), "synopsis": "Synopsis."})
			}

			payload = map[string]any{"title": "Course", "episode_count": episodeCount, "episodes": episodes}
		case models.StageEpisodeDraft:
			payload = map[string]any{"episode": scope, "title": fmt.Sprintf("Episode %d", scope), "beats": []string{"Opening", "Closing"}}
		case models.StageEpisodeContent:
			payload = map[string]any{"episode": scope, "title": fmt.Sprintf("Episode %d", scope), "script": "Welcome back.", "duration_minutes": 12}
		case models.StagePractice:
			payload = map[string]any{"level": scope, "exercises": []map[string]any{{"prompt": "Summarize episode 1.", "answer": "It covers the basics.", "episode": 1}}}
		case models.StageFinalEvaluation:
			payload = map[string]any{"score": 90, "verdict": "pass", "notes": "Ready to publish."}
		default:
			return "", &Error{Code: protocol.CodeGatewayRejected, Message: fmt.Sprintf("unsupported stage %q", request.Stage)}
		}

		data, err := json.Marshal(payload)
		if err != nil {
			return "", err
		}

		return string(data), nil
	}
}
