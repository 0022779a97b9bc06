package cmd

import (
	"fmt"
	"log/slog"
	"net/url"
	"strconv"

	"github.com/dukex/coursepipe/pkg/gateway"
	"github.com/dukex/coursepipe/pkg/protocol"
)

const defaultDummyEpisodes = 3

// NewGateway returns the LLM gateway client for gatewayURL. dummy://
// serves canned responses, with ?episodes=N setting the outline size.
// nolint:ireturn
func NewGateway(gatewayURL string, logger *slog.Logger) (protocol.LLMGateway, error) {
	parsed, err := url.Parse(gatewayURL)
	if err != nil {
		return nil, fmt.Errorf("invalid gateway url %q: %w", gatewayURL, err)
	}

	switch parsed.Scheme {
	case "dummy":
		episodes := defaultDummyEpisodes

		if value := parsed.Query().Get("episodes"); value != "" {
			episodes, err = strconv.Atoi(value)
			if err != nil || episodes < 1 {
				return nil, fmt.Errorf("invalid episodes %q", value)
			}
		}

		return gateway.NewDummy(gateway.Canned(episodes)), nil
	case "http", "https":
		return gateway.NewClient(gatewayURL, logger), nil
	default:
		return nil, fmt.Errorf("unsupported gateway scheme %q", parsed.Scheme)
	}
}
