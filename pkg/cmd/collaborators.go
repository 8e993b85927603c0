package cmd

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/rentflow/pkg/collaborators/logsink"
	"github.com/dukex/rentflow/pkg/collaborators/outbox"
	"github.com/dukex/rentflow/pkg/collaborators/webhook"
	"github.com/dukex/rentflow/pkg/executor"
	"github.com/redis/go-redis/v9"
)

var ErrOutboxNeedsRedis = errors.New("the outbox collaborators need a redis url")

// NewCollaborators builds the action collaborators for a mode:
// "log" logs every call, "outbox" queues commands in Redis and calls webhooks over HTTP.
func NewCollaborators(mode string, client redis.UniversalClient, logger *slog.Logger) (executor.Collaborators, error) {
	switch mode {
	case "log", "":
		return logsink.New(logger).Collaborators(), nil
	case "outbox":
		if client == nil {
			return executor.Collaborators{}, ErrOutboxNeedsRedis
		}

		collaborators := outbox.New(client, logger).Collaborators()
		collaborators.Webhooks = webhook.New(logger)

		return collaborators, nil
	default:
		return executor.Collaborators{}, fmt.Errorf("unsupported collaborators mode: %s", mode)
	}
}
