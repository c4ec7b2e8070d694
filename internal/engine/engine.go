package engine

import (
	"log/slog"

	"github.com/seantiz/lakerun/internal/platform"
)

// Engine bundles the orchestration components around one platform client.
// There is no process-wide singleton: construct one, share it by reference,
// and let it go at shutdown.
type Engine struct {
	Contexts   *Contexts
	Commands   *Commands
	Statements *Statements
	Runs       *Runs

	broker *Broker
}

// New wires the engine components. warehouseID is the default target for
// statements that do not name one; it may be empty.
func New(client *platform.Client, warehouseID string, logger *slog.Logger) *Engine {
	broker := NewBroker()
	contexts := &Contexts{client: client, logger: logger}

	return &Engine{
		Contexts: contexts,
		Commands: &Commands{
			client:   client,
			contexts: contexts,
			logger:   logger,
			broker:   broker,
		},
		Statements: &Statements{
			client:      client,
			warehouseID: warehouseID,
			logger:      logger,
			broker:      broker,
		},
		Runs: &Runs{
			client: client,
			logger: logger,
			broker: broker,
		},
		broker: broker,
	}
}

// Broker returns the engine's status event broker for SSE subscription.
func (e *Engine) Broker() *Broker {
	return e.broker
}
