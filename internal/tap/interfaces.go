package tap

import (
	"context"
	"time"

	"github.com/JakeFAU/tap-acuite/internal/state"
)

// Fetcher issues a GET against the API and returns the raw JSON body.
type Fetcher interface {
	Fetch(ctx context.Context, req FetchRequest) ([]byte, error)
}

// Sink receives the tap's output messages. Implementations must be safe for
// concurrent use; records from sibling streams arrive interleaved.
type Sink interface {
	WriteSchema(ctx context.Context, stream string, schema Schema, keyProperties []string) error
	WriteRecord(ctx context.Context, stream string, record Record, extractedAt time.Time) error
	WriteState(ctx context.Context, st state.State) error
}

// StateStore persists bookmark state between runs.
type StateStore interface {
	Load(ctx context.Context) (state.State, error)
	Save(ctx context.Context, st state.State) error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
