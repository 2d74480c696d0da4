package sync

import (
	"context"
	"errors"
	"fmt"

	"github.com/stockly-app/stockly/internal/db"
	"github.com/stockly-app/stockly/internal/models"
	"github.com/stockly-app/stockly/internal/syncclient"
)

// Action is what the engine does with a conflicting item.
type Action int

const (
	// ActionAcceptServer overwrites the local row with the server copy
	// (removing it when the server has none) and marks the item synced.
	ActionAcceptServer Action = iota
	// ActionResubmit pushes the item again on top of the server's version.
	ActionResubmit
	// ActionResubmitAsCreate pushes the full local row as a new entity.
	ActionResubmitAsCreate
	// ActionConverge marks the item synced; both sides already agree.
	ActionConverge
	// ActionDefer parks the item in conflict status.
	ActionDefer
)

func (a Action) String() string {
	switch a {
	case ActionAcceptServer:
		return "accept-server"
	case ActionResubmit:
		return "resubmit"
	case ActionResubmitAsCreate:
		return "resubmit-as-create"
	case ActionConverge:
		return "converge"
	case ActionDefer:
		return "defer"
	}
	return fmt.Sprintf("action(%d)", int(a))
}

// Resolution is a resolver's decision. Server is the server copy it was
// based on, nil when the entity does not exist there.
type Resolution struct {
	Action Action
	Server *db.ServerRow
	Reason string
}

// ConflictResolver decides the fate of an item the server refused with a
// version conflict. A returned error leaves the item untouched.
type ConflictResolver interface {
	Strategy() models.Strategy
	Resolve(ctx context.Context, item models.ChangeItem, conflict *syncclient.ConflictError) (Resolution, error)
}

// EntityFetcher reads the server's current copy of an entity.
type EntityFetcher interface {
	FetchEntity(ctx context.Context, table string, id int64) (*syncclient.EntityVersion, error)
}

// NewResolver returns the resolver for strategy.
func NewResolver(strategy models.Strategy, fetcher EntityFetcher) (ConflictResolver, error) {
	switch strategy {
	case models.StrategyLastWriteWins:
		return &LastWriteWins{fetcher: fetcher}, nil
	case models.StrategyServerPriority:
		return &ServerPriority{fetcher: fetcher}, nil
	case models.StrategyManual:
		return Manual{}, nil
	}
	return nil, fmt.Errorf("unknown conflict strategy %q", strategy)
}

// LastWriteWins keeps whichever side changed the entity most recently,
// comparing the local change time with the server's last_modified.
type LastWriteWins struct {
	fetcher EntityFetcher
}

func (r *LastWriteWins) Strategy() models.Strategy { return models.StrategyLastWriteWins }

func (r *LastWriteWins) Resolve(ctx context.Context, item models.ChangeItem, _ *syncclient.ConflictError) (Resolution, error) {
	server, err := fetchServerRow(ctx, r.fetcher, item)
	if err != nil {
		return Resolution{}, err
	}
	if server == nil {
		if item.Operation == models.OpDelete {
			return Resolution{Action: ActionConverge}, nil
		}
		return Resolution{Action: ActionResubmitAsCreate, Reason: "entity missing on server"}, nil
	}
	if item.CreatedAt.After(server.LastModified) {
		return Resolution{Action: ActionResubmit, Server: server, Reason: "local change is newer"}, nil
	}
	return Resolution{Action: ActionAcceptServer, Server: server, Reason: "server change is newer"}, nil
}

// ServerPriority always keeps the server's copy.
type ServerPriority struct {
	fetcher EntityFetcher
}

func (r *ServerPriority) Strategy() models.Strategy { return models.StrategyServerPriority }

func (r *ServerPriority) Resolve(ctx context.Context, item models.ChangeItem, conflict *syncclient.ConflictError) (Resolution, error) {
	var server *db.ServerRow
	var err error
	if conflict != nil && conflict.Server != nil {
		server, err = serverRow(conflict.Server)
	} else {
		server, err = fetchServerRow(ctx, r.fetcher, item)
	}
	if err != nil {
		return Resolution{}, err
	}
	if server == nil && item.Operation == models.OpDelete {
		return Resolution{Action: ActionConverge}, nil
	}
	return Resolution{Action: ActionAcceptServer, Server: server}, nil
}

// Manual parks every conflict for a person to settle.
type Manual struct{}

func (Manual) Strategy() models.Strategy { return models.StrategyManual }

func (Manual) Resolve(_ context.Context, _ models.ChangeItem, conflict *syncclient.ConflictError) (Resolution, error) {
	var server *db.ServerRow
	if conflict != nil && conflict.Server != nil {
		server, _ = serverRow(conflict.Server)
	}
	return Resolution{Action: ActionDefer, Server: server, Reason: "awaiting manual resolution"}, nil
}

// fetchServerRow returns nil, nil when the server does not have the entity.
func fetchServerRow(ctx context.Context, f EntityFetcher, item models.ChangeItem) (*db.ServerRow, error) {
	if f == nil {
		return nil, errors.New("no server to fetch from")
	}
	ev, err := f.FetchEntity(ctx, item.EntityType, item.EntityID)
	if errors.Is(err, syncclient.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetch server copy of %s %d: %w", item.EntityType, item.EntityID, err)
	}
	return serverRow(ev)
}
