package sync

import (
	"context"
	"fmt"

	"github.com/stockly-app/stockly/internal/models"
)

// Choice is a person's decision on a parked or failed item.
type Choice string

const (
	// ChoiceKeepLocal resubmits the local change on top of the server version.
	ChoiceKeepLocal Choice = "local"
	// ChoiceTakeServer overwrites the local row with the server's copy.
	ChoiceTakeServer Choice = "server"
	// ChoiceDiscard drops the change without touching the server.
	ChoiceDiscard Choice = "discard"
)

// ParseChoice accepts the choice names plus a few short aliases.
func ParseChoice(s string) (Choice, error) {
	switch s {
	case "local", "mine", "keep":
		return ChoiceKeepLocal, nil
	case "server", "theirs":
		return ChoiceTakeServer, nil
	case "discard", "drop":
		return ChoiceDiscard, nil
	}
	return "", fmt.Errorf("unknown choice %q (use local, server or discard)", s)
}

// ResolveConflict settles a conflict or failed item by hand. For
// ChoiceKeepLocal it returns the id of the requeued item; otherwise 0.
func (e *Engine) ResolveConflict(ctx context.Context, changeID int64, choice Choice) (int64, error) {
	item, err := e.store.GetChange(changeID)
	if err != nil {
		return 0, err
	}
	if item.Status != models.StatusConflict && item.Status != models.StatusFailed {
		return 0, fmt.Errorf("change %d is %s; only conflict or failed items can be resolved", changeID, item.Status)
	}

	switch choice {
	case ChoiceKeepLocal:
		newID, err := e.store.Requeue(changeID)
		if err != nil {
			return 0, err
		}
		e.logger.Info("conflict resolved", "change", changeID, "choice", choice, "requeued_as", newID)
		return newID, nil

	case ChoiceTakeServer:
		server, err := fetchServerRow(ctx, e.remote, item)
		if err != nil {
			return 0, err
		}
		if err := e.store.AcceptServerCopy(item, server, models.StrategyManual); err != nil {
			return 0, fmt.Errorf("accept server copy: %w", err)
		}

	case ChoiceDiscard:
		if err := e.store.Discard(changeID); err != nil {
			return 0, err
		}

	default:
		return 0, fmt.Errorf("unknown choice %q", choice)
	}
	e.logger.Info("conflict resolved", "change", changeID, "choice", choice)
	return 0, nil
}
