package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/rescale/upsess/internal/collect"
	"github.com/rescale/upsess/internal/engine"
	"github.com/rescale/upsess/internal/fsref"
	"github.com/rescale/upsess/internal/handles"
	"github.com/rescale/upsess/internal/util/filter"
)

// errNoSessions is returned when a selection produced nothing readable.
var errNoSessions = errors.New("no sessions were created")

// openSelection resolves refs, registers them as one gesture and creates a
// session for every file found.
func openSelection(ctx context.Context, eng *engine.Engine, origin collect.Origin, sel filter.Config, refs []string) (*collect.BatchInfo, []collect.Created, error) {
	items := make([]fsref.Handle, 0, len(refs))
	for _, ref := range refs {
		h, err := eng.Resolve(ctx, ref)
		if err != nil {
			return nil, nil, fmt.Errorf("cannot resolve %s: %w", ref, err)
		}
		items = append(items, h)
	}
	return register(ctx, eng, collect.Selection{Origin: origin, Items: items, Filter: sel})
}

func register(ctx context.Context, eng *engine.Engine, sel collect.Selection) (*collect.BatchInfo, []collect.Created, error) {
	info, err := eng.RegisterDrop(ctx, sel, true)
	if err != nil {
		return nil, nil, withCode(err)
	}
	created, err := eng.CreateSessionsFromBatch(ctx, info.BatchID)
	if err != nil {
		return info, nil, withCode(err)
	}
	return info, created, nil
}

// openFile opens a single file reference as a picker selection.
func openFile(ctx context.Context, eng *engine.Engine, ref string) (collect.Created, error) {
	h, err := eng.Resolve(ctx, ref)
	if err != nil {
		return collect.Created{}, fmt.Errorf("cannot resolve %s: %w", ref, err)
	}
	if h.Kind() == fsref.KindDirectory {
		return collect.Created{}, fmt.Errorf("%s is a directory; use drop", ref)
	}

	_, created, err := register(ctx, eng, collect.Selection{Origin: collect.OriginPicker, Items: []fsref.Handle{h}})
	if err != nil {
		return collect.Created{}, err
	}
	if len(created) == 0 {
		return collect.Created{}, fmt.Errorf("%s: %w", ref, errNoSessions)
	}
	return created[0], nil
}

// withCode prefixes err with its engine error code, if it has one.
// Permission failures also say how to confirm access.
func withCode(err error) error {
	code := engine.ErrorCode(err)
	switch {
	case code == "":
		return err
	case handles.IsPermissionError(err):
		return fmt.Errorf("%s: %w (run in a terminal to confirm access, or pass --yes)", code, err)
	default:
		return fmt.Errorf("%s: %w", code, err)
	}
}
