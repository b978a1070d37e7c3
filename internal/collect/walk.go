package collect

import (
	"context"

	"github.com/rescale/upsess/internal/coop"
	"github.com/rescale/upsess/internal/fsref"
	"github.com/rescale/upsess/internal/logging"
)

// frame is one directory being enumerated.
type frame struct {
	rel     string
	entries []fsref.Handle
	next    int
}

// walk enumerates root depth first without recursion. Files and empty
// directories are reported in discovery order with "/"-separated paths
// rooted at root's name. A directory whose listing fails is logged and
// skipped; it is not reported as empty.
func walk(ctx context.Context, root fsref.Handle, logger *logging.Logger, onFile func(h fsref.Handle, rel string), onEmpty func(rel string)) error {
	var stack []*frame

	push := func(dir fsref.Handle, rel string) error {
		if err := coop.Checkpoint(ctx, nil); err != nil {
			return err
		}
		entries, err := dir.Entries(ctx)
		if err != nil {
			logger.Warn().Err(err).Str("path", rel).Msg("Skipping unreadable directory")
			return nil
		}
		if len(entries) == 0 {
			onEmpty(rel)
			return nil
		}
		stack = append(stack, &frame{rel: rel, entries: entries})
		return nil
	}

	if err := push(root, root.Name()); err != nil {
		return err
	}

	for len(stack) > 0 {
		top := stack[len(stack)-1]
		if top.next == len(top.entries) {
			stack = stack[:len(stack)-1]
			continue
		}
		child := top.entries[top.next]
		top.next++

		rel := top.rel + "/" + child.Name()
		switch child.Kind() {
		case fsref.KindDirectory:
			if err := push(child, rel); err != nil {
				return err
			}
		case fsref.KindFile:
			onFile(child, rel)
		default:
			logger.Debug().Str("path", rel).Str("kind", string(child.Kind())).Msg("Skipping entry of unknown kind")
		}
	}
	return nil
}
