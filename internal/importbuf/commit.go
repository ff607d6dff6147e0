package importbuf

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"civsphere/event-ingester/internal/metrics"
	"civsphere/event-ingester/internal/model"
	"civsphere/event-ingester/internal/normalize"
	"civsphere/event-ingester/internal/store"
)

const (
	ModeAppend  = "append"
	ModeReplace = "replace"

	DefaultBatchSize = 100
	DefaultDelay     = 10 * time.Millisecond
)

// CommitOptions controls how the buffer is written to the store.
type CommitOptions struct {
	Mode      string        // append or replace, decided once per commit
	BatchSize int           // events per store write
	Delay     time.Duration // pause between batches
	IDs       *normalize.Sequence
	Logger    *zerolog.Logger
	Metrics   *metrics.Metrics
}

// CommitResult describes what reached the store.
type CommitResult struct {
	Events    []model.Event // committed events with their final ids
	Batches   int
	Reminted  int
	Remaining int
}

// ParseMode accepts append (the default) or replace.
func ParseMode(s string) (string, error) {
	switch m := strings.ToLower(strings.TrimSpace(s)); m {
	case "", ModeAppend:
		return ModeAppend, nil
	case ModeReplace:
		return ModeReplace, nil
	default:
		return "", fmt.Errorf("unknown commit mode %q", s)
	}
}

// Commit writes the buffered events to st in FIFO batches. Replace clears
// the store with the first batch only; later batches append. The buffer is
// emptied of whatever was committed, so a failed commit keeps the tail.
func (b *Buffer) Commit(ctx context.Context, st store.Store, opts CommitOptions) (res CommitResult, err error) {
	if st == nil {
		return res, errors.New("commit: nil store")
	}
	mode, err := ParseMode(opts.Mode)
	if err != nil {
		return res, err
	}
	size := opts.BatchSize
	if size <= 0 {
		size = DefaultBatchSize
	}
	delay := opts.Delay
	if delay < 0 {
		delay = 0
	}
	log := zerolog.Nop()
	if opts.Logger != nil {
		log = *opts.Logger
	}

	pending, gen := b.snapshot()
	if len(pending) == 0 && mode == ModeAppend {
		return res, nil
	}

	var existing []model.Event
	if mode == ModeAppend {
		if existing, err = st.Events(ctx); err != nil {
			return res, fmt.Errorf("commit: read store: %w", err)
		}
	}
	res.Reminted = assignIDs(pending, existing, opts.IDs)

	committed := 0
	defer func() {
		if committed > 0 && !b.drop(committed, gen) {
			log.Warn().Int("committed", committed).Msg("import buffer changed during commit, left untouched")
		}
		res.Remaining = b.Len()
	}()

	for start := 0; start < len(pending) || (start == 0 && mode == ModeReplace); start += size {
		if start > 0 && delay > 0 {
			select {
			case <-ctx.Done():
				return res, ctx.Err()
			case <-time.After(delay):
			}
		}
		end := min(start+size, len(pending))
		batch := pending[start:end]

		if start == 0 && mode == ModeReplace {
			err = st.Replace(ctx, batch)
		} else {
			err = st.Append(ctx, batch)
		}
		if err != nil {
			log.Error().Err(err).Int("batch", res.Batches+1).Int("committed", committed).Msg("commit batch failed")
			return res, fmt.Errorf("commit batch %d: %w", res.Batches+1, err)
		}
		committed = end
		res.Batches++
		res.Events = append(res.Events, batch...)
		opts.Metrics.Committed(mode, len(batch))
		if len(pending) == 0 {
			break
		}
	}
	log.Info().Str("mode", mode).Int("events", committed).Int("batches", res.Batches).
		Int("reminted", res.Reminted).Msg("import buffer committed")
	return res, nil
}

// assignIDs gives every pending event an id that is unused in the store
// and unique within the batch. It returns how many ids were changed.
func assignIDs(pending, existing []model.Event, ids *normalize.Sequence) int {
	used := make(map[int64]struct{}, len(existing)+len(pending))
	if ids == nil {
		ids = normalize.NewSequence(max(store.MaxID(existing), store.MaxID(pending)))
	}
	for _, e := range existing {
		used[e.ID] = struct{}{}
		ids.Observe(e.ID)
	}
	reminted := 0
	for i := range pending {
		id := pending[i].ID
		if _, taken := used[id]; taken || id <= 0 {
			id = ids.Next()
			for {
				if _, taken := used[id]; !taken {
					break
				}
				id = ids.Next()
			}
			pending[i].ID = id
			reminted++
		}
		used[id] = struct{}{}
		ids.Observe(id)
	}
	return reminted
}
