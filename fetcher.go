package mcdump

import (
	"context"
	"errors"

	"github.com/pior/mcdump/protocol"
)

// drain runs fetch rounds until no key is pending.
func (w *Worker) drain(ctx context.Context) error {
	for w.pending.Len() > 0 {
		if err := w.fetchRound(ctx); err != nil {
			return err
		}
	}
	return nil
}

// fetchRound asks for the oldest pending keys, writes the values received and
// settles the keys that did not come back.
func (w *Worker) fetchRound(ctx context.Context) error {
	if err := w.limiter.Wait(ctx); err != nil {
		return err
	}

	cmd, keys := w.orchestrator.CraftFetchCommand(w.pending)
	if len(keys) == 0 {
		return nil
	}
	w.stats.recordRound()

	err := w.server.Do(ctx, func(conn *Connection) error {
		return w.fetch(ctx, conn, cmd)
	})
	if err != nil {
		return err
	}

	evicted := w.orchestrator.Settle(w.pending, keys)
	if len(evicted) > 0 {
		w.stats.recordEvicted(len(evicted))
		for _, rec := range evicted {
			w.logger.Debug("key possibly evicted", "key", rec.Key, "attempts", rec.Attempts())
		}
	}
	return nil
}

// fetch sends cmd on conn and consumes the response up to its END line.
func (w *Worker) fetch(ctx context.Context, conn *Connection, cmd []byte) error {
	buf, err := w.checkout(ctx)
	if err != nil {
		return err
	}
	defer w.pool.Release(buf)

	if err := conn.Send(ctx, cmd); err != nil {
		return err
	}

	p := protocol.NewValueParser(buf.Bytes())
	for {
		v, err := p.Next()
		switch {
		case err == nil:
			if err := w.complete(v); err != nil {
				return err
			}
			continue
		case errors.Is(err, protocol.ErrEnd):
			return nil
		case errors.Is(err, protocol.ErrNeedMore):
		default:
			return err
		}

		if err := p.CompactPending(); err != nil {
			return err
		}
		if _, err := conn.Fill(ctx, p); err != nil {
			return err
		}
	}
}

// complete writes a received value and drops its key from the pending table.
func (w *Worker) complete(v protocol.Value) error {
	rec, ok := w.pending.Get(v.Key)
	if !ok {
		w.logger.Debug("ignoring value of a key not pending", "key", v.Key)
		return nil
	}

	rec.SetValue(v.Flags, v.Data)
	w.record = AppendRecord(w.record[:0], rec)
	if err := w.writer.Append(w.record); err != nil {
		return err
	}
	w.stats.recordDumped(len(w.record))
	w.pending.Remove(v.Key)
	return nil
}
