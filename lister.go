package mcdump

import (
	"context"
	"errors"

	"github.com/zeebo/xxh3"

	"github.com/pior/mcdump/internal/coarsetime"
	"github.com/pior/mcdump/protocol"
)

var cmdMetadumpAll = []byte(protocol.CmdMetadumpAll)

// list runs the listing pass on conn. Whenever the pending table reaches the
// pending limit it is drained with fetch rounds on another connection before
// the listing resumes.
func (w *Worker) list(ctx context.Context, conn *Connection) error {
	buf, err := w.checkout(ctx)
	if err != nil {
		return err
	}
	defer w.pool.Release(buf)

	if err := conn.Send(ctx, cmdMetadumpAll); err != nil {
		return err
	}

	p := protocol.NewListingParser(buf.Bytes())
	for {
		entry, err := p.Next()
		if err == nil {
			if err := w.accept(ctx, entry); err != nil {
				conn.Abandon()
				return err
			}
			continue
		}

		var parseErr *protocol.ParseError
		switch {
		case errors.Is(err, protocol.ErrNeedMore):
		case errors.As(err, &parseErr):
			w.stats.recordMalformed()
			w.logger.Debug("skipping malformed listing line", "error", err)
			continue
		default:
			return err
		}

		if p.ReachedEnd() {
			return nil
		}
		if err := p.TerminalError(); err != nil {
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

// accept applies the dump policy to a listed key. Keys already listed during
// this pass are ignored, even when their fetch round is over.
func (w *Worker) accept(ctx context.Context, entry protocol.ListingEntry) error {
	h := xxh3.HashString128(entry.Key)
	if _, ok := w.listed[h]; ok {
		w.stats.recordRelisted()
		return nil
	}
	w.listed[h] = struct{}{}

	skip := w.orchestrator.Classify(entry, coarsetime.Unix())
	w.stats.recordListed(skip)
	if skip != Keep {
		return nil
	}

	if w.keyWriter != nil {
		w.keyLine = protocol.AppendListingLine(w.keyLine[:0], entry)
		if err := w.keyWriter.Append(w.keyLine); err != nil {
			return err
		}
	}

	w.pending.Add(NewKeyRecord(entry.Key, entry.Expiry))
	if w.pendingLimit > 0 && w.pending.Len() >= w.pendingLimit {
		return w.drain(ctx)
	}
	return nil
}
