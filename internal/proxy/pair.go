package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/dmksnnk/gamebroker/internal/errcode"
	"github.com/jpillora/sizestr"
	"github.com/quic-go/quic-go"
)

type copyResult struct {
	written int64
	err     error
}

// pair copies bytes between two streams in both directions.
// The first direction to finish ends the pairing: the other direction
// stops reading, and both streams are closed.
// Returns the number of bytes copied from a to b and from b to a.
func pair(a, b *quic.Stream) (aToB, bToA int64, err error) {
	aDone := make(chan copyResult, 1)
	bDone := make(chan copyResult, 1)

	go func() { aDone <- copyHalf(b, a) }()
	go func() { bDone <- copyHalf(a, b) }()

	var first, second copyResult
	select {
	case first = <-aDone:
		b.CancelRead(errcode.Cancelled)
		second = <-bDone
		aToB, bToA = first.written, second.written
	case first = <-bDone:
		a.CancelRead(errcode.Cancelled)
		second = <-aDone
		aToB, bToA = second.written, first.written
	}

	if first.err != nil && !isExpectedStreamEnd(first.err) {
		return aToB, bToA, first.err
	}

	return aToB, bToA, nil
}

// copyHalf copies from src to dst.
// A clean end of src closes dst gracefully, so the bytes already written are delivered.
// Any error resets dst and stops reading src.
func copyHalf(dst, src *quic.Stream) copyResult {
	n, err := io.Copy(dst, src)
	if err != nil {
		dst.CancelWrite(errcode.Cancelled)
		src.CancelRead(errcode.Cancelled)
		return copyResult{written: n, err: err}
	}

	return copyResult{written: n, err: dst.Close()}
}

// isExpectedStreamEnd reports whether err is a normal way for a paired stream to end.
func isExpectedStreamEnd(err error) bool {
	return errors.Is(err, context.Canceled) ||
		errcode.IsStreamError(err) ||
		errcode.IsConnClosed(err)
}

// pairStreams pairs two streams and logs the outcome.
func (p *Proxy) pairStreams(connID string, from, to *quic.Stream) error {
	sent, received, err := pair(from, to)
	p.logger.Debug("stream pairing finished",
		slog.String("connection_id", connID),
		slog.String("sent", sizestr.ToString(sent)),
		slog.String("received", sizestr.ToString(received)),
	)
	if err != nil {
		return fmt.Errorf("pair streams: %w", err)
	}

	return nil
}
