package forwarder

import (
	"errors"
	"io"
	"net"
	"syscall"

	"github.com/dmksnnk/gamebroker/internal/errcode"
	"github.com/quic-go/quic-go"
)

type copyResult struct {
	written int64
	err     error
}

// link copies bytes between a local game connection and a broker stream
// until either side finishes. Both are closed when it returns.
// Returns the number of bytes sent to the stream and received from it.
func link(conn net.Conn, str *quic.Stream) (sent, received int64, err error) {
	up := make(chan copyResult, 1)
	down := make(chan copyResult, 1)

	go func() {
		n, err := io.Copy(str, conn)
		up <- copyResult{n, err}
	}()
	go func() {
		n, err := io.Copy(conn, str)
		down <- copyResult{n, err}
	}()

	var first copyResult
	select {
	case first = <-up:
	case first = <-down:
	}

	str.CancelRead(errcode.Cancelled)
	str.Close()
	conn.Close()

	upRes, downRes := first, first
	select {
	case upRes = <-up:
	case downRes = <-down:
	}

	if first.err != nil && !isExpectedCloseError(first.err) {
		return upRes.written, downRes.written, first.err
	}

	return upRes.written, downRes.written, nil
}

// isExpectedCloseError reports whether err is a normal way for a link to end.
func isExpectedCloseError(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) ||
		errcode.IsStreamError(err) ||
		errcode.IsConnClosed(err)
}
