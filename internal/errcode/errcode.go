// Package errcode provides a list of QUIC application and stream error codes
// used between the broker, game hosts and game clients.
package errcode

import (
	"errors"

	"github.com/quic-go/quic-go"
)

// Application error codes, used when closing a whole connection.
const (
	Exit = quic.ApplicationErrorCode(iota)
	// HandshakeFailed is used when a peer did not present a session secret.
	HandshakeFailed
	// Unmatched is used when the presented secret matches no pending game or player slot.
	Unmatched
	// Busy is used when the game proxy could not take a new client.
	Busy
	// HostGone is used to close client connections when the game host is lost.
	HostGone
	// HostUnavailable is used when the host could not be notified about a new client.
	HostUnavailable
	// Shutdown is used when the broker is shutting down.
	Shutdown
)

// Stream error codes.
const (
	// Cancelled is used when the other side of a stream pairing has finished.
	Cancelled = quic.StreamErrorCode(iota + 1)
	// ProtocolViolation is used for streams that start with an unexpected control frame.
	ProtocolViolation
	// UnknownConnection is used when a host addresses a client that is not connected.
	UnknownConnection
	// InternalError is used when the broker could not open the matching stream.
	InternalError
)

// IsLocalQUICConnClosed returns true if the error is local QUIC connection closed with code.
func IsLocalQUICConnClosed(err error, code quic.ApplicationErrorCode) bool {
	var appErr *quic.ApplicationError
	if errors.As(err, &appErr) {
		return !appErr.Remote && appErr.ErrorCode == code
	}
	return false
}

// IsRemoteQUICConnClosed returns true if the error is remote QUIC connection closed with code.
func IsRemoteQUICConnClosed(err error, code quic.ApplicationErrorCode) bool {
	var appErr *quic.ApplicationError
	if errors.As(err, &appErr) {
		return appErr.Remote && appErr.ErrorCode == code
	}
	return false
}

// IsConnClosed returns true if the error is a QUIC connection closed by any side
// with any application code, or a connection that timed out.
func IsConnClosed(err error) bool {
	var appErr *quic.ApplicationError
	if errors.As(err, &appErr) {
		return true
	}
	var idleErr *quic.IdleTimeoutError
	if errors.As(err, &idleErr) {
		return true
	}
	return errors.Is(err, quic.ErrServerClosed) || errors.Is(err, quic.ErrTransportClosed)
}

// IsRemoteStreamError returns true if the error is remote QUIC stream error with the given code.
func IsRemoteStreamError(err error, code quic.StreamErrorCode) bool {
	var streamErr *quic.StreamError
	if errors.As(err, &streamErr) {
		return streamErr.Remote && streamErr.ErrorCode == code
	}
	return false
}

// IsStreamError returns true if the error is any QUIC stream reset.
func IsStreamError(err error) bool {
	var streamErr *quic.StreamError
	return errors.As(err, &streamErr)
}
