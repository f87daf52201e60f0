// Package protocol implements the wire format spoken between the broker,
// game hosts and game clients over QUIC streams.
//
// The first stream a peer opens on a new connection carries only the
// [Secret] (16 raw bytes). Every other stream starts with one control frame:
// a big-endian uint16 length followed by a CBOR-encoded [Message].
// After a [ProxiedStream] frame the stream carries opaque game bytes.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
)

// NextProto is the TLS ALPN identifier of the protocol.
const NextProto = "gamebroker/1"

// MaxFrameSize limits the encoded size of a single control frame.
const MaxFrameSize = 1024

const frameHeaderSize = 2

var (
	// ErrFrameTooLarge is returned when a control frame exceeds [MaxFrameSize].
	ErrFrameTooLarge = errors.New("control frame too large")
	// ErrUnknownKind is returned when a control frame has an unknown message kind.
	ErrUnknownKind = errors.New("unknown message kind")
)

// Kind identifies the control message variant on the wire.
type Kind uint8

const (
	KindNewClient Kind = iota + 1
	KindProxiedStream
	KindClientDisconnected
)

func (k Kind) String() string {
	switch k {
	case KindNewClient:
		return "new_client"
	case KindProxiedStream:
		return "proxied_stream"
	case KindClientDisconnected:
		return "client_disconnected"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Message is one of [NewClient], [ProxiedStream] or [ClientDisconnected].
type Message interface {
	Kind() Kind
	// Connection returns the connection id the message refers to.
	Connection() uuid.UUID
}

// NewClient announces a client to the host before any of its data flows.
type NewClient struct {
	PlayerID     uuid.UUID
	ConnectionID uuid.UUID
}

func (NewClient) Kind() Kind              { return KindNewClient }
func (m NewClient) Connection() uuid.UUID { return m.ConnectionID }

// ProxiedStream tags a stream of game bytes with the client it belongs to.
type ProxiedStream struct {
	ConnectionID uuid.UUID
}

func (ProxiedStream) Kind() Kind              { return KindProxiedStream }
func (m ProxiedStream) Connection() uuid.UUID { return m.ConnectionID }

// ClientDisconnected tells the host that a client's connection has ended.
type ClientDisconnected struct {
	ConnectionID uuid.UUID
}

func (ClientDisconnected) Kind() Kind              { return KindClientDisconnected }
func (m ClientDisconnected) Connection() uuid.UUID { return m.ConnectionID }

// frame is the CBOR shape of a control message.
type frame struct {
	Kind         Kind   `cbor:"1,keyasint"`
	PlayerID     []byte `cbor:"2,keyasint,omitempty"`
	ConnectionID []byte `cbor:"3,keyasint"`
}

// Marshal encodes a message into a control frame, including the length prefix.
func Marshal(msg Message) ([]byte, error) {
	f := frame{
		Kind:         msg.Kind(),
		ConnectionID: bytesOf(msg.Connection()),
	}

	switch m := msg.(type) {
	case NewClient:
		f.PlayerID = bytesOf(m.PlayerID)
	case ProxiedStream, ClientDisconnected:
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownKind, msg)
	}

	body, err := encMode.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	if len(body) > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}

	buf := make([]byte, frameHeaderSize, frameHeaderSize+len(body))
	binary.BigEndian.PutUint16(buf, uint16(len(body)))

	return append(buf, body...), nil
}

// WriteMessage writes a single control frame.
func WriteMessage(w io.Writer, msg Message) error {
	data, err := Marshal(msg)
	if err != nil {
		return err
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}

	return nil
}

// ReadMessage reads a single control frame.
// It never reads past the end of the frame, so the rest of r is left untouched.
func ReadMessage(r io.Reader) (Message, error) {
	var header [frameHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, fmt.Errorf("read frame header: %w", err)
	}

	size := binary.BigEndian.Uint16(header[:])
	if size > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}

	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("read frame body: %w", err)
	}

	return Unmarshal(body)
}

// Unmarshal decodes a CBOR frame body, without the length prefix.
func Unmarshal(body []byte) (Message, error) {
	var f frame
	if err := decMode.Unmarshal(body, &f); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}

	connID, err := uuid.FromBytes(f.ConnectionID)
	if err != nil {
		return nil, fmt.Errorf("parse connection id: %w", err)
	}

	switch f.Kind {
	case KindNewClient:
		playerID, err := uuid.FromBytes(f.PlayerID)
		if err != nil {
			return nil, fmt.Errorf("parse player id: %w", err)
		}
		return NewClient{PlayerID: playerID, ConnectionID: connID}, nil
	case KindProxiedStream:
		return ProxiedStream{ConnectionID: connID}, nil
	case KindClientDisconnected:
		return ClientDisconnected{ConnectionID: connID}, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, f.Kind)
	}
}

func bytesOf(id uuid.UUID) []byte {
	return id[:]
}
