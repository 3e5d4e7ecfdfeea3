package wire

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/danmuck/satlink/internal/protocol/frame"
	"github.com/danmuck/satlink/internal/protocol/schema"
	"github.com/danmuck/satlink/internal/protocol/tlv"
)

// Codec frames messages over one byte stream. Writes are serialized; reads
// must come from a single goroutine.
type Codec struct {
	reader *bufio.Reader
	w      io.Writer
	limits frame.Limits

	wmu    sync.Mutex
	nextID atomic.Uint64
}

func NewCodec(rw io.ReadWriter) *Codec {
	return &Codec{
		reader: bufio.NewReader(rw),
		w:      rw,
		limits: frame.DefaultLimits(),
	}
}

// Write encodes and frames m as one message.
func (c *Codec) Write(m Message) error {
	fields, err := EncodeFields(m)
	if err != nil {
		return err
	}
	return c.writeFrame(m.MessageType(), 0, fields)
}

// WriteError sends err to the peer as an error frame.
func (c *Codec) WriteError(err error) error {
	return c.writeFrame(schema.MsgError, frame.FlagIsError, encodeError(AsStatus(err)))
}

func (c *Codec) writeFrame(messageType uint32, flags uint32, fields []tlv.Field) error {
	var buf bytes.Buffer
	err := frame.WriteFrame(&buf, frame.Frame{
		Header: frame.Header{
			MessageID:   c.nextID.Add(1),
			MessageType: messageType,
			Flags:       flags,
		},
		Payload: tlv.EncodeFields(fields),
	}, c.limits)
	if err != nil {
		return err
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_, err = c.w.Write(buf.Bytes())
	return err
}

// Read returns the next message. An error frame from the peer is returned as
// a *StatusError; a clean end of stream is io.EOF.
func (c *Codec) Read() (Message, error) {
	fr, err := frame.ReadFrame(c.reader, c.limits)
	if err != nil {
		if isFrameViolation(err) {
			return nil, malformed(err)
		}
		return nil, err
	}
	if fr.Header.MessageType == schema.MsgError {
		se, err := decodeError(fr.Payload)
		if err != nil {
			return nil, err
		}
		return nil, se
	}
	return DecodeMessage(fr.Header.MessageType, fr.Payload)
}

// ReadRequest reads one stream request. Any other message type is a protocol
// violation.
func (c *Codec) ReadRequest() (Request, error) {
	m, err := c.Read()
	if err != nil {
		return nil, err
	}
	req, ok := m.(Request)
	if !ok {
		return nil, Errorf(FailedPrecondition, "unexpected %s on request stream", schema.Name(m.MessageType()))
	}
	return req, nil
}

// ReadResponse reads one stream response. Any other message type is a
// protocol violation.
func (c *Codec) ReadResponse() (Response, error) {
	m, err := c.Read()
	if err != nil {
		return nil, err
	}
	resp, ok := m.(Response)
	if !ok {
		return nil, Errorf(FailedPrecondition, "unexpected %s on response stream", schema.Name(m.MessageType()))
	}
	return resp, nil
}

// Expect reads one message and asserts its concrete type.
func Expect[T Message](c *Codec) (T, error) {
	var zero T
	m, err := c.Read()
	if err != nil {
		return zero, err
	}
	v, ok := m.(T)
	if !ok {
		return zero, fmt.Errorf("wire: expected %s, got %s", schema.Name(zero.MessageType()), schema.Name(m.MessageType()))
	}
	return v, nil
}

// isFrameViolation separates a peer speaking the wrong protocol from a
// connection that broke mid-frame.
func isFrameViolation(err error) bool {
	switch {
	case errors.Is(err, frame.ErrInvalidMagic),
		errors.Is(err, frame.ErrUnsupportedVer),
		errors.Is(err, frame.ErrHeaderLenTooSmall),
		errors.Is(err, frame.ErrHeaderLenMismatch),
		errors.Is(err, frame.ErrPayloadTooLarge),
		errors.Is(err, frame.ErrAuthTooLarge):
		return true
	default:
		return false
	}
}
