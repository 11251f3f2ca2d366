package speech

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Volcengine binary frame layout: a 4-byte header, optional sequence, optional
// event metadata, then a length-prefixed payload (error frames carry a code first).

const frameVersion = 0b0001

type frameType uint8

const (
	frameFullClientRequest frameType = 0b0001
	frameFullServerReply   frameType = 0b1001
	frameAudioOnlyReply    frameType = 0b1011
	frameError             frameType = 0b1111
)

type frameFlags uint8

const (
	flagNoSequence       frameFlags = 0b0000
	flagPositiveSequence frameFlags = 0b0001
	flagLastNoSequence   frameFlags = 0b0010
	flagNegativeSequence frameFlags = 0b0011
	flagWithEvent        frameFlags = 0b0100

	sequenceMask frameFlags = 0b0011
)

const (
	serializationNone uint8 = 0b0000
	serializationJSON uint8 = 0b0001

	compressionNone uint8 = 0b0000
	compressionGzip uint8 = 0b0001
)

type eventType int32

const (
	eventStartConnection    eventType = 1
	eventFinishConnection   eventType = 2
	eventConnectionStarted  eventType = 50
	eventConnectionFailed   eventType = 51
	eventConnectionFinished eventType = 52
	eventSessionFinished    eventType = 152
)

type frame struct {
	kind          frameType
	flags         frameFlags
	serialization uint8
	compression   uint8
	sequence      int32
	event         eventType
	sessionID     string
	connectID     string
	errorCode     uint32
	payload       []byte
}

func (f *frame) hasSequence() bool {
	s := f.flags & sequenceMask
	return s == flagPositiveSequence || s == flagNegativeSequence
}

func (f *frame) hasEvent() bool {
	return f.flags&flagWithEvent != 0
}

// last reports whether the frame closes the stream by sequence flag.
func (f *frame) last() bool {
	s := f.flags & sequenceMask
	return s == flagLastNoSequence || s == flagNegativeSequence
}

func (e eventType) carriesSessionID() bool {
	switch e {
	case eventStartConnection, eventFinishConnection,
		eventConnectionStarted, eventConnectionFailed, eventConnectionFinished:
		return false
	}
	return true
}

func (e eventType) carriesConnectID() bool {
	return e == eventConnectionStarted || e == eventConnectionFailed || e == eventConnectionFinished
}

// newRequestFrame wraps a JSON request body.
func newRequestFrame(body []byte) *frame {
	return &frame{
		kind:          frameFullClientRequest,
		flags:         flagNoSequence,
		serialization: serializationJSON,
		compression:   compressionNone,
		payload:       body,
	}
}

func (f *frame) encode() []byte {
	var buf bytes.Buffer
	buf.Write([]byte{
		frameVersion<<4 | 1,
		uint8(f.kind)<<4 | uint8(f.flags),
		f.serialization<<4 | f.compression,
		0,
	})

	if f.hasSequence() {
		writeUint32(&buf, uint32(f.sequence))
	}
	if f.hasEvent() {
		writeUint32(&buf, uint32(f.event))
		if f.event.carriesSessionID() {
			writeString(&buf, f.sessionID)
		}
		if f.event.carriesConnectID() {
			writeString(&buf, f.connectID)
		}
	}
	if f.kind == frameError {
		writeUint32(&buf, f.errorCode)
	}
	writeUint32(&buf, uint32(len(f.payload)))
	buf.Write(f.payload)
	return buf.Bytes()
}

func decodeFrame(data []byte) (*frame, error) {
	r := bytes.NewReader(data)

	var head [4]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		return nil, fmt.Errorf("read frame header: %w", err)
	}
	if version := head[0] >> 4; version != frameVersion {
		return nil, fmt.Errorf("unsupported frame version %d", version)
	}

	f := &frame{
		kind:          frameType(head[1] >> 4),
		flags:         frameFlags(head[1] & 0x0F),
		serialization: head[2] >> 4,
		compression:   head[2] & 0x0F,
	}

	// header size is counted in 4-byte words
	if extra := int(head[0]&0x0F)*4 - 4; extra > 0 {
		if _, err := io.CopyN(io.Discard, r, int64(extra)); err != nil {
			return nil, fmt.Errorf("skip extended header: %w", err)
		}
	}

	if f.hasSequence() {
		seq, err := readUint32(r)
		if err != nil {
			return nil, fmt.Errorf("read sequence: %w", err)
		}
		f.sequence = int32(seq)
	}

	if f.hasEvent() {
		ev, err := readUint32(r)
		if err != nil {
			return nil, fmt.Errorf("read event: %w", err)
		}
		f.event = eventType(int32(ev))
		if f.event.carriesSessionID() {
			if f.sessionID, err = readString(r); err != nil {
				return nil, fmt.Errorf("read session id: %w", err)
			}
		}
		if f.event.carriesConnectID() {
			if f.connectID, err = readString(r); err != nil {
				return nil, fmt.Errorf("read connect id: %w", err)
			}
		}
	}

	if f.kind == frameError {
		code, err := readUint32(r)
		if err != nil {
			return nil, fmt.Errorf("read error code: %w", err)
		}
		f.errorCode = code
	}

	size, err := readUint32(r)
	if err != nil {
		return nil, fmt.Errorf("read payload size: %w", err)
	}
	if size > 0 {
		f.payload = make([]byte, size)
		if _, err := io.ReadFull(r, f.payload); err != nil {
			return nil, fmt.Errorf("read payload (%d bytes): %w", size, err)
		}
	}
	return f, nil
}

// body returns the payload, inflated when gzip-compressed.
func (f *frame) body() ([]byte, error) {
	switch f.compression {
	case compressionNone:
		return f.payload, nil
	case compressionGzip:
		zr, err := gzip.NewReader(bytes.NewReader(f.payload))
		if err != nil {
			return nil, fmt.Errorf("open gzip payload: %w", err)
		}
		defer zr.Close()
		return io.ReadAll(zr)
	default:
		return nil, fmt.Errorf("unsupported compression %d", f.compression)
	}
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeString(buf *bytes.Buffer, s string) {
	writeUint32(buf, uint32(len(s)))
	buf.WriteString(s)
}

func readUint32(r io.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

func readString(r io.Reader) (string, error) {
	n, err := readUint32(r)
	if err != nil {
		return "", err
	}
	if n == 0 {
		return "", nil
	}
	if n > 1<<16 {
		return "", errors.New("string field too long")
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}
