// Copyright (c) mongotap contributors
// SPDX-License-Identifier: Apache-2.0

package mongo

import (
	"encoding/binary"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"

	"github.com/lsiv568/mongotap/pkg/buffer"
)

const (
	headerSize = 16

	// maxMessageSize bounds msgLength; mongod rejects messages over 48MB.
	maxMessageSize = 48 * 1024 * 1024
)

var (
	// ErrInvalidMessage indicates malformed framing or a truncated body.
	ErrInvalidMessage = errors.New("invalid wire message")

	// ErrUnknownOpCode indicates a well-framed message with an
	// unsupported operation code.
	ErrUnknownOpCode = errors.New("unknown op code")
)

// Decoder is a streaming wire-protocol parser. It is not safe for
// concurrent use; one decoder serves one direction of one connection.
type Decoder struct {
	handler MessageHandler
}

// NewDecoder creates a decoder delivering messages to h.
func NewDecoder(h MessageHandler) *Decoder {
	return &Decoder{handler: h}
}

// Decode consumes every fully-framed message in buf, invoking the handler
// callbacks synchronously in wire order. Partial trailing bytes are left
// in buf. A non-nil error is terminal: the decoder must not be fed again.
func (d *Decoder) Decode(buf *buffer.Buffer) error {
	for {
		if buf.Length() < 4 {
			return nil
		}
		data := buf.Linearize()
		msgLen := int32(binary.LittleEndian.Uint32(data[0:4]))
		if msgLen < headerSize || msgLen > maxMessageSize {
			return fmt.Errorf("%w: message length %d", ErrInvalidMessage, msgLen)
		}
		if buf.Length() < int(msgLen) {
			return nil
		}
		if err := d.decodeMessage(data[:msgLen]); err != nil {
			return err
		}
		buf.Drain(int(msgLen))
	}
}

func (d *Decoder) decodeMessage(frame []byte) error {
	r := reader{data: frame, pos: 4}
	requestID := r.int32()
	responseTo := r.int32()
	opCode := OpCode(r.int32())

	switch opCode {
	case OpQuery:
		return d.decodeQuery(&r, requestID, responseTo)
	case OpReply:
		return d.decodeReply(&r, requestID, responseTo)
	case OpGetMore:
		return d.decodeGetMore(&r, requestID, responseTo)
	case OpInsert:
		return d.decodeInsert(&r, requestID, responseTo)
	case OpKillCursors:
		return d.decodeKillCursors(&r, requestID, responseTo)
	default:
		return fmt.Errorf("%w: %d", ErrUnknownOpCode, opCode)
	}
}

func (d *Decoder) decodeQuery(r *reader, requestID, responseTo int32) error {
	q := &Query{
		RequestID:          requestID,
		ResponseTo:         responseTo,
		Flags:              r.int32(),
		FullCollectionName: r.cstring(),
		NumberToSkip:       r.int32(),
		NumberToReturn:     r.int32(),
		Query:              r.document(),
	}
	if r.remaining() > 0 {
		q.ReturnFields = r.document()
	}
	if r.err != nil {
		return r.err
	}
	d.handler.OnQuery(q)
	return nil
}

func (d *Decoder) decodeReply(r *reader, requestID, responseTo int32) error {
	reply := &Reply{
		RequestID:      requestID,
		ResponseTo:     responseTo,
		Flags:          r.int32(),
		CursorID:       r.int64(),
		StartingFrom:   r.int32(),
		NumberReturned: r.int32(),
	}
	for r.err == nil && r.remaining() > 0 {
		reply.Documents = append(reply.Documents, r.document())
	}
	if r.err != nil {
		return r.err
	}
	d.handler.OnReply(reply)
	return nil
}

func (d *Decoder) decodeGetMore(r *reader, requestID, responseTo int32) error {
	r.int32() // reserved
	g := &GetMore{
		RequestID:          requestID,
		ResponseTo:         responseTo,
		FullCollectionName: r.cstring(),
		NumberToReturn:     r.int32(),
		CursorID:           r.int64(),
	}
	if r.err != nil {
		return r.err
	}
	d.handler.OnGetMore(g)
	return nil
}

func (d *Decoder) decodeInsert(r *reader, requestID, responseTo int32) error {
	i := &Insert{
		RequestID:          requestID,
		ResponseTo:         responseTo,
		Flags:              r.int32(),
		FullCollectionName: r.cstring(),
	}
	for r.err == nil && r.remaining() > 0 {
		i.Documents = append(i.Documents, r.document())
	}
	if r.err != nil {
		return r.err
	}
	d.handler.OnInsert(i)
	return nil
}

func (d *Decoder) decodeKillCursors(r *reader, requestID, responseTo int32) error {
	r.int32() // reserved
	n := r.int32()
	if r.err == nil && (n < 0 || int(n)*8 != r.remaining()) {
		return fmt.Errorf("%w: cursor id count %d", ErrInvalidMessage, n)
	}
	k := &KillCursors{RequestID: requestID, ResponseTo: responseTo}
	for j := int32(0); j < n && r.err == nil; j++ {
		k.CursorIDs = append(k.CursorIDs, r.int64())
	}
	if r.err != nil {
		return r.err
	}
	d.handler.OnKillCursors(k)
	return nil
}

// reader walks a single frame. The first decode error sticks; subsequent
// reads return zero values.
type reader struct {
	data []byte
	pos  int
	err  error
}

func (r *reader) remaining() int {
	return len(r.data) - r.pos
}

func (r *reader) fail(what string) {
	if r.err == nil {
		r.err = fmt.Errorf("%w: truncated %s", ErrInvalidMessage, what)
	}
}

func (r *reader) int32() int32 {
	if r.err != nil {
		return 0
	}
	if r.remaining() < 4 {
		r.fail("int32")
		return 0
	}
	v := int32(binary.LittleEndian.Uint32(r.data[r.pos:]))
	r.pos += 4
	return v
}

func (r *reader) int64() int64 {
	if r.err != nil {
		return 0
	}
	if r.remaining() < 8 {
		r.fail("int64")
		return 0
	}
	v := int64(binary.LittleEndian.Uint64(r.data[r.pos:]))
	r.pos += 8
	return v
}

func (r *reader) cstring() string {
	if r.err != nil {
		return ""
	}
	for i := r.pos; i < len(r.data); i++ {
		if r.data[i] == 0 {
			s := string(r.data[r.pos:i])
			r.pos = i + 1
			return s
		}
	}
	r.fail("cstring")
	return ""
}

func (r *reader) document() bsoncore.Document {
	if r.err != nil {
		return nil
	}
	if r.remaining() < 4 {
		r.fail("document")
		return nil
	}
	docLen := int(int32(binary.LittleEndian.Uint32(r.data[r.pos:])))
	if docLen < 5 || docLen > r.remaining() {
		r.fail("document")
		return nil
	}
	doc := bsoncore.Document(r.data[r.pos : r.pos+docLen])
	if err := doc.Validate(); err != nil {
		r.err = fmt.Errorf("%w: %v", ErrInvalidMessage, err)
		return nil
	}
	r.pos += docLen
	return doc
}
