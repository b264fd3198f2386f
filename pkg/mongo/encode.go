// Copyright (c) mongotap contributors
// SPDX-License-Identifier: Apache-2.0

package mongo

import (
	"encoding/binary"
)

// Encode serializes the message into one wire frame.
func (q *Query) Encode() []byte {
	var body []byte
	body = appendInt32(body, q.Flags)
	body = appendCString(body, q.FullCollectionName)
	body = appendInt32(body, q.NumberToSkip)
	body = appendInt32(body, q.NumberToReturn)
	body = append(body, q.Query...)
	body = append(body, q.ReturnFields...)
	return frame(q.RequestID, q.ResponseTo, OpQuery, body)
}

// Encode serializes the message into one wire frame.
func (r *Reply) Encode() []byte {
	var body []byte
	body = appendInt32(body, r.Flags)
	body = appendInt64(body, r.CursorID)
	body = appendInt32(body, r.StartingFrom)
	body = appendInt32(body, int32(len(r.Documents)))
	for _, doc := range r.Documents {
		body = append(body, doc...)
	}
	return frame(r.RequestID, r.ResponseTo, OpReply, body)
}

// Encode serializes the message into one wire frame.
func (g *GetMore) Encode() []byte {
	var body []byte
	body = appendInt32(body, 0)
	body = appendCString(body, g.FullCollectionName)
	body = appendInt32(body, g.NumberToReturn)
	body = appendInt64(body, g.CursorID)
	return frame(g.RequestID, g.ResponseTo, OpGetMore, body)
}

// Encode serializes the message into one wire frame.
func (i *Insert) Encode() []byte {
	var body []byte
	body = appendInt32(body, i.Flags)
	body = appendCString(body, i.FullCollectionName)
	for _, doc := range i.Documents {
		body = append(body, doc...)
	}
	return frame(i.RequestID, i.ResponseTo, OpInsert, body)
}

// Encode serializes the message into one wire frame.
func (k *KillCursors) Encode() []byte {
	var body []byte
	body = appendInt32(body, 0)
	body = appendInt32(body, int32(len(k.CursorIDs)))
	for _, id := range k.CursorIDs {
		body = appendInt64(body, id)
	}
	return frame(k.RequestID, k.ResponseTo, OpKillCursors, body)
}

func frame(requestID, responseTo int32, op OpCode, body []byte) []byte {
	msg := make([]byte, 0, headerSize+len(body))
	msg = appendInt32(msg, int32(headerSize+len(body)))
	msg = appendInt32(msg, requestID)
	msg = appendInt32(msg, responseTo)
	msg = appendInt32(msg, int32(op))
	return append(msg, body...)
}

func appendInt32(b []byte, v int32) []byte {
	return binary.LittleEndian.AppendUint32(b, uint32(v))
}

func appendInt64(b []byte, v int64) []byte {
	return binary.LittleEndian.AppendUint64(b, uint64(v))
}

func appendCString(b []byte, s string) []byte {
	b = append(b, s...)
	return append(b, 0)
}
