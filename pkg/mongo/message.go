// Copyright (c) mongotap contributors
// SPDX-License-Identifier: Apache-2.0

package mongo

import (
	"strings"

	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"
)

// OpCode identifies the operation carried by a wire message.
type OpCode int32

const (
	OpReply       OpCode = 1
	OpInsert      OpCode = 2002
	OpQuery       OpCode = 2004
	OpGetMore     OpCode = 2005
	OpKillCursors OpCode = 2007
)

// OP_QUERY flag bits.
const (
	QueryTailableCursor  int32 = 1 << 1
	QueryNoCursorTimeout int32 = 1 << 4
	QueryAwaitData       int32 = 1 << 5
	QueryExhaust         int32 = 1 << 6
)

// OP_REPLY flag bits.
const (
	ReplyCursorNotFound int32 = 1 << 0
	ReplyQueryFailure   int32 = 1 << 1
)

// Query is an OP_QUERY message.
type Query struct {
	RequestID          int32
	ResponseTo         int32
	Flags              int32
	FullCollectionName string
	NumberToSkip       int32
	NumberToReturn     int32
	Query              bsoncore.Document
	ReturnFields       bsoncore.Document
}

// CollectionName returns the collection part of the "db.collection"
// namespace, or the full namespace if it carries no database prefix.
func (q *Query) CollectionName() string {
	if i := strings.Index(q.FullCollectionName, "."); i >= 0 {
		return q.FullCollectionName[i+1:]
	}
	return q.FullCollectionName
}

// IsCommand reports whether the query targets the special $cmd collection.
func (q *Query) IsCommand() bool {
	return q.CollectionName() == "$cmd"
}

// Reply is an OP_REPLY message.
type Reply struct {
	RequestID      int32
	ResponseTo     int32
	Flags          int32
	CursorID       int64
	StartingFrom   int32
	NumberReturned int32
	Documents      []bsoncore.Document
}

// DocumentsByteSize returns the total serialized size of the reply's
// document payload.
func (r *Reply) DocumentsByteSize() uint64 {
	var size uint64
	for _, doc := range r.Documents {
		size += uint64(len(doc))
	}
	return size
}

// GetMore is an OP_GET_MORE message.
type GetMore struct {
	RequestID          int32
	ResponseTo         int32
	FullCollectionName string
	NumberToReturn     int32
	CursorID           int64
}

// Insert is an OP_INSERT message.
type Insert struct {
	RequestID          int32
	ResponseTo         int32
	Flags              int32
	FullCollectionName string
	Documents          []bsoncore.Document
}

// KillCursors is an OP_KILL_CURSORS message.
type KillCursors struct {
	RequestID  int32
	ResponseTo int32
	CursorIDs  []int64
}

// MessageHandler receives one callback per decoded message, in wire order.
type MessageHandler interface {
	OnQuery(q *Query)
	OnReply(r *Reply)
	OnGetMore(g *GetMore)
	OnInsert(i *Insert)
	OnKillCursors(k *KillCursors)
}
