// Copyright (c) mongotap contributors
// SPDX-License-Identifier: Apache-2.0

// Package mongo implements the legacy MongoDB wire protocol used between
// clients and mongos/mongod: length-prefixed little-endian frames carrying
// OP_QUERY, OP_REPLY, OP_GET_MORE, OP_INSERT and OP_KILL_CURSORS messages
// with BSON document payloads.
//
// The Decoder is a streaming parser: feed it a buffer and it synchronously
// invokes one typed callback per fully-framed message, leaving any partial
// trailing message buffered for the next feed. A framing error is terminal
// for the decoder; callers are expected to stop feeding it.
package mongo
