// Copyright (c) mongotap contributors
// SPDX-License-Identifier: Apache-2.0

// Package buffer provides a chunked byte buffer with hysteresis watermark
// signaling for backpressure.
//
// A Buffer tracks a low and a high threshold. When the buffered length
// crosses above the high watermark the high callback fires once; it will
// not fire again until the length has first dropped strictly below the low
// watermark, which fires the low callback once. Values between the two
// thresholds never trigger callbacks absent a crossing. This hysteresis
// lets a connection stop reading under load without flapping.
//
// Buffers back both the read and the write side of a proxied connection:
//
//	client socket → read Buffer → filter engine → backend socket
//
// All mutating operations (Add, Drain, Move, Commit, Read, Write) re-check
// watermark state exactly once, so any single call observes at most one
// callback per buffer involved.
package buffer
