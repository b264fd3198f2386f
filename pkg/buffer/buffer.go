// Copyright (c) mongotap contributors
// SPDX-License-Identifier: Apache-2.0

package buffer

import (
	"bytes"

	"golang.org/x/sys/unix"
)

// maxWriteSlices caps the number of iovecs handed to writev in one call.
const maxWriteSlices = 16

// Buffer is a growable chunked byte buffer with high/low watermark
// callbacks. The zero value is not usable; create buffers with New.
//
// Buffer is not safe for concurrent use. It is owned by a single
// connection's execution context.
type Buffer struct {
	chunks [][]byte
	length int

	// Outstanding reservation from Reserve, committed by Commit.
	reserved []byte

	lowWatermark  int
	highWatermark int
	aboveHigh     bool

	onBelowLow  func()
	onAboveHigh func()
}

// New creates an empty buffer. Watermarks are disabled until SetWatermarks
// is called. Either callback may be nil.
func New(onBelowLow, onAboveHigh func()) *Buffer {
	return &Buffer{
		onBelowLow:  onBelowLow,
		onAboveHigh: onAboveHigh,
	}
}

// Length returns the number of buffered bytes.
func (b *Buffer) Length() int {
	return b.length
}

// SetWatermarks reconfigures the thresholds and immediately re-evaluates
// watermark state against the current length. Repeated calls with
// thresholds that do not newly breach or clear never re-fire a callback.
func (b *Buffer) SetWatermarks(low, high int) {
	b.lowWatermark = low
	b.highWatermark = high
	b.checkWatermarks()
}

// Add appends a copy of data.
func (b *Buffer) Add(data []byte) {
	if len(data) > 0 {
		chunk := make([]byte, len(data))
		copy(chunk, data)
		b.append(chunk)
	}
	b.checkWatermarks()
}

// AddString appends the bytes of s.
func (b *Buffer) AddString(s string) {
	b.Add([]byte(s))
}

// AddBuffer appends a copy of another buffer's contents. The source is
// not modified.
func (b *Buffer) AddBuffer(src *Buffer) {
	for _, chunk := range src.chunks {
		c := make([]byte, len(chunk))
		copy(c, chunk)
		b.append(c)
	}
	b.checkWatermarks()
}

// Reserve returns a scratch slice of n bytes for a zero-copy fill. The
// bytes are not part of the buffer until Commit is called. A second
// Reserve before Commit discards the first reservation.
func (b *Buffer) Reserve(n int) []byte {
	b.reserved = make([]byte, n)
	return b.reserved
}

// Commit adds the first n bytes of the current reservation to the buffer
// and releases the reservation. Commit without a reservation, or with n
// larger than the reservation, is a no-op beyond watermark re-evaluation.
func (b *Buffer) Commit(n int) {
	if b.reserved != nil && n > 0 && n <= len(b.reserved) {
		b.append(b.reserved[:n])
	}
	b.reserved = nil
	b.checkWatermarks()
}

// Drain discards up to n bytes from the front of the buffer.
func (b *Buffer) Drain(n int) {
	b.drain(n)
	b.checkWatermarks()
}

// Move transfers the full contents of src into b. Watermark state is
// re-evaluated independently on both buffers; each observes at most one
// callback.
func (b *Buffer) Move(src *Buffer) {
	b.MoveN(src, src.length)
}

// MoveN transfers up to n bytes from the front of src into b.
func (b *Buffer) MoveN(src *Buffer, n int) {
	for n > 0 && len(src.chunks) > 0 {
		chunk := src.chunks[0]
		if len(chunk) <= n {
			src.chunks = src.chunks[1:]
			src.length -= len(chunk)
			n -= len(chunk)
			b.append(chunk)
			continue
		}
		moved := make([]byte, n)
		copy(moved, chunk[:n])
		src.chunks[0] = chunk[n:]
		src.length -= n
		b.append(moved)
		n = 0
	}
	src.checkWatermarks()
	b.checkWatermarks()
}

// Read performs a vectored read of up to maxLength bytes from the file
// descriptor into the buffer. It returns the number of bytes read; n == 0
// with a nil error means EOF.
func (b *Buffer) Read(fd int, maxLength int) (int, error) {
	scratch := make([]byte, maxLength)
	n, err := unix.Readv(fd, [][]byte{scratch})
	if err != nil {
		b.checkWatermarks()
		return 0, err
	}
	if n > 0 {
		b.append(scratch[:n])
	}
	b.checkWatermarks()
	return n, nil
}

// Write performs a gather write of the buffer's front chunks to the file
// descriptor and drains the bytes written. It returns the number of bytes
// written.
func (b *Buffer) Write(fd int) (int, error) {
	iovs := b.chunks
	if len(iovs) > maxWriteSlices {
		iovs = iovs[:maxWriteSlices]
	}
	n, err := unix.Writev(fd, iovs)
	if err != nil {
		b.checkWatermarks()
		return 0, err
	}
	if n > 0 {
		b.drain(n)
	}
	b.checkWatermarks()
	return n, nil
}

// Search returns the offset of the first occurrence of pattern at or
// after start, or -1 if the pattern does not occur.
func (b *Buffer) Search(pattern []byte, start int) int {
	if start < 0 || start > b.length {
		return -1
	}
	if len(pattern) == 0 {
		return start
	}
	// Common case: the data already lives in one chunk.
	if len(b.chunks) == 1 {
		i := bytes.Index(b.chunks[0][start:], pattern)
		if i < 0 {
			return -1
		}
		return start + i
	}
	for i := start; i+len(pattern) <= b.length; i++ {
		if b.matchAt(i, pattern) {
			return i
		}
	}
	return -1
}

// Linearize coalesces the buffer into a single contiguous chunk and
// returns it. The returned slice aliases the buffer's storage and is
// valid until the next mutation.
func (b *Buffer) Linearize() []byte {
	if len(b.chunks) == 0 {
		return nil
	}
	if len(b.chunks) > 1 {
		merged := make([]byte, 0, b.length)
		for _, chunk := range b.chunks {
			merged = append(merged, chunk...)
		}
		b.chunks = [][]byte{merged}
	}
	return b.chunks[0]
}

// RawSlices returns the buffer's backing chunks without copying.
func (b *Buffer) RawSlices() [][]byte {
	return b.chunks
}

func (b *Buffer) append(chunk []byte) {
	b.chunks = append(b.chunks, chunk)
	b.length += len(chunk)
}

func (b *Buffer) drain(n int) {
	for n > 0 && len(b.chunks) > 0 {
		chunk := b.chunks[0]
		if len(chunk) <= n {
			b.chunks = b.chunks[1:]
			b.length -= len(chunk)
			n -= len(chunk)
			continue
		}
		b.chunks[0] = chunk[n:]
		b.length -= n
		n = 0
	}
}

func (b *Buffer) matchAt(offset int, pattern []byte) bool {
	ci, co := 0, offset
	for ci < len(b.chunks) && co >= len(b.chunks[ci]) {
		co -= len(b.chunks[ci])
		ci++
	}
	for _, p := range pattern {
		if ci >= len(b.chunks) {
			return false
		}
		if b.chunks[ci][co] != p {
			return false
		}
		co++
		for ci < len(b.chunks) && co >= len(b.chunks[ci]) {
			co -= len(b.chunks[ci])
			ci++
		}
	}
	return true
}

// checkWatermarks re-evaluates watermark state once. The high callback
// fires only on a transition from at-or-below the high threshold to above
// it; the low callback fires only on a transition from the fired-high
// state to strictly below the low threshold.
func (b *Buffer) checkWatermarks() {
	if !b.aboveHigh {
		if b.highWatermark > 0 && b.length > b.highWatermark {
			b.aboveHigh = true
			if b.onAboveHigh != nil {
				b.onAboveHigh()
			}
		}
		return
	}
	if b.length < b.lowWatermark {
		b.aboveHigh = false
		if b.onBelowLow != nil {
			b.onBelowLow()
		}
	}
}
