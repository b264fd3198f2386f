// Copyright (c) mongotap contributors
// SPDX-License-Identifier: Apache-2.0

package buffer

import (
	"bytes"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"golang.org/x/sys/unix"
)

var tenBytes = []byte("0123456789")

type watermarkFixture struct {
	buf       *Buffer
	lowCalls  int
	highCalls int
}

func newFixture() *watermarkFixture {
	f := &watermarkFixture{}
	f.buf = New(
		func() { f.lowCalls++ },
		func() { f.highCalls++ },
	)
	f.buf.SetWatermarks(5, 10)
	return f
}

func TestAddBytes(t *testing.T) {
	f := newFixture()

	f.buf.Add(tenBytes)
	if f.highCalls != 0 {
		t.Fatalf("high watermark fired at length 10, calls=%d", f.highCalls)
	}
	f.buf.Add([]byte("a"))
	if f.highCalls != 1 {
		t.Fatalf("expected one high watermark call, got %d", f.highCalls)
	}
	if f.buf.Length() != 11 {
		t.Fatalf("expected length 11, got %d", f.buf.Length())
	}
}

func TestAddString(t *testing.T) {
	f := newFixture()

	f.buf.AddString(string(tenBytes))
	if f.highCalls != 0 {
		t.Fatalf("high watermark fired early")
	}
	f.buf.AddString("a")
	if f.highCalls != 1 {
		t.Fatalf("expected one high watermark call, got %d", f.highCalls)
	}
	if f.buf.Length() != 11 {
		t.Fatalf("expected length 11, got %d", f.buf.Length())
	}
}

func TestAddBuffer(t *testing.T) {
	f := newFixture()

	first := New(nil, nil)
	first.Add(tenBytes)
	f.buf.AddBuffer(first)
	if f.highCalls != 0 {
		t.Fatalf("high watermark fired early")
	}

	second := New(nil, nil)
	second.Add([]byte("a"))
	f.buf.AddBuffer(second)
	if f.highCalls != 1 {
		t.Fatalf("expected one high watermark call, got %d", f.highCalls)
	}
	if f.buf.Length() != 11 {
		t.Fatalf("expected length 11, got %d", f.buf.Length())
	}
}

func TestReserveCommit(t *testing.T) {
	f := newFixture()

	f.buf.Add(tenBytes)
	if f.highCalls != 0 {
		t.Fatalf("high watermark fired early")
	}

	out := f.buf.Reserve(10)
	copy(out, tenBytes)
	f.buf.Commit(10)
	if f.highCalls != 1 {
		t.Fatalf("expected one high watermark call, got %d", f.highCalls)
	}
	if f.buf.Length() != 20 {
		t.Fatalf("expected length 20, got %d", f.buf.Length())
	}
}

func TestDrainHysteresis(t *testing.T) {
	f := newFixture()

	// Draining from above to below the low watermark does nothing if the
	// high watermark never got hit.
	f.buf.Add(tenBytes)
	f.buf.Drain(10)
	if f.highCalls != 0 || f.lowCalls != 0 {
		t.Fatalf("unexpected callbacks: high=%d low=%d", f.highCalls, f.lowCalls)
	}

	// Go above the high watermark then drain down to just at the low
	// watermark.
	f.buf.Add(append(tenBytes, 'a'))
	f.buf.Drain(6)
	if f.buf.Length() != 5 {
		t.Fatalf("expected length 5, got %d", f.buf.Length())
	}
	if f.lowCalls != 0 {
		t.Fatalf("low watermark fired at exactly the threshold")
	}

	// Now drain below.
	f.buf.Drain(1)
	if f.lowCalls != 1 {
		t.Fatalf("expected one low watermark call, got %d", f.lowCalls)
	}

	// Going back above should trigger the high again.
	f.buf.Add(tenBytes)
	if f.highCalls != 2 {
		t.Fatalf("expected two high watermark calls, got %d", f.highCalls)
	}
}

func TestMoveFullBuffer(t *testing.T) {
	f := newFixture()

	f.buf.Add(tenBytes)
	data := New(nil, nil)
	data.Add([]byte("a"))

	if f.highCalls != 0 {
		t.Fatalf("high watermark fired early")
	}
	f.buf.Move(data)
	if f.highCalls != 1 {
		t.Fatalf("expected one high watermark call, got %d", f.highCalls)
	}
	if f.buf.Length() != 11 {
		t.Fatalf("expected length 11, got %d", f.buf.Length())
	}
	if data.Length() != 0 {
		t.Fatalf("source not emptied, length %d", data.Length())
	}
}

func TestMoveOneByte(t *testing.T) {
	f := newFixture()

	f.buf.Add(tenBytes[:9])
	data := New(nil, nil)
	data.Add([]byte("ab"))

	f.buf.MoveN(data, 1)
	if f.highCalls != 0 {
		t.Fatalf("high watermark fired early")
	}
	if f.buf.Length() != 10 {
		t.Fatalf("expected length 10, got %d", f.buf.Length())
	}

	f.buf.MoveN(data, 1)
	if f.highCalls != 1 {
		t.Fatalf("expected one high watermark call, got %d", f.highCalls)
	}
	if f.buf.Length() != 11 {
		t.Fatalf("expected length 11, got %d", f.buf.Length())
	}
}

func TestMoveRoundTripRestoresContent(t *testing.T) {
	a := New(nil, nil)
	b := New(nil, nil)
	a.Add([]byte("hello, watermark"))
	want := append([]byte(nil), a.Linearize()...)

	b.MoveN(a, len(want))
	if a.Length() != 0 || b.Length() != len(want) {
		t.Fatalf("move out: a=%d b=%d", a.Length(), b.Length())
	}
	a.MoveN(b, len(want))
	if a.Length() != len(want) || b.Length() != 0 {
		t.Fatalf("move back: a=%d b=%d", a.Length(), b.Length())
	}
	if got := a.Linearize(); !bytes.Equal(got, want) {
		t.Fatalf("content changed: got %q want %q", got, want)
	}
}

func TestFdReadWrite(t *testing.T) {
	f := newFixture()

	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		t.Fatalf("pipe: %v", err)
	}
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	f.buf.Add(tenBytes)
	f.buf.Add(tenBytes)
	if f.highCalls != 1 || f.lowCalls != 0 {
		t.Fatalf("unexpected callbacks before write: high=%d low=%d", f.highCalls, f.lowCalls)
	}

	written := 0
	for written < 20 {
		n, err := f.buf.Write(fds[1])
		if err != nil {
			t.Fatalf("write: %v", err)
		}
		written += n
	}
	if f.highCalls != 1 || f.lowCalls != 1 {
		t.Fatalf("unexpected callbacks after write: high=%d low=%d", f.highCalls, f.lowCalls)
	}
	if f.buf.Length() != 0 {
		t.Fatalf("expected empty buffer, length %d", f.buf.Length())
	}

	read := 0
	for read < 20 {
		n, err := f.buf.Read(fds[0], 20)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		read += n
	}
	if f.highCalls != 2 {
		t.Fatalf("expected two high watermark calls, got %d", f.highCalls)
	}
	if f.buf.Length() != 20 {
		t.Fatalf("expected length 20, got %d", f.buf.Length())
	}
}

func TestSetWatermarksReevaluates(t *testing.T) {
	f := newFixture()

	f.buf.Add(tenBytes[:9])
	if f.highCalls != 0 {
		t.Fatalf("high watermark fired early")
	}
	f.buf.SetWatermarks(1, 9)
	if f.highCalls != 0 {
		t.Fatalf("high fired without a breach")
	}
	f.buf.SetWatermarks(1, 8)
	if f.highCalls != 1 {
		t.Fatalf("expected one high watermark call, got %d", f.highCalls)
	}

	f.buf.SetWatermarks(9, 20)
	if f.lowCalls != 0 {
		t.Fatalf("low fired at exactly the threshold")
	}
	f.buf.SetWatermarks(10, 20)
	if f.lowCalls != 1 {
		t.Fatalf("expected one low watermark call, got %d", f.lowCalls)
	}
	f.buf.SetWatermarks(8, 20)
	f.buf.SetWatermarks(10, 20)
	if f.lowCalls != 1 {
		t.Fatalf("reconfiguration without a length change re-fired, calls=%d", f.lowCalls)
	}
}

func TestRawSlicesAndLinearize(t *testing.T) {
	f := newFixture()
	f.buf.Add(tenBytes)

	slices := f.buf.RawSlices()
	if len(slices) != 1 {
		t.Fatalf("expected 1 slice, got %d", len(slices))
	}
	if !bytes.Equal(slices[0], tenBytes) {
		t.Fatalf("slice content mismatch: %q", slices[0])
	}

	linear := f.buf.Linearize()
	if &linear[0] != &slices[0][0] {
		t.Fatalf("linearize of a single chunk should not copy")
	}
}

func TestSearch(t *testing.T) {
	f := newFixture()
	f.buf.Add(tenBytes)

	if got := f.buf.Search(tenBytes[1:3], 0); got != 1 {
		t.Fatalf("expected offset 1, got %d", got)
	}
	if got := f.buf.Search(tenBytes[1:3], 5); got != -1 {
		t.Fatalf("expected -1, got %d", got)
	}
}

func TestSearchAcrossChunks(t *testing.T) {
	b := New(nil, nil)
	b.Add([]byte("01234"))
	b.Add([]byte("56789"))

	if got := b.Search([]byte("456"), 0); got != 4 {
		t.Fatalf("expected offset 4, got %d", got)
	}
	if got := b.Search([]byte("456"), 5); got != -1 {
		t.Fatalf("expected -1, got %d", got)
	}
}

func TestMoveBackWithWatermarks(t *testing.T) {
	f := newFixture()

	var high1, low1 int
	buffer1 := New(
		func() { low1++ },
		func() { high1++ },
	)
	buffer1.SetWatermarks(5, 10)

	// Stick 20 bytes in and expect the high watermark is hit.
	f.buf.Add(tenBytes)
	f.buf.Add(tenBytes)
	if f.highCalls != 1 {
		t.Fatalf("expected one high watermark call, got %d", f.highCalls)
	}

	// Now move 10 bytes to the new buffer. Nothing should happen.
	buffer1.MoveN(f.buf, 10)
	if f.lowCalls != 0 || high1 != 0 {
		t.Fatalf("unexpected callbacks: low=%d high1=%d", f.lowCalls, high1)
	}

	// Move 10 more. Both buffers should hit watermark callbacks.
	buffer1.MoveN(f.buf, 10)
	if f.lowCalls != 1 {
		t.Fatalf("expected one low watermark call, got %d", f.lowCalls)
	}
	if high1 != 1 {
		t.Fatalf("expected one high watermark call on buffer1, got %d", high1)
	}

	// Move all the data back. Watermarks should trigger immediately.
	f.buf.Move(buffer1)
	if f.highCalls != 2 {
		t.Fatalf("expected two high watermark calls, got %d", f.highCalls)
	}
	if low1 != 1 {
		t.Fatalf("expected one low watermark call on buffer1, got %d", low1)
	}
}

// The hysteresis invariant: over any operation sequence the number of high
// crossings can exceed the number of low crossings by at most one, and
// never the other way around.
func TestWatermarkHysteresisProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("high minus low crossings is 0 or 1", prop.ForAll(
		func(ops []int) bool {
			var highs, lows int
			b := New(
				func() { lows++ },
				func() { highs++ },
			)
			b.SetWatermarks(5, 10)
			scratch := []byte("0123456789abcdef")
			for _, op := range ops {
				n := op % len(scratch)
				if n < 0 {
					n = -n
				}
				if op%2 == 0 {
					b.Add(scratch[:n])
				} else {
					b.Drain(n)
				}
				diff := highs - lows
				if diff != 0 && diff != 1 {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.Int()),
	))

	properties.TestingRun(t)
}
