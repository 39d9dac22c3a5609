// Copyright (c) 2023 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package stream

import (
	"bytes"
	"regexp"
)

// DefaultMaxReadSize is the largest frame a Socket buffers by default.
const DefaultMaxReadSize = 8192

// Framer decides where the next frame of a byte stream ends.
//
// Split is given the bytes buffered so far and the socket's max read size.
// It returns the length of the first complete frame, terminator included.
type Framer interface {
	Split(buf []byte, maxSize int) (n int, ok bool)
}

// FramerFunc is a functional implementation of the [Framer] interface.
type FramerFunc func(buf []byte, maxSize int) (int, bool)

// Split implements the [Framer] interface.
func (f FramerFunc) Split(buf []byte, maxSize int) (int, bool) {
	return f(buf, maxSize)
}

func delimited(delim []byte) Framer {
	return FramerFunc(func(buf []byte, _ int) (int, bool) {
		i := bytes.Index(buf, delim)
		if i < 0 {
			return 0, false
		}
		return i + len(delim), true
	})
}

var (
	newline       = delimited([]byte("\n"))
	doubleNewline = delimited([]byte("\r\n\r\n"))
)

// Newline frames on a single '\n'.
func Newline() Framer {
	return newline
}

// DoubleNewline frames on "\r\n\r\n", the end of an HTTP preamble.
func DoubleNewline() Framer {
	return doubleNewline
}

// NextByte frames every byte.
func NextByte() Framer {
	return Exactly(1)
}

// Exactly frames every n bytes.
func Exactly(n int) Framer {
	return FramerFunc(func(buf []byte, _ int) (int, bool) {
		if n <= 0 || len(buf) < n {
			return 0, false
		}
		return n, true
	})
}

// BufferFull frames once max read size bytes are buffered.
func BufferFull() Framer {
	return FramerFunc(func(buf []byte, maxSize int) (int, bool) {
		if len(buf) < maxSize {
			return 0, false
		}
		return maxSize, true
	})
}

// Values frames on the first byte contained in set.
func Values(set string) Framer {
	var table [256]bool
	for i := 0; i < len(set); i++ {
		table[set[i]] = true
	}
	return FramerFunc(func(buf []byte, _ int) (int, bool) {
		for i, b := range buf {
			if table[b] {
				return i + 1, true
			}
		}
		return 0, false
	})
}

// Regex frames at the end of the first match of re.
func Regex(re *regexp.Regexp) Framer {
	return FramerFunc(func(buf []byte, _ int) (int, bool) {
		loc := re.FindIndex(buf)
		if loc == nil {
			return 0, false
		}
		return loc[1], true
	})
}

// Predicate frames wherever match says. match returns the end of the frame
// and whether a frame was found.
func Predicate(match func(buf []byte) (end int, done bool)) Framer {
	return FramerFunc(func(buf []byte, _ int) (int, bool) {
		end, done := match(buf)
		if !done || end < 0 || end > len(buf) {
			return 0, false
		}
		return end, true
	})
}
