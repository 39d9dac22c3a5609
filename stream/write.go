// Copyright (c) 2023 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package stream

import (
	"errors"
	"io"
	"net"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/z5labs/evhttp/event"
)

// OnWriteCompletion registers f for every "write_completion" event.
func (s *Socket) OnWriteCompletion(f func(n int)) error {
	_, err := s.On(WriteCompletion, event.Func1(f))
	return err
}

// OnAllWritesCompleted registers f for the "all_writes_completed" event.
func (s *Socket) OnAllWritesCompleted(f func()) error {
	_, err := s.On(AllWritesCompleted, event.Func(f))
	return err
}

// Write queues b behind any pending async writes and blocks until it has
// been written.
func (s *Socket) Write(b []byte) (int, error) {
	if err := s.writable(); err != nil {
		return 0, err
	}

	type result struct {
		n   int
		err error
	}
	done := make(chan result, 1)
	s.writer().push(writeReq{
		data: b,
		done: func(n int, err error) {
			done <- result{n: n, err: err}
		},
	})
	res := <-done
	return res.n, res.err
}

// WriteAsync queues a copy of b. "write_completion" is emitted once it has
// been written.
func (s *Socket) WriteAsync(b []byte) error {
	if err := s.writable(); err != nil {
		return err
	}
	s.enqueue(slices.Clone(b))
	return nil
}

// WriteString is shorthand for WriteAsync with a string.
func (s *Socket) WriteString(str string) error {
	return s.WriteAsync([]byte(str))
}

func (s *Socket) writable() error {
	switch {
	case s.closed:
		return ErrClosed
	case s.ended:
		return ErrEnded
	case s.conn == nil:
		return ErrNotConnected
	}
	s.clearCancel()
	return nil
}

func (s *Socket) enqueue(b []byte) {
	s.pending++
	s.writer().push(writeReq{
		data: b,
		done: func(n int, err error) {
			s.post(func() {
				s.onWritten(n, err)
			})
		},
	})
}

func (s *Socket) onWritten(n int, err error) {
	s.pending--

	var ferr FileError
	switch {
	case errors.As(err, &ferr):
		s.EmitExceptionError(ferr.Cause, "Error reading file "+ferr.Path, "stream.Socket.SendFileAsync")
	case err != nil:
		s.EmitCodeError(s.codeOf(err), "Error writing to socket", "stream.Socket.WriteAsync")
		if !s.canceled {
			s.Close(true)
			return
		}
	default:
		s.emit(WriteCompletion, n)
	}
	s.drained()
}

// drained finishes End or a deferred close once nothing is pending.
func (s *Socket) drained() {
	if s.closed || s.pending > 0 {
		return
	}
	if s.closeAfterWrite {
		s.Close(true)
		return
	}
	if !s.ended {
		return
	}
	s.emit(AllWritesCompleted)
	if !s.closed {
		s.shutdownWrite()
	}
}

// End flushes pending writes, emits "all_writes_completed" and half closes
// the connection. The socket closes fully once the peer closes its side or
// the linger period elapses.
func (s *Socket) End() error {
	if s.closed {
		return ErrClosed
	}
	if s.ended {
		return nil
	}
	s.ended = true
	s.drained()
	return nil
}

// CloseAfterWrites closes the socket once every pending write completes.
func (s *Socket) CloseAfterWrites() error {
	if s.closed {
		return ErrClosed
	}
	if s.pending == 0 {
		return s.Close(true)
	}
	s.closeAfterWrite = true
	return nil
}

type closeWriter interface {
	CloseWrite() error
}

func (s *Socket) shutdownWrite() {
	if s.conn == nil {
		s.Close(true)
		return
	}

	cw, ok := s.conn.(closeWriter)
	if !ok || cw.CloseWrite() != nil {
		s.Close(true)
		return
	}

	deadline := time.Now().Add(s.linger)
	if s.reading {
		s.conn.SetReadDeadline(deadline)
		return
	}

	conn := s.conn
	go func() {
		conn.SetReadDeadline(deadline)
		io.Copy(io.Discard, conn)
		s.post(func() {
			s.Close(true)
		})
	}()
}

// SendFile reads the file at path and queues its contents with WriteAsync.
// The read blocks the strand.
func (s *Socket) SendFile(path string) error {
	if err := s.writable(); err != nil {
		return err
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	s.enqueue(b)
	return nil
}

// SendFileAsync queues the file at path like WriteAsync. The file is read
// off the strand when its turn in the write queue comes, so it keeps its
// place relative to other writes.
func (s *Socket) SendFileAsync(path string) error {
	if err := s.writable(); err != nil {
		return err
	}

	s.pending++
	s.writer().push(writeReq{
		path: path,
		done: func(n int, err error) {
			s.post(func() {
				s.onWritten(n, err)
			})
		},
	})
	return nil
}

// FileError reports a file SendFileAsync could not read.
type FileError struct {
	Path  string
	Cause error
}

// Error implements the [builtin.error] interface.
func (e FileError) Error() string {
	return "failed to read file " + e.Path + ": " + e.Cause.Error()
}

// Unwrap implements the implicit interface used by [errors.Is] and [errors.As].
func (e FileError) Unwrap() error {
	return e.Cause
}

func (s *Socket) writer() *writeQueue {
	if s.writes != nil {
		return s.writes
	}
	q := newWriteQueue()
	s.writes = q

	conn := s.conn
	go q.drain(conn)
	return q
}

type writeReq struct {
	data []byte
	path string
	done func(int, error)
}

// writeQueue feeds a single writer goroutine so writes keep their order.
type writeQueue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	reqs    []writeReq
	stopped bool
}

func newWriteQueue() *writeQueue {
	q := &writeQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *writeQueue) push(req writeReq) {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		req.done(0, net.ErrClosed)
		return
	}
	q.reqs = append(q.reqs, req)
	q.mu.Unlock()
	q.cond.Signal()
}

func (q *writeQueue) pop() (writeReq, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.reqs) == 0 && !q.stopped {
		q.cond.Wait()
	}
	if q.stopped {
		return writeReq{}, false
	}
	req := q.reqs[0]
	q.reqs = q.reqs[1:]
	return req, true
}

func (q *writeQueue) stop() {
	q.mu.Lock()
	reqs := q.reqs
	q.reqs = nil
	q.stopped = true
	q.mu.Unlock()
	q.cond.Broadcast()

	for _, req := range reqs {
		req.done(0, net.ErrClosed)
	}
}

func (q *writeQueue) drain(w io.Writer) {
	for {
		req, ok := q.pop()
		if !ok {
			return
		}
		data := req.data
		if req.path != "" {
			b, err := os.ReadFile(req.path)
			if err != nil {
				req.done(0, FileError{Path: req.path, Cause: err})
				continue
			}
			data = b
		}
		n, err := w.Write(data)
		req.done(n, err)
	}
}
