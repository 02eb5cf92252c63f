package adapter

import (
	"io"
	"sync"
)

// streamBody is the Raw body of a streamed response. The delegate appends
// chunks without blocking the session's delegate queue; readers block until
// data or the end of the body arrives.
type streamBody struct {
	mu     sync.Mutex
	cond   *sync.Cond
	chunks [][]byte
	err    error
	closed bool
	// release runs once the body is closed.
	release func()
}

func newStreamBody(release func()) *streamBody {
	b := &streamBody{release: release}
	b.cond = sync.NewCond(&b.mu)
	return b
}

func (b *streamBody) write(p []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed || b.err != nil {
		return
	}
	b.chunks = append(b.chunks, p)
	b.cond.Broadcast()
}

// finish ends the body. A nil err means the body is complete.
func (b *streamBody) finish(err error) {
	if err == nil {
		err = io.EOF
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err == nil {
		b.err = err
	}
	b.cond.Broadcast()
}

func (b *streamBody) Read(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for len(b.chunks) == 0 && b.err == nil && !b.closed {
		b.cond.Wait()
	}
	if b.closed {
		return 0, io.ErrClosedPipe
	}
	if len(b.chunks) == 0 {
		return 0, b.err
	}

	n := copy(p, b.chunks[0])
	b.chunks[0] = b.chunks[0][n:]
	if len(b.chunks[0]) == 0 {
		b.chunks[0] = nil
		b.chunks = b.chunks[1:]
	}
	return n, nil
}

// Close discards unread data. Closing before the body finished cancels the
// task.
func (b *streamBody) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.chunks = nil
	b.cond.Broadcast()
	b.mu.Unlock()

	if b.release != nil {
		b.release()
	}
	return nil
}
