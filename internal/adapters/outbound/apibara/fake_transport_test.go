package apibara

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// fakeRecv is one scripted Recv result.
type fakeRecv struct {
	msg StreamMessage
	err error
}

// fakeSession scripts one Open call. A session without a terminal error
// blocks after its last message until the session context ends.
type fakeSession struct {
	openErr error
	recvs   []fakeRecv
}

// fakeTransport replays scripted sessions and records every request.
type fakeTransport struct {
	mu       sync.Mutex
	sessions []fakeSession
	requests []StreamRequest
	openedAt []time.Time
	failedAt []time.Time
	closed   atomic.Bool
}

func newFakeTransport(sessions ...fakeSession) *fakeTransport {
	return &fakeTransport{sessions: sessions}
}

func (f *fakeTransport) Open(ctx context.Context, req StreamRequest) (MessageStream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.requests = append(f.requests, req)
	f.openedAt = append(f.openedAt, time.Now())

	var session fakeSession
	if len(f.sessions) > 0 {
		session, f.sessions = f.sessions[0], f.sessions[1:]
	}
	if session.openErr != nil {
		f.failedAt = append(f.failedAt, time.Now())
		return nil, session.openErr
	}
	return &fakeStream{ctx: ctx, recvs: session.recvs, transport: f}, nil
}

func (f *fakeTransport) Close() error {
	f.closed.Store(true)
	return nil
}

func (f *fakeTransport) Requests() []StreamRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]StreamRequest(nil), f.requests...)
}

func (f *fakeTransport) OpenedAt() []time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Time(nil), f.openedAt...)
}

func (f *fakeTransport) FailedAt() []time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Time(nil), f.failedAt...)
}

type fakeStream struct {
	ctx       context.Context
	recvs     []fakeRecv
	transport *fakeTransport
}

func (s *fakeStream) Recv() (StreamMessage, error) {
	if len(s.recvs) == 0 {
		<-s.ctx.Done()
		return StreamMessage{}, s.ctx.Err()
	}
	next := s.recvs[0]
	s.recvs = s.recvs[1:]
	if next.err != nil {
		s.transport.mu.Lock()
		s.transport.failedAt = append(s.transport.failedAt, time.Now())
		s.transport.mu.Unlock()
	}
	return next.msg, next.err
}

func (s *fakeStream) Close() error {
	return nil
}

func dataMsg(blocks ...[]byte) fakeRecv {
	return fakeRecv{msg: StreamMessage{Kind: MessageData, Blocks: blocks}}
}

func recvErr(err error) fakeRecv {
	return fakeRecv{err: err}
}
