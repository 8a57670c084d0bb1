package ingest

import (
	"context"
	"errors"
	"sync"
	"time"

	"gemwatch/internal/domain"
)

// fakeSource is a ChatSource whose connect/read behavior is scripted for
// tests: it fails to connect connectFail times before succeeding, then
// yields the given messages in order, then blocks until ctx is cancelled.
type fakeSource struct {
	mu             sync.Mutex
	connectAttempt int
	connectFail    int
	connected      bool
	messages       []domain.RawMessage
	nextIdx        int
	readErrAfter   int // if >0, ReadMessage returns an error after this many reads on this connection
	readsThisConn  int
	closed         bool
}

var errFakeConnect = errors.New("fake: connect refused")
var errFakeRead = errors.New("fake: connection reset")

func (f *fakeSource) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectAttempt++
	if f.connectAttempt <= f.connectFail {
		return errFakeConnect
	}
	f.connected = true
	f.readsThisConn = 0
	return nil
}

func (f *fakeSource) ReadMessage(ctx context.Context) (domain.RawMessage, error) {
	f.mu.Lock()
	if f.readErrAfter > 0 && f.readsThisConn >= f.readErrAfter {
		f.readsThisConn = 0
		f.mu.Unlock()
		return domain.RawMessage{}, errFakeRead
	}
	if f.nextIdx >= len(f.messages) {
		f.mu.Unlock()
		<-ctx.Done()
		return domain.RawMessage{}, ctx.Err()
	}
	msg := f.messages[f.nextIdx]
	f.nextIdx++
	f.readsThisConn++
	f.mu.Unlock()
	return msg, nil
}

func (f *fakeSource) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.connected = false
	return nil
}

func rawMsg(sourceID, text string) domain.RawMessage {
	return domain.RawMessage{SourceID: sourceID, ReceivedAt: time.Now(), Text: text}
}
