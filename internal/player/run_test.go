package player

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/tvstream/internal/wire"
)

// scriptedConn delivers queued server messages to the read loop.
type scriptedConn struct {
	*fakeConn
	in chan []byte
}

func (c *scriptedConn) ReadMessage() ([]byte, error) {
	select {
	case data := <-c.in:
		return data, nil
	case <-c.closed:
		return nil, errClosed
	}
}

type scriptedDialer struct {
	conn *scriptedConn
}

func (d *scriptedDialer) Dial(context.Context) (Conn, error) {
	return d.conn, nil
}

func TestManager_RunEndsOnFatalError(t *testing.T) {
	conn := &scriptedConn{fakeConn: newFakeConn(), in: make(chan []byte, 4)}
	cfg := DefaultManagerConfig()
	cfg.Channel = "abc"
	m := NewManager(cfg, &scriptedDialer{conn: conn}, func() Sink { return newFakeSink() },
		Identity{}, NewNoticeBoard(discardLogger()), discardLogger())

	raw, err := wire.EncodeServerMessage(wire.TypeServerError, wire.ServerError{
		ErrorType: wire.ErrorTypeDrop, ErrorMessage: "dropped",
	}, nil)
	require.NoError(t, err)
	conn.in <- raw

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err = m.Run(ctx)
	assert.ErrorIs(t, err, ErrFatalServer)
	assert.True(t, conn.isClosed())
	assert.True(t, m.Stats().Fatal)
}

func TestManager_RunStopsOnCancel(t *testing.T) {
	conn := &scriptedConn{fakeConn: newFakeConn(), in: make(chan []byte)}
	cfg := DefaultManagerConfig()
	cfg.Channel = "abc"
	m := NewManager(cfg, &scriptedDialer{conn: conn}, func() Sink { return newFakeSink() },
		Identity{}, NewNoticeBoard(discardLogger()), discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- m.Run(ctx) }()

	require.Eventually(t, func() bool { return len(conn.sent(wire.TypeClientInit)) == 1 }, 2*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.True(t, conn.isClosed())
}

func TestNoticeBoard(t *testing.T) {
	b := NewNoticeBoard(discardLogger())

	b.Show(Notice{ID: NoticeConnect, Message: "reconnecting in 1s", Dismissible: true})
	b.Show(Notice{ID: NoticeConnect, Message: "reconnecting in 2s", Dismissible: true})
	require.Len(t, b.Active(), 1)
	assert.Equal(t, "reconnecting in 2s", b.Active()[0].Message)

	b.Clear(NoticeConnect)
	assert.Empty(t, b.Active())

	b.Show(Notice{ID: NoticeFatal, Message: "reload", Dismissible: false})
	b.Show(Notice{ID: NoticeFatal, Message: "ignored", Dismissible: true})
	b.Clear(NoticeFatal)
	require.Len(t, b.Active(), 1)
	assert.Equal(t, "reload", b.Active()[0].Message)
}
