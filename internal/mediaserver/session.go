package mediaserver

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"github.com/jmylchreest/tvstream/internal/wire"
)

// session is the per-connection delivery state. Apart from channelName it
// is owned by the connection's Serve goroutine.
type session struct {
	id     string
	conn   *websocket.Conn
	cancel context.CancelFunc
	logger *slog.Logger

	channelName atomic.Pointer[string]

	initID       int
	channel      *Channel
	screenWidth  int
	screenHeight int

	// next timestamps to send
	nextVTS uint64
	nextATS uint64
	// end of the latest acknowledged chunks
	ackedVTS uint64
	ackedATS uint64

	videoBuf float64
	audioBuf float64

	currVQ *VideoFormat
	currAQ *AudioFormat
}

// reset applies a client-init. A nil channel leaves the session idle.
func (s *session) reset(ch *Channel, m wire.ClientInit) {
	s.initID = m.InitID
	s.channel = ch
	s.screenWidth = m.ScreenWidth
	s.screenHeight = m.ScreenHeight
	s.videoBuf, s.audioBuf = 0, 0
	s.currVQ, s.currAQ = nil, nil
	if ch == nil {
		s.channelName.Store(nil)
		return
	}
	name := ch.Name()
	s.channelName.Store(&name)
}

// start positions delivery at the given timestamps. Nothing before them is
// in flight.
func (s *session) start(vts, ats uint64) {
	s.nextVTS, s.ackedVTS = vts, vts
	s.nextATS, s.ackedATS = ats, ats
}

func (s *session) view() ClientView {
	return ClientView{
		ScreenWidth:  s.screenWidth,
		ScreenHeight: s.screenHeight,
		VideoBuffer:  s.videoBuf,
		AudioBuffer:  s.audioBuf,
	}
}
