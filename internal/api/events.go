package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/parley/internal/notify"
	"github.com/MrWong99/parley/internal/session"
	"github.com/MrWong99/parley/internal/transcript"
)

// Event types pushed on /events.
const (
	EventStatus     = "status"
	EventTranscript = "transcript"
	EventNotice     = "notice"
)

// eventBuffer bounds the per-connection backlog. A client that falls this far
// behind is disconnected and expected to resync over the REST routes.
const eventBuffer = 64

const writeTimeout = 5 * time.Second

// Envelope is one websocket message.
type Envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// events streams status changes, transcript entries and notice events. The
// current status is sent first.
func (s *Server) events(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Debug("api: websocket accept failed", "err", err)
		return
	}
	defer conn.CloseNow()

	ctx := conn.CloseRead(r.Context())
	out := make(chan Envelope, eventBuffer)
	overflow := make(chan struct{})
	var overflowed bool

	push := func(env Envelope) {
		select {
		case out <- env:
		default:
			if !overflowed {
				overflowed = true
				close(overflow)
			}
		}
	}

	// Subscriber callbacks may run concurrently, so push is serialized.
	pushc := make(chan Envelope)
	subCtx, stopSubs := context.WithCancel(ctx)
	defer stopSubs()
	go func() {
		for {
			select {
			case env := <-pushc:
				push(env)
			case <-subCtx.Done():
				return
			}
		}
	}()
	send := func(env Envelope) {
		select {
		case pushc <- env:
		case <-subCtx.Done():
		}
	}

	cancels := []func(){
		s.cfg.Sessions.Subscribe(func(st session.Status) {
			send(Envelope{Type: EventStatus, Data: st})
		}),
		s.cfg.Transcript.Log().Subscribe(func(e transcript.Entry) {
			send(Envelope{Type: EventTranscript, Data: e})
		}),
		s.cfg.Notices.Subscribe(func(ev notify.Event) {
			send(Envelope{Type: EventNotice, Data: ev})
		}),
	}
	defer func() {
		for _, c := range cancels {
			c()
		}
	}()

	send(Envelope{Type: EventStatus, Data: s.cfg.Sessions.Status()})

	for {
		select {
		case <-ctx.Done():
			return
		case <-overflow:
			conn.Close(websocket.StatusPolicyViolation, "event backlog exceeded")
			return
		case env := <-out:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(wctx, conn, env)
			cancel()
			if err != nil {
				slog.Debug("api: websocket write failed", "err", err)
				return
			}
		}
	}
}
