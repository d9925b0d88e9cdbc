package giftlog

import (
	"log"

	"github.com/you/liveoverlay/internal/core"
)

type broadcaster interface {
	Broadcast(core.Event)
}

// TeeBroadcaster archives gift events to the ledger on their way to the
// fan-out hub. A ledger write failure is logged and never blocks delivery.
type TeeBroadcaster struct {
	next   broadcaster
	writer Writer
}

func Tee(next broadcaster, writer Writer) *TeeBroadcaster {
	return &TeeBroadcaster{next: next, writer: writer}
}

func (t *TeeBroadcaster) Broadcast(ev core.Event) {
	if t.writer != nil && ev.Type == core.EventGift {
		if err := t.writer.Write(ev); err != nil {
			log.Printf("giftlog: archive gift: %v", err)
		}
	}
	if t.next != nil {
		t.next.Broadcast(ev)
	}
}
