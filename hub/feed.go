package hub

import (
	"context"

	"github.com/minhvt/candlecast/bus"
)

// Feed pumps broadcast-bus messages into the hub until the channel
// closes or ctx is done. It is the only reader of msgs.
func Feed(ctx context.Context, msgs <-chan bus.Message, h *Hub) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			h.Forward(msg.Topic, msg.Payload)
		}
	}
}
