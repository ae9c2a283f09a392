package webrtc

import (
	"relaylink/internal/core/ports"

	"github.com/pion/webrtc/v3"
)

type dataChannel struct {
	dc *webrtc.DataChannel
}

var _ ports.DataChannel = (*dataChannel)(nil)

func newDataChannel(dc *webrtc.DataChannel) *dataChannel {
	return &dataChannel{dc: dc}
}

func (d *dataChannel) Label() string { return d.dc.Label() }

func (d *dataChannel) Send(message string) error {
	return d.dc.SendText(message)
}

// OnMessage delivers text and binary messages alike as strings.
func (d *dataChannel) OnMessage(handler func(message string)) {
	d.dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		handler(string(msg.Data))
	})
}

func (d *dataChannel) Close() error {
	return d.dc.Close()
}
