// Package presence tracks the online state of a chat peer through retained
// status topics and announces our own.
package presence

import (
	"github.com/matheus3301/shopchat/internal/topic"
	"github.com/matheus3301/shopchat/internal/transport"
)

// Presence payloads. Anything other than Online reads as offline.
const (
	Online  = "online"
	Offline = "offline"
)

// Publisher is the part of a transport the tracker announces through.
type Publisher interface {
	Publish(topic string, payload []byte, opts transport.PublishOptions) error
}

// Tracker holds the last known presence of one peer. It is owned by a single
// session goroutine and is not safe for concurrent use.
type Tracker struct {
	scheme    topic.Scheme
	qos       byte
	online    bool
	onOffline func()
}

// NewTracker creates a tracker for the conversation described by s.
// onOffline runs synchronously every time the peer is observed offline or
// presence is lost, so dependent state can be cleared in the same step.
func NewTracker(s topic.Scheme, qos byte, onOffline func()) *Tracker {
	if onOffline == nil {
		onOffline = func() {}
	}
	return &Tracker{scheme: s, qos: qos, onOffline: onOffline}
}

// LastWill is the retained offline notice the broker publishes for us if the
// connection ends abruptly.
func (t *Tracker) LastWill() transport.Will {
	return transport.Will{
		Topic:   t.scheme.SelfStatus,
		Payload: []byte(Offline),
		QoS:     t.qos,
		Retain:  true,
	}
}

// Announce publishes our retained online status.
func (t *Tracker) Announce(p Publisher) error {
	return p.Publish(t.scheme.SelfStatus, []byte(Online), transport.PublishOptions{QoS: t.qos, Retain: true})
}

// Withdraw publishes our retained offline status.
func (t *Tracker) Withdraw(p Publisher) error {
	return p.Publish(t.scheme.SelfStatus, []byte(Offline), transport.PublishOptions{QoS: t.qos, Retain: true})
}

// Observe applies a payload received on topicName. It reports whether the
// topic is the peer's status topic and whether the peer's presence changed.
func (t *Tracker) Observe(topicName string, payload []byte) (handled, changed bool) {
	if topicName != t.scheme.PeerStatus {
		return false, false
	}
	online := string(payload) == Online
	changed = online != t.online
	t.online = online
	if !online {
		t.onOffline()
	}
	return true, changed
}

// Lost marks presence unknown after the transport connection dropped.
// It reports whether the peer was previously online.
func (t *Tracker) Lost() bool {
	changed := t.online
	t.online = false
	t.onOffline()
	return changed
}

// PeerOnline returns the last known presence of the peer.
func (t *Tracker) PeerOnline() bool {
	return t.online
}
