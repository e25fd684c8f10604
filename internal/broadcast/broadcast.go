// Package broadcast fans accepted messages out across every server
// instance over a single shared pub/sub channel. Publishing and
// subscribing are independent: the post handler only calls Publish, and
// every instance runs exactly one Subscribe loop that hands decoded
// envelopes to its local connection registry.
package broadcast

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-board-backend/internal/messages"
	"github.com/tbourn/go-board-backend/internal/reputation"
	"github.com/tbourn/go-board-backend/internal/store"
)

// Channel is the shared pub/sub channel every instance subscribes to.
const Channel = "chat:messages"

// Envelope is the wire shape carried over Channel. It exists precisely so
// a subscriber can apply Throttled-visibility filtering without re-deriving
// the sender's reputation: the filtering decision is made once, at publish
// time, and carried alongside the message.
type Envelope struct {
	Message         messages.Message     `json:"message"`
	OriginInstance  string                `json:"origin_instance"`
	Visibility      reputation.Visibility `json:"visibility"`
	SenderIP        string                `json:"sender_ip"`
}

// Bus publishes and subscribes to the shared channel. At-most-once
// semantics are acceptable: it is not a durable queue, and a missed
// envelope only costs a live viewer one message, not correctness.
type Bus struct {
	store      *store.Store
	instanceID string
}

// New constructs a Bus. instanceID is carried on every published envelope
// so a subscriber can (if ever needed) distinguish its own origin — it is
// not currently used to suppress self-delivery, since every instance must
// still deliver to its own local sockets.
func New(s *store.Store, instanceID string) *Bus {
	return &Bus{store: s, instanceID: instanceID}
}

// Publish serializes and publishes an envelope for msg. Callers are
// responsible for never calling Publish for a shadowbanned identity or a
// Hidden-visibility message — those are not published at all, per the
// pipeline's load-bearing "never tip off the scammer" behavior.
func (b *Bus) Publish(ctx context.Context, msg messages.Message, visibility reputation.Visibility, senderIP string) error {
	env := Envelope{
		Message:        msg,
		OriginInstance: b.instanceID,
		Visibility:     visibility,
		SenderIP:       senderIP,
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return b.store.Publish(ctx, Channel, string(payload))
}

// Subscribe runs until ctx is cancelled, decoding every envelope received
// on Channel and invoking handle with it. Decode failures are logged and
// skipped rather than terminating the loop — one malformed envelope must
// never take down an instance's entire broadcast fan-out.
func (b *Bus) Subscribe(ctx context.Context, handle func(Envelope)) {
	sub := b.store.Subscribe(ctx, Channel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var env Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				log.Warn().Err(err).Msg("broadcast: dropping malformed envelope")
				continue
			}
			handle(env)
		}
	}
}
