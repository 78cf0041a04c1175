// Package event carries in-process notifications between independently
// running views of the same user session.
package event

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/Searchable-no/searchableapp-sub001/internal/logging"
)

// TopicRecordCreated is published once per session when its backing record id is allocated.
const TopicRecordCreated = "record.created"

// RecordCreated is the payload of TopicRecordCreated.
type RecordCreated struct {
	RecordID string `json:"record_id"`
}

// Bridge is a non-persistent publish/subscribe channel: listeners registered
// after an announcement never see it.
type Bridge struct {
	pubsub *gochannel.GoChannel
}

func NewBridge() *Bridge {
	return &Bridge{
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{
				OutputChannelBuffer: 16,
				Persistent:          false,
			},
			watermill.NopLogger{},
		),
	}
}

// Announce broadcasts recordID to every current listener.
func (b *Bridge) Announce(recordID string) {
	payload, err := json.Marshal(RecordCreated{RecordID: recordID})
	if err != nil {
		logging.Error().Err(err).Msg("Failed to encode record announcement")
		return
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	if err := b.pubsub.Publish(TopicRecordCreated, msg); err != nil {
		logging.Warn().Err(err).Str("record_id", recordID).Msg("Failed to publish record announcement")
	}
}

// Listen calls fn for every announcement until ctx is done. The listener is
// registered before Listen returns.
func (b *Bridge) Listen(ctx context.Context, fn func(recordID string)) error {
	messages, err := b.pubsub.Subscribe(ctx, TopicRecordCreated)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", TopicRecordCreated, err)
	}

	go func() {
		for msg := range messages {
			var ev RecordCreated
			if err := json.Unmarshal(msg.Payload, &ev); err != nil {
				logging.Warn().Err(err).Msg("Dropping malformed record announcement")
			} else {
				fn(ev.RecordID)
			}
			msg.Ack()
		}
	}()
	return nil
}

func (b *Bridge) Close() error {
	return b.pubsub.Close()
}
