// Package stream carries live generation output from the producer to any
// number of attached clients, keyed by the opaque stream id recorded on the
// thread. Attaching to the current stream id after a reload is what resume
// means at the transport level.
package stream

import (
	"context"
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/pkg/errors"

	"threadloom/pkg/logger"
	"threadloom/pkg/metrics"
)

type ChunkType string

const (
	ChunkDelta ChunkType = "delta"
	ChunkDone  ChunkType = "done"
	ChunkError ChunkType = "error"
)

// Chunk is one unit of streamed output. Delta carries incremental text;
// done/error terminate the stream for all attached subscribers.
type Chunk struct {
	StreamID string    `json:"stream_id"`
	Type     ChunkType `json:"type"`
	Delta    string    `json:"delta,omitempty"`
	Error    string    `json:"error,omitempty"`
}

func (c Chunk) terminal() bool {
	return c.Type == ChunkDone || c.Type == ChunkError
}

// Registry is an in-process pub/sub fan-out over watermill's gochannel.
// One topic per stream id; subscribers attach and detach independently.
type Registry struct {
	pubsub *gochannel.GoChannel
}

func NewRegistry() *Registry {
	ps := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: 64,
	}, watermill.NopLogger{})
	return &Registry{pubsub: ps}
}

func topic(streamID string) string { return "stream." + streamID }

// Publish sends a chunk to every subscriber currently attached to the
// chunk's stream.
func (r *Registry) Publish(c Chunk) error {
	b, err := json.Marshal(c)
	if err != nil {
		return errors.Wrap(err, "marshal chunk")
	}
	msg := message.NewMessage(watermill.NewUUID(), b)
	if err := r.pubsub.Publish(topic(c.StreamID), msg); err != nil {
		return errors.Wrapf(err, "publish to stream %s", c.StreamID)
	}
	metrics.StreamChunks.Inc()
	return nil
}

// Attach subscribes to a stream and returns a channel of decoded chunks.
// The channel closes when the stream terminates (done or error chunk) or
// the context is cancelled.
func (r *Registry) Attach(ctx context.Context, streamID string) (<-chan Chunk, error) {
	msgs, err := r.pubsub.Subscribe(ctx, topic(streamID))
	if err != nil {
		return nil, errors.Wrapf(err, "subscribe to stream %s", streamID)
	}
	out := make(chan Chunk, 16)
	go func() {
		defer close(out)
		for m := range msgs {
			var c Chunk
			if err := json.Unmarshal(m.Payload, &c); err != nil {
				logger.Warn("drop_malformed_chunk", "stream", streamID, "error", err)
				m.Ack()
				continue
			}
			m.Ack()
			select {
			case out <- c:
			case <-ctx.Done():
				return
			}
			if c.terminal() {
				return
			}
		}
	}()
	return out, nil
}

// Close shuts the underlying pub/sub down, closing all attached channels.
func (r *Registry) Close() error {
	return r.pubsub.Close()
}
