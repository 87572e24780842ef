package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kmsg"
)

// admin is the broker request surface topic provisioning needs. *kgo.Client
// satisfies it.
type admin interface {
	Request(ctx context.Context, req kmsg.Request) (kmsg.Response, error)
}

// EnsureTopics creates the request and dead-letter topics with the
// configured partition count. The partition count bounds worker parallelism
// and fixes which coupons serialize together, so the topics must exist with
// the intended layout before the first append. Topics that already exist
// are left untouched.
func (p *Producer) EnsureTopics(ctx context.Context, partitions int32) error {
	return ensureTopics(ctx, p.client, partitions, p.topic, p.dlqTopic)
}

func ensureTopics(ctx context.Context, client admin, partitions int32, topics ...string) error {
	req := kmsg.NewPtrCreateTopicsRequest()
	for _, topic := range topics {
		t := kmsg.NewCreateTopicsRequestTopic()
		t.Topic = topic
		t.NumPartitions = partitions
		t.ReplicationFactor = -1 // broker default
		req.Topics = append(req.Topics, t)
	}

	resp, err := client.Request(ctx, req)
	if err != nil {
		return fmt.Errorf("create topics: %w", err)
	}

	for _, t := range resp.(*kmsg.CreateTopicsResponse).Topics {
		err := kerr.ErrorForCode(t.ErrorCode)
		switch {
		case err == nil:
			log.Info().Str("topic", t.Topic).Int32("partitions", partitions).Msg("topic created")
		case errors.Is(err, kerr.TopicAlreadyExists):
			log.Debug().Str("topic", t.Topic).Msg("topic already exists")
		default:
			return fmt.Errorf("create topic %s: %w", t.Topic, err)
		}
	}
	return nil
}
