package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"
	"google.golang.org/api/option"

	"scanpipe/internal/config"
)

const eventSource = "scanpipe/pipeline"

// topic is the slice of *pubsub.Topic the publisher needs.
type topic interface {
	Publish(ctx context.Context, msg *pubsub.Message) (string, error)
}

type pubsubTopic struct {
	topic *pubsub.Topic
}

func (t pubsubTopic) Publish(ctx context.Context, msg *pubsub.Message) (string, error) {
	return t.topic.Publish(ctx, msg).Get(ctx)
}

// PubSubPublisher wraps outcome events in CloudEvents and publishes them to
// a Pub/Sub topic.
type PubSubPublisher struct {
	client *pubsub.Client
	topic  topic
	now    func() time.Time
}

// OpenPubSub connects to the configured topic. It returns (nil, nil) when
// Pub/Sub is not configured.
func OpenPubSub(ctx context.Context, cfg *config.Config) (*PubSubPublisher, error) {
	topicID := strings.TrimSpace(cfg.Notifications.PubSubTopic)
	if topicID == "" {
		return nil, nil
	}
	projectID := strings.TrimSpace(cfg.Notifications.PubSubProjectID)
	if projectID == "" {
		projectID = cfg.Store.ProjectID
	}
	if projectID == "" {
		return nil, errors.New("notifications.pubsub_topic requires notifications.pubsub_project_id or store.project_id")
	}
	var opts []option.ClientOption
	if cfg.Store.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.Store.CredentialsFile))
	}
	client, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("pubsub init: %w", err)
	}
	t := client.Topic(topicID)
	return &PubSubPublisher{client: client, topic: pubsubTopic{topic: t}, now: time.Now}, nil
}

// Close stops the topic's publish goroutines and closes the client.
func (p *PubSubPublisher) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	if t, ok := p.topic.(pubsubTopic); ok {
		t.topic.Stop()
	}
	return p.client.Close()
}

func (p *PubSubPublisher) Publish(ctx context.Context, event Event, payload Payload) error {
	if p == nil || p.topic == nil {
		return nil
	}
	ce, err := newCloudEvent(event, payload, p.now())
	if err != nil {
		return err
	}
	data, err := json.Marshal(ce)
	if err != nil {
		return fmt.Errorf("encode cloudevent: %w", err)
	}
	msg := &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"ce-type":    ce.Type(),
			"ce-subject": ce.Subject(),
		},
	}
	if _, err := p.topic.Publish(ctx, msg); err != nil {
		return fmt.Errorf("publish %s: %w", event, err)
	}
	return nil
}

func newCloudEvent(event Event, payload Payload, now time.Time) (cloudevents.Event, error) {
	ce := cloudevents.NewEvent()
	ce.SetSpecVersion("1.0")
	ce.SetID(uuid.NewString())
	ce.SetSource(eventSource)
	ce.SetType("com.scanpipe." + string(event))
	ce.SetTime(now.UTC())
	if subject := strings.Trim(payload.text("userId")+":"+payload.text("date"), ":"); subject != "" {
		ce.SetSubject(subject)
	}
	data := make(map[string]any, len(payload))
	for key, value := range payload {
		if err, ok := value.(error); ok {
			value = err.Error()
		}
		data[key] = value
	}
	if err := ce.SetData(cloudevents.ApplicationJSON, data); err != nil {
		return ce, fmt.Errorf("encode event data: %w", err)
	}
	return ce, nil
}
