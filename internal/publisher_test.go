package internal

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// stubPublisher is a mock publisher for testing.
type stubPublisher struct {
	published    int
	lastTopic    string
	lastPayload  []byte
	lastMetadata message.Metadata
}

// Publish increments the published count and records the topic.
func (s *stubPublisher) Publish(topic string, msgs ...*message.Message) error {
	s.published += len(msgs)
	s.lastTopic = topic
	if len(msgs) > 0 {
		s.lastPayload = append([]byte(nil), msgs[0].Payload...)
		s.lastMetadata = msgs[0].Metadata
	}
	return nil
}

// Close is a no-op.
func (s *stubPublisher) Close() error {
	return nil
}

// TestRegisterPublisherDriver tests that a custom publisher driver can be registered and used.
func TestRegisterPublisherDriver(t *testing.T) {
	const driverName = "custom"

	orig, had := publisherFactories[driverName]
	defer func() {
		if had {
			publisherFactories[driverName] = orig
		} else {
			delete(publisherFactories, driverName)
		}
	}()

	stub := &stubPublisher{}
	closed := false
	RegisterPublisherDriver(driverName, func(cfg QueueConfig, logger watermill.LoggerAdapter) (message.Publisher, func() error, error) {
		return stub, func() error { closed = true; return nil }, nil
	})

	pub, err := NewPublisher(QueueConfig{Driver: driverName})
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}

	payload := map[string]string{"repository": "acme/repo"}
	if err := pub.Publish(context.Background(), "analysis.scan", payload, map[string]string{"ruleId": "r1"}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	if stub.published != 1 {
		t.Fatalf("expected 1 published message, got %d", stub.published)
	}
	if stub.lastTopic != "analysis.scan" {
		t.Fatalf("expected topic analysis.scan, got %q", stub.lastTopic)
	}
	if stub.lastMetadata.Get("ruleId") != "r1" {
		t.Fatalf("expected ruleId metadata, got %v", stub.lastMetadata)
	}

	var decoded map[string]string
	if err := json.Unmarshal(stub.lastPayload, &decoded); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if decoded["repository"] != "acme/repo" {
		t.Fatalf("expected payload to round-trip, got %v", decoded)
	}

	if err := pub.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !closed {
		t.Fatalf("expected close func to run")
	}
}

// TestNewPublisherDefaultsToGoChannel tests the default driver selection.
func TestNewPublisherDefaultsToGoChannel(t *testing.T) {
	pub, err := NewPublisher(QueueConfig{})
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}
	defer pub.Close()

	if err := pub.Publish(context.Background(), "analysis.scan", map[string]string{"k": "v"}, nil); err != nil {
		t.Fatalf("publish on gochannel: %v", err)
	}
}

// TestPublisherMuxFansOut tests that a multi-driver publisher reaches every driver.
func TestPublisherMuxFansOut(t *testing.T) {
	a := &stubPublisher{}
	b := &stubPublisher{}
	mux := &publisherMux{publishers: map[string]Publisher{
		"a": &watermillPublisher{publisher: a},
		"b": &watermillPublisher{publisher: b},
	}}

	if err := mux.Publish(context.Background(), "notifications.user", map[string]string{"userId": "u1"}, nil); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if a.published != 1 || b.published != 1 {
		t.Fatalf("expected both drivers to receive the message, got %d and %d", a.published, b.published)
	}
}

func TestHTTPTargetURL(t *testing.T) {
	got, err := httpTargetURL(HTTPConfig{Mode: "base_url", BaseURL: "http://sink/"}, "analysis.scan")
	if err != nil {
		t.Fatalf("target url: %v", err)
	}
	if got != "http://sink/analysis.scan" {
		t.Fatalf("unexpected target url %q", got)
	}

	if _, err := httpTargetURL(HTTPConfig{Mode: "bogus"}, "t"); err == nil {
		t.Fatalf("expected error for unsupported mode")
	}
}
