package eventbus

import (
	"context"
	"sync"
	"testing"
	"time"
)

func waitEnvelope[T any](t *testing.T, sub *TypedSubscription[T]) TypedEnvelope[T] {
	t.Helper()

	select {
	case env, ok := <-sub.C():
		if !ok {
			t.Fatal("subscription closed before delivery")
		}
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return TypedEnvelope[T]{}
}

func TestPublishSubscribeTyped(t *testing.T) {
	t.Parallel()

	bus := New()
	defer bus.Shutdown()

	sub := SubscribeTo(bus, Voice.Presence)
	defer sub.Close()

	Publish(context.Background(), bus, Voice.Presence, SourceVoiceGateway, PresenceEvent{
		UserID:    "u1",
		ChannelID: "c1",
	})

	env := waitEnvelope(t, sub)
	if env.Topic != TopicVoicePresence {
		t.Errorf("Topic = %q, want %q", env.Topic, TopicVoicePresence)
	}
	if env.Source != SourceVoiceGateway {
		t.Errorf("Source = %q, want %q", env.Source, SourceVoiceGateway)
	}
	if env.Payload.UserID != "u1" || env.Payload.ChannelID != "c1" {
		t.Errorf("Payload = %+v", env.Payload)
	}
	if env.Timestamp.IsZero() {
		t.Error("Timestamp was not defaulted")
	}
}

func TestPublishWithOptsSetsCorrelationID(t *testing.T) {
	t.Parallel()

	bus := New()
	defer bus.Shutdown()

	sub := SubscribeTo(bus, Settings.Applied)
	defer sub.Close()

	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	PublishWithOpts(context.Background(), bus, Settings.Applied, SourceProvisioning,
		SettingsAppliedEvent{Keys: []string{"ssid"}, RebootRequired: true},
		WithCorrelationID("corr-1"),
		WithTimestamp(ts))

	env := waitEnvelope(t, sub)
	if env.CorrelationID != "corr-1" {
		t.Errorf("CorrelationID = %q, want corr-1", env.CorrelationID)
	}
	if !env.Timestamp.Equal(ts) {
		t.Errorf("Timestamp = %v, want %v", env.Timestamp, ts)
	}
	if !env.Payload.RebootRequired {
		t.Error("RebootRequired = false, want true")
	}
}

func TestNilBusIsInert(t *testing.T) {
	t.Parallel()

	var bus *Bus

	// Publishing on a nil bus must not panic.
	Publish(context.Background(), bus, Network.Link, SourceWireless, LinkEvent{Kind: LinkStaStarted})

	sub := SubscribeTo(bus, Network.Link)
	if _, ok := <-sub.C(); ok {
		t.Error("nil-bus subscription delivered an event")
	}
	sub.Close()
	bus.Shutdown()
}

func TestTypedSubscriptionSkipsMismatchedPayloads(t *testing.T) {
	t.Parallel()

	bus := New()
	defer bus.Shutdown()

	sub := Subscribe[PresenceEvent](bus, TopicVoicePresence)
	defer sub.Close()

	// A raw publish with the wrong payload type is dropped by the bridge.
	bus.publish(context.Background(), Envelope{Topic: TopicVoicePresence, Payload: "not a presence event"})
	Publish(context.Background(), bus, Voice.Presence, SourceVoiceGateway, PresenceEvent{UserID: "u2"})

	env := waitEnvelope(t, sub)
	if env.Payload.UserID != "u2" {
		t.Errorf("Payload = %+v, want the typed event", env.Payload)
	}
}

func TestDropOldestKeepsLatest(t *testing.T) {
	t.Parallel()

	bus := New()
	defer bus.Shutdown()

	// Raw subscription with a single-slot buffer; the typed bridge would
	// consume concurrently and mask the overflow.
	sub := bus.Subscribe(TopicVoicePresence, WithSubscriptionBuffer(1))
	defer sub.Close()

	ctx := context.Background()
	Publish(ctx, bus, Voice.Presence, SourceVoiceGateway, PresenceEvent{UserID: "old"})
	Publish(ctx, bus, Voice.Presence, SourceVoiceGateway, PresenceEvent{UserID: "new"})

	env := <-sub.C()
	payload, ok := env.Payload.(PresenceEvent)
	if !ok {
		t.Fatalf("Payload type = %T", env.Payload)
	}
	if payload.UserID != "new" {
		t.Errorf("surviving event = %q, want the newest", payload.UserID)
	}
}

func TestDropNewestKeepsEarliest(t *testing.T) {
	t.Parallel()

	bus := New(WithTopicPolicy(TopicVoiceReady, DeliveryPolicy{Strategy: StrategyDropNewest}))
	defer bus.Shutdown()

	sub := bus.Subscribe(TopicVoiceReady, WithSubscriptionBuffer(1))
	defer sub.Close()

	ctx := context.Background()
	Publish(ctx, bus, Voice.Ready, SourceVoiceGateway, GatewayReadyEvent{BotName: "first"})
	Publish(ctx, bus, Voice.Ready, SourceVoiceGateway, GatewayReadyEvent{BotName: "second"})

	env := <-sub.C()
	payload := env.Payload.(GatewayReadyEvent)
	if payload.BotName != "first" {
		t.Errorf("surviving event = %q, want the earliest", payload.BotName)
	}
}

type countingObserver struct {
	mu     sync.Mutex
	counts map[Topic]int
}

func (o *countingObserver) OnPublish(env Envelope) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.counts == nil {
		o.counts = make(map[Topic]int)
	}
	o.counts[env.Topic]++
}

func TestObserverSeesEveryPublish(t *testing.T) {
	t.Parallel()

	obs := &countingObserver{}
	bus := New(WithObserver(obs))
	defer bus.Shutdown()

	ctx := context.Background()
	Publish(ctx, bus, Network.Link, SourceWireless, LinkEvent{Kind: LinkStaStarted})
	Publish(ctx, bus, Network.Link, SourceWireless, LinkEvent{Kind: LinkStaGotIP, IP: "10.0.0.9"})
	Publish(ctx, bus, Roster.Occupancy, SourceRoster, OccupancyEvent{Count: 1})

	obs.mu.Lock()
	defer obs.mu.Unlock()
	if obs.counts[TopicNetworkLink] != 2 {
		t.Errorf("link publishes = %d, want 2", obs.counts[TopicNetworkLink])
	}
	if obs.counts[TopicRosterOccupancy] != 1 {
		t.Errorf("occupancy publishes = %d, want 1", obs.counts[TopicRosterOccupancy])
	}
}

func TestSubscriptionContextCancelCloses(t *testing.T) {
	t.Parallel()

	bus := New()
	defer bus.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	sub := SubscribeTo(bus, Network.State, WithContext(ctx))

	cancel()

	select {
	case _, ok := <-sub.C():
		if ok {
			t.Error("expected closed channel after context cancel")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("subscription did not close after context cancel")
	}
}

func TestShutdownClosesSubscribers(t *testing.T) {
	t.Parallel()

	bus := New()
	sub := SubscribeTo(bus, Network.Connected)

	bus.Shutdown()

	select {
	case _, ok := <-sub.C():
		if ok {
			t.Error("expected closed channel after bus shutdown")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("subscription did not close after bus shutdown")
	}
}

func TestConsumeForwardsPayloads(t *testing.T) {
	t.Parallel()

	bus := New()
	defer bus.Shutdown()

	sub := SubscribeTo(bus, Roster.Occupancy)

	got := make(chan OccupancyEvent, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go Consume(ctx, sub, &wg, func(ev OccupancyEvent) {
		got <- ev
	})

	Publish(ctx, bus, Roster.Occupancy, SourceRoster, OccupancyEvent{Count: 2, Previous: 0})

	select {
	case ev := <-got:
		if ev.Count != 2 || !ev.Occupied() {
			t.Errorf("consumed event = %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for consumed event")
	}

	sub.Close()
	wg.Wait()
}
