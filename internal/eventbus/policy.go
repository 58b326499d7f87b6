package eventbus

// DeliveryStrategy determines behaviour when a subscriber's channel is full.
type DeliveryStrategy string

const (
	// StrategyDropOldest removes the oldest event from the channel and enqueues the new one.
	StrategyDropOldest DeliveryStrategy = "drop-oldest"
	// StrategyDropNewest discards the incoming event when the channel is full.
	StrategyDropNewest DeliveryStrategy = "drop-newest"
)

// DeliveryPolicy controls how a topic handles backpressure.
type DeliveryPolicy struct {
	Strategy DeliveryStrategy
}

// defaultPolicy is used for topics without an explicit entry in defaultPolicies.
var defaultPolicy = DeliveryPolicy{Strategy: StrategyDropOldest}

// defaultPolicies maps known topics to their delivery policies. Presence and
// link events must keep the most recent signal (the latest state wins), so
// everything defaults to drop-oldest; AP client notifications are purely
// informational and may drop the newest instead.
var defaultPolicies = map[Topic]DeliveryPolicy{
	TopicNetworkLink:      {Strategy: StrategyDropOldest},
	TopicNetworkState:     {Strategy: StrategyDropOldest},
	TopicNetworkConnected: {Strategy: StrategyDropOldest},
	TopicVoicePresence:    {Strategy: StrategyDropOldest},
	TopicRosterOccupancy:  {Strategy: StrategyDropOldest},
	TopicVoiceReady:       {Strategy: StrategyDropNewest},
	TopicSettingsApplied:  {Strategy: StrategyDropOldest},
}

// policyFor returns the delivery policy for a topic, falling back to defaultPolicy.
func policyFor(topic Topic, overrides map[Topic]DeliveryPolicy) DeliveryPolicy {
	if overrides != nil {
		if p, ok := overrides[topic]; ok {
			return p
		}
	}
	if p, ok := defaultPolicies[topic]; ok {
		return p
	}
	return defaultPolicy
}
