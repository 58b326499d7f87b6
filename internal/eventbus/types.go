package eventbus

import "time"

// Topic identifies a logical channel on the bus.
type Topic string

const (
	TopicNetworkLink      Topic = "network.link"
	TopicNetworkState     Topic = "network.state"
	TopicNetworkConnected Topic = "network.connected"
	TopicVoiceReady       Topic = "voice.ready"
	TopicVoicePresence    Topic = "voice.presence"
	TopicRosterOccupancy  Topic = "roster.occupancy"
	TopicSettingsApplied  Topic = "settings.applied"
)

// Source describes which component produced an event.
type Source string

const (
	SourceWireless     Source = "wireless"
	SourceNetState     Source = "netstate"
	SourceVoiceGateway Source = "voice_gateway"
	SourceRoster       Source = "roster"
	SourceProvisioning Source = "provisioning"
	SourceDaemon       Source = "daemon"
	SourceUnknown      Source = "unknown"
)

// Envelope wraps every message published on the bus.
type Envelope struct {
	Topic         Topic
	Timestamp     time.Time
	Source        Source
	CorrelationID string
	Payload       any
}

// LinkEventKind enumerates link-layer signals from the wireless backend.
type LinkEventKind string

const (
	LinkStaStarted      LinkEventKind = "sta_started"
	LinkStaDisconnected LinkEventKind = "sta_disconnected"
	LinkStaGotIP        LinkEventKind = "sta_got_ip"
	LinkApClientJoined  LinkEventKind = "ap_client_joined"
	LinkApClientLeft    LinkEventKind = "ap_client_left"
)

// LinkEvent carries a single link-layer signal into the state machine.
type LinkEvent struct {
	Kind LinkEventKind
	IP   string // set for LinkStaGotIP
}

// StateChangeEvent notifies consumers about connection state transitions.
type StateChangeEvent struct {
	Previous string
	Current  string
	Retries  int
}

// ConnectedEvent is published once station mode has an IP address. It
// bootstraps the gateway client, discovery advertisement, and the default
// indicator state.
type ConnectedEvent struct {
	IP       string
	Hostname string
}

// GatewayReadyEvent carries the bot identity reported by the voice gateway.
type GatewayReadyEvent struct {
	BotID     string
	BotName   string
	SessionID string
}

// PresenceEvent reports a participant's current voice channel. An empty
// ChannelID means the participant left voice entirely.
type PresenceEvent struct {
	UserID    string
	ChannelID string
}

// OccupancyEvent is published on every zero/nonzero occupancy transition.
type OccupancyEvent struct {
	Count    int
	Previous int
}

// Occupied reports whether anyone is currently in a voice channel.
func (e OccupancyEvent) Occupied() bool {
	return e.Count > 0
}

// SettingsAppliedEvent is published after a provisioning write completes.
type SettingsAppliedEvent struct {
	Keys           []string
	RebootRequired bool
}

// Topic descriptor groups. Each TopicDef binds a Topic constant to its
// payload type, enabling compile-time checked Publish/SubscribeTo calls.
var Network = struct {
	Link      TopicDef[LinkEvent]
	State     TopicDef[StateChangeEvent]
	Connected TopicDef[ConnectedEvent]
}{
	Link:      NewTopicDef[LinkEvent](TopicNetworkLink),
	State:     NewTopicDef[StateChangeEvent](TopicNetworkState),
	Connected: NewTopicDef[ConnectedEvent](TopicNetworkConnected),
}

var Voice = struct {
	Ready    TopicDef[GatewayReadyEvent]
	Presence TopicDef[PresenceEvent]
}{
	Ready:    NewTopicDef[GatewayReadyEvent](TopicVoiceReady),
	Presence: NewTopicDef[PresenceEvent](TopicVoicePresence),
}

var Roster = struct {
	Occupancy TopicDef[OccupancyEvent]
}{
	Occupancy: NewTopicDef[OccupancyEvent](TopicRosterOccupancy),
}

var Settings = struct {
	Applied TopicDef[SettingsAppliedEvent]
}{
	Applied: NewTopicDef[SettingsAppliedEvent](TopicSettingsApplied),
}
