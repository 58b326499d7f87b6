package voice

import "encoding/json"

// Gateway opcodes. Only the handful the device consumes are modelled; the
// rest of the protocol is ignored on receipt.
const (
	opDispatch     = 0
	opHeartbeat    = 1
	opIdentify     = 2
	opHello        = 10
	opHeartbeatAck = 11
)

// Dispatch event types the client reacts to.
const (
	eventReady            = "READY"
	eventVoiceStateUpdate = "VOICE_STATE_UPDATE"
)

// frame is the envelope of every gateway message.
type frame struct {
	Op       int             `json:"op"`
	Type     string          `json:"t,omitempty"`
	Sequence *int64          `json:"s,omitempty"`
	Data     json.RawMessage `json:"d,omitempty"`
}

// helloData announces the heartbeat cadence after the connection opens.
type helloData struct {
	HeartbeatInterval int64 `json:"heartbeat_interval"` // milliseconds
}

// identifyData authenticates the connection.
type identifyData struct {
	Token      string             `json:"token"`
	Properties identifyProperties `json:"properties"`
}

type identifyProperties struct {
	Device string `json:"device"`
}

// readyData carries the bot identity granted by the gateway.
type readyData struct {
	SessionID string `json:"session_id"`
	User      struct {
		ID       string `json:"id"`
		Username string `json:"username"`
	} `json:"user"`
}

// voiceStateData reports a participant's voice channel. channel_id is null
// when the participant leaves voice entirely, which unmarshals to "".
type voiceStateData struct {
	UserID    string `json:"user_id"`
	ChannelID string `json:"channel_id"`
}
