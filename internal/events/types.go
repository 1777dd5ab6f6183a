// Package events defines event types and enumerations for the aresnet event system.
package events

// EventType represents the type of event emitted through the EventBus.
type EventType string

const (
	// Session lifecycle events
	EventSessionState   EventType = "session_state"
	EventGameStarted    EventType = "game_started"
	EventGameTerminated EventType = "game_terminated"
	EventSessionStopped EventType = "session_stopped"

	// Membership events
	EventPlayerJoined EventType = "player_joined"
	EventPlayerLeft   EventType = "player_left"

	// Handshake events
	EventScenarioMismatch EventType = "scenario_mismatch"
	EventInviteDeclined   EventType = "invite_declined"
	EventLobbyText        EventType = "lobby_text"

	// Lock-step events
	EventDesync         EventType = "desync"
	EventDesyncResolved EventType = "desync_resolved"
	EventChatMessage    EventType = "chat_message"
	EventStall          EventType = "stall"
	EventQueueOverflow  EventType = "queue_overflow"
	EventCorruptData    EventType = "corrupt_data"

	// Notification events
	EventNotifyMQTT EventType = "notify_mqtt"

	// System events
	EventConfigChanged EventType = "config_changed"
	EventShutdown      EventType = "shutdown"
)

// StreamedEvents are the event types forwarded to live observers.
var StreamedEvents = []EventType{
	EventSessionState,
	EventGameStarted,
	EventGameTerminated,
	EventSessionStopped,
	EventPlayerJoined,
	EventPlayerLeft,
	EventScenarioMismatch,
	EventInviteDeclined,
	EventLobbyText,
	EventDesync,
	EventDesyncResolved,
	EventChatMessage,
	EventStall,
	EventQueueOverflow,
	EventCorruptData,
}

// SessionState is the lifecycle state of a network session.
type SessionState int

const (
	SessionIdle SessionState = iota
	SessionHosting
	SessionJoining
	SessionStarting
	SessionRunning
	SessionTerminated
)

var sessionStateStrings = map[SessionState]string{
	SessionIdle:       "idle",
	SessionHosting:    "hosting",
	SessionJoining:    "joining",
	SessionStarting:   "starting",
	SessionRunning:    "running",
	SessionTerminated: "terminated",
}

// String returns the string representation of SessionState.
func (s SessionState) String() string {
	if str, ok := sessionStateStrings[s]; ok {
		return str
	}
	return "unknown"
}

// MarshalJSON serializes SessionState as a JSON string (e.g. "running").
func (s SessionState) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// Active reports whether the state holds an open transport.
func (s SessionState) Active() bool {
	return s != SessionIdle
}

// Event represents a single event in the system.
type Event struct {
	Type    EventType
	Source  string
	Payload interface{}
}

// SessionStatePayload reports a state machine transition.
type SessionStatePayload struct {
	SessionID string       `json:"session_id"`
	From      SessionState `json:"from"`
	To        SessionState `json:"to"`
}

// PlayerPayload reports a membership change.
type PlayerPayload struct {
	SessionID string `json:"session_id"`
	PlayerID  uint8  `json:"player_id"`
	Name      string `json:"name"`
	Admiral   int    `json:"admiral"`
	Players   int    `json:"players"`
}

// GameStartedPayload is emitted when lock-step play begins.
type GameStartedPayload struct {
	SessionID string `json:"session_id"`
	StartTime uint32 `json:"start_time"`
	Latency   int    `json:"latency"`
	Seed      uint32 `json:"seed"`
	Admirals  int    `json:"admirals"`
}

// SessionStoppedPayload is emitted after a session is torn down.
type SessionStoppedPayload struct {
	SessionID string  `json:"session_id"`
	Reason    string  `json:"reason"`
	Minutes   float64 `json:"minutes"`
	Desynced  bool    `json:"desynced"`
}

// DesyncPayload reports a seed-sample mismatch.
type DesyncPayload struct {
	SessionID string `json:"session_id"`
	Tick      uint32 `json:"tick"`
	Admiral   uint8  `json:"admiral"`
	Expected  uint8  `json:"expected"`
	Got       uint8  `json:"got"`
	GraceLeft int    `json:"grace_left"`
}

// ChatPayload carries one completed in-game chat line.
type ChatPayload struct {
	Admiral uint8  `json:"admiral"`
	Player  string `json:"player"`
	Text    string `json:"text"`
}

// StallPayload reports the barrier waiting on missing admirals.
type StallPayload struct {
	Tick    uint32  `json:"tick"`
	Frames  int     `json:"frames"`
	Missing []uint8 `json:"missing"`
}

// ProtocolErrorPayload reports a non-fatal protocol fault.
type ProtocolErrorPayload struct {
	Tick    uint32 `json:"tick"`
	Admiral uint8  `json:"admiral"`
	Error   string `json:"error"`
}

// ScenarioMismatchPayload describes diverging scenario identities.
type ScenarioMismatchPayload struct {
	LocalFile   string `json:"local_file"`
	LocalSum    uint32 `json:"local_checksum"`
	RemoteFile  string `json:"remote_file"`
	RemoteSum   uint32 `json:"remote_checksum"`
	RemoteURL   string `json:"remote_url"`
	RemoteVers  uint32 `json:"remote_version"`
	LocalVers   uint32 `json:"local_version"`
	FromPlayer  uint8  `json:"from_player"`
	DeclineCode byte   `json:"decline_code"`
}

// LobbyTextPayload carries one completed pre-game text message.
type LobbyTextPayload struct {
	From uint8  `json:"from"`
	Name string `json:"name"`
	Text string `json:"text"`
}

// NotifyPayload is a free-form notification for telemetry.
type NotifyPayload struct {
	Title   string `json:"title"`
	Message string `json:"message"`
	Level   string `json:"level"` // "info", "warning", "error"
}

// ConfigChangedPayload is emitted when configuration changes occur.
type ConfigChangedPayload struct {
	Section string      `json:"section"`
	Key     string      `json:"key"`
	Value   interface{} `json:"value"`
}
