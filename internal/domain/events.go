package domain

import "time"

// ConnectionTransition is the lifecycle phase change carried by a ConnectionEvent.
type ConnectionTransition int

const (
	TransitionQueued ConnectionTransition = iota
	TransitionJoined
	TransitionDisconnected
)

// String returns the transition name used in logs and published payloads.
func (t ConnectionTransition) String() string {
	switch t {
	case TransitionQueued:
		return "queued"
	case TransitionJoined:
		return "joined"
	case TransitionDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// EnvironmentKind tags server-wide events that carry no structured payload.
type EnvironmentKind int

const (
	EnvAirdrop EnvironmentKind = iota
	EnvHelicrash
	EnvTrader
	EnvMissionReady
)

// String returns the environment kind name used in logs and published payloads.
func (k EnvironmentKind) String() string {
	switch k {
	case EnvAirdrop:
		return "airdrop"
	case EnvHelicrash:
		return "helicrash"
	case EnvTrader:
		return "trader"
	case EnvMissionReady:
		return "mission_ready"
	default:
		return "unknown"
	}
}

// Record is the sum type produced by the extractor: exactly one of
// ConnectionEvent, KillEvent or EnvironmentEvent. Consumers dispatch with a
// type switch.
type Record interface {
	EventTime() time.Time
	isRecord()
}

// ConnectionEvent is a single player lifecycle transition parsed from the
// unified log.
type ConnectionEvent struct {
	PlayerID   string               `json:"player_id"`
	Name       string               `json:"name"`
	Platform   string               `json:"platform,omitempty"`
	Transition ConnectionTransition `json:"transition"`
	Timestamp  time.Time            `json:"timestamp"`
}

func (e ConnectionEvent) EventTime() time.Time { return e.Timestamp }
func (e ConnectionEvent) isRecord()            {}

// KillEvent is one row of the death-log CSV. Suicide rows carry the actor in
// both Killer and Victim fields with the weapon label already normalized.
type KillEvent struct {
	Killer         string    `json:"killer"`
	KillerID       string    `json:"killer_id"`
	Victim         string    `json:"victim"`
	VictimID       string    `json:"victim_id"`
	Weapon         string    `json:"weapon"`
	Distance       float64   `json:"distance"`
	KillerPlatform string    `json:"killer_platform,omitempty"`
	VictimPlatform string    `json:"victim_platform,omitempty"`
	Suicide        bool      `json:"suicide"`
	Timestamp      time.Time `json:"timestamp"`

	// SourceFile is set by the batch processor during the caching phase so a
	// failed run can be traced back to the file that produced the row.
	SourceFile string `json:"-"`
}

func (e KillEvent) EventTime() time.Time { return e.Timestamp }
func (e KillEvent) isRecord()            {}

// EnvironmentEvent is an airdrop/helicrash/trader/mission notification with no
// per-player payload.
type EnvironmentEvent struct {
	Kind      EnvironmentKind `json:"kind"`
	MissionID string          `json:"mission_id,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

func (e EnvironmentEvent) EventTime() time.Time { return e.Timestamp }
func (e EnvironmentEvent) isRecord()            {}
