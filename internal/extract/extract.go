// Package extract converts raw log lines and death-log CSV records into typed
// domain events. All functions are pure and stateless: a line either yields a
// record or it does not, and a malformed line never aborts a batch.
package extract

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/arkadian-hale/deadside-ingest/internal/domain"
)

// Unified log patterns. The player id rides after a '|' separator; the name
// field is URL-encoded and may carry a trailing ":PLATFORM" token.
var (
	queueRegex      = regexp.MustCompile(`LogOnline: (?:Warning: )?Player \|([A-Za-z0-9]+) (\S+) is in the login queue`)
	registeredRegex = regexp.MustCompile(`LogOnline: (?:Warning: )?Player \|([A-Za-z0-9]+) successfully registered`)
	disconnectRegex = regexp.MustCompile(`LogOnline: (?:Warning: )?Player \|([A-Za-z0-9]+)(?: \S+)? disconnected`)
	missionRegex    = regexp.MustCompile(`LogSFPS: Mission ([A-Za-z0-9_]+) switched to ([A-Za-z]+)`)
)

// Environment events carry no structured payload; keyword matches suffice.
var environmentKeywords = []struct {
	token string
	kind  domain.EnvironmentKind
}{
	{"airdrop", domain.EnvAirdrop},
	{"air drop", domain.EnvAirdrop},
	{"helicrash", domain.EnvHelicrash},
	{"helicopter crash", domain.EnvHelicrash},
	{"trader", domain.EnvTrader},
}

const (
	// missionReadyState is the only mission transition surfaced to players.
	missionReadyState = "READY"
	// minMissionDifficulty filters low-tier missions out of notifications.
	minMissionDifficulty = 3
)

// ParseLogLine converts one unified-log line into a typed record. The second
// return value is false for lines that match no pattern; callers log those at
// debug level and continue. defaultTime is used when the line has no parseable
// timestamp token.
func ParseLogLine(line string, defaultTime time.Time) (domain.Record, bool) {
	rest, ts, ok := lineTimestamp(line)
	if !ok {
		ts = defaultTime
	}

	if m := queueRegex.FindStringSubmatch(rest); m != nil {
		rawName, platform := SplitPlatform(m[2])
		name := NormalizeName(DecodeName(rawName), m[1])
		return domain.ConnectionEvent{
			PlayerID:   m[1],
			Name:       name,
			Platform:   platform,
			Transition: domain.TransitionQueued,
			Timestamp:  ts,
		}, true
	}

	if m := registeredRegex.FindStringSubmatch(rest); m != nil {
		return domain.ConnectionEvent{
			PlayerID:   m[1],
			Name:       FallbackName(m[1]),
			Transition: domain.TransitionJoined,
			Timestamp:  ts,
		}, true
	}

	if m := disconnectRegex.FindStringSubmatch(rest); m != nil {
		return domain.ConnectionEvent{
			PlayerID:   m[1],
			Transition: domain.TransitionDisconnected,
			Timestamp:  ts,
		}, true
	}

	if m := missionRegex.FindStringSubmatch(rest); m != nil {
		if !strings.EqualFold(m[2], missionReadyState) {
			return nil, false
		}
		if missionDifficulty(m[1]) < minMissionDifficulty {
			return nil, false
		}
		return domain.EnvironmentEvent{
			Kind:      domain.EnvMissionReady,
			MissionID: m[1],
			Timestamp: ts,
		}, true
	}

	lower := strings.ToLower(rest)
	for _, kw := range environmentKeywords {
		if strings.Contains(lower, kw.token) {
			return domain.EnvironmentEvent{Kind: kw.kind, Timestamp: ts}, true
		}
	}

	return nil, false
}

// missionDifficulty derives a difficulty tier from the trailing number in a
// mission identifier ("Mission_Mil_04" -> 4). Missions without a numeric
// suffix rank zero and are filtered.
func missionDifficulty(missionID string) int {
	idx := strings.LastIndexFunc(missionID, func(r rune) bool {
		return r < '0' || r > '9'
	})
	suffix := missionID[idx+1:]
	if suffix == "" {
		return 0
	}
	n, err := strconv.Atoi(suffix)
	if err != nil {
		return 0
	}
	return n
}
