package extract

import (
	"strconv"
	"strings"
	"time"

	"github.com/arkadian-hale/deadside-ingest/internal/domain"
)

const (
	// killFieldCount is the minimum column count of a death-log CSV row:
	// timestamp;killer;killerId;victim;victimId;weapon;distance;killerPlatform;victimPlatform
	killFieldCount = 9

	// relocationWeapon is the sentinel the server writes for menu suicides.
	relocationWeapon = "suicide_by_relocation"
	// suicideDisplayWeapon is the normalized label for relocation suicides.
	suicideDisplayWeapon = "Menu Suicide"

	// maxSaneDistance bounds the distance field; rows above it (or negative)
	// are kept with distance clamped to zero rather than rejected.
	maxSaneDistance = 10000
)

// ParseKillLine converts one semicolon-delimited death-log row into a
// KillEvent. Short or unparseable rows return ok=false and are skipped.
// defaultTime is used when the leading timestamp field cannot be parsed.
func ParseKillLine(line string, defaultTime time.Time) (domain.KillEvent, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return domain.KillEvent{}, false
	}

	fields := strings.Split(line, ";")
	if len(fields) < killFieldCount {
		return domain.KillEvent{}, false
	}

	ts, ok := parseStamp(fields[0])
	if !ok {
		ts = defaultTime
	}

	ev := domain.KillEvent{
		Killer:         strings.TrimSpace(fields[1]),
		KillerID:       strings.TrimSpace(fields[2]),
		Victim:         strings.TrimSpace(fields[3]),
		VictimID:       strings.TrimSpace(fields[4]),
		Weapon:         strings.TrimSpace(fields[5]),
		Distance:       sanitizeDistance(fields[6]),
		KillerPlatform: strings.ToUpper(strings.TrimSpace(fields[7])),
		VictimPlatform: strings.ToUpper(strings.TrimSpace(fields[8])),
		Timestamp:      ts,
	}

	if ev.Killer == "" || ev.Victim == "" {
		return domain.KillEvent{}, false
	}

	if strings.EqualFold(ev.Killer, ev.Victim) || strings.EqualFold(ev.Weapon, relocationWeapon) {
		ev.Suicide = true
	}
	if strings.EqualFold(ev.Weapon, relocationWeapon) {
		ev.Weapon = suicideDisplayWeapon
	}

	return ev, true
}

// sanitizeDistance parses the distance field defensively: unparseable,
// negative or implausibly large values collapse to zero so one bad field
// cannot corrupt an otherwise valid record.
func sanitizeDistance(field string) float64 {
	d, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
	if err != nil {
		return 0
	}
	if d < 0 || d > maxSaneDistance {
		return 0
	}
	return d
}
