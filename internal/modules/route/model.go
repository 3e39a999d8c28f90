// README: Route stop model and station classification.
package route

import "strings"

// StationType drives the base buffer a worker needs at that station.
type StationType string

const (
	StationJunction StationType = "junction"
	StationTerminal StationType = "terminal"
	StationHalt     StationType = "halt"
	StationRegular  StationType = "regular"
)

// Stop is one entry of a vehicle's fixed timetable. Arrival/Departure are
// time-of-day strings ("15:04"); the origin stop has no arrival and the
// terminus no departure.
type Stop struct {
	ID         int64
	VehicleID  string
	Station    string
	Arrival    string
	Departure  string
	Sequence   int
	TotalStops int
}

// StopInfo is the resolved position of a station on a vehicle's route.
type StopInfo struct {
	Found       bool
	Reason      string
	Station     string
	Arrival     string
	Departure   string
	Sequence    int
	TotalStops  int
	IsOrigin    bool
	IsTerminus  bool
	StationType StationType
}

// Classifier maps a station to its type. Pluggable so classification can
// later come from authoritative station metadata instead of names.
type Classifier interface {
	Classify(station string) StationType
}

// NameClassifier infers the type from naming conventions ("Jn", "Terminal",
// "Halt" suffixes and their spelled-out forms).
type NameClassifier struct{}

func (NameClassifier) Classify(station string) StationType {
	s := strings.ToLower(station)
	switch {
	case strings.Contains(s, "junction") || strings.HasSuffix(s, " jn") || strings.Contains(s, " jn "):
		return StationJunction
	case strings.Contains(s, "terminal") || strings.Contains(s, "terminus"):
		return StationTerminal
	case strings.Contains(s, "halt"):
		return StationHalt
	default:
		return StationRegular
	}
}
