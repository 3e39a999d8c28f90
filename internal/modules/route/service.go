// README: Route metadata lookup; resolves a station's position on a vehicle's route.
package route

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrNoRoute = errors.New("no route found for vehicle")

type Lookup struct {
	store      Store
	classifier Classifier
}

func NewLookup(store Store, classifier Classifier) *Lookup {
	if classifier == nil {
		classifier = NameClassifier{}
	}
	return &Lookup{store: store, classifier: classifier}
}

// StopInfo resolves where station sits on vehicleID's route. Origin and
// terminus are determined against the minimum and maximum sequence numbers
// across the whole route, not against 1 and len(stops).
func (l *Lookup) StopInfo(ctx context.Context, vehicleID, station string) (StopInfo, error) {
	stops, err := l.store.StopsByVehicle(ctx, vehicleID)
	if err != nil {
		return StopInfo{}, fmt.Errorf("stops for vehicle %s: %w", vehicleID, err)
	}
	if len(stops) == 0 {
		return StopInfo{Found: false, Reason: "no route data for vehicle"}, nil
	}

	minSeq, maxSeq := stops[0].Sequence, stops[0].Sequence
	var match *Stop
	for i := range stops {
		s := &stops[i]
		if s.Sequence < minSeq {
			minSeq = s.Sequence
		}
		if s.Sequence > maxSeq {
			maxSeq = s.Sequence
		}
		if strings.EqualFold(s.Station, station) {
			match = s
		}
	}
	if match == nil {
		return StopInfo{Found: false, Reason: "station not on route"}, nil
	}

	return StopInfo{
		Found:       true,
		Station:     match.Station,
		Arrival:     match.Arrival,
		Departure:   match.Departure,
		Sequence:    match.Sequence,
		TotalStops:  len(stops),
		IsOrigin:    match.Sequence == minSeq,
		IsTerminus:  match.Sequence == maxSeq,
		StationType: l.classifier.Classify(match.Station),
	}, nil
}

// VehicleTime anchors a stop's timetabled clock to a travel date. The origin
// has no arrival, so departure is the fallback anchor.
func (info StopInfo) VehicleTime(travelDate string) (time.Time, error) {
	clock := info.Arrival
	if clock == "" {
		clock = info.Departure
	}
	if clock == "" {
		return time.Time{}, fmt.Errorf("stop %s has no timetabled time", info.Station)
	}
	t, err := time.Parse("2006-01-02 15:04", travelDate+" "+clock)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timetable %q on %q: %w", clock, travelDate, err)
	}
	return t.UTC(), nil
}
