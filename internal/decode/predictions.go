package decode

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Predictions decodes prediction REST feeds (TMB iMetro, Metrovalencia):
// a flat list of stations, each listing its next trains. These feeds have
// no trip identifiers, so the decoder synthesizes stable ones from the
// service, line, and route codes, and turns temps_restant into an arrival
// timestamp relative to now.
type Predictions struct {
	Prefix       string // canonical namespace prefix, e.g. TMB_METRO
	PlatformRule string // RuleField reads codi_via
}

type predictionTrain struct {
	CodiServei    string `json:"codi_servei"`
	NomLinia      string `json:"nom_linia"`
	TempsRestant  int    `json:"temps_restant"`
	DestiTrajecte string `json:"desti_trajecte"`
	CodiTrajecte  string `json:"codi_trajecte"`
	Ocupacio      *struct {
		Percentatge int   `json:"percentatge"`
		Vagons      []int `json:"vagons"`
	} `json:"ocupacio"`
}

type predictionStation struct {
	CodiLinia    int               `json:"codi_linia"`
	CodiVia      int               `json:"codi_via"`
	CodiEstacio  int               `json:"codi_estacio"`
	PropersTrens []predictionTrain `json:"propers_trens"`
}

func (d *Predictions) Decode(kind FeedKind, body []byte, now time.Time) (*Entities, error) {
	var stations []predictionStation
	if err := json.Unmarshal(body, &stations); err != nil {
		return nil, fmt.Errorf("%w: parse predictions json: %v", ErrDecodeFailure, err)
	}

	out := &Entities{}
	byTrip := make(map[string]*TripUpdate)
	var order []string

	for _, st := range stations {
		// Station stop IDs are <line>.<station>, e.g. 1.111.
		stopID := fmt.Sprintf("%d.%d", st.CodiLinia, st.CodiEstacio)

		for _, train := range st.PropersTrens {
			if train.CodiServei == "" {
				out.Skipped++
				continue
			}
			line := train.NomLinia
			if line == "" {
				line = fmt.Sprintf("L%d", st.CodiLinia)
			}
			tripID := fmt.Sprintf("%s_%s_%s_%s", d.Prefix, train.CodiServei, line, train.CodiTrajecte)

			arrival := now.Add(time.Duration(train.TempsRestant) * time.Second).UTC()
			stu := StopTimeUpdate{
				StopID:   stopID,
				Arrival:  StopTimeEvent{Time: &arrival},
				Headsign: train.DestiTrajecte,
			}
			if d.PlatformRule == RuleField && st.CodiVia > 0 {
				stu.Platform = strconv.Itoa(st.CodiVia)
			}
			if train.Ocupacio != nil {
				pct := train.Ocupacio.Percentatge
				stu.OccupancyPercent = &pct
				stu.OccupancyPerCar = train.Ocupacio.Vagons
			}

			tu, ok := byTrip[tripID]
			if !ok {
				tu = &TripUpdate{TripID: tripID, Timestamp: now.UTC()}
				byTrip[tripID] = tu
				order = append(order, tripID)
			}
			tu.StopTimes = append(tu.StopTimes, stu)
		}
	}

	for _, id := range order {
		out.Updates = append(out.Updates, *byTrip[id])
	}
	return out, nil
}
