package pipeline

import (
	"math"
	"sort"

	"github.com/rs/zerolog"

	"vehirec/internal/domain"
	"vehirec/internal/models"
)

// State is everything learned at fit time. It is never mutated after Fit returns.
type State struct {
	Clients       *IDEncoder
	Vehicles      *IDEncoder
	Schema        FeatureSchema
	Scaler        StandardScaler
	HistoryLength int
}

// Shape is the index space a ranker is sized for.
type Shape struct {
	Users    int
	Items    int
	Features int
}

// TrainingSet is the input of Ranker.Train.
type TrainingSet struct {
	Shape      Shape
	Train      []Example
	Validation []Example
}

// Query asks a ranker to score a set of candidate items for one user.
// Items and Features are parallel slices.
type Query struct {
	UserIdx  int
	History  []int
	Profile  []float64
	Items    []int
	Features [][]float64
}

// Fit learns encoders, the feature schema and the popularity scaler from a full dataset.
func Fit(ds models.Dataset, historyLength int) (*State, error) {
	if err := checkNotEmpty(ds); err != nil {
		return nil, err
	}
	if historyLength <= 0 {
		historyLength = models.DefaultHistoryLength
	}

	clientIDs := make([]int64, len(ds.Clients))
	for i, c := range ds.Clients {
		clientIDs[i] = c.ID
	}
	vehicleIDs := make([]int64, len(ds.Vehicles))
	for i, v := range ds.Vehicles {
		vehicleIDs[i] = v.ID
	}

	st := &State{
		Clients:       FitIDEncoder(domain.KindClient, clientIDs),
		Vehicles:      FitIDEncoder(domain.KindVehicle, vehicleIDs),
		HistoryLength: historyLength,
	}
	_, st.Schema = FitFeatures(ds.Vehicles)

	counts := make([]float64, st.Vehicles.Len())
	for _, b := range ds.Bookings {
		if idx, err := st.Vehicles.Encode(b.VehicleID); err == nil {
			counts[idx]++
		}
	}
	rows := make([][]float64, len(counts))
	for i, c := range counts {
		rows[i] = []float64{c}
	}
	st.Scaler = FitScaler(rows)

	return st, nil
}

func checkNotEmpty(ds models.Dataset) error {
	switch {
	case len(ds.Clients) == 0:
		return &domain.EmptyDatasetError{Relation: "clients"}
	case len(ds.Vehicles) == 0:
		return &domain.EmptyDatasetError{Relation: "vehicles"}
	case len(ds.Bookings) == 0:
		return &domain.EmptyDatasetError{Relation: "bookings"}
	}
	return nil
}

// Shape returns the dimensions rankers must be built with.
func (s *State) Shape() Shape {
	return Shape{
		Users:    s.Clients.Len(),
		Items:    s.Vehicles.Len(),
		Features: s.Schema.Width() + s.Scaler.Width(),
	}
}

// Prepared is a dataset transformed through a State.
type Prepared struct {
	State        *State
	Interactions []Interaction
	Histories    [][]int
	ItemFeatures [][]float64
	Vehicles     []models.Vehicle
	Available    []bool
	Skipped      int
}

// Prepare transforms a dataset with the frozen state. Vehicles and bookings that
// reference ids unseen at fit time are skipped and logged.
func (s *State) Prepare(ds models.Dataset, logger *zerolog.Logger) *Prepared {
	log := zerolog.Nop()
	if logger != nil {
		log = logger.With().Str("component", "pipeline").Logger()
	}

	p := &Prepared{
		State:     s,
		Vehicles:  make([]models.Vehicle, s.Vehicles.Len()),
		Available: make([]bool, s.Vehicles.Len()),
	}

	for _, v := range ds.Vehicles {
		idx, err := s.Vehicles.Encode(v.ID)
		if err != nil {
			p.Skipped++
			log.Warn().Int64("vehicle_id", v.ID).Msg("Vehicle was not seen at fit time, skipping")
			continue
		}
		p.Vehicles[idx] = v
		p.Available[idx] = true
	}

	counts := make([]float64, s.Vehicles.Len())
	for _, b := range ds.Bookings {
		u, err := s.Clients.Encode(b.ClientID)
		if err != nil {
			p.Skipped++
			log.Warn().Int64("booking_id", b.ID).Err(err).Msg("Skipping booking")
			continue
		}
		i, err := s.Vehicles.Encode(b.VehicleID)
		if err != nil {
			p.Skipped++
			log.Warn().Int64("booking_id", b.ID).Err(err).Msg("Skipping booking")
			continue
		}
		p.Interactions = append(p.Interactions, Interaction{BookingID: b.ID, UserIdx: u, ItemIdx: i, Date: b.Date})
		counts[i]++
	}
	sort.SliceStable(p.Interactions, func(a, b int) bool {
		return p.Interactions[a].BookingID < p.Interactions[b].BookingID
	})

	onehot := TransformFeatures(p.Vehicles, s.Schema)
	p.ItemFeatures = make([][]float64, len(onehot))
	for i, row := range onehot {
		scaled := s.Scaler.Transform([]float64{counts[i]})
		p.ItemFeatures[i] = append(row, scaled...)
	}

	p.Histories = BuildHistories(p.Interactions, s.Clients.Len(), s.HistoryLength)
	return p
}

// Profile is the mean feature vector of the items in a user's history.
// Users without history get a zero vector.
func (p *Prepared) Profile(userIdx int) []float64 {
	width := p.State.Shape().Features
	profile := make([]float64, width)
	if userIdx < 0 || userIdx >= len(p.Histories) {
		return profile
	}
	items := HistoryItems(p.Histories[userIdx])
	if len(items) == 0 {
		return profile
	}
	for _, i := range items {
		for c, v := range p.ItemFeatures[i] {
			profile[c] += v
		}
	}
	for c := range profile {
		profile[c] /= float64(len(items))
	}
	return profile
}

// Examples featurizes labeled pairs.
func (p *Prepared) Examples(pairs []LabeledPair) []Example {
	profiles := make(map[int][]float64)
	out := make([]Example, len(pairs))
	for n, pair := range pairs {
		prof, ok := profiles[pair.UserIdx]
		if !ok {
			prof = p.Profile(pair.UserIdx)
			profiles[pair.UserIdx] = prof
		}
		out[n] = Example{
			UserIdx:  pair.UserIdx,
			ItemIdx:  pair.ItemIdx,
			History:  p.Histories[pair.UserIdx],
			Features: p.ItemFeatures[pair.ItemIdx],
			Profile:  prof,
			Label:    pair.Label,
		}
	}
	return out
}

// Booked returns the item indices a user has interacted with.
func (p *Prepared) Booked(userIdx int) map[int]struct{} {
	out := make(map[int]struct{})
	for _, it := range p.Interactions {
		if it.UserIdx == userIdx {
			out[it.ItemIdx] = struct{}{}
		}
	}
	return out
}

// Query builds the scoring request for one user over every available item,
// optionally leaving out items the user already booked.
func (p *Prepared) Query(userIdx int, excludeBooked bool) (Query, error) {
	if userIdx < 0 || userIdx >= p.State.Clients.Len() {
		return Query{}, &domain.UnknownIDError{Kind: domain.KindUser, ID: int64(userIdx)}
	}
	var booked map[int]struct{}
	if excludeBooked {
		booked = p.Booked(userIdx)
	}

	q := Query{
		UserIdx: userIdx,
		History: p.Histories[userIdx],
		Profile: p.Profile(userIdx),
	}
	for i, ok := range p.Available {
		if !ok {
			continue
		}
		if _, seen := booked[i]; seen {
			continue
		}
		q.Items = append(q.Items, i)
		q.Features = append(q.Features, p.ItemFeatures[i])
	}
	return q, nil
}

// Cosine returns the cosine similarity of two vectors, 0 when either is all zeros.
func Cosine(a, b []float64) float64 {
	var dot, na, nb float64
	for i := range a {
		if i >= len(b) {
			break
		}
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
