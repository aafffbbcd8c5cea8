package models

import "time"

// Recommendation is one ranked vehicle for a client.
type Recommendation struct {
	Rank    int     `json:"rank"`
	Vehicle Vehicle `json:"vehicle"`
	Score   float64 `json:"score"`
}

// RecommendationList is the full answer for one client, as cached and exported.
type RecommendationList struct {
	ClientID     int64            `json:"client_id"`
	Ranker       string           `json:"ranker"`
	ModelVersion int              `json:"model_version"`
	ColdStart    bool             `json:"cold_start"`
	Items        []Recommendation `json:"items"`
	GeneratedAt  time.Time        `json:"generated_at"`
}

// Dataset is a full read of the three relations.
type Dataset struct {
	Clients  []Client
	Vehicles []Vehicle
	Bookings []Booking
}
