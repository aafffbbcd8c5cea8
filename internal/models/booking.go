package models

import "time"

// Booking is the implicit interaction signal: a client took a vehicle on a date.
type Booking struct {
	ID        int64     `json:"id" yaml:"id"`
	ClientID  int64     `json:"client_id" yaml:"client_id"`
	VehicleID int64     `json:"vehicle_id" yaml:"vehicle_id"`
	Date      time.Time `json:"date" yaml:"date"`
}
