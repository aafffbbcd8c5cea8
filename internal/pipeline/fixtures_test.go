package pipeline

import (
	"time"

	"vehirec/internal/models"
)

func day(d int) time.Time {
	return time.Date(2024, time.March, d, 10, 0, 0, 0, time.UTC)
}

func testDataset() models.Dataset {
	return models.Dataset{
		Clients: []models.Client{
			{ID: 30, Name: "Carol"},
			{ID: 10, Name: "Alice"},
			{ID: 20, Name: "Bob"},
		},
		Vehicles: []models.Vehicle{
			{ID: 3, Name: "Van", Type: "Van", Features: "Cargo, AC"},
			{ID: 1, Name: "Sedan", Type: "sedan", Features: "AC,GPS"},
			{ID: 2, Name: "Jeep", Type: "SUV", Features: "4x4, gps"},
		},
		Bookings: []models.Booking{
			{ID: 1, ClientID: 10, VehicleID: 1, Date: day(1)},
			{ID: 2, ClientID: 10, VehicleID: 2, Date: day(5)},
			{ID: 3, ClientID: 20, VehicleID: 3, Date: day(2)},
			{ID: 4, ClientID: 10, VehicleID: 1, Date: day(7)},
		},
	}
}
