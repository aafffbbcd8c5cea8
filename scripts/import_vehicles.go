package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"vehirec/internal/database"
	"vehirec/internal/domain"
	"vehirec/internal/models"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

type VehiclesConfig struct {
	Vehicles []models.Vehicle `yaml:"vehicles"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	var (
		vehiclesPath = flag.String("vehicles", "configs/vehicles.yaml", "path to vehicles.yaml")
		dbPath       = flag.String("db", "./data/vehirec.db", "path to sqlite db")
	)
	flag.Parse()

	data, err := os.ReadFile(*vehiclesPath)
	if err != nil {
		return fmt.Errorf("read vehicles: %w", err)
	}
	var cfg VehiclesConfig
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("parse vehicles: %w", err)
	}
	if len(cfg.Vehicles) == 0 {
		return fmt.Errorf("no vehicles in yaml")
	}

	db, err := database.NewDB(*dbPath, &logger)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	created := 0
	updated := 0
	valid := make([]models.Vehicle, 0, len(cfg.Vehicles))
	for _, v := range cfg.Vehicles {
		if v.ID == 0 || v.Name == "" {
			logger.Warn().Int64("id", v.ID).Str("name", v.Name).Msg("skipping vehicle without id or name")
			continue
		}
		_, err = db.GetVehicle(ctx, v.ID)
		switch {
		case err == nil:
			updated++
		case errors.Is(err, domain.ErrUnknownID):
			created++
		default:
			return fmt.Errorf("get %d: %w", v.ID, err)
		}
		valid = append(valid, v)
	}

	if err = db.UpsertVehicles(ctx, valid); err != nil {
		return err
	}

	fmt.Printf("done: created=%d updated=%d\n", created, updated)
	return nil
}
