package google

import (
	"context"
	"fmt"
	"os"
	"time"

	"vehirec/internal/models"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

var recommendationHeaders = []interface{}{
	"Generated At", "Client ID", "Model Version", "Ranker", "Rank", "Vehicle ID", "Name", "Type", "Features", "Score",
}

// SheetsService mirrors exported recommendation lists into one spreadsheet tab.
type SheetsService struct {
	service       *sheets.Service
	spreadsheetID string
	sheetName     string
}

func NewSheetsService(ctx context.Context, credentialsFile, spreadsheetID, sheetName string) (*SheetsService, error) {
	// Читаем файл учетных данных сервисного аккаунта
	credentialsJSON, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read credentials file: %w", err)
	}

	config, err := google.JWTConfigFromJSON(credentialsJSON, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse credentials: %w", err)
	}

	srv, err := sheets.NewService(ctx, option.WithHTTPClient(config.Client(ctx)))
	if err != nil {
		return nil, fmt.Errorf("unable to create Sheets service: %w", err)
	}

	return NewSheetsServiceWithClient(srv, spreadsheetID, sheetName), nil
}

// NewSheetsServiceWithClient wraps an existing Sheets client.
func NewSheetsServiceWithClient(srv *sheets.Service, spreadsheetID, sheetName string) *SheetsService {
	return &SheetsService{service: srv, spreadsheetID: spreadsheetID, sheetName: sheetName}
}

// TestConnection проверяет подключение к таблице
func (s *SheetsService) TestConnection(ctx context.Context) error {
	_, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, s.sheetName+"!A1").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("connection test failed: %w", err)
	}
	return nil
}

// EnsureHeader writes the header row when the first row is empty.
func (s *SheetsService) EnsureHeader(ctx context.Context) error {
	resp, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, s.sheetName+"!A1:J1").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("read header: %w", err)
	}
	if len(resp.Values) > 0 && len(resp.Values[0]) > 0 {
		return nil
	}

	_, err = s.service.Spreadsheets.Values.Update(s.spreadsheetID, s.sheetName+"!A1:J1", &sheets.ValueRange{
		Values: [][]interface{}{recommendationHeaders},
	}).ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	return nil
}

// AppendRecommendations appends one row per recommended vehicle.
func (s *SheetsService) AppendRecommendations(ctx context.Context, list *models.RecommendationList) error {
	if list == nil || len(list.Items) == 0 {
		return nil
	}

	values := make([][]interface{}, 0, len(list.Items))
	for _, rec := range list.Items {
		values = append(values, []interface{}{
			list.GeneratedAt.Format(time.RFC3339),
			list.ClientID,
			list.ModelVersion,
			list.Ranker,
			rec.Rank,
			rec.Vehicle.ID,
			rec.Vehicle.Name,
			rec.Vehicle.Type,
			rec.Vehicle.Features,
			rec.Score,
		})
	}

	_, err := s.service.Spreadsheets.Values.Append(s.spreadsheetID, s.sheetName+"!A:A", &sheets.ValueRange{Values: values}).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("append recommendations: %w", err)
	}
	return nil
}
