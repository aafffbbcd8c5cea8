package export

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"vehirec/internal/models"
	"vehirec/internal/ranker"

	"github.com/xuri/excelize/v2"
)

const (
	recommendationsSheet = "Recommendations"
	trainingSheet        = "Training"
	fileTimeLayout       = "20060102_150405"
)

var recommendationHeaders = []string{"Rank", "Vehicle ID", "Name", "Type", "Features", "Score"}

// Exporter writes timestamped xlsx artifacts into one directory.
type Exporter struct {
	dir string
	now func() time.Time
}

func NewExporter(dir string) *Exporter {
	return &Exporter{dir: dir, now: time.Now}
}

// WriteRecommendations writes one row per recommended vehicle and returns the file path.
func (e *Exporter) WriteRecommendations(list *models.RecommendationList) (string, error) {
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return "", fmt.Errorf("error creating export directory: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(recommendationsSheet)
	if err != nil {
		return "", fmt.Errorf("error creating sheet: %w", err)
	}
	f.SetActiveSheet(index)

	title := fmt.Sprintf("Client %d, %s ranker v%d, %s",
		list.ClientID, list.Ranker, list.ModelVersion, list.GeneratedAt.Format("02.01.2006 15:04"))
	if list.ColdStart {
		title += " (cold start)"
	}
	_ = f.SetCellValue(recommendationsSheet, "A1", title)
	_ = f.MergeCell(recommendationsSheet, "A1", "F1")

	titleStyle, _ := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 14},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	_ = f.SetCellStyle(recommendationsSheet, "A1", "A1", titleStyle)

	if err := writeHeader(f, recommendationsSheet, recommendationHeaders); err != nil {
		return "", err
	}

	scoreStyle, _ := f.NewStyle(&excelize.Style{NumFmt: 4})
	for i, rec := range list.Items {
		row := i + 3
		values := []interface{}{rec.Rank, rec.Vehicle.ID, rec.Vehicle.Name, rec.Vehicle.Type, rec.Vehicle.Features, rec.Score}
		cell, _ := excelize.CoordinatesToCellName(1, row)
		if err := f.SetSheetRow(recommendationsSheet, cell, &values); err != nil {
			return "", fmt.Errorf("error writing row %d: %w", row, err)
		}
		scoreCell, _ := excelize.CoordinatesToCellName(6, row)
		_ = f.SetCellStyle(recommendationsSheet, scoreCell, scoreCell, scoreStyle)
	}

	_ = f.SetColWidth(recommendationsSheet, "A", "B", 12)
	_ = f.SetColWidth(recommendationsSheet, "C", "E", 25)
	_ = f.SetColWidth(recommendationsSheet, "F", "F", 12)
	_ = f.DeleteSheet("Sheet1")

	fileName := fmt.Sprintf("recommendations_client%d_%s.xlsx", list.ClientID, e.now().Format(fileTimeLayout))
	return e.save(f, fileName)
}

// WriteTrainingReport writes the loss curve of a training run.
func (e *Exporter) WriteTrainingReport(runID string, report ranker.TrainReport) (string, error) {
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return "", fmt.Errorf("error creating export directory: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(trainingSheet)
	if err != nil {
		return "", fmt.Errorf("error creating sheet: %w", err)
	}
	f.SetActiveSheet(index)

	summary := fmt.Sprintf("Run %s, %s ranker, best epoch %d, stopped early: %t",
		runID, report.Ranker, report.BestEpoch, report.StoppedEarly)
	_ = f.SetCellValue(trainingSheet, "A1", summary)

	if err := writeHeader(f, trainingSheet, []string{"Epoch", "Train Loss", "Validation Loss"}); err != nil {
		return "", err
	}
	for i, point := range report.Curve {
		cell, _ := excelize.CoordinatesToCellName(1, i+3)
		values := []interface{}{point.Epoch, point.TrainLoss, point.ValidationLoss}
		if err := f.SetSheetRow(trainingSheet, cell, &values); err != nil {
			return "", fmt.Errorf("error writing epoch %d: %w", point.Epoch, err)
		}
	}
	_ = f.DeleteSheet("Sheet1")

	fileName := fmt.Sprintf("training_%s_%s.xlsx", report.Ranker, e.now().Format(fileTimeLayout))
	return e.save(f, fileName)
}

func writeHeader(f *excelize.File, sheet string, headers []string) error {
	style, _ := f.NewStyle(&excelize.Style{
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 2)
		if err := f.SetCellValue(sheet, cell, h); err != nil {
			return fmt.Errorf("error writing header: %w", err)
		}
		_ = f.SetCellStyle(sheet, cell, cell, style)
	}
	return nil
}

func (e *Exporter) save(f *excelize.File, fileName string) (string, error) {
	path := filepath.Join(e.dir, fileName)
	if err := f.SaveAs(path); err != nil {
		return "", fmt.Errorf("error saving file: %w", err)
	}
	return path, nil
}
