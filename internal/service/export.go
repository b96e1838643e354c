package service

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/phlaster/biokeeper-backend/internal/domain"
	"github.com/phlaster/biokeeper-backend/internal/repository"
)

// SampleExportHeader is the column order of the research sample sheet
var SampleExportHeader = []string{
	"Sample ID",
	"QR ID",
	"Owner ID",
	"Collected At",
	"Latitude",
	"Longitude",
	"Status",
	"Locality",
	"Comment",
	"Has Photo",
	"Sent To Lab",
	"Delivered To Lab",
}

var sampleExportWidths = []float64{12, 10, 10, 20, 12, 12, 12, 40, 40, 10, 20, 20}

const sampleSheet = "Samples"

// ExportResearchSamples renders every sample of a research as an xlsx workbook.
// Admins and the research creator may export.
func (s *SampleService) ExportResearchSamples(ctx context.Context, researchID int64, caller domain.Caller) ([]byte, error) {
	repos := s.store.Repos()
	research, err := repos.Researches.GetResearch(ctx, researchID, repository.LockNone)
	if err != nil {
		return nil, err
	}
	if !caller.IsAdmin() && research.CreatedBy != caller.UserID {
		return nil, domain.Forbidden("user %d may not export research %d", caller.UserID, researchID)
	}
	samples, err := repos.Samples.ListSamples(ctx, repository.SamplesFilter{ResearchID: researchID})
	if err != nil {
		return nil, err
	}

	data, err := generateSampleExcel(samples)
	s.metrics.Operation("export_samples", outcomeOf(err))
	if err != nil {
		s.logger.Error("ExportResearchSamples failed", zap.Int64("research_id", researchID), zap.Error(err))
		return nil, err
	}
	s.logger.Info("Research samples exported", zap.Int64("research_id", researchID), zap.Int("rows", len(samples)))
	return data, nil
}

func generateSampleExcel(samples []*domain.Sample) ([]byte, error) {
	f := excelize.NewFile()
	// WriteTo needs the file open, so Close is called explicitly on every path

	index, err := f.NewSheet(sampleSheet)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	f.DeleteSheet("Sheet1")
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#E6F3E6"},
			Pattern: 1,
		},
		Alignment: &excelize.Alignment{
			Horizontal: "center",
			Vertical:   "center",
		},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	for col, header := range SampleExportHeader {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetCellValue(sampleSheet, cell, header); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set header cell %s: %w", cell, err)
		}
		if err := f.SetCellStyle(sampleSheet, cell, cell, headerStyle); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set header style: %w", err)
		}
		name, err := excelize.ColumnNumberToName(col + 1)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to convert column number: %w", err)
		}
		if err := f.SetColWidth(sampleSheet, name, name, sampleExportWidths[col]); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set column width: %w", err)
		}
	}

	for i, sm := range samples {
		row := i + 2
		values := []any{
			sm.ID,
			sm.QRID,
			sm.OwnerID,
			sm.CollectedAt.UTC().Format(time.DateTime),
			sm.GPS.Latitude,
			sm.GPS.Longitude,
			sm.Status,
			derefString(sm.Locality),
			derefString(sm.Comment),
			yesNo(sm.HasPhoto),
			formatTimePtr(sm.SentToLabAt),
			formatTimePtr(sm.DeliveredToLabAt),
		}
		cell, err := excelize.CoordinatesToCellName(1, row)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetSheetRow(sampleSheet, cell, &values); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to write row %d: %w", row, err)
		}
	}

	if err := f.SetPanes(sampleSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to freeze panes: %w", err)
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write to buffer: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to close file: %w", err)
	}
	return buf.Bytes(), nil
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.DateTime)
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}
