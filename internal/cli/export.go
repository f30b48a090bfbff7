package cli

import (
	"fmt"
	"io"

	"github.com/hyperjump/gamesense/internal/models"
	"github.com/xuri/excelize/v2"
)

const statsSheet = "Clusters"

// ExportStatsXLSX writes a workbook with one row per game and a total row.
func ExportStatsXLSX(w io.Writer, stats []models.GameStat) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", statsSheet); err != nil {
		return fmt.Errorf("failed to name sheet: %w", err)
	}
	rows := [][]interface{}{{"Game", "Vectors"}}
	for _, s := range stats {
		rows = append(rows, []interface{}{s.Game, s.Vectors})
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(statsSheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write row %d: %w", i+1, err)
		}
	}
	totalRow := len(rows) + 1
	if len(stats) > 0 {
		if err := f.SetCellValue(statsSheet, fmt.Sprintf("A%d", totalRow), "Total"); err != nil {
			return err
		}
		formula := fmt.Sprintf("SUM(B2:B%d)", len(rows))
		if err := f.SetCellFormula(statsSheet, fmt.Sprintf("B%d", totalRow), formula); err != nil {
			return fmt.Errorf("failed to write total: %w", err)
		}
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}
	if err := f.SetRowStyle(statsSheet, 1, 1, bold); err != nil {
		return err
	}
	if err := f.SetColWidth(statsSheet, "A", "A", 40); err != nil {
		return err
	}
	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}
