package report

import (
	"fmt"
	"io"
	"time"

	"github.com/nicolasmoreira/linkuy-connect-app/internal/models"
	"github.com/xuri/excelize/v2"
)

// JournalSheet 投递日志工作表名
const JournalSheet = "Delivery Journal"

// JournalHeader 投递日志导出表头
var JournalHeader = []string{
	"ID",
	"Event Type",
	"Outcome",
	"Status Code",
	"Detail",
	"Recorded At",
}

var journalColumnWidths = []float64{
	38, // ID
	24, // Event Type
	12, // Outcome
	12, // Status Code
	48, // Detail
	26, // Recorded At
}

// WriteJournalXLSX 将投递日志写为 Excel 文件
// entries 为空时只生成表头；时间按 loc 格式化（nil 表示 UTC）
func WriteJournalXLSX(w io.Writer, entries []models.JournalEntry, loc *time.Location) error {
	if loc == nil {
		loc = time.UTC
	}

	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(JournalSheet)
	if err != nil {
		return fmt.Errorf("failed to create sheet: %w", err)
	}
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return fmt.Errorf("failed to delete default sheet: %w", err)
	}
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#E6F3FF"},
			Pattern: 1,
		},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
		},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}

	for col, header := range JournalHeader {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetCellValue(JournalSheet, cell, header); err != nil {
			return fmt.Errorf("failed to set header cell %s: %w", cell, err)
		}
		if err := f.SetCellStyle(JournalSheet, cell, cell, headerStyle); err != nil {
			return fmt.Errorf("failed to set header style: %w", err)
		}

		name, err := excelize.ColumnNumberToName(col + 1)
		if err != nil {
			return fmt.Errorf("failed to convert column number: %w", err)
		}
		if err := f.SetColWidth(JournalSheet, name, name, journalColumnWidths[col]); err != nil {
			return fmt.Errorf("failed to set column width: %w", err)
		}
	}

	for i, e := range entries {
		row := i + 2 // 第1行是表头
		values := []interface{}{
			e.ID,
			string(e.EventType),
			string(e.Outcome),
			"",
			e.Detail,
			e.RecordedAt.In(loc).Format(time.RFC3339),
		}
		if e.StatusCode != 0 {
			values[3] = e.StatusCode
		}

		cell, err := excelize.CoordinatesToCellName(1, row)
		if err != nil {
			return fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetSheetRow(JournalSheet, cell, &values); err != nil {
			return fmt.Errorf("failed to write row %d: %w", row, err)
		}
	}

	// 冻结表头
	if err := f.SetPanes(JournalSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return fmt.Errorf("failed to freeze panes: %w", err)
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}
