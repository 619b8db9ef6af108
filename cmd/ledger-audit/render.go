package main

import (
	"fmt"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/xuri/excelize/v2"
)

var violationHeaders = []string{"Stock", "Product", "Warehouse", "Batch", "Quantity", "Reserved", "Allocated", "Violation"}

func violationRow(v violation) []string {
	return []string{
		strconv.Itoa(v.StockId),
		strconv.Itoa(v.ProductId),
		strconv.Itoa(v.WarehouseId),
		v.BatchNumber,
		v.Quantity.String(),
		v.Reserved.String(),
		v.Allocated.String(),
		string(v.Kind),
	}
}

func renderTable(violations []violation) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, len(violationHeaders))
	for i, h := range violationHeaders {
		header[i] = h
	}
	tw.AppendHeader(header)
	for _, v := range violations {
		cells := violationRow(v)
		row := make(table.Row, len(cells))
		for i, c := range cells {
			row[i] = c
		}
		tw.AppendRow(row)
	}

	configs := make([]table.ColumnConfig, 0, len(violationHeaders))
	for i := range violationHeaders {
		align := text.AlignLeft
		// numeric columns
		if i < 3 || (i >= 4 && i <= 6) {
			align = text.AlignRight
		}
		configs = append(configs, table.ColumnConfig{Number: i + 1, Align: align, AlignHeader: text.AlignLeft})
	}
	tw.SetColumnConfigs(configs)
	return tw.Render()
}

const sheetName = "Violations"

// writeXLSX stores the same rows as the table, one violation per row under a header row.
func writeXLSX(path string, violations []violation) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return err
	}
	for i, h := range violationHeaders {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheetName, cell, h); err != nil {
			return err
		}
	}
	for r, v := range violations {
		values := []interface{}{
			v.StockId, v.ProductId, v.WarehouseId, v.BatchNumber,
			v.Quantity.InexactFloat64(), v.Reserved.InexactFloat64(), v.Allocated.InexactFloat64(), string(v.Kind),
		}
		for c, value := range values {
			cell, err := excelize.CoordinatesToCellName(c+1, r+2)
			if err != nil {
				return err
			}
			if err := f.SetCellValue(sheetName, cell, value); err != nil {
				return err
			}
		}
	}
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	return nil
}
