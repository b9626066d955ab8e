// Package report renders record exports.
package report

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/hongminglow/flatkeeper/internal/models"
)

// TenantSheet is the worksheet holding the tenant export.
const TenantSheet = "Tenants"

// TenantHeader is the first row of the tenant export.
var TenantHeader = []string{
	"Name",
	"Contact",
	"Property",
	"Flat",
	"Maintenance Amount",
	"Due Date",
	"Status",
}

var tenantColumnWidths = []float64{24, 28, 24, 10, 20, 14, 10}

// WriteTenants renders tenants as an xlsx workbook. Property and flat ids
// are resolved to names; unresolved references are written as N/A.
func WriteTenants(w io.Writer, tenants []models.Tenant, properties []models.Property, flats []models.Flat) error {
	propertyNames := make(map[string]string, len(properties))
	for _, p := range properties {
		propertyNames[p.ID] = p.Name
	}
	flatNumbers := make(map[string]string, len(flats))
	for _, f := range flats {
		flatNumbers[f.ID] = f.FlatNumber
	}

	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(TenantSheet)
	if err != nil {
		return fmt.Errorf("create sheet: %w", err)
	}
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return fmt.Errorf("drop default sheet: %w", err)
	}
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
		},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return fmt.Errorf("create header style: %w", err)
	}

	header := make([]any, len(TenantHeader))
	for i, h := range TenantHeader {
		header[i] = h
	}
	if err := f.SetSheetRow(TenantSheet, "A1", &header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	last, err := excelize.CoordinatesToCellName(len(TenantHeader), 1)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(TenantSheet, "A1", last, headerStyle); err != nil {
		return fmt.Errorf("style header: %w", err)
	}
	for i, width := range tenantColumnWidths {
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return err
		}
		if err := f.SetColWidth(TenantSheet, col, col, width); err != nil {
			return fmt.Errorf("set column width: %w", err)
		}
	}

	for i, t := range tenants {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		status := "Unpaid"
		if t.IsPaid {
			status = "Paid"
		}
		row := []any{
			t.Name,
			t.Contact,
			orNotAvailable(propertyNames[t.PropertyID]),
			orNotAvailable(flatNumbers[t.FlatID]),
			t.MaintenanceAmount,
			t.DueDate,
			status,
		}
		if err := f.SetSheetRow(TenantSheet, cell, &row); err != nil {
			return fmt.Errorf("write row %d: %w", i+2, err)
		}
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func orNotAvailable(s string) string {
	if s == "" {
		return models.NotAvailable
	}
	return s
}
