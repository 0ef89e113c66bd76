package httpapi

import (
	"encoding/csv"
	"fmt"
	"net/http"
	"strconv"

	"github.com/xuri/excelize/v2"

	"pompaku/backend/internal/domain"
)

var monthlyHeader = []string{"product_id", "name", "total_quantity", "total_revenue"}

func monthlyFilename(report domain.MonthlySalesReport, ext string) string {
	return fmt.Sprintf("monthly-sales-%04d-%02d.%s", report.Year, report.Month, ext)
}

func writeMonthlyCSV(w http.ResponseWriter, report domain.MonthlySalesReport) error {
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", monthlyFilename(report, "csv")))
	w.WriteHeader(http.StatusOK)

	cw := csv.NewWriter(w)
	if err := cw.Write(monthlyHeader); err != nil {
		return err
	}
	for _, row := range report.Rows {
		record := []string{
			strconv.FormatInt(row.ProductID, 10),
			row.Name,
			row.TotalQuantity.StringFixed(2),
			row.TotalRevenue.StringFixed(2),
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	if err := cw.Write([]string{"", "TOTAL", report.TotalQuantity.StringFixed(2), report.TotalRevenue.StringFixed(2)}); err != nil {
		return err
	}
	cw.Flush()
	return cw.Error()
}

const xlsxSheet = "Sheet1"

// buildMonthlyWorkbook lays the report out as one header row, one row per
// product and a closing total row.
func buildMonthlyWorkbook(report domain.MonthlySalesReport) (*excelize.File, error) {
	f := excelize.NewFile()

	header := make([]any, len(monthlyHeader))
	for i, h := range monthlyHeader {
		header[i] = h
	}
	if err := f.SetSheetRow(xlsxSheet, "A1", &header); err != nil {
		_ = f.Close()
		return nil, err
	}

	for i, row := range report.Rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			_ = f.Close()
			return nil, err
		}
		values := []any{row.ProductID, row.Name, row.TotalQuantity.InexactFloat64(), row.TotalRevenue.InexactFloat64()}
		if err := f.SetSheetRow(xlsxSheet, cell, &values); err != nil {
			_ = f.Close()
			return nil, err
		}
	}

	cell, err := excelize.CoordinatesToCellName(1, len(report.Rows)+2)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	total := []any{"", "TOTAL", report.TotalQuantity.InexactFloat64(), report.TotalRevenue.InexactFloat64()}
	if err := f.SetSheetRow(xlsxSheet, cell, &total); err != nil {
		_ = f.Close()
		return nil, err
	}
	return f, nil
}

func writeMonthlyXLSX(w http.ResponseWriter, report domain.MonthlySalesReport, f *excelize.File) error {
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", monthlyFilename(report, "xlsx")))
	w.WriteHeader(http.StatusOK)
	return f.Write(w)
}
