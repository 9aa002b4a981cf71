package httpapi

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tealeg/xlsx/v3"

	"kasirpos/internal/domain"
)

const (
	exportSales       = "sales"
	exportTopProducts = "top-products"

	formatCSV  = "csv"
	formatXLSX = "xlsx"
)

// table is a rendered report: a header row plus string cells.
type table struct {
	sheet  string
	header []string
	rows   [][]string
}

// moneyFormatter renders integer minor units as a fixed-point amount.
type moneyFormatter struct {
	exponent int32
}

func (m moneyFormatter) format(minor int64) string {
	return decimal.New(minor, -m.exponent).StringFixed(m.exponent)
}

func salesTable(sales []domain.Sale, money moneyFormatter) table {
	t := table{
		sheet: "Sales",
		header: []string{
			"sale_id", "created_at", "user_id", "status", "payment_method",
			"total", "paid", "change", "customer_name", "stock_override", "note",
		},
	}
	for _, s := range sales {
		userID := ""
		if s.UserID != nil {
			userID = strconv.FormatInt(*s.UserID, 10)
		}
		t.rows = append(t.rows, []string{
			strconv.FormatInt(s.ID, 10),
			s.CreatedAt.UTC().Format(time.RFC3339),
			userID,
			s.Status,
			s.PaymentMethod,
			money.format(s.Total),
			money.format(s.Paid),
			money.format(s.Change),
			s.CustomerName,
			strconv.FormatBool(s.StockOverride),
			s.Note,
		})
	}
	return t
}

func topProductsTable(top []domain.TopProduct, money moneyFormatter) table {
	t := table{
		sheet:  "Top Products",
		header: []string{"product_id", "barcode", "name", "qty_sold", "revenue", "cost_total", "profit"},
	}
	for _, p := range top {
		t.rows = append(t.rows, []string{
			strconv.FormatInt(p.ProductID, 10),
			p.Barcode,
			p.Name,
			strconv.FormatInt(p.QtySold, 10),
			money.format(p.Revenue),
			money.format(p.CostTotal),
			money.format(p.Profit),
		})
	}
	return t
}

func (t table) csv() ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(t.header); err != nil {
		return nil, err
	}
	if err := w.WriteAll(t.rows); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (t table) xlsx() ([]byte, error) {
	file := xlsx.NewFile()
	sheet, err := file.AddSheet(t.sheet)
	if err != nil {
		return nil, fmt.Errorf("add worksheet: %w", err)
	}

	headerRow := sheet.AddRow()
	for _, h := range t.header {
		cell := headerRow.AddCell()
		cell.Value = h
		cell.GetStyle().Font.Bold = true
	}
	for _, row := range t.rows {
		dataRow := sheet.AddRow()
		for _, v := range row {
			dataRow.AddCell().Value = v
		}
	}
	for i := range t.header {
		sheet.SetColWidth(i+1, i+1, 16)
	}

	var buf bytes.Buffer
	if err := file.Write(&buf); err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}
