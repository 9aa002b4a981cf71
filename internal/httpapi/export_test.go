package httpapi

import (
	"bytes"
	"encoding/csv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v3"

	"kasirpos/internal/domain"
)

func TestMoneyFormatter(t *testing.T) {
	assert.Equal(t, "10400", moneyFormatter{}.format(10400))
	assert.Equal(t, "104.00", moneyFormatter{exponent: 2}.format(10400))
	assert.Equal(t, "-0.05", moneyFormatter{exponent: 2}.format(-5))
}

func TestSalesTableCSV(t *testing.T) {
	userID := int64(2)
	sales := []domain.Sale{{
		ID:            9,
		UserID:        &userID,
		Total:         7000,
		Paid:          10000,
		Change:        3000,
		Status:        domain.SaleStatusPaid,
		PaymentMethod: "CASH",
		CustomerName:  "Budi, S.",
		CreatedAt:     time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC),
	}}

	raw, err := salesTable(sales, moneyFormatter{exponent: 2}).csv()
	require.NoError(t, err)

	rows, err := csv.NewReader(bytes.NewReader(raw)).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "sale_id", rows[0][0])
	assert.Equal(t, []string{"9", "2026-03-01T09:30:00Z", "2", "PAID", "CASH", "70.00", "100.00", "30.00", "Budi, S.", "false", ""}, rows[1])
}

func TestTopProductsTableXLSX(t *testing.T) {
	top := []domain.TopProduct{{ProductID: 1, Barcode: "A1", Name: "Kopi", QtySold: 3, Revenue: 3000, CostTotal: 1800, Profit: 1200}}

	raw, err := topProductsTable(top, moneyFormatter{}).xlsx()
	require.NoError(t, err)

	file, err := xlsx.OpenBinary(raw)
	require.NoError(t, err)
	require.Len(t, file.Sheets, 1)
	sheet := file.Sheets[0]
	assert.Equal(t, "Top Products", sheet.Name)

	var rows [][]string
	err = sheet.ForEachRow(func(r *xlsx.Row) error {
		var cells []string
		for i := 0; i < 7; i++ {
			cells = append(cells, r.GetCell(i).Value)
		}
		rows = append(rows, cells)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "product_id", rows[0][0])
	assert.Equal(t, []string{"1", "A1", "Kopi", "3", "3000", "1800", "1200"}, rows[1])
}
