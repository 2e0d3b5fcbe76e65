package ledger

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"invoice-sync-go/internal/models"
)

func str(s string) *string { return &s }

func record(number string, total float64, items ...models.LineItem) models.InvoiceRecord {
	issued := time.Date(2025, 5, 6, 0, 0, 0, 0, time.UTC)
	rec := models.NewInvoiceRecord(time.Date(2025, 5, 6, 12, 0, 0, 0, time.UTC))
	rec.IssueDate = &issued
	rec.IssuerTaxID = str("80124544-3")
	rec.InvoiceNumber = str(number)
	rec.TotalAmount = total
	rec.ControlCode = str("0180124544300100100005612")
	rec.LineItems = append(rec.LineItems, items...)
	return rec
}

func TestMergeCreatesWorkbook(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "facturas.xlsx")
	l := New(path)

	rec := record("001-001-0000001", 1180.5, models.LineItem{Description: "Hosting", Quantity: 1, UnitPrice: 1180.5, Total: 1180.5})
	rec.Issuer = &models.Issuer{Name: str("SIGA S.A."), Address: str("Asunción")}
	rec.Totals = &models.Totals{Subtotal: 1073.18, TotalTax: 107.32}

	got, err := l.Merge([]models.InvoiceRecord{rec})
	require.NoError(t, err)
	assert.Equal(t, path, got)

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{InvoiceSheet, LineItemSheet}, f.GetSheetList())

	rows, err := f.GetRows(InvoiceSheet)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, InvoiceHeaders, rows[0])

	invoices, err := l.ReadInvoices()
	require.NoError(t, err)
	require.Len(t, invoices, 1)
	assert.Equal(t, "2025-05-06", invoices[0]["Fecha"])
	assert.Equal(t, "SIGA S.A.", invoices[0]["Nombre Emisor"])
	assert.Equal(t, "Asunción", invoices[0]["Dirección Emisor"])
	assert.Equal(t, 1180.5, invoices[0]["Monto Total"])
	assert.InDelta(t, 107.32, invoices[0]["IVA"], 1e-9)
	assert.InDelta(t, 1073.18, invoices[0]["Subtotal"], 1e-9)
	assert.Equal(t, 1.0, invoices[0]["Productos"])
	assert.Equal(t, models.DefaultCurrency, invoices[0]["Moneda"])

	items, err := f.GetRows(LineItemSheet)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, LineItemHeaders, items[0])
	assert.Equal(t, "Hosting", items[1][3])

	panes, err := f.GetPanes(InvoiceSheet)
	require.NoError(t, err)
	assert.True(t, panes.Freeze)
	assert.Equal(t, 1, panes.YSplit)
}

func TestMergeIsIdempotent(t *testing.T) {
	l := New(filepath.Join(t.TempDir(), "facturas.xlsx"))

	first := record("001-001-0000001", 1180.5, models.LineItem{Description: "Hosting", Quantity: 1, Total: 1180.5})
	_, err := l.Merge([]models.InvoiceRecord{first})
	require.NoError(t, err)

	second := record("001-001-0000001", 1180.5, models.LineItem{Description: "Hosting", Quantity: 2, Total: 1180.5})
	second.CustomerName = str("ACME")
	_, err = l.Merge([]models.InvoiceRecord{second})
	require.NoError(t, err)

	invoices, err := l.ReadInvoices()
	require.NoError(t, err)
	require.Len(t, invoices, 1)
	assert.Equal(t, "ACME", invoices[0]["Nombre Cliente"])

	f, err := excelize.OpenFile(l.Path())
	require.NoError(t, err)
	defer f.Close()
	items, err := f.GetRows(LineItemSheet)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "2", items[1][4])
}

func TestMergeKeepsDistinctKeys(t *testing.T) {
	l := New(filepath.Join(t.TempDir(), "facturas.xlsx"))

	_, err := l.Merge([]models.InvoiceRecord{record("001-001-0000001", 100)})
	require.NoError(t, err)
	_, err = l.Merge([]models.InvoiceRecord{
		record("001-001-0000002", 100),
		record("001-001-0000001", 200),
	})
	require.NoError(t, err)

	invoices, err := l.ReadInvoices()
	require.NoError(t, err)
	require.Len(t, invoices, 3)
	assert.Equal(t, "001-001-0000001", invoices[0]["Nro. Factura"])
	assert.Equal(t, 100.0, invoices[0]["Monto Total"])
	assert.Equal(t, 200.0, invoices[2]["Monto Total"])
}

func TestMergeDedupsWithinBatch(t *testing.T) {
	l := New(filepath.Join(t.TempDir(), "facturas.xlsx"))

	a := record("001-001-0000009", 50)
	b := record("001-001-0000009", 50)
	b.IssuerName = str("Later")
	_, err := l.Merge([]models.InvoiceRecord{a, b})
	require.NoError(t, err)

	invoices, err := l.ReadInvoices()
	require.NoError(t, err)
	require.Len(t, invoices, 1)
	assert.Equal(t, "Later", invoices[0]["Nombre Emisor"])
}

func TestMergeOverwritesUnreadableStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "facturas.xlsx")
	require.NoError(t, os.WriteFile(path, []byte("not a workbook"), 0o644))

	_, err := New(path).Merge([]models.InvoiceRecord{record("001-001-0000001", 10)})
	require.NoError(t, err)

	invoices, err := New(path).ReadInvoices()
	require.NoError(t, err)
	assert.Len(t, invoices, 1)
}

func TestMergeWithoutLineItemSheet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "facturas.xlsx")

	f := excelize.NewFile()
	require.NoError(t, f.SetSheetName("Sheet1", InvoiceSheet))
	require.NoError(t, f.SetSheetRow(InvoiceSheet, "A1", &[]interface{}{"RUC Emisor", "Nro. Factura", "Monto Total", "CDC", "Notas"}))
	require.NoError(t, f.SetSheetRow(InvoiceSheet, "A2", &[]interface{}{"80124544-3", "001-001-0000007", 75.5, "X", "manual"}))
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())

	l := New(path)
	_, err := l.Merge([]models.InvoiceRecord{record("001-001-0000008", 10, models.LineItem{Description: "Item"})})
	require.NoError(t, err)

	invoices, err := l.ReadInvoices()
	require.NoError(t, err)
	require.Len(t, invoices, 2)
	assert.Equal(t, 75.5, invoices[0]["Monto Total"])
	assert.Equal(t, "manual", invoices[0]["Notas"])

	out, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer out.Close()
	header, err := out.GetRows(InvoiceSheet)
	require.NoError(t, err)
	assert.Equal(t, "Notas", header[0][len(InvoiceHeaders)])
	items, err := out.GetRows(LineItemSheet)
	require.NoError(t, err)
	assert.Len(t, items, 2)
}

func TestMergeNoRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "facturas.xlsx")
	got, err := New(path).Merge(nil)
	assert.ErrorIs(t, err, ErrNoRecords)
	assert.Empty(t, got)
	assert.NoFileExists(t, path)
}

func TestMergeConcurrent(t *testing.T) {
	l := New(filepath.Join(t.TempDir(), "facturas.xlsx"))

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := l.Merge([]models.InvoiceRecord{record("001-001-000000"+string(rune('1'+n)), float64(n))})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	invoices, err := l.ReadInvoices()
	require.NoError(t, err)
	assert.Len(t, invoices, 4)
}
