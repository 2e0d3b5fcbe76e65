// Package ledger merges invoice records into a two-sheet XLSX workbook,
// de-duplicating on the invoice and line-item natural keys.
package ledger

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"

	"invoice-sync-go/internal/models"
	"invoice-sync-go/internal/numeric"
)

// ErrNoRecords is returned by Merge when there is nothing to write
var ErrNoRecords = errors.New("no records to merge")

// Sheet names
const (
	InvoiceSheet  = "Facturas"
	LineItemSheet = "Productos"
)

// InvoiceHeaders are the Facturas columns in order
var InvoiceHeaders = []string{
	"Fecha", "RUC Emisor", "Nombre Emisor", "Dirección Emisor", "Teléfono Emisor",
	"Nro. Factura", "Condición Venta", "Moneda", "Monto Total", "Subtotal", "IVA",
	"Subtotal Exentas", "Subtotal 5%", "Subtotal 10%", "RUC Cliente", "Nombre Cliente",
	"Email Cliente", "Timbrado", "Timbrado Inicio", "Timbrado Fin", "CDC",
	"Actividad Económica", "Productos", "PDF", "Origen (correo)", "Procesado en",
}

// LineItemHeaders are the Productos columns in order
var LineItemHeaders = []string{
	"Factura", "RUC Emisor", "Fecha", "Artículo", "Cantidad", "Precio Unitario", "Total",
}

var (
	invoiceKey  = []string{"RUC Emisor", "Nro. Factura", "Monto Total", "CDC"}
	lineItemKey = []string{"Factura", "RUC Emisor", "Artículo"}

	invoiceNumeric = set("Monto Total", "Subtotal", "IVA", "Subtotal Exentas", "Subtotal 5%", "Subtotal 10%", "Productos")
	lineNumeric    = set("Cantidad", "Precio Unitario", "Total")
)

// Row is one sheet row keyed by column header
type Row map[string]any

type table struct {
	headers []string
	rows    []Row
}

// Ledger owns one workbook file. Merges are serialized by a mutex.
type Ledger struct {
	mu   sync.Mutex
	path string
}

// New creates a Ledger backed by path
func New(path string) *Ledger {
	return &Ledger{path: path}
}

// Path returns the workbook location
func (l *Ledger) Path() string {
	return l.path
}

// Stat reports the workbook file info, or an error when it does not exist
func (l *Ledger) Stat() (os.FileInfo, error) {
	return os.Stat(l.path)
}

// Merge appends records to the workbook, keeps the last occurrence of each
// natural key and persists both sheets atomically.
func (l *Ledger) Merge(records []models.InvoiceRecord) (string, error) {
	if len(records) == 0 {
		return "", ErrNoRecords
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	newInvoices := table{headers: InvoiceHeaders}
	newItems := table{headers: LineItemHeaders}
	for _, rec := range records {
		newInvoices.rows = append(newInvoices.rows, InvoiceRow(rec))
		newItems.rows = append(newItems.rows, LineItemRows(rec)...)
	}

	invoices, items := newInvoices, newItems
	if _, err := os.Stat(l.path); err == nil {
		existingInvoices, existingItems, err := l.load()
		if err != nil {
			logrus.Warnf("Ledger %s is unreadable, rewriting with new rows only: %v", l.path, err)
		} else {
			invoices = merge(existingInvoices, newInvoices, invoiceKey)
			items = merge(existingItems, newItems, lineItemKey)
		}
	}

	if err := l.save(invoices, items); err != nil {
		return "", err
	}

	logrus.Infof("Ledger %s written: %d invoices, %d line items", l.path, len(invoices.rows), len(items.rows))
	return l.path, nil
}

// InvoiceRow flattens a record into a Facturas row
func InvoiceRow(rec models.InvoiceRecord) Row {
	row := Row{
		"Fecha":               formatDate(rec.IssueDate),
		"RUC Emisor":          models.StringValue(rec.IssuerTaxID),
		"Nombre Emisor":       models.StringValue(rec.IssuerName),
		"Nro. Factura":        models.StringValue(rec.InvoiceNumber),
		"Condición Venta":     models.StringValue(rec.SaleCondition),
		"Moneda":              rec.Currency,
		"Monto Total":         rec.TotalAmount,
		"Subtotal":            0.0,
		"IVA":                 rec.TaxAmount,
		"Subtotal Exentas":    rec.SubtotalExempt,
		"Subtotal 5%":         rec.Subtotal5,
		"Subtotal 10%":        rec.Subtotal10,
		"RUC Cliente":         models.StringValue(rec.CustomerTaxID),
		"Nombre Cliente":      models.StringValue(rec.CustomerName),
		"Email Cliente":       models.StringValue(rec.CustomerEmail),
		"Timbrado":            models.StringValue(rec.StampNumber),
		"CDC":                 models.StringValue(rec.ControlCode),
		"Actividad Económica": models.StringValue(rec.EconomicActivity),
		"Productos":           float64(len(rec.LineItems)),
		"PDF":                 models.StringValue(rec.PDFPath),
		"Origen (correo)":     models.StringValue(rec.SourceEmail),
		"Procesado en":        rec.ProcessedAt.Format("2006-01-02 15:04:05"),
	}
	if rec.Currency == "" {
		row["Moneda"] = models.DefaultCurrency
	}
	if rec.Issuer != nil {
		if row["Nombre Emisor"] == "" {
			row["Nombre Emisor"] = models.StringValue(rec.Issuer.Name)
		}
		row["Dirección Emisor"] = models.StringValue(rec.Issuer.Address)
		row["Teléfono Emisor"] = models.StringValue(rec.Issuer.Phone)
	}
	if rec.Stamp != nil {
		row["Timbrado Inicio"] = models.StringValue(rec.Stamp.ValidFrom)
		row["Timbrado Fin"] = models.StringValue(rec.Stamp.ValidUntil)
	}
	if rec.Totals != nil {
		row["Subtotal"] = rec.Totals.Subtotal
		if rec.TaxAmount == 0 {
			row["IVA"] = rec.Totals.TotalTax
		}
	}
	return row
}

// LineItemRows flattens a record's line items into Productos rows
func LineItemRows(rec models.InvoiceRecord) []Row {
	rows := make([]Row, 0, len(rec.LineItems))
	for _, item := range rec.LineItems {
		rows = append(rows, Row{
			"Factura":         models.StringValue(rec.InvoiceNumber),
			"RUC Emisor":      models.StringValue(rec.IssuerTaxID),
			"Fecha":           formatDate(rec.IssueDate),
			"Artículo":        item.Description,
			"Cantidad":        item.Quantity,
			"Precio Unitario": item.UnitPrice,
			"Total":           item.Total,
		})
	}
	return rows
}

// ReadInvoices returns the Facturas rows currently on disk
func (l *Ledger) ReadInvoices() ([]Row, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	invoices, _, err := l.load()
	if err != nil {
		return nil, err
	}
	return invoices.rows, nil
}

func (l *Ledger) load() (table, table, error) {
	f, err := excelize.OpenFile(l.path)
	if err != nil {
		return table{}, table{}, fmt.Errorf("open ledger: %w", err)
	}
	defer f.Close()

	if idx, err := f.GetSheetIndex(InvoiceSheet); err != nil || idx < 0 {
		return table{}, table{}, fmt.Errorf("ledger has no %s sheet", InvoiceSheet)
	}
	invoices, err := readSheet(f, InvoiceSheet, InvoiceHeaders, invoiceNumeric)
	if err != nil {
		return table{}, table{}, err
	}

	items := table{headers: LineItemHeaders}
	if idx, err := f.GetSheetIndex(LineItemSheet); err == nil && idx >= 0 {
		if items, err = readSheet(f, LineItemSheet, LineItemHeaders, lineNumeric); err != nil {
			logrus.Warnf("Ledger %s sheet unreadable, starting it empty: %v", LineItemSheet, err)
			items = table{headers: LineItemHeaders}
		}
	} else {
		logrus.Warnf("Ledger has no %s sheet, starting it empty", LineItemSheet)
	}
	return invoices, items, nil
}

// readSheet loads rows by header name. Columns unknown to canonical are kept
// after the canonical ones.
func readSheet(f *excelize.File, sheet string, canonical []string, numericCols map[string]bool) (table, error) {
	rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return table{}, fmt.Errorf("read %s: %w", sheet, err)
	}

	t := table{headers: append([]string(nil), canonical...)}
	if len(rows) == 0 {
		return t, nil
	}

	known := set(canonical...)
	fileHeaders := rows[0]
	for _, h := range fileHeaders {
		if h != "" && !known[h] {
			t.headers = append(t.headers, h)
			known[h] = true
		}
	}

	for _, cells := range rows[1:] {
		row := Row{}
		empty := true
		for i, h := range fileHeaders {
			if h == "" || i >= len(cells) {
				continue
			}
			if cells[i] != "" {
				empty = false
			}
			if numericCols[h] {
				row[h] = toFloat(cells[i])
			} else {
				row[h] = cells[i]
			}
		}
		if !empty {
			t.rows = append(t.rows, row)
		}
	}
	return t, nil
}

// merge concatenates existing and incoming rows and keeps the last row for each key
func merge(existing, incoming table, key []string) table {
	headers := existing.headers
	if len(headers) == 0 {
		headers = incoming.headers
	}

	combined := append(append([]Row(nil), existing.rows...), incoming.rows...)
	last := make(map[string]int, len(combined))
	for i, row := range combined {
		last[rowKey(row, key)] = i
	}

	out := table{headers: headers}
	for i, row := range combined {
		if last[rowKey(row, key)] == i {
			out.rows = append(out.rows, row)
		}
	}
	return out
}

func rowKey(row Row, key []string) string {
	parts := make([]string, len(key))
	for i, col := range key {
		switch v := row[col].(type) {
		case float64:
			parts[i] = strconv.FormatFloat(v, 'f', -1, 64)
		case nil:
			parts[i] = ""
		default:
			parts[i] = fmt.Sprint(v)
		}
	}
	return strings.Join(parts, "\x1f")
}

func (l *Ledger) save(invoices, items table) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", InvoiceSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	if _, err := f.NewSheet(LineItemSheet); err != nil {
		return fmt.Errorf("create sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("create header style: %w", err)
	}

	if err := writeSheet(f, InvoiceSheet, invoices, headerStyle); err != nil {
		return err
	}
	if err := writeSheet(f, LineItemSheet, items, headerStyle); err != nil {
		return err
	}

	dir := filepath.Dir(l.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create ledger dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".ledger-*.xlsx")
	if err != nil {
		return fmt.Errorf("create temp ledger: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if err := f.Write(tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("write ledger: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp ledger: %w", err)
	}
	if err := os.Rename(tmpPath, l.path); err != nil {
		return fmt.Errorf("replace ledger: %w", err)
	}
	return nil
}

func writeSheet(f *excelize.File, sheet string, t table, headerStyle int) error {
	header := make([]interface{}, len(t.headers))
	for i, h := range t.headers {
		header[i] = h
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return fmt.Errorf("write %s header: %w", sheet, err)
	}

	lastCol, err := excelize.CoordinatesToCellName(len(t.headers), 1)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(sheet, "A1", lastCol, headerStyle); err != nil {
		return fmt.Errorf("style %s header: %w", sheet, err)
	}
	if err := f.SetPanes(sheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return fmt.Errorf("freeze %s header: %w", sheet, err)
	}

	for i, row := range t.rows {
		values := make([]interface{}, len(t.headers))
		for j, h := range t.headers {
			if v, ok := row[h]; ok {
				values[j] = v
			} else {
				values[j] = ""
			}
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			return fmt.Errorf("write %s row %d: %w", sheet, i+2, err)
		}
	}
	return nil
}

func toFloat(s string) float64 {
	s = strings.TrimSpace(s)
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return numeric.AmountOrZero(s)
}

func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("2006-01-02")
}

func set(values ...string) map[string]bool {
	m := make(map[string]bool, len(values))
	for _, v := range values {
		m[v] = true
	}
	return m
}
