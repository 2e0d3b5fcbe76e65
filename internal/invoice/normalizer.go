package invoice

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"invoice-sync-go/internal/models"
	"invoice-sync-go/internal/numeric"
)

// DateLayouts are the issue-date formats accepted, tried in order
var DateLayouts = []string{
	"2006-01-02",
	"02/01/2006",
	"02-01-2006",
	"2006/01/02",
	"02/01/06",
	"20060102",
	"02-01-06",
}

// Normalizer coerces raw extraction output into an InvoiceRecord
type Normalizer struct {
	now func() time.Time
}

// NewNormalizer creates a Normalizer using the wall clock
func NewNormalizer() *Normalizer {
	return &Normalizer{now: time.Now}
}

// Normalize builds a record from raw. A nil map yields a record carrying only
// defaults and provenance.
func (n *Normalizer) Normalize(raw map[string]any, pdfPath string, meta models.Metadata) models.InvoiceRecord {
	rec := models.NewInvoiceRecord(n.now())
	if pdfPath != "" {
		rec.PDFPath = &pdfPath
	}
	if sender := strings.TrimSpace(meta.Sender); sender != "" {
		rec.SourceEmail = &sender
	}
	if raw == nil {
		return rec
	}

	rec.IssueDate = ParseDate(textValue(raw["fecha"]))
	rec.IssuerTaxID = formatTaxID(textValue(raw["ruc_emisor"]))
	rec.IssuerName = textValue(raw["nombre_emisor"])
	rec.InvoiceNumber = textValue(raw["numero_factura"])
	rec.TotalAmount = numeric.AmountOrZero(raw["monto_total"])
	rec.TaxAmount = numeric.AmountOrZero(raw["iva"])
	rec.StampNumber = textValue(raw["timbrado"])
	rec.ControlCode = textValue(raw["cdc"])
	rec.CustomerTaxID = formatTaxID(textValue(raw["ruc_cliente"]))
	rec.CustomerName = textValue(raw["nombre_cliente"])
	rec.CustomerEmail = textValue(raw["email_cliente"])
	rec.SaleCondition = textValue(raw["condicion_venta"])
	rec.EconomicActivity = textValue(raw["actividad_economica"])
	rec.SubtotalExempt = numeric.AmountOrZero(raw["subtotal_exentas"])
	rec.Subtotal5 = numeric.AmountOrZero(raw["subtotal_5"])
	rec.Subtotal10 = numeric.AmountOrZero(raw["subtotal_10"])
	if currency := textValue(raw["moneda"]); currency != nil {
		rec.Currency = strings.ToUpper(*currency)
	}

	if m, ok := raw["empresa"].(map[string]any); ok {
		rec.Issuer = &models.Issuer{
			Name:     textValue(m["nombre"]),
			TaxID:    formatTaxID(textValue(m["ruc"])),
			Address:  textValue(m["direccion"]),
			Phone:    textValue(m["telefono"]),
			Activity: textValue(m["actividad_economica"]),
		}
	}
	if m, ok := raw["timbrado_data"].(map[string]any); ok {
		rec.Stamp = &models.StampInfo{
			Number:     textValue(m["nro"]),
			ValidFrom:  textValue(m["fecha_inicio_vigencia"]),
			ValidUntil: textValue(m["valido_hasta"]),
		}
	}
	if m, ok := raw["factura_data"].(map[string]any); ok {
		rec.Document = &models.DocumentInfo{
			ReceiptNumber:  textValue(m["contado_nro"]),
			Date:           textValue(m["fecha"]),
			RegisterNumber: textValue(m["caja_nro"]),
			ControlCode:    textValue(m["cdc"]),
			SaleCondition:  textValue(m["condicion_venta"]),
		}
	}
	if items, ok := raw["productos"].([]any); ok {
		for _, item := range items {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			rec.LineItems = append(rec.LineItems, models.LineItem{
				Description: models.StringValue(textValue(m["articulo"])),
				Quantity:    numeric.AmountOrZero(m["cantidad"]),
				UnitPrice:   numeric.AmountOrZero(m["precio_unitario"]),
				Total:       numeric.AmountOrZero(m["total"]),
			})
		}
	}
	if m, ok := raw["totales"].(map[string]any); ok {
		rec.Totals = &models.Totals{
			ItemCount:  int(numeric.AmountOrZero(m["cantidad_articulos"])),
			Subtotal:   numeric.AmountOrZero(m["subtotal"]),
			GrandTotal: numeric.AmountOrZero(m["total_a_pagar"]),
			Tax0:       numeric.AmountOrZero(m["iva_0%"]),
			Tax5:       numeric.AmountOrZero(m["iva_5%"]),
			Tax10:      numeric.AmountOrZero(m["iva_10%"]),
			TotalTax:   numeric.AmountOrZero(m["total_iva"]),
		}
	}
	if m, ok := raw["cliente"].(map[string]any); ok {
		rec.Customer = &models.Customer{
			Name:  textValue(m["nombre"]),
			TaxID: formatTaxID(textValue(m["ruc"])),
			Email: textValue(m["email"]),
		}
	}

	fillFromBlocks(&rec)
	return rec
}

// fillFromBlocks copies values the flat fields lack from the nested blocks
func fillFromBlocks(rec *models.InvoiceRecord) {
	if b := rec.Issuer; b != nil {
		rec.IssuerTaxID = firstText(rec.IssuerTaxID, b.TaxID)
		rec.IssuerName = firstText(rec.IssuerName, b.Name)
		rec.EconomicActivity = firstText(rec.EconomicActivity, b.Activity)
	}
	if b := rec.Stamp; b != nil {
		rec.StampNumber = firstText(rec.StampNumber, b.Number)
	}
	if b := rec.Document; b != nil {
		rec.InvoiceNumber = firstText(rec.InvoiceNumber, b.ReceiptNumber)
		rec.ControlCode = firstText(rec.ControlCode, b.ControlCode)
		rec.SaleCondition = firstText(rec.SaleCondition, b.SaleCondition)
		if rec.IssueDate == nil {
			rec.IssueDate = ParseDate(b.Date)
		}
	}
	if b := rec.Customer; b != nil {
		rec.CustomerTaxID = firstText(rec.CustomerTaxID, b.TaxID)
		rec.CustomerName = firstText(rec.CustomerName, b.Name)
		rec.CustomerEmail = firstText(rec.CustomerEmail, b.Email)
	}
	if b := rec.Totals; b != nil {
		if rec.TotalAmount == 0 {
			rec.TotalAmount = b.GrandTotal
		}
		if rec.TaxAmount == 0 {
			rec.TaxAmount = b.TotalTax
		}
	}
}

func firstText(current, fallback *string) *string {
	if current != nil {
		return current
	}
	return fallback
}

// ParseDate tries each of DateLayouts and returns nil when none matches
func ParseDate(s *string) *time.Time {
	if s == nil {
		return nil
	}
	value := strings.TrimSpace(*s)
	for _, layout := range DateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return &t
		}
	}
	return nil
}

// FormatTaxID inserts the check-digit dash into a RUC that has none
func FormatTaxID(ruc string) string {
	ruc = strings.TrimSpace(ruc)
	if strings.Contains(ruc, "-") || len(ruc) < 2 {
		return ruc
	}
	return ruc[:len(ruc)-1] + "-" + ruc[len(ruc)-1:]
}

func formatTaxID(s *string) *string {
	if s == nil {
		return nil
	}
	formatted := FormatTaxID(*s)
	return &formatted
}

// textValue returns a trimmed string for text-like values and nil otherwise
func textValue(v any) *string {
	var s string
	switch val := v.(type) {
	case string:
		s = val
	case json.Number:
		s = val.String()
	case float64:
		s = strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		s = strconv.Itoa(val)
	default:
		return nil
	}
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "null") {
		return nil
	}
	return &s
}
