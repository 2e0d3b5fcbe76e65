package models

import "time"

// DefaultCurrency is applied when an extraction result carries no currency
const DefaultCurrency = "PYG"

// Issuer holds the structured block describing the invoice issuer
type Issuer struct {
	Name     *string `json:"nombre"`
	TaxID    *string `json:"ruc"`
	Address  *string `json:"direccion"`
	Phone    *string `json:"telefono"`
	Activity *string `json:"actividad_economica"`
}

// StampInfo holds the tax authority stamp (timbrado) block
type StampInfo struct {
	Number     *string `json:"nro"`
	ValidFrom  *string `json:"fecha_inicio_vigencia"`
	ValidUntil *string `json:"valido_hasta"`
}

// DocumentInfo holds the document-specific block of an invoice
type DocumentInfo struct {
	ReceiptNumber  *string `json:"contado_nro"`
	Date           *string `json:"fecha"`
	RegisterNumber *string `json:"caja_nro"`
	ControlCode    *string `json:"cdc"`
	SaleCondition  *string `json:"condicion_venta"`
}

// LineItem is one product or service line, kept in document order
type LineItem struct {
	Description string  `json:"articulo"`
	Quantity    float64 `json:"cantidad"`
	UnitPrice   float64 `json:"precio_unitario"`
	Total       float64 `json:"total"`
}

// Totals holds the totals block of an invoice
type Totals struct {
	ItemCount  int     `json:"cantidad_articulos"`
	Subtotal   float64 `json:"subtotal"`
	GrandTotal float64 `json:"total_a_pagar"`
	Tax0       float64 `json:"iva_0%"`
	Tax5       float64 `json:"iva_5%"`
	Tax10      float64 `json:"iva_10%"`
	TotalTax   float64 `json:"total_iva"`
}

// Customer holds the customer block of an invoice
type Customer struct {
	Name  *string `json:"nombre"`
	TaxID *string `json:"ruc"`
	Email *string `json:"email"`
}

// InvoiceRecord is the canonical output of the pipeline.
// Text fields are nil when absent and numeric fields are zero; nothing is omitted.
type InvoiceRecord struct {
	IssueDate        *time.Time `json:"fecha"`
	IssuerTaxID      *string    `json:"ruc_emisor"`
	IssuerName       *string    `json:"nombre_emisor"`
	InvoiceNumber    *string    `json:"numero_factura"`
	TotalAmount      float64    `json:"monto_total"`
	TaxAmount        float64    `json:"iva"`
	Currency         string     `json:"moneda"`
	StampNumber      *string    `json:"timbrado"`
	ControlCode      *string    `json:"cdc"`
	CustomerTaxID    *string    `json:"ruc_cliente"`
	CustomerName     *string    `json:"nombre_cliente"`
	CustomerEmail    *string    `json:"email_cliente"`
	SaleCondition    *string    `json:"condicion_venta"`
	EconomicActivity *string    `json:"actividad_economica"`
	SubtotalExempt   float64    `json:"subtotal_exentas"`
	Subtotal5        float64    `json:"subtotal_5"`
	Subtotal10       float64    `json:"subtotal_10"`

	Issuer    *Issuer       `json:"empresa"`
	Stamp     *StampInfo    `json:"timbrado_data"`
	Document  *DocumentInfo `json:"factura_data"`
	LineItems []LineItem    `json:"productos"`
	Totals    *Totals       `json:"totales"`
	Customer  *Customer     `json:"cliente"`

	PDFPath     *string   `json:"pdf_path"`
	SourceEmail *string   `json:"email_origen"`
	ProcessedAt time.Time `json:"procesado_en"`
}

// NewInvoiceRecord returns a record with defaults applied
func NewInvoiceRecord(now time.Time) InvoiceRecord {
	return InvoiceRecord{
		Currency:    DefaultCurrency,
		LineItems:   []LineItem{},
		ProcessedAt: now,
	}
}

// StringValue dereferences an optional text field
func StringValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
