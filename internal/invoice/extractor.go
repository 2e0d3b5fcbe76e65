// Package invoice is the boundary to the external document-understanding
// capability and the single place where its output becomes an InvoiceRecord.
package invoice

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"

	"invoice-sync-go/internal/models"
)

// ErrNotConfigured is returned when the extraction endpoint has no credentials
var ErrNotConfigured = errors.New("extraction api key not configured")

// Extractor reads a PDF and returns the raw field map described by Prompt
type Extractor interface {
	Extract(ctx context.Context, pdfPath string, meta models.Metadata) (map[string]any, error)
}

// Prompt lists every field the extraction must return
const Prompt = `Analiza cuidadosamente esta factura y extrae TODOS los siguientes campos (devuelve TODOS los campos, incluso si están vacíos):

1. fecha: Fecha de emisión (formato YYYY-MM-DD)
2. ruc_emisor: RUC del emisor (con guiones)
3. nombre_emisor: Nombre completo de la empresa
4. numero_factura: Número completo (ej: 001-001-0000001)
5. monto_total: Importe total (solo números)
6. iva: Importe total del IVA (solo números)
7. timbrado: Número de timbrado
8. cdc: Código de control CDC
9. ruc_cliente: RUC del cliente (con guiones)
10. nombre_cliente: Nombre completo del cliente
11. email_cliente: Email del cliente
12. condicion_venta: CONTADO o CRÉDITO
13. moneda: Tipo de moneda (ej: PYG)
14. subtotal_exentas: Monto exento de IVA (solo números)
15. subtotal_5: Monto gravado IVA 5% (solo números)
16. subtotal_10: Monto gravado IVA 10% (solo números)
17. actividad_economica: Actividad económica del emisor

Además, extrae la información en formato estructurado:

empresa: {nombre, ruc, direccion, telefono, actividad_economica},
timbrado_data: {nro, fecha_inicio_vigencia, valido_hasta},
factura_data: {contado_nro, fecha, caja_nro, cdc, condicion_venta},
productos: [{articulo, cantidad, precio_unitario, total}],
totales: {cantidad_articulos, subtotal, total_a_pagar, "iva_0%", "iva_5%", "iva_10%", total_iva},
cliente: {nombre, ruc, email}

REGLAS:
- Si no encuentras un valor, devuelve null para texto o 0 para números
- Para montos, devuelve SOLO NÚMEROS sin símbolos ni separadores de miles
- Las fechas deben estar en formato YYYY-MM-DD
- NO omitas ningún campo

Responde SOLO con un objeto JSON, sin explicaciones adicionales.`

var fencedJSON = regexp.MustCompile("(?s)```(?:json)?\\s*\\n(.*?)\\n?```")

// OpenAIExtractor calls an OpenAI-compatible chat-completions endpoint
type OpenAIExtractor struct {
	endpoint string
	apiKey   string
	model    string
	client   *resty.Client
}

// NewOpenAIExtractor creates an extractor. A zero timeout selects two minutes.
func NewOpenAIExtractor(endpoint, apiKey, model string, timeout time.Duration) *OpenAIExtractor {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}

	client := resty.New().
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		SetHeader("Content-Type", "application/json")
	client.OnAfterResponse(func(_ *resty.Client, resp *resty.Response) error {
		return endpointError(resp)
	})

	return &OpenAIExtractor{
		endpoint: endpoint,
		apiKey:   apiKey,
		model:    model,
		client:   client,
	}
}

// endpointError maps a non-2xx reply to an error carrying the API message
func endpointError(resp *resty.Response) error {
	if resp.IsSuccess() {
		return nil
	}
	msg := http.StatusText(resp.StatusCode())
	var parsed chatResponse
	if err := json.Unmarshal(resp.Body(), &parsed); err == nil && parsed.Error != nil && parsed.Error.Message != "" {
		msg = parsed.Error.Message
	}
	return fmt.Errorf("extraction endpoint returned %d: %s", resp.StatusCode(), msg)
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	MaxTokens      int            `json:"max_tokens"`
	Temperature    float64        `json:"temperature"`
	ResponseFormat map[string]any `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type contentPart struct {
	Type string    `json:"type"`
	Text string    `json:"text,omitempty"`
	File *filePart `json:"file,omitempty"`
}

type filePart struct {
	Filename string `json:"filename"`
	FileData string `json:"file_data"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Extract implements Extractor
func (e *OpenAIExtractor) Extract(ctx context.Context, pdfPath string, meta models.Metadata) (map[string]any, error) {
	if e.apiKey == "" {
		return nil, ErrNotConfigured
	}

	data, err := os.ReadFile(pdfPath)
	if err != nil {
		return nil, fmt.Errorf("read pdf: %w", err)
	}

	text := Prompt
	if meta.Sender != "" || meta.Subject != "" {
		text += fmt.Sprintf("\n\nContexto del correo: remitente %q, asunto %q.", meta.Sender, meta.Subject)
	}

	reqBody := chatRequest{
		Model: e.model,
		Messages: []chatMessage{{
			Role: "user",
			Content: []contentPart{
				{Type: "text", Text: text},
				{Type: "file", File: &filePart{
					Filename: filepath.Base(pdfPath),
					FileData: "data:application/pdf;base64," + base64.StdEncoding.EncodeToString(data),
				}},
			},
		}},
		MaxTokens:      2000,
		Temperature:    0.2,
		ResponseFormat: map[string]any{"type": "json_object"},
	}

	var parsed chatResponse
	resp, err := e.client.R().
		SetContext(ctx).
		SetAuthToken(e.apiKey).
		SetBody(reqBody).
		SetResult(&parsed).
		Post(e.endpoint)
	if err != nil {
		return nil, fmt.Errorf("extraction request: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("extraction response has no choices (status %d)", resp.StatusCode())
	}

	fields, err := ParseContent(parsed.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}
	logrus.Debugf("Extraction returned %d fields for %s", len(fields), pdfPath)
	return fields, nil
}

// ParseContent decodes the JSON object in a model reply, stripping code fences
func ParseContent(content string) (map[string]any, error) {
	content = strings.TrimSpace(content)
	if m := fencedJSON.FindStringSubmatch(content); m != nil {
		content = strings.TrimSpace(m[1])
	}

	var fields map[string]any
	dec := json.NewDecoder(strings.NewReader(content))
	dec.UseNumber()
	if err := dec.Decode(&fields); err != nil {
		return nil, fmt.Errorf("decode extraction JSON: %w", err)
	}
	return fields, nil
}
