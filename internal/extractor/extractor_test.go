package extractor

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func crlf(s string) []byte {
	return []byte(strings.ReplaceAll(s, "\n", "\r\n"))
}

const multipartInvoice = `From: =?UTF-8?Q?Facturaci=C3=B3n_SIGA?= <facturas@siga.com.py>
To: cuentas@example.com
Subject: =?UTF-8?B?RmFjdHVyYSBlbGVjdHLDs25pY2E=?=
Date: Tue, 06 May 2025 10:15:00 -0400
MIME-Version: 1.0
Content-Type: multipart/mixed; boundary="outer"

--outer
Content-Type: multipart/alternative; boundary="inner"

--inner
Content-Type: text/plain; charset=utf-8

Descargue su factura en https://cdn.vendor.com.py/docs/F-001.pdf
o en https://facte.siga.com.py/FacturaE/printDE?ruc=80124544-3&cdc=0180124544
--inner
Content-Type: text/html; charset=utf-8

<html><body>
<p><a href="https://facte.siga.com.py/FacturaE/printDE?ruc=80124544-3&amp;cdc=0180124544">VISUALIZAR DOCUMENTO</a></p>
<p><a href="/relative/ver">Ver factura</a></p>
<p><a href="https://vendor.com.py/portal/inv/77">Descargar <b>Factura</b></a></p>
<p><a href="https://vendor.com.py/promo">Ofertas</a></p>
</body></html>
--inner--
--outer
Content-Type: application/pdf; name="F-001.PDF"
Content-Disposition: attachment; filename="F-001.PDF"
Content-Transfer-Encoding: base64

JVBERi0xLjQK
--outer
Content-Type: application/octet-stream
Content-Disposition: attachment; filename="logo.png"
Content-Transfer-Encoding: base64

iVBORw0K
--outer--
`

func TestExtractMultipartInvoice(t *testing.T) {
	e := New()
	msg, err := e.Extract("42", crlf(multipartInvoice))
	require.NoError(t, err)

	assert.Equal(t, "42", msg.ID)
	assert.Equal(t, "Factura electrónica", msg.Subject)
	assert.Equal(t, "Facturación SIGA <facturas@siga.com.py>", msg.Sender)
	require.NotNil(t, msg.Date)
	assert.Equal(t, 2025, msg.Date.Year())

	require.Len(t, msg.Attachments, 1)
	assert.Equal(t, "F-001.PDF", msg.Attachments[0].Filename)
	assert.Equal(t, "application/pdf", msg.Attachments[0].ContentType)
	assert.Equal(t, "%PDF-1.4\n", string(msg.Attachments[0].Data))

	assert.Equal(t, []string{
		"https://cdn.vendor.com.py/docs/F-001.pdf",
		"https://facte.siga.com.py/FacturaE/printDE?ruc=80124544-3&cdc=0180124544",
		"https://vendor.com.py/portal/inv/77",
	}, msg.Links)
}

func TestExtractInlinePDFByContentTypeName(t *testing.T) {
	raw := `From: billing@vendor.com.py
Subject: Comprobante
MIME-Version: 1.0
Content-Type: multipart/mixed; boundary="b"

--b
Content-Type: text/plain

Adjuntamos el comprobante.
--b
Content-Type: application/octet-stream; name="comprobante.pdf"
Content-Transfer-Encoding: base64

JVBERi0xLjcK
--b--
`
	msg, err := New().Extract("7", crlf(raw))
	require.NoError(t, err)

	assert.Equal(t, "billing@vendor.com.py", msg.Sender)
	require.Len(t, msg.Attachments, 1)
	assert.Equal(t, "comprobante.pdf", msg.Attachments[0].Filename)
	assert.Empty(t, msg.Links)
}

func TestExtractUndecodableSubjectFallsBack(t *testing.T) {
	raw := "From: a@b.c\r\nSubject: Factura \xff\xfe 001\r\nContent-Type: text/plain\r\n\r\nsin enlaces\r\n"
	msg, err := New().Extract("9", []byte(raw))
	require.NoError(t, err)
	assert.Contains(t, msg.Subject, "Factura")
	assert.Contains(t, msg.Subject, "001")
	assert.True(t, utf8.ValidString(msg.Subject))
	assert.Nil(t, msg.Date)
}

func TestFindLinksCustomPortal(t *testing.T) {
	e := New(WithPortalHosts("ekuatia.set.gov.py"))
	links := e.FindLinks("ver https://ekuatia.set.gov.py/consultas/qr?nVersion=150&Id=01 y https://facte.siga.com.py/x", false)
	assert.Equal(t, []string{"https://ekuatia.set.gov.py/consultas/qr?nVersion=150&Id=01"}, links)
}

func TestFindLinksCustomKeywords(t *testing.T) {
	e := New(WithKeywords("Obtener Comprobante"))
	links := e.FindLinks(`<a href="https://x.com.py/get?id=1">obtener comprobante</a><a href="https://x.com.py/v">Ver factura</a>`, true)
	assert.Equal(t, []string{"https://x.com.py/get?id=1"}, links)
}

func TestExtractRejectsGarbage(t *testing.T) {
	_, err := New().Extract("1", []byte("not a header line\r\n\r\n"))
	assert.Error(t, err)
}

func TestExtractUnknownCharsetBody(t *testing.T) {
	raw := `From: facturas@vendor.com.py
Subject: Factura F-001
Content-Type: text/plain; charset=unknown-8bit

Su factura: https://cdn.vendor.com.py/docs/F-001.pdf
`
	msg, err := New().Extract("11", crlf(raw))
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, "Factura F-001", msg.Subject)
	assert.Equal(t, []string{"https://cdn.vendor.com.py/docs/F-001.pdf"}, msg.Links)
}

func TestExtractUnknownCharsetPartKeepsLaterParts(t *testing.T) {
	raw := `From: facturas@vendor.com.py
Subject: Factura F-002
MIME-Version: 1.0
Content-Type: multipart/mixed; boundary="b"

--b
Content-Type: text/plain; charset=x-unknown-legacy

Ver https://cdn.vendor.com.py/docs/F-002.pdf
--b
Content-Type: application/pdf
Content-Disposition: attachment; filename="F-002.pdf"
Content-Transfer-Encoding: base64

JVBERi0xLjcK
--b--
`
	msg, err := New().Extract("12", crlf(raw))
	require.NoError(t, err)
	require.Len(t, msg.Attachments, 1)
	assert.Equal(t, "F-002.pdf", msg.Attachments[0].Filename)
	assert.Equal(t, []byte("%PDF-1.7\n"), msg.Attachments[0].Data)
	assert.Equal(t, []string{"https://cdn.vendor.com.py/docs/F-002.pdf"}, msg.Links)
}
