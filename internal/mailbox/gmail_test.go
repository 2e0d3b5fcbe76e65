package mailbox

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

type fakeGmail struct {
	mu       sync.Mutex
	queries  []string
	modified []string
}

func (f *fakeGmail) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/gmail/v1/users/me/messages", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query().Get("q")
		f.mu.Lock()
		f.queries = append(f.queries, q)
		f.mu.Unlock()

		var resp map[string]any
		switch {
		case strings.Contains(q, `subject:"factura"`) && r.URL.Query().Get("pageToken") == "":
			resp = map[string]any{"messages": []map[string]string{{"id": "m1"}}, "nextPageToken": "p2"}
		case strings.Contains(q, `subject:"factura"`):
			resp = map[string]any{"messages": []map[string]string{{"id": "m2"}}}
		case strings.Contains(q, `subject:"comprobante"`):
			resp = map[string]any{"messages": []map[string]string{{"id": "m2"}, {"id": "m3"}}}
		default:
			resp = map[string]any{}
		}
		json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("/gmail/v1/users/me/messages/m1", func(w http.ResponseWriter, r *http.Request) {
		raw := base64.URLEncoding.EncodeToString([]byte("Subject: factura\r\n\r\nhola"))
		json.NewEncoder(w).Encode(map[string]string{"id": "m1", "raw": raw})
	})
	mux.HandleFunc("/gmail/v1/users/me/messages/m1/modify", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			RemoveLabelIds []string `json:"removeLabelIds"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		f.mu.Lock()
		f.modified = append(f.modified, req.RemoveLabelIds...)
		f.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]string{"id": "m1"})
	})
	mux.HandleFunc("/gmail/v1/users/me/messages/gone", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":{"code":404,"message":"Requested entity was not found."}}`))
	})
	return mux
}

func connectedGmail(t *testing.T, fake *fakeGmail) *GmailClient {
	t.Helper()
	srv := httptest.NewServer(fake.handler())
	t.Cleanup(srv.Close)

	c := NewGmailClient("", "", "", "", WithGmailClientOptions(
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()),
	))
	require.NoError(t, c.Connect(context.Background()))
	return c
}

func TestGmailSearchUnionWithPaging(t *testing.T) {
	fake := &fakeGmail{}
	c := connectedGmail(t, fake)

	ids, err := c.Search(context.Background(), []string{"UNSEEN"}, []string{"factura", "comprobante"})
	require.NoError(t, err)
	assert.Equal(t, []string{"m1", "m2", "m3"}, ids)
	assert.Contains(t, fake.queries, `is:unread subject:"factura"`)
	assert.Contains(t, fake.queries, `is:unread subject:"comprobante"`)
}

func TestGmailFetchAndMarkRead(t *testing.T) {
	fake := &fakeGmail{}
	c := connectedGmail(t, fake)

	raw, err := c.Fetch(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, "Subject: factura\r\n\r\nhola", string(raw))

	require.NoError(t, c.MarkRead(context.Background(), "m1"))
	assert.Equal(t, []string{"UNREAD"}, fake.modified)

	_, err = c.Fetch(context.Background(), "gone")
	assert.ErrorIs(t, err, ErrMessageNotFound)
}

func TestGmailNotConnected(t *testing.T) {
	c := NewGmailClient("id", "secret", "token", "")
	_, err := c.Search(context.Background(), nil, nil)
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.ErrorIs(t, c.MarkRead(context.Background(), "x"), ErrNotConnected)
}

func TestBuildGmailQuery(t *testing.T) {
	q, err := BuildGmailQuery([]string{"UNSEEN"}, "factura electronica")
	require.NoError(t, err)
	assert.Equal(t, `is:unread subject:"factura electronica"`, q)

	q, err = BuildGmailQuery([]string{"ALL", "FROM", "ventas@siga.com.py", "ON", "15-Mar-2024"}, "")
	require.NoError(t, err)
	assert.Equal(t, `from:"ventas@siga.com.py" after:2024/03/15 before:2024/03/16`, q)

	q, err = BuildGmailQuery(nil, "")
	require.NoError(t, err)
	assert.Empty(t, q)

	_, err = BuildGmailQuery([]string{"ANSWERED"}, "")
	assert.Error(t, err)
}
