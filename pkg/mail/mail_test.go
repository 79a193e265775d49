package mail

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAddress(t *testing.T) {
	name, addr := ParseAddress("Centro de Desarrollo Profesional CDP <documentos@capacitacionescdp.com>")
	assert.Equal(t, "Centro de Desarrollo Profesional CDP", name)
	assert.Equal(t, "documentos@capacitacionescdp.com", addr)

	name, addr = ParseAddress(" ops@example.com ")
	assert.Empty(t, name)
	assert.Equal(t, "ops@example.com", addr)
}

func TestNewSelectsProvider(t *testing.T) {
	tr, err := New(Config{})
	require.NoError(t, err)
	assert.IsType(t, &SMTP2GO{}, tr)

	tr, err = New(Config{Provider: "SendGrid"})
	require.NoError(t, err)
	assert.IsType(t, &SendGrid{}, tr)

	_, err = New(Config{Provider: "pigeon"})
	assert.Error(t, err)
}

func TestSMTP2GOSendsPayload(t *testing.T) {
	var got smtp2goRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"succeeded":1,"failed":0,"failures":[]}}`))
	}))
	defer srv.Close()

	tr := NewSMTP2GO(Config{APIKey: "key", APIURL: srv.URL, Sender: "CDP <docs@cdp.test>", Timeout: time.Second})
	err := tr.Send(context.Background(), Message{
		To:       "ana@example.com",
		Subject:  "Hola",
		HTMLBody: "<p>Hola Ana</p>",
		Attachments: []Attachment{
			{Filename: "certificado.pdf", ContentType: "application/pdf", Content: []byte("%PDF-1.4")},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "key", got.APIKey)
	assert.Equal(t, "CDP <docs@cdp.test>", got.Sender)
	assert.Equal(t, []string{"ana@example.com"}, got.To)
	require.Len(t, got.Attachments, 1)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("%PDF-1.4")), got.Attachments[0].Fileblob)
	assert.Equal(t, "application/pdf", got.Attachments[0].Mimetype)
}

func TestSMTP2GOReportsFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"succeeded":0,"failed":1,"failures":["mailbox unavailable"]}}`))
	}))
	defer srv.Close()

	err := NewSMTP2GO(Config{APIKey: "key", APIURL: srv.URL, Timeout: time.Second}).
		Send(context.Background(), Message{To: "x@example.com"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mailbox unavailable")
}

func TestSMTP2GOReportsHTTPStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte("invalid key"))
	}))
	defer srv.Close()

	err := NewSMTP2GO(Config{APIKey: "key", APIURL: srv.URL, Timeout: time.Second}).
		Send(context.Background(), Message{To: "x@example.com"})
	require.Error(t, err)
	assert.Equal(t, "HTTP 401: invalid key", err.Error())
}

func TestTransportsRequireAPIKey(t *testing.T) {
	err := NewSMTP2GO(Config{}).Send(context.Background(), Message{To: "x@example.com"})
	assert.ErrorIs(t, err, ErrNotConfigured)

	err = NewSendGrid(Config{}).Send(context.Background(), Message{To: "x@example.com"})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestSendGridPostsToConfiguredHost(t *testing.T) {
	var path, auth string
	var body map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	tr := NewSendGrid(Config{APIKey: "sg-key", APIURL: srv.URL, Sender: "CDP <docs@cdp.test>"})
	err := tr.Send(context.Background(), Message{
		To:       "ana@example.com",
		ToName:   "Ana Ruiz",
		Subject:  "Certificado",
		HTMLBody: "<p>Adjunto</p>",
		Attachments: []Attachment{
			{Filename: "certificado.pdf", ContentType: "application/pdf", Content: []byte("pdf")},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "/v3/mail/send", path)
	assert.Equal(t, "Bearer sg-key", auth)
	assert.Equal(t, "Certificado", body["subject"])
	assert.Len(t, body["attachments"], 1)
}
