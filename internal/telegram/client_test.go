package telegram

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"remindline/internal/domain"
	"remindline/internal/files"
)

func TestGetUpdatesSendsOffsetAndTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/getUpdates", r.URL.Path)
		assert.Equal(t, "42", r.URL.Query().Get("offset"))
		assert.Equal(t, "30", r.URL.Query().Get("timeout"))
		io.WriteString(w, `{"ok":true,"result":[{"update_id":42,"message":{"message_id":1,"chat":{"id":7,"username":"ann","first_name":"Ann"},"text":"/start"}}]}`)
	}))
	defer srv.Close()

	c := NewClient("TOKEN", srv.URL)
	updates, err := c.GetUpdates(context.Background(), 42, 30*time.Second)
	require.NoError(t, err)
	require.Len(t, updates, 1)
	assert.Equal(t, int64(42), updates[0].UpdateID)
	assert.Equal(t, "/start", updates[0].Message.Text)
	assert.Equal(t, "Ann", updates[0].Message.Chat.DisplayName())
}

func TestGetUpdatesConflict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		io.WriteString(w, `{"ok":false,"description":"Conflict"}`)
	}))
	defer srv.Close()

	_, err := NewClient("TOKEN", srv.URL).GetUpdates(context.Background(), 0, time.Second)
	require.ErrorIs(t, err, ErrConflict)
	require.ErrorIs(t, err, domain.ErrTransport)
}

func TestSendMessageUsesMarkdown(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		io.WriteString(w, `{"ok":true,"result":{"message_id":5,"chat":{"id":7}}}`)
	}))
	defer srv.Close()

	require.NoError(t, NewClient("TOKEN", srv.URL).SendMessage(context.Background(), 7, "*hi*"))
	assert.Equal(t, "Markdown", got["parse_mode"])
	assert.Equal(t, float64(7), got["chat_id"])
}

func TestSendMessageAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"ok":false,"description":"chat not found"}`)
	}))
	defer srv.Close()

	err := NewClient("TOKEN", srv.URL).SendMessage(context.Background(), 7, "hi")
	require.ErrorIs(t, err, domain.ErrTransport)
	assert.Contains(t, err.Error(), "chat not found")
}

func TestChannelSendsAttachmentAsDocument(t *testing.T) {
	store, err := files.NewDisk(t.TempDir())
	require.NoError(t, err)
	fd, err := store.Put(context.Background(), "notes.txt", stringsReader("payload"))
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendDocument", r.URL.Path)
		assert.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "9", r.FormValue("chat_id"))
		f, hdr, err := r.FormFile("document")
		if !assert.NoError(t, err) {
			return
		}
		defer f.Close()
		body, _ := io.ReadAll(f)
		assert.Equal(t, "notes.txt", hdr.Filename)
		assert.Equal(t, "payload", string(body))
		io.WriteString(w, `{"ok":true,"result":{"message_id":1,"chat":{"id":9}}}`)
	}))
	defer srv.Close()

	ch := NewChannel(NewClient("TOKEN", srv.URL), store)
	require.NoError(t, ch.SendAttachment(context.Background(), 9, fd))
}
