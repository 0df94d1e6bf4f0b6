package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"jobwatch/common/events"
	"jobwatch/services/ingestion/internal/errors"
	"jobwatch/services/ingestion/internal/models"

	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

var sample = []models.Listing{
	{Title: "Go Developer", Company: "ACME", Location: "Berlin", DatePosted: "2024-05-01", JobURL: "https://a/1"},
	{Title: "SRE, Platform", Company: "Initech", Location: "Remote", DatePosted: "2024-05-02", JobURL: "https://i/2"},
}

func TestWriteCSV(t *testing.T) {
	var b bytes.Buffer
	require.NoError(t, WriteCSV(&b, sample))
	assert.Equal(t,
		"Title,Company,Location,Date Posted,Job URL\n"+
			"Go Developer,ACME,Berlin,2024-05-01,https://a/1\n"+
			"\"SRE, Platform\",Initech,Remote,2024-05-02,https://i/2\n",
		b.String())
}

func newTestEmail(t *testing.T) *Email {
	e, err := NewEmail(zaptest.NewLogger(t), EmailConfig{
		Host:      "smtp.example.com",
		Port:      587,
		Sender:    "bot@example.com",
		Password:  "secret",
		Recipient: "me@example.com",
	})
	require.NoError(t, err)
	e.now = func() time.Time { return time.Date(2024, 5, 3, 9, 0, 0, 0, time.UTC) }
	return e
}

func TestEmail_Compose(t *testing.T) {
	e := newTestEmail(t)

	raw, err := e.Compose("golang", sample)
	require.NoError(t, err)

	mr, err := mail.CreateReader(bytes.NewReader(raw))
	require.NoError(t, err)

	subject, err := mr.Header.Subject()
	require.NoError(t, err)
	assert.Equal(t, "New Job Listings Found for golang!", subject)

	to, err := mr.Header.AddressList("To")
	require.NoError(t, err)
	require.Len(t, to, 1)
	assert.Equal(t, "me@example.com", to[0].Address)

	var body, attachment, filename string
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		data, err := io.ReadAll(p.Body)
		require.NoError(t, err)

		switch h := p.Header.(type) {
		case *mail.InlineHeader:
			body = string(data)
		case *mail.AttachmentHeader:
			filename, _ = h.Filename()
			attachment = string(data)
		}
	}

	assert.Equal(t, "2 new jobs were found for the search term 'golang'.", body)
	assert.Equal(t, AttachmentName, filename)
	var want bytes.Buffer
	require.NoError(t, WriteCSV(&want, sample))
	assert.Equal(t, want.String(), attachment)
}

func TestEmail_Notify(t *testing.T) {
	e := newTestEmail(t)

	var gotAddr, gotFrom string
	var gotTo []string
	var gotMsg []byte
	e.send = func(_ context.Context, addr string, _ sasl.Client, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotMsg = addr, from, to, msg
		return nil
	}

	require.NoError(t, e.Notify(context.Background(), "golang", sample))
	assert.Equal(t, "smtp.example.com:587", gotAddr)
	assert.Equal(t, "bot@example.com", gotFrom)
	assert.Equal(t, []string{"me@example.com"}, gotTo)
	assert.Contains(t, string(gotMsg), "new_jobs.csv")

	e.send = func(context.Context, string, sasl.Client, string, []string, []byte) error { return assert.AnError }
	err := e.Notify(context.Background(), "golang", sample)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeNotification))
}

// stalledSMTP accepts connections and never sends a greeting.
func stalledSMTP(t *testing.T) (host string, port int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	var conns []net.Conn
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			conns = append(conns, c)
		}
	}()
	t.Cleanup(func() {
		ln.Close()
		<-done
		for _, c := range conns {
			c.Close()
		}
	})

	addr := ln.Addr().(*net.TCPAddr)
	return addr.IP.String(), addr.Port
}

func TestEmail_NotifyHonorsContext(t *testing.T) {
	host, port := stalledSMTP(t)
	e := newTestEmail(t)
	e.cfg.Host, e.cfg.Port = host, port
	e.cfg.Timeout = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := e.Notify(ctx, "golang", sample)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeNotification))
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestEmail_NotifyTimesOut(t *testing.T) {
	host, port := stalledSMTP(t)
	e := newTestEmail(t)
	e.cfg.Host, e.cfg.Port = host, port
	e.cfg.Timeout = 100 * time.Millisecond

	start := time.Now()
	err := e.Notify(context.Background(), "golang", sample)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeNotification))
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestEmail_PasswordFromKeyring(t *testing.T) {
	keyring.MockInit()
	require.NoError(t, keyring.Set(KeyringService, "smtp:bot@example.com", "from-keyring"))

	e := newTestEmail(t)
	e.cfg.Password = ""
	e.cfg.KeyringAccount = "smtp:bot@example.com"

	pw, err := e.password()
	require.NoError(t, err)
	assert.Equal(t, "from-keyring", pw)

	e.cfg.KeyringAccount = "smtp:missing"
	_, err = e.password()
	assert.True(t, errors.IsType(err, errors.ErrTypeNotification))
}

func TestNewEmail_RequiresAddresses(t *testing.T) {
	_, err := NewEmail(zap.NewNop(), EmailConfig{Sender: "bot@example.com"})
	assert.True(t, errors.IsType(err, errors.ErrTypeConfig))
}

func TestTelegramText(t *testing.T) {
	text := TelegramText("go <dev>", sample)
	assert.True(t, strings.HasPrefix(text, "<b>2 new jobs for 'go &lt;dev&gt;'</b>\n"))
	assert.Contains(t, text, `<a href="https://a/1">Go Developer</a> at ACME (Berlin)`)

	many := make([]models.Listing, telegramMaxListings+5)
	assert.Contains(t, TelegramText("x", many), "…and 5 more")
}

func TestTelegram_Notify(t *testing.T) {
	var sent map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/getMe"):
			fmt.Fprint(w, `{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"jobwatch","username":"jobwatch_bot"}}`)
		case strings.HasSuffix(r.URL.Path, "/sendMessage"):
			assert.NoError(t, r.ParseForm())
			sent = map[string]string{
				"chat_id":    r.PostForm.Get("chat_id"),
				"parse_mode": r.PostForm.Get("parse_mode"),
				"text":       r.PostForm.Get("text"),
			}
			fmt.Fprint(w, `{"ok":true,"result":{"message_id":7,"date":0,"chat":{"id":42,"type":"private"}}}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	bot, err := tgbotapi.NewBotAPIWithClient("token", srv.URL+"/bot%s/%s", srv.Client())
	require.NoError(t, err)

	n := NewTelegramWithBot(zaptest.NewLogger(t), bot, 42)
	require.NoError(t, n.Notify(context.Background(), "golang", sample))

	assert.Equal(t, "42", sent["chat_id"])
	assert.Equal(t, "HTML", sent["parse_mode"])
	assert.Contains(t, sent["text"], "2 new jobs for 'golang'")
}

type fakePublisher struct {
	events []events.ListingsFound
	err    error
}

func (f *fakePublisher) PublishListings(ctx context.Context, e events.ListingsFound) error {
	f.events = append(f.events, e)
	return f.err
}

func TestEvents_Notify(t *testing.T) {
	pub := &fakePublisher{}
	n := NewEvents(pub)
	at := time.Date(2024, 5, 3, 9, 0, 0, 0, time.UTC)
	n.now = func() time.Time { return at }

	require.NoError(t, n.Notify(context.Background(), "golang", sample))
	require.Len(t, pub.events, 1)

	e := pub.events[0]
	assert.Equal(t, "golang", e.SearchTerm)
	assert.Equal(t, at, e.FoundAt)
	require.Len(t, e.Listings, 2)
	assert.Equal(t, sample[0].Identity().Key(), e.Listings[0].Key)
	assert.Equal(t, "Initech", e.Listings[1].Company)
}

type funcNotifier func() error

func (f funcNotifier) Notify(context.Context, string, []models.Listing) error { return f() }

func TestMulti_Notify(t *testing.T) {
	var calls int
	ok := funcNotifier(func() error { calls++; return nil })
	bad := funcNotifier(func() error { calls++; return assert.AnError })

	require.NoError(t, Multi{ok, ok}.Notify(context.Background(), "x", sample))
	assert.Equal(t, 2, calls)

	calls = 0
	err := Multi{bad, ok, bad}.Notify(context.Background(), "x", sample)
	require.Error(t, err)
	assert.Equal(t, 3, calls, "a failing notifier does not stop the others")
	assert.True(t, errors.IsType(err, errors.ErrTypeNotification))
	assert.ErrorIs(t, err, assert.AnError)
}
