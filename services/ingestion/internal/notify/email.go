package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/csv"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"jobwatch/common/telemetry"
	"jobwatch/services/ingestion/internal/errors"
	"jobwatch/services/ingestion/internal/models"

	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/zalando/go-keyring"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

var tracer = telemetry.GetTracer("jobwatch/ingestion/notify")

// KeyringService groups the SMTP password in the OS keychain.
const KeyringService = "jobwatch"

const AttachmentName = "new_jobs.csv"

var csvColumns = []string{"Title", "Company", "Location", "Date Posted", "Job URL"}

type EmailConfig struct {
	Host           string
	Port           int
	Sender         string
	Password       string
	Recipient      string
	KeyringAccount string
	// Timeout bounds the whole SMTP exchange. It defaults to 30s.
	Timeout time.Duration
}

type sendFunc func(ctx context.Context, addr string, auth sasl.Client, from string, to []string, msg []byte) error

// Email sends one message per term with the listings attached as CSV.
// Delivery upgrades to TLS with STARTTLS before authenticating.
type Email struct {
	cfg    EmailConfig
	send   sendFunc
	now    func() time.Time
	logger *zap.Logger
}

func NewEmail(logger *zap.Logger, cfg EmailConfig) (*Email, error) {
	if cfg.Sender == "" || cfg.Recipient == "" {
		return nil, errors.Config("email notifier needs SENDER_EMAIL and RECIPIENT_EMAIL", nil)
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	e := &Email{cfg: cfg, now: time.Now, logger: logger}
	e.send = e.deliver
	return e, nil
}

func Subject(term string) string {
	return fmt.Sprintf("New Job Listings Found for %s!", term)
}

func Body(term string, n int) string {
	return fmt.Sprintf("%d new jobs were found for the search term '%s'.", n, term)
}

func (e *Email) Notify(ctx context.Context, term string, listings []models.Listing) error {
	ctx, span := tracer.Start(ctx, "Email.Notify")
	defer span.End()
	span.SetAttributes(
		telemetry.String("search.term", term),
		telemetry.Int("listings.count", len(listings)),
	)

	msg, err := e.Compose(term, listings)
	if err != nil {
		telemetry.RecordError(span, err)
		return err
	}

	password, err := e.password()
	if err != nil {
		telemetry.RecordError(span, err)
		return err
	}

	addr := net.JoinHostPort(e.cfg.Host, strconv.Itoa(e.cfg.Port))
	auth := sasl.NewPlainClient("", e.cfg.Sender, password)
	if err := e.send(ctx, addr, auth, e.cfg.Sender, []string{e.cfg.Recipient}, msg); err != nil {
		nerr := errors.Notification("sending email for "+term, err)
		telemetry.RecordError(span, nerr)
		return nerr
	}

	e.logger.Info("email sent",
		zap.String("search_term", term),
		zap.String("recipient", e.cfg.Recipient),
		zap.Int("count", len(listings)))
	return nil
}

// deliver runs one SMTP session. The connection deadline is the earlier of
// ctx's deadline and the configured timeout, and cancelling ctx closes the
// connection.
func (e *Email) deliver(ctx context.Context, addr string, auth sasl.Client, from string, to []string, msg []byte) error {
	dialer := net.Dialer{Timeout: e.cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}

	deadline := time.Now().Add(e.cfg.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return multierr.Append(err, conn.Close())
	}
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	c := smtp.NewClient(conn)
	defer c.Close()

	secure := false
	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: e.cfg.Host}); err != nil {
			return fmt.Errorf("starttls: %w", err)
		}
		secure = true
	}
	if auth != nil {
		if !secure {
			return fmt.Errorf("%s does not offer STARTTLS, refusing to send credentials", addr)
		}
		if err := c.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}
	if err := c.SendMail(from, to, bytes.NewReader(msg)); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return c.Quit()
}

func (e *Email) password() (string, error) {
	if account := strings.TrimSpace(e.cfg.KeyringAccount); account != "" {
		pw, err := keyring.Get(KeyringService, account)
		if err == nil && strings.TrimSpace(pw) != "" {
			return pw, nil
		}
		if e.cfg.Password == "" {
			return "", errors.Notification("smtp password not found in keyring for "+account, err)
		}
		e.logger.Debug("keyring lookup failed, using configured password", zap.Error(err))
	}
	if e.cfg.Password == "" {
		return "", errors.Notification("smtp password not configured", nil)
	}
	return e.cfg.Password, nil
}

// Compose builds the MIME message: a plain text summary plus the CSV
// attachment.
func (e *Email) Compose(term string, listings []models.Listing) ([]byte, error) {
	var h mail.Header
	h.SetDate(e.now())
	h.SetAddressList("From", []*mail.Address{{Address: e.cfg.Sender}})
	h.SetAddressList("To", []*mail.Address{{Address: e.cfg.Recipient}})
	h.SetSubject(Subject(term))

	var b bytes.Buffer
	mw, err := mail.CreateWriter(&b, h)
	if err != nil {
		return nil, errors.Notification("creating mail writer", err)
	}

	tw, err := mw.CreateInline()
	if err != nil {
		return nil, errors.Notification("creating mail body", err)
	}
	var th mail.InlineHeader
	th.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	pw, err := tw.CreatePart(th)
	if err != nil {
		return nil, errors.Notification("creating mail body part", err)
	}
	if _, err := io.WriteString(pw, Body(term, len(listings))); err != nil {
		return nil, errors.Notification("writing mail body", err)
	}
	if err := pw.Close(); err != nil {
		return nil, errors.Notification("closing mail body part", err)
	}
	if err := tw.Close(); err != nil {
		return nil, errors.Notification("closing mail body", err)
	}

	var ah mail.AttachmentHeader
	ah.SetContentType("text/csv", map[string]string{"charset": "utf-8"})
	ah.SetFilename(AttachmentName)
	aw, err := mw.CreateAttachment(ah)
	if err != nil {
		return nil, errors.Notification("creating attachment", err)
	}
	if err := WriteCSV(aw, listings); err != nil {
		return nil, errors.Notification("writing attachment", err)
	}
	if err := aw.Close(); err != nil {
		return nil, errors.Notification("closing attachment", err)
	}

	if err := mw.Close(); err != nil {
		return nil, errors.Notification("finishing mail", err)
	}
	return b.Bytes(), nil
}

// WriteCSV writes the listings with the attachment's column set.
func WriteCSV(w io.Writer, listings []models.Listing) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvColumns); err != nil {
		return err
	}
	for _, l := range listings {
		if err := cw.Write([]string{l.Title, l.Company, l.Location, l.DatePosted, l.JobURL}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
