package notify

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/smtp"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/docflowhq/docflow/constants"
	"github.com/docflowhq/docflow/internal/common"
	"github.com/docflowhq/docflow/internal/metrics"
	"github.com/docflowhq/docflow/internal/repository"
)

// Message is one outbound notification, already resolved from job payload.
type Message struct {
	DeliveryLogID uuid.UUID
	Recipients    []string
	Subject       string
	Body          string
	Attachments   []string
	Provider      string
	Settings      map[string]string
}

// ProviderError carries the provider's response for classification.
type ProviderError struct {
	Code    int
	Message string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider error %d: %s", e.Code, e.Message)
}

// Provider delivers a message to its recipients.
type Provider interface {
	Name() string
	Send(ctx context.Context, msg *Message) error
}

// SMTPProvider delivers via a plain SMTP relay using net/smtp.
type SMTPProvider struct {
	Host string
	Port int
	User string
	Pass string
	From string
}

func (p *SMTPProvider) Name() string { return "smtp" }

func (p *SMTPProvider) Send(_ context.Context, msg *Message) error {
	addr := fmt.Sprintf("%s:%d", p.Host, p.Port)
	var auth smtp.Auth
	if p.User != "" {
		auth = smtp.PlainAuth("", p.User, p.Pass, p.Host)
	}
	body, err := buildMIME(p.From, msg)
	if err != nil {
		return fmt.Errorf("build message: %w", err)
	}
	if err := smtp.SendMail(addr, auth, p.From, msg.Recipients, body); err != nil {
		return &ProviderError{Code: smtpCode(err.Error()), Message: err.Error()}
	}
	return nil
}

// buildMIME renders the message, as multipart/mixed when attachments are
// present. Attachment paths are read at send time so a routed file can be
// attached after it reached its final location.
func buildMIME(from string, msg *Message) ([]byte, error) {
	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(msg.Recipients, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", msg.Subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	if len(msg.Attachments) == 0 {
		b.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
		b.WriteString(msg.Body)
		return b.Bytes(), nil
	}

	w := multipart.NewWriter(&b)
	fmt.Fprintf(&b, "Content-Type: multipart/mixed; boundary=%s\r\n\r\n", w.Boundary())

	text, err := w.CreatePart(textproto.MIMEHeader{
		"Content-Type": {"text/plain; charset=utf-8"},
	})
	if err != nil {
		return nil, err
	}
	if _, err := text.Write([]byte(msg.Body)); err != nil {
		return nil, err
	}

	for _, path := range msg.Attachments {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read attachment: %w", err)
		}
		part, err := w.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {"application/octet-stream"},
			"Content-Transfer-Encoding": {"base64"},
			"Content-Disposition":       {fmt.Sprintf("attachment; filename=%q", filepath.Base(path))},
		})
		if err != nil {
			return nil, err
		}
		enc := base64.NewEncoder(base64.StdEncoding, part)
		if _, err := enc.Write(data); err != nil {
			return nil, err
		}
		if err := enc.Close(); err != nil {
			return nil, err
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

// smtpCode pulls the leading 3-digit reply code out of a net/smtp error
// string ("550 5.1.1 mailbox not found"). Zero when absent.
func smtpCode(s string) int {
	s = strings.TrimSpace(s)
	if i := strings.LastIndex(s, ": "); i >= 0 {
		s = s[i+2:]
	}
	if len(s) < 3 {
		return 0
	}
	code := 0
	for _, r := range s[:3] {
		if r < '0' || r > '9' {
			return 0
		}
		code = code*10 + int(r-'0')
	}
	return code
}

// Sender pushes messages through the rate limiter and provider, updating the
// delivery log. Designed to run inside an email queue job: a temporary
// failure returns a plain error (the queue retries with backoff), a
// permanent one returns an unrecoverable error (dead-letter, no retry).
type Sender struct {
	Provider Provider
	Limiter  *Limiter
	Logs     repository.DeliveryLogStore
	Logger   *slog.Logger
}

func (s *Sender) Send(ctx context.Context, msg *Message) error {
	log := s.Logger.With("delivery_log_id", msg.DeliveryLogID, "provider", s.Provider.Name())

	// Retried jobs must never double-send.
	rec, err := s.Logs.Get(ctx, msg.DeliveryLogID)
	if err != nil {
		return fmt.Errorf("load delivery log: %w", err)
	}
	if rec.Status == constants.DeliverySent {
		log.Info("delivery already sent, skipping")
		return nil
	}
	if rec.Status == constants.DeliveryFailedPermanent {
		return common.Unrecoverablef("delivery %s already failed permanently: %s", msg.DeliveryLogID, rec.Reason)
	}

	if err := s.Limiter.Acquire(ctx, s.Provider.Name()); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	if err := s.Provider.Send(ctx, msg); err != nil {
		code, text := 0, err.Error()
		var perr *ProviderError
		if errors.As(err, &perr) {
			code, text = perr.Code, perr.Message
		}
		class := Classify(code, text)
		metrics.DeliveryFailures.WithLabelValues(string(class)).Inc()
		switch class {
		case ClassPermanent:
			if merr := s.Logs.MarkFailedPermanent(ctx, msg.DeliveryLogID, text); merr != nil {
				log.Error("mark failed-permanent failed", "error", merr)
			}
			log.Error("delivery failed permanently", "code", code, "error", text)
			return common.Unrecoverable(err)
		case ClassRateLimited:
			log.Warn("delivery rate limited", "code", code, "error", text)
			return fmt.Errorf("%w: %w", common.ErrRateLimited, err)
		default:
			log.Warn("delivery failed, will retry", "code", code, "error", text)
			return err
		}
	}

	if err := s.Logs.MarkSent(ctx, msg.DeliveryLogID); err != nil {
		return fmt.Errorf("mark sent: %w", err)
	}
	log.Info("delivery sent", "recipients", len(msg.Recipients))
	return nil
}
