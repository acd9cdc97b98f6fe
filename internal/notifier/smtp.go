package notifier

import (
	"context"
	"fmt"
	"log"
	"net/smtp"
	"time"

	"golang.org/x/time/rate"

	"github.com/backupwatch/server/internal/store"
)

// SMTPConfig configures the SMTP sink (spec.md §6.3).
type SMTPConfig struct {
	Host      string
	Port      string
	Username  string
	Password  string
	Sender    string
	Recipient string

	// RateLimitPerMinute caps outbound messages; a flapping job must not
	// flood the admin mailbox. Zero disables the limit.
	RateLimitPerMinute float64
}

// SMTP is a Notifier that sends one email per adverse entry, throttled
// by a token-bucket limiter (grounded on the teacher's per-IP API
// limiter, repurposed here as a single global send-rate limiter).
type SMTP struct {
	cfg     SMTPConfig
	limiter *rate.Limiter
}

// NewSMTP returns an SMTP sink. If cfg.Recipient or cfg.Host is empty
// the sink silently discards every notification, matching spec.md
// §4.9's "degrade gracefully when unconfigured."
func NewSMTP(cfg SMTPConfig) *SMTP {
	var limiter *rate.Limiter
	if cfg.RateLimitPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitPerMinute/60.0), int(cfg.RateLimitPerMinute))
	}
	return &SMTP{cfg: cfg, limiter: limiter}
}

func (s *SMTP) Notify(ctx context.Context, job store.ExpectedJob, entry store.BackupEntry) {
	if s.cfg.Host == "" || s.cfg.Recipient == "" {
		return
	}
	if s.limiter != nil && !s.limiter.Allow() {
		log.Printf("[notifier] rate-limited, dropping alert for job %s", job.ID)
		return
	}

	subject := fmt.Sprintf("[backupwatch] %s/%s -> %s", job.AgentID(), job.DatabaseName, entry.Status)
	body := fmt.Sprintf("Job: %s\nAgent: %s\nDatabase: %s\nStatus: %s\nTime: %s\nMessage: %s\n",
		job.ID, job.AgentID(), job.DatabaseName, entry.Status, entry.Timestamp.Format(time.RFC3339), entry.Message)

	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s", s.cfg.Sender, s.cfg.Recipient, subject, body)

	addr := s.cfg.Host + ":" + s.cfg.Port
	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}
	if err := smtp.SendMail(addr, auth, s.cfg.Sender, []string{s.cfg.Recipient}, []byte(msg)); err != nil {
		log.Printf("[notifier] send failed for job %s: %v", job.ID, err)
	}
}
