package smtpmail

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"marginAutoBot/internal/ports"
)

const dialTimeout = 10 * time.Second

// provider presets for the common mail hosts. Port 465 uses implicit TLS,
// port 587 uses STARTTLS.
var providers = map[string]struct {
	host string
	port int
}{
	"gmail":   {"smtp.gmail.com", 465},
	"outlook": {"smtp-mail.outlook.com", 587},
	"yahoo":   {"smtp.mail.yahoo.com", 465},
}

// Emailer sends plain-text notification mails over SMTP. It implements
// ports.Notifier.
type Emailer struct {
	host     string
	port     int
	username string
	password string
	to       string
	logger   ports.Logger
}

// Config holds configuration specific to the SMTP notifier.
type Config struct {
	Provider string // gmail, outlook, yahoo; overrides Host/Port when set
	Host     string
	Port     int
	Username string
	Password string
	To       string
	Logger   ports.Logger
}

// New creates an SMTP notifier. Provider presets win over explicit host and
// port so a one-word configuration works for the common hosts.
func New(cfg Config) (*Emailer, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SMTP notifier")
	}
	host, port := cfg.Host, cfg.Port
	if preset, ok := providers[strings.ToLower(cfg.Provider)]; ok {
		host, port = preset.host, preset.port
	}
	if host == "" {
		return nil, fmt.Errorf("SMTP host is required (or a known provider)")
	}
	if port <= 0 {
		port = 465
	}
	if cfg.Username == "" || cfg.Password == "" {
		return nil, fmt.Errorf("SMTP credentials are required")
	}
	to := cfg.To
	if to == "" {
		to = cfg.Username
	}
	return &Emailer{
		host:     host,
		port:     port,
		username: cfg.Username,
		password: cfg.Password,
		to:       to,
		logger:   cfg.Logger,
	}, nil
}

// Send delivers one plain-text message. Port 465 speaks TLS from the first
// byte; anything else dials plain and upgrades via STARTTLS.
func (e *Emailer) Send(ctx context.Context, subject, body string) error {
	op := "SendMail"
	addr := net.JoinHostPort(e.host, strconv.Itoa(e.port))

	client, err := e.dial(ctx, addr)
	if err != nil {
		return fmt.Errorf("%s: dial %s: %w", op, addr, err)
	}
	defer client.Close()

	auth := smtp.PlainAuth("", e.username, e.password, e.host)
	if err := client.Auth(auth); err != nil {
		return fmt.Errorf("%s: auth: %w", op, err)
	}
	if err := client.Mail(e.username); err != nil {
		return fmt.Errorf("%s: mail from: %w", op, err)
	}
	if err := client.Rcpt(e.to); err != nil {
		return fmt.Errorf("%s: rcpt to: %w", op, err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("%s: data: %w", op, err)
	}
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s\r\n", e.username, e.to, subject, body)
	if _, err := w.Write([]byte(msg)); err != nil {
		return fmt.Errorf("%s: write body: %w", op, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("%s: close body: %w", op, err)
	}
	if err := client.Quit(); err != nil {
		return fmt.Errorf("%s: quit: %w", op, err)
	}

	e.logger.Info(ctx, op+" successful", map[string]interface{}{"to": e.to, "subject": subject})
	return nil
}

func (e *Emailer) dial(ctx context.Context, addr string) (*smtp.Client, error) {
	dialer := &net.Dialer{Timeout: dialTimeout}

	if e.port == 465 {
		conn, err := tls.DialWithDialer(dialer, "tcp", addr, &tls.Config{ServerName: e.host})
		if err != nil {
			return nil, err
		}
		return smtp.NewClient(conn, e.host)
	}

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	client, err := smtp.NewClient(conn, e.host)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: e.host}); err != nil {
			client.Close()
			return nil, err
		}
	}
	return client, nil
}
