package services

import (
	"fmt"
	"log"
	"net/smtp"
	"strings"
	"sync"

	"Gin_postgres_redis_loan_manager/config"
	"Gin_postgres_redis_loan_manager/metrics"
)

// Email is one outgoing HTML message.
type Email struct {
	To      string
	Subject string
	HTML    string
}

type Mailer interface {
	Send(e Email) error
}

// SMTPMailer sends through net/smtp with PLAIN auth.
type SMTPMailer struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	AppName  string
}

func NewSMTPMailer(cfg config.Config) *SMTPMailer {
	return &SMTPMailer{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		AppName:  cfg.AppName,
	}
}

// Configured is false in development: mails are then only logged.
func (m *SMTPMailer) Configured() bool {
	return m.Host != "" && (m.Username != "" || m.From != "")
}

func (m *SMTPMailer) Send(e Email) error {
	if !m.Configured() {
		log.Printf("[DEV] mail to %s: %s", e.To, e.Subject)
		return nil
	}
	from := m.From
	if from == "" {
		from = m.Username
	}
	msg := buildMIME(m.AppName, from, e.To, e.Subject, e.HTML)
	var auth smtp.Auth
	if m.Username != "" {
		auth = smtp.PlainAuth("", m.Username, m.Password, m.Host)
	}
	return smtp.SendMail(m.Host+":"+m.Port, auth, from, []string{e.To}, []byte(msg))
}

func buildMIME(fromName, fromAddr, to, subject, html string) string {
	headers := []string{
		fmt.Sprintf("From: %s <%s>", fromName, fromAddr),
		fmt.Sprintf("To: %s", to),
		fmt.Sprintf("Subject: %s", subject),
		"MIME-Version: 1.0",
		"Content-Type: text/html; charset=UTF-8",
	}
	return strings.Join(headers, "\r\n") + "\r\n\r\n" + html
}

// EmailDispatcher delivers mail on a fixed pool of workers. Enqueue never
// blocks: when the queue is full the mail is dropped.
type EmailDispatcher struct {
	queue   chan Email
	mailer  Mailer
	metrics *metrics.Metrics
	wg      sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

func NewEmailDispatcher(mailer Mailer, workers, queueSize int, m *metrics.Metrics) *EmailDispatcher {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 100
	}
	d := &EmailDispatcher{queue: make(chan Email, queueSize), mailer: mailer, metrics: m}
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.worker(i)
	}
	return d
}

func (d *EmailDispatcher) worker(id int) {
	defer d.wg.Done()
	for e := range d.queue {
		if err := d.mailer.Send(e); err != nil {
			log.Printf("mail worker #%d: send to %s failed: %v", id, e.To, err)
			d.dropped()
		}
	}
}

func (d *EmailDispatcher) Enqueue(e Email) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.dropped()
		return false
	}
	select {
	case d.queue <- e:
		return true
	default:
		log.Printf("mail queue full, dropping mail to %s", e.To)
		d.dropped()
		return false
	}
}

func (d *EmailDispatcher) dropped() {
	if d.metrics != nil {
		d.metrics.EmailsDropped.Inc()
	}
}

// Shutdown stops accepting mail and waits for the queue to drain.
func (d *EmailDispatcher) Shutdown() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()
	d.wg.Wait()
}
