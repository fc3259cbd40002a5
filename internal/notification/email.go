package notification

import (
	"bytes"
	"context"
	"fmt"
	"net/smtp"
	"strings"
	"text/template"
	"time"

	"github.com/smukkama/awair-bridge/internal/protocol"
	"github.com/smukkama/awair-bridge/pkg/config"
)

var metricNames = map[string]string{
	"co2":  "Carbon dioxide",
	"voc":  "Volatile organic compounds",
	"pm25": "PM2.5",
}

var metricUnits = map[string]string{
	"co2":  "ppm",
	"voc":  "µg/m³",
	"pm25": "µg/m³",
}

const detectedTemplate = `
Air Quality Alert
=================

Device: {{.Device.Name}} ({{.Device.Serial}}, {{.Device.Type}})
Metric: {{.MetricName}}
Current Value: {{printf "%.1f" .Value}} {{.Unit}}
Alert Level: {{printf "%.1f" .On}} {{.Unit}}
Clear Level: {{printf "%.1f" .Off}} {{.Unit}}
Detected At: {{.When}}
Event ID: {{.EventID}}

{{.MetricName}} at {{.Device.Name}} reached {{printf "%.1f" .Value}} {{.Unit}}.
The alert stays active until the value falls to {{printf "%.1f" .Off}} {{.Unit}} or below.

---
Awair Bridge
`

const clearedTemplate = `
Air Quality Alert Cleared
=========================

Device: {{.Device.Name}} ({{.Device.Serial}}, {{.Device.Type}})
Metric: {{.MetricName}}
Current Value: {{printf "%.1f" .Value}} {{.Unit}}
Cleared At: {{.When}}
Event ID: {{.EventID}}

{{.MetricName}} at {{.Device.Name}} is back to normal.

---
Awair Bridge
`

var (
	detected = template.Must(template.New("detected").Parse(detectedTemplate))
	cleared  = template.Must(template.New("cleared").Parse(clearedTemplate))
)

// Sender delivers a rendered message. The default sender is net/smtp.
type Sender func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error

// EmailNotifier sends email notifications for air quality alerts
type EmailNotifier struct {
	config *config.SMTPConfig
	send   Sender
}

// NewEmailNotifier creates a new email notifier
func NewEmailNotifier(cfg *config.SMTPConfig) *EmailNotifier {
	return &EmailNotifier{config: cfg, send: smtp.SendMail}
}

// WithSender replaces the delivery function
func (e *EmailNotifier) WithSender(s Sender) *EmailNotifier {
	e.send = s
	return e
}

type alertView struct {
	protocol.AlertEvent
	MetricName string
	Unit       string
	When       string
}

// Render builds the subject and body of an alert email
func Render(alert *protocol.AlertEvent) (string, string, error) {
	name := metricNames[alert.Metric]
	if name == "" {
		name = strings.ToUpper(alert.Metric)
	}
	view := alertView{
		AlertEvent: *alert,
		MetricName: name,
		Unit:       metricUnits[alert.Metric],
		When:       alert.OccurredAt.Local().Format("2006-01-02 15:04:05 MST"),
	}

	var (
		subject string
		tmpl    *template.Template
	)
	switch alert.Type {
	case protocol.AlertTypeDetected:
		subject = fmt.Sprintf("Air quality alert: %s high at %s", name, alert.Device.Name)
		tmpl = detected
	case protocol.AlertTypeCleared:
		subject = fmt.Sprintf("Air quality alert cleared: %s at %s", name, alert.Device.Name)
		tmpl = cleared
	default:
		return "", "", fmt.Errorf("unknown alert type: %s", alert.Type)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, view); err != nil {
		return "", "", fmt.Errorf("failed to render email template: %w", err)
	}
	return subject, buf.String(), nil
}

// SendAlert sends an email for an alert event
func (e *EmailNotifier) SendAlert(alert *protocol.AlertEvent) error {
	subject, body, err := Render(alert)
	if err != nil {
		return err
	}
	return e.sendEmail(subject, body)
}

// SendAlertRetry sends an alert, retrying up to attempts times with a doubling
// backoff. It returns the last error once the attempts run out or ctx ends.
func (e *EmailNotifier) SendAlertRetry(ctx context.Context, alert *protocol.AlertEvent, attempts int, backoff time.Duration) error {
	var err error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return fmt.Errorf("%w (last error: %v)", ctx.Err(), err)
			}
			backoff *= 2
		}
		if err = e.SendAlert(alert); err == nil {
			return nil
		}
	}
	return err
}

func (e *EmailNotifier) sendEmail(subject, body string) error {
	// Skip sending if SMTP is not configured
	if e.config.Username == "" || e.config.Password == "" {
		fmt.Printf("SMTP not configured, skipping email:\nSubject: %s\n%s\n", subject, body)
		return nil
	}

	message := fmt.Sprintf("From: %s\r\n", e.config.From)
	message += fmt.Sprintf("To: %s\r\n", e.config.To)
	message += fmt.Sprintf("Subject: %s\r\n", subject)
	message += fmt.Sprintf("Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	message += "Content-Type: text/plain; charset=UTF-8\r\n"
	message += "\r\n"
	message += body

	auth := smtp.PlainAuth("", e.config.Username, e.config.Password, e.config.Host)

	addr := fmt.Sprintf("%s:%d", e.config.Host, e.config.Port)
	if err := e.send(addr, auth, e.config.From, []string{e.config.To}, []byte(message)); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	fmt.Printf("Email sent successfully: %s\n", subject)
	return nil
}

// TestConnection tests the SMTP connection
func (e *EmailNotifier) TestConnection() error {
	if e.config.Username == "" {
		return fmt.Errorf("SMTP not configured")
	}

	addr := fmt.Sprintf("%s:%d", e.config.Host, e.config.Port)
	client, err := smtp.Dial(addr)
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server: %w", err)
	}
	defer client.Close()

	fmt.Println("SMTP connection test successful")
	return nil
}
