package monitoring

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/gomail.v2"

	"github.com/xenbak/xenbakd/pkg/jobs"
)

type MailConfig struct {
	Enabled      bool     `mapstructure:"enabled"`
	SMTPServer   string   `mapstructure:"smtp_server"`
	SMTPPort     int      `mapstructure:"smtp_port"`
	SMTPUser     string   `mapstructure:"smtp_user"`
	SMTPPassword string   `mapstructure:"smtp_password"`
	From         string   `mapstructure:"smtp_from"`
	To           []string `mapstructure:"smtp_to"`
}

// mailDialer is the slice of gomail the service drives.
type mailDialer interface {
	DialAndSend(messages ...*gomail.Message) error
}

// MailService sends a mail per finished job run. Start is a no-op,
// mails only report outcomes.
type MailService struct {
	logger logrus.FieldLogger
	config MailConfig
	dialer mailDialer
}

func NewMailService(logger logrus.FieldLogger, config MailConfig) (*MailService, error) {
	dialer := gomail.NewDialer(config.SMTPServer, config.SMTPPort, config.SMTPUser, config.SMTPPassword)

	// probe the relay once so a broken configuration surfaces at
	// startup instead of after the first backup run
	closer, err := dialer.Dial()
	if err != nil {
		return nil, errors.Wrap(err, "unable to connect to smtp server")
	}
	_ = closer.Close()

	return newMailService(logger, config, dialer), nil
}

func newMailService(logger logrus.FieldLogger, config MailConfig, dialer mailDialer) *MailService {
	return &MailService{
		logger: logger.WithField("notifier", "mail"),
		config: config,
		dialer: dialer,
	}
}

func (s *MailService) Name() string {
	return "mail"
}

func (s *MailService) Start(ctx context.Context, key CheckKey) error {
	return nil
}

func (s *MailService) Success(ctx context.Context, key CheckKey, stats jobs.Stats) error {
	subject := fmt.Sprintf("Success: Backup Job '%s' on host '%s'", key.Job, key.Host)
	body := fmt.Sprintf("Backup Job '%s' on host '%s' succeeded.", key.Job, key.Host)

	return s.send(subject, body, stats)
}

func (s *MailService) Failure(ctx context.Context, key CheckKey, stats jobs.Stats) error {
	subject := fmt.Sprintf("Failure: Backup Job '%s' on host '%s'", key.Job, key.Host)
	body := fmt.Sprintf("Backup Job '%s' on host '%s' has failed", key.Job, key.Host)

	return s.send(subject, body, stats)
}

func (s *MailService) send(subject, body string, stats jobs.Stats) error {
	prettyStats, err := json.MarshalIndent(stats, "", "  ")
	if err != nil {
		return errors.Wrap(err, "unable to encode stats")
	}

	message := gomail.NewMessage()
	message.SetHeader("From", s.config.From)
	message.SetHeader("To", s.config.To...)
	message.SetHeader("Subject", subject)
	message.SetBody("text/plain", fmt.Sprintf("%s\n\nStats: %s", body, prettyStats))

	if err := s.dialer.DialAndSend(message); err != nil {
		return errors.Wrap(err, "unable to send mail")
	}

	return nil
}
