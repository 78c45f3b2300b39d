package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
)

// AWSSESAlertService emails anomaly alerts to an operator address using
// AWS SES. Sends run in a background goroutine with their own timeout so
// scoring latency is unaffected.
type AWSSESAlertService struct {
	sesClient   *ses.Client
	fromAddress string
	toAddress   string
	logger      *slog.Logger
}

// NewAWSSESAlertService creates a new AWS SES alert service.
func NewAWSSESAlertService(region, fromAddress, toAddress string, logger *slog.Logger) (*AWSSESAlertService, error) {
	cfg, err := config.LoadDefaultConfig(context.Background(), config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &AWSSESAlertService{
		sesClient:   ses.NewFromConfig(cfg),
		fromAddress: fromAddress,
		toAddress:   toAddress,
		logger:      logger,
	}, nil
}

// NotifyAnomaly emails an alert for an anomaly verdict.
func (s *AWSSESAlertService) NotifyAnomaly(ctx context.Context, userID string, score float64, method string) {
	go func() {
		sendCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		textBody := fmt.Sprintf(`Behavioral anomaly detected

User:    %s
Score:   %.4f
Method:  %s
Time:    %s

The login attempt was flagged as anomalous against the user's behavioral
profile. Review the session log for this user before taking action.

This is an automated message. Please do not reply to this email.
`, userID, score, method, time.Now().UTC().Format(time.RFC3339))

		input := &ses.SendEmailInput{
			Source: aws.String(s.fromAddress),
			Destination: &types.Destination{
				ToAddresses: []string{s.toAddress},
			},
			Message: &types.Message{
				Subject: &types.Content{
					Data: aws.String(fmt.Sprintf("Anomaly alert: %s", userID)),
				},
				Body: &types.Body{
					Text: &types.Content{
						Data: aws.String(textBody),
					},
				},
			},
		}

		result, err := s.sesClient.SendEmail(sendCtx, input)
		if err != nil {
			s.logger.Error("failed to send anomaly alert via SES",
				slog.String("user_id", userID),
				slog.Any("error", err))
			return
		}

		s.logger.Info("anomaly alert sent",
			slog.String("user_id", userID),
			slog.String("message_id", *result.MessageId))
	}()
}

// NoopAlertService is used when alerting is not configured.
type NoopAlertService struct {
	logger *slog.Logger
}

// NewNoopAlertService creates a new NoopAlertService.
func NewNoopAlertService(logger *slog.Logger) *NoopAlertService {
	return &NoopAlertService{logger: logger}
}

// NotifyAnomaly logs the alert that would have been sent.
func (s *NoopAlertService) NotifyAnomaly(_ context.Context, userID string, score float64, method string) {
	s.logger.Debug("anomaly alerting disabled, skipping notification",
		slog.String("user_id", userID),
		slog.Float64("score", score),
		slog.String("method", method))
}
