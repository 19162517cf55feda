package service

import (
	"context"

	"go.uber.org/zap"
)

// AlertService fans operator alerts out to the admin chat and, when
// configured, to the operator mailbox
type AlertService struct {
	email         *EmailService
	operatorEmail string
	messenger     Messenger
	adminChatID   int64
	logger        *zap.Logger
}

// NewAlertService creates a new alert service. Either channel may be left
// unconfigured (empty address, zero chat ID).
func NewAlertService(email *EmailService, operatorEmail string, messenger Messenger, adminChatID int64, logger *zap.Logger) *AlertService {
	return &AlertService{
		email:         email,
		operatorEmail: operatorEmail,
		messenger:     messenger,
		adminChatID:   adminChatID,
		logger:        logger,
	}
}

// AlertOperator delivers the alert on every configured channel
func (a *AlertService) AlertOperator(ctx context.Context, subject, body string) {
	a.logger.Warn("operator alert", zap.String("subject", subject), zap.String("body", body))

	if a.adminChatID != 0 && a.messenger != nil {
		if err := a.messenger.Notify(ctx, a.adminChatID, subject+"\n\n"+body); err != nil {
			a.logger.Error("failed to alert admin chat", zap.Error(err))
		}
	}

	if a.operatorEmail != "" && a.email != nil && a.email.IsEnabled() {
		if err := a.email.SendAlertEmail(ctx, a.operatorEmail, subject, body); err != nil {
			a.logger.Error("failed to email operator alert", zap.Error(err))
		}
	}
}
