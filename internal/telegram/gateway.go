// Package telegram adapts the Telegram Bot API to the gateways the
// subscription services depend on.
package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"channelpass/internal/service"
)

// BotAPI is the part of *tgbotapi.BotAPI the gateway calls
type BotAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// NewBot connects to the Bot API. Every call made through the returned
// client is bounded by timeout.
func NewBot(token string, timeout time.Duration) (*tgbotapi.BotAPI, error) {
	bot, err := tgbotapi.NewBotAPIWithClient(token, tgbotapi.APIEndpoint, &http.Client{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Telegram: %w", err)
	}
	return bot, nil
}

// Gateway sends messages and invoices and creates channel invite links
type Gateway struct {
	api           BotAPI
	providerToken string
}

// NewGateway creates a gateway. providerToken may be empty for invoices
// payable in stars.
func NewGateway(api BotAPI, providerToken string) *Gateway {
	return &Gateway{api: api, providerToken: providerToken}
}

// CreateInviteLink calls createChatInviteLink and returns the link
func (g *Gateway) CreateInviteLink(ctx context.Context, req service.InviteLinkRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	cfg := tgbotapi.CreateChatInviteLinkConfig{
		ChatConfig:         tgbotapi.ChatConfig{ChatID: req.ChannelID},
		Name:               req.Name,
		ExpireDate:         int(req.ExpireAt.Unix()),
		MemberLimit:        req.MemberLimit,
		CreatesJoinRequest: req.CreatesJoinRequest,
	}

	resp, err := g.api.Request(cfg)
	if err != nil {
		return "", fmt.Errorf("createChatInviteLink: %w", err)
	}

	var link tgbotapi.ChatInviteLink
	if err := json.Unmarshal(resp.Result, &link); err != nil {
		return "", fmt.Errorf("createChatInviteLink: malformed result: %w", err)
	}
	return link.InviteLink, nil
}

// Notify sends a plain text message
func (g *Gateway) Notify(ctx context.Context, chatID int64, text string) error {
	return g.SendWithKeyboard(ctx, chatID, text, nil)
}

// SendWithKeyboard sends a message with an optional inline keyboard
func (g *Gateway) SendWithKeyboard(ctx context.Context, chatID int64, text string, keyboard *tgbotapi.InlineKeyboardMarkup) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	if keyboard != nil {
		msg.ReplyMarkup = *keyboard
	}
	if _, err := g.api.Send(msg); err != nil {
		return fmt.Errorf("sendMessage to %d: %w", chatID, err)
	}
	return nil
}

// SendStarsInvoice sends an invoice payable in Telegram stars (XTR)
func (g *Gateway) SendStarsInvoice(ctx context.Context, chatID int64, title, description, payload string, stars int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	prices := []tgbotapi.LabeledPrice{{Label: "Stars", Amount: int(stars)}}
	invoice := tgbotapi.NewInvoice(chatID, title, description, payload, g.providerToken, "stars", "XTR", prices)
	// nil would be sent as null, which the API rejects
	invoice.SuggestedTipAmounts = []int{}

	if _, err := g.api.Send(invoice); err != nil {
		return fmt.Errorf("sendInvoice to %d: %w", chatID, err)
	}
	return nil
}

// AnswerPreCheckout confirms or rejects a pending checkout
func (g *Gateway) AnswerPreCheckout(ctx context.Context, queryID string, ok bool, errorMessage string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	cfg := tgbotapi.PreCheckoutConfig{
		PreCheckoutQueryID: queryID,
		OK:                 ok,
		ErrorMessage:       errorMessage,
	}
	if _, err := g.api.Request(cfg); err != nil {
		return fmt.Errorf("answerPreCheckoutQuery: %w", err)
	}
	return nil
}

// AnswerCallback stops the client-side spinner of a callback button
func (g *Gateway) AnswerCallback(ctx context.Context, callbackID, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := g.api.Request(tgbotapi.NewCallback(callbackID, text)); err != nil {
		return fmt.Errorf("answerCallbackQuery: %w", err)
	}
	return nil
}
