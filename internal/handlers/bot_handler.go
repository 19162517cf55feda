package handlers

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"channelpass/internal/models"
	"channelpass/internal/monitoring"
	"channelpass/internal/repository"
	"channelpass/internal/service"
)

const (
	cbChannelFree    = "channel_free"
	cbChannelPremium = "channel_premium"
	cbMySubs         = "my_subs"
	cbPayFromBalance = "pay_from_balance"
	cbBuyStars       = "buy_stars_for_sub"
	cbPayCrypto      = "pay_crypto_premium"
	cbCryptoPrefix   = "crypto_"
	cbBackMain       = "back_main"

	dateLayout = "02.01.2006"
)

// Sender is the outbound half of the bot the handler replies through
type Sender interface {
	Notify(ctx context.Context, chatID int64, text string) error
	SendWithKeyboard(ctx context.Context, chatID int64, text string, keyboard *tgbotapi.InlineKeyboardMarkup) error
	AnswerPreCheckout(ctx context.Context, queryID string, ok bool, errorMessage string) error
	AnswerCallback(ctx context.Context, callbackID, text string) error
}

// BotHandler routes Telegram updates to the payment and subscription services
type BotHandler struct {
	payments      *service.PaymentService
	ledger        *service.LedgerService
	subscriptions *service.SubscriptionService
	invites       *service.InviteService
	sender        Sender
	catalog       models.Catalog
	logger        *zap.Logger
}

// NewBotHandler creates a new bot handler
func NewBotHandler(
	payments *service.PaymentService,
	ledger *service.LedgerService,
	subscriptions *service.SubscriptionService,
	invites *service.InviteService,
	sender Sender,
	catalog models.Catalog,
	logger *zap.Logger,
) *BotHandler {
	return &BotHandler{
		payments:      payments,
		ledger:        ledger,
		subscriptions: subscriptions,
		invites:       invites,
		sender:        sender,
		catalog:       catalog,
		logger:        logger,
	}
}

// HandleUpdate processes one update. Failures are logged and, where the
// user is waiting for an answer, reported back to the chat.
func (h *BotHandler) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.Message != nil && update.Message.SuccessfulPayment != nil:
		monitoring.UpdatesTotal.WithLabelValues("successful_payment").Inc()
		h.handleSuccessfulPayment(ctx, update.Message)
	case update.Message != nil:
		monitoring.UpdatesTotal.WithLabelValues("message").Inc()
		h.handleMessage(ctx, update.Message)
	case update.CallbackQuery != nil:
		monitoring.UpdatesTotal.WithLabelValues("callback_query").Inc()
		h.handleCallback(ctx, update.CallbackQuery)
	case update.PreCheckoutQuery != nil:
		monitoring.UpdatesTotal.WithLabelValues("pre_checkout_query").Inc()
		h.handlePreCheckout(ctx, update.PreCheckoutQuery)
	case update.ChatMember != nil:
		monitoring.UpdatesTotal.WithLabelValues("chat_member").Inc()
		h.handleChatMember(ctx, update.ChatMember)
	default:
		monitoring.UpdatesTotal.WithLabelValues("ignored").Inc()
	}
}

func (h *BotHandler) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil || msg.Chat == nil {
		return
	}
	chatID := msg.Chat.ID
	user := msg.From

	if err := h.ledger.RegisterUser(ctx, user.ID, user.UserName, user.FirstName); err != nil {
		h.logger.Error("failed to register user", zap.Int64("user_id", user.ID), zap.Error(err))
	}

	switch msg.Command() {
	case "start":
		h.send(ctx, chatID, fmt.Sprintf("Hello, %s!\nChoose an action:", user.FirstName), mainKeyboard())
	case "mysub":
		h.reply(ctx, chatID, h.subscriptionsText(ctx, user.ID))
	case "addsub":
		h.handleAddSub(ctx, msg)
	default:
		h.send(ctx, chatID, "Unknown command. Press /start.", mainKeyboard())
	}
}

// handleAddSub serves "/addsub <user_id> <days>" for the administrator
func (h *BotHandler) handleAddSub(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	args := strings.Fields(msg.CommandArguments())
	if len(args) != 2 {
		h.reply(ctx, chatID, "Usage: /addsub <user_id> <days>")
		return
	}
	target, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		h.reply(ctx, chatID, "Usage: /addsub <user_id> <days>")
		return
	}
	days, err := strconv.Atoi(args[1])
	if err != nil {
		h.reply(ctx, chatID, "Usage: /addsub <user_id> <days>")
		return
	}

	delivery, err := h.payments.AdminGrant(ctx, msg.From.ID, target, days)
	if errors.Is(err, service.ErrNotAdmin) {
		h.send(ctx, chatID, "Unknown command. Press /start.", mainKeyboard())
		return
	}
	if err != nil {
		h.replyError(ctx, chatID, "admin grant failed", err)
		return
	}

	text := fmt.Sprintf("Subscription added for %d for %d days", target, days)
	if delivery.InviteLink != nil {
		text += "\nLink: " + delivery.InviteLink.Link
	} else {
		text += "\nNo invite link could be created."
	}
	h.reply(ctx, chatID, text)
}

func (h *BotHandler) handleSuccessfulPayment(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil || msg.Chat == nil {
		return
	}
	payment := msg.SuccessfulPayment

	_, err := h.payments.CreditStars(ctx, msg.From.ID, int64(payment.TotalAmount), payment.TelegramPaymentChargeID)
	if errors.Is(err, service.ErrPaymentAlreadyCredited) {
		// Redelivered update, already credited and answered
		return
	}
	if err != nil {
		h.logger.Error("failed to credit stars payment",
			zap.Int64("user_id", msg.From.ID),
			zap.Int("amount", payment.TotalAmount),
			zap.String("payload", payment.InvoicePayload),
			zap.Error(err))
		h.reply(ctx, msg.Chat.ID, "Your payment arrived but could not be credited. Please contact an operator.")
		return
	}

	balance, err := h.ledger.Balance(ctx, msg.From.ID)
	if err != nil {
		h.logger.Error("failed to read balance", zap.Int64("user_id", msg.From.ID), zap.Error(err))
	}
	h.send(ctx, msg.Chat.ID,
		fmt.Sprintf("Balance topped up by %d stars!\n\nYour balance is now %d stars.", payment.TotalAmount, balance),
		mainKeyboard())
}

func (h *BotHandler) handlePreCheckout(ctx context.Context, query *tgbotapi.PreCheckoutQuery) {
	if err := h.sender.AnswerPreCheckout(ctx, query.ID, true, ""); err != nil {
		h.logger.Error("failed to answer pre-checkout query", zap.String("query_id", query.ID), zap.Error(err))
	}
}

// handleChatMember marks the invite link a member joined with as used
func (h *BotHandler) handleChatMember(ctx context.Context, update *tgbotapi.ChatMemberUpdated) {
	if update.InviteLink == nil || update.NewChatMember.User == nil {
		return
	}

	err := h.invites.MarkUsed(ctx, update.InviteLink.InviteLink, update.NewChatMember.User.ID)
	switch {
	case err == nil:
	case errors.Is(err, repository.ErrInviteLinkNotFound), errors.Is(err, repository.ErrInviteLinkUsed):
		h.logger.Debug("join with untracked or spent invite link",
			zap.Int64("user_id", update.NewChatMember.User.ID), zap.Error(err))
	default:
		h.logger.Error("failed to mark invite link used", zap.Error(err))
	}
}

func (h *BotHandler) handleCallback(ctx context.Context, query *tgbotapi.CallbackQuery) {
	defer func() {
		if err := h.sender.AnswerCallback(ctx, query.ID, ""); err != nil {
			h.logger.Warn("failed to answer callback", zap.String("callback_id", query.ID), zap.Error(err))
		}
	}()

	if query.From == nil || query.Message == nil || query.Message.Chat == nil {
		return
	}
	userID := query.From.ID
	chatID := query.Message.Chat.ID

	switch data := query.Data; {
	case data == cbChannelFree:
		ch := h.catalog[models.ChannelFree]
		h.reply(ctx, chatID, fmt.Sprintf("%s\n\n%s\n\n%s", ch.Name, ch.Description, ch.Link))

	case data == cbChannelPremium:
		h.showPremium(ctx, userID, chatID)

	case data == cbMySubs:
		h.reply(ctx, chatID, h.subscriptionsText(ctx, userID))

	case data == cbBackMain:
		h.send(ctx, chatID, "Choose an action:", mainKeyboard())

	case data == cbPayFromBalance:
		if _, err := h.payments.PayFromBalance(ctx, userID, chatID); err != nil {
			if errors.Is(err, service.ErrInsufficientFunds) {
				h.reply(ctx, chatID, "Not enough stars on your balance.")
				return
			}
			h.replyError(ctx, chatID, "payment from balance failed", err)
		}

	case data == cbBuyStars:
		stars := h.catalog[models.ChannelPremium].PriceStars
		if err := h.payments.SendStarsInvoice(ctx, chatID, stars); err != nil {
			h.replyError(ctx, chatID, "failed to send stars invoice", err)
			return
		}
		h.reply(ctx, chatID, "Invoice sent. Follow the Telegram payment instructions.")

	case data == cbPayCrypto:
		h.send(ctx, chatID, "Choose a currency:", cryptoKeyboard())

	case strings.HasPrefix(data, cbCryptoPrefix):
		h.requestCryptoInvoice(ctx, userID, chatID, strings.TrimPrefix(data, cbCryptoPrefix))

	default:
		h.logger.Debug("unknown callback", zap.String("data", data))
	}
}

func (h *BotHandler) showPremium(ctx context.Context, userID, chatID int64) {
	ch := h.catalog[models.ChannelPremium]
	balance, err := h.ledger.Balance(ctx, userID)
	if err != nil {
		h.replyError(ctx, chatID, "failed to read balance", err)
		return
	}

	text := fmt.Sprintf("%s\n\n%s\n\nPrice: %d stars\nYour balance: %d stars", ch.Name, ch.Description, ch.PriceStars, balance)
	h.send(ctx, chatID, text, premiumKeyboard(ch, balance))
}

func (h *BotHandler) requestCryptoInvoice(ctx context.Context, userID, chatID int64, asset string) {
	inv, err := h.payments.RequestCryptoInvoice(ctx, userID, chatID, asset)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrRateLimited):
			h.reply(ctx, chatID, "Too many invoices requested. Please try again later.")
		case errors.Is(err, service.ErrUnsupportedAsset), errors.Is(err, service.ErrRateUnavailable):
			h.reply(ctx, chatID, "This currency is not available right now.")
		default:
			h.replyError(ctx, chatID, "failed to create crypto invoice", err)
		}
		return
	}

	text := fmt.Sprintf("Invoice for %s %s created.\n\nPay here: %s\n\nAccess is granted automatically once the payment is confirmed.",
		inv.Amount.String(), inv.Asset, inv.PayURL)
	var keyboard *tgbotapi.InlineKeyboardMarkup
	if inv.PayURL != "" {
		kb := tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonURL("Pay", inv.PayURL)),
		)
		keyboard = &kb
	}
	h.send(ctx, chatID, text, keyboard)
}

func (h *BotHandler) subscriptionsText(ctx context.Context, userID int64) string {
	subs, err := h.subscriptions.ListActive(ctx, userID)
	if err != nil {
		h.logger.Error("failed to list subscriptions", zap.Int64("user_id", userID), zap.Error(err))
		return "Could not load your subscriptions. Please try again later."
	}
	if len(subs) == 0 {
		return "You have no active subscriptions."
	}

	var b strings.Builder
	b.WriteString("Your subscriptions:\n")
	for _, sub := range subs {
		fmt.Fprintf(&b, "\n- %s until %s", sub.ChannelName, sub.ExpiresAt.Format(dateLayout))
	}
	return b.String()
}

func (h *BotHandler) reply(ctx context.Context, chatID int64, text string) {
	if err := h.sender.Notify(ctx, chatID, text); err != nil {
		h.logger.Error("failed to send reply", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

func (h *BotHandler) send(ctx context.Context, chatID int64, text string, keyboard *tgbotapi.InlineKeyboardMarkup) {
	if err := h.sender.SendWithKeyboard(ctx, chatID, text, keyboard); err != nil {
		h.logger.Error("failed to send reply", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

// replyError shows user errors verbatim and hides everything else
func (h *BotHandler) replyError(ctx context.Context, chatID int64, logMsg string, err error) {
	if service.IsUserError(err) {
		h.reply(ctx, chatID, "Request rejected: "+err.Error())
		return
	}
	h.logger.Error(logMsg, zap.Int64("chat_id", chatID), zap.Error(err))
	h.reply(ctx, chatID, "Something went wrong. Please try again later.")
}
