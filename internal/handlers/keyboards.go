package handlers

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"channelpass/internal/models"
	"channelpass/internal/service"
)

func mainKeyboard() *tgbotapi.InlineKeyboardMarkup {
	kb := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("Free channel", cbChannelFree)),
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("Premium channel", cbChannelPremium)),
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("My subscriptions", cbMySubs)),
	)
	return &kb
}

// premiumKeyboard offers paying from the balance only when it covers the price
func premiumKeyboard(ch models.Channel, balance int64) *tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	if balance >= ch.PriceStars {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("Pay %d stars from balance", ch.PriceStars), cbPayFromBalance)))
	}
	rows = append(rows,
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("Buy %d stars", ch.PriceStars), cbBuyStars)),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("Pay $%s in crypto", ch.PriceFiat.StringFixed(2)), cbPayCrypto)),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Back", cbBackMain)),
	)
	kb := tgbotapi.NewInlineKeyboardMarkup(rows...)
	return &kb
}

func cryptoKeyboard() *tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	for _, asset := range service.SupportedAssets() {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(asset, cbCryptoPrefix+asset)))
	}
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("Back", cbChannelPremium)))
	kb := tgbotapi.NewInlineKeyboardMarkup(rows...)
	return &kb
}
