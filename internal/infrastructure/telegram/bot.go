package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/SAMEER05407/mytrading/internal/domain"
)

// botAPI is the slice of tgbotapi.BotAPI the package uses; tests swap in a
// fake.
type botAPI interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	StopReceivingUpdates()
}

// TradeService is the spot surface the router drives.
type TradeService interface {
	OpenTrade(ctx context.Context, pair string, usdAmount, profitTarget, stopLoss float64) (domain.TradeView, error)
	StatusSnapshot() (domain.TradeView, bool)
}

// FuturesService is the futures surface the router drives.
type FuturesService interface {
	OpenFutures(ctx context.Context, pair string, side domain.Side, usdAmount float64, leverage int, profitTarget, stopLoss float64) (domain.FuturesView, error)
	FuturesSnapshot() (domain.FuturesView, bool)
}

// Channel sends bot notifications to the configured chat in HTML mode.
type Channel struct {
	api    botAPI
	chatID int64
}

func NewChannel(token string, chatID int64) (*Channel, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram connect: %w", err)
	}
	return &Channel{api: api, chatID: chatID}, nil
}

func (c *Channel) Send(text string) error {
	msg := tgbotapi.NewMessage(c.chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	if _, err := c.api.Send(msg); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}

// Bot long-polls Telegram and routes commands to the trading services.
// Messages from any chat other than the configured one are dropped.
type Bot struct {
	api     botAPI
	chatID  int64
	trades  TradeService
	futures FuturesService
	logger  *zap.Logger
	wg      sync.WaitGroup
}

// NewBot attaches the router to an established channel so both share one
// API session.
func NewBot(channel *Channel, trades TradeService, futures FuturesService, logger *zap.Logger) *Bot {
	return &Bot{
		api:     channel.api,
		chatID:  channel.chatID,
		trades:  trades,
		futures: futures,
		logger:  logger,
	}
}

// Run starts the update loop in its own goroutine.
func (b *Bot) Run() {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := b.api.GetUpdatesChan(u)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for update := range updates {
			b.handleUpdate(update)
		}
	}()
	b.logger.Info("telegram router started", zap.Int64("chat_id", b.chatID))
}

// Stop ends long polling and waits for the loop to drain.
func (b *Bot) Stop() {
	b.api.StopReceivingUpdates()
	b.wg.Wait()
}

func (b *Bot) handleUpdate(update tgbotapi.Update) {
	if update.Message == nil {
		return
	}
	if update.Message.Chat.ID != b.chatID {
		b.logger.Debug("ignoring message from foreign chat",
			zap.Int64("chat_id", update.Message.Chat.ID))
		return
	}

	reply := b.dispatch(update.Message.Text)
	if reply == "" {
		return
	}
	msg := tgbotapi.NewMessage(b.chatID, reply)
	msg.ParseMode = tgbotapi.ModeHTML
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Warn("telegram reply failed", zap.Error(err))
	}
}

// dispatch maps one message to its reply; empty string means no reply.
func (b *Bot) dispatch(text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return ""
	}
	cmd := strings.ToLower(strings.TrimPrefix(fields[0], "/"))
	if at := strings.IndexByte(cmd, '@'); at >= 0 {
		cmd = cmd[:at]
	}
	args := fields[1:]

	switch cmd {
	case "help", "start":
		return usageText
	case "trade":
		return b.handleTrade(args)
	case "status":
		return b.handleStatus()
	case "futures":
		return b.handleFutures(args)
	case "fstatus":
		return b.handleFuturesStatus()
	default:
		return ""
	}
}

const usageText = `🤖 <b>Trading assistant</b>

<code>/trade PAIR AMOUNT PROFIT [STOP]</code>
Market-buy AMOUNT USDT of PAIR, sell when profit reaches PROFIT USDT.
Optional STOP sells when the loss reaches STOP USDT.
Example: <code>/trade BTCUSDT 50 0.5</code>

<code>/status</code> - current spot position

<code>/futures PAIR SIDE AMOUNT PROFIT LEVERAGE [STOP]</code>
Open a LONG or SHORT with LEVERAGE on USDT-M futures.
Example: <code>/futures ETHUSDT SHORT 20 0.4 5</code>

<code>/fstatus</code> - current futures position`

const tradeUsage = `Usage: <code>/trade PAIR AMOUNT PROFIT [STOP]</code>
Example: <code>/trade BTCUSDT 50 0.5</code>`

const futuresUsage = `Usage: <code>/futures PAIR SIDE AMOUNT PROFIT LEVERAGE [STOP]</code>
SIDE is LONG or SHORT. Example: <code>/futures ETHUSDT SHORT 20 0.4 5</code>`

func (b *Bot) handleTrade(args []string) string {
	if len(args) < 3 || len(args) > 4 {
		return tradeUsage
	}
	usdAmount, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return tradeUsage
	}
	profitTarget, err := strconv.ParseFloat(args[2], 64)
	if err != nil {
		return tradeUsage
	}
	stopLoss := 0.0
	if len(args) == 4 {
		if stopLoss, err = strconv.ParseFloat(args[3], 64); err != nil {
			return tradeUsage
		}
	}

	view, err := b.trades.OpenTrade(context.Background(), args[0], usdAmount, profitTarget, stopLoss)
	if err != nil {
		return errorReply(err)
	}

	reply := fmt.Sprintf(
		"✅ <b>Bought %s</b>\nPrice: %.8f\nQuantity: %.8f\nSpent: %.2f USDT\nTarget: +%.2f USDT",
		view.Pair, view.BuyPrice, view.Quantity, view.USDAmount, view.ProfitTarget)
	if view.StopLoss > 0 {
		reply += fmt.Sprintf("\nStop loss: -%.2f USDT", view.StopLoss)
	}
	return reply + "\nMonitoring started."
}

func (b *Bot) handleStatus() string {
	view, ok := b.trades.StatusSnapshot()
	if !ok {
		return "No active trade. Open one with <code>/trade</code>."
	}
	reply := fmt.Sprintf(
		"📊 <b>%s</b>\nBuy: %.8f\nNow: %.8f\nQuantity: %.8f\nProfit: %+.4f / %.2f USDT (%.1f%%)",
		view.Pair, view.BuyPrice, view.CurrentPrice, view.Quantity,
		view.CurrentProfit, view.ProfitTarget, view.ProgressPct)
	if view.StopLoss > 0 {
		reply += fmt.Sprintf("\nStop loss: -%.2f USDT", view.StopLoss)
	}
	return reply + fmt.Sprintf("\nOpened %s ago", time.Since(view.StartedAt).Round(time.Second))
}

func (b *Bot) handleFutures(args []string) string {
	if len(args) < 5 || len(args) > 6 {
		return futuresUsage
	}
	side, ok := domain.ParseSide(args[1])
	if !ok {
		return futuresUsage
	}
	usdAmount, err := strconv.ParseFloat(args[2], 64)
	if err != nil {
		return futuresUsage
	}
	profitTarget, err := strconv.ParseFloat(args[3], 64)
	if err != nil {
		return futuresUsage
	}
	leverage, err := strconv.Atoi(args[4])
	if err != nil {
		return futuresUsage
	}
	stopLoss := 0.0
	if len(args) == 6 {
		if stopLoss, err = strconv.ParseFloat(args[5], 64); err != nil {
			return futuresUsage
		}
	}

	view, err := b.futures.OpenFutures(context.Background(), args[0], side, usdAmount, leverage, profitTarget, stopLoss)
	if err != nil {
		return errorReply(err)
	}

	reply := fmt.Sprintf(
		"✅ <b>Opened %s %s %dx</b>\nEntry: %.8f\nQuantity: %.8f\nMargin: %.2f USDT\nTarget: +%.2f USDT",
		view.Side, view.Pair, view.Leverage, view.EntryPrice, view.Quantity,
		view.USDAmount, view.ProfitTarget)
	if view.StopLoss > 0 {
		reply += fmt.Sprintf("\nStop loss: -%.2f USDT", view.StopLoss)
	}
	return reply + "\nMonitoring started."
}

func (b *Bot) handleFuturesStatus() string {
	view, ok := b.futures.FuturesSnapshot()
	if !ok {
		return "No active futures trade. Open one with <code>/futures</code>."
	}
	reply := fmt.Sprintf(
		"📊 <b>%s %s %dx</b>\nEntry: %.8f\nMark: %.8f\nQuantity: %.8f\nPnL: %+.4f / %.2f USDT (%.1f%%)",
		view.Side, view.Pair, view.Leverage, view.EntryPrice, view.MarkPrice,
		view.Quantity, view.PnL, view.ProfitTarget, view.ProgressPct)
	if view.StopLoss > 0 {
		reply += fmt.Sprintf("\nStop loss: -%.2f USDT", view.StopLoss)
	}
	return reply + fmt.Sprintf("\nOpened %s ago", time.Since(view.StartedAt).Round(time.Second))
}

// errorReply maps engine errors to chat messages. Validation and
// already-active failures keep their text; anything else reads as a failed
// order.
func errorReply(err error) string {
	var vErr *domain.ValidationError
	if errors.As(err, &vErr) {
		return "❌ " + vErr.Error()
	}
	if errors.Is(err, domain.ErrTradeActive) || errors.Is(err, domain.ErrFuturesActive) {
		return "⚠️ " + err.Error() + ". Close it or wait for the target."
	}
	return "❌ Order failed: " + err.Error()
}
