package bot

import (
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"coins-bot/store"

	"go.uber.org/zap"
	"gopkg.in/telebot.v3"
)

const (
	// Check-in rewards a random amount of Coins up to this many.
	maxCheckinReward = 2.0

	// Per-user daily transfer volume cap.
	maxDailyPay = 100

	leaderboardSize = 10
)

type Bot struct {
	B     *telebot.Bot
	Store *store.Store
	Log   *zap.Logger
}

func NewBot(token string, st *store.Store, log *zap.Logger) (*Bot, error) {
	pref := telebot.Settings{
		Token:  token,
		Poller: &telebot.LongPoller{Timeout: 10 * time.Second},
	}

	b, err := telebot.NewBot(pref)
	if err != nil {
		return nil, err
	}

	bot := &Bot{B: b, Store: st, Log: log}
	bot.registerHandlers()
	return bot, nil
}

func (bot *Bot) Start() {
	bot.B.Start()
}

func (bot *Bot) registerHandlers() {
	bot.B.Handle("/start", bot.handleStart)
	bot.B.Handle("/checkin", bot.handleCheckin)
	bot.B.Handle("/balance", bot.handleBalance)
	bot.B.Handle("/pay", bot.handlePay)
	bot.B.Handle("/history", bot.handleHistory)
	bot.B.Handle("/top", bot.handleTop)
	bot.B.Handle("/checkin_on", bot.handleCheckinOn)
	bot.B.Handle("/checkin_off", bot.handleCheckinOff)
}

// fail logs the storage error and sends a generic reply so the chat is
// never left hanging.
func (bot *Bot) fail(c telebot.Context, op string, err error) error {
	bot.Log.Error("store operation failed",
		zap.String("op", op),
		zap.Int64("user", c.Sender().ID),
		zap.Error(err))
	return c.Send("出错了, 请稍后再试")
}

func isGroup(c telebot.Context) bool {
	t := c.Chat().Type
	return t == telebot.ChatGroup || t == telebot.ChatSuperGroup
}

func (bot *Bot) isAdmin(c telebot.Context) bool {
	member, err := bot.B.ChatMemberOf(c.Chat(), c.Sender())
	if err != nil {
		return false
	}
	return member.Role == telebot.Administrator || member.Role == telebot.Creator
}

// --- Handlers ---

func (bot *Bot) handleStart(c telebot.Context) error {
	if err := bot.Store.TouchActivity(c.Sender().ID); err != nil {
		return bot.fail(c, "touch", err)
	}
	return c.Send("Coins 机器人已就绪!\n/checkin 签到  /balance 查询余额  /pay 转账  /top 排行榜")
}

// /checkin: only in groups that opted in. Rewards a random amount and
// counts as activity.
func (bot *Bot) handleCheckin(c telebot.Context) error {
	if !isGroup(c) {
		return c.Send("签到只能在群聊中使用")
	}

	allowed, err := bot.Store.GroupAllowed(c.Chat().ID)
	if err != nil {
		return bot.fail(c, "group_allowed", err)
	}
	if !allowed {
		return c.Send("本群未开启签到, 管理员可用 /checkin_on 开启")
	}

	userID := c.Sender().ID
	if err := bot.Store.TouchActivity(userID); err != nil {
		return bot.fail(c, "touch", err)
	}

	reward := rand.Float64() * maxCheckinReward
	if err := bot.Store.AdjustBalance(userID, reward); err != nil {
		return bot.fail(c, "adjust", err)
	}

	coins, err := bot.Store.Balance(userID)
	if err != nil {
		return bot.fail(c, "balance", err)
	}
	return c.Send(fmt.Sprintf("✅ 签到成功! 获得 %.3f Coins, 当前余额 %.3f", reward, coins))
}

func (bot *Bot) handleBalance(c telebot.Context) error {
	userID := c.Sender().ID
	exists, err := bot.Store.UserExists(userID)
	if err != nil {
		return bot.fail(c, "exists", err)
	}
	if !exists {
		return c.Send("还没有账户, 先 /checkin 签到一次吧")
	}

	coins, err := bot.Store.Balance(userID)
	if err != nil {
		return bot.fail(c, "balance", err)
	}
	return c.Send(fmt.Sprintf("💰 当前余额: %.3f Coins", coins))
}

// /pay <amount>, as a reply to the recipient's message. Debits the sender,
// credits the recipient and records the sender's daily volume.
func (bot *Bot) handlePay(c telebot.Context) error {
	if c.Message().ReplyTo == nil || c.Message().ReplyTo.Sender == nil {
		return c.Send("请回复转账对象的消息并使用 /pay <数量>")
	}

	args := c.Args()
	if len(args) != 1 {
		return c.Send("用法: /pay <数量>")
	}
	amount, err := strconv.ParseFloat(args[0], 64)
	if err != nil || amount <= 0 {
		return c.Send("转账数量必须是正数")
	}

	sender := c.Sender().ID
	recipient := c.Message().ReplyTo.Sender.ID
	if recipient == sender {
		return c.Send("不能给自己转账")
	}

	exists, err := bot.Store.UserExists(sender)
	if err != nil {
		return bot.fail(c, "exists", err)
	}
	if !exists {
		return c.Send("还没有账户, 先 /checkin 签到一次吧")
	}

	coins, err := bot.Store.Balance(sender)
	if err != nil {
		return bot.fail(c, "balance", err)
	}
	if coins < amount {
		return c.Send(fmt.Sprintf("余额不足, 当前只有 %.3f Coins", coins))
	}

	spent, err := bot.Store.TodayPayment(sender)
	if err != nil {
		return bot.fail(c, "today_payment", err)
	}
	if spent+amount > maxDailyPay {
		return c.Send(fmt.Sprintf("超出每日转账上限 %d, 今日已转 %.0f", maxDailyPay, spent))
	}

	// Recipient may have never interacted with the bot.
	if err := bot.Store.TouchActivity(recipient); err != nil {
		return bot.fail(c, "touch", err)
	}

	if err := bot.Store.AdjustBalance(sender, -amount); err != nil {
		return bot.fail(c, "adjust", err)
	}
	if err := bot.Store.AdjustBalance(recipient, amount); err != nil {
		return bot.fail(c, "adjust", err)
	}
	if err := bot.Store.RecordPayment(sender, amount); err != nil {
		return bot.fail(c, "record_payment", err)
	}

	return c.Send(fmt.Sprintf("✅ 已向 %s 转账 %.3f Coins", displayName(c.Message().ReplyTo.Sender), amount))
}

func (bot *Bot) handleHistory(c telebot.Context) error {
	recs, err := bot.Store.PaymentHistory(c.Sender().ID)
	if err != nil {
		return bot.fail(c, "history", err)
	}
	if len(recs) == 0 {
		return c.Send("暂无转账记录")
	}

	var sb strings.Builder
	sb.WriteString("📋 转账记录:\n")
	for _, r := range recs {
		sb.WriteString(fmt.Sprintf("%s: %d\n", r.Date, r.Volume))
	}
	return c.Send(sb.String())
}

func (bot *Bot) handleTop(c telebot.Context) error {
	users, err := bot.Store.Leaderboard()
	if err != nil {
		return bot.fail(c, "leaderboard", err)
	}
	if len(users) == 0 {
		return c.Send("还没有任何用户")
	}
	if len(users) > leaderboardSize {
		users = users[:leaderboardSize]
	}

	var sb strings.Builder
	sb.WriteString("🏆 Coins 排行榜:\n")
	for i, u := range users {
		sb.WriteString(fmt.Sprintf("%d. %d — %.3f\n", i+1, u.UserID, u.Coins))
	}
	return c.Send(sb.String())
}

func (bot *Bot) handleCheckinOn(c telebot.Context) error {
	return bot.setCheckin(c, true)
}

func (bot *Bot) handleCheckinOff(c telebot.Context) error {
	return bot.setCheckin(c, false)
}

func (bot *Bot) setCheckin(c telebot.Context, allow bool) error {
	if !isGroup(c) {
		return c.Send("该命令只能在群聊中使用")
	}
	if !bot.isAdmin(c) {
		return c.Send("只有群管理员可以修改签到开关")
	}

	if err := bot.Store.SetGroupAllowed(c.Chat().ID, allow); err != nil {
		return bot.fail(c, "set_group_allowed", err)
	}
	if allow {
		return c.Send("本群签到已开启")
	}
	return c.Send("本群签到已关闭")
}

// PunishInactive is invoked by the cron scheduler once a day.
func (bot *Bot) PunishInactive() {
	if err := bot.Store.PunishInactiveUsers(); err != nil {
		bot.Log.Error("inactivity sweep failed", zap.Error(err))
		return
	}
	bot.Log.Info("inactivity sweep done")
}

func displayName(u *telebot.User) string {
	if u.Username != "" {
		return "@" + u.Username
	}
	return u.FirstName
}
