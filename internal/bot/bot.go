package bot

import (
	"context"
	"errors"
	"fmt"
	"html"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/jonboulle/clockwork"

	"task-planner/internal/exceptions"
	"task-planner/internal/logger"
	"task-planner/internal/model"
	"task-planner/internal/repository"
	"task-planner/internal/service"
)

type conversationStage int

const (
	stageNone conversationStage = iota
	stageTaskLine
)

const (
	cbTogglePrefix = "toggle:"
	cbDeletePrefix = "delete:"
)

const (
	btnCancelDialog  = "⏪ Cancel input"
	iconDefault      = "🟢"
	iconDue          = "⏳"
	iconOverdue      = "⚠️"
	iconDone         = "✅"
	menuLabelNewTask = "➕ New task"
	menuLabelTasks   = "📋 Tasks"
	menuLabelSoon    = "⏰ Upcoming"
	menuLabelHelp    = "ℹ️ Help"
)

const newTaskUsage = "Send the task as one line:\n" +
	"<code>title | YYYY-MM-DD | HH:MM-HH:MM</code>\n" +
	"Date and time range are optional, <code>today</code> and <code>tomorrow</code> work as dates."

type conversationState struct {
	stage conversationStage
}

// sender is the part of the Telegram API the bot talks to.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Bot aggregates Telegram API with services.
type Bot struct {
	client        *tgbotapi.BotAPI
	api           sender
	users         *repository.UserRepository
	tasks         *service.TaskService
	report        *service.DeadlineReport
	clock         clockwork.Clock
	loc           *time.Location
	digestWindow  time.Duration
	log           *logger.Logger
	conversations map[int64]*conversationState
	mu            sync.Mutex
}

// Options carries the collaborators of a Bot.
type Options struct {
	Users        *repository.UserRepository
	Tasks        *service.TaskService
	Report       *service.DeadlineReport
	Clock        clockwork.Clock
	Location     *time.Location
	DigestWindow time.Duration
	Logger       *logger.Logger
}

// NewAPI authorizes against Telegram. The client is shared by the bot and
// the notifier.
func NewAPI(token string) (*tgbotapi.BotAPI, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}
	return api, nil
}

func New(client *tgbotapi.BotAPI, opts Options) *Bot {
	b := newBot(client, opts)
	b.client = client
	b.log.Infow("bot authorized", "account", client.Self.UserName)
	return b
}

func newBot(api sender, opts Options) *Bot {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.DigestWindow <= 0 {
		opts.DigestWindow = 24 * time.Hour
	}
	return &Bot{
		api:           api,
		users:         opts.Users,
		tasks:         opts.Tasks,
		report:        opts.Report,
		clock:         opts.Clock,
		loc:           opts.Location,
		digestWindow:  opts.DigestWindow,
		log:           opts.Logger.WithComponent("bot"),
		conversations: make(map[int64]*conversationState),
	}
}

// Start begins polling updates until ctx is cancelled.
func (b *Bot) Start(ctx context.Context) error {
	if b.client == nil {
		return errors.New("bot has no telegram client")
	}
	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = 60
	updates := b.client.GetUpdatesChan(updateConfig)

	b.log.Info("start polling updates")

	go func() {
		<-ctx.Done()
		b.client.StopReceivingUpdates()
	}()

	for update := range updates {
		switch {
		case update.CallbackQuery != nil:
			if err := b.handleCallback(ctx, update.CallbackQuery); err != nil {
				b.log.Errorw("handle callback", "error", err)
			}
		case update.Message != nil:
			if update.Message.Chat == nil || !update.Message.Chat.IsPrivate() {
				continue
			}
			if err := b.handleMessage(ctx, update.Message); err != nil {
				b.log.Errorw("handle message", "error", err)
			}
		}
	}

	return nil
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) error {
	if msg.From == nil {
		return nil
	}

	if !msg.IsCommand() && isCancelDialogInput(msg.Text) {
		b.clearConversation(msg.From.ID)
		return b.sendText(msg.Chat.ID, "⏪ Input cancelled.")
	}

	if msg.IsCommand() {
		b.log.Debugw("command", "from", msg.From.ID, "command", msg.Command(), "args", msg.CommandArguments())
		return b.handleCommand(ctx, msg)
	}

	if handled, err := b.handleMenuAlias(ctx, msg); handled {
		return err
	}

	if state := b.getConversation(msg.From.ID); state != nil && state.stage == stageTaskLine {
		b.clearConversation(msg.From.ID)
		return b.createFromLine(ctx, msg.Chat.ID, msg.From, msg.Text)
	}

	return b.sendText(msg.Chat.ID, "I did not understand that. Use /newtask to add a task or /help for the command list.")
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) error {
	switch msg.Command() {
	case "start":
		return b.handleStart(ctx, msg)
	case "help":
		return b.handleHelp(msg)
	case "newtask":
		return b.handleNewTask(ctx, msg)
	case "tasks":
		return b.handleListTasks(ctx, msg)
	case "upcoming":
		return b.handleUpcoming(ctx, msg)
	case "cancel":
		b.clearConversation(msg.From.ID)
		return b.sendText(msg.Chat.ID, "⏪ Input cancelled.")
	default:
		return b.sendText(msg.Chat.ID, "Unknown command. Try /help.")
	}
}

func (b *Bot) handleStart(ctx context.Context, msg *tgbotapi.Message) error {
	if _, err := b.ensureUser(ctx, msg.From); err != nil {
		return err
	}

	name := strings.TrimSpace(msg.From.FirstName)
	if name == "" {
		name = "there"
	}

	text := fmt.Sprintf(
		"👋 Hi, %s!\n<b>I keep track of your tasks and remind you before they start.</b>\n\n"+
			"You will get reminders a day, an hour and 15 minutes before each scheduled task.\n\n%s",
		escape(name), commandList,
	)
	return b.sendText(msg.Chat.ID, text)
}

const commandList = "Commands:\n" +
	"• /newtask — add a task\n" +
	"• /tasks — open tasks, tap to complete\n" +
	"• /upcoming — deadlines in the next day\n" +
	"• /help — this list\n" +
	"• /cancel — cancel the current input"

func (b *Bot) handleHelp(msg *tgbotapi.Message) error {
	return b.sendText(msg.Chat.ID, "ℹ️ <b>Help</b>\n"+commandList+"\n\n"+newTaskUsage)
}

func (b *Bot) handleNewTask(ctx context.Context, msg *tgbotapi.Message) error {
	args := strings.TrimSpace(msg.CommandArguments())
	if args == "" {
		b.setConversation(msg.From.ID, &conversationState{stage: stageTaskLine})
		return b.sendWithReplyMarkup(msg.Chat.ID, newTaskUsage, cancelKeyboard())
	}
	return b.createFromLine(ctx, msg.Chat.ID, msg.From, args)
}

func (b *Bot) createFromLine(ctx context.Context, chatID int64, from *tgbotapi.User, line string) error {
	today := model.DateOf(b.clock.Now().In(b.loc))
	input, err := parseTaskLine(line, today)
	if err != nil {
		return b.sendText(chatID, fmt.Sprintf("❌ %s\n\n%s", escape(err.Error()), newTaskUsage))
	}

	user, err := b.ensureUser(ctx, from)
	if err != nil {
		return err
	}

	result, err := b.tasks.Create(ctx, user.ID, input)
	if err != nil {
		return b.sendText(chatID, "❌ "+escape(userMessage(err)))
	}
	b.log.Infow("task created from chat", "task_id", result.Task.ID, "user_id", user.ID)

	text := fmt.Sprintf("✅ Task «%s» added.", escape(normalizeTitle(result.Task.Title)))
	if result.Task.Deadline != nil {
		text += fmt.Sprintf("\n⏰ Deadline: %s", result.Task.Deadline.In(b.loc).Format("2006-01-02 15:04"))
	}
	return b.sendText(chatID, text)
}

func (b *Bot) handleListTasks(ctx context.Context, msg *tgbotapi.Message) error {
	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}
	return b.sendTaskList(ctx, msg.Chat.ID, user)
}

func (b *Bot) handleUpcoming(ctx context.Context, msg *tgbotapi.Message) error {
	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}
	tasks, now, err := b.report.Upcoming(ctx, user.ID, b.digestWindow)
	if err != nil {
		return b.sendText(msg.Chat.ID, "Could not load deadlines: "+escape(userMessage(err)))
	}
	return b.sendText(msg.Chat.ID, b.report.FormatDigest(tasks, now))
}

// SendDailyDigest sends upcoming deadlines to every user known to the bot.
func (b *Bot) SendDailyDigest(ctx context.Context) error {
	users, err := b.users.ListWithTelegram(ctx)
	if err != nil {
		return err
	}
	for _, user := range users {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		tasks, now, err := b.report.Upcoming(ctx, user.ID, b.digestWindow)
		if err != nil {
			b.log.Errorw("build digest", "user_id", user.ID, "error", err)
			continue
		}
		if len(tasks) == 0 {
			continue
		}
		if err := b.sendText(user.TelegramID, b.report.FormatDigest(tasks, now)); err != nil {
			b.log.Warnw("send digest", "telegram_id", user.TelegramID, "error", err)
		}
	}
	return nil
}

func (b *Bot) sendTaskList(ctx context.Context, chatID int64, user *model.User) error {
	pending := false
	tasks, err := b.tasks.List(ctx, user.ID, repository.TaskFilter{Completed: &pending})
	if err != nil {
		return b.sendText(chatID, "Could not load tasks: "+escape(userMessage(err)))
	}
	if len(tasks) == 0 {
		return b.sendText(chatID, "You have no open tasks. Add one with /newtask.")
	}

	groups := make(map[model.Category][]model.Task)
	var order []model.Category
	for _, task := range tasks {
		if _, ok := groups[task.Category]; !ok {
			order = append(order, task.Category)
		}
		groups[task.Category] = append(groups[task.Category], task)
	}
	sort.Slice(order, func(i, j int) bool {
		if order[i] == model.CategoryOther {
			return false
		}
		if order[j] == model.CategoryOther {
			return true
		}
		return order[i] < order[j]
	})

	now := b.clock.Now().In(b.loc)
	var builder strings.Builder
	builder.WriteString("📋 <b>Open tasks</b>\n")
	builder.WriteString("Tap a button to mark the task done.\n\n")

	var buttons [][]tgbotapi.InlineKeyboardButton
	for _, category := range order {
		builder.WriteString(fmt.Sprintf("<b>%s</b>\n", categoryLabel(category)))
		for _, task := range groups[category] {
			builder.WriteString(b.formatTask(task, now))
			buttons = append(buttons, tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData(iconDone+" "+shortTitle(task.Title, 24), cbTogglePrefix+task.ID),
				tgbotapi.NewInlineKeyboardButtonData("🗑", cbDeletePrefix+task.ID),
			))
		}
		builder.WriteByte('\n')
	}

	msg := tgbotapi.NewMessage(chatID, strings.TrimSpace(builder.String()))
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(buttons...)
	msg.ParseMode = tgbotapi.ModeHTML
	_, err = b.api.Send(msg)
	return err
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) error {
	if cb == nil || cb.From == nil || cb.Message == nil {
		return nil
	}
	if _, err := b.api.Request(tgbotapi.NewCallback(cb.ID, "")); err != nil {
		b.log.Warnw("callback ack", "error", err)
	}

	data := cb.Data
	switch {
	case strings.HasPrefix(data, cbTogglePrefix):
		return b.toggleAndRefresh(ctx, cb.Message.Chat.ID, cb.From, strings.TrimPrefix(data, cbTogglePrefix))
	case strings.HasPrefix(data, cbDeletePrefix):
		return b.deleteAndRefresh(ctx, cb.Message.Chat.ID, cb.From, strings.TrimPrefix(data, cbDeletePrefix))
	default:
		return nil
	}
}

func (b *Bot) toggleAndRefresh(ctx context.Context, chatID int64, from *tgbotapi.User, taskID string) error {
	user, err := b.ensureUser(ctx, from)
	if err != nil {
		return err
	}

	task, err := b.tasks.Toggle(ctx, user.ID, taskID)
	if err != nil {
		if errors.Is(err, exceptions.ErrTaskNotFound) {
			return b.sendText(chatID, "Task not found or already deleted.")
		}
		return b.sendText(chatID, "Error: "+escape(userMessage(err)))
	}

	b.log.Infow("task toggled from chat", "task_id", task.ID, "user_id", user.ID, "completed", task.Completed)
	info := fmt.Sprintf("%s Task «%s» is done.", iconDone, escape(normalizeTitle(task.Title)))
	if !task.Completed {
		info = fmt.Sprintf("↩️ Task «%s» is open again.", escape(normalizeTitle(task.Title)))
	}
	if err := b.sendText(chatID, info); err != nil {
		return err
	}
	return b.sendTaskList(ctx, chatID, user)
}

func (b *Bot) deleteAndRefresh(ctx context.Context, chatID int64, from *tgbotapi.User, taskID string) error {
	user, err := b.ensureUser(ctx, from)
	if err != nil {
		return err
	}

	task, err := b.tasks.Get(ctx, user.ID, taskID)
	if err != nil {
		return b.sendText(chatID, "Task not found or already deleted.")
	}
	if err := b.tasks.Delete(ctx, user.ID, taskID); err != nil {
		return b.sendText(chatID, "Error: "+escape(userMessage(err)))
	}

	b.log.Infow("task deleted from chat", "task_id", task.ID, "user_id", user.ID)
	if err := b.sendText(chatID, fmt.Sprintf("🗑 Task «%s» deleted.", escape(normalizeTitle(task.Title)))); err != nil {
		return err
	}
	return b.sendTaskList(ctx, chatID, user)
}

func (b *Bot) handleMenuAlias(ctx context.Context, msg *tgbotapi.Message) (bool, error) {
	text := strings.TrimSpace(strings.ToLower(msg.Text))
	switch text {
	case strings.ToLower(menuLabelNewTask):
		return true, b.handleNewTask(ctx, msg)
	case strings.ToLower(menuLabelTasks):
		return true, b.handleListTasks(ctx, msg)
	case strings.ToLower(menuLabelSoon):
		return true, b.handleUpcoming(ctx, msg)
	case strings.ToLower(menuLabelHelp):
		return true, b.handleHelp(msg)
	default:
		return false, nil
	}
}

func (b *Bot) setConversation(userID int64, state *conversationState) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.conversations[userID] = state
}

func (b *Bot) getConversation(userID int64) *conversationState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conversations[userID]
}

func (b *Bot) clearConversation(userID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.conversations, userID)
}

func (b *Bot) ensureUser(ctx context.Context, from *tgbotapi.User) (*model.User, error) {
	return b.users.UpsertFromTelegram(ctx, from.ID, from.FirstName, from.LastName, from.UserName)
}

func (b *Bot) sendText(chatID int64, text string) error {
	return b.sendWithReplyMarkup(chatID, text, mainMenuKeyboard())
}

func (b *Bot) sendWithReplyMarkup(chatID int64, text string, markup interface{}) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = markup
	_, err := b.api.Send(msg)
	return err
}

func (b *Bot) formatTask(task model.Task, now time.Time) string {
	var sb strings.Builder
	icon := iconDefault
	switch {
	case task.Completed:
		icon = iconDone
	case task.IsOverdue(now):
		icon = iconOverdue
	case task.Deadline != nil && task.Deadline.Sub(now) <= 48*time.Hour:
		icon = iconDue
	}
	sb.WriteString(fmt.Sprintf("%s %s <i>[%s]</i>\n", icon, escape(normalizeTitle(task.Title)), task.Priority))
	if task.TaskDate != nil && task.HasSlot() {
		sb.WriteString(fmt.Sprintf("   🗓 %s %02d:%02d-%02d:%02d\n", task.TaskDate,
			task.StartTime.Hour, task.StartTime.Minute, task.EndTime.Hour, task.EndTime.Minute))
	}
	if task.Deadline != nil {
		d := task.Deadline.In(b.loc)
		if task.IsOverdue(now) {
			sb.WriteString(fmt.Sprintf("   ⏰ Deadline: %s · <b>overdue</b>\n", d.Format("2006-01-02 15:04")))
		} else {
			sb.WriteString(fmt.Sprintf("   ⏰ Deadline: %s\n", d.Format("2006-01-02 15:04")))
		}
	}
	if task.Description != "" {
		sb.WriteString(fmt.Sprintf("   📝 %s\n", escape(task.Description)))
	}
	return sb.String()
}

func mainMenuKeyboard() tgbotapi.ReplyKeyboardMarkup {
	kb := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(menuLabelNewTask),
			tgbotapi.NewKeyboardButton(menuLabelTasks),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(menuLabelSoon),
			tgbotapi.NewKeyboardButton(menuLabelHelp),
		),
	)
	kb.ResizeKeyboard = true
	kb.OneTimeKeyboard = false
	return kb
}

func cancelKeyboard() tgbotapi.ReplyKeyboardMarkup {
	kb := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(btnCancelDialog),
		),
	)
	kb.ResizeKeyboard = true
	kb.OneTimeKeyboard = true
	return kb
}

func isCancelDialogInput(text string) bool {
	value := strings.TrimSpace(strings.ToLower(text))
	return value == strings.ToLower(btnCancelDialog) || value == "cancel"
}

// userMessage hides storage details from chat users.
func userMessage(err error) string {
	var ex *exceptions.Exception
	if errors.As(err, &ex) {
		return ex.Message
	}
	return "something went wrong, try again later"
}

func shortTitle(title string, maxLen int) string {
	clean := normalizeTitle(strings.ReplaceAll(title, "\n", " "))
	runes := []rune(clean)
	if len(runes) <= maxLen {
		return clean
	}
	if maxLen <= 1 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-1]) + "…"
}

func escape(s string) string {
	return html.EscapeString(s)
}

func normalizeTitle(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return value
	}
	runes := []rune(value)
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}

func categoryLabel(category model.Category) string {
	var icon string
	switch category {
	case model.CategoryStudy:
		icon = "🎓"
	case model.CategoryWork:
		icon = "💼"
	case model.CategoryShopping:
		icon = "🛒"
	case model.CategoryHealth:
		icon = "🩺"
	case model.CategoryPersonal:
		icon = "🧩"
	default:
		icon = "📁"
	}
	return fmt.Sprintf("%s %s", icon, normalizeTitle(string(category)))
}
