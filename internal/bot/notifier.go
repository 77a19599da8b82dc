package bot

import (
	"context"
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"task-planner/internal/model"
	"task-planner/internal/notify"
	"task-planner/internal/repository"
)

// Notifier delivers task notifications as Telegram messages.
type Notifier struct {
	api   sender
	users *repository.UserRepository
	loc   *time.Location
}

func NewNotifier(client *tgbotapi.BotAPI, users *repository.UserRepository, loc *time.Location) *Notifier {
	return newNotifier(client, users, loc)
}

func newNotifier(api sender, users *repository.UserRepository, loc *time.Location) *Notifier {
	return &Notifier{api: api, users: users, loc: loc}
}

func (n *Notifier) Notify(ctx context.Context, msg notify.Notification) error {
	if msg.Task == nil {
		return notify.ErrNoRecipient
	}
	owner, err := n.owner(ctx, msg.Task)
	if err != nil {
		return err
	}
	if owner.TelegramID == 0 {
		return notify.ErrNoRecipient
	}

	out := tgbotapi.NewMessage(owner.TelegramID, notify.Body(msg, n.loc))
	if _, err := n.api.Send(out); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}

func (n *Notifier) owner(ctx context.Context, task *model.Task) (*model.User, error) {
	if task.User != nil {
		return task.User, nil
	}
	if n.users == nil {
		return nil, notify.ErrNoRecipient
	}
	user, err := n.users.FindByID(ctx, task.UserID)
	if err != nil {
		return nil, fmt.Errorf("resolve owner: %w", err)
	}
	return user, nil
}
