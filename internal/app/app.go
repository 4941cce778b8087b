package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/maaaruch/tg-nomination-bot/internal/cache"
	"github.com/maaaruch/tg-nomination-bot/internal/domain"
	"github.com/maaaruch/tg-nomination-bot/internal/session"
	"github.com/maaaruch/tg-nomination-bot/internal/storage"
	"github.com/maaaruch/tg-nomination-bot/internal/voting"
)

type App struct {
	bot      *tgbotapi.BotAPI
	votes    *voting.Service
	store    *storage.Store
	cache    *cache.Cache
	sessions *session.Manager
	logger   *slog.Logger
}

func New(bot *tgbotapi.BotAPI, votes *voting.Service, store *storage.Store, c *cache.Cache, logger *slog.Logger) *App {
	if logger == nil {
		logger = slog.Default()
	}
	return &App{
		bot:      bot,
		votes:    votes,
		store:    store,
		cache:    c,
		sessions: session.NewManager(),
		logger:   logger,
	}
}

func (a *App) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := a.bot.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			a.bot.StopReceivingUpdates()
			return

		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.Message != nil {
				a.handleMessage(ctx, update.Message)
			} else if update.CallbackQuery != nil {
				a.handleCallback(ctx, update.CallbackQuery)
			}
		}
	}
}

// ---------- Updates ----------

func (a *App) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil {
		return
	}

	if msg.IsCommand() {
		switch msg.Command() {
		case "start":
			a.handleStart(ctx, msg)

		case "help":
			a.bot.Send(tgbotapi.NewMessage(msg.Chat.ID,
				"Команды:\n/nominations – список номинаций\n/start – начать заново"))

		case "nominations":
			if err := a.sendNominationsList(ctx, msg.Chat.ID); err != nil {
				a.logger.Error("список номинаций", "error", err)
			}

		default:
			a.bot.Send(tgbotapi.NewMessage(msg.Chat.ID, "Не знаю такой команды. Попробуй /start"))
		}
		return
	}

	if strings.Contains(strings.ToLower(msg.Text), "номинац") {
		a.bot.Send(tgbotapi.NewMessage(msg.Chat.ID, "Список номинаций – по команде /nominations."))
	}
}

// handleStart заводит (или обновляет) запись пользователя и показывает
// номинации. Полноценную регистрацию с телефоном ведёт внешний слой —
// боту достаточно, чтобы пользователь существовал в хранилище.
func (a *App) handleStart(ctx context.Context, msg *tgbotapi.Message) {
	u := domain.User{
		ID:       msg.From.ID,
		FullName: strings.TrimSpace(msg.From.FirstName + " " + msg.From.LastName),
		Username: msg.From.UserName,
	}
	if err := a.store.UpsertUser(ctx, u); err != nil {
		a.logger.Error("upsert пользователя", "user_id", u.ID, "error", err)
		a.bot.Send(tgbotapi.NewMessage(msg.Chat.ID, "Что-то пошло не так, попробуй ещё раз."))
		return
	}

	a.bot.Send(tgbotapi.NewMessage(msg.Chat.ID,
		"Привет! Это бот для голосования по номинациям.\n"+
			"Выбирай номинацию, смотри участников и отдавай голос. "+
			"Передумал – просто проголосуй за другого участника."))

	if err := a.sendNominationsList(ctx, msg.Chat.ID); err != nil {
		a.logger.Error("список номинаций после /start", "error", err)
	}
}

func (a *App) handleCallback(ctx context.Context, cq *tgbotapi.CallbackQuery) {
	if cq.From == nil || cq.Message == nil {
		return
	}
	data := cq.Data
	userID := cq.From.ID
	sess := a.sessions.Get(userID)

	// убрать "часики" у кнопки
	_, _ = a.bot.Request(tgbotapi.NewCallback(cq.ID, ""))

	switch {
	case data == "back:nominations":
		if err := a.sendNominationsList(ctx, cq.Message.Chat.ID); err != nil {
			a.logger.Error("back:nominations", "error", err)
		}

	// открыть номинацию, показать участников
	case strings.HasPrefix(data, "nomination:"):
		nomID, err := strconv.ParseInt(strings.TrimPrefix(data, "nomination:"), 10, 64)
		if err != nil {
			return
		}
		sess.LastNominationID = nomID
		if err := a.sendParticipants(ctx, cq.Message.Chat.ID, nomID); err != nil {
			a.logger.Error("показ участников", "nomination_id", nomID, "error", err)
		}

	// голос за участника
	case strings.HasPrefix(data, "vote:"):
		nomID, participantID, err := parseVoteCallback(data)
		if err != nil {
			return
		}
		a.handleVote(ctx, cq, sess, nomID, participantID)
	}
}

// handleVote переводит callback в вызов сервиса голосования и рисует ответ.
// Имя участника резолвится по ID из текущего списка: в callback_data оно
// не влезает (лимит Telegram — 64 байта).
func (a *App) handleVote(ctx context.Context, cq *tgbotapi.CallbackQuery, sess *session.Session, nominationID, participantID int64) {
	chatID := cq.Message.Chat.ID

	participants, err := a.votes.ListParticipants(ctx, nominationID)
	if err != nil {
		a.logger.Error("участники перед голосом", "nomination_id", nominationID, "error", err)
		a.bot.Send(tgbotapi.NewMessage(chatID, "Что-то пошло не так, попробуй ещё раз."))
		return
	}

	var name string
	for _, p := range participants {
		if p.ID == participantID {
			name = p.Name
			break
		}
	}
	if name == "" {
		a.bot.Send(tgbotapi.NewMessage(chatID, "Этот участник больше не существует."))
		return
	}

	res, err := a.votes.CastVote(ctx, cq.From.ID, nominationID, name)
	if err != nil {
		a.logger.Error("голосование", "user_id", cq.From.ID, "nomination_id", nominationID, "error", err)
	}

	a.bot.Send(tgbotapi.NewMessage(chatID, renderResult(res)))

	// После отказа показываем актуальных участников, после успеха — номинации,
	// чтобы не листать вверх.
	if res.Accepted {
		if err := a.sendNominationsList(ctx, chatID); err != nil {
			a.logger.Error("номинации после голоса", "error", err)
		}
		return
	}
	if sess.LastNominationID != 0 && res.Kind == voting.KindParticipantNotFound {
		if err := a.sendParticipants(ctx, chatID, sess.LastNominationID); err != nil {
			a.logger.Error("участники после отказа", "error", err)
		}
	}
}

// renderResult переводит исход голосования в текст для пользователя.
func renderResult(res voting.Result) string {
	switch res.Kind {
	case voting.KindVoteCast:
		return fmt.Sprintf("Голос принят! Ты проголосовал за: %s 🎯", res.NewParticipant)
	case voting.KindVoteChanged:
		return fmt.Sprintf("Голос перенесён: %s → %s 🔄", res.OldParticipant, res.NewParticipant)
	case voting.KindDuplicateVote:
		return "Ты уже голосовал за этого участника 🚨 Хочешь — выбери другого."
	case voting.KindVotingClosed:
		return "Голосование в этой номинации закрыто."
	case voting.KindParticipantNotFound:
		return "Этот участник больше не существует. Выбери из актуального списка."
	case voting.KindNominationNotFound:
		return "Эта номинация больше не существует."
	case voting.KindUserNotFound:
		return "Сначала нажми /start, чтобы зарегистрироваться."
	default:
		return "Что-то пошло не так, попробуй ещё раз."
	}
}

// ---------- Рендеринг списков ----------

func (a *App) listActiveNominations(ctx context.Context) ([]domain.Nomination, error) {
	if noms, ok := a.cache.GetActiveNominations(ctx); ok {
		return noms, nil
	}

	noms, err := a.votes.ListActiveNominations(ctx)
	if err != nil {
		return nil, err
	}
	a.cache.SetActiveNominations(ctx, noms)
	return noms, nil
}

func (a *App) sendNominationsList(ctx context.Context, chatID int64) error {
	nominations, err := a.listActiveNominations(ctx)
	if err != nil {
		return err
	}

	if len(nominations) == 0 {
		_, sendErr := a.bot.Send(tgbotapi.NewMessage(chatID, "Сейчас нет активных номинаций. Загляни позже!"))
		return sendErr
	}

	var buttons [][]tgbotapi.InlineKeyboardButton
	for _, n := range nominations {
		buttons = append(buttons, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🏆 "+n.Title, fmt.Sprintf("nomination:%d", n.ID)),
		))
	}

	msg := tgbotapi.NewMessage(chatID, "Выбери номинацию и поддержи своего участника:")
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(buttons...)
	_, err = a.bot.Send(msg)
	return err
}

func (a *App) sendParticipants(ctx context.Context, chatID, nominationID int64) error {
	nom, err := a.votes.GetNomination(ctx, nominationID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			_, sendErr := a.bot.Send(tgbotapi.NewMessage(chatID, "Эта номинация больше не существует."))
			return sendErr
		}
		return err
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("🏆 %s\n", nom.Title))
	if nom.Description != "" {
		sb.WriteString(nom.Description + "\n")
	}
	if !nom.IsActive {
		sb.WriteString("\nГолосование в этой номинации закрыто.\n")
	}

	if len(nom.Participants) == 0 {
		sb.WriteString("\nВ этой номинации пока нет участников.")
		m := tgbotapi.NewMessage(chatID, sb.String())
		m.ReplyMarkup = backKeyboard()
		_, sendErr := a.bot.Send(m)
		return sendErr
	}

	sb.WriteString("\nНажми на участника, чтобы отдать голос:")

	var rows [][]tgbotapi.InlineKeyboardButton
	if nom.IsActive {
		for _, p := range nom.Participants {
			rows = append(rows, tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData(
					"✅ "+p.Name,
					fmt.Sprintf("vote:%d:%d", nominationID, p.ID),
				),
			))
		}
	}
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("⬅️ Назад к номинациям", "back:nominations"),
	))

	m := tgbotapi.NewMessage(chatID, sb.String())
	m.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	_, err = a.bot.Send(m)
	return err
}

func backKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("⬅️ Назад к номинациям", "back:nominations"),
		),
	)
}

// parseVoteCallback разбирает callback_data формата "vote:<nominationID>:<participantID>".
func parseVoteCallback(data string) (nominationID, participantID int64, err error) {
	rest, ok := strings.CutPrefix(data, "vote:")
	if !ok {
		return 0, 0, fmt.Errorf("not a vote callback: %q", data)
	}
	parts := strings.Split(rest, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("malformed vote callback: %q", data)
	}
	nominationID, err = strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed nomination id: %q", data)
	}
	participantID, err = strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed participant id: %q", data)
	}
	return nominationID, participantID, nil
}
