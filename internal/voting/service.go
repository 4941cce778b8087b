package voting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/maaaruch/tg-nomination-bot/internal/domain"
	"github.com/maaaruch/tg-nomination-bot/internal/storage"
)

// Kind — итог попытки голосования, который диалоговый слой переводит
// в текст для пользователя.
type Kind string

const (
	KindVoteCast            Kind = "vote_cast"
	KindVoteChanged         Kind = "vote_changed"
	KindDuplicateVote       Kind = "duplicate_vote"
	KindUserNotFound        Kind = "user_not_found"
	KindNominationNotFound  Kind = "nomination_not_found"
	KindVotingClosed        Kind = "voting_closed"
	KindParticipantNotFound Kind = "participant_not_found"
	KindStoreUnavailable    Kind = "store_unavailable"
)

type Result struct {
	Accepted       bool
	Kind           Kind
	OldParticipant string // заполнено при KindVoteChanged
	NewParticipant string
}

const defaultMaxAttempts = 3

type Service struct {
	store       *storage.Store
	logger      *slog.Logger
	maxAttempts int
}

func NewService(store *storage.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:       store,
		logger:      logger,
		maxAttempts: defaultMaxAttempts,
	}
}

// CastVote реализует политику голосования поверх хранилища: первый голос —
// вставка, повторный за того же участника — отказ без записи, за другого —
// атомарный перенос счётчика. Бизнес-отказы терминальны; ErrConflict и
// ErrBusy — транзиентные, вся последовательность «прочитал-проверил-записал»
// повторяется с перечитыванием состояния ограниченное число раз.
func (s *Service) CastVote(ctx context.Context, userID, nominationID int64, participantName string) (Result, error) {
	var lastErr error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		res, err := s.castOnce(ctx, userID, nominationID, participantName)
		if err == nil {
			return res, nil
		}
		if !errors.Is(err, storage.ErrConflict) && !errors.Is(err, storage.ErrBusy) {
			return Result{Kind: KindStoreUnavailable}, err
		}
		lastErr = err
		s.logger.Warn("повтор голосования после транзиентной ошибки",
			"user_id", userID,
			"nomination_id", nominationID,
			"attempt", attempt,
			"error", err,
		)
	}
	return Result{Kind: KindStoreUnavailable},
		fmt.Errorf("cast vote: retries exhausted: %w", lastErr)
}

func (s *Service) castOnce(ctx context.Context, userID, nominationID int64, participantName string) (Result, error) {
	// Регистрация — забота внешнего слоя, но внешним вызовам не доверяем:
	// голос от несуществующего пользователя отклоняем сами.
	if _, err := s.store.GetUser(ctx, userID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Result{Kind: KindUserNotFound}, nil
		}
		return Result{}, err
	}

	nom, err := s.store.GetNomination(ctx, nominationID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Result{Kind: KindNominationNotFound}, nil
		}
		return Result{}, err
	}

	// Неактивная номинация заморожена целиком: ни новых голосов, ни смены.
	if !nom.IsActive {
		return Result{Kind: KindVotingClosed}, nil
	}

	if !nom.HasParticipant(participantName) {
		return Result{Kind: KindParticipantNotFound}, nil
	}

	change := domain.VoteChange{
		NominationID:   nominationID,
		NewParticipant: participantName,
		UserID:         userID,
		VotedAt:        time.Now().UTC(),
	}
	kind := KindVoteCast

	existing, err := s.store.FindVote(ctx, userID, nominationID)
	switch {
	case err == nil:
		if existing.ParticipantName == participantName {
			// Обязательный no-op: никаких записей в хранилище.
			return Result{Kind: KindDuplicateVote, NewParticipant: participantName}, nil
		}
		change.OldParticipant = existing.ParticipantName
		change.VoteID = existing.ID
		kind = KindVoteChanged
	case errors.Is(err, storage.ErrNotFound):
		// первый голос
	default:
		return Result{}, err
	}

	if err := s.store.ApplyVoteChange(ctx, change); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			// Участника (или номинацию) убрали между чтением и коммитом —
			// это отказ пользователю, а не частично применённый голос.
			return Result{Kind: KindParticipantNotFound}, nil
		}
		return Result{}, err
	}

	s.logger.Info("голос учтён",
		"user_id", userID,
		"nomination_id", nominationID,
		"participant", participantName,
		"changed_from", change.OldParticipant,
	)

	return Result{
		Accepted:       true,
		Kind:           kind,
		OldParticipant: change.OldParticipant,
		NewParticipant: participantName,
	}, nil
}

// ---------- Read accessors ----------

func (s *Service) ListActiveNominations(ctx context.Context) ([]domain.Nomination, error) {
	return s.store.ListActiveNominations(ctx)
}

func (s *Service) GetNomination(ctx context.Context, id int64) (*domain.Nomination, error) {
	return s.store.GetNomination(ctx, id)
}

func (s *Service) ListParticipants(ctx context.Context, nominationID int64) ([]domain.Participant, error) {
	return s.store.ListParticipants(ctx, nominationID)
}
