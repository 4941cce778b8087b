package voting

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/maaaruch/tg-nomination-bot/internal/domain"
	"github.com/maaaruch/tg-nomination-bot/internal/storage"
)

func newTestService(t *testing.T) (*Service, *storage.Store, *sql.DB) {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store := storage.New(db)
	require.NoError(t, store.InitSchema())

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(store, logger), store, db
}

func votesFor(t *testing.T, db *sql.DB, nomID int64, name string) int64 {
	t.Helper()
	var n int64
	err := db.QueryRow(`SELECT votes FROM participants WHERE nomination_id = ? AND name = ?`, nomID, name).Scan(&n)
	require.NoError(t, err)
	return n
}

func voteRows(t *testing.T, db *sql.DB, nomID int64) int64 {
	t.Helper()
	var n int64
	err := db.QueryRow(`SELECT COUNT(*) FROM votes WHERE nomination_id = ?`, nomID).Scan(&n)
	require.NoError(t, err)
	return n
}

// Сквозной сценарий: первый голос, перенос, повторный дубль.
func TestCastVote_FirstThenChangeThenDuplicate(t *testing.T) {
	svc, store, db := newTestService(t)
	ctx := context.Background()

	nomID, err := store.CreateNomination(ctx, "Лучшая песня", "")
	require.NoError(t, err)
	_, err = store.AddParticipant(ctx, nomID, "Alice")
	require.NoError(t, err)
	_, err = store.AddParticipant(ctx, nomID, "Bob")
	require.NoError(t, err)
	require.NoError(t, store.UpsertUser(ctx, domain.User{ID: 42, FullName: "Тестовый Пользователь"}))

	// Первый голос за Алису.
	res, err := svc.CastVote(ctx, 42, nomID, "Alice")
	require.NoError(t, err)
	require.True(t, res.Accepted)
	require.Equal(t, KindVoteCast, res.Kind)
	require.Equal(t, "Alice", res.NewParticipant)
	require.EqualValues(t, 1, votesFor(t, db, nomID, "Alice"))
	require.EqualValues(t, 0, votesFor(t, db, nomID, "Bob"))

	// Перенос на Боба: декремент и инкремент в одной транзакции.
	res, err = svc.CastVote(ctx, 42, nomID, "Bob")
	require.NoError(t, err)
	require.True(t, res.Accepted)
	require.Equal(t, KindVoteChanged, res.Kind)
	require.Equal(t, "Alice", res.OldParticipant)
	require.Equal(t, "Bob", res.NewParticipant)
	require.EqualValues(t, 0, votesFor(t, db, nomID, "Alice"))
	require.EqualValues(t, 1, votesFor(t, db, nomID, "Bob"))

	// Дубль — отказ без единой записи.
	res, err = svc.CastVote(ctx, 42, nomID, "Bob")
	require.NoError(t, err)
	require.False(t, res.Accepted)
	require.Equal(t, KindDuplicateVote, res.Kind)
	require.EqualValues(t, 0, votesFor(t, db, nomID, "Alice"))
	require.EqualValues(t, 1, votesFor(t, db, nomID, "Bob"))
	require.EqualValues(t, 1, voteRows(t, db, nomID))

	v, err := store.FindVote(ctx, 42, nomID)
	require.NoError(t, err)
	require.Equal(t, "Bob", v.ParticipantName)
}

func TestCastVote_UserNotFound(t *testing.T) {
	svc, store, db := newTestService(t)
	ctx := context.Background()

	nomID, err := store.CreateNomination(ctx, "Nom", "")
	require.NoError(t, err)
	_, err = store.AddParticipant(ctx, nomID, "Alice")
	require.NoError(t, err)

	res, err := svc.CastVote(ctx, 777, nomID, "Alice")
	require.NoError(t, err)
	require.False(t, res.Accepted)
	require.Equal(t, KindUserNotFound, res.Kind)
	require.EqualValues(t, 0, votesFor(t, db, nomID, "Alice"))
}

func TestCastVote_NominationNotFound(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertUser(ctx, domain.User{ID: 1, FullName: "u"}))

	res, err := svc.CastVote(ctx, 1, 12345, "Alice")
	require.NoError(t, err)
	require.False(t, res.Accepted)
	require.Equal(t, KindNominationNotFound, res.Kind)
}

func TestCastVote_VotingClosed(t *testing.T) {
	svc, store, db := newTestService(t)
	ctx := context.Background()

	nomID, err := store.CreateNomination(ctx, "Nom", "")
	require.NoError(t, err)
	_, err = store.AddParticipant(ctx, nomID, "Alice")
	require.NoError(t, err)
	_, err = store.AddParticipant(ctx, nomID, "Bob")
	require.NoError(t, err)
	require.NoError(t, store.UpsertUser(ctx, domain.User{ID: 1, FullName: "u"}))

	// Голос до закрытия проходит.
	res, err := svc.CastVote(ctx, 1, nomID, "Alice")
	require.NoError(t, err)
	require.True(t, res.Accepted)

	require.NoError(t, store.SetNominationActive(ctx, nomID, false))

	// Закрытая номинация заморожена: и новый голос, и перенос отклоняются.
	res, err = svc.CastVote(ctx, 1, nomID, "Bob")
	require.NoError(t, err)
	require.False(t, res.Accepted)
	require.Equal(t, KindVotingClosed, res.Kind)
	require.EqualValues(t, 1, votesFor(t, db, nomID, "Alice"))
	require.EqualValues(t, 0, votesFor(t, db, nomID, "Bob"))
}

func TestCastVote_ParticipantNotFound(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	nomID, err := store.CreateNomination(ctx, "Nom", "")
	require.NoError(t, err)
	_, err = store.AddParticipant(ctx, nomID, "Alice")
	require.NoError(t, err)
	require.NoError(t, store.UpsertUser(ctx, domain.User{ID: 1, FullName: "u"}))

	res, err := svc.CastVote(ctx, 1, nomID, "Nobody")
	require.NoError(t, err)
	require.False(t, res.Accepted)
	require.Equal(t, KindParticipantNotFound, res.Kind)
}

// N разных пользователей голосуют одновременно — счётчик обязан сойтись
// с числом записей, ни один инкремент не теряется.
func TestCastVote_ConcurrentDistinctUsers(t *testing.T) {
	svc, store, db := newTestService(t)
	ctx := context.Background()

	nomID, err := store.CreateNomination(ctx, "Nom", "")
	require.NoError(t, err)
	_, err = store.AddParticipant(ctx, nomID, "P")
	require.NoError(t, err)

	const numVoters = 15
	for i := int64(1); i <= numVoters; i++ {
		require.NoError(t, store.UpsertUser(ctx, domain.User{ID: i, FullName: fmt.Sprintf("u%d", i)}))
	}

	var wg sync.WaitGroup
	errCh := make(chan error, numVoters)
	for i := int64(1); i <= numVoters; i++ {
		wg.Add(1)
		go func(userID int64) {
			defer wg.Done()
			res, err := svc.CastVote(ctx, userID, nomID, "P")
			if err != nil {
				errCh <- err
				return
			}
			if !res.Accepted {
				errCh <- fmt.Errorf("user %d rejected: %s", userID, res.Kind)
			}
		}(i)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Errorf("cast failed: %v", err)
	}

	require.EqualValues(t, numVoters, votesFor(t, db, nomID, "P"))
	require.EqualValues(t, numVoters, voteRows(t, db, nomID))
}

// Один пользователь параллельно шлёт два разных голоса: гонку на UNIQUE
// переживает ретраем, в итоге ровно одна запись и суммарный счётчик 1.
func TestCastVote_ConcurrentSameUser(t *testing.T) {
	svc, store, db := newTestService(t)
	ctx := context.Background()

	nomID, err := store.CreateNomination(ctx, "Nom", "")
	require.NoError(t, err)
	_, err = store.AddParticipant(ctx, nomID, "Alice")
	require.NoError(t, err)
	_, err = store.AddParticipant(ctx, nomID, "Bob")
	require.NoError(t, err)
	require.NoError(t, store.UpsertUser(ctx, domain.User{ID: 42, FullName: "u"}))

	var wg sync.WaitGroup
	errCh := make(chan error, 2)
	for _, name := range []string{"Alice", "Bob"} {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			if _, err := svc.CastVote(ctx, 42, nomID, name); err != nil {
				errCh <- err
			}
		}(name)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Errorf("cast failed: %v", err)
	}

	total := votesFor(t, db, nomID, "Alice") + votesFor(t, db, nomID, "Bob")
	require.EqualValues(t, 1, total)
	require.EqualValues(t, 1, voteRows(t, db, nomID))

	v, err := store.FindVote(ctx, 42, nomID)
	require.NoError(t, err)
	require.EqualValues(t, 1, votesFor(t, db, nomID, v.ParticipantName))
}
