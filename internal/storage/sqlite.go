package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/maaaruch/tg-nomination-bot/internal/domain"
)

//go:embed schema.sql
var embeddedSchema embed.FS

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict — параллельная запись успела раньше (нарушение UNIQUE).
	// Вызывающий должен перечитать состояние и повторить.
	ErrConflict = errors.New("concurrent write conflict")
	// ErrBusy — база временно занята, операцию можно повторить как есть.
	ErrBusy = errors.New("storage busy")
)

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) InitSchema() error {
	if _, err := s.db.Exec(`PRAGMA foreign_keys = ON;`); err != nil {
		return err
	}

	b, err := embeddedSchema.ReadFile("schema.sql")
	if err != nil {
		return err
	}

	schema := strings.TrimSpace(string(b))
	_, err = s.db.Exec(schema)
	return err
}

// classifyErr переводит ошибки драйвера в сентинелы пакета.
func classifyErr(err error) error {
	if err == nil {
		return nil
	}
	var se sqlite3.Error
	if errors.As(err, &se) {
		switch {
		case se.ExtendedCode == sqlite3.ErrConstraintUnique,
			se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey:
			return fmt.Errorf("%w: %v", ErrConflict, err)
		case se.ExtendedCode == sqlite3.ErrConstraintForeignKey:
			return fmt.Errorf("%w: %v", ErrNotFound, err)
		case se.Code == sqlite3.ErrBusy, se.Code == sqlite3.ErrLocked:
			return fmt.Errorf("%w: %v", ErrBusy, err)
		}
	}
	return err
}

// ---------- Nominations ----------

func (s *Store) CreateNomination(ctx context.Context, title, description string) (int64, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
INSERT INTO nominations(title, description, is_active, created_at, updated_at)
VALUES (?, ?, 1, ?, ?)
`, title, description, now, now)
	if err != nil {
		return 0, classifyErr(err)
	}
	return res.LastInsertId()
}

func (s *Store) GetNomination(ctx context.Context, id int64) (*domain.Nomination, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, title, description, is_active, created_at, updated_at
FROM nominations
WHERE id = ?
`, id)

	var n domain.Nomination
	if err := row.Scan(&n.ID, &n.Title, &n.Description, &n.IsActive, &n.CreatedAt, &n.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, classifyErr(err)
	}

	participants, err := s.ListParticipants(ctx, id)
	if err != nil {
		return nil, err
	}
	n.Participants = participants
	return &n, nil
}

func (s *Store) listNominations(ctx context.Context, onlyActive bool) ([]domain.Nomination, error) {
	q := `
SELECT id, title, description, is_active, created_at, updated_at
FROM nominations
ORDER BY created_at DESC, id DESC
`
	if onlyActive {
		q = `
SELECT id, title, description, is_active, created_at, updated_at
FROM nominations
WHERE is_active = 1
ORDER BY created_at DESC, id DESC
`
	}

	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, classifyErr(err)
	}
	defer rows.Close()

	var noms []domain.Nomination
	for rows.Next() {
		var n domain.Nomination
		if err := rows.Scan(&n.ID, &n.Title, &n.Description, &n.IsActive, &n.CreatedAt, &n.UpdatedAt); err != nil {
			return nil, err
		}
		noms = append(noms, n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return noms, nil
}

// ListNominations возвращает все номинации (для админки), без участников.
func (s *Store) ListNominations(ctx context.Context) ([]domain.Nomination, error) {
	return s.listNominations(ctx, false)
}

// ListActiveNominations возвращает только открытые для голосования номинации,
// свежесозданные — первыми.
func (s *Store) ListActiveNominations(ctx context.Context) ([]domain.Nomination, error) {
	return s.listNominations(ctx, true)
}

func (s *Store) UpdateNomination(ctx context.Context, id int64, title, description string) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE nominations SET title = ?, description = ?, updated_at = ? WHERE id = ?
`, title, description, time.Now().UTC(), id)
	if err != nil {
		return classifyErr(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) SetNominationActive(ctx context.Context, id int64, active bool) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE nominations SET is_active = ?, updated_at = ? WHERE id = ?
`, active, time.Now().UTC(), id)
	if err != nil {
		return classifyErr(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) DeleteNomination(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM nominations WHERE id = ?`, id)
	if err != nil {
		return false, classifyErr(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// ---------- Participants ----------

func (s *Store) AddParticipant(ctx context.Context, nominationID int64, name string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
INSERT INTO participants(nomination_id, name, votes, created_at)
VALUES (?, ?, 0, ?)
`, nominationID, name, time.Now().UTC())
	if err != nil {
		return 0, classifyErr(err)
	}
	return res.LastInsertId()
}

func (s *Store) ListParticipants(ctx context.Context, nominationID int64) ([]domain.Participant, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, name, votes, created_at
FROM participants
WHERE nomination_id = ?
ORDER BY id
`, nominationID)
	if err != nil {
		return nil, classifyErr(err)
	}
	defer rows.Close()

	var participants []domain.Participant
	for rows.Next() {
		var p domain.Participant
		p.NominationID = nominationID
		if err := rows.Scan(&p.ID, &p.Name, &p.Votes, &p.CreatedAt); err != nil {
			return nil, err
		}
		participants = append(participants, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return participants, nil
}

// RenameParticipant переименовывает участника и переписывает его голоса,
// чтобы записи votes продолжали сходиться со счётчиком.
func (s *Store) RenameParticipant(ctx context.Context, nominationID int64, oldName, newName string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classifyErr(err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
UPDATE participants SET name = ? WHERE nomination_id = ? AND name = ?
`, newName, nominationID, oldName)
	if err != nil {
		return classifyErr(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}

	if _, err := tx.ExecContext(ctx, `
UPDATE votes SET participant_name = ? WHERE nomination_id = ? AND participant_name = ?
`, newName, nominationID, oldName); err != nil {
		return classifyErr(err)
	}

	if _, err := tx.ExecContext(ctx, `
UPDATE nominations SET updated_at = ? WHERE id = ?
`, time.Now().UTC(), nominationID); err != nil {
		return classifyErr(err)
	}

	return classifyErr(tx.Commit())
}

// DeleteParticipant удаляет участника вместе с его голосами — в одной
// транзакции, иначе сумма счётчиков разойдётся с количеством записей votes.
func (s *Store) DeleteParticipant(ctx context.Context, nominationID int64, name string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, classifyErr(err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
DELETE FROM participants WHERE nomination_id = ? AND name = ?
`, nominationID, name)
	if err != nil {
		return false, classifyErr(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if affected == 0 {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx, `
DELETE FROM votes WHERE nomination_id = ? AND participant_name = ?
`, nominationID, name); err != nil {
		return false, classifyErr(err)
	}

	if _, err := tx.ExecContext(ctx, `
UPDATE nominations SET updated_at = ? WHERE id = ?
`, time.Now().UTC(), nominationID); err != nil {
		return false, classifyErr(err)
	}

	if err := tx.Commit(); err != nil {
		return false, classifyErr(err)
	}
	return true, nil
}

// ---------- Users ----------

func (s *Store) UpsertUser(ctx context.Context, u domain.User) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
INSERT INTO users(user_id, full_name, username, phone, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(user_id) DO UPDATE SET
    full_name = excluded.full_name,
    username = excluded.username,
    phone = CASE WHEN excluded.phone != '' THEN excluded.phone ELSE users.phone END,
    updated_at = excluded.updated_at
`, u.ID, u.FullName, u.Username, u.Phone, now, now)
	return classifyErr(err)
}

func (s *Store) GetUser(ctx context.Context, userID int64) (*domain.User, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT user_id, full_name, username, phone, created_at, updated_at
FROM users
WHERE user_id = ?
`, userID)

	var u domain.User
	if err := row.Scan(&u.ID, &u.FullName, &u.Username, &u.Phone, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, classifyErr(err)
	}
	return &u, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT user_id, full_name, username, phone, created_at, updated_at
FROM users
ORDER BY created_at DESC
`)
	if err != nil {
		return nil, classifyErr(err)
	}
	defer rows.Close()

	var users []domain.User
	for rows.Next() {
		var u domain.User
		if err := rows.Scan(&u.ID, &u.FullName, &u.Username, &u.Phone, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

// ---------- Votes ----------

func (s *Store) FindVote(ctx context.Context, userID, nominationID int64) (*domain.Vote, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, user_id, nomination_id, participant_name, voted_at
FROM votes
WHERE user_id = ? AND nomination_id = ?
`, userID, nominationID)

	var v domain.Vote
	if err := row.Scan(&v.ID, &v.UserID, &v.NominationID, &v.ParticipantName, &v.VotedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, classifyErr(err)
	}
	return &v, nil
}

func (s *Store) ListVotesByNomination(ctx context.Context, nominationID int64) ([]domain.Vote, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, user_id, nomination_id, participant_name, voted_at
FROM votes
WHERE nomination_id = ?
ORDER BY voted_at DESC, id DESC
`, nominationID)
	if err != nil {
		return nil, classifyErr(err)
	}
	defer rows.Close()

	var votes []domain.Vote
	for rows.Next() {
		var v domain.Vote
		if err := rows.Scan(&v.ID, &v.UserID, &v.NominationID, &v.ParticipantName, &v.VotedAt); err != nil {
			return nil, err
		}
		votes = append(votes, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return votes, nil
}

func (s *Store) CountVotes(ctx context.Context, nominationID int64) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `
SELECT COUNT(*) FROM votes WHERE nomination_id = ?
`, nominationID).Scan(&n)
	if err != nil {
		return 0, classifyErr(err)
	}
	return n, nil
}

// ApplyVoteChange применяет голос как одну транзакцию: декремент счётчика
// старого участника (если это смена голоса), инкремент нового, замена записи
// Vote. Счётчики меняются только относительными апдейтами votes = votes ± 1 —
// никакого «прочитал документ, поменял в памяти, сохранил целиком».
//
// Возвращает ErrNotFound, если номинация или участник исчезли к моменту
// коммита, и ErrConflict, если параллельный голос того же пользователя
// успел раньше (UNIQUE user_id+nomination_id).
func (s *Store) ApplyVoteChange(ctx context.Context, ch domain.VoteChange) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classifyErr(err)
	}
	defer tx.Rollback()

	// Проверка существования номинации и bump updated_at одним апдейтом.
	res, err := tx.ExecContext(ctx, `
UPDATE nominations SET updated_at = ? WHERE id = ?
`, ch.VotedAt.UTC(), ch.NominationID)
	if err != nil {
		return classifyErr(err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return ErrNotFound
	}

	if ch.OldParticipant != "" {
		// votes > 0 страхует CHECK(votes >= 0): если счётчик уже ноль,
		// данные разошлись, и транзакцию нужно откатить, а не уводить в минус.
		res, err := tx.ExecContext(ctx, `
UPDATE participants SET votes = votes - 1
WHERE nomination_id = ? AND name = ? AND votes > 0
`, ch.NominationID, ch.OldParticipant)
		if err != nil {
			return classifyErr(err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return ErrNotFound
		}
	}

	res, err = tx.ExecContext(ctx, `
UPDATE participants SET votes = votes + 1
WHERE nomination_id = ? AND name = ?
`, ch.NominationID, ch.NewParticipant)
	if err != nil {
		return classifyErr(err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return ErrNotFound
	}

	if ch.VoteID != 0 {
		res, err := tx.ExecContext(ctx, `DELETE FROM votes WHERE id = ?`, ch.VoteID)
		if err != nil {
			return classifyErr(err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			// Запись уже заменили параллельно — перечитать и повторить.
			return ErrConflict
		}
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO votes(user_id, nomination_id, participant_name, voted_at)
VALUES (?, ?, ?, ?)
`, ch.UserID, ch.NominationID, ch.NewParticipant, ch.VotedAt.UTC()); err != nil {
		return classifyErr(err)
	}

	return classifyErr(tx.Commit())
}

// ReconcileNomination пересчитывает счётчики участников по записям votes.
// Инструмент ремонта для админки: после него sum(votes) снова равна
// количеству записей votes по номинации.
func (s *Store) ReconcileNomination(ctx context.Context, nominationID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classifyErr(err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
UPDATE participants
SET votes = (
    SELECT COUNT(*) FROM votes v
    WHERE v.nomination_id = participants.nomination_id
      AND v.participant_name = participants.name
)
WHERE nomination_id = ?
`, nominationID); err != nil {
		return classifyErr(err)
	}

	// Осиротевшие голоса (участник удалён в обход DeleteParticipant) чистим,
	// иначе инвариант не восстановить.
	if _, err := tx.ExecContext(ctx, `
DELETE FROM votes
WHERE nomination_id = ?
  AND participant_name NOT IN (
      SELECT name FROM participants WHERE nomination_id = ?
  )
`, nominationID, nominationID); err != nil {
		return classifyErr(err)
	}

	if _, err := tx.ExecContext(ctx, `
UPDATE nominations SET updated_at = ? WHERE id = ?
`, time.Now().UTC(), nominationID); err != nil {
		return classifyErr(err)
	}

	return classifyErr(tx.Commit())
}

// ---------- Results ----------

func (s *Store) ResultsByNomination(ctx context.Context, nominationID int64) ([]domain.ParticipantResult, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, name, votes
FROM participants
WHERE nomination_id = ?
ORDER BY votes DESC, id
`, nominationID)
	if err != nil {
		return nil, classifyErr(err)
	}
	defer rows.Close()

	var results []domain.ParticipantResult
	for rows.Next() {
		var r domain.ParticipantResult
		if err := rows.Scan(&r.ID, &r.Name, &r.Votes); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}
