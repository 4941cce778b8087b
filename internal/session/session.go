package session

import "sync"

// Session — явный диалоговый контекст одного пользователя.
// Хранит последнюю открытую номинацию, чтобы после отказа в голосе
// можно было перерисовать актуальный список участников.
type Session struct {
	LastNominationID int64
}

type Manager struct {
	mu       sync.Mutex
	sessions map[int64]*Session
}

func NewManager() *Manager {
	return &Manager{
		sessions: make(map[int64]*Session),
	}
}

func (m *Manager) Get(userID int64) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.sessions[userID]
	if s == nil {
		s = &Session{}
		m.sessions[userID] = s
	}
	return s
}
