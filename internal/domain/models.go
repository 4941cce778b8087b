package domain

import "time"

type Nomination struct {
	ID           int64         `json:"id"`
	Title        string        `json:"title"`
	Description  string        `json:"description"`
	IsActive     bool          `json:"is_active"`
	Participants []Participant `json:"participants,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// HasParticipant проверяет, есть ли участник с таким именем в текущем списке.
func (n Nomination) HasParticipant(name string) bool {
	for _, p := range n.Participants {
		if p.Name == name {
			return true
		}
	}
	return false
}

type Participant struct {
	ID           int64     `json:"id"`
	NominationID int64     `json:"nomination_id"`
	Name         string    `json:"name"`
	Votes        int64     `json:"votes"`
	CreatedAt    time.Time `json:"created_at"`
}

type User struct {
	ID        int64     `json:"id"`
	FullName  string    `json:"full_name"`
	Username  string    `json:"username"`
	Phone     string    `json:"phone"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Vote struct {
	ID              int64     `json:"id"`
	UserID          int64     `json:"user_id"`
	NominationID    int64     `json:"nomination_id"`
	ParticipantName string    `json:"participant_name"`
	VotedAt         time.Time `json:"voted_at"`
}

// VoteChange описывает одну логическую транзакцию голосования:
// декремент счётчика старого участника (если был), инкремент нового,
// замена записи Vote.
type VoteChange struct {
	NominationID   int64
	OldParticipant string // "" — первый голос, декремент не нужен
	NewParticipant string
	UserID         int64
	VoteID         int64 // 0 — прежней записи Vote нет
	VotedAt        time.Time
}

type ParticipantResult struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Votes int64  `json:"votes"`
}
