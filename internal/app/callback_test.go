package app

import (
	"fmt"
	"strings"
	"testing"

	"github.com/maaaruch/tg-nomination-bot/internal/voting"
)

func TestParseVoteCallback(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		data    string
		nomID   int64
		partID  int64
		wantErr bool
	}{
		{"basic", "vote:1:2", 1, 2, false},
		{"big_ids", "vote:9000000000:42", 9000000000, 42, false},
		{"wrong_prefix", "nomination:1", 0, 0, true},
		{"no_prefix", "1:2", 0, 0, true},
		{"missing_participant", "vote:1", 0, 0, true},
		{"extra_segment", "vote:1:2:3", 0, 0, true},
		{"non_numeric_nomination", "vote:x:2", 0, 0, true},
		{"non_numeric_participant", "vote:1:y", 0, 0, true},
		{"empty", "", 0, 0, true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			nomID, partID, err := parseVoteCallback(tt.data)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got nomID=%d partID=%d", nomID, partID)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if nomID != tt.nomID || partID != tt.partID {
				t.Fatalf("got (%d, %d), want (%d, %d)", nomID, partID, tt.nomID, tt.partID)
			}
		})
	}
}

func FuzzParseVoteCallback(f *testing.F) {
	seeds := []string{
		"vote:1:2",
		"vote:1",
		"vote::",
		"vote:1:2:3",
		"back:nominations",
		"",
		"vote:-1:-2",
	}
	for _, s := range seeds {
		f.Add(s)
	}

	f.Fuzz(func(t *testing.T, data string) {
		nomID, partID, err := parseVoteCallback(data)

		// Инварианты: не паникует; при ошибке оба id нулевые; при успехе
		// каноническая строка разбирается в те же значения.
		if err != nil {
			if nomID != 0 || partID != 0 {
				t.Fatalf("non-zero ids on error: (%d, %d)", nomID, partID)
			}
			return
		}
		rebuilt := fmt.Sprintf("vote:%d:%d", nomID, partID)
		nomID2, partID2, err := parseVoteCallback(rebuilt)
		if err != nil || nomID2 != nomID || partID2 != partID {
			t.Fatalf("re-parse mismatch: %q -> (%d, %d), err=%v", rebuilt, nomID2, partID2, err)
		}
	})
}

func TestRenderResult_CoversEveryKind(t *testing.T) {
	t.Parallel()

	kinds := []voting.Kind{
		voting.KindVoteCast,
		voting.KindVoteChanged,
		voting.KindDuplicateVote,
		voting.KindVotingClosed,
		voting.KindParticipantNotFound,
		voting.KindNominationNotFound,
		voting.KindUserNotFound,
	}

	seen := make(map[string]voting.Kind)
	for _, kind := range kinds {
		msg := renderResult(voting.Result{Kind: kind, OldParticipant: "Alice", NewParticipant: "Bob"})
		if msg == "" {
			t.Fatalf("empty message for kind %q", kind)
		}
		if other, dup := seen[msg]; dup {
			t.Fatalf("kinds %q and %q render the same message: %q", kind, other, msg)
		}
		seen[msg] = kind
	}

	if got := renderResult(voting.Result{Kind: voting.KindVoteChanged, OldParticipant: "Alice", NewParticipant: "Bob"}); !strings.Contains(got, "Alice") || !strings.Contains(got, "Bob") {
		t.Fatalf("changed-vote message must name both participants: %q", got)
	}
}
