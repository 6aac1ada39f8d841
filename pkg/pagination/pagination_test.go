package pagination

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestClamp(t *testing.T) {
	cases := map[int]int{0: DefaultLimit, -4: DefaultLimit, 10: 10, MaxLimit + 1: MaxLimit}
	for in, want := range cases {
		if got := Clamp(in); got != want {
			t.Fatalf("Clamp(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestCursorRoundTripKeepsNanoseconds(t *testing.T) {
	c := Cursor{CreatedAt: time.Date(2026, 4, 2, 9, 30, 0, 123456789, time.FixedZone("x", 3600)), ID: uuid.New()}
	got, err := Decode(c.Encode())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !got.CreatedAt.Equal(c.CreatedAt) || got.ID != c.ID {
		t.Fatalf("round trip mismatch: %+v vs %+v", got, c)
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	if c, err := Decode("  "); c != nil || err != nil {
		t.Fatalf("empty token should be nil, got %v %v", c, err)
	}
	for _, token := range []string{"%%%", "djI6MTIz", "djE6YWJjOjEyMw"} {
		if _, err := Decode(token); !errors.Is(err, ErrInvalidCursor) {
			t.Fatalf("Decode(%q) err = %v", token, err)
		}
	}
}

func TestTrimReturnsLastKeptRowAsCursor(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := make([]Cursor, 4)
	for i := range rows {
		rows[i] = Cursor{CreatedAt: base.Add(-time.Duration(i) * time.Minute), ID: uuid.New()}
	}
	key := func(c Cursor) Cursor { return c }

	page, next := Trim(rows, 3, key)
	if len(page) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(page))
	}
	cursor, err := Decode(next)
	if err != nil || cursor.ID != rows[2].ID {
		t.Fatalf("expected cursor at third row, got %+v err=%v", cursor, err)
	}

	page, next = Trim(rows[:2], 3, key)
	if len(page) != 2 || next != "" {
		t.Fatalf("expected final page, got %d rows next=%q", len(page), next)
	}
}
