package partition

import (
	"math/rand"
	"testing"
	"testing/quick"
	"time"

	"github.com/gofrs/uuid"
)

func TestPartitionDeterministic(t *testing.T) {
	keys := []string{"order-42", "  Order-42 ", "550e8400-e29b-41d4-a716-446655440000", "1234567890"}
	for _, key := range keys {
		p1 := For(key)
		p2 := For(key)
		if p1 != p2 {
			t.Fatalf("partition should be deterministic for %q", key)
		}
		if p1 < 0 || p1 >= PartitionCount {
			t.Fatalf("partition out of range for %q: %d", key, p1)
		}
	}
}

func TestPartitionRangeProperty(t *testing.T) {
	cfg := &quick.Config{Rand: rand.New(rand.NewSource(time.Now().UnixNano()))}
	if err := quick.Check(func(s string) bool {
		p := For(s)
		return p >= 0 && p < PartitionCount
	}, cfg); err != nil {
		t.Fatalf("partition property failed: %v", err)
	}
}

func mustV7(t *testing.T) uuid.UUID {
	t.Helper()
	id, err := uuid.NewV7()
	if err != nil {
		t.Fatalf("uuid: %v", err)
	}
	return id
}

func TestExactlyOneOwner(t *testing.T) {
	live := []uuid.UUID{mustV7(t), mustV7(t), mustV7(t)}

	streams := []string{"order-1", "order-2", "user-77", "invoice-3000", "a", "b", "c"}
	for _, s := range streams {
		owners := 0
		for _, id := range live {
			if Owns(id, s, live) {
				owners++
			}
		}
		if owners != 1 {
			t.Fatalf("stream %q: want exactly one owner, got %d", s, owners)
		}
	}
}

func TestOwnershipRebalancesWithoutMigration(t *testing.T) {
	a := mustV7(t)
	b := mustV7(t)
	live := []uuid.UUID{a, b}

	// генерируем потоки, пока не найдём принадлежащий b
	var streamOfB string
	for i := 0; i < 10000; i++ {
		s := mustV7(t).String()
		if Owns(b, s, live) {
			streamOfB = s
			break
		}
	}
	if streamOfB == "" {
		t.Fatal("no stream owned by b in 10000 tries")
	}
	if Owns(a, streamOfB, live) {
		t.Fatal("a and b both own the same stream")
	}

	// b умирает - владение переходит к a без единой записи в БД
	if !Owns(a, streamOfB, []uuid.UUID{a}) {
		t.Fatal("a must own everything once it is the only live instance")
	}
}

func TestOwnerOfEmptyLiveSet(t *testing.T) {
	if _, ok := OwnerOf("order-1", nil); ok {
		t.Fatal("empty live set must have no owner")
	}
}

func TestOwnerStableAcrossCalls(t *testing.T) {
	live := []uuid.UUID{mustV7(t), mustV7(t), mustV7(t), mustV7(t), mustV7(t)}
	for i := 0; i < 100; i++ {
		s := mustV7(t).String()
		o1, ok1 := OwnerOf(s, live)
		o2, ok2 := OwnerOf(s, live)
		if !ok1 || !ok2 || o1 != o2 {
			t.Fatalf("owner must be stable for %q: %v/%v", s, o1, o2)
		}
	}
}
