package partition

import (
	"hash/fnv"
	"sort"
	"strings"

	"github.com/gofrs/uuid"
)

// PartitionCount - число виртуальных партиций. Фиксировано: stream id всегда
// попадает в одну и ту же партицию независимо от числа живых инстансов.
const PartitionCount = 10000

// CanonicalizeStreamKey нормализует ключ потока перед хешированием.
func CanonicalizeStreamKey(streamKey string) string {
	return strings.ToLower(strings.TrimSpace(streamKey))
}

func hash64(key string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(CanonicalizeStreamKey(key)))
	return h.Sum64()
}

// For возвращает номер партиции для ключа потока.
func For(streamKey string) int {
	return int(hash64(streamKey) % PartitionCount)
}

// Slot - позиция ключа среди n живых инстансов.
func Slot(key string, n int) int {
	return int(hash64(key) % uint64(n))
}

// OwnerOf вычисляет владельца потока среди живых инстансов.
//
// Базовая формула: hash(stream) mod N == hash(instance) mod N. Она допускает
// два вырождения: несколько инстансов в одном слоте и пустые слоты. Делаем её
// тотальной и эксклюзивной: из инстансов-резидентов слота побеждает
// лексикографически меньший id, а пустой слот отдаётся инстансу из
// отсортированного списка по индексу слота. Никакого внешнего состояния,
// кроме списка живых, не требуется.
func OwnerOf(streamKey string, live []uuid.UUID) (uuid.UUID, bool) {
	n := len(live)
	if n == 0 {
		return uuid.Nil, false
	}

	slot := Slot(streamKey, n)

	var owner uuid.UUID
	found := false
	for _, id := range live {
		if Slot(id.String(), n) != slot {
			continue
		}
		if !found || id.String() < owner.String() {
			owner = id
			found = true
		}
	}
	if found {
		return owner, true
	}

	// в слоте никто не живёт - fallback на отсортированный список
	sorted := make([]string, n)
	for i, id := range live {
		sorted[i] = id.String()
	}
	sort.Strings(sorted)
	return uuid.FromStringOrNil(sorted[slot]), true
}

// Owns - истинно, если instanceID владеет потоком при текущем наборе живых.
func Owns(instanceID uuid.UUID, streamKey string, live []uuid.UUID) bool {
	owner, ok := OwnerOf(streamKey, live)
	return ok && owner == instanceID
}
