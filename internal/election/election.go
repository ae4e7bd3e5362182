// Пакет election — детерминированный выбор транзактора без обмена сообщениями.
//
// Алгоритм (Kademlia-подобный): каждый узел независимо вычисляет
// XOR-расстояние между хэшем опорного значения (merkle root лучшего блока)
// и хэшем идентификатора каждого активного узла. Транзактором становится
// узел с минимальным расстоянием. Поскольку все узлы считают одну и ту же
// чистую функцию над одними и теми же данными цепочки, они сходятся к
// одному лидеру без голосования и без блокировок.
//
// При равенстве расстояний (коллизия хэшей или одинаковые идентификаторы)
// действует вторичный детерминированный порядок: лексикографически
// меньший сырой идентификатор побеждает.
package election

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"

	"github.com/bigkaa/transactor-keeper/internal/domain/node"
)

// Distance — 256-битная метрика близости узла к опорному значению.
// Сравнивается как big-endian беззнаковое целое: меньше = ближе.
type Distance [sha256.Size]byte

// Hex возвращает шестнадцатеричное представление расстояния (для логов).
func (d Distance) Hex() string {
	return hex.EncodeToString(d[:])
}

// Score вычисляет расстояние узла до опорного значения:
// sha256(reference) XOR sha256(identifier).
//
// Функция чистая и детерминированная: одинаковые входы дают побитово
// одинаковый результат на любом узле. Это единственное основание
// согласованности выбора — никакой координации между узлами нет.
func Score(reference []byte, identifier []byte) Distance {
	refHash := sha256.Sum256(reference)
	idHash := sha256.Sum256(identifier)

	var d Distance
	for i := range d {
		d[i] = refHash[i] ^ idHash[i]
	}
	return d
}

// closer возвращает true, если кандидат cand строго ближе текущего best:
// меньшее расстояние, при равенстве — лексикографически меньший ID.
func closer(candDist, bestDist Distance, candID, bestID string) bool {
	switch bytes.Compare(candDist[:], bestDist[:]) {
	case -1:
		return true
	case 1:
		return false
	default:
		return candID < bestID
	}
}

// Decision — результат одного вычисления выбора транзактора.
// Пересчитывается заново каждый цикл и нигде не сохраняется.
type Decision struct {
	// IsLeader — локальный узел является транзактором.
	IsLeader bool
	// Leader — выбранный транзактор (локальный узел, если IsLeader).
	Leader node.Node
	// LocalScore — расстояние локального узла (для логов и /status).
	LocalScore Distance
}

// Decide вычисляет решение о лидерстве для локального узла local
// над срезом членства snapshot и опорным значением reference.
//
// Неактивные узлы исключаются из сравнения. Пустой срез (или срез, где
// активен только локальный узел) — вырожденный bootstrap-случай:
// локальный узел — лидер. Собственная запись локального узла в реестре,
// если она есть, не конкурирует сама с собой.
func Decide(snapshot node.Snapshot, reference []byte, local node.Node) Decision {
	localScore := Score(reference, []byte(local.ID))

	best := local
	bestDist := localScore

	for _, n := range snapshot.Nodes {
		if !n.Enabled || n.ID == local.ID {
			continue
		}
		d := Score(reference, []byte(n.ID))
		if closer(d, bestDist, n.ID, best.ID) {
			best = n
			bestDist = d
		}
	}

	return Decision{
		IsLeader:   best.ID == local.ID,
		Leader:     best,
		LocalScore: localScore,
	}
}
