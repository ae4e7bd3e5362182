// Пакет node — доменная модель участников сети мастернод.
//
// Snapshot формируется заново на каждом цикле опроса реестра и после
// создания не изменяется. Инкрементальных diff-ов нет: новый срез
// полностью замещает предыдущий.
package node

// Node — один узел сети мастернод.
type Node struct {
	// ID — опаковый стабильный идентификатор узла (неизменен на протяжении жизни узла).
	ID string
	// Address — сетевой адрес узла (host:port). Может меняться между опросами.
	Address string
	// Enabled — узел активен и участвует в выборе транзактора.
	Enabled bool
}

// Snapshot — мгновенный срез членства, валидный для одного цикла.
// Узлы отсортированы по ID для детерминированности логов и тестов.
type Snapshot struct {
	Nodes []Node
}

// Len возвращает количество узлов в срезе.
func (s Snapshot) Len() int {
	return len(s.Nodes)
}

// EnabledNodes возвращает только активные узлы среза.
func (s Snapshot) EnabledNodes() []Node {
	result := make([]Node, 0, len(s.Nodes))
	for _, n := range s.Nodes {
		if n.Enabled {
			result = append(result, n)
		}
	}
	return result
}
