package mms

import (
	"strings"

	"github.com/careychow/libIEC61850-sub000/osi/mms/variant"
)

// ValueCache хранит текущие значения переменных одного домена.
// Значения компонент не копируются: Lookup("LLN0$ST$Mod") возвращает
// элемент структуры, сохранённой под именем "LLN0" или "LLN0$ST".
//
// ValueCache не синхронизирован, доступ защищается блокировкой модели сервера.
type ValueCache struct {
	domain *Domain
	values map[string]*variant.Variant
}

// NewValueCache создаёт пустой кэш домена
func NewValueCache(domain *Domain) *ValueCache {
	return &ValueCache{
		domain: domain,
		values: make(map[string]*variant.Variant),
	}
}

// InitializeDefaults заполняет кэш значениями по умолчанию для всех
// переменных верхнего уровня, ещё не имеющих значения
func (c *ValueCache) InitializeDefaults() {
	for _, spec := range c.domain.Variables() {
		if _, ok := c.values[spec.Name]; !ok {
			c.values[spec.Name] = spec.Default()
		}
	}
}

// Insert сохраняет значение под именем itemID
func (c *ValueCache) Insert(itemID string, value *variant.Variant) {
	c.values[itemID] = value
}

// Lookup возвращает значение переменной или компоненты. Если значение
// под точным именем отсутствует, используется ближайший сохранённый предок.
func (c *ValueCache) Lookup(itemID string) *variant.Variant {
	if value, ok := c.values[itemID]; ok {
		return value
	}

	parts := strings.Split(itemID, "$")
	for i := len(parts) - 1; i > 0; i-- {
		parentID := strings.Join(parts[:i], "$")
		parent, ok := c.values[parentID]
		if !ok {
			continue
		}
		return c.component(parent, c.domain.Variable(parentID), parts[i:])
	}
	return nil
}

func (c *ValueCache) component(value *variant.Variant, spec *TypeSpecification, path []string) *variant.Variant {
	for _, name := range path {
		index := spec.ComponentIndex(name)
		if index < 0 || value.Type() != variant.Structure {
			return nil
		}
		value = value.Element(index)
		if value == nil {
			return nil
		}
		spec = spec.Components[index]
	}
	return value
}
