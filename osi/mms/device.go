package mms

import (
	"strings"
	"sync"
)

// Device виртуальное MMS устройство (VMD): набор доменов и именованных
// списков переменных уровня VMD
type Device struct {
	Name string

	domains     []*Domain
	domainIndex map[string]*Domain
	lists       NamedVariableLists
}

// NewDevice создаёт пустое устройство
func NewDevice(name string) *Device {
	return &Device{
		Name:        name,
		domainIndex: make(map[string]*Domain),
	}
}

// AddDomain добавляет домен. Повторное имя возвращает существующий домен.
func (d *Device) AddDomain(name string) *Domain {
	if domain, ok := d.domainIndex[name]; ok {
		return domain
	}

	domain := &Domain{
		Name:          name,
		variableIndex: make(map[string]*TypeSpecification),
	}
	d.domains = append(d.domains, domain)
	d.domainIndex[name] = domain
	return domain
}

// Domain возвращает домен по имени или nil
func (d *Device) Domain(name string) *Domain {
	return d.domainIndex[name]
}

// Domains возвращает домены в порядке добавления
func (d *Device) Domains() []*Domain {
	return d.domains
}

// DomainNames возвращает имена доменов в порядке добавления
func (d *Device) DomainNames() []string {
	names := make([]string, len(d.domains))
	for i, domain := range d.domains {
		names[i] = domain.Name
	}
	return names
}

// NamedVariableLists возвращает списки уровня VMD
func (d *Device) NamedVariableLists() *NamedVariableLists {
	return &d.lists
}

// Domain домен MMS. В IEC 61850 домен соответствует логическому устройству,
// переменные домена - логическим узлам.
type Domain struct {
	Name string

	variables     []*TypeSpecification
	variableIndex map[string]*TypeSpecification
	lists         NamedVariableLists
}

// AddVariable добавляет переменную верхнего уровня
func (d *Domain) AddVariable(spec *TypeSpecification) {
	if _, ok := d.variableIndex[spec.Name]; !ok {
		d.variables = append(d.variables, spec)
	}
	d.variableIndex[spec.Name] = spec
}

// Variables возвращает переменные верхнего уровня
func (d *Domain) Variables() []*TypeSpecification {
	return d.variables
}

// Variable возвращает спецификацию переменной или её компоненты по
// itemID вида "GGIO1$MX$AnIn1"
func (d *Domain) Variable(itemID string) *TypeSpecification {
	head, rest, nested := strings.Cut(itemID, "$")

	spec := d.variableIndex[head]
	if spec == nil || !nested {
		return spec
	}
	return spec.LookupItem(rest)
}

// VariableNames возвращает имена всех переменных домена вместе с именами
// вложенных компонент структур ("LLN0", "LLN0$ST", "LLN0$ST$Mod", ...)
func (d *Domain) VariableNames() []string {
	var names []string
	for _, spec := range d.variables {
		names = append(names, spec.Name)
		names = appendComponentNames(names, spec.Name, spec)
	}
	return names
}

func appendComponentNames(names []string, prefix string, spec *TypeSpecification) []string {
	if spec.Type != TypeSpecStructure {
		return names
	}
	for _, component := range spec.Components {
		name := prefix + "$" + component.Name
		names = append(names, name)
		names = appendComponentNames(names, name, component)
	}
	return names
}

// NamedVariableLists возвращает списки домена
func (d *Domain) NamedVariableLists() *NamedVariableLists {
	return &d.lists
}

// NamedVariableList именованный список переменных (в IEC 61850 - набор данных)
type NamedVariableList struct {
	Name      string
	Deletable bool
	Variables []VariableSpec
}

// NamedVariableLists упорядоченный набор именованных списков
type NamedVariableLists struct {
	mu    sync.RWMutex
	lists []*NamedVariableList
}

// Add добавляет список. Список с тем же именем не заменяется.
func (l *NamedVariableLists) Add(list *NamedVariableList) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, existing := range l.lists {
		if existing.Name == list.Name {
			return ErrorDefinitionObjectExists
		}
	}
	l.lists = append(l.lists, list)
	return nil
}

// Get возвращает список по имени или nil
func (l *NamedVariableLists) Get(name string) *NamedVariableList {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for _, list := range l.lists {
		if list.Name == name {
			return list
		}
	}
	return nil
}

// Delete удаляет список по имени
func (l *NamedVariableLists) Delete(name string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i, list := range l.lists {
		if list.Name == name {
			l.lists = append(l.lists[:i], l.lists[i+1:]...)
			return true
		}
	}
	return false
}

// All возвращает снимок списков
func (l *NamedVariableLists) All() []*NamedVariableList {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return append([]*NamedVariableList(nil), l.lists...)
}

// Names возвращает имена списков в порядке добавления
func (l *NamedVariableLists) Names() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	names := make([]string, len(l.lists))
	for i, list := range l.lists {
		names[i] = list.Name
	}
	return names
}
