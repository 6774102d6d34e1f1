package model

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidModel     = errors.New("iec61850: invalid model")
	ErrInvalidReference = errors.New("iec61850: invalid object reference")
)

// Model модель данных сервера IEC 61850: логические устройства
// с логическими узлами, объектами данных, наборами данных и блоками
// управления отчётами.
//
// Модель описывается в файле (см. LoadFile) или собирается в коде.
// Перед использованием вызывается Build, который разворачивает шаблоны
// CDC и проверяет ссылки.
type Model struct {
	Name           string           `yaml:"name" toml:"name"`
	LogicalDevices []*LogicalDevice `yaml:"logicalDevices" toml:"logicalDevices"`

	built bool
}

// LogicalDevice отображается на MMS домен с тем же именем
type LogicalDevice struct {
	Name         string         `yaml:"name" toml:"name"`
	LogicalNodes []*LogicalNode `yaml:"logicalNodes" toml:"logicalNodes"`

	model *Model
}

// LogicalNode отображается на MMS переменную-структуру домена
type LogicalNode struct {
	Name                string                `yaml:"name" toml:"name"`
	DataObjects         []*DataObject         `yaml:"dataObjects" toml:"dataObjects"`
	DataSets            []*DataSet            `yaml:"dataSets" toml:"dataSets"`
	ReportControlBlocks []*ReportControlBlock `yaml:"reportControls" toml:"reportControls"`

	device *LogicalDevice
}

// DataObject объект данных. Атрибуты и вложенные объекты задаются явно
// или шаблоном CDC (поле CDC), значения атрибутов шаблона - в Values.
type DataObject struct {
	Name        string           `yaml:"name" toml:"name"`
	Attributes  []*DataAttribute `yaml:"attributes" toml:"attributes"`
	DataObjects []*DataObject    `yaml:"dataObjects" toml:"dataObjects"`

	CDC          string         `yaml:"cdc" toml:"cdc"`
	Options      CDCOptions     `yaml:"options" toml:"options"`
	ControlModel ControlModel   `yaml:"ctlModel" toml:"ctlModel"`
	Values       map[string]any `yaml:"values" toml:"values"`
}

// DataAttribute атрибут данных
type DataAttribute struct {
	Name           string               `yaml:"name" toml:"name"`
	FC             FunctionalConstraint `yaml:"fc" toml:"fc"`
	Type           AttributeType        `yaml:"type" toml:"type"`
	TriggerOptions TriggerOptions       `yaml:"trgOps" toml:"trgOps"`

	// Count количество элементов массива, 0 для скалярного атрибута
	Count int `yaml:"count" toml:"count"`
	// Size количество бит для GENERIC_BITSTRING
	Size int `yaml:"size" toml:"size"`

	// Attributes компоненты атрибута типа CONSTRUCTED
	Attributes []*DataAttribute `yaml:"attributes" toml:"attributes"`

	// Value начальное значение
	Value any `yaml:"value" toml:"value"`
}

// DataSet набор данных логического узла. Элементы задаются ссылками
// "LN.DO.DA[FC]" относительно логического устройства узла или полными
// ссылками "LD/LN.DO.DA[FC]".
type DataSet struct {
	Name    string   `yaml:"name" toml:"name"`
	Members []string `yaml:"members" toml:"members"`

	entries []DataSetEntry
	node    *LogicalNode
}

// DataSetEntry элемент набора данных
type DataSetEntry struct {
	Reference ObjectReference
}

// ReportControlBlock блок управления отчётами
type ReportControlBlock struct {
	Name     string `yaml:"name" toml:"name"`
	RptID    string `yaml:"rptID" toml:"rptID"`
	Buffered bool   `yaml:"buffered" toml:"buffered"`
	// DataSet имя набора данных того же логического узла
	DataSet    string         `yaml:"dataSet" toml:"dataSet"`
	ConfRev    uint32         `yaml:"confRev" toml:"confRev"`
	TrgOps     TriggerOptions `yaml:"trgOps" toml:"trgOps"`
	OptFlds    OptionFields   `yaml:"optFlds" toml:"optFlds"`
	BufTime    uint32         `yaml:"bufTime" toml:"bufTime"`
	IntgPd     uint32         `yaml:"intgPd" toml:"intgPd"`
	BufferSize int            `yaml:"bufferSize" toml:"bufferSize"`
	// Instances больше 1 создаёт экземпляры Name01, Name02, ...
	Instances int `yaml:"instances" toml:"instances"`

	node *LogicalNode
}

// DefaultReportBufferSize размер буфера BRCB по умолчанию
const DefaultReportBufferSize = 65536

// Build разворачивает шаблоны CDC, экземпляры RCB и проверяет модель.
// Повторный вызов ничего не делает.
func (m *Model) Build() error {
	if m.built {
		return nil
	}
	if len(m.LogicalDevices) == 0 {
		return fmt.Errorf("%w: no logical devices", ErrInvalidModel)
	}

	devices := make(map[string]bool)
	for _, ld := range m.LogicalDevices {
		if err := checkName(ld.Name, devices); err != nil {
			return fmt.Errorf("logical device: %w", err)
		}
		ld.model = m

		nodes := make(map[string]bool)
		for _, ln := range ld.LogicalNodes {
			if err := checkName(ln.Name, nodes); err != nil {
				return fmt.Errorf("%s: logical node: %w", ld.Name, err)
			}
			ln.device = ld
			if err := ln.build(); err != nil {
				return fmt.Errorf("%s/%s: %w", ld.Name, ln.Name, err)
			}
		}
	}

	// наборы данных могут ссылаться на другие логические устройства
	for _, ld := range m.LogicalDevices {
		for _, ln := range ld.LogicalNodes {
			for _, ds := range ln.DataSets {
				if err := ds.resolve(m, ld.Name); err != nil {
					return fmt.Errorf("%s/%s: data set %s: %w", ld.Name, ln.Name, ds.Name, err)
				}
			}
			for _, rcb := range ln.ReportControlBlocks {
				if rcb.DataSet != "" && ln.DataSet(rcb.DataSet) == nil {
					return fmt.Errorf("%w: %s/%s: report control %s: unknown data set %q",
						ErrInvalidModel, ld.Name, ln.Name, rcb.Name, rcb.DataSet)
				}
			}
		}
	}

	m.built = true
	return nil
}

func checkName(name string, seen map[string]bool) error {
	if name == "" || strings.ContainsAny(name, "$/.[]() ") {
		return fmt.Errorf("%w: name %q", ErrInvalidModel, name)
	}
	if seen[name] {
		return fmt.Errorf("%w: duplicate name %q", ErrInvalidModel, name)
	}
	seen[name] = true
	return nil
}

func (ln *LogicalNode) build() error {
	names := make(map[string]bool)
	for _, do := range ln.DataObjects {
		if err := checkName(do.Name, names); err != nil {
			return fmt.Errorf("data object: %w", err)
		}
		if err := do.build(); err != nil {
			return fmt.Errorf("%s: %w", do.Name, err)
		}
	}

	var rcbs []*ReportControlBlock
	for _, rcb := range ln.ReportControlBlocks {
		if rcb.Instances <= 1 {
			rcbs = append(rcbs, rcb)
			continue
		}
		for i := 1; i <= rcb.Instances; i++ {
			instance := *rcb
			instance.Name = fmt.Sprintf("%s%02d", rcb.Name, i)
			instance.Instances = 0
			rcbs = append(rcbs, &instance)
		}
	}
	ln.ReportControlBlocks = rcbs

	names = make(map[string]bool)
	for _, rcb := range ln.ReportControlBlocks {
		if err := checkName(rcb.Name, names); err != nil {
			return fmt.Errorf("report control: %w", err)
		}
		rcb.node = ln
		if rcb.RptID == "" {
			rcb.RptID = ln.device.Name + "/" + ln.Name + "$" + rcb.fc().String() + "$" + rcb.Name
		}
		if rcb.Buffered && rcb.BufferSize <= 0 {
			rcb.BufferSize = DefaultReportBufferSize
		}
	}

	names = make(map[string]bool)
	for _, ds := range ln.DataSets {
		if err := checkName(ds.Name, names); err != nil {
			return fmt.Errorf("data set: %w", err)
		}
		ds.node = ln
	}
	return nil
}

func (do *DataObject) build() error {
	if do.CDC != "" {
		if err := expandCDC(do); err != nil {
			return err
		}
	}

	names := make(map[string]bool)
	for _, da := range do.Attributes {
		if err := checkName(da.Name, names); err != nil {
			return fmt.Errorf("attribute: %w", err)
		}
		if err := da.build(da.FC); err != nil {
			return fmt.Errorf("%s: %w", da.Name, err)
		}
	}
	for _, sub := range do.DataObjects {
		if err := checkName(sub.Name, names); err != nil {
			return fmt.Errorf("data object: %w", err)
		}
		if err := sub.build(); err != nil {
			return fmt.Errorf("%s: %w", sub.Name, err)
		}
	}
	return nil
}

func (da *DataAttribute) build(fc FunctionalConstraint) error {
	da.FC = fc
	if da.Type == Constructed && len(da.Attributes) == 0 {
		return fmt.Errorf("%w: constructed attribute without components", ErrInvalidModel)
	}
	if da.Type == GenericBitString && da.Size <= 0 {
		return fmt.Errorf("%w: bit string without size", ErrInvalidModel)
	}

	names := make(map[string]bool)
	for _, child := range da.Attributes {
		if err := checkName(child.Name, names); err != nil {
			return err
		}
		if err := child.build(fc); err != nil {
			return fmt.Errorf("%s: %w", child.Name, err)
		}
	}

	if da.Value != nil {
		if _, err := da.InitialValue(); err != nil {
			return err
		}
	}
	return nil
}

func (ds *DataSet) resolve(m *Model, deviceName string) error {
	if len(ds.Members) == 0 {
		return fmt.Errorf("%w: empty data set", ErrInvalidModel)
	}

	ds.entries = ds.entries[:0]
	for _, member := range ds.Members {
		if !strings.Contains(member, "/") {
			member = deviceName + "/" + member
		}
		ref, err := ParseObjectReference(member)
		if err != nil {
			return err
		}
		if ref.FC == FCNone {
			return fmt.Errorf("%w: member %q without functional constraint", ErrInvalidModel, member)
		}
		if !m.Exists(ref) {
			return fmt.Errorf("%w: member %q not found", ErrInvalidModel, member)
		}
		ds.entries = append(ds.entries, DataSetEntry{Reference: ref})
	}
	return nil
}

// LogicalDevice возвращает логическое устройство по имени или nil
func (m *Model) LogicalDevice(name string) *LogicalDevice {
	for _, ld := range m.LogicalDevices {
		if ld.Name == name {
			return ld
		}
	}
	return nil
}

// Exists проверяет, что ссылка с функциональной связью указывает
// на объект или атрибут модели
func (m *Model) Exists(ref ObjectReference) bool {
	ld := m.LogicalDevice(ref.LogicalDevice)
	if ld == nil {
		return false
	}
	ln := ld.LogicalNode(ref.LogicalNode)
	if ln == nil {
		return false
	}
	if len(ref.Path) == 0 {
		return true
	}

	do := ln.DataObject(ref.Path[0])
	if do == nil {
		return false
	}
	return do.exists(ref.Path[1:], ref.FC)
}

func (do *DataObject) exists(path []string, fc FunctionalConstraint) bool {
	if len(path) == 0 {
		return fc == FCNone || do.HasFC(fc)
	}
	if sub := do.DataObject(path[0]); sub != nil {
		return sub.exists(path[1:], fc)
	}
	da := do.Attribute(path[0])
	if da == nil || (fc != FCNone && da.FC != fc) {
		return false
	}
	for _, name := range path[1:] {
		if da = da.Attribute(name); da == nil {
			return false
		}
	}
	return true
}

// LogicalNode возвращает логический узел по имени или nil
func (ld *LogicalDevice) LogicalNode(name string) *LogicalNode {
	for _, ln := range ld.LogicalNodes {
		if ln.Name == name {
			return ln
		}
	}
	return nil
}

// Device возвращает логическое устройство узла
func (ln *LogicalNode) Device() *LogicalDevice {
	return ln.device
}

// Reference возвращает ссылку "LD/LN"
func (ln *LogicalNode) Reference() ObjectReference {
	return ObjectReference{LogicalDevice: ln.device.Name, LogicalNode: ln.Name, FC: FCNone, Index: -1}
}

// DataObject возвращает объект данных по имени или nil
func (ln *LogicalNode) DataObject(name string) *DataObject {
	for _, do := range ln.DataObjects {
		if do.Name == name {
			return do
		}
	}
	return nil
}

// DataSet возвращает набор данных по имени или nil
func (ln *LogicalNode) DataSet(name string) *DataSet {
	for _, ds := range ln.DataSets {
		if ds.Name == name {
			return ds
		}
	}
	return nil
}

// ReportControlBlock возвращает RCB по имени или nil
func (ln *LogicalNode) ReportControlBlock(name string) *ReportControlBlock {
	for _, rcb := range ln.ReportControlBlocks {
		if rcb.Name == name {
			return rcb
		}
	}
	return nil
}

// DataObject возвращает вложенный объект по имени или nil
func (do *DataObject) DataObject(name string) *DataObject {
	for _, sub := range do.DataObjects {
		if sub.Name == name {
			return sub
		}
	}
	return nil
}

// Attribute возвращает атрибут по имени или nil
func (do *DataObject) Attribute(name string) *DataAttribute {
	for _, da := range do.Attributes {
		if da.Name == name {
			return da
		}
	}
	return nil
}

// HasFC сообщает, есть ли у объекта атрибуты с функциональной связью fc
func (do *DataObject) HasFC(fc FunctionalConstraint) bool {
	for _, da := range do.Attributes {
		if da.FC == fc {
			return true
		}
	}
	for _, sub := range do.DataObjects {
		if sub.HasFC(fc) {
			return true
		}
	}
	return false
}

// IsControllable сообщает, есть ли у объекта атрибут Oper
func (do *DataObject) IsControllable() bool {
	oper := do.Attribute("Oper")
	return oper != nil && oper.FC == FCCO
}

// Attribute возвращает компоненту атрибута по имени или nil
func (da *DataAttribute) Attribute(name string) *DataAttribute {
	for _, child := range da.Attributes {
		if child.Name == name {
			return child
		}
	}
	return nil
}

// Reference возвращает ссылку "LD0/LLN0.ds1"
func (ds *DataSet) Reference() string {
	return ds.node.device.Name + "/" + ds.node.Name + "." + ds.Name
}

// MmsReference возвращает ссылку вида "LD0/LLN0$ds1", которую содержит DatSet RCB
func (ds *DataSet) MmsReference() string {
	return ds.node.device.Name + "/" + ds.node.Name + "$" + ds.Name
}

// Entries возвращает элементы набора данных после Build
func (ds *DataSet) Entries() []DataSetEntry {
	return ds.entries
}

// Node возвращает логический узел RCB
func (rcb *ReportControlBlock) Node() *LogicalNode {
	return rcb.node
}

func (rcb *ReportControlBlock) fc() FunctionalConstraint {
	if rcb.Buffered {
		return FCBR
	}
	return FCRP
}

// ItemID возвращает имя MMS переменной RCB: "LLN0$BR$brcb1"
func (rcb *ReportControlBlock) ItemID() string {
	return rcb.node.Name + "$" + rcb.fc().String() + "$" + rcb.Name
}

// Reference возвращает ссылку "LD0/LLN0.BR.brcb1"
func (rcb *ReportControlBlock) Reference() string {
	return rcb.node.device.Name + "/" + rcb.node.Name + "." + rcb.fc().String() + "." + rcb.Name
}

// ObjectReference возвращает ссылку на RCB без FC
func (rcb *ReportControlBlock) ObjectReference() ObjectReference {
	return rcb.node.Reference().Child(rcb.fc().String(), rcb.Name)
}

// DataSetReference возвращает MMS ссылку на набор данных RCB или ""
func (rcb *ReportControlBlock) DataSetReference() string {
	if rcb.DataSet == "" {
		return ""
	}
	return rcb.node.device.Name + "/" + rcb.node.Name + "$" + rcb.DataSet
}
