package client

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/careychow/libIEC61850-sub000/iec61850/model"
)

// ACSIClass класс объектов логического узла для просмотра модели
type ACSIClass int

const (
	ClassDataObject ACSIClass = iota
	ClassDataSet
	ClassBRCB
	ClassURCB
)

func (c ACSIClass) String() string {
	switch c {
	case ClassDataObject:
		return "data-object"
	case ClassDataSet:
		return "data-set"
	case ClassBRCB:
		return "brcb"
	case ClassURCB:
		return "urcb"
	}
	return fmt.Sprintf("ACSIClass(%d)", int(c))
}

// logicalDevice имена MMS переменных и наборов данных домена
type logicalDevice struct {
	name      string
	variables []string
	dataSets  []string
}

// RefreshModel перечитывает имена переменных и наборов данных всех
// логических устройств сервера
func (c *Connection) RefreshModel(ctx context.Context) error {
	conn, err := c.connected()
	if err != nil {
		return err
	}

	names, err := conn.GetDomainNames(ctx)
	if err != nil {
		return wrap(err)
	}

	devices := make([]*logicalDevice, 0, len(names))
	for _, name := range names {
		ld := &logicalDevice{name: name}
		if ld.variables, err = conn.GetDomainVariableNames(ctx, name); err != nil {
			return wrap(err)
		}
		if ld.dataSets, err = conn.GetDomainVariableListNames(ctx, name); err != nil {
			return wrap(err)
		}
		devices = append(devices, ld)
	}

	c.mu.Lock()
	c.devices = devices
	c.mu.Unlock()
	return nil
}

func (c *Connection) logicalDevice(ctx context.Context, name string) (*logicalDevice, error) {
	c.mu.Lock()
	loaded := c.devices != nil
	c.mu.Unlock()

	if !loaded {
		if err := c.RefreshModel(ctx); err != nil {
			return nil, err
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ld := range c.devices {
		if ld.name == name {
			return ld, nil
		}
	}
	return nil, fmt.Errorf("%w: logical device %q", ErrorObjectReferenceInvalid, name)
}

// ServerDirectory возвращает имена логических устройств
func (c *Connection) ServerDirectory(ctx context.Context) ([]string, error) {
	conn, err := c.connected()
	if err != nil {
		return nil, err
	}
	names, err := conn.GetDomainNames(ctx)
	return names, wrap(err)
}

// LogicalDeviceDirectory возвращает имена логических узлов устройства
func (c *Connection) LogicalDeviceDirectory(ctx context.Context, ldName string) ([]string, error) {
	ld, err := c.logicalDevice(ctx, ldName)
	if err != nil {
		return nil, err
	}

	var names []string
	for _, v := range ld.variables {
		if !strings.Contains(v, "$") {
			names = append(names, v)
		}
	}
	return names, nil
}

func splitLogicalNode(reference string) (ld, ln string, err error) {
	ld, ln, ok := strings.Cut(reference, "/")
	if !ok || ld == "" || ln == "" || strings.Contains(ln, ".") {
		return "", "", fmt.Errorf("%w: %q", ErrorInvalidArgument, reference)
	}
	return ld, ln, nil
}

// LogicalNodeDirectory возвращает имена объектов класса class в
// логическом узле "LD/LN"
func (c *Connection) LogicalNodeDirectory(ctx context.Context, lnRef string, class ACSIClass) ([]string, error) {
	ldName, lnName, err := splitLogicalNode(lnRef)
	if err != nil {
		return nil, err
	}
	ld, err := c.logicalDevice(ctx, ldName)
	if err != nil {
		return nil, err
	}

	switch class {
	case ClassDataObject:
		var names []string
		for _, v := range ld.variables {
			parts := strings.Split(v, "$")
			if len(parts) != 3 || parts[0] != lnName {
				continue
			}
			switch model.ParseFunctionalConstraint(parts[1]) {
			case model.FCRP, model.FCBR:
				continue
			}
			if !slices.Contains(names, parts[2]) {
				names = append(names, parts[2])
			}
		}
		return names, nil
	case ClassBRCB:
		return childrenWithFC(ld.variables, lnName, model.FCBR), nil
	case ClassURCB:
		return childrenWithFC(ld.variables, lnName, model.FCRP), nil
	case ClassDataSet:
		var names []string
		for _, ds := range ld.dataSets {
			if ln, name, ok := strings.Cut(ds, "$"); ok && ln == lnName {
				names = append(names, name)
			}
		}
		return names, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrorServiceNotSupported, class)
}

func childrenWithFC(variables []string, lnName string, fc model.FunctionalConstraint) []string {
	var names []string
	for _, v := range variables {
		parts := strings.Split(v, "$")
		if len(parts) == 3 && parts[0] == lnName && parts[1] == fc.String() {
			names = append(names, parts[2])
		}
	}
	return names
}

// LogicalNodeVariables возвращает все MMS переменные логического узла без
// имени узла: "ST", "ST$Ind1", "ST$Ind1$stVal", ...
func (c *Connection) LogicalNodeVariables(ctx context.Context, lnRef string) ([]string, error) {
	ldName, lnName, err := splitLogicalNode(lnRef)
	if err != nil {
		return nil, err
	}
	ld, err := c.logicalDevice(ctx, ldName)
	if err != nil {
		return nil, err
	}

	var names []string
	for _, v := range ld.variables {
		if rest, ok := strings.CutPrefix(v, lnName+"$"); ok {
			names = append(names, rest)
		}
	}
	return names, nil
}

// DataDirectory возвращает имена непосредственных компонент объекта
// "LD/LN.DO" по всем функциональным связям
func (c *Connection) DataDirectory(ctx context.Context, dataRef string) ([]string, error) {
	return c.dataDirectory(ctx, dataRef, false)
}

// DataDirectoryFC как DataDirectory, но с функциональной связью в
// квадратных скобках: "stVal[ST]"
func (c *Connection) DataDirectoryFC(ctx context.Context, dataRef string) ([]string, error) {
	return c.dataDirectory(ctx, dataRef, true)
}

func (c *Connection) dataDirectory(ctx context.Context, dataRef string, withFC bool) ([]string, error) {
	ldName, rest, ok := strings.Cut(dataRef, "/")
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrorObjectReferenceInvalid, dataRef)
	}
	lnName, dataPath, ok := strings.Cut(rest, ".")
	if !ok || lnName == "" || dataPath == "" {
		return nil, fmt.Errorf("%w: %q", ErrorObjectReferenceInvalid, dataRef)
	}
	dataPath = strings.ReplaceAll(dataPath, ".", "$")

	ld, err := c.logicalDevice(ctx, ldName)
	if err != nil {
		return nil, err
	}

	var names []string
	for _, v := range ld.variables {
		parts := strings.SplitN(v, "$", 3)
		if len(parts) != 3 || parts[0] != lnName {
			continue
		}
		child, ok := strings.CutPrefix(parts[2], dataPath+"$")
		if !ok || strings.Contains(child, "$") {
			continue
		}
		if withFC {
			child += "[" + parts[1] + "]"
		}
		if !slices.Contains(names, child) {
			names = append(names, child)
		}
	}
	return names, nil
}
