package client

import (
	"context"
	"fmt"
	"strings"

	"github.com/careychow/libIEC61850-sub000/iec61850/model"
	"github.com/careychow/libIEC61850-sub000/osi/mms"
	"github.com/careychow/libIEC61850-sub000/osi/mms/variant"
)

// DataSet значения набора данных, прочитанные с сервера
type DataSet struct {
	// Reference ссылка в MMS нотации: "LD/LN$name" или "@name"
	Reference string
	Values    []*variant.Variant
}

// Size возвращает число элементов набора данных
func (d *DataSet) Size() int {
	return len(d.Values)
}

// dataSetName переводит ссылку "LD/LN.name" или "@name" в имя MMS списка
func dataSetName(reference string) (mms.ObjectName, error) {
	if name, ok := strings.CutPrefix(reference, "@"); ok {
		if name == "" {
			return mms.ObjectName{}, fmt.Errorf("%w: %q", ErrorObjectReferenceInvalid, reference)
		}
		return mms.AssociationName(name), nil
	}

	domainID, itemID, ok := strings.Cut(model.DataSetReferenceToMms(reference), "/")
	if !ok || domainID == "" || !strings.Contains(itemID, "$") {
		return mms.ObjectName{}, fmt.Errorf("%w: %q", ErrorObjectReferenceInvalid, reference)
	}
	return mms.DomainName(domainID, itemID), nil
}

// CreateDataSet создаёт набор данных из атрибутов "LD/LN.DO.DA[FC]"
func (c *Connection) CreateDataSet(ctx context.Context, reference string, members []string) error {
	conn, err := c.connected()
	if err != nil {
		return err
	}
	name, err := dataSetName(reference)
	if err != nil {
		return err
	}
	if len(members) == 0 {
		return fmt.Errorf("%w: empty data set", ErrorInvalidArgument)
	}

	variables := make([]mms.VariableSpec, 0, len(members))
	for _, member := range members {
		ref, err := objectName(member, model.FCNone)
		if err != nil {
			return err
		}
		spec := mms.VariableSpec{Name: mms.DomainName(ref.DomainID(), ref.ItemID())}
		if ref.HasIndex() {
			spec.Access = &mms.AlternateAccess{Index: ref.Index}
		}
		variables = append(variables, spec)
	}

	if err := conn.DefineNamedVariableList(ctx, name, variables); err != nil {
		return wrap(err)
	}
	c.invalidateModel()
	return nil
}

// DeleteDataSet удаляет набор данных. Постоянные наборы и наборы,
// используемые RCB, сервер удалить не даёт.
func (c *Connection) DeleteDataSet(ctx context.Context, reference string) error {
	conn, err := c.connected()
	if err != nil {
		return err
	}
	name, err := dataSetName(reference)
	if err != nil {
		return err
	}

	deleted, err := conn.DeleteNamedVariableList(ctx, name)
	if err != nil {
		return wrap(err)
	}
	if !deleted {
		return fmt.Errorf("%w: %s not deleted", ErrorAccessDenied, reference)
	}
	c.invalidateModel()
	return nil
}

// DataSetDirectory возвращает ссылки на элементы набора данных и признак
// возможности удаления
func (c *Connection) DataSetDirectory(ctx context.Context, reference string) ([]string, bool, error) {
	conn, err := c.connected()
	if err != nil {
		return nil, false, err
	}
	name, err := dataSetName(reference)
	if err != nil {
		return nil, false, err
	}

	variables, deletable, err := conn.ReadNamedVariableListDirectory(ctx, name)
	if err != nil {
		return nil, false, wrap(err)
	}

	members := make([]string, 0, len(variables))
	for _, v := range variables {
		ref, err := model.FromMms(v.Name.DomainID, v.Name.ItemID)
		if err != nil {
			return nil, false, fmt.Errorf("%w: %w", ErrorUnexpectedValue, err)
		}
		if v.Access != nil && !v.Access.IsRange() {
			ref.Index = v.Access.Index
		}
		members = append(members, ref.String())
	}
	return members, deletable, nil
}

// ReadDataSetValues читает значения набора данных. Если ds не nil, его
// значения обновляются и он же возвращается.
func (c *Connection) ReadDataSetValues(ctx context.Context, reference string, ds *DataSet) (*DataSet, error) {
	conn, err := c.connected()
	if err != nil {
		return nil, err
	}
	name, err := dataSetName(reference)
	if err != nil {
		return nil, err
	}

	var values []*variant.Variant
	if name.Scope == mms.ScopeAssociation {
		values, err = conn.ReadNamedVariableListValuesAssociationSpecific(ctx, name.ItemID, true)
	} else {
		values, err = conn.ReadNamedVariableListValues(ctx, name.DomainID, name.ItemID, true)
	}
	if err != nil {
		return nil, wrap(err)
	}

	if ds == nil || len(ds.Values) != len(values) {
		if ds == nil {
			ds = &DataSet{}
		}
		ds.Reference = name.String()
		ds.Values = values
		return ds, nil
	}
	for i, v := range values {
		if err := ds.Values[i].Update(v); err != nil {
			ds.Values[i] = v
		}
	}
	return ds, nil
}

func (c *Connection) invalidateModel() {
	c.mu.Lock()
	c.devices = nil
	c.mu.Unlock()
}
