package server

import (
	"strings"

	"github.com/careychow/libIEC61850-sub000/iec61850/model"
	"github.com/careychow/libIEC61850-sub000/osi/mms"
	"github.com/careychow/libIEC61850-sub000/osi/mms/variant"
)

// dataSet набор данных, разрешённый в значения кэша
type dataSet struct {
	// reference ссылка из DatSet: "LD/LN$name" или "@name"
	reference string
	owner     *mms.ServerConnection
	members   []dataSetMember
}

type dataSetMember struct {
	domainID string
	itemID   string
	index    int
	value    *variant.Variant
}

// reference возвращает MMS ссылку элемента для поля dataRef отчёта
func (m dataSetMember) reference() string {
	return m.domainID + "/" + m.itemID
}

// resolveDataSet находит именованный список по ссылке DatSet и связывает
// его элементы со значениями кэша. Вызывается под блокировкой модели.
func (s *Server) resolveDataSet(conn *mms.ServerConnection, reference string) (*dataSet, bool) {
	var (
		list  *mms.NamedVariableList
		owner *mms.ServerConnection
	)

	switch {
	case strings.HasPrefix(reference, "@"):
		if conn == nil {
			return nil, false
		}
		list = conn.NamedVariableLists().Get(reference[1:])
		owner = conn
	default:
		domainID, name, ok := strings.Cut(reference, "/")
		if !ok {
			return nil, false
		}
		domain := s.mms.Device().Domain(domainID)
		if domain == nil {
			return nil, false
		}
		list = domain.NamedVariableLists().Get(name)
	}
	if list == nil {
		return nil, false
	}

	ds := &dataSet{reference: reference, owner: owner}
	for _, variable := range list.Variables {
		if variable.Name.Scope != mms.ScopeDomain {
			return nil, false
		}
		member := dataSetMember{
			domainID: variable.Name.DomainID,
			itemID:   variable.Name.ItemID,
			index:    -1,
		}
		if variable.Access != nil {
			if variable.Access.IsRange() || variable.Access.Component != "" {
				return nil, false
			}
			member.index = variable.Access.Index
		}

		member.value = s.lookup(member.domainID, member.itemID, member.index)
		if member.value == nil {
			return nil, false
		}
		ds.members = append(ds.members, member)
	}
	return ds, true
}

// checkDataSetMembers разрешает создавать наборы данных только из
// атрибутов с функциональной связью
func (s *Server) checkDataSetMembers(list *mms.NamedVariableList) mms.DataAccessError {
	for _, variable := range list.Variables {
		parts := strings.Split(variable.Name.ItemID, "$")
		if len(parts) < 2 {
			return mms.ObjectAccessDenied
		}
		switch model.ParseFunctionalConstraint(parts[1]) {
		case model.FCNone, model.FCCO, model.FCRP, model.FCBR:
			return mms.ObjectAccessDenied
		}
	}
	return mms.DataAccessSuccess
}
