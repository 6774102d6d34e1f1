package mms

import (
	"golang.org/x/exp/slices"

	"github.com/careychow/libIEC61850-sub000/osi/mms/variant"
)

func (s *Server) getNameList(conn *ServerConnection, request *GetNameListRequest) (Service, Error) {
	var names []string

	switch request.Class {
	case ClassDomain:
		if request.Scope != ScopeVMD {
			return nil, ErrorAccessObjectAccessUnsupported
		}
		names = s.device.DomainNames()

	case ClassNamedVariable:
		switch request.Scope {
		case ScopeDomain:
			domain := s.device.Domain(request.DomainID)
			if domain == nil {
				return nil, ErrorAccessObjectNonExistent
			}
			names = domain.VariableNames()
		case ScopeVMD:
			// переменных уровня VMD нет
		default:
			return nil, ErrorAccessObjectAccessUnsupported
		}

	case ClassNamedVariableList:
		switch request.Scope {
		case ScopeDomain:
			domain := s.device.Domain(request.DomainID)
			if domain == nil {
				return nil, ErrorAccessObjectNonExistent
			}
			names = domain.NamedVariableLists().Names()
		case ScopeVMD:
			names = s.device.NamedVariableLists().Names()
		case ScopeAssociation:
			names = conn.NamedVariableLists().Names()
		}

	case ClassJournal:
		if request.Scope == ScopeDomain && s.device.Domain(request.DomainID) == nil {
			return nil, ErrorAccessObjectNonExistent
		}

	default:
		return nil, ErrorAccessObjectAccessUnsupported
	}

	if request.ContinueAfter != "" && !slices.Contains(names, request.ContinueAfter) {
		return nil, ErrorAccessObjectAccessUnsupported
	}

	page, more := NameListPage(names, request.ContinueAfter, int(conn.MaxPduSize()))
	return &GetNameListResponse{Identifiers: page, MoreFollows: more}, ErrorNone
}

func (s *Server) getVariableAccessAttributes(request *GetVariableAccessAttributesRequest) (Service, Error) {
	if request.Name.Scope != ScopeDomain {
		return nil, ErrorAccessObjectNonExistent
	}

	domain := s.device.Domain(request.Name.DomainID)
	if domain == nil {
		return nil, ErrorAccessObjectNonExistent
	}
	spec := domain.Variable(request.Name.ItemID)
	if spec == nil {
		return nil, ErrorAccessObjectNonExistent
	}

	return &VariableAccessAttributesResponse{TypeSpecification: spec}, ErrorNone
}

// lookupNamedVariableList находит список по имени в его области видимости
func (s *Server) lookupNamedVariableList(conn *ServerConnection, name ObjectName) (*NamedVariableLists, *Domain, bool) {
	switch name.Scope {
	case ScopeDomain:
		domain := s.device.Domain(name.DomainID)
		if domain == nil {
			return nil, nil, false
		}
		return domain.NamedVariableLists(), domain, true
	case ScopeAssociation:
		return conn.NamedVariableLists(), nil, true
	}
	return s.device.NamedVariableLists(), nil, true
}

func (s *Server) read(conn *ServerConnection, request *ReadRequest) (Service, Error, error) {
	s.modelMu.Lock()
	defer s.modelMu.Unlock()

	response := &ReadResponse{}

	variables := request.Specification.Variables
	if request.Specification.IsNamedList() {
		lists, _, ok := s.lookupNamedVariableList(conn, *request.Specification.ListName)
		if !ok {
			return nil, ErrorAccessObjectNonExistent, nil
		}
		list := lists.Get(request.Specification.ListName.ItemID)
		if list == nil {
			return nil, ErrorAccessObjectNonExistent, nil
		}
		variables = list.Variables
	} else {
		for _, variable := range variables {
			if variable.Name.Scope != ScopeDomain {
				return nil, ErrorNone, ErrInvalidPDU
			}
		}
	}

	if request.SpecificationWithResult {
		specification := request.Specification
		response.Specification = &specification
	}

	for _, variable := range variables {
		response.Results = append(response.Results, s.readVariable(conn, variable))
	}
	return response, ErrorNone, nil
}

func (s *Server) readVariable(conn *ServerConnection, variable VariableSpec) AccessResult {
	if variable.Name.Scope != ScopeDomain {
		return FailureResult(ObjectNonExistent)
	}

	domain := s.device.Domain(variable.Name.DomainID)
	if domain == nil {
		return FailureResult(ObjectNonExistent)
	}
	spec := domain.Variable(variable.Name.ItemID)
	if spec == nil {
		return FailureResult(ObjectNonExistent)
	}

	value := s.value(conn, domain, variable.Name.ItemID, spec)
	if value == nil {
		return FailureResult(ObjectNonExistent)
	}
	if variable.Access == nil {
		return ResultFromValue(value)
	}

	return alternateAccessResult(value, spec, variable.Access)
}

// value возвращает значение от обработчика чтения или из кэша. Структура,
// отсутствующая в кэше, собирается из значений компонент.
func (s *Server) value(conn *ServerConnection, domain *Domain, itemID string, spec *TypeSpecification) *variant.Variant {
	if s.options.onRead != nil {
		if value := s.options.onRead(conn, domain, itemID); value != nil {
			return value
		}
	}

	if value := s.GetValueFromCache(domain.Name, itemID); value != nil {
		return value
	}

	if spec.Type != TypeSpecStructure {
		return nil
	}

	components := make([]*variant.Variant, len(spec.Components))
	for i, component := range spec.Components {
		components[i] = s.value(conn, domain, itemID+"$"+component.Name, component)
		if components[i] == nil {
			return nil
		}
	}
	return variant.NewStructureVariant(components...)
}

func alternateAccessResult(value *variant.Variant, spec *TypeSpecification, access *AlternateAccess) AccessResult {
	if value.Type() != variant.Array || spec.Type != TypeSpecArray {
		return FailureResult(ObjectAccessUnsupported)
	}

	if access.IsRange() {
		if access.Index < 0 || access.Index+access.Count > value.Len() {
			return FailureResult(ObjectNonExistent)
		}
		elements := make([]*variant.Variant, access.Count)
		for i := range elements {
			elements[i] = value.Element(access.Index + i).Clone()
		}
		return SuccessResult(variant.NewArrayVariant(elements...))
	}

	element := value.Element(access.Index)
	if element == nil {
		return FailureResult(ObjectNonExistent)
	}

	if access.Component != "" {
		index := spec.Element.ComponentIndex(access.Component)
		if index < 0 {
			return FailureResult(ObjectNonExistent)
		}
		element = element.Element(index)
		if element == nil {
			return FailureResult(ObjectNonExistent)
		}
	}

	return ResultFromValue(element.Clone())
}

// write возвращает признак deferred, если обработчик записи отложил ответ
func (s *Server) write(conn *ServerConnection, request *WriteRequest) (Service, Error, bool, error) {
	s.modelMu.Lock()
	defer s.modelMu.Unlock()

	variables := request.Specification.Variables
	if request.Specification.IsNamedList() {
		lists, _, ok := s.lookupNamedVariableList(conn, *request.Specification.ListName)
		if !ok {
			return nil, ErrorAccessObjectNonExistent, false, nil
		}
		list := lists.Get(request.Specification.ListName.ItemID)
		if list == nil {
			return nil, ErrorAccessObjectNonExistent, false, nil
		}
		variables = list.Variables
	}

	response := &WriteResponse{Results: make([]DataAccessError, len(request.Values))}
	if len(variables) != len(request.Values) {
		for i := range response.Results {
			response.Results[i] = ObjectAccessDenied
		}
		return response, ErrorNone, false, nil
	}

	single := !request.Specification.IsNamedList() && len(variables) == 1
	conn.singleWrite.Store(single)
	defer conn.singleWrite.Store(false)

	for i, variable := range variables {
		response.Results[i] = s.writeVariable(conn, variable, request.Values[i])
	}

	for i, result := range response.Results {
		if result != DataAccessNoResponse {
			continue
		}
		if single {
			return nil, ErrorNone, true, nil
		}
		s.log.Warning("write %s from %s: deferred response in a multi-variable write", variables[i].Name, conn.ID())
		response.Results[i] = TemporarilyUnavailable
	}
	return response, ErrorNone, false, nil
}

func (s *Server) writeVariable(conn *ServerConnection, variable VariableSpec, value *variant.Variant) DataAccessError {
	if variable.Name.Scope != ScopeDomain {
		return ObjectAccessDenied
	}

	domain := s.device.Domain(variable.Name.DomainID)
	if domain == nil {
		return ObjectAccessDenied
	}
	itemID := variable.Name.ItemID
	spec := domain.Variable(itemID)
	if spec == nil {
		return ObjectAccessDenied
	}

	if variable.Access != nil {
		return s.writeArrayElement(conn, domain, itemID, spec, variable.Access, value)
	}

	if !spec.Matches(value) {
		return TypeInconsistent
	}

	if s.options.onWrite != nil {
		return s.options.onWrite(conn, domain, itemID, value)
	}

	cached := s.GetValueFromCache(domain.Name, itemID)
	if cached == nil {
		return ObjectNonExistent
	}
	if err := cached.Update(value); err != nil {
		return TypeInconsistent
	}
	return DataAccessSuccess
}

func (s *Server) writeArrayElement(conn *ServerConnection, domain *Domain, itemID string, spec *TypeSpecification,
	access *AlternateAccess, value *variant.Variant,
) DataAccessError {
	if spec.Type != TypeSpecArray || access.IsRange() || access.Component != "" {
		return ObjectAccessDenied
	}
	if access.Index < 0 || access.Index >= spec.ElementCount {
		return ObjectNonExistent
	}
	if !spec.Element.Matches(value) {
		return TypeInconsistent
	}

	current := s.value(conn, domain, itemID, spec)
	if current == nil || current.Element(access.Index) == nil {
		return ObjectNonExistent
	}

	if s.options.onWrite != nil {
		updated := current.Clone()
		updated.SetElement(access.Index, value.Clone())
		return s.options.onWrite(conn, domain, itemID, updated)
	}

	if err := current.Element(access.Index).Update(value); err != nil {
		return TypeInconsistent
	}
	return DataAccessSuccess
}

func (s *Server) defineNamedVariableList(conn *ServerConnection, request *DefineNamedVariableListRequest) (Service, Error) {
	lists, domain, ok := s.lookupNamedVariableList(conn, request.Name)
	if !ok {
		return nil, ErrorAccessObjectNonExistent
	}
	if lists.Get(request.Name.ItemID) != nil {
		return nil, ErrorDefinitionObjectExists
	}

	for _, variable := range request.Variables {
		if variable.Name.Scope != ScopeDomain {
			return nil, ErrorDefinitionObjectUndefined
		}
		target := s.device.Domain(variable.Name.DomainID)
		if target == nil || target.Variable(variable.Name.ItemID) == nil {
			return nil, ErrorDefinitionObjectUndefined
		}
	}

	list := &NamedVariableList{
		Name:      request.Name.ItemID,
		Deletable: true,
		Variables: request.Variables,
	}

	if s.options.onVariableList != nil {
		if result := s.options.onVariableList(conn, NamedVariableListCreated, request.Name.Scope, domain, list); result != DataAccessSuccess {
			return nil, ErrorFromDataAccess(result)
		}
	}

	if err := lists.Add(list); err != nil {
		return nil, ErrorDefinitionObjectExists
	}

	s.log.Info("named variable list %s defined by %s", request.Name, conn.ID())
	return DefineNamedVariableListResponse, ErrorNone
}

func (s *Server) getNamedVariableListAttributes(conn *ServerConnection, request *GetNamedVariableListAttributesRequest) (Service, Error) {
	lists, _, ok := s.lookupNamedVariableList(conn, request.Name)
	if !ok {
		return nil, ErrorAccessObjectNonExistent
	}
	list := lists.Get(request.Name.ItemID)
	if list == nil {
		return nil, ErrorAccessObjectNonExistent
	}

	return &GetNamedVariableListAttributesResponse{
		Deletable: list.Deletable,
		Variables: list.Variables,
	}, ErrorNone
}

func (s *Server) deleteNamedVariableList(conn *ServerConnection, request *DeleteNamedVariableListRequest) Service {
	response := &DeleteNamedVariableListResponse{}

	deleteFrom := func(lists *NamedVariableLists, scope ObjectScope, domain *Domain, list *NamedVariableList) {
		response.Matched++
		if !list.Deletable {
			return
		}
		if s.options.onVariableList != nil && s.options.onVariableList(conn, NamedVariableListDeleted, scope, domain, list) != DataAccessSuccess {
			return
		}
		if lists.Delete(list.Name) {
			response.Deleted++
			s.log.Info("named variable list %s deleted by %s", list.Name, conn.ID())
		}
	}

	switch request.Scope {
	case DeleteSpecific:
		for _, name := range request.Names {
			lists, domain, ok := s.lookupNamedVariableList(conn, name)
			if !ok {
				continue
			}
			if list := lists.Get(name.ItemID); list != nil {
				deleteFrom(lists, name.Scope, domain, list)
			}
		}

	case DeleteAssociationSpecific:
		for _, list := range conn.NamedVariableLists().All() {
			deleteFrom(conn.NamedVariableLists(), ScopeAssociation, nil, list)
		}

	case DeleteDomain:
		if domain := s.device.Domain(request.DomainID); domain != nil {
			for _, list := range domain.NamedVariableLists().All() {
				deleteFrom(domain.NamedVariableLists(), ScopeDomain, domain, list)
			}
		}

	case DeleteVMD:
		for _, list := range s.device.NamedVariableLists().All() {
			deleteFrom(s.device.NamedVariableLists(), ScopeVMD, nil, list)
		}
	}

	return response
}
