package model

import "fmt"

// AddCause дополнительная причина отказа в управлении (LastApplError)
type AddCause int

const (
	AddCauseUnknown                     AddCause = 0
	AddCauseNotSupported                AddCause = 1
	AddCauseBlockedBySwitchingHierarchy AddCause = 2
	AddCauseSelectFailed                AddCause = 3
	AddCauseInvalidPosition             AddCause = 4
	AddCausePositionReached             AddCause = 5
	AddCauseParameterChangeInExecution  AddCause = 6
	AddCauseStepLimit                   AddCause = 7
	AddCauseBlockedByMode               AddCause = 8
	AddCauseBlockedByProcess            AddCause = 9
	AddCauseBlockedByInterlocking       AddCause = 10
	AddCauseBlockedBySynchrocheck       AddCause = 11
	AddCauseCommandAlreadyInExecution   AddCause = 12
	AddCauseBlockedByHealth             AddCause = 13
	AddCause1OfNControl                 AddCause = 14
	AddCauseAbortionByCancel            AddCause = 15
	AddCauseTimeLimitOver               AddCause = 16
	AddCauseAbortionByTrip              AddCause = 17
	AddCauseObjectNotSelected           AddCause = 18
	AddCauseObjectAlreadySelected       AddCause = 19
	AddCauseNoAccessAuthority           AddCause = 20
	AddCauseEndedWithOvershoot          AddCause = 21
	AddCauseAbortionDueToDeviation      AddCause = 22
	AddCauseAbortionByCommunicationLoss AddCause = 23
	AddCauseBlockedByCommand            AddCause = 24
	AddCauseNone                        AddCause = 25
	AddCauseInconsistentParameters      AddCause = 26
	AddCauseLockedByOtherClient         AddCause = 27
)

var addCauseNames = [...]string{
	"unknown", "not-supported", "blocked-by-switching-hierarchy", "select-failed",
	"invalid-position", "position-reached", "parameter-change-in-execution",
	"step-limit", "blocked-by-mode", "blocked-by-process", "blocked-by-interlocking",
	"blocked-by-synchrocheck", "command-already-in-execution", "blocked-by-health",
	"1-of-n-control", "abortion-by-cancel", "time-limit-over", "abortion-by-trip",
	"object-not-selected", "object-already-selected", "no-access-authority",
	"ended-with-overshoot", "abortion-due-to-deviation", "abortion-by-communication-loss",
	"blocked-by-command", "none", "inconsistent-parameters", "locked-by-other-client",
}

func (c AddCause) String() string {
	if c >= 0 && int(c) < len(addCauseNames) {
		return addCauseNames[c]
	}
	return fmt.Sprintf("AddCause(%d)", int(c))
}

// ControlError код ошибки LastApplError
type ControlError int

const (
	ControlErrorNone ControlError = iota
	ControlErrorUnknown
	ControlErrorTimeoutTestNotOK
	ControlErrorOperatorTestNotOK
)

func (e ControlError) String() string {
	switch e {
	case ControlErrorNone:
		return "no-error"
	case ControlErrorUnknown:
		return "unknown"
	case ControlErrorTimeoutTestNotOK:
		return "timeout-test-not-ok"
	case ControlErrorOperatorTestNotOK:
		return "operator-test-not-ok"
	}
	return fmt.Sprintf("ControlError(%d)", int(e))
}

// Биты атрибута Check команды управления
const (
	CheckSynchrocheck = 1 << 0
	CheckInterlock    = 1 << 1
)

// Значения sboClass
const (
	SboClassOperateOnce = 0
	SboClassOperateMany = 1
)

// Originator категория источника команды (orCat)
type Originator int

const (
	OriginatorNotSupported Originator = iota
	OriginatorBayControl
	OriginatorStationControl
	OriginatorRemoteControl
	OriginatorAutomaticBay
	OriginatorAutomaticStation
	OriginatorAutomaticRemote
	OriginatorMaintenance
	OriginatorProcess
)
