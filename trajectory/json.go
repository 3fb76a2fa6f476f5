package trajectory

import (
	"encoding/json"
	"fmt"
)

type TrajectoryItemJSON struct {
	Type TrajectoryItemType `json:"type"`
	Data json.RawMessage    `json:"data"`
}

type TrajectoryItemType string

const (
	TrajectoryItemTypeMessage            TrajectoryItemType = "message"
	TrajectoryItemTypeObservation        TrajectoryItemType = "observation"
	TrajectoryItemTypeVerification       TrajectoryItemType = "verification"
	TrajectoryItemTypeMaxNumStepsReached TrajectoryItemType = "max_num_steps_reached"
	TrajectoryItemTypeTimeout            TrajectoryItemType = "timeout"
	TrajectoryItemTypeStepFailed         TrajectoryItemType = "step_failed"

	// actions are tagged with their kind
	TrajectoryItemTypeClick    = TrajectoryItemType(ActionKindClick)
	TrajectoryItemTypeType     = TrajectoryItemType(ActionKindType)
	TrajectoryItemTypeSelect   = TrajectoryItemType(ActionKindSelect)
	TrajectoryItemTypeSubmit   = TrajectoryItemType(ActionKindSubmit)
	TrajectoryItemTypeNavigate = TrajectoryItemType(ActionKindNavigate)
	TrajectoryItemTypePress    = TrajectoryItemType(ActionKindPress)
	TrajectoryItemTypeWait     = TrajectoryItemType(ActionKindWait)
	TrajectoryItemTypeVerify   = TrajectoryItemType(ActionKindVerify)
	TrajectoryItemTypeComplete = TrajectoryItemType(ActionKindComplete)
)

func MarshalTrajectory(traj *Trajectory) ([]byte, error) {
	trajJSON := []*TrajectoryItemJSON{}
	for _, item := range traj.Items {
		itemJSON, err := TrajectoryItemToJSON(item)
		if err != nil {
			return nil, err
		}
		trajJSON = append(trajJSON, itemJSON)
	}
	return json.Marshal(trajJSON)
}

func UnmarshalTrajectory(data []byte) (*Trajectory, error) {
	var trajJSON []*TrajectoryItemJSON
	err := json.Unmarshal(data, &trajJSON)
	if err != nil {
		return nil, err
	}
	traj := &Trajectory{Items: []TrajectoryItem{}}
	for _, itemJSON := range trajJSON {
		item, err := JSONToTrajectoryItem(itemJSON)
		if err != nil {
			return nil, err
		}
		traj.Items = append(traj.Items, item)
	}
	return traj, nil
}

func TrajectoryItemToJSON(item TrajectoryItem) (*TrajectoryItemJSON, error) {
	var typ TrajectoryItemType
	switch item := item.(type) {
	case Action:
		typ = TrajectoryItemType(item.Kind())
	case *Message:
		typ = TrajectoryItemTypeMessage
	case *Observation:
		typ = TrajectoryItemTypeObservation
	case *VerificationItem:
		typ = TrajectoryItemTypeVerification
	case *ErrorMaxNumStepsReached:
		typ = TrajectoryItemTypeMaxNumStepsReached
	case *ErrorTimeout:
		typ = TrajectoryItemTypeTimeout
	case *ErrorStepFailed:
		typ = TrajectoryItemTypeStepFailed
	default:
		return nil, fmt.Errorf("unknown trajectory item type: %T", item)
	}
	data, err := json.Marshal(item)
	if err != nil {
		return nil, err
	}
	return &TrajectoryItemJSON{
		Type: typ,
		Data: data,
	}, nil
}

func MarshalTrajectoryItem(item TrajectoryItem) ([]byte, error) {
	itemJSON, err := TrajectoryItemToJSON(item)
	if err != nil {
		return nil, err
	}
	return json.Marshal(itemJSON)
}

func UnmarshalTrajectoryItem(data []byte) (TrajectoryItem, error) {
	var trajItemJSON *TrajectoryItemJSON
	err := json.Unmarshal(data, &trajItemJSON)
	if err != nil {
		return nil, err
	} else if trajItemJSON == nil {
		return nil, fmt.Errorf("empty trajectory item")
	}
	return JSONToTrajectoryItem(trajItemJSON)
}

func JSONToTrajectoryItem(item *TrajectoryItemJSON) (TrajectoryItem, error) {
	var trajItem TrajectoryItem
	switch item.Type {
	case TrajectoryItemTypeMessage:
		trajItem = &Message{}
	case TrajectoryItemTypeObservation:
		trajItem = &Observation{}
	case TrajectoryItemTypeVerification:
		trajItem = &VerificationItem{}
	case TrajectoryItemTypeMaxNumStepsReached:
		trajItem = &ErrorMaxNumStepsReached{}
	case TrajectoryItemTypeTimeout:
		trajItem = &ErrorTimeout{}
	case TrajectoryItemTypeStepFailed:
		trajItem = &ErrorStepFailed{}
	case TrajectoryItemTypeClick:
		trajItem = &ClickAction{}
	case TrajectoryItemTypeType:
		trajItem = &TypeAction{}
	case TrajectoryItemTypeSelect:
		trajItem = &SelectAction{}
	case TrajectoryItemTypeSubmit:
		trajItem = &SubmitAction{}
	case TrajectoryItemTypeNavigate:
		trajItem = &NavigateAction{}
	case TrajectoryItemTypePress:
		trajItem = &PressAction{}
	case TrajectoryItemTypeWait:
		trajItem = &WaitAction{}
	case TrajectoryItemTypeVerify:
		trajItem = &VerifyAction{}
	case TrajectoryItemTypeComplete:
		trajItem = &CompleteAction{}
	default:
		return nil, fmt.Errorf("unknown trajectory item type: %s", item.Type)
	}
	err := json.Unmarshal(item.Data, trajItem)
	if err != nil {
		return nil, err
	}
	return trajItem, nil
}

// MarshalAction and UnmarshalAction are the action-only forms of the item
// codec, used by the recorder's host store and the run store.
func MarshalAction(action Action) ([]byte, error) {
	return MarshalTrajectoryItem(action)
}

func UnmarshalAction(data []byte) (Action, error) {
	item, err := UnmarshalTrajectoryItem(data)
	if err != nil {
		return nil, err
	}
	action, ok := item.(Action)
	if !ok {
		return nil, fmt.Errorf("trajectory item %T is not an action", item)
	}
	return action, nil
}
