package agent

import "github.com/brieflens/brieflens/internal/tools"

// State is one stage of the turn pipeline. The pipeline is linear with a
// single conditional edge: SELECT_TOOLS skips straight to generation when
// the selection comes back empty.
type State int

const (
	StateInitialize State = iota
	StateUnderstandQuery
	StateRetrieveMemory
	StateSelectTools
	StateExecuteTools
	StateGenerateResponse
	StateUpdateMemory
	StateComplete
)

var stateNames = map[State]string{
	StateInitialize:       "initialize",
	StateUnderstandQuery:  "understand_query",
	StateRetrieveMemory:   "retrieve_memory",
	StateSelectTools:      "select_tools",
	StateExecuteTools:     "execute_tools",
	StateGenerateResponse: "generate_response",
	StateUpdateMemory:     "update_memory",
	StateComplete:         "complete",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// NextState is the pure transition function. toolsSelected only matters
// leaving SELECT_TOOLS; every other edge is unconditional.
func NextState(s State, toolsSelected bool) State {
	switch s {
	case StateInitialize:
		return StateUnderstandQuery
	case StateUnderstandQuery:
		return StateRetrieveMemory
	case StateRetrieveMemory:
		return StateSelectTools
	case StateSelectTools:
		if toolsSelected {
			return StateExecuteTools
		}
		return StateGenerateResponse
	case StateExecuteTools:
		return StateGenerateResponse
	case StateGenerateResponse:
		return StateUpdateMemory
	case StateUpdateMemory:
		return StateComplete
	default:
		return StateComplete
	}
}

// SelectTools maps an intent to the capabilities to run this turn. The
// mapping is a pure function of the intent, with no session state involved.
func SelectTools(intent Intent) []string {
	var selected []string
	if intent.HasScope(ScopeLive) {
		selected = append(selected, tools.CapabilityLiveSearch)
	}
	if len(intent.URLs) > 0 {
		selected = append(selected, tools.CapabilityLinkExtraction)
	}
	if intent.Kind == IntentFindRelated {
		selected = append(selected, tools.CapabilityRelatedItems)
	}
	if intent.Kind == IntentExploreTopic || intent.Kind == IntentCompare {
		selected = append(selected, tools.CapabilityRetrieval)
	}
	return selected
}
