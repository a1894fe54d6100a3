package registry

import (
	"github.com/dipeo/dipeo/common/events"
	"github.com/dipeo/dipeo/common/ports"
	"github.com/dipeo/dipeo/common/router"
	"github.com/dipeo/dipeo/common/state"
)

// Well-known service slots. Handlers declare the subset they require; the
// engine verifies the registry against those declarations before running the
// first node.
var (
	StateService    = NewKey[*state.Service]("STATE_SERVICE")
	StateRepository = NewKey[state.Repository]("STATE_REPOSITORY")
	EventBus        = NewKey[*events.Bus]("EVENT_BUS")
	MessageRouter   = NewKey[*router.Router]("MESSAGE_ROUTER")

	LLMService        = NewKey[ports.LLMService]("LLM_SERVICE")
	APIInvoker        = NewKey[ports.APIInvoker]("API_INVOKER")
	FileSystemAdapter = NewKey[ports.FileSystem]("FILESYSTEM_ADAPTER")
	UserResponder     = NewKey[ports.UserResponder]("USER_RESPONDER")
)
