package runtime

import (
	"fmt"

	"github.com/justapithecus/drawscan/types"
)

// Exit codes for a finished session.
const (
	ExitCodeSuccess     = 0 // clean end of stream, no server errors
	ExitCodeServerError = 1 // clean end of stream with error events
	ExitCodeTransport   = 2 // transport or framing failure
	ExitCodeCanceled    = 3 // session abandoned
)

// DetermineOutcome determines the session outcome from the dispatch error
// and the number of server-reported errors.
//
// Mapping:
//   - nil error, no server errors: success
//   - nil error, server errors: server_error (the stream still completed)
//   - canceled: canceled
//   - anything else: transport_failure
func DetermineOutcome(err error, serverErrors int) *types.Outcome {
	switch {
	case err == nil && serverErrors == 0:
		return &types.Outcome{
			Status:  types.OutcomeSuccess,
			Message: "analysis completed successfully",
		}

	case err == nil:
		return &types.Outcome{
			Status:  types.OutcomeServerError,
			Message: fmt.Sprintf("analysis completed with %d server error(s)", serverErrors),
		}

	case IsCanceledError(err):
		return &types.Outcome{
			Status:  types.OutcomeCanceled,
			Message: "analysis canceled",
		}

	default:
		return &types.Outcome{
			Status:  types.OutcomeTransportFailure,
			Message: err.Error(),
		}
	}
}

// ExitCode maps an outcome to a process exit code.
func ExitCode(outcome *types.Outcome) int {
	if outcome == nil {
		return ExitCodeTransport
	}
	switch outcome.Status {
	case types.OutcomeSuccess:
		return ExitCodeSuccess
	case types.OutcomeServerError:
		return ExitCodeServerError
	case types.OutcomeCanceled:
		return ExitCodeCanceled
	default:
		return ExitCodeTransport
	}
}
