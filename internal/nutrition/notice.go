package nutrition

import (
	"errors"
	"strings"

	"github.com/vbonduro/nutrilog/internal/domain"
)

type NoticeLevel string

const (
	NoticeInfo    NoticeLevel = "info"
	NoticeWarning NoticeLevel = "warning"
	NoticeError   NoticeLevel = "error"
)

// Notice is the one-line message shown to the user when an operation fails.
type Notice struct {
	Level NoticeLevel
	Text  string
}

// NoticeFor converts err into a user-visible notice. Precondition failures and
// an empty ledger are warnings; everything else is an error. Input errors are
// shown verbatim because they may quote a user's filename.
func NoticeFor(err error) Notice {
	switch {
	case err == nil:
		return Notice{Level: NoticeInfo}
	case errors.Is(err, domain.ErrNothingLogged):
		return Notice{Level: NoticeWarning, Text: "No meals logged today yet. Analyse a meal before closing out the day."}
	case errors.Is(err, domain.ErrPrecondition):
		return Notice{Level: NoticeWarning, Text: "Please set your goal for today before continuing."}
	case errors.Is(err, domain.ErrAuth):
		return Notice{Level: NoticeError, Text: "Please provide a valid API key to continue."}
	case errors.Is(err, domain.ErrInput):
		return Notice{Level: NoticeError, Text: strings.TrimSuffix(err.Error(), ": "+domain.ErrInput.Error())}
	case errors.Is(err, domain.ErrUpstream):
		return Notice{Level: NoticeError, Text: "An error occurred while generating a response: " + err.Error()}
	default:
		return Notice{Level: NoticeError, Text: "An error occurred: " + err.Error()}
	}
}
