package app

import (
	"errors"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/HaPhanBaoMinh/kinsight/internal/domain"
	"github.com/HaPhanBaoMinh/kinsight/internal/stream"
)

// Listener forwards feed events into the running program, usually via
// (*tea.Program).Send. The model re-reads the source on each snapshot.
// A feed closed on purpose is not reported.
func Listener(send func(tea.Msg)) domain.Listener {
	return domain.ListenerFuncs{
		Snapshot: func(domain.Snapshot) { send(snapshotMsg{}) },
		Error: func(err error) {
			if errors.Is(err, stream.ErrFeedClosed) {
				return
			}
			send(streamErrMsg{err: err})
		},
	}
}
