package command

import gocmd "github.com/goliatone/go-command"

var (
	_ gocmd.Commander[ProcessEventMessage]      = (*ProcessEventCommand)(nil)
	_ gocmd.Commander[ReplayEventMessage]       = (*ReplayEventCommand)(nil)
	_ gocmd.Commander[TransitionRequestMessage] = (*TransitionRequestCommand)(nil)
)
