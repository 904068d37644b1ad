package app

// Key binding constants used in handleKey.
const (
	KeyQuit        = "ctrl+c"
	KeyEsc         = "esc"
	KeyTab         = "tab"
	KeyEnter       = "enter"
	KeyBackspace   = "backspace"
	KeyClearLine   = "ctrl+u"
	KeyUp          = "up"
	KeyDown        = "down"
	KeyRecord      = "ctrl+r"
	KeyVideo       = "ctrl+g"
	KeyCancelVideo = "ctrl+x"
	KeyReplay      = "ctrl+p"
	KeyNew         = "ctrl+n"
	KeyVoice       = "ctrl+v"
)
