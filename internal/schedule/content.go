package schedule

import "strings"

// CommandPrefix marks content that is re-dispatched as a command when due.
const CommandPrefix = "/"

type ContentKind int

const (
	KindReminder ContentKind = iota
	KindCommand
)

func (k ContentKind) String() string {
	if k == KindCommand {
		return "command"
	}
	return "reminder"
}

// Content is what a schedule delivers. Kind is fixed at creation time.
type Content struct {
	Kind ContentKind
	Text string
}

// ParseContent classifies text by CommandPrefix.
func ParseContent(text string) Content {
	if strings.HasPrefix(strings.TrimSpace(text), CommandPrefix) {
		return Content{Kind: KindCommand, Text: text}
	}
	return Content{Kind: KindReminder, Text: text}
}

func (c Content) IsCommand() bool { return c.Kind == KindCommand }
