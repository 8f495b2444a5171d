package command

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"meshmate/internal/registry"
	"meshmate/internal/schedule"
	logx "meshmate/pkg/logx"
)

// Scheduler is the registry surface the /schedule command needs.
type Scheduler interface {
	Add(ctx context.Context, owner, timeText, content string, channel int, recurrenceText string) (registry.Result, error)
	List(owner string) []*schedule.Schedule
	Delete(ctx context.Context, owner string, id int) (string, error)
}

const scheduleHelp = "📅 /schedule\n\n" +
	"• add HH:MM texto [días]\n\n" +
	"• list\n\n" +
	"• del ID\n\n" +
	"Ej: /schedule add 09:30 /ping all"

// ScheduleCommand serves "/schedule add|list|del|help".
func ScheduleCommand(s Scheduler) Command {
	return Command{
		Name:        "schedule",
		Description: "Programar comandos",
		Handle: func(ctx context.Context, req *Request) (string, error) {
			if len(req.Args) == 0 {
				return scheduleHelp, nil
			}
			sub := strings.ToLower(req.Args[0])
			req.Logger.Debug("schedule subcommand", logx.String("subcommand", sub), logx.Int("args", len(req.Args)-1))
			switch sub {
			case "add":
				return scheduleAdd(ctx, s, req), nil
			case "list":
				return scheduleList(s, req.Msg.From), nil
			case "del", "delete":
				return scheduleDelete(ctx, s, req), nil
			case "help":
				return scheduleHelp, nil
			default:
				return fmt.Sprintf("Subcomando '%s' no reconocido. Usa /schedule help", sub), nil
			}
		},
	}
}

func scheduleAdd(ctx context.Context, s Scheduler, req *Request) string {
	args := req.Args[1:]
	if len(args) < 2 {
		return "❌ Formato: add HH:MM texto [días]"
	}
	timeText := args[0]
	content := args[1:]

	// A trailing "all" or day list is the recurrence, as long as some content remains.
	days := ""
	if len(content) > 1 && schedule.MentionsDay(content[len(content)-1]) {
		days = content[len(content)-1]
		content = content[:len(content)-1]
	}
	text := strings.Join(content, " ")
	if strings.TrimSpace(text) == "" {
		return "❌ Falta comando/texto"
	}

	res, err := s.Add(ctx, req.Msg.From, timeText, text, req.Msg.Channel, days)
	if err != nil {
		return "❌ " + schedule.UserMessage(err)
	}
	return "✅ " + res.Message + "\n\n" + preview(text, 25)
}

func scheduleList(s Scheduler, owner string) string {
	list := s.List(owner)
	if len(list) == 0 {
		return "📋 Sin schedules\n\nUsa: add HH:MM texto [días]"
	}
	var b strings.Builder
	b.WriteString("📋 Tus schedules:\n\n")
	for _, sc := range list {
		icon := "💬"
		if sc.Content.IsCommand() {
			icon = "🤖"
		}
		fmt.Fprintf(&b, "%s #%d %s %s %s\n", icon, sc.ID, sc.At, preview(sc.Content.Text, 20), sc.RecurrenceLabel())
	}
	b.WriteString("\nUsa: del ID")
	return b.String()
}

func scheduleDelete(ctx context.Context, s Scheduler, req *Request) string {
	args := req.Args[1:]
	if len(args) == 0 {
		return "❌ Formato: del ID"
	}
	id, err := strconv.Atoi(args[0])
	if err != nil {
		return "❌ ID debe ser un número"
	}
	msg, err := s.Delete(ctx, req.Msg.From, id)
	if err != nil {
		return "❌ " + schedule.UserMessage(err)
	}
	return "✅ " + msg
}

// preview cuts s to n runes, marking the cut with "...".
func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
