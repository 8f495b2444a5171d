package command

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	kit "meshmate/internal/transport"
)

const infoText = "🤖 MeshMate Bot\n\n" +
	"✨ Ping, avisos meteo, info\n" +
	"🔗 github.com/destaben/meshmate\n\n" +
	"¡Contribuye! 🚀"

// PingCommand answers with how the request reached the node.
func PingCommand() Command {
	return Command{
		Name:        "ping",
		Description: "Test de conectividad",
		Handle: func(_ context.Context, req *Request) (string, error) {
			return Mention(req.Msg.From, Pong(req.Msg)), nil
		},
	}
}

// Pong builds "pong (via radio) - 2/3 hops (SNR: 6.25dB, RSSI: -90dBm)".
func Pong(m kit.Message) string {
	var b strings.Builder
	b.WriteString("pong")
	if m.ViaMQTT {
		b.WriteString(" (via MQTT)")
	} else {
		b.WriteString(" (via radio)")
	}
	if m.HopStart > 0 {
		fmt.Fprintf(&b, " - %d/%d hops", m.HopsUsed(), m.HopStart)
	}
	var signal []string
	if m.SNR != nil {
		signal = append(signal, "SNR: "+strconv.FormatFloat(*m.SNR, 'f', -1, 64)+"dB")
	}
	if m.RSSI != nil {
		signal = append(signal, "RSSI: "+strconv.Itoa(*m.RSSI)+"dBm")
	}
	if len(signal) > 0 {
		b.WriteString(" (" + strings.Join(signal, ", ") + ")")
	}
	return b.String()
}

// Mention prefixes text with "@node", dropping the leading "!" of node ids.
func Mention(from, text string) string {
	return "@" + strings.TrimPrefix(from, "!") + " " + text
}

func InfoCommand() Command {
	return Command{
		Name:        "meshmate",
		Description: "Info del proyecto",
		Handle: func(context.Context, *Request) (string, error) {
			return infoText, nil
		},
	}
}

// HelpCommand lists the router's commands, itself included.
func HelpCommand(r *Router) Command {
	return Command{
		Name:        "?",
		Description: "Esta ayuda",
		Handle: func(context.Context, *Request) (string, error) {
			var b strings.Builder
			b.WriteString("📋 Comandos disponibles:\n\n")
			for _, c := range r.Commands() {
				fmt.Fprintf(&b, "%s%s - %s\n\n", Prefix, c.Name, c.Description)
			}
			b.WriteString("🤖 MeshMate Bot")
			return b.String(), nil
		},
	}
}
