package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"meshmate/internal/command"
	"meshmate/internal/schedule"
	kit "meshmate/internal/transport"
	logx "meshmate/pkg/logx"
)

type sent struct {
	channel int
	text    string
}

type fakeSender struct {
	out []sent
	err error
}

func (f *fakeSender) SendText(ctx context.Context, channel int, text string) error {
	if f.err != nil {
		return f.err
	}
	if _, ok := ctx.Deadline(); !ok {
		return errors.New("send without deadline")
	}
	f.out = append(f.out, sent{channel, text})
	return nil
}

func newExecutor(t *testing.T, out kit.Sender) *Executor {
	t.Helper()
	r := command.NewRouter(command.Options{Log: logx.Nop()})
	if err := r.Register(command.PingCommand(), command.Command{
		Name:   "silent",
		Handle: func(context.Context, *command.Request) (string, error) { return "", nil },
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	return New(Config{Timeout: time.Second, ReminderPrefix: DefaultReminderPrefix}, r, out, logx.Nop())
}

func due(text string) schedule.Due {
	return schedule.Due{OwnerID: "!a1b2c3d4", ScheduleID: 1, Channel: 2, Content: schedule.ParseContent(text)}
}

func TestExecuteReminder(t *testing.T) {
	t.Parallel()
	out := &fakeSender{}
	e := newExecutor(t, out)
	if err := e.Execute(context.Background(), due("Regar plantas")); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(out.out) != 1 || out.out[0] != (sent{2, "@a1b2c3d4 ⏰ Regar plantas"}) {
		t.Fatalf("sent = %+v", out.out)
	}
}

func TestExecuteCommand(t *testing.T) {
	t.Parallel()
	out := &fakeSender{}
	e := newExecutor(t, out)
	if err := e.Execute(context.Background(), due("/ping")); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(out.out) != 1 || out.out[0] != (sent{2, "@a1b2c3d4 pong (via radio)"}) {
		t.Fatalf("sent = %+v", out.out)
	}

	if err := e.Execute(context.Background(), due("/silent")); err != nil {
		t.Fatalf("silent: %v", err)
	}
	if len(out.out) != 1 {
		t.Fatalf("empty reply should not be sent: %+v", out.out)
	}
}

func TestExecuteUnknownCommand(t *testing.T) {
	t.Parallel()
	e := newExecutor(t, &fakeSender{})
	err := e.Execute(context.Background(), due("/meteo hoy"))
	if !errors.Is(err, ErrUnknownCommand) {
		t.Fatalf("err = %v", err)
	}
}

func TestExecuteSendFailure(t *testing.T) {
	t.Parallel()
	radio := errors.New("radio offline")
	e := newExecutor(t, &fakeSender{err: radio})
	if err := e.Execute(context.Background(), due("hola")); !errors.Is(err, radio) {
		t.Fatalf("err = %v", err)
	}
}
