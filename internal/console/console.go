// Package console is a line-oriented terminal front-end for the client.
//
// It prints phase changes and transcript entries as they happen and turns
// typed lines into session commands. Lines starting with "/" are commands
// (see [Help]); anything else is submitted to the assistant once online.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/term"

	"github.com/MrWong99/yuva/internal/auth"
	"github.com/MrWong99/yuva/internal/session"
	"github.com/MrWong99/yuva/internal/transcript"
)

// Controller is the part of the app the console drives.
type Controller interface {
	Login(ctx context.Context, username, password string) error
	Register(ctx context.Context, username, email, password string) error
	Subscribe(ctx context.Context, plan auth.Plan) error
	SkipUpsell(ctx context.Context) error
	ShowView(ctx context.Context, v session.View) error
	Logout(ctx context.Context) error
	Submit(ctx context.Context, text string) error
	ToggleListening(ctx context.Context) error
	RequestListen(ctx context.Context) error
	StartPassive(ctx context.Context) error
	StopPassive(ctx context.Context) error
	Power(ctx context.Context, kind session.PowerKind) error
	SetLanguage(ctx context.Context, code string) error
	SetQuantum(ctx context.Context, q session.Quantum) error
	TestVoice(ctx context.Context) error

	Snapshot() session.State
	OnChange(fn func(session.State))
	OnTranscript(l transcript.Listener)
	Exited() <-chan struct{}
}

// ErrQuit is returned by [Console.Run] when the user typed /quit.
var ErrQuit = errors.New("console: quit")

// PasswordReader reads a secret after printing prompt.
type PasswordReader func(prompt string) (string, error)

// Option configures a [Console].
type Option func(*Console)

// WithPasswordReader replaces the password prompt. The default disables
// echo when input is a terminal.
func WithPasswordReader(r PasswordReader) Option {
	return func(c *Console) { c.password = r }
}

// Console reads commands from in and writes updates to out.
type Console struct {
	ctl      Controller
	in       *bufio.Scanner
	out      io.Writer
	password PasswordReader

	outMu sync.Mutex
	last  session.State
}

// New returns a Console for ctl.
func New(ctl Controller, in io.Reader, out io.Writer, opts ...Option) *Console {
	c := &Console{
		ctl: ctl,
		in:  bufio.NewScanner(in),
		out: out,
	}
	for _, o := range opts {
		o(c)
	}
	if c.password == nil {
		c.password = c.defaultPassword(in)
	}
	return c
}

func (c *Console) defaultPassword(in io.Reader) PasswordReader {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return func(prompt string) (string, error) {
			c.printf("%s", prompt)
			b, err := term.ReadPassword(int(f.Fd()))
			c.printf("\n")
			return string(b), err
		}
	}
	return func(prompt string) (string, error) {
		c.printf("%s", prompt)
		line, ok := c.readLine()
		if !ok {
			return "", io.EOF
		}
		return line, nil
	}
}

// Run processes input until it is exhausted, ctx is done, the user quits, or
// the app exits. EOF, cancellation and exit return nil.
func (c *Console) Run(ctx context.Context) error {
	c.last = c.ctl.Snapshot()
	c.ctl.OnChange(c.render)
	c.ctl.OnTranscript(func(e transcript.Entry) {
		c.printf("%s\n", FormatEntry(e))
	})
	c.printf("%s\n", StatusLine(c.last))

	// The reader only scans when asked so that password prompts issued from
	// Handle own the input while a command runs.
	next := make(chan struct{})
	lines := make(chan string)
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for {
			select {
			case <-next:
			case <-ctx.Done():
				return
			}
			line, ok := c.readLine()
			if !ok {
				return
			}
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case next <- struct{}{}:
		case <-ctx.Done():
			return nil
		case <-c.ctl.Exited():
			return nil
		case <-readDone:
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-c.ctl.Exited():
			return nil
		case <-readDone:
			return nil
		case line := <-lines:
			if err := c.Handle(ctx, line); err != nil {
				if errors.Is(err, ErrQuit) {
					return err
				}
				c.printf("! %v\n", err)
			}
		}
	}
}

func (c *Console) readLine() (string, bool) {
	if !c.in.Scan() {
		return "", false
	}
	return c.in.Text(), true
}

func (c *Console) printf(format string, args ...any) {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

// render prints a status line when something a user would notice changed.
func (c *Console) render(s session.State) {
	c.outMu.Lock()
	prev := c.last
	c.last = s
	c.outMu.Unlock()

	if prev.Phase == s.Phase && prev.Status == s.Status && prev.View == s.View &&
		prev.AuthError == s.AuthError && prev.ChannelOpen == s.ChannelOpen &&
		prev.PassiveListening == s.PassiveListening {
		return
	}
	c.printf("%s\n", StatusLine(s))
	if s.AuthError != "" && s.AuthError != prev.AuthError {
		c.printf("! %s\n", s.AuthError)
	}
}

// Handle executes one input line.
func (c *Console) Handle(ctx context.Context, line string) error {
	cmd, ok := Parse(line)
	if !ok {
		if strings.TrimSpace(line) == "" {
			return nil
		}
		return c.ctl.Submit(ctx, line)
	}

	switch cmd.Name {
	case "help":
		c.printf("%s", Help)
		return nil
	case "quit":
		return ErrQuit
	case "status":
		c.printf("%s\n", StatusLine(c.ctl.Snapshot()))
		return nil

	case "login":
		if len(cmd.Args) != 1 {
			return errors.New("usage: /login <username>")
		}
		pw, err := c.password("password: ")
		if err != nil {
			return fmt.Errorf("read password: %w", err)
		}
		return c.ctl.Login(ctx, cmd.Args[0], pw)
	case "register":
		if len(cmd.Args) != 2 {
			return errors.New("usage: /register <username> <email>")
		}
		if err := c.ctl.ShowView(ctx, session.ViewRegister); err != nil {
			return err
		}
		pw, err := c.password("password: ")
		if err != nil {
			return fmt.Errorf("read password: %w", err)
		}
		return c.ctl.Register(ctx, cmd.Args[0], cmd.Args[1], pw)
	case "view":
		if len(cmd.Args) != 1 {
			return errors.New("usage: /view login|register")
		}
		return c.ctl.ShowView(ctx, session.View(strings.ToUpper(cmd.Args[0])))
	case "plan":
		if len(cmd.Args) != 1 {
			return errors.New("usage: /plan PRO|ULTRA")
		}
		plan := auth.Plan(strings.ToUpper(cmd.Args[0]))
		if !plan.Valid() {
			return fmt.Errorf("unknown plan %q", cmd.Args[0])
		}
		return c.ctl.Subscribe(ctx, plan)
	case "skip":
		return c.ctl.SkipUpsell(ctx)
	case "logout":
		return c.ctl.Logout(ctx)

	case "listen":
		return c.ctl.ToggleListening(ctx)
	case "mic":
		return c.ctl.RequestListen(ctx)
	case "passive":
		switch strings.ToLower(strings.Join(cmd.Args, "")) {
		case "on":
			return c.ctl.StartPassive(ctx)
		case "off":
			return c.ctl.StopPassive(ctx)
		}
		return errors.New("usage: /passive on|off")

	case "shutdown":
		return c.ctl.Power(ctx, session.PowerShutdown)
	case "restart":
		return c.ctl.Power(ctx, session.PowerRestart)

	case "lang":
		if len(cmd.Args) != 1 {
			return errors.New("usage: /lang <code>")
		}
		return c.ctl.SetLanguage(ctx, cmd.Args[0])
	case "quantum":
		q, err := parseQuantum(c.ctl.Snapshot().Quantum, cmd.Args)
		if err != nil {
			return err
		}
		return c.ctl.SetQuantum(ctx, q)
	case "voice":
		return c.ctl.TestVoice(ctx)
	}
	return fmt.Errorf("unknown command /%s, try /help", cmd.Name)
}

// Command is a parsed slash command.
type Command struct {
	Name string
	Args []string
}

// Parse splits a slash command. It reports false for plain text.
func Parse(line string) (Command, bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") {
		return Command{}, false
	}
	fields := strings.Fields(line[1:])
	if len(fields) == 0 {
		return Command{}, false
	}
	return Command{Name: strings.ToLower(fields[0]), Args: fields[1:]}, true
}

// parseQuantum applies "/quantum on|off [tint] [pitch]" to cur.
func parseQuantum(cur session.Quantum, args []string) (session.Quantum, error) {
	const usage = "usage: /quantum on|off [amber|red|purple] [pitch]"
	if len(args) == 0 || len(args) > 3 {
		return cur, errors.New(usage)
	}
	switch strings.ToLower(args[0]) {
	case "on":
		cur.Enabled = true
	case "off":
		cur.Enabled = false
	default:
		return cur, errors.New(usage)
	}
	if len(args) > 1 {
		cur.Tint = session.Tint(strings.ToLower(args[1]))
	}
	if len(args) > 2 {
		p, err := strconv.ParseFloat(args[2], 64)
		if err != nil {
			return cur, fmt.Errorf("pitch %q: %w", args[2], err)
		}
		cur.Pitch = p
	}
	return cur, cur.Validate()
}

// StatusLine summarises s on one line.
func StatusLine(s session.State) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s]", s.Phase)
	switch {
	case s.Phase == session.PhaseLocked:
		fmt.Fprintf(&b, " %s", s.View)
	case s.Online():
		fmt.Fprintf(&b, " %s", s.Status)
		if s.User != nil {
			fmt.Fprintf(&b, " | %s (%s)", s.User.Username, s.User.Subscription)
		}
		if s.ChannelOpen {
			b.WriteString(" | core linked")
		} else {
			b.WriteString(" | core offline")
		}
		if s.PassiveListening {
			b.WriteString(" | passive")
		}
		if s.Telemetry.Received {
			fmt.Fprintf(&b, " | cpu %.0f%% ram %.0f%% bat %.0f%%", s.Telemetry.CPU, s.Telemetry.RAM, s.Telemetry.Battery)
		}
	}
	fmt.Fprintf(&b, " | %s", s.Language)
	if s.Quantum.Enabled {
		fmt.Fprintf(&b, " | quantum %s", s.Quantum.Tint)
	}
	return b.String()
}

// FormatEntry renders one transcript line.
func FormatEntry(e transcript.Entry) string {
	return fmt.Sprintf("%s %-6s %s", e.Timestamp.Format("15:04:05"), e.Role, e.Text)
}

// Help lists the slash commands.
const Help = `commands:
  /login <user>              sign in (prompts for password)
  /register <user> <email>   create an account (prompts for password)
  /view login|register       switch form
  /plan PRO|ULTRA            subscribe on the upsell view
  /skip                      continue on the FREE plan
  /logout                    sign out and forget the stored token
  /listen                    toggle local speech capture
  /mic                       ask the core to listen on its microphone
  /passive on|off            toggle core passive listening
  /lang <code>               change speech language
  /quantum on|off [tint] [pitch]
  /voice                     speak a calibration phrase
  /shutdown, /restart        power sequence
  /status                    print the current state
  /quit                      leave the console
anything else is sent to the assistant.
`
