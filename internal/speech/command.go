package speech

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// DefaultWaitDelay bounds how long a cancelled program may keep its output
// pipes open before they are closed and the call returns.
const DefaultWaitDelay = 2 * time.Second

// CommandConfig describes external programs used for speech.
//
// Arguments may contain the placeholders {text}, {lang} and {pitch}. When no
// TTS argument contains {text}, the text is written to the program's stdin.
// The STT program must print the transcription on stdout; the first
// non-empty line is used.
type CommandConfig struct {
	TTSCommand string
	TTSArgs    []string
	STTCommand string
	STTArgs    []string

	// WaitDelay overrides [DefaultWaitDelay] when positive.
	WaitDelay time.Duration
}

// Command is an [Adapter] that shells out to local programs such as espeak
// or a whisper CLI.
type Command struct {
	cfg     CommandConfig
	ttsPath string
	sttPath string
}

var _ Adapter = (*Command)(nil)

// NewCommand resolves the configured programs on PATH. Directions whose
// program is empty or missing report [ErrUnavailable].
func NewCommand(cfg CommandConfig) *Command {
	c := &Command{cfg: cfg}
	if cfg.TTSCommand != "" {
		if p, err := exec.LookPath(cfg.TTSCommand); err == nil {
			c.ttsPath = p
		}
	}
	if cfg.STTCommand != "" {
		if p, err := exec.LookPath(cfg.STTCommand); err == nil {
			c.sttPath = p
		}
	}
	return c
}

// Name implements [Adapter].
func (c *Command) Name() string { return "command" }

// Available reports whether speech recognition is usable.
func (c *Command) Available() bool { return c.sttPath != "" }

// CanSpeak reports whether speech synthesis is usable.
func (c *Command) CanSpeak() bool { return c.ttsPath != "" }

// Speak implements [Synthesizer].
func (c *Command) Speak(ctx context.Context, u Utterance, started func()) error {
	if c.ttsPath == "" {
		return ErrUnavailable
	}
	vars := map[string]string{
		"{text}":  u.Text,
		"{lang}":  u.Language,
		"{pitch}": strconv.FormatFloat(u.Pitch, 'f', 2, 64),
	}
	args, usedText := expand(c.cfg.TTSArgs, vars)

	cmd := c.command(ctx, c.ttsPath, args)
	if !usedText {
		cmd.Stdin = strings.NewReader(u.Text)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("speech: start %s: %w", c.cfg.TTSCommand, err)
	}
	started()
	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("speech: %s: %w: %s", c.cfg.TTSCommand, err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// Recognize implements [Recognizer].
func (c *Command) Recognize(ctx context.Context, language string) (string, error) {
	if c.sttPath == "" {
		return "", ErrUnavailable
	}
	args, _ := expand(c.cfg.STTArgs, map[string]string{"{lang}": language})
	out, err := c.command(ctx, c.sttPath, args).Output()
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("speech: %s: %w", c.cfg.STTCommand, err)
	}
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			return line, nil
		}
	}
	return "", nil
}

// command builds a cancellable invocation. Children that inherit stdout or
// stderr cannot hold the call open past the wait delay.
func (c *Command) command(ctx context.Context, path string, args []string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, path, args...)
	cmd.WaitDelay = DefaultWaitDelay
	if c.cfg.WaitDelay > 0 {
		cmd.WaitDelay = c.cfg.WaitDelay
	}
	return cmd
}

// expand substitutes placeholders and reports whether {text} was used.
func expand(args []string, vars map[string]string) ([]string, bool) {
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, k, v)
	}
	r := strings.NewReplacer(pairs...)

	out := make([]string, len(args))
	usedText := false
	for i, a := range args {
		if strings.Contains(a, "{text}") {
			usedText = true
		}
		out[i] = r.Replace(a)
	}
	return out, usedText
}
