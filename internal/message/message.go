// Package message renders tagged color text for terminals, keeps the
// exit-code message registry, and optionally mirrors output to a log file
// or email. The core execution packages never call into it; they expose
// plain result fields and this layer does the formatting.
package message

import (
	"fmt"
	"io"
	"log"
	"net/smtp"
	"os"
	"strings"

	"golang.org/x/term"
)

// Level gates what reaches the log file.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarning
	LevelError
	LevelCritical
)

var levelNames = map[string]Level{
	"debug":    LevelDebug,
	"info":     LevelInfo,
	"warning":  LevelWarning,
	"error":    LevelError,
	"critical": LevelCritical,
}

// ParseLevel maps a config string to a Level, defaulting to info.
func ParseLevel(s string) Level {
	if lvl, ok := levelNames[strings.ToLower(strings.TrimSpace(s))]; ok {
		return lvl
	}
	return LevelInfo
}

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarning:
		return "WARNING"
	case LevelError:
		return "ERROR"
	case LevelCritical:
		return "CRITICAL"
	}
	return "INFO"
}

// Message writes tagged text to the console and, when configured, to a log
// file. Retcodes maps exit codes to the message Quit prints for them, so a
// script can declare all of its exit messages in one place.
type Message struct {
	out      io.Writer
	errOut   io.Writer
	logger   *log.Logger
	logLevel Level
	quiet    bool
	noColor  bool
	exit     func(int)

	smtpAddr string
	mailFrom string
	mailTo   []string

	Retcodes map[int]string
}

// Option configures a Message.
type Option func(*Message)

// WithOutput overrides stdout/stderr, mostly for tests.
func WithOutput(out, errOut io.Writer) Option {
	return func(m *Message) {
		m.out = out
		m.errOut = errOut
		m.noColor = true
	}
}

// WithQuiet suppresses console output while leaving logging active.
func WithQuiet() Option {
	return func(m *Message) { m.quiet = true }
}

// WithNoColor strips tags instead of converting them.
func WithNoColor() Option {
	return func(m *Message) { m.noColor = true }
}

// WithLogFile mirrors printed messages to a file, gated by level.
func WithLogFile(path string, level Level) Option {
	return func(m *Message) {
		file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			fmt.Fprintf(m.errOut, "cannot open log file %s: %v\n", path, err)
			return
		}
		m.logger = log.New(file, "", log.LstdFlags)
		m.logLevel = level
	}
}

// WithLogger installs an existing logger instead of opening a file.
func WithLogger(logger *log.Logger, level Level) Option {
	return func(m *Message) {
		m.logger = logger
		m.logLevel = level
	}
}

// WithMail configures SMTP delivery for Mail.
func WithMail(smtpAddr, from string, to ...string) Option {
	return func(m *Message) {
		m.smtpAddr = smtpAddr
		m.mailFrom = from
		m.mailTo = to
	}
}

// New builds a Message writing to stdout/stderr. Color codes are emitted
// only when stdout is a terminal.
func New(opts ...Option) *Message {
	m := &Message{
		out:      os.Stdout,
		errOut:   os.Stderr,
		logLevel: LevelInfo,
		exit:     os.Exit,
		Retcodes: map[int]string{},
	}
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		m.noColor = true
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Print writes a tagged line to stdout.
func (m *Message) Print(s string) {
	m.write(m.out, s)
}

// Printf formats and prints a tagged line to stdout.
func (m *Message) Printf(format string, args ...any) {
	m.write(m.out, fmt.Sprintf(format, args...))
}

// Eprint writes a tagged line to stderr.
func (m *Message) Eprint(s string) {
	m.write(m.errOut, s)
}

// Raw writes s without tag conversion or a trailing newline; used for
// carriage-return progress updates.
func (m *Message) Raw(s string) {
	if m.quiet {
		return
	}
	fmt.Fprint(m.out, m.render(s))
}

func (m *Message) write(w io.Writer, s string) {
	if m.quiet {
		return
	}
	fmt.Fprintln(w, m.render(s))
}

func (m *Message) render(s string) string {
	if m.noColor {
		return Strip(s)
	}
	return Colorize(s)
}

// Log writes the message (tags stripped) to the log file if one is
// configured and the level passes the gate. Messages below the gate are
// silently dropped, never an error.
func (m *Message) Log(level Level, s string) {
	if m.logger == nil || level < m.logLevel {
		return
	}
	m.logger.Printf("%-8s %d %s", level, os.Getpid(), Strip(s))
}

// Logf formats and logs.
func (m *Message) Logf(level Level, format string, args ...any) {
	m.Log(level, fmt.Sprintf(format, args...))
}

// Quit terminates the process with code. If a message is registered for
// the code it is printed to stderr and logged as an error first.
func (m *Message) Quit(code int) {
	if msg, ok := m.Retcodes[code]; ok {
		m.Eprint("")
		m.Eprint("QUITTING: " + msg)
		m.Log(LevelError, "QUITTING: "+msg)
	}
	m.exit(code)
}

// Mail sends a plain-text notification through the configured SMTP server.
func (m *Message) Mail(subject, body string) error {
	if m.smtpAddr == "" || m.mailFrom == "" || len(m.mailTo) == 0 {
		return fmt.Errorf("mail not configured: need smtp address, from and to")
	}
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s\r\n",
		m.mailFrom, strings.Join(m.mailTo, ", "), subject, body)
	if err := smtp.SendMail(m.smtpAddr, nil, m.mailFrom, m.mailTo, []byte(msg)); err != nil {
		return fmt.Errorf("sending mail: %w", err)
	}
	m.Log(LevelDebug, fmt.Sprintf("sent mail to %s: %s", strings.Join(m.mailTo, ", "), subject))
	return nil
}
