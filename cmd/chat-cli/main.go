// ABOUTME: Terminal chat client for chat-gateway
// ABOUTME: Readline-style input with streamed, colorized responses and file attachments

package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/2389/chat-gateway/internal/session"
	"github.com/2389/chat-gateway/internal/wire"
)

func main() {
	configPath := flag.String("config", "", "path to cli.toml (default ~/.config/chat-gateway/cli.toml)")
	server := flag.String("server", "", "gateway URL, overrides gateway.url")
	debug := flag.Bool("debug", false, "log session activity to stderr")
	flag.Parse()

	path, explicit := *configPath, *configPath != ""
	if !explicit {
		path = defaultConfigPath()
	}
	cfg, err := LoadConfig(path, explicit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *server != "" {
		cfg.Gateway.URL = strings.TrimRight(*server, "/")
		if err := cfg.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}

	logger := slog.New(slog.DiscardHandler)
	if *debug {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	if err := run(cfg, logger); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("\nGoodbye!")
}

func run(cfg *Config, logger *slog.Logger) error {
	transport := session.NewHTTPTransport(cfg.Gateway.URL, &http.Client{}, wire.Format(cfg.Gateway.Format))
	sessCfg := cfg.SessionConfig(transport)
	sessCfg.Logger = logger
	ctrl, err := session.New(sessCfg)
	if err != nil {
		return err
	}
	defer ctrl.Close()

	// SIGINT is handled by the REPL; SIGTERM ends the process.
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer cancel()
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt)
	defer signal.Stop(sigs)

	out := newRenderer(os.Stdout, *cfg.Display.Color)
	out.Info("chat-cli connected to %s", cfg.Gateway.URL)
	out.Info("Type a message and press Enter. /help for commands. Ctrl+C cancels; twice while idle quits.")
	fmt.Println()

	r := &repl{
		ctrl:   ctrl,
		events: ctrl.Subscribe(ctx),
		lines:  readLines(os.Stdin),
		sigs:   sigs,
		out:    out,
		prompt: func() { fmt.Print("> ") },
	}
	return r.loop(ctx)
}

// readLines feeds stdin lines to a channel that is closed at EOF.
func readLines(in io.Reader) <-chan string {
	ch := make(chan string)
	go func() {
		defer close(ch)
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
		for scanner.Scan() {
			ch <- scanner.Text()
		}
	}()
	return ch
}

// repl drives one controller from terminal input.
type repl struct {
	ctrl   *session.Controller
	events <-chan session.Event
	lines  <-chan string
	sigs   <-chan os.Signal
	out    *renderer
	prompt func()

	pending []session.Attachment
}

var errQuit = errors.New("quit")

func (r *repl) loop(ctx context.Context) error {
	armed := false // one Ctrl-C while idle arms exit
	for {
		r.prompt()

		var line string
		select {
		case <-ctx.Done():
			return nil
		case <-r.sigs:
			if armed {
				return nil
			}
			armed = true
			fmt.Fprintln(r.out.out)
			r.out.Info("(press Ctrl+C again to quit)")
			continue
		case l, ok := <-r.lines:
			if !ok {
				return nil
			}
			line = l
		}
		armed = false

		err := r.handle(ctx, strings.TrimSpace(line))
		if errors.Is(err, errQuit) {
			return nil
		}
		if err != nil {
			r.out.Error(err)
		}
	}
}

// handle runs one line of input: a slash command or a message.
func (r *repl) handle(ctx context.Context, input string) error {
	if input == "" {
		return nil
	}

	if cmd, arg, ok := parseCommand(input); ok {
		switch cmd {
		case "quit", "exit", "q":
			return errQuit
		case "help":
			r.printHelp()
		case "reset":
			r.ctrl.Reset()
			r.pending = nil
			r.out.Info("conversation cleared")
		case "attach":
			if arg == "" {
				return errors.New("usage: /attach <path>")
			}
			att, err := session.LoadAttachment(arg)
			if err != nil {
				return err
			}
			r.pending = append(r.pending, att)
			r.out.Info("attached %s (%s, %d bytes); sent with your next message", att.Name, att.MediaType, len(att.Data))
		default:
			return fmt.Errorf("unknown command /%s (try /help)", cmd)
		}
		return nil
	}

	if err := r.ctrl.SubmitAttachments(ctx, input, r.pending...); err != nil {
		if errors.Is(err, session.ErrPayloadTooLarge) && len(r.pending) > 0 {
			r.pending = nil
			return fmt.Errorf("%w; attachments dropped", err)
		}
		return err
	}
	r.pending = nil
	r.await(ctx)
	return nil
}

// await renders events until the request ends. Ctrl-C cancels it.
func (r *repl) await(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		_ = r.ctrl.Wait(context.WithoutCancel(ctx))
		close(done)
	}()

	for {
		select {
		case ev, ok := <-r.events:
			if !ok {
				return
			}
			r.render(ev)
		case <-r.sigs:
			r.out.Cancelled()
			r.ctrl.Cancel()
		case <-ctx.Done():
			r.ctrl.Cancel()
			<-done
			return
		case <-done:
			r.drain()
			r.out.Outcome(r.ctrl.Status(), r.ctrl.Err(), r.ctrl.Warning())
			return
		}
	}
}

// drain renders events already buffered when the request ended.
func (r *repl) drain() {
	for {
		select {
		case ev, ok := <-r.events:
			if !ok {
				return
			}
			r.render(ev)
		default:
			return
		}
	}
}

func (r *repl) render(ev session.Event) {
	if ev.Type == session.EventPart {
		r.out.Part(ev.Part)
	}
}

func (r *repl) printHelp() {
	r.out.Info("Commands:")
	r.out.Info("  /attach <path>  attach a file to the next message")
	r.out.Info("  /reset          start a new conversation")
	r.out.Info("  /quit           exit")
}

// parseCommand splits "/name arg" input.
func parseCommand(input string) (cmd, arg string, ok bool) {
	if !strings.HasPrefix(input, "/") {
		return "", "", false
	}
	cmd, arg, _ = strings.Cut(input[1:], " ")
	return strings.ToLower(cmd), strings.TrimSpace(arg), true
}
