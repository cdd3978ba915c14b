// Command glados is a terminal chat client. It opens the same storage the
// server uses and talks to the model in-process.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/glamour"
	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"golang.org/x/term"

	"glados/backend/internal/app"
	"glados/backend/internal/config"
)

var (
	plain   = flag.Bool("plain", false, "Print replies as they stream instead of rendering markdown")
	verbose = flag.Bool("v", false, "Log at the configured level instead of warnings only")
)

func main() {
	flag.Parse()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintln(os.Stderr, "failed to load .env file:", err)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load configuration:", err)
		os.Exit(1)
	}

	level := slog.LevelWarn
	if *verbose {
		_ = level.UnmarshalText([]byte(cfg.LogLevel))
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.NewApp(ctx, cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to initialize:", err)
		os.Exit(1)
	}
	defer a.Close()

	// Ctrl+C stops a running reply. Between replies it quits.
	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt, syscall.SIGTERM)

	r := &repl{
		chat:       a.Chat,
		sessions:   a.Sessions,
		settings:   a.Settings,
		out:        os.Stdout,
		interrupts: interrupts,
		plain:      *plain,
	}
	// Piped output stays plain markdown.
	if term.IsTerminal(int(os.Stdout.Fd())) {
		r.render = markdownRenderer()
	}

	st, _ := a.Settings.Get(ctx)
	boldGreen := color.New(color.FgGreen, color.Bold).SprintFunc()
	fmt.Println(boldGreen(st.SiteName))
	fmt.Println("Type a message and press Enter. /help lists commands, 'exit' quits.")
	fmt.Println()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		r.prompt()
		select {
		case line, ok := <-lines:
			if !ok {
				a.Chat.Wait()
				return
			}
			if !r.handle(ctx, line) {
				a.Chat.Wait()
				return
			}
		case <-interrupts:
			fmt.Println()
			return
		}
	}
}

// markdownRenderer returns nil when glamour cannot be set up, in which case
// replies are printed as they are.
func markdownRenderer() func(string) string {
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(80),
	)
	if err != nil {
		return nil
	}
	return func(s string) string {
		out, err := renderer.Render(s)
		if err != nil {
			return s
		}
		return out
	}
}
