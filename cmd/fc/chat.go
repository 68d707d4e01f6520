package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/spf13/cobra"
	"github.com/zulandar/fieldchat/internal/citation"
	"github.com/zulandar/fieldchat/internal/models"
	"github.com/zulandar/fieldchat/internal/notice"
	"github.com/zulandar/fieldchat/internal/session"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"
)

const chatHelp = `Commands:
  /orders            list work orders (* marks the current one)
  /select <order>    switch to a work order's conversation
  /done <order>      mark a work order completed
  /undone <order>    mark a work order not completed
  /image <path>      send a photo
  /refresh           reconnect and reload
  /help              show this help
  /quit              leave
Anything else is sent as a message.`

// chatSession is the part of *session.Session the REPL drives.
type chatSession interface {
	Snapshot() session.State
	Messages() []models.Message
	WorkOrders() []models.WorkOrder
	Notices() []notice.Notice
	Select(ctx context.Context, orderID string) error
	Send(ctx context.Context, body string, image io.Reader) error
	MarkDone(ctx context.Context, orderID string) error
	MarkNotDone(ctx context.Context, orderID string) error
	Refresh(ctx context.Context) error
	Watch() (<-chan struct{}, func())
}

func newChatCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the assistant from the terminal",
		Long:  "Opens a chat session for the first work order and reads messages and slash commands from stdin.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Fieldchat config file")
	return cmd
}

func runChat(cmd *cobra.Command, configPath string) error {
	cfg, logger, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	defer logger.Sync()

	journal, err := openJournal(cfg)
	if err != nil {
		return err
	}
	opts := session.Opts{Config: cfg, Logger: logger}
	if journal != nil {
		opts.Recorder = journal
	}
	s, err := session.New(opts)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(cmd)
	defer cancel()

	interactive := term.IsTerminal(int(os.Stdin.Fd()))
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.Run(ctx) })
	g.Go(func() error {
		defer cancel()
		return runREPL(ctx, s, cmd.InOrStdin(), cmd.OutOrStdout(), interactive)
	})
	return g.Wait()
}

// runREPL reads lines from in until EOF, /quit or ctx is done. New
// messages and notices are printed to out as they arrive.
func runREPL(ctx context.Context, s chatSession, in io.Reader, out io.Writer, interactive bool) error {
	p := &printer{out: out, s: s, seen: make(map[string]bool)}

	ch, stop := s.Watch()
	defer stop()
	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			select {
			case <-done:
				return
			case <-ch:
				p.flush()
			}
		}
	}()

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-done:
				return
			}
		}
	}()

	if interactive {
		p.printf("Type /help for commands.\n")
	}
	for {
		p.flush()
		if interactive {
			p.printf("> ")
		}
		var line string
		var ok bool
		select {
		case <-ctx.Done():
			return nil
		case line, ok = <-lines:
		}
		if !ok {
			return nil
		}
		quit, err := handleLine(ctx, s, p, strings.TrimSpace(line))
		if err != nil {
			p.printf("error: %v\n", err)
		}
		if quit {
			p.flush()
			return nil
		}
	}
}

// handleLine runs one REPL command. It reports whether the user asked to quit.
func handleLine(ctx context.Context, s chatSession, p *printer, line string) (bool, error) {
	if line == "" {
		return false, nil
	}
	if !strings.HasPrefix(line, "/") {
		return false, s.Send(ctx, line, nil)
	}

	fields := strings.Fields(line)
	arg := strings.TrimSpace(strings.TrimPrefix(line, fields[0]))
	switch fields[0] {
	case "/quit", "/exit":
		return true, nil
	case "/help":
		p.printf("%s\n", chatHelp)
	case "/orders":
		p.printOrders(s)
	case "/select":
		if arg == "" {
			return false, errors.New("usage: /select <order>")
		}
		if err := s.Select(ctx, arg); err != nil {
			return false, err
		}
		p.reset()
	case "/done", "/undone":
		if arg == "" {
			return false, fmt.Errorf("usage: %s <order>", fields[0])
		}
		mark := s.MarkDone
		if fields[0] == "/undone" {
			mark = s.MarkNotDone
		}
		return false, mark(ctx, arg)
	case "/image":
		if arg == "" {
			return false, errors.New("usage: /image <path>")
		}
		f, err := os.Open(arg)
		if err != nil {
			return false, err
		}
		defer f.Close()
		return false, s.Send(ctx, "", f)
	case "/refresh":
		if err := s.Refresh(ctx); err != nil {
			return false, err
		}
		p.reset()
	default:
		return false, fmt.Errorf("unknown command %s (try /help)", fields[0])
	}
	return false, nil
}

// printer writes conversation updates without repeating itself.
type printer struct {
	mu      sync.Mutex
	out     io.Writer
	s       chatSession
	conv    string
	printed int
	seen    map[string]bool
}

func (p *printer) printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, format, args...)
}

// reset forces the next flush to reprint the bound conversation.
func (p *printer) reset() {
	p.mu.Lock()
	p.conv = ""
	p.printed = 0
	p.mu.Unlock()
}

// flush prints messages appended since the last flush and any new notices.
// A trailing placeholder is held back until it is replaced.
func (p *printer) flush() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, n := range p.s.Notices() {
		if p.seen[n.Text] {
			continue
		}
		p.seen[n.Text] = true
		fmt.Fprintf(p.out, "! %s\n", n.Text)
	}

	st := p.s.Snapshot()
	msgs := p.s.Messages()
	if st.Conversation != p.conv || len(msgs) < p.printed {
		p.conv = st.Conversation
		p.printed = 0
		if st.Current != nil {
			fmt.Fprintf(p.out, "-- %s: %s (%s)\n", st.Current.OrderID, st.Current.TaskName, st.Current.MachineName)
		}
	}
	for ; p.printed < len(msgs); p.printed++ {
		if msgs[p.printed].Placeholder {
			break
		}
		printMessage(p.out, msgs[p.printed], citation.Markdown)
	}
}

func (p *printer) printOrders(s chatSession) {
	orders := s.WorkOrders()
	cur := s.Snapshot().Current

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(orders) == 0 {
		fmt.Fprintln(p.out, "No work orders found.")
		return
	}
	for _, o := range orders {
		mark := " "
		if cur != nil && cur.OrderID == o.OrderID {
			mark = "*"
		}
		state := "open"
		if o.Completed() {
			state = "done"
		}
		fmt.Fprintf(p.out, "%s %s  %s  %s  [%s]\n", mark, o.OrderID, o.MachineName, o.TaskName, state)
	}
}

func printMessage(out io.Writer, m models.Message, f citation.Format) {
	body := m.Body
	if m.IsImage {
		body = "[image]"
	} else {
		body = citation.Render(body, m.Citations, f)
	}
	fmt.Fprintf(out, "[%s] %s: %s\n", m.SentTime().Format("15:04"), m.Sender, body)
}
