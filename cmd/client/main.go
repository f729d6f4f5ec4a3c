package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/udpchat/udpchat/pkg/client"
	"github.com/udpchat/udpchat/pkg/filetransfer"
	"github.com/udpchat/udpchat/pkg/logging"
	"github.com/udpchat/udpchat/pkg/version"
)

func main() {
	settingsPath := flag.String("settings", client.SettingsPath(), "YAML settings file")
	serverAddr := flag.String("server", "", "Server address (overrides settings)")
	downloadDir := flag.String("download-dir", "", "Directory for received files (overrides settings)")
	save := flag.Bool("save", false, "Write the effective settings back to -settings")
	showVer := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVer {
		fmt.Println(version.Banner("udpchat-client"))
		return
	}

	settings := client.LoadSettings(*settingsPath)
	if *serverAddr != "" {
		settings.ServerAddr = *serverAddr
	}
	if *downloadDir != "" {
		settings.DownloadDir = *downloadDir
	}
	// Override with UDPCHAT_LOG_LEVEL env var (debug, info, warn, error).
	if v := os.Getenv("UDPCHAT_LOG_LEVEL"); v != "" {
		settings.LogLevel = v
	}
	_ = logging.Setup(logging.Options{
		Level:     settings.LogLevel,
		Format:    "text",
		Output:    os.Stderr,
		Component: "client",
	})
	if *save {
		if err := settings.Save(*settingsPath); err != nil {
			slog.Error("save settings", "err", err)
		}
	}

	ui := &terminal{out: os.Stdout}
	c, err := client.New(settings.Config(), ui)
	if err != nil {
		slog.Error("connect", "err", err)
		os.Exit(1)
	}
	c.OnSendFinished = ui.sendFinished
	c.OnTransferFinished = ui.transferFinished

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := c.Start(ctx); err != nil {
		slog.Error("start", "err", err)
		os.Exit(1)
	}
	ui.printf("connected as port %d, type /help for commands", c.Port())

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case line, ok := <-lines:
			if !ok {
				break loop
			}
			quit, err := run(c, ui, line)
			if err != nil {
				ui.printf("error: %v", err)
			}
			if quit {
				break loop
			}
		}
	}
	_ = c.Close()
}

const help = `commands:
  /guest                          continue as a guest
  /register <user> <password>     create an account
  /login <user> <password>        log in
  /dm <port|user> <text>          direct message
  /history <userA> <userB>        replay direct messages
  /group create <name> [m1,m2]    create a group you own
  /group manage <name> [m1,m2]    replace a group's members
  /g <group> <text>               post to a group
  /ghistory <group>               replay a group
  /send <port> <path>             offer a file
  /accept <port> | /reject <port> answer a file offer
  /who                            show the roster
  /quit                           leave
anything else is sent to all-chat`

func run(c *client.Client, ui *terminal, line string) (bool, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return false, nil
	}
	if !strings.HasPrefix(line, "/") {
		return false, c.Say(line)
	}
	cmd, rest, _ := strings.Cut(line, " ")
	args := strings.Fields(rest)

	switch cmd {
	case "/help":
		ui.printf("%s", help)
	case "/quit":
		return true, nil
	case "/guest":
		return false, c.Enter()
	case "/register", "/login":
		if len(args) != 2 {
			return false, fmt.Errorf("usage: %s <user> <password>", cmd)
		}
		if cmd == "/register" {
			return false, c.Register(args[0], args[1])
		}
		return false, c.Login(args[0], args[1])
	case "/dm":
		target, text, ok := strings.Cut(rest, " ")
		if !ok {
			return false, fmt.Errorf("usage: /dm <target> <text>")
		}
		return false, c.SendDM(target, text)
	case "/history":
		if len(args) != 2 {
			return false, fmt.Errorf("usage: /history <userA> <userB>")
		}
		return false, c.RequestDMHistory(args[0], args[1])
	case "/group":
		if len(args) < 2 {
			return false, fmt.Errorf("usage: /group create|manage <name> [members]")
		}
		var members []string
		if len(args) > 2 {
			members = strings.Split(args[2], ",")
		}
		switch args[0] {
		case "create":
			return false, c.CreateGroup(args[1], members)
		case "manage":
			return false, c.ManageGroup(args[1], members)
		}
		return false, fmt.Errorf("unknown group action %q", args[0])
	case "/g":
		group, text, ok := strings.Cut(rest, " ")
		if !ok {
			return false, fmt.Errorf("usage: /g <group> <text>")
		}
		return false, c.SendGroupMessage(group, text)
	case "/ghistory":
		if len(args) != 1 {
			return false, fmt.Errorf("usage: /ghistory <group>")
		}
		return false, c.RequestGroupHistory(args[0])
	case "/send":
		if len(args) != 2 {
			return false, fmt.Errorf("usage: /send <port> <path>")
		}
		port, err := strconv.Atoi(args[0])
		if err != nil {
			return false, fmt.Errorf("invalid port %q", args[0])
		}
		return false, c.OfferFile(port, args[1])
	case "/accept", "/reject":
		if len(args) != 1 {
			return false, fmt.Errorf("usage: %s <port>", cmd)
		}
		port, err := strconv.Atoi(args[0])
		if err != nil {
			return false, fmt.Errorf("invalid port %q", args[0])
		}
		if cmd == "/accept" {
			return false, c.AcceptOffer(port)
		}
		return false, c.RejectOffer(port)
	case "/who":
		ui.printRoster(c.Adapter().Snapshot())
	default:
		return false, fmt.Errorf("unknown command %s, try /help", cmd)
	}
	return false, nil
}

// terminal renders client events as plain lines.
type terminal struct {
	mu  sync.Mutex
	out io.Writer
}

func (t *terminal) printf(format string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.out, format+"\n", args...)
}

func (t *terminal) printRoster(s client.Snapshot) {
	var b strings.Builder
	b.WriteString("online:")
	for _, e := range s.Roster {
		fmt.Fprintf(&b, " %s(%d)", e.Name, e.ID)
	}
	if len(s.Groups) > 0 {
		names := make([]string, len(s.Groups))
		for i, g := range s.Groups {
			names[i] = g.Name
		}
		sort.Strings(names)
		b.WriteString("\ngroups: " + strings.Join(names, ", "))
	}
	t.printf("%s", b.String())
}

func (t *terminal) RosterChanged(s client.Snapshot) { t.printRoster(s) }

func (t *terminal) MessageReceived(m client.Message) {
	switch m.Kind {
	case client.KindChat:
		t.printf("%s> %s", m.From, m.Text)
	case client.KindDirect:
		t.printf("[dm %s] %s", m.From, m.Text)
	case client.KindDirectNotify:
		// The DM itself is printed.
	case client.KindDirectHistory:
		t.printf("[dm %s -> %s %s] %s", m.From, m.To, m.SentAt.Format("2006-01-02 15:04"), m.Text)
	case client.KindGroup:
		t.printf("[%s] %s> %s", m.Group, m.From, m.Text)
	case client.KindGroupHistory:
		t.printf("[%s %s] %s> %s", m.Group, m.SentAt.Format("2006-01-02 15:04"), m.From, m.Text)
	case client.KindAuthResult, client.KindGroupsResult:
		status := "ok"
		if !m.OK {
			status = "failed"
		}
		t.printf("* %s: %s", status, m.Text)
	default:
		t.printf("* %s", m.Text)
	}
}

func (t *terminal) TypingChanged(ctx string, typing map[string]string) {
	if len(typing) == 0 {
		return
	}
	names := make([]string, 0, len(typing))
	for name := range typing {
		names = append(names, name)
	}
	sort.Strings(names)
	t.printf("(%s typing in %s)", strings.Join(names, ", "), ctx)
}

func (t *terminal) FileOfferReceived(o client.Offer) {
	t.printf("* %s offers %s (%d bytes): /accept %d or /reject %d", o.FromName, o.Filename, o.Size, o.From, o.From)
}

func (t *terminal) FileResponseReceived(r client.Response) {
	t.printf("* %s answered %s for %s", r.PeerName, r.Decision, r.Path)
}

func (t *terminal) sendFinished(r client.SendResult) {
	if r.Err != nil {
		t.printf("* sending %s failed: %v", r.Path, r.Err)
		return
	}
	t.printf("* sent %s (%d bytes)", r.Path, r.Sent)
}

func (t *terminal) transferFinished(r filetransfer.Result) {
	if r.Err != nil {
		t.printf("* receiving %s failed: %v", r.Header.Filename, r.Err)
		return
	}
	t.printf("* saved %s (%d bytes)", r.Path, r.Received)
}
