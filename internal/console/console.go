// Package console provides the interactive operator shell of the daemon.
package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/chzyer/readline"

	"zigbee-go-gp/internal/gp"
	"zigbee-go-gp/internal/host"
)

const commandTimeout = 5 * time.Second

// Controller is what the console drives.
type Controller interface {
	SetCommissioning(ctx context.Context, on bool) error
	ToggleCommissioning(ctx context.Context) (bool, error)
	RemoveGPD(ctx context.Context, id gp.GpdID, ep uint8) error
	State(ctx context.Context) (gp.State, error)
	Tables(ctx context.Context) (*host.Tables, error)
}

// Config configures the console.
type Config struct {
	Prompt      string
	HistoryFile string
}

// Console reads operator commands from the terminal.
type Console struct {
	ctrl   Controller
	rl     *readline.Instance
	out    io.Writer
	logger *slog.Logger
}

// New creates a console on the process terminal.
func New(ctrl Controller, cfg Config, logger *slog.Logger) (*Console, error) {
	if cfg.Prompt == "" {
		cfg.Prompt = "gp> "
	}
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          cfg.Prompt,
		HistoryFile:     cfg.HistoryFile,
		AutoComplete:    completer(),
		InterruptPrompt: "^C",
		EOFPrompt:       "quit",
	})
	if err != nil {
		return nil, fmt.Errorf("create readline: %w", err)
	}
	c := newConsole(ctrl, rl.Stdout(), logger)
	c.rl = rl
	return c, nil
}

func newConsole(ctrl Controller, out io.Writer, logger *slog.Logger) *Console {
	return &Console{ctrl: ctrl, out: out, logger: logger.With("component", "console")}
}

func completer() *readline.PrefixCompleter {
	return readline.NewPrefixCompleter(
		readline.PcItem("help"),
		readline.PcItem("comm", readline.PcItem("on"), readline.PcItem("off"), readline.PcItem("toggle")),
		readline.PcItem("state"),
		readline.PcItem("proxy"),
		readline.PcItem("sink"),
		readline.PcItem("trans"),
		readline.PcItem("remove"),
		readline.PcItem("quit"),
	)
}

// Stdout returns a writer that does not garble the prompt. Log output
// should go here while the console runs.
func (c *Console) Stdout() io.Writer {
	return c.rl.Stdout()
}

// Run reads commands until quit, EOF or ctx ends. cancel is called when
// the operator quits.
func (c *Console) Run(ctx context.Context, cancel context.CancelFunc) {
	var closeOnce sync.Once
	closeRL := func() { closeOnce.Do(func() { c.rl.Close() }) }
	defer closeRL()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			closeRL()
		case <-done:
		}
	}()

	fmt.Fprintln(c.out, "Green Power console. Type 'help' for commands.")
	for {
		line, err := c.rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if err != nil {
			if ctx.Err() == nil {
				fmt.Fprintln(c.out, "Exiting...")
				cancel()
			}
			return
		}
		if c.Execute(ctx, line) {
			fmt.Fprintln(c.out, "Exiting...")
			cancel()
			return
		}
	}
}

// Execute runs one command line and reports whether the operator asked to
// quit.
func (c *Console) Execute(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	cmd, args := strings.ToLower(fields[0]), fields[1:]

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	var err error
	switch cmd {
	case "help", "?":
		c.printHelp()
	case "comm", "commissioning":
		err = c.cmdComm(ctx, args)
	case "state", "status":
		err = c.cmdState(ctx)
	case "proxy":
		err = c.cmdProxy(ctx)
	case "sink":
		err = c.cmdSink(ctx)
	case "trans", "translations":
		err = c.cmdTrans(ctx)
	case "remove", "rm":
		err = c.cmdRemove(ctx, args)
	case "quit", "exit", "q":
		return true
	default:
		fmt.Fprintf(c.out, "Unknown command: %s (type 'help' for commands)\n", cmd)
	}
	if err != nil {
		fmt.Fprintf(c.out, "error: %v\n", err)
		c.logger.Debug("command failed", "cmd", cmd, "err", err)
	}
	return false
}

func (c *Console) printHelp() {
	fmt.Fprint(c.out, `Commands:
  comm on|off|toggle   enter, leave or toggle sink commissioning mode
  state                show commissioning state and table sizes
  proxy                list the proxy table
  sink                 list the sink table
  trans                list the translation table
  remove <id> [ep]     decommission a GPD (SrcID or 16-digit IEEE)
  help                 show this help
  quit                 exit
`)
}

func (c *Console) cmdComm(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: comm on|off|toggle")
	}
	switch strings.ToLower(args[0]) {
	case "on":
		if err := c.ctrl.SetCommissioning(ctx, true); err != nil {
			return err
		}
		fmt.Fprintln(c.out, "commissioning: on")
	case "off":
		if err := c.ctrl.SetCommissioning(ctx, false); err != nil {
			return err
		}
		fmt.Fprintln(c.out, "commissioning: off")
	case "toggle":
		on, err := c.ctrl.ToggleCommissioning(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "commissioning: %s\n", onOff(on))
	default:
		return errors.New("usage: comm on|off|toggle")
	}
	return nil
}

func (c *Console) cmdState(ctx context.Context) error {
	st, err := c.ctrl.State(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "sink commissioning:  %s\n", onOff(st.SinkCommissioning))
	fmt.Fprintf(c.out, "proxy commissioning: %s", onOff(st.ProxyCommissioning))
	if st.ProxyCommissioning {
		fmt.Fprintf(c.out, " (commissioner 0x%04X)", st.Commissioner)
	}
	fmt.Fprintf(c.out, "\nentries: proxy %d, sink %d, translation %d\n", st.ProxyEntries, st.SinkEntries, st.TransEntries)
	return nil
}

func (c *Console) cmdProxy(ctx context.Context) error {
	t, err := c.ctrl.Tables(ctx)
	if err != nil {
		return err
	}
	if len(t.Proxy) == 0 {
		fmt.Fprintln(c.out, "proxy table is empty")
		return nil
	}
	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "GPD\tEP\tSEC\tKEY\tFRAME CTR\tALIAS\tSINKS\tGROUPS")
	for _, e := range t.Proxy {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t0x%04X\t%d\t%s\n",
			e.ID, e.Endpoint, e.SecLevel, e.KeyType, e.FrameCounter, e.AssignedAlias,
			len(e.LightweightSinks), groupList(e.SinkGroups))
	}
	return tw.Flush()
}

func (c *Console) cmdSink(ctx context.Context) error {
	t, err := c.ctrl.Tables(ctx)
	if err != nil {
		return err
	}
	if len(t.Sink) == 0 {
		fmt.Fprintln(c.out, "sink table is empty")
		return nil
	}
	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "GPD\tEP\tDEVICE\tMODE\tSEC\tKEY\tFRAME CTR\tGROUPS\tSTATE")
	for _, e := range t.Sink {
		state := "paired"
		if !e.Complete {
			state = "candidate"
		}
		fmt.Fprintf(tw, "%s\t%d\t0x%02X\t%s\t%d\t%d\t%d\t%s\t%s\n",
			e.ID, e.Endpoint, e.DeviceID, e.Options.CommMode, e.SecLevel, e.KeyType,
			e.FrameCounter, groupList(e.Groups), state)
	}
	return tw.Flush()
}

func (c *Console) cmdTrans(ctx context.Context) error {
	t, err := c.ctrl.Tables(ctx)
	if err != nil {
		return err
	}
	if len(t.Translations) == 0 {
		fmt.Fprintln(c.out, "translation table is empty")
		return nil
	}
	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "GPD\tGPD EP\tGPD CMD\tEP\tPROFILE\tCLUSTER\tCMD\tPAYLOAD")
	for _, e := range t.Translations {
		fmt.Fprintf(tw, "%s\t%d\t0x%02X\t%d\t0x%04X\t0x%04X\t0x%02X\t%X\n",
			e.ID, e.GpdEndpoint, e.GpdCommand, e.Endpoint, e.Profile, e.Cluster, e.ZbCommand, e.Payload)
	}
	return tw.Flush()
}

func (c *Console) cmdRemove(ctx context.Context, args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return errors.New("usage: remove <id> [ep]")
	}
	id, err := host.ParseAnyGpdID(args[0])
	if err != nil {
		return err
	}
	ep := uint8(0xFF)
	if len(args) == 2 {
		n, err := strconv.ParseUint(args[1], 0, 8)
		if err != nil {
			return fmt.Errorf("invalid endpoint %q", args[1])
		}
		ep = uint8(n)
	}
	if err := c.ctrl.RemoveGPD(ctx, id, ep); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "removed %s\n", id)
	return nil
}

func groupList(groups []gp.SinkGroup) string {
	if len(groups) == 0 {
		return "-"
	}
	parts := make([]string, len(groups))
	for i, g := range groups {
		parts[i] = fmt.Sprintf("0x%04X", g.GroupID)
	}
	return strings.Join(parts, ",")
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
