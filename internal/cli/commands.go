// Package cli implements the interactive console of an aresnet node: live
// session status, lobby and in-game commands, and session settings.
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog/log"

	"github.com/ares-project/aresnet/internal/config"
	"github.com/ares-project/aresnet/internal/db"
	"github.com/ares-project/aresnet/internal/events"
	"github.com/ares-project/aresnet/internal/netgame"
	"github.com/ares-project/aresnet/internal/session"
)

// commandTimeout bounds how long a command waits for the frame loop.
const commandTimeout = 15 * time.Second

// History is the session history the console can show. It may be nil.
type History interface {
	RecentSessions(ctx context.Context, limit int) ([]session.Record, error)
	Totals(ctx context.Context) (db.Totals, error)
}

// CLI provides an interactive command-line interface.
type CLI struct {
	cfg      *config.Config
	eventBus *events.EventBus
	manager  *netgame.Manager
	history  History

	in  io.Reader
	out io.Writer
}

// NewCLI creates a console reading commands from in and writing to out.
func NewCLI(cfg *config.Config, eventBus *events.EventBus, manager *netgame.Manager, history History, in io.Reader, out io.Writer) *CLI {
	return &CLI{
		cfg:      cfg,
		eventBus: eventBus,
		manager:  manager,
		history:  history,
		in:       in,
		out:      out,
	}
}

// Start runs the command loop until ctx ends or input closes.
func (c *CLI) Start(ctx context.Context) {
	fmt.Fprintln(c.out, "\naresnet console ready. Type 'help' for available commands.")
	fmt.Fprintln(c.out, "──────────────────────────────────────────────────────────")

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			log.Warn().Err(err).Str("component", "cli").Msg("console input failed")
		}
	}()

	for {
		fmt.Fprint(c.out, "aresnet> ")
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if err := c.Execute(ctx, line); err != nil {
				fmt.Fprintf(c.out, "Error: %v\n", err)
			}
		}
	}
}

// Execute runs one command line.
func (c *CLI) Execute(ctx context.Context, line string) error {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return nil
	}
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "help", "h", "?":
		c.printHelp()
	case "status", "s":
		c.printStatus()
	case "players", "p":
		c.printPlayers()
	case "world", "w":
		c.printWorld()
	case "lobby":
		c.printLobby()
	case "history":
		return c.printHistory(ctx, args)
	case "host":
		return c.cmdHost(ctx, args)
	case "join":
		return c.cmdJoin(ctx, args)
	case "begin", "start":
		return c.call(ctx, "Game starting", c.manager.Begin)
	case "decline":
		return c.call(ctx, "Invitation declined", c.manager.Decline)
	case "leave":
		reason := "left from console"
		if len(args) > 0 {
			reason = strings.Join(args, " ")
		}
		return c.call(ctx, "Left the game", func(ctx context.Context) error {
			return c.manager.Leave(ctx, reason)
		})
	case "keys", "k":
		return c.cmdKeys(ctx, args)
	case "menu":
		return c.cmdMenu(ctx, args)
	case "cheat":
		return c.cmdCheat(ctx, args)
	case "select":
		return c.cmdSelect(ctx, args)
	case "say", "msg":
		if len(args) == 0 {
			return errors.New("usage: say <text>")
		}
		text := strings.Join(args, " ")
		return c.call(ctx, "", func(ctx context.Context) error {
			return c.manager.Say(ctx, text)
		})
	case "resolve":
		return c.call(ctx, "Desync stop cancelled", c.manager.ResolveDesync)
	case "set":
		return c.cmdSet(ctx, args)
	case "quit", "exit", "q":
		fmt.Fprintln(c.out, "Shutting down aresnet...")
		c.eventBus.Emit(ctx, events.Event{
			Type:   events.EventShutdown,
			Source: "cli",
		})
	default:
		fmt.Fprintf(c.out, "Unknown command: '%s'. Type 'help' for available commands.\n", cmd)
	}
	return nil
}

func (c *CLI) printHelp() {
	fmt.Fprintln(c.out, "\n╔══════════════════════════════════════════════════════════════╗")
	fmt.Fprintln(c.out, "║                   aresnet console commands                   ║")
	fmt.Fprintln(c.out, "╠══════════════════════════════════════════════════════════════╣")
	fmt.Fprintln(c.out, "║  status               Session and engine status             ║")
	fmt.Fprintln(c.out, "║  players              Player table                          ║")
	fmt.Fprintln(c.out, "║  world                Fleets and in-game chat               ║")
	fmt.Fprintln(c.out, "║  lobby                Pre-game lobby text                   ║")
	fmt.Fprintln(c.out, "║  history [n]          Recent finished sessions              ║")
	fmt.Fprintln(c.out, "║  host [addr] [name]   Open a game                           ║")
	fmt.Fprintln(c.out, "║  join [addr]          Join a hosted game                    ║")
	fmt.Fprintln(c.out, "║  begin                Start the game from the lobby         ║")
	fmt.Fprintln(c.out, "║  decline              Refuse the host's invitation          ║")
	fmt.Fprintln(c.out, "║  leave [reason]       Leave or cancel the game              ║")
	fmt.Fprintln(c.out, "║  keys <k...>|none     Hold keys (thrust, fire, left, ...)   ║")
	fmt.Fprintln(c.out, "║  menu <page> <line>   Pick a menu entry                     ║")
	fmt.Fprintln(c.out, "║  cheat <code>         Send a cheat code                     ║")
	fmt.Fprintln(c.out, "║  select <ship> [t]    Select a ship, or a target with t     ║")
	fmt.Fprintln(c.out, "║  say <text>           Chat (lobby or in game)               ║")
	fmt.Fprintln(c.out, "║  resolve              Cancel a pending desync stop          ║")
	fmt.Fprintln(c.out, "║  set level <0-2>      Registration level                    ║")
	fmt.Fprintln(c.out, "║  set flags <f=on|off> resend, bandwidth                     ║")
	fmt.Fprintln(c.out, "║  set delay <frames>   Frames between resend requests        ║")
	fmt.Fprintln(c.out, "║  set <key> <value>    Update a network setting              ║")
	fmt.Fprintln(c.out, "║  quit                 Shut down aresnet                     ║")
	fmt.Fprintln(c.out, "╚══════════════════════════════════════════════════════════════╝")
	fmt.Fprintln(c.out)
}

func (c *CLI) newTable(header ...string) *tablewriter.Table {
	tw := tablewriter.NewWriter(c.out)
	tw.SetHeader(header)
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)
	return tw
}

func (c *CLI) printStatus() {
	st := c.manager.Status()
	fmt.Fprintln(c.out)

	tw := c.newTable("State", "Role", "Game", "Level", "Resend", "Bandwidth", "Latency", "Delay", "Players")
	tw.Append([]string{
		st.Session.State.String(),
		st.Session.Role,
		st.Session.GameName,
		strconv.Itoa(st.Session.Level),
		onOff(st.Session.Flags.ResendOnRequest),
		onOff(st.Session.Flags.BandwidthReduction),
		strconv.Itoa(st.Session.Latency),
		strconv.Itoa(st.Session.ResendDelay),
		strconv.Itoa(len(st.Session.Players)),
	})
	tw.Render()

	e := st.Engine
	if !e.Running {
		fmt.Fprintf(c.out, "  Engine:    idle (%d frames)\n", st.Frames)
	} else {
		fmt.Fprintf(c.out, "  Engine:    tick %d, executed %d, queue %d/%d, sent log %d/%d\n",
			e.Now, e.Executed, e.QueueDepth, e.QueueCap, e.SentLogUsed, e.SentLogCap)
		fmt.Fprintf(c.out, "  Admiral:   %d   Keys: %s\n", e.LocalAdmiral, strings.Join(st.Keys, ","))
		if e.StalledFrames > 0 {
			fmt.Fprintf(c.out, "  Stalled:   %d frames, waiting for %v\n", e.StalledFrames, e.Missing)
		}
		if e.Desynced {
			fmt.Fprintf(c.out, "  DESYNC:    stopping in %d ticks (type 'resolve' to continue)\n", e.DesyncCountdown)
		}
	}
	fmt.Fprintf(c.out, "  Scenario:  %s (%s v%d, checksum %08x)\n",
		st.Scenario.Name, st.Scenario.File, st.Scenario.Version, st.Scenario.Checksum)
	fmt.Fprintf(c.out, "  Transport: %d peers, sent %d, received %d, retransmitted %d, dropped %d\n",
		st.Transport.Peers, st.Transport.Sent, st.Transport.Received, st.Transport.Retransmitted, st.Transport.Dropped)
	if st.LastError != "" {
		fmt.Fprintf(c.out, "  Last error: %s\n", st.LastError)
	}
	fmt.Fprintln(c.out)
}

func (c *CLI) printPlayers() {
	players := c.manager.Status().Session.Players
	if len(players) == 0 {
		fmt.Fprintln(c.out, "No players")
		return
	}

	tw := c.newTable("ID", "Name", "Admiral", "Race", "Color", "RTT", "Offset", "Local")
	for _, p := range players {
		admiral := "-"
		if p.Admiral != session.NoAdmiral {
			admiral = strconv.Itoa(p.Admiral)
		}
		tw.Append([]string{
			strconv.Itoa(int(p.ID)),
			p.Name,
			admiral,
			strconv.Itoa(int(p.Race)),
			strconv.Itoa(int(p.Color)),
			p.RTT.Round(time.Millisecond).String(),
			p.ClockOffset.Round(time.Millisecond).String(),
			yesNo(p.Local),
		})
	}
	tw.Render()
}

func (c *CLI) printWorld() {
	w := c.manager.Status().World

	tw := c.newTable("Admiral", "Ships", "Flagship", "Credits", "Kills", "Losses")
	for _, f := range w.Fleets {
		if f.Ships == 0 && f.Losses == 0 {
			continue
		}
		tw.Append([]string{
			strconv.Itoa(int(f.Admiral)),
			strconv.Itoa(f.Ships),
			strconv.Itoa(f.Flagship),
			strconv.Itoa(f.Credits),
			strconv.Itoa(f.Kills),
			strconv.Itoa(f.Losses),
		})
	}
	tw.Render()
	fmt.Fprintf(c.out, "  %s: %d ticks, sync %08x\n", w.Scenario, w.Ticks, w.Sync)
	for _, line := range w.Chat {
		fmt.Fprintf(c.out, "  [%d] %s\n", line.Admiral, line.Text)
	}
}

func (c *CLI) printLobby() {
	lines := c.manager.Status().Lobby
	if len(lines) == 0 {
		fmt.Fprintln(c.out, "Lobby is quiet")
		return
	}
	for _, l := range lines {
		fmt.Fprintf(c.out, "  <%s> %s\n", l.Name, l.Text)
	}
}

func (c *CLI) printHistory(ctx context.Context, args []string) error {
	if c.history == nil {
		return errors.New("session history is not available")
	}
	limit := 10
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 1 {
			return fmt.Errorf("invalid count: %s", args[0])
		}
		limit = n
	}

	records, err := c.history.RecentSessions(ctx, limit)
	if err != nil {
		return err
	}
	totals, err := c.history.Totals(ctx)
	if err != nil {
		return err
	}

	tw := c.newTable("Ended", "Role", "Game", "Players", "Latency", "Length", "Result")
	for _, r := range records {
		result := r.Reason
		if r.Desynced {
			result += " (desync)"
		}
		tw.Append([]string{
			r.EndedAt.Local().Format("2006-01-02 15:04"),
			r.Role,
			r.GameName,
			strconv.Itoa(r.Players),
			strconv.Itoa(r.Latency),
			r.EndedAt.Sub(r.StartedAt).Round(time.Second).String(),
			result,
		})
	}
	tw.Render()
	fmt.Fprintf(c.out, "  %d sessions, %d desynced, %.0f minutes played\n",
		totals.Sessions, totals.Desynced, totals.Minutes)
	return nil
}

func (c *CLI) cmdHost(ctx context.Context, args []string) error {
	p := c.manager.HostParams()
	if len(args) > 0 {
		p.ListenAddr = args[0]
	}
	if len(args) > 1 {
		p.GameName = strings.Join(args[1:], " ")
	}
	return c.call(ctx, fmt.Sprintf("Hosting %q on %s", p.GameName, p.ListenAddr), func(ctx context.Context) error {
		return c.manager.Host(ctx, p)
	})
}

func (c *CLI) cmdJoin(ctx context.Context, args []string) error {
	p := c.manager.JoinParams()
	if len(args) > 0 {
		p.Address = args[0]
	}
	if p.Address == "" {
		return errors.New("usage: join <address>")
	}
	return c.call(ctx, "Joined "+p.Address, func(ctx context.Context) error {
		return c.manager.Join(ctx, p)
	})
}

func (c *CLI) cmdKeys(ctx context.Context, args []string) error {
	keys, err := netgame.ParseKeys(args)
	if err != nil {
		return err
	}
	held := strings.Join(netgame.KeyNames(keys), ",")
	if held == "" {
		held = "none"
	}
	return c.call(ctx, "Keys: "+held, func(ctx context.Context) error {
		return c.manager.SetKeys(ctx, keys)
	})
}

func (c *CLI) cmdMenu(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return errors.New("usage: menu <page> <line>")
	}
	page, err := parseByte(args[0])
	if err != nil {
		return err
	}
	line, err := parseByte(args[1])
	if err != nil {
		return err
	}
	return c.call(ctx, "", func(ctx context.Context) error {
		return c.manager.Menu(ctx, page, line)
	})
}

func (c *CLI) cmdCheat(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return errors.New("usage: cheat <code>")
	}
	code, err := parseByte(args[0])
	if err != nil {
		return err
	}
	return c.call(ctx, "", func(ctx context.Context) error {
		return c.manager.Cheat(ctx, code)
	})
}

func (c *CLI) cmdSelect(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return errors.New("usage: select <ship> [t]")
	}
	ship, err := parseByte(args[0])
	if err != nil {
		return err
	}
	target := len(args) > 1 && strings.HasPrefix(strings.ToLower(args[1]), "t")
	return c.call(ctx, "", func(ctx context.Context) error {
		return c.manager.Select(ctx, ship, target)
	})
}

func (c *CLI) cmdSet(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return errors.New("usage: set <level|flags|delay|key> <value>")
	}

	switch strings.ToLower(args[0]) {
	case "level":
		level, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid level: %s", args[1])
		}
		return c.call(ctx, "Registration level set", func(ctx context.Context) error {
			return c.manager.SetLevel(ctx, level)
		})
	case "delay":
		frames, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid delay: %s", args[1])
		}
		return c.call(ctx, "Resend delay set", func(ctx context.Context) error {
			return c.manager.SetResendDelay(ctx, frames)
		})
	case "flags":
		flags, err := parseFlags(c.manager.Session().Flags(), args[1:])
		if err != nil {
			return err
		}
		return c.call(ctx, fmt.Sprintf("Flags: resend=%s bandwidth=%s",
			onOff(flags.ResendOnRequest), onOff(flags.BandwidthReduction)), func(ctx context.Context) error {
			return c.manager.SetFlags(ctx, flags)
		})
	}

	key := args[0]
	value := parseValue(strings.Join(args[1:], " "))
	previous := c.cfg.GetNetwork()
	if err := c.cfg.UpdateNetworkField(key, value); err != nil {
		return err
	}
	if result := config.Validate(c.cfg); !result.IsValid() {
		c.cfg.SetNetwork(previous)
		return result.Errors[0]
	}
	if c.cfg.Path() != "" {
		if err := c.cfg.Save(); err != nil {
			return err
		}
	}
	c.eventBus.Emit(ctx, events.Event{
		Type:    events.EventConfigChanged,
		Source:  "cli",
		Payload: events.ConfigChangedPayload{Section: "network", Key: key, Value: value},
	})
	fmt.Fprintf(c.out, "Config updated: %s = %v\n", key, value)
	return nil
}

// call runs a manager request with a timeout and prints done on success.
func (c *CLI) call(ctx context.Context, done string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		return err
	}
	if done != "" {
		fmt.Fprintln(c.out, done)
	}
	return nil
}

func parseFlags(f session.Flags, args []string) (session.Flags, error) {
	for _, a := range args {
		name, val, ok := strings.Cut(strings.ToLower(a), "=")
		if !ok {
			return f, fmt.Errorf("invalid flag %q, want name=on|off", a)
		}
		var on bool
		switch val {
		case "on", "true", "1":
			on = true
		case "off", "false", "0":
		default:
			return f, fmt.Errorf("invalid value for %s: %s", name, val)
		}
		switch name {
		case "resend":
			f.ResendOnRequest = on
		case "bandwidth", "bw":
			f.BandwidthReduction = on
		default:
			return f, fmt.Errorf("unknown flag %q", name)
		}
	}
	return f, nil
}

// parseValue turns console text into the JSON type a config field expects.
func parseValue(s string) interface{} {
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		return n
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return s
}

func parseByte(s string) (uint8, error) {
	n, err := strconv.ParseUint(s, 10, 8)
	if err != nil {
		return 0, fmt.Errorf("invalid number: %s", s)
	}
	return uint8(n), nil
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
