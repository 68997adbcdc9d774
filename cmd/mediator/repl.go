package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"
	"github.com/rs/zerolog"

	"github.com/coregx/relay/mediator"
)

// runREPL implements SPEC_FULL.md §4.12's operator commands. It returns
// once the operator issues shutdown/close/quick_close, or stdin closes
// (EOF), having already told srv to stop.
func runREPL(srv *mediator.Server, log zerolog.Logger) error {
	rl, err := readline.New("mediator> ")
	if err != nil {
		return fmt.Errorf("mediator: REPL: %w", err)
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err != nil {
			if err == io.EOF || err == readline.ErrInterrupt {
				log.Info().Msg("mediator: REPL closed, shutting down gracefully")
				return srv.Shutdown()
			}
			return fmt.Errorf("mediator: REPL: %w", err)
		}

		switch strings.TrimSpace(line) {
		case "":
			continue
		case "status":
			printStatus(rl, srv)
		case "shutdown":
			fmt.Fprintln(rl.Stdout(), "shutting down gracefully...")
			return srv.Shutdown()
		case "close":
			fmt.Fprintln(rl.Stdout(), "force-closing every connection...")
			return srv.Close()
		case "quick_close":
			fmt.Fprintln(rl.Stdout(), "stopping accept loop and crash-closing everything...")
			return srv.QuickClose()
		case "help":
			printHelp(rl)
		default:
			fmt.Fprintf(rl.Stdout(), "unknown command %q; try 'help'\n", line)
		}
	}
}

func printStatus(rl *readline.Instance, srv *mediator.Server) {
	usernames := srv.ClientUsernames()
	fmt.Fprintf(rl.Stdout(), "clients: %d\n", srv.ClientCount())
	for _, u := range usernames {
		c, ok := srv.Client(u)
		if !ok {
			continue
		}
		connectorState := "none"
		if connector, ok := c.Connector(); ok {
			connectorState = connector.Status().String()
		}
		fmt.Fprintf(rl.Stdout(), "  %s: %d connections, connector=%s\n",
			u, c.ConnectionCount(), connectorState)
	}
}

func printHelp(rl *readline.Instance) {
	fmt.Fprintln(rl.Stdout(), `commands:
  status       show connected clients and their connector state
  shutdown     stop accepting, drain every client gracefully, then exit
  close        force-close every connection immediately (crash-close)
  quick_close  stop accepting, then crash-close everything with no drain
  help         show this message`)
}
