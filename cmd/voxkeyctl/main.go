// voxkeyctl sends control commands to a running voxkeyd over the bus.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/voxkey-labs/voxkey-core/internal/protocol"
)

var version = "0.1.0-dev"

func main() {
	var server string
	flag.StringVar(&server, "server", nats.DefaultURL, "NATS server URL")
	flag.Parse()

	args := flag.Args()
	if len(args) < 1 {
		usage()
		os.Exit(2)
	}

	cmd := protocol.Command{Timestamp: time.Now().UTC()}
	switch args[0] {
	case "start", "stop", "pause", "resume", "abort", "reset":
		cmd.Action = args[0]
	case "rate":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: voxkeyctl rate <chars-per-minute>")
			os.Exit(2)
		}
		cpm, err := strconv.Atoi(args[1])
		if err != nil || cpm <= 0 {
			fmt.Fprintf(os.Stderr, "invalid rate %q\n", args[1])
			os.Exit(2)
		}
		cmd.Action = protocol.ActionSetRate
		cmd.RateCPM = cpm
	case "mode":
		if len(args) < 2 || (args[1] != "normal" && args[1] != "safe") {
			fmt.Fprintln(os.Stderr, "usage: voxkeyctl mode <normal|safe>")
			os.Exit(2)
		}
		cmd.Action = protocol.ActionSetMode
		cmd.Mode = args[1]
	case "version":
		fmt.Println(version)
		return
	default:
		usage()
		os.Exit(2)
	}

	if err := send(server, cmd); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func send(server string, cmd protocol.Command) error {
	conn, err := nats.Connect(server, nats.Name("voxkeyctl"), nats.Timeout(2*time.Second))
	if err != nil {
		return fmt.Errorf("connect to %s: %w", server, err)
	}
	defer conn.Close()

	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("encode command: %w", err)
	}
	if err := conn.Publish(protocol.SubjectControl, data); err != nil {
		return fmt.Errorf("publish command: %w", err)
	}
	return conn.Flush()
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: voxkeyctl [-server URL] <command>

commands:
  start            begin a capture session
  stop             drain and stop the active session
  pause            suspend keystroke emission
  resume           continue keystroke emission
  abort            discard queued keystrokes immediately
  reset            clear a faulted pipeline
  rate <cpm>       set the emission rate in characters per minute
  mode <m>         set pacing mode: normal or safe
  version          print version`)
}
