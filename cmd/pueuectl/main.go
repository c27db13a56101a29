// Command pueuectl is a thin reference client for the pueued wire
// protocol. It has subcommands for add, remove, status, start, pause,
// kill, shutdown and stream only; the other request kinds have no
// subcommand. Responses are printed as indented JSON. It intentionally omits table rendering, completion,
// aliasing, and config-file discovery — those remain a richer client's
// job (spec.md §1).
package main

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net"
	"os"

	"github.com/spf13/cobra"

	"go.pueued.dev/pueued/internal/core"
	"go.pueued.dev/pueued/internal/protocol"
	"go.pueued.dev/pueued/internal/transport"
	"go.pueued.dev/pueued/internal/wire"
)

type clientConfig struct {
	socketPath string
	host       string
	port       int
	tlsMode    bool
	secretPath string
}

func (c clientConfig) dial() (net.Conn, error) {
	if c.tlsMode {
		return tls.Dial("tcp", fmt.Sprintf("%s:%d", c.host, c.port), &tls.Config{InsecureSkipVerify: true})
	}
	return net.Dial("unix", c.socketPath)
}

func send(cfg clientConfig, req protocol.Request) (protocol.Response, error) {
	secret, err := os.ReadFile(cfg.secretPath)
	if err != nil {
		return protocol.Response{}, fmt.Errorf("read secret: %w", err)
	}
	conn, err := cfg.dial()
	if err != nil {
		return protocol.Response{}, fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	version, err := transport.ClientHandshake(conn, secret)
	if err != nil {
		return protocol.Response{}, fmt.Errorf("handshake: %w", err)
	}
	if version != protocol.Version {
		fmt.Fprintf(os.Stderr, "warning: daemon protocol version %q differs from client %q\n", version, protocol.Version)
	}

	if err := protocol.SendRequest(conn, req); err != nil {
		return protocol.Response{}, fmt.Errorf("send request: %w", err)
	}
	return protocol.ReceiveResponse(conn)
}

func printResponse(resp protocol.Response) error {
	data, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	if !resp.IsSuccess() && resp.Kind != protocol.KindRespStatus && resp.Kind != protocol.KindRespLog &&
		resp.Kind != protocol.KindRespEdit && resp.Kind != protocol.KindRespGroup {
		os.Exit(1)
	}
	return nil
}

func streamLogs(cfg clientConfig, taskID *int, lines *int) error {
	secret, err := os.ReadFile(cfg.secretPath)
	if err != nil {
		return err
	}
	conn, err := cfg.dial()
	if err != nil {
		return err
	}
	defer conn.Close()

	if _, err := transport.ClientHandshake(conn, secret); err != nil {
		return err
	}
	req := protocol.Request{Kind: protocol.KindStream, Stream: &protocol.StreamRequest{ID: taskID, Lines: lines}}
	if err := protocol.SendRequest(conn, req); err != nil {
		return err
	}

	for {
		resp, err := protocol.ReceiveResponse(conn)
		if err != nil {
			if err == wire.ErrClosed {
				return nil
			}
			return err
		}
		switch resp.Kind {
		case protocol.KindRespStream:
			os.Stdout.Write(resp.Stream.Chunk)
		case protocol.KindRespClose:
			return nil
		case protocol.KindRespSuccess:
			fmt.Fprintln(os.Stderr, resp.Success.Text)
			return nil
		case protocol.KindRespFailure:
			return fmt.Errorf("%s", resp.Failure.Text)
		}
	}
}

func main() {
	var cfg clientConfig

	root := &cobra.Command{Use: "pueuectl", Version: core.FormatVersion(core.Version)}
	root.PersistentFlags().StringVar(&cfg.socketPath, "socket", "", "unix socket path")
	root.PersistentFlags().StringVar(&cfg.host, "host", "", "daemon host (TLS mode)")
	root.PersistentFlags().IntVar(&cfg.port, "port", 0, "daemon port (TLS mode)")
	root.PersistentFlags().BoolVar(&cfg.tlsMode, "tls", false, "connect over TLS instead of a unix socket")
	root.PersistentFlags().StringVar(&cfg.secretPath, "secret", "", "path to the shared secret file")

	run := func(build func(args []string) protocol.Request) func(cmd *cobra.Command, args []string) error {
		return func(cmd *cobra.Command, args []string) error {
			resp, err := send(cfg, build(args))
			if err != nil {
				return err
			}
			return printResponse(resp)
		}
	}

	var group, path, label string
	var priority int
	var dependencies []int
	var stashed, startImmediately bool

	addCmd := &cobra.Command{
		Use:  "add -- <command>",
		Args: cobra.MinimumNArgs(1),
		RunE: run(func(args []string) protocol.Request {
			var lbl *string
			if label != "" {
				lbl = &label
			}
			return protocol.Request{Kind: protocol.KindAdd, Add: &protocol.AddRequest{
				Command: joinArgs(args), Path: path, Group: group, Priority: priority,
				Dependencies: dependencies, Label: lbl, Stashed: stashed, StartImmediately: startImmediately,
				Envs: envSnapshot(),
			}}
		}),
	}
	addCmd.Flags().StringVar(&group, "group", "", "target group")
	addCmd.Flags().StringVar(&path, "path", ".", "working directory")
	addCmd.Flags().StringVar(&label, "label", "", "optional label")
	addCmd.Flags().IntVar(&priority, "priority", 0, "scheduling priority")
	addCmd.Flags().IntSliceVar(&dependencies, "after", nil, "dependency task ids")
	addCmd.Flags().BoolVar(&stashed, "stashed", false, "add in a stashed state")
	addCmd.Flags().BoolVar(&startImmediately, "immediate", false, "start regardless of queue position")

	removeCmd := &cobra.Command{
		Use:  "remove <id>...",
		Args: cobra.MinimumNArgs(1),
		RunE: run(func(args []string) protocol.Request {
			return protocol.Request{Kind: protocol.KindRemove, Remove: &protocol.IDsRequest{IDs: parseIDs(args)}}
		}),
	}

	statusCmd := &cobra.Command{
		Use:  "status",
		Args: cobra.NoArgs,
		RunE: run(func(args []string) protocol.Request {
			return protocol.Request{Kind: protocol.KindStatus}
		}),
	}

	startCmd := &cobra.Command{
		Use:  "start [id...]",
		Args: cobra.ArbitraryArgs,
		RunE: run(func(args []string) protocol.Request {
			return protocol.Request{Kind: protocol.KindStart, Start: &protocol.SelectRequest{Selection: selectionFromArgs(args, group)}}
		}),
	}
	startCmd.Flags().StringVar(&group, "group", "", "target group instead of ids")

	pauseCmd := &cobra.Command{
		Use:  "pause [id...]",
		Args: cobra.ArbitraryArgs,
		RunE: run(func(args []string) protocol.Request {
			return protocol.Request{Kind: protocol.KindPause, Pause: &protocol.PauseRequest{Selection: selectionFromArgs(args, group)}}
		}),
	}
	pauseCmd.Flags().StringVar(&group, "group", "", "target group instead of ids")

	killCmd := &cobra.Command{
		Use:  "kill [id...]",
		Args: cobra.ArbitraryArgs,
		RunE: run(func(args []string) protocol.Request {
			return protocol.Request{Kind: protocol.KindKill, Kill: &protocol.KillRequest{Selection: selectionFromArgs(args, group)}}
		}),
	}
	killCmd.Flags().StringVar(&group, "group", "", "target group instead of ids")

	shutdownCmd := &cobra.Command{
		Use:  "shutdown",
		Args: cobra.NoArgs,
		RunE: run(func(args []string) protocol.Request {
			return protocol.Request{Kind: protocol.KindShutdown, Shutdown: &protocol.ShutdownRequest{Mode: protocol.ShutdownGraceful}}
		}),
	}

	var streamID int
	var streamLines int
	var hasID bool
	streamCmd := &cobra.Command{
		Use:  "stream",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var idPtr *int
			if hasID {
				idPtr = &streamID
			}
			var linesPtr *int
			if streamLines > 0 {
				linesPtr = &streamLines
			}
			return streamLogs(cfg, idPtr, linesPtr)
		},
	}
	streamCmd.Flags().IntVar(&streamID, "id", 0, "task id")
	streamCmd.Flags().BoolVar(&hasID, "has-id", false, "set when --id is explicitly provided")
	streamCmd.Flags().IntVar(&streamLines, "lines", 0, "seek to the last N lines before streaming")

	root.AddCommand(addCmd, removeCmd, statusCmd, startCmd, pauseCmd, killCmd, shutdownCmd, streamCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func joinArgs(args []string) string {
	out := args[0]
	for _, a := range args[1:] {
		out += " " + a
	}
	return out
}

func parseIDs(args []string) []int {
	ids := make([]int, 0, len(args))
	for _, a := range args {
		var id int
		fmt.Sscanf(a, "%d", &id)
		ids = append(ids, id)
	}
	return ids
}

func selectionFromArgs(args []string, group string) protocol.Selection {
	if group != "" {
		return protocol.SelectionByGroup(group)
	}
	if len(args) == 0 {
		return protocol.SelectionAll()
	}
	return protocol.SelectionByIDs(parseIDs(args)...)
}

// envSnapshot captures the client's own environment, the "captured at
// submission time" environment spec.md §6 says is exported into tasks.
func envSnapshot() map[string]string {
	out := make(map[string]string)
	for _, kv := range os.Environ() {
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				out[kv[:i]] = kv[i+1:]
				break
			}
		}
	}
	return out
}
