// Command pgward is the control CLI of §6's sketch: backup, restore,
// archive, verify, delete, retain, expunge, info, list-backup, status,
// ping and the rest of the verb list, each sent as one management
// request to a running pgwardd daemon and printed back in text, json or
// raw form (-F). Full flag parsing and config-file loading are the
// external collaborators §1 scopes out; this is the thin wire client the
// CLI sketch actually needs, matching the teacher's own cmd/* binaries in
// being a small main package over an already-built core.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/leengari/pgward/internal/mgmt"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	verb := os.Args[1]
	cmd, ok := mgmt.ParseCommand(verb)
	if !ok {
		fmt.Fprintf(os.Stderr, "pgward: unknown command %q\n", verb)
		usage()
		os.Exit(2)
	}

	fs := flag.NewFlagSet(verb, flag.ExitOnError)
	addr := fs.String("addr", "127.0.0.1:7070", "pgwardd management socket address")
	server := fs.String("server", "", "server name")
	label := fs.String("label", "", "backup label / identifier (oldest|newest|latest|<prefix>)")
	output := fs.String("F", "json", "output format: text|json|raw")
	var args argList
	fs.Var(&args, "arg", "extra key=value argument (repeatable)")
	fs.Parse(os.Args[2:])

	req := mgmt.Request{Server: *server, Label: *label, Args: args.m}

	client := &mgmt.Client{Addr: *addr}
	resp, err := client.Send(cmd, req, "1.0")
	if err != nil {
		fmt.Fprintf(os.Stderr, "pgward: %v\n", err)
		os.Exit(1)
	}

	printResponse(resp, *output)
	if !resp.Status {
		os.Exit(1)
	}
}

// argList accumulates repeated -arg key=value flags into a map, matching
// §6's free-form per-command Args.
type argList struct {
	m map[string]string
}

func (a *argList) String() string { return "" }

func (a *argList) Set(s string) error {
	if a.m == nil {
		a.m = make(map[string]string)
	}
	key, value, ok := strings.Cut(s, "=")
	if !ok {
		return fmt.Errorf("expected key=value, got %q", s)
	}
	a.m[key] = value
	return nil
}

func printResponse(resp mgmt.Response, format string) {
	switch format {
	case "raw":
		os.Stdout.Write(resp.Data)
		fmt.Println()
	case "text":
		if !resp.Status {
			fmt.Printf("error: %s\n", string(resp.Data))
			return
		}
		var generic any
		if err := json.Unmarshal(resp.Data, &generic); err == nil {
			pretty, _ := json.MarshalIndent(generic, "", "  ")
			fmt.Println(string(pretty))
		} else {
			fmt.Println(string(resp.Data))
		}
	default: // json
		out, _ := json.Marshal(resp)
		fmt.Println(string(out))
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: pgward <command> [-server NAME] [-label IDENTIFIER] [-addr ADDR] [-arg key=value]...")
	fmt.Fprintln(os.Stderr, "commands: backup restore archive verify delete retain expunge info annotate list-backup status status-details ping reload conf-ls conf-get conf-set decrypt encrypt decompress compress mode")
}
