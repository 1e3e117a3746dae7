// Command mercury is the persona client: it manages keys, registers the
// persona on its home and pairs with other personas.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/libertaria-project/mercury-rust/logging"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, out io.Writer, errOut io.Writer) int {
	if len(args) == 0 {
		printUsage(errOut)
		return 2
	}
	logging.ConfigureRuntime()

	switch args[0] {
	case "key":
		return cmdKey(args[1:], out, errOut)
	case "init":
		return cmdInit(args[1:], out, errOut)
	case "register":
		return cmdRegister(args[1:], out, errOut)
	case "ping":
		return cmdPing(args[1:], out, errOut)
	case "pair":
		return cmdPair(args[1:], out, errOut)
	case "events":
		return cmdEvents(args[1:], out, errOut)
	case "contacts":
		return cmdContacts(args[1:], out, errOut)
	case "help", "-h", "--help":
		printUsage(out)
		return 0
	default:
		fmt.Fprintf(errOut, "unknown command: %s\n\n", args[0])
		printUsage(errOut)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "mercury: persona client")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  mercury key init --name <name> [--alg ed25519|dilithium3] [--seed-hex <64hex>] [--dir <dir>] [--force]")
	fmt.Fprintln(w, "  mercury key derive --from <name> --role <role> [--dir <dir>] [--force]")
	fmt.Fprintln(w, "  mercury key list [--dir <dir>]")
	fmt.Fprintln(w, "  mercury key export --name <name> [--role <role>] [--dir <dir>]")
	fmt.Fprintln(w, "  mercury init --config <file> --key <name> [--role <role>] [--key-dir <dir>] --home-id <id> --home-addr <host:port> [--book <file>]")
	fmt.Fprintln(w, "  mercury register --config <file> [--invite <invitation.json>]")
	fmt.Fprintln(w, "  mercury ping --config <file> [--text <text>]")
	fmt.Fprintln(w, "  mercury pair --config <file> --peer <profile id> --app <app>")
	fmt.Fprintln(w, "  mercury events --config <file> [--accept] [--count <n>] [--timeout <d>]")
	fmt.Fprintln(w, "  mercury contacts --config <file> [--app <app>]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Notes:")
	fmt.Fprintln(w, "  - keys live under ~/.mercury/keys/<name> unless --dir/--key-dir is given")
	fmt.Fprintln(w, "  - relations are of the application type, so pairing with --app chat")
	fmt.Fprintln(w, "    lets both personas call each other in the chat application")
}
