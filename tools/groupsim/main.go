package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "scenario":
		runScenario(args)
	case "replay":
		runReplay(args)
	case "version":
		fmt.Printf("groupsim version %s\n", version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`groupsim - group membership simulator

Usage:
  groupsim <command> [options]

Commands:
  scenario  Run the built-in partition and merge scenario
  replay    Run a script of sessions, requests and membership changes
  version   Print version
  help      Show this help

Common Options:
  --daemons       Comma-separated daemon names (default: a,b,c)
  --buffer-size   GROUPS message capacity in bytes (default: 0 = wire default)
  --verbose       Log engine activity to stderr

Replay Options:
  --script        Script file, "-" for stdin (default: -)

Script commands:
  connect <daemon> <user>          open a session
  join <member> <group>            multicast a join
  leave <member> <group>           multicast a leave
  kill <member>                    multicast a disconnect
  membership <a,b> [<c>...]        deliver transitional and regular views, then run
  transitional <a,b> [<c>...]      deliver only transitional views
  regular <a,b> [<c>...]           deliver only regular views
  run                              deliver every pending message
  views                            print notifications since the last views
  groups                           print every daemon's groups`)
}

func commonFlags(fs *flag.FlagSet) (*string, *int, *bool) {
	daemons := fs.String("daemons", "a,b,c", "Comma-separated daemon names")
	bufferSize := fs.Int("buffer-size", 0, "GROUPS message capacity in bytes")
	verbose := fs.Bool("verbose", false, "Log engine activity to stderr")
	return daemons, bufferSize, verbose
}

func setupLogging(verbose bool) {
	level := zerolog.Disabled
	if verbose {
		level = zerolog.DebugLevel
	}
	log.Logger = zerolog.New(zerolog.NewConsoleWriter(func(w *zerolog.ConsoleWriter) {
		w.Out = os.Stderr
	})).With().Timestamp().Logger().Level(level)
}

func runScenario(args []string) {
	fs := flag.NewFlagSet("scenario", flag.ExitOnError)
	daemons, bufferSize, verbose := commonFlags(fs)
	_ = fs.Parse(args)
	setupLogging(*verbose)

	names := splitNames(*daemons)
	if err := execute(scenarioScript(names), names, *bufferSize, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Scenario failed: %v\n", err)
		os.Exit(1)
	}
}

func runReplay(args []string) {
	fs := flag.NewFlagSet("replay", flag.ExitOnError)
	daemons, bufferSize, verbose := commonFlags(fs)
	script := fs.String("script", "-", "Script file, - for stdin")
	_ = fs.Parse(args)
	setupLogging(*verbose)

	var in io.Reader = os.Stdin
	if *script != "-" {
		f, err := os.Open(*script)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open script: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		in = f
	}

	if err := execute(in, splitNames(*daemons), *bufferSize, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Replay failed: %v\n", err)
		os.Exit(1)
	}
}

func splitNames(s string) []string {
	var out []string
	for _, n := range strings.Split(s, ",") {
		if n = strings.TrimSpace(n); n != "" {
			out = append(out, n)
		}
	}
	return out
}
