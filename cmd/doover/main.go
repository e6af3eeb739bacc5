package main

import (
	"fmt"
	"io"
	"os"
	"runtime"
)

// Version is the CLI release, set at build time with -ldflags.
var Version = "0.1.0"

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run dispatches a doover command and returns its exit code.
//
// Exit codes:
//
//	0 = success
//	1 = the command ran and failed
//	2 = usage or setup error
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		printUsage(stderr)
		return 2
	}

	rest := args[2:]
	switch args[1] {
	case "configure":
		return runConfigureCmd(rest, stdout, stderr)
	case "agents":
		return runAgentsCmd(rest, stdout, stderr)
	case "channel":
		return runChannelCmd(rest, stdout, stderr)
	case "create-channel":
		return runCreateChannelCmd(rest, stdout, stderr)
	case "create-processor":
		return runCreateProcessorCmd(rest, stdout, stderr)
	case "create-task":
		return runCreateTaskCmd(rest, stdout, stderr)
	case "publish":
		return runPublishCmd(rest, stdout, stderr)
	case "publish-file":
		return runPublishFileCmd(rest, stdout, stderr)
	case "publish-processor":
		return runPublishProcessorCmd(rest, stdout, stderr)
	case "republish-processor":
		return runRepublishProcessorCmd(rest, stdout, stderr)
	case "subscribe":
		return runSubscriptionCmd("subscribe", true, rest, stdout, stderr)
	case "unsubscribe":
		return runSubscriptionCmd("unsubscribe", false, rest, stdout, stderr)
	case "follow":
		return runFollowCmd(rest, stdout, stderr)
	case "history":
		return runHistoryCmd(rest, stdout, stderr)
	case "deploy":
		return runDeployCmd(rest, stdout, stderr)
	case "ui":
		return runUICmd(rest, stdout, stderr)
	case "version", "--version":
		_, _ = fmt.Fprintf(stdout, "doover %s (%s %s/%s)\n", Version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
		return 0
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

// ANSI Colors
const (
	ColorReset = "\033[0m"
	ColorBold  = "\033[1m"
	ColorRed   = "\033[31m"
	ColorGreen = "\033[32m"
	ColorBlue  = "\033[34m"
	ColorCyan  = "\033[36m"
	ColorGray  = "\033[37m"
)

func printUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintf(w, "%sdoover %s%s\n", ColorBold+ColorBlue, Version, ColorReset)
	_, _ = fmt.Fprintf(w, "%sChannels, processors and UI for Doover agents.%s\n", ColorGray, ColorReset)
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintf(w, "%sUSAGE:%s\n", ColorBold, ColorReset)
	_, _ = fmt.Fprintln(w, "  doover <command> [--profile NAME] [--agent ID] [flags]")
	_, _ = fmt.Fprintln(w, "")

	printSection(w, "ACCOUNT")
	printCommand(w, "configure", "Store credentials in a profile (--username, --token)")
	printCommand(w, "agents", "List the agents this profile can see")

	printSection(w, "CHANNELS")
	printCommand(w, "channel", "Show a channel's aggregate (--messages N)")
	printCommand(w, "create-channel", "Create a channel")
	printCommand(w, "publish", "Publish a JSON or text message to a channel")
	printCommand(w, "publish-file", "Publish a file base64 encoded (--mime-type)")
	printCommand(w, "follow", "Watch a channel and record aggregate changes")
	printCommand(w, "history", "Show recorded aggregate changes")

	printSection(w, "PROCESSORS")
	printCommand(w, "create-processor", "Create a processor channel")
	printCommand(w, "create-task", "Create a task for a processor")
	printCommand(w, "publish-processor", "Upload a processor package directory")
	printCommand(w, "republish-processor", "Upload an archived package again by record id")
	printCommand(w, "subscribe", "Run a task on a channel's messages")
	printCommand(w, "unsubscribe", "Stop running a task on a channel")
	printCommand(w, "deploy", "Apply a doover_config.json deployment")

	printSection(w, "UI")
	printCommand(w, "ui show", "Print the agent's UI state and commands")
	printCommand(w, "ui clear", "Clear the agent's UI state")

	printSection(w, "UTILITIES")
	printCommand(w, "version", "Show version information")
	printCommand(w, "help", "Show this help")
	_, _ = fmt.Fprintln(w, "")
}

func printSection(w io.Writer, title string) {
	_, _ = fmt.Fprintf(w, "%s%s:%s\n", ColorBold+ColorCyan, title, ColorReset)
}

func printCommand(w io.Writer, name, desc string) {
	_, _ = fmt.Fprintf(w, "  %s%-18s%s %s\n", ColorGreen, name, ColorReset, desc)
}

func fail(stderr io.Writer, format string, args ...any) int {
	_, _ = fmt.Fprintf(stderr, ColorRed+"Error: "+ColorReset+format+"\n", args...)
	return 1
}
