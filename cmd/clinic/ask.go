package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/nugget/prenatal-clinic/internal/client"
)

// clientFlags are the options shared by the ask and chat subcommands.
type clientFlags struct {
	url          string
	user         string
	conversation string
	args         []string
}

// parseClientFlags splits subcommand arguments into flags and
// positional words.
func parseClientFlags(args []string) (clientFlags, error) {
	var f clientFlags
	for i := 0; i < len(args); i++ {
		name, value, hasValue := strings.Cut(args[i], "=")
		var dst *string
		switch name {
		case "-url", "--url":
			dst = &f.url
		case "-user", "--user":
			dst = &f.user
		case "-conversation", "--conversation":
			dst = &f.conversation
		default:
			if strings.HasPrefix(args[i], "-") {
				return f, fmt.Errorf("unknown flag: %s", args[i])
			}
			f.args = append(f.args, args[i])
			continue
		}
		if !hasValue {
			if i+1 >= len(args) {
				return f, fmt.Errorf("flag %s needs a value", name)
			}
			value = args[i+1]
			i++
		}
		*dst = value
	}
	if f.user == "" {
		f.user = os.Getenv("USER")
	}
	if f.user == "" {
		f.user = "cli-user"
	}
	return f, nil
}

// serverURL returns explicit, or the address the configured server
// listens on.
func serverURL(configPath, explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return "", err
	}
	host := cfg.Listen.Address
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(cfg.Listen.Port)), nil
}

// runAsk handles "clinic ask <message>": one chat turn against a
// running server. Useful for smoke tests of a deployment.
func runAsk(ctx context.Context, stdout io.Writer, configPath, outputFmt string, args []string) error {
	f, err := parseClientFlags(args)
	if err != nil {
		return err
	}
	text := strings.TrimSpace(strings.Join(f.args, " "))
	if text == "" {
		return fmt.Errorf("usage: clinic ask [-url url] [-user id] [-conversation id] <message>")
	}
	base, err := serverURL(configPath, f.url)
	if err != nil {
		return err
	}

	reply, err := client.New(base, nil).SendMessage(ctx, f.user, f.conversation, text)
	if err != nil {
		return fmt.Errorf("ask: %w", err)
	}

	if outputFmt == "json" {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(reply)
	}
	fmt.Fprintln(stdout, reply.Response)
	fmt.Fprintf(stdout, "\nconversation: %s\n", reply.ConversationID)
	return nil
}
