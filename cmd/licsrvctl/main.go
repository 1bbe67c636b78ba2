// licsrvctl is the admin command line for a licsrv instance. It issues,
// toggles, releases and lists licenses over the HTTP admin API, and hashes
// admin secrets for the server configuration.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/pflag"

	"licsrv/internal/security"
)

const usage = `Usage: licsrvctl [global flags] <command> [flags]

Commands:
  issue        --email E --name N [--type trial|monthly|annual|lifetime]
  enable       KEY
  disable      KEY
  release      KEY
  list         [--email E]
  get          KEY
  activations  KEY
  export       [--format xlsx|csv] [--out FILE]
  hash-secret  [--cost N]   reads the secret from stdin

Global flags:
`

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout io.Writer) error {
	var (
		server  string
		secret  string
		timeout time.Duration
	)
	global := pflag.NewFlagSet("licsrvctl", pflag.ContinueOnError)
	global.StringVar(&server, "server", envOr("LICSRV_URL", "http://localhost:8080"), "server base URL")
	global.StringVar(&secret, "secret", os.Getenv("LICSRV_ADMIN_SECRET"), "admin secret")
	global.DurationVar(&timeout, "timeout", 15*time.Second, "request timeout")
	global.SetInterspersed(false)
	global.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		global.PrintDefaults()
	}
	if err := global.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	rest := global.Args()
	if len(rest) == 0 {
		global.Usage()
		return errors.New("missing command")
	}
	cmd, cmdArgs := rest[0], rest[1:]

	if cmd == "hash-secret" {
		return hashSecret(cmdArgs, stdin, stdout)
	}
	if secret == "" {
		return errors.New("admin secret is required (--secret or LICSRV_ADMIN_SECRET)")
	}
	c := newClient(server, secret, timeout)
	out := printer{w: stdout}

	switch cmd {
	case "issue":
		fs := pflag.NewFlagSet("issue", pflag.ContinueOnError)
		email := fs.String("email", "", "owner email")
		name := fs.String("name", "", "owner name")
		licenseType := fs.String("type", "", "license type (default annual)")
		if err := fs.Parse(cmdArgs); err != nil {
			return err
		}
		return out.emit(c.issue(ctx, *email, *name, *licenseType))
	case "enable", "disable":
		key, err := oneKey(cmd, cmdArgs)
		if err != nil {
			return err
		}
		return out.emit(c.setEnabled(ctx, key, cmd == "enable"))
	case "release":
		key, err := oneKey(cmd, cmdArgs)
		if err != nil {
			return err
		}
		return out.emit(c.releaseDevice(ctx, key))
	case "list":
		fs := pflag.NewFlagSet("list", pflag.ContinueOnError)
		email := fs.String("email", "", "only licenses owned by this email")
		if err := fs.Parse(cmdArgs); err != nil {
			return err
		}
		return out.emit(c.list(ctx, *email))
	case "get":
		key, err := oneKey(cmd, cmdArgs)
		if err != nil {
			return err
		}
		return out.emit(c.get(ctx, key))
	case "activations":
		key, err := oneKey(cmd, cmdArgs)
		if err != nil {
			return err
		}
		return out.emit(c.activations(ctx, key))
	case "export":
		fs := pflag.NewFlagSet("export", pflag.ContinueOnError)
		format := fs.String("format", "xlsx", "xlsx or csv")
		outPath := fs.StringP("out", "o", "", "output file (default licenses.<format>)")
		if err := fs.Parse(cmdArgs); err != nil {
			return err
		}
		if *outPath == "" {
			*outPath = "licenses." + *format
		}
		data, err := c.export(ctx, *format)
		if err != nil {
			return err
		}
		if err := os.WriteFile(*outPath, data, 0o600); err != nil {
			return fmt.Errorf("write %s: %w", *outPath, err)
		}
		fmt.Fprintf(stdout, "wrote %s (%d bytes)\n", *outPath, len(data))
		return nil
	default:
		global.Usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func hashSecret(args []string, stdin io.Reader, stdout io.Writer) error {
	fs := pflag.NewFlagSet("hash-secret", pflag.ContinueOnError)
	cost := fs.Int("cost", 0, "bcrypt cost (default 10)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	raw, err := io.ReadAll(io.LimitReader(stdin, 4096))
	if err != nil {
		return fmt.Errorf("read secret: %w", err)
	}
	secret := trimNewline(string(raw))
	if secret == "" {
		return errors.New("empty secret on stdin")
	}
	hash, err := security.HashSecret(secret, *cost)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, hash)
	return nil
}

func oneKey(cmd string, args []string) (string, error) {
	if len(args) != 1 {
		return "", fmt.Errorf("%s takes exactly one license key", cmd)
	}
	return args[0], nil
}

type printer struct {
	w io.Writer
}

// emit prints v as indented JSON unless err is set. Its signature lets a
// client call be passed straight through.
func (p printer) emit(v any, err error) error {
	if err != nil {
		return err
	}
	enc := json.NewEncoder(p.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
