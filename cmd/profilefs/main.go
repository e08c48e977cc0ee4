// Command profilefs inspects and edits profile storage on disk.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	flag "github.com/spf13/pflag"

	"github.com/absfs/profilefs"
)

const usage = `usage: profilefs [flags] <command> [args]

commands:
  list                 list profiles, active profile marked with *
  keys                 list keys of the active profile
  create <name>        create a profile
  switch <name>        make a profile active
  delete <name>        delete a profile
  reset <name>         delete every key of a profile
  get <key>            print a string value of the active profile
  set <key> <value>    store a string value in the active profile
  delkey <key>         delete a key of the active profile

flags:
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx, os.Stdout, os.Stderr, os.Args[1:]))
}

func run(ctx context.Context, out, errOut io.Writer, args []string) int {
	flagSet := flag.NewFlagSet("profilefs", flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)

	root := flagSet.StringP("root", "r", "", "Storage root folder")
	configPath := flagSet.StringP("config", "c", "", "Settings file (JSON with comments)")
	key := flagSet.String("key", "", "Encryption passphrase; enables AES-256-GCM")
	shared := flagSet.Bool("shared", false, "Use the shared profile for key commands")
	verbose := flagSet.BoolP("verbose", "v", false, "Log to stderr")
	help := flagSet.BoolP("help", "h", false, "Show help")

	if err := flagSet.Parse(args); err != nil {
		fmt.Fprintln(errOut, "error:", err)
		return 2
	}
	if *help || flagSet.NArg() == 0 {
		fmt.Fprint(out, usage)
		fmt.Fprint(out, flagSet.FlagUsages())
		return 0
	}

	cfg, err := buildConfig(*configPath, *root, *key, *verbose, errOut)
	if err != nil {
		fmt.Fprintln(errOut, "error:", err)
		return 1
	}

	fsys := profilefs.New()
	if err := fsys.Initialize(ctx, cfg); err != nil {
		fmt.Fprintln(errOut, "error:", err)
		return 1
	}
	defer fsys.Shutdown(ctx)

	if err := dispatch(ctx, fsys, out, flagSet.Args(), *shared); err != nil {
		fmt.Fprintln(errOut, "error:", err)
		return 1
	}
	return 0
}

func buildConfig(configPath, root, key string, verbose bool, errOut io.Writer) (profilefs.Config, error) {
	settings, err := profilefs.LoadSettingsEnv()
	if err != nil {
		return profilefs.Config{}, err
	}
	if configPath != "" {
		if settings, err = profilefs.LoadSettingsFile(configPath); err != nil {
			return profilefs.Config{}, err
		}
	}
	if root != "" {
		settings.RootFolder = root
	}

	cfg := profilefs.Config{Settings: settings}
	if key != "" {
		cfg.EncryptionKey = key
	}
	if cfg.EncryptionKey != "" {
		aead, err := profilefs.NewAEADProvider(profilefs.CipherAES256GCM, nil)
		if err != nil {
			return cfg, err
		}
		cfg.Encryption = []profilefs.EncryptionProvider{aead, profilefs.NoEncryption{}}
	}

	level := slog.LevelError
	if verbose {
		level = slog.LevelDebug
	}
	cfg.Logger = slog.New(slog.NewTextHandler(errOut, &slog.HandlerOptions{Level: level}))
	return cfg, nil
}

func dispatch(ctx context.Context, fsys *profilefs.FileSystem, out io.Writer, args []string, shared bool) error {
	cmd, rest := args[0], args[1:]
	need := func(n int) error {
		if len(rest) != n {
			return fmt.Errorf("%s: expected %d argument(s), got %d", cmd, n, len(rest))
		}
		return nil
	}

	switch cmd {
	case "list":
		return cmdList(fsys, out)
	case "create":
		if err := need(1); err != nil {
			return err
		}
		res, err := fsys.CreateProfile(ctx, profilefs.CreateArgs{Name: rest[0]})
		if err != nil {
			return err
		}
		if !res.Success() {
			return fmt.Errorf("create %q: %s", rest[0], res.Status)
		}
		fmt.Fprintln(out, res.Profile.DisplayName())
		return nil
	case "switch", "delete", "reset":
		if err := need(1); err != nil {
			return err
		}
		return cmdProfile(ctx, fsys, cmd, rest[0])
	case "keys", "get", "set", "delkey":
		p, err := target(fsys, shared)
		if err != nil {
			return err
		}
		return cmdKey(ctx, p, out, cmd, rest)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func target(fsys *profilefs.FileSystem, shared bool) (*profilefs.Profile, error) {
	if shared {
		return fsys.SharedProfile()
	}
	return fsys.Profile()
}

func cmdList(fsys *profilefs.FileSystem, out io.Writer) error {
	active, err := fsys.Profile()
	if err != nil {
		return err
	}
	profiles, err := fsys.Profiles()
	if err != nil {
		return err
	}
	for _, p := range profiles {
		mark := " "
		if p == active {
			mark = "*"
		}
		fmt.Fprintf(out, "%s %s\t%s\t%d keys\n", mark, p.DisplayName(), p.Saved().Format("2006-01-02 15:04"), len(p.Keys()))
	}
	return nil
}

func cmdProfile(ctx context.Context, fsys *profilefs.FileSystem, cmd, name string) error {
	p, ok, err := fsys.ProfileByName(name)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no profile named %q", name)
	}

	switch cmd {
	case "switch":
		_, err = fsys.SwitchProfile(ctx, p)
	case "delete":
		if active, _ := fsys.Profile(); active == p {
			return errors.New("cannot delete the active profile")
		}
		err = fsys.DeleteProfile(ctx, p)
	case "reset":
		err = fsys.ResetProfile(ctx, p)
	}
	return err
}

func cmdKey(ctx context.Context, p *profilefs.Profile, out io.Writer, cmd string, args []string) error {
	switch cmd {
	case "keys":
		for _, h := range p.Headers() {
			fmt.Fprintf(out, "%s\t%s\t%s\n", h.Key, h.Type, h.Modified.Format("2006-01-02 15:04"))
		}
		return nil
	case "get":
		if len(args) != 1 {
			return errors.New("get: expected a key")
		}
		v, ok, err := profilefs.TryGet[string](p, args[0])
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("no value for %q", args[0])
		}
		fmt.Fprintln(out, v)
		return nil
	case "set":
		if len(args) != 2 {
			return errors.New("set: expected a key and a value")
		}
		if err := profilefs.Store(p, args[0], args[1]); err != nil {
			return err
		}
		return p.SaveFile(ctx, args[0])
	case "delkey":
		if len(args) != 1 {
			return errors.New("delkey: expected a key")
		}
		return p.DeleteEntry(ctx, args[0])
	}
	return nil
}
