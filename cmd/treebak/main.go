package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"treebak/internal/app"
	"treebak/internal/backup"
	"treebak/internal/config"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and creates an App. The caller must defer a.Close().
// operation identifies the CLI command being run (e.g. "backup", "restore").
func newApp(cmd *cobra.Command, operation string) (*app.App, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	verbose, _ := cmd.Flags().GetBool("verbose")
	a, err := app.NewApp(cmd.Context(), cfg, operation, app.Options{
		Stderr:  os.Stderr,
		Verbose: verbose,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

// readPassphrase prompts on the terminal without echo, or reads one line
// from stdin when it is not a terminal.
func readPassphrase(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		fmt.Fprint(os.Stderr, prompt)
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("reading passphrase: %w", err)
		}
		return string(b), nil
	}

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

var rootCmd = &cobra.Command{
	Use:          "treebak",
	Short:        "Content-addressed directory tree backups",
	SilenceUsage: true,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		host, user, err := app.Identity("", "")
		if err != nil {
			return err
		}
		cfg := config.NewConfig(host, user, defaults["base_dir"])
		cfg.Roots, _ = cmd.Flags().GetStringSlice("root")

		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Host:     %s\n", host)
		fmt.Printf("User:     %s\n", user)
		fmt.Printf("Base Dir: %s\n", defaults["base_dir"])
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Host:       %s\n", cfg.Hostname)
		fmt.Printf("User:       %s\n", cfg.User)
		fmt.Printf("Base Dir:   %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:    %s\n", cfg.LogDir)
		fmt.Printf("Roots:      %s\n", strings.Join(cfg.Roots, ", "))
		fmt.Printf("Encryption: %s\n", cfg.Encryption.Type)
		for _, v := range cfg.Vaults {
			fmt.Printf("Vault:      %s (%s)\n", v.Name, v.Type)
		}
		if err := cfg.Validate(); err != nil {
			fmt.Printf("\nProblems:\n%v\n", err)
		}
		return nil
	},
}

// keys command
var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage encryption keys",
}

var keysInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate the encryption key pair",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "keys-init")
		if err != nil {
			return err
		}
		defer a.Close()

		pass, err := readPassphrase("New passphrase: ")
		if err != nil {
			return err
		}
		confirm, err := readPassphrase("Confirm passphrase: ")
		if err != nil {
			return err
		}
		if pass != confirm {
			return errors.New("passphrases do not match")
		}

		if err := a.KeysInit(pass); err != nil {
			return fmt.Errorf("initializing keys: %w", err)
		}
		fmt.Println("Encryption keys created.")
		return nil
	},
}

// scan command
var scanCmd = &cobra.Command{
	Use:   "scan [ROOT...]",
	Short: "Build a manifest locally and print it",
	RunE: func(cmd *cobra.Command, args []string) error {
		fromCache, _ := cmd.Flags().GetBool("from-cache")

		a, err := newApp(cmd, "scan")
		if err != nil {
			return err
		}
		defer a.Close()

		m, err := a.Scan(args, fromCache)
		if err != nil {
			return fmt.Errorf("scan failed: %w", err)
		}
		return m.WriteRecords(os.Stdout)
	},
}

// backup command
var backupCmd = &cobra.Command{
	Use:   "backup [ROOT...]",
	Short: "Back up roots to the vault",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "backup")
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.Backup(cmd.Context(), args)
		if err != nil {
			return fmt.Errorf("backup failed: %w", err)
		}

		if res.Unchanged {
			fmt.Printf("No changes since %s\n", res.Previous)
			return nil
		}
		fmt.Printf("Manifest %s: %d file(s), %d changed, %d uploaded, %d already stored\n",
			res.Manifest.Name(), res.Manifest.Len(), res.Changed, len(res.Uploaded), res.AlreadyStored)
		return nil
	},
}

// restore command
var restoreCmd = &cobra.Command{
	Use:   "restore [ROOT...]",
	Short: "Restore files under roots from a manifest",
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("manifest")
		target, _ := cmd.Flags().GetString("target")

		a, err := newApp(cmd, "restore")
		if err != nil {
			return err
		}
		defer a.Close()

		if a.NeedsPassphrase() {
			pass, err := readPassphrase("Passphrase: ")
			if err != nil {
				return err
			}
			if err := a.Unlock(pass); err != nil {
				return fmt.Errorf("unlocking keys: %w", err)
			}
		}

		res, err := a.Restore(cmd.Context(), args, backup.RestoreOptions{Manifest: name, Target: target})
		if err != nil {
			return fmt.Errorf("restore failed: %w", err)
		}
		fmt.Printf("Restored %d file(s) from %s\n", len(res.Restored), res.Manifest)
		return nil
	},
}

// manifest command
var manifestCmd = &cobra.Command{
	Use:   "manifest",
	Short: "Inspect persisted manifests",
}

var manifestListCmd = &cobra.Command{
	Use:   "list",
	Short: "List manifests for this host and user",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "manifest-list")
		if err != nil {
			return err
		}
		defer a.Close()

		names, err := a.ListManifests(cmd.Context())
		if err != nil {
			return err
		}
		if len(names) == 0 {
			fmt.Println("No manifests.")
			return nil
		}
		for _, n := range names {
			fmt.Println(n)
		}
		return nil
	},
}

var manifestShowCmd = &cobra.Command{
	Use:   "show [NAME]",
	Short: "Print a manifest (the latest when NAME is omitted)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "manifest-show")
		if err != nil {
			return err
		}
		defer a.Close()

		var name string
		if len(args) > 0 {
			name = args[0]
		}
		m, err := a.ShowManifest(cmd.Context(), name)
		if err != nil {
			return err
		}
		return m.WriteRecords(os.Stdout)
	},
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View backup run history",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp(cmd, "history")
		if err != nil {
			return err
		}
		defer a.Close()

		runs, err := a.History(limit)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Println("No runs recorded.")
			return nil
		}

		for _, r := range runs {
			duration := ""
			if r.FinishedAt.Valid {
				duration = r.FinishedAt.Time.Sub(r.StartedAt).Truncate(time.Millisecond).String()
			}
			fmt.Printf("#%d  %-8s  %s  %-9s  %4d  %-10s  %s\n",
				r.ID,
				r.Operation,
				r.StartedAt.Local().Format("2006-01-02 15:04:05"),
				r.Status,
				r.Uploaded,
				duration,
				r.Manifest,
			)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Log debug messages")

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)
	configInitCmd.Flags().StringSlice("root", nil, "Directory to back up (repeatable)")

	keysCmd.AddCommand(keysInitCmd)

	manifestCmd.AddCommand(manifestListCmd)
	manifestCmd.AddCommand(manifestShowCmd)

	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(keysCmd)
	rootCmd.AddCommand(scanCmd)
	scanCmd.Flags().Bool("from-cache", false, "Build from directory caches only, without reading files")
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(restoreCmd)
	restoreCmd.Flags().String("manifest", "", "Manifest to restore from (default: latest)")
	restoreCmd.Flags().String("target", "", "Restore under this directory instead of in place")
	rootCmd.AddCommand(manifestCmd)
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntP("limit", "n", 50, "Maximum number of runs to show")
}
