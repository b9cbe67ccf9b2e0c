// Command libctl administers the library database: schema, demo data, staff
// accounts and tokens.
package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"syscall"
	"time"

	"school_library/pkg/auth"
	"school_library/pkg/config"
	"school_library/pkg/database"
	"school_library/pkg/models"

	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gorm.io/gorm"
)

func main() {
	os.Exit(execute(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func execute(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.Execute(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	var envFile string

	root := &cobra.Command{
		Use:           "libctl",
		Short:         "School library administration",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelWarn})))
			return config.LoadDotEnv(envFile)
		},
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Path to a .env file, ignored when missing")

	root.AddCommand(newMigrateCmd(), newSeedCmd(), newTeacherCmd(), newTokenCmd())
	return root
}

func openDB() (*gorm.DB, error) {
	cfg, err := config.LoadDatabaseFromEnv()
	if err != nil {
		return nil, err
	}
	cfg.ConnectRetries = 1
	return database.Open(cfg)
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := openDB()
			if err != nil {
				return err
			}
			defer database.Close(db)
			fmt.Fprintln(cmd.OutOrStdout(), "Schema is up to date")
			return nil
		},
	}
}

func newSeedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Insert demo books and students that are not present yet",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := openDB()
			if err != nil {
				return err
			}
			defer database.Close(db)
			if err := database.Seed(db); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Demo data seeded")
			return nil
		},
	}
}

func newTeacherCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "teacher",
		Short: "Manage staff accounts",
	}
	cmd.AddCommand(newTeacherAddCmd(), newTeacherListCmd())
	return cmd
}

func newTeacherAddCmd() *cobra.Command {
	var (
		username      string
		fullName      string
		passwordStdin bool
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register a teacher account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			password, err := readPassword(cmd, passwordStdin)
			if err != nil {
				return err
			}
			hash, err := auth.HashPassword(password)
			if err != nil {
				return err
			}

			db, err := openDB()
			if err != nil {
				return err
			}
			defer database.Close(db)

			teacher := models.Teacher{Username: username, FullName: fullName, PasswordHash: hash}
			err = db.WithContext(cmd.Context()).Create(&teacher).Error
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return fmt.Errorf("teacher %q already exists", username)
			}
			if err != nil {
				return fmt.Errorf("create teacher: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created teacher %s (id %d)\n", teacher.Username, teacher.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&username, "username", "", "Login name")
	cmd.Flags().StringVar(&fullName, "full-name", "", "Display name")
	cmd.Flags().BoolVar(&passwordStdin, "password-stdin", false, "Read the password from stdin instead of prompting")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("full-name")
	return cmd
}

func newTeacherListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List teacher accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := openDB()
			if err != nil {
				return err
			}
			defer database.Close(db)

			var teachers []models.Teacher
			if err := db.WithContext(cmd.Context()).Order("id").Find(&teachers).Error; err != nil {
				return fmt.Errorf("list teachers: %w", err)
			}
			for _, t := range teachers {
				fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\t%s\n", t.ID, t.Username, t.FullName)
			}
			return nil
		},
	}
}

func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Work with access tokens",
	}
	cmd.AddCommand(newTokenIssueCmd())
	return cmd
}

func newTokenIssueCmd() *cobra.Command {
	var (
		username string
		ttl      time.Duration
	)

	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Print a bearer token for an existing teacher",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadFromEnv()
			if err != nil {
				return err
			}
			gate, err := auth.NewGate(auth.Config{Secret: cfg.JWTSecret, TokenTTL: cfg.JWTTTL})
			if err != nil {
				return err
			}

			db, err := openDB()
			if err != nil {
				return err
			}
			defer database.Close(db)

			var teacher models.Teacher
			err = db.WithContext(cmd.Context()).Where("username = ?", username).First(&teacher).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("teacher %q not found", username)
			}
			if err != nil {
				return fmt.Errorf("find teacher: %w", err)
			}

			token, err := gate.Issue(auth.Identity{
				SubjectID:   teacher.ID,
				SubjectName: teacher.Username,
				Role:        auth.RoleTeacher,
			}, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&username, "username", "", "Teacher login name")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Token lifetime, defaults to JWT_TTL")
	_ = cmd.MarkFlagRequired("username")
	return cmd
}

// readPassword prompts with echo off on a terminal, or reads one line from stdin.
func readPassword(cmd *cobra.Command, fromStdin bool) (string, error) {
	fd := int(syscall.Stdin)
	if !fromStdin && term.IsTerminal(fd) {
		fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
		raw, err := term.ReadPassword(fd)
		fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return strings.TrimSpace(string(raw)), nil
	}

	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimSpace(line), nil
}
