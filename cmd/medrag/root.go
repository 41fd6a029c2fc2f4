// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"errors"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sigil-dev/medrag/internal/config"
	mederr "github.com/sigil-dev/medrag/pkg/errors"
)

// NewRootCmd creates the root medrag command with all subcommands registered.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "medrag",
		Short:         "medrag - role-aware retrieval over clinical documents",
		Long:          "medrag ingests clinical documents into a vector store and answers questions from the documents each caller may read.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := initViper(cmd); err != nil {
				return err
			}
			return setupLogging(cmd.ErrOrStderr())
		},
	}

	// Global flags; these map to viper keys via initViper.
	root.PersistentFlags().StringP("config", "c", "", "path to config file")
	root.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")
	root.PersistentFlags().String("log-format", "text", "log output format (text|json)")

	root.AddCommand(
		newServeCmd(),
		newStatusCmd(),
		newIngestCmd(),
		newRegenerateCmd(),
		newDeleteCmd(),
		newDocumentsCmd(),
		newAskCmd(),
		newSearchCmd(),
		newSecretCmd(),
		newVersionCmd(),
	)

	return root
}

// initViper sets up the global Viper with defaults, env bindings, flag
// bindings, and optional config file so the standard precedence
// (flag > env > file > defaults) is handled uniformly.
func initViper(cmd *cobra.Command) error {
	v := viper.GetViper()

	config.SetDefaults(v)
	config.SetupEnv(v)

	if cfgFile, _ := cmd.Flags().GetString("config"); cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return mederr.Errorf(mederr.CodeConfigLoadReadFailure, "reading config file: %w", err)
		}
		config.WarnInsecurePermissions(cfgFile)
	} else {
		// SetConfigType is left unset: with it Viper also tries the bare
		// name, which collides with a ./medrag binary.
		v.SetConfigName("medrag")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/medrag")
		v.AddConfigPath("/etc/medrag")
		// No config file is fine; parse or permission errors must surface.
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return mederr.Errorf(mederr.CodeConfigLoadReadFailure, "reading config: %w", err)
			}
			if path := config.BootstrapConfig(); path != "" {
				v.SetConfigFile(path)
				if err := v.ReadInConfig(); err != nil {
					return mederr.Errorf(mederr.CodeConfigLoadReadFailure, "reading bootstrapped config: %w", err)
				}
			}
		} else {
			config.WarnInsecurePermissions(v.ConfigFileUsed())
		}
	}

	flags := cmd.Root().PersistentFlags()
	if err := v.BindPFlag("verbose", flags.Lookup("verbose")); err != nil {
		return mederr.Errorf(mederr.CodeCLISetupFailure, "binding verbose flag: %w", err)
	}
	if err := v.BindPFlag("log_format", flags.Lookup("log-format")); err != nil {
		return mederr.Errorf(mederr.CodeCLISetupFailure, "binding log-format flag: %w", err)
	}

	return nil
}

// setupLogging installs the default slog handler from the verbose and
// log_format settings.
func setupLogging(w io.Writer) error {
	level := slog.LevelInfo
	if viper.GetBool("verbose") {
		level = slog.LevelDebug
	}
	logger, err := newLogger(w, viper.GetString("log_format"), level)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)
	return nil
}

func newLogger(w io.Writer, format string, level slog.Level) (*slog.Logger, error) {
	if w == nil {
		w = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: level}
	switch format {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, mederr.Errorf(mederr.CodeCLIInputInvalid, "unknown log format %q (want text or json)", format)
	}
}

// loadConfig decodes and validates the configuration resolved by initViper.
func loadConfig() (*config.Config, error) {
	return config.FromViper(viper.GetViper())
}
