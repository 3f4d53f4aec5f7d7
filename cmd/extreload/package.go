package main

import (
	"crypto/ed25519"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/goatkit/extreload/internal/packaging"
)

func newPackageCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "package [dist-dir]",
		Short: "Zip a built extension for distribution",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dist := a.cfg.Out
			if len(args) == 1 {
				dist = args[0]
			}
			return a.pack(dist)
		},
	}

	flags := cmd.Flags()
	flags.String("output", "", "archive path")
	flags.Bool("strict", false, "refuse to package a development build")
	flags.String("sign-key", "", "ed25519 private key file; writes <output>.sig")
	bindFlags(a.v, flags, map[string]string{
		"package.output":   "output",
		"package.strict":   "strict",
		"package.sign_key": "sign-key",
	})
	return cmd
}

func newKeygenCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:         "keygen <key-file>",
		Short:       "Generate an ed25519 key pair for signing packages",
		Args:        cobra.ExactArgs(1),
		Annotations: map[string]string{"config": "skip"},
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(args[0]); err == nil {
				return fmt.Errorf("%s already exists", args[0])
			}
			if _, err := packaging.GenerateKey(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "Wrote %s and %s.pub\n", args[0], args[0])
			return nil
		},
	}
}

func (a *app) pack(dist string) error {
	cfg := a.cfg.Package

	res, err := packaging.Package(dist, cfg.Output,
		packaging.WithStrict(cfg.Strict),
		packaging.WithLogger(a.logger),
	)
	if err != nil {
		return err
	}
	if _, err := packaging.Validate(res.Path); err != nil {
		return err
	}

	if cfg.SignKey != "" {
		key, err := packaging.LoadPrivateKey(cfg.SignKey)
		if err != nil {
			return err
		}
		sigPath, err := packaging.Sign(res.Path, key)
		if err != nil {
			return err
		}
		if err := packaging.Verify(res.Path, sigPath, key.Public().(ed25519.PublicKey)); err != nil {
			return err
		}
		fmt.Fprintf(a.stdout, "Signed %s\n", sigPath)
	}

	for _, w := range res.Warnings {
		fmt.Fprintln(a.stderr, "Warning:", w)
	}
	fmt.Fprintf(a.stdout, "Packaged %s %s (%d files) into %s\n",
		res.Manifest.Name, res.Manifest.Version, len(res.Files), res.Path)
	return nil
}
