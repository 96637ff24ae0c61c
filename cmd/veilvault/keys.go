// keys.go - Oracle key management and attestation commands.
package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"veilvault/internal/attest"
	"veilvault/internal/vault"
)

func keysCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage oracle secrets and attestation proving keys",
	}
	cmd.AddCommand(keysGenerateCmd(), keysSetupCmd())
	return cmd
}

func keysGenerateCmd() *cobra.Command {
	var out string
	var force bool
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate an oracle secret and print its public key",
		Long: `Generate a fresh oracle secret, store it hex encoded with 0600 permissions
and print the public oracle key to put in attestation.oracle_key.

WARNING: anyone holding the secret can attest arbitrary assets.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := os.Stat(out); err == nil && !force {
				return fmt.Errorf("oracle secret already exists at %s (use --force to overwrite)", out)
			}
			secret, err := attest.GenerateSecret()
			if err != nil {
				return err
			}
			key, err := attest.KeyOf(secret)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(out), 0o700); err != nil {
				return fmt.Errorf("failed to create secret directory: %w", err)
			}
			if err := os.WriteFile(out, []byte(hex.EncodeToString(secret)+"\n"), 0o600); err != nil {
				return fmt.Errorf("failed to write oracle secret: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "oracle secret: %s\noracle key:    %s\n", out, hex.EncodeToString(key))
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", "keys/oracle.secret", "where to write the oracle secret")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing secret")
	return cmd
}

func keysSetupCmd() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Compile the attestation circuit and generate or load its Groth16 keys",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if dir == "" {
				return errors.New("--dir is required")
			}
			start := time.Now()
			keys, err := attest.LoadKeys(dir)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "attestation keys ready in %s (%d constraints, %s)\n",
				dir, keys.CCS.GetNbConstraints(), time.Since(start).Round(time.Millisecond))
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "keys", "key directory")
	return cmd
}

func attestCmd() *cobra.Command {
	var secretFile, metadataFile, hash, keyDir string
	var timestamp int64
	cmd := &cobra.Command{
		Use:   "attest",
		Short: "Seal an RWA content hash as the oracle and print the proof as JSON",
		Example: `  veilvault attest --secret keys/oracle.secret --metadata deed.pdf > proof.json
  veilvault init --owner <hex> --shares 1000000000 --proof proof.json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			secret, err := readSecret(secretFile)
			if err != nil {
				return err
			}
			var digest []byte
			switch {
			case metadataFile != "":
				data, err := os.ReadFile(metadataFile)
				if err != nil {
					return fmt.Errorf("failed to read metadata: %w", err)
				}
				digest = attest.HashMetadata(data)
			case hash != "":
				var h vault.HexBytes
				if err := h.UnmarshalText([]byte(hash)); err != nil {
					return fmt.Errorf("--hash: %w", err)
				}
				digest = h
			default:
				return errors.New("either --metadata or --hash is required")
			}
			if timestamp == 0 {
				timestamp = time.Now().Unix()
			}

			keys, err := attest.LoadKeys(keyDir)
			if err != nil {
				return err
			}
			oracle, err := attest.NewOracle(keys, secret, nil)
			if err != nil {
				return err
			}
			proof, err := oracle.Attest(digest, timestamp)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), proof)
		},
	}
	cmd.Flags().StringVar(&secretFile, "secret", "keys/oracle.secret", "oracle secret file")
	cmd.Flags().StringVar(&metadataFile, "metadata", "", "asset metadata document to hash")
	cmd.Flags().StringVar(&hash, "hash", "", "precomputed content hash (hex, 32 bytes)")
	cmd.Flags().Int64Var(&timestamp, "timestamp", 0, "attestation time in unix seconds (default now)")
	cmd.Flags().StringVar(&keyDir, "key-dir", "keys", "attestation key directory")
	cmd.MarkFlagsMutuallyExclusive("metadata", "hash")
	return cmd
}

func readSecret(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read oracle secret: %w", err)
	}
	secret, err := hex.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("oracle secret is not hex: %w", err)
	}
	return secret, nil
}
