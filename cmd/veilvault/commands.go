// commands.go - Ledger commands: serve, fund, init, mint, burn, reattest, show, audit, derive.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"veilvault/internal/vault"
)

// proofFlags reads an oracle proof either from a JSON file or from individual flags.
type proofFlags struct {
	file      string
	hash      string
	timestamp int64
	seal      string
}

func (p *proofFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&p.file, "proof", "", "JSON file holding an oracle proof (as printed by 'veilvault attest')")
	cmd.Flags().StringVar(&p.hash, "hash", "", "RWA content hash (hex, 32 bytes)")
	cmd.Flags().Int64Var(&p.timestamp, "timestamp", 0, "attestation time in unix seconds (default now)")
	cmd.Flags().StringVar(&p.seal, "seal", "", "attestation seal (hex)")
}

func (p *proofFlags) given() bool {
	return p.file != "" || p.hash != ""
}

func (p *proofFlags) proof(now time.Time) (vault.OracleProof, error) {
	var proof vault.OracleProof
	if p.file != "" {
		data, err := os.ReadFile(p.file)
		if err != nil {
			return proof, fmt.Errorf("failed to read proof file: %w", err)
		}
		if err := json.Unmarshal(data, &proof); err != nil {
			return proof, fmt.Errorf("failed to decode proof file: %w", err)
		}
		return proof, nil
	}
	if p.hash == "" {
		return proof, errors.New("either --proof or --hash is required")
	}
	if err := proof.Hash.UnmarshalText([]byte(p.hash)); err != nil {
		return proof, fmt.Errorf("--hash: %w", err)
	}
	if p.seal != "" {
		if err := proof.Seal.UnmarshalText([]byte(p.seal)); err != nil {
			return proof, fmt.Errorf("--seal: %w", err)
		}
	}
	proof.Timestamp = p.timestamp
	if proof.Timestamp == 0 {
		proof.Timestamp = now.Unix()
	}
	return proof, nil
}

func serveCmd(withApp appRunner) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: withApp(func(cmd *cobra.Command, a *app) error {
			if addr != "" {
				a.cfg.HTTP.Addr = addr
			}
			return a.server().Run(cmd.Context())
		}),
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides http.addr)")
	return cmd
}

func fundCmd(withApp appRunner) *cobra.Command {
	var owner string
	var amount uint64
	cmd := &cobra.Command{
		Use:   "fund",
		Short: "Credit RWA tokens to an account on the reference token ledger",
		RunE: withApp(func(cmd *cobra.Command, a *app) error {
			id, err := vault.ParseIdentity(owner)
			if err != nil {
				return fmt.Errorf("--owner: %w", err)
			}
			if err := a.tokens.Fund(id, amount); err != nil {
				return err
			}
			if err := a.persist(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s balance: %d\n", id, a.tokens.Balance(id))
			return nil
		}),
	}
	cmd.Flags().StringVar(&owner, "owner", "", "account key (hex)")
	cmd.Flags().Uint64Var(&amount, "amount", 0, "amount in base units")
	cmd.MarkFlagRequired("owner")
	cmd.MarkFlagRequired("amount")
	return cmd
}

func initCmd(withApp appRunner) *cobra.Command {
	var owner string
	var shares uint64
	var pf proofFlags
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the vault of an owner",
		RunE: withApp(func(cmd *cobra.Command, a *app) error {
			id, err := vault.ParseIdentity(owner)
			if err != nil {
				return fmt.Errorf("--owner: %w", err)
			}
			proof, err := pf.proof(time.Now())
			if err != nil {
				return err
			}
			v, err := a.ledger.Initialize(cmd.Context(), vault.InitializeRequest{Owner: id, InitialShares: shares, Proof: proof})
			if err != nil {
				return err
			}
			if err := a.persist(); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), v)
		}),
	}
	cmd.Flags().StringVar(&owner, "owner", "", "owner account key (hex)")
	cmd.Flags().Uint64Var(&shares, "shares", 0, "initial shares")
	pf.register(cmd)
	cmd.MarkFlagRequired("owner")
	return cmd
}

func mintCmd(withApp appRunner) *cobra.Command {
	var vaultID, caller string
	var amount uint64
	var pf proofFlags
	cmd := &cobra.Command{
		Use:   "mint",
		Short: "Deposit RWA tokens and issue shares",
		Long: `Deposit RWA tokens into a vault and issue the same number of shares.

Without --proof or --hash the proof registered with the vault is re-checked.`,
		RunE: withApp(func(cmd *cobra.Command, a *app) error {
			req := vault.MintRequest{Amount: amount}
			var err error
			if req.Vault, err = vault.ParseID(vaultID); err != nil {
				return fmt.Errorf("--vault: %w", err)
			}
			if req.Caller, err = vault.ParseIdentity(caller); err != nil {
				return fmt.Errorf("--caller: %w", err)
			}
			if pf.given() {
				proof, err := pf.proof(time.Now())
				if err != nil {
					return err
				}
				req.Proof = &proof
			}
			v, err := a.ledger.MintShares(cmd.Context(), req)
			if err != nil {
				return err
			}
			if err := a.persist(); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), v)
		}),
	}
	cmd.Flags().StringVar(&vaultID, "vault", "", "vault id (hex)")
	cmd.Flags().StringVar(&caller, "caller", "", "caller account key (hex)")
	cmd.Flags().Uint64Var(&amount, "amount", 0, "shares to issue")
	pf.register(cmd)
	cmd.MarkFlagRequired("vault")
	cmd.MarkFlagRequired("caller")
	return cmd
}

func burnCmd(withApp appRunner) *cobra.Command {
	var vaultID, caller string
	var amount uint64
	cmd := &cobra.Command{
		Use:   "burn",
		Short: "Redeem shares for RWA tokens",
		RunE: withApp(func(cmd *cobra.Command, a *app) error {
			req := vault.BurnRequest{Amount: amount}
			var err error
			if req.Vault, err = vault.ParseID(vaultID); err != nil {
				return fmt.Errorf("--vault: %w", err)
			}
			if req.Caller, err = vault.ParseIdentity(caller); err != nil {
				return fmt.Errorf("--caller: %w", err)
			}
			v, err := a.ledger.BurnShares(cmd.Context(), req)
			if err != nil {
				return err
			}
			if err := a.persist(); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), v)
		}),
	}
	cmd.Flags().StringVar(&vaultID, "vault", "", "vault id (hex)")
	cmd.Flags().StringVar(&caller, "caller", "", "share holder account key (hex)")
	cmd.Flags().Uint64Var(&amount, "amount", 0, "shares to redeem")
	cmd.MarkFlagRequired("vault")
	cmd.MarkFlagRequired("caller")
	return cmd
}

func reattestCmd(withApp appRunner) *cobra.Command {
	var vaultID, caller string
	var pf proofFlags
	cmd := &cobra.Command{
		Use:   "reattest",
		Short: "Register a fresher oracle proof with a vault",
		RunE: withApp(func(cmd *cobra.Command, a *app) error {
			req := vault.ReattestRequest{}
			var err error
			if req.Vault, err = vault.ParseID(vaultID); err != nil {
				return fmt.Errorf("--vault: %w", err)
			}
			if req.Caller, err = vault.ParseIdentity(caller); err != nil {
				return fmt.Errorf("--caller: %w", err)
			}
			if req.Proof, err = pf.proof(time.Now()); err != nil {
				return err
			}
			v, err := a.ledger.Reattest(cmd.Context(), req)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), v)
		}),
	}
	cmd.Flags().StringVar(&vaultID, "vault", "", "vault id (hex)")
	cmd.Flags().StringVar(&caller, "caller", "", "vault authority account key (hex)")
	pf.register(cmd)
	cmd.MarkFlagRequired("vault")
	cmd.MarkFlagRequired("caller")
	return cmd
}

func showCmd(withApp appRunner) *cobra.Command {
	var vaultID, owner string
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print a vault by id or by owner",
		RunE: withApp(func(cmd *cobra.Command, a *app) error {
			var (
				v   vault.Vault
				err error
			)
			switch {
			case vaultID != "":
				id, perr := vault.ParseID(vaultID)
				if perr != nil {
					return fmt.Errorf("--vault: %w", perr)
				}
				v, err = a.ledger.Fetch(cmd.Context(), vault.FetchRequest{Vault: id})
			case owner != "":
				id, perr := vault.ParseIdentity(owner)
				if perr != nil {
					return fmt.Errorf("--owner: %w", perr)
				}
				v, err = a.ledger.FetchByOwner(cmd.Context(), id)
			default:
				return errors.New("either --vault or --owner is required")
			}
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), v)
		}),
	}
	cmd.Flags().StringVar(&vaultID, "vault", "", "vault id (hex)")
	cmd.Flags().StringVar(&owner, "owner", "", "owner account key (hex)")
	cmd.MarkFlagsMutuallyExclusive("vault", "owner")
	return cmd
}

func auditCmd(withApp appRunner) *cobra.Command {
	return &cobra.Command{
		Use:   "audit",
		Short: "Check share conservation for every vault",
		RunE: withApp(func(cmd *cobra.Command, a *app) error {
			reports, err := a.auditor.AuditAll(cmd.Context())
			if reports != nil {
				if perr := printJSON(cmd.OutOrStdout(), reports); perr != nil {
					return perr
				}
			}
			return err
		}),
	}
}

func deriveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "derive <owner>",
		Short: "Print the vault id derived from an owner account key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := vault.ParseIdentity(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), vault.Derive(owner))
			return nil
		},
	}
}
