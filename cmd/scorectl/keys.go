package main

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/R3E-Network/sealed_scores/internal/app/domain/score"
	"github.com/R3E-Network/sealed_scores/internal/crypto/sealing"
	"github.com/R3E-Network/sealed_scores/internal/middleware"
)

// keyFile is the on-disk client identity. The public key doubles as the
// default owner id.
type keyFile struct {
	Private string `json:"private"`
	Public  string `json:"public"`
}

func (k keyFile) pair() (sealing.KeyPair, error) {
	raw, err := hex.DecodeString(k.Private)
	if err != nil || len(raw) != 32 {
		return sealing.KeyPair{}, fmt.Errorf("private key must be 64 hex characters")
	}
	var private [32]byte
	copy(private[:], raw)
	return sealing.KeyPairFromPrivate(private)
}

func loadKey(path string) (sealing.KeyPair, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return sealing.KeyPair{}, fmt.Errorf("read key file: %w (run scorectl keygen first)", err)
	}
	var kf keyFile
	if err := json.Unmarshal(data, &kf); err != nil {
		return sealing.KeyPair{}, fmt.Errorf("parse key file %s: %w", path, err)
	}
	return kf.pair()
}

func ownerOf(kp sealing.KeyPair, override string) (score.Owner, error) {
	if override != "" {
		return score.ParseOwner(override)
	}
	return score.Owner(kp.Public), nil
}

func keygenCmd(g *globalFlags) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate an x25519 client key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := os.Stat(g.keyPath); err == nil && !force {
				return fmt.Errorf("%s exists, pass --force to overwrite", g.keyPath)
			}
			kp, err := sealing.GenerateKeyPair(rand.Reader)
			if err != nil {
				return err
			}
			kf := keyFile{Private: hex.EncodeToString(kp.Private[:]), Public: hex.EncodeToString(kp.Public[:])}
			data, err := json.MarshalIndent(kf, "", "  ")
			if err != nil {
				return err
			}
			if err := os.WriteFile(g.keyPath, append(data, '\n'), 0o600); err != nil {
				return fmt.Errorf("write key file: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "owner %s\n", kf.Public)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing key file")
	return cmd
}

func tokenCmd() *cobra.Command {
	var (
		secret string
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token <owner>",
		Short: "Issue a bearer token for an owner (development servers)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				return fmt.Errorf("--secret is required")
			}
			owner, err := score.ParseOwner(args[0])
			if err != nil {
				return err
			}
			token, err := middleware.IssueToken([]byte(secret), owner.String(), ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&secret, "secret", os.Getenv("AUTH_JWT_SECRET"), "HMAC secret the server verifies with")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}
