package cli

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"

	"github.com/aimoverse/aimo-gateway/pkg/auth"
	"github.com/aimoverse/aimo-gateway/pkg/wallet"
)

func newTokenCommand(env *Env) *Command {
	return &Command{
		Name:        "token",
		Description: "Mint, inspect and reissue credentials",
		Subcommands: map[string]*Command{
			"mint":    newMintCommand(env),
			"inspect": newInspectCommand(env),
			"reissue": newReissueCommand(env),
		},
	}
}

func newMintCommand(env *Env) *Command {
	cmd := &Command{
		Name:        "mint",
		Description: "Issue a credential for an identity",
		Flags:       flag.NewFlagSet("mint", flag.ContinueOnError),
	}
	kind := cmd.Flags.String("type", string(auth.IdentityEmail), "Identity type: wallet, email or invitation")
	value := cmd.Flags.String("value", "", "Wallet address, email address or invitation code")
	quota := cmd.Flags.Int("quota", 0, "Daily quota (0 means the configured default)")

	cmd.Run = func(ctx context.Context, args []string) error {
		identity, err := parseIdentity(*kind, *value)
		if err != nil {
			return err
		}
		issuer, err := env.Issuer()
		if err != nil {
			return err
		}
		token, claims, err := issuer.Issue(identity, nil, *quota)
		if err != nil {
			return err
		}
		env.Logger.WithField("subject", claims.Subject).WithField("jti", claims.JTI()).Info("Credential issued")
		fmt.Fprintln(env.Out, token)
		return nil
	}
	return cmd
}

func newInspectCommand(env *Env) *Command {
	cmd := &Command{
		Name:        "inspect",
		Description: "Validate a credential and print its claims",
		Flags:       flag.NewFlagSet("inspect", flag.ContinueOnError),
	}
	token := cmd.Flags.String("token", "", "Credential to inspect")

	cmd.Run = func(ctx context.Context, args []string) error {
		if *token == "" {
			return errors.New("-token is required")
		}
		issuer, err := env.Issuer()
		if err != nil {
			return err
		}
		claims, err := issuer.Validate(*token)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(env.Out)
		enc.SetIndent("", "  ")
		return enc.Encode(claims)
	}
	return cmd
}

// newReissueCommand does what POST /admin/update-quota does, without going
// through the HTTP server.
func newReissueCommand(env *Env) *Command {
	cmd := &Command{
		Name:        "reissue",
		Description: "Reissue a credential with a new quota and revoke the old one",
		Flags:       flag.NewFlagSet("reissue", flag.ContinueOnError),
	}
	token := cmd.Flags.String("token", "", "Credential to replace")
	quota := cmd.Flags.Int("quota", 0, "New daily quota")

	cmd.Run = func(ctx context.Context, args []string) error {
		if *token == "" {
			return errors.New("-token is required")
		}
		issuer, err := env.Issuer()
		if err != nil {
			return err
		}
		old, err := issuer.Validate(*token)
		if err != nil {
			return err
		}
		newToken, claims, err := issuer.Reissue(*token, *quota)
		if err != nil {
			return err
		}

		counter, err := env.Counter(ctx)
		if err != nil {
			return err
		}
		if err := counter.Reset(ctx, old.JTI()); err != nil {
			return err
		}
		if old.ExpiresAt != nil {
			if err := counter.Revoke(ctx, old.JTI(), old.ExpiresAt.Time); err != nil {
				return err
			}
		}

		env.Logger.WithFields(map[string]interface{}{
			"old_jti": old.JTI(),
			"new_jti": claims.JTI(),
			"quota":   claims.Quota,
		}).Info("Credential reissued")
		fmt.Fprintln(env.Out, newToken)
		return nil
	}
	return cmd
}

func parseIdentity(kind, value string) (auth.Identity, error) {
	var id auth.Identity
	switch auth.IdentityType(kind) {
	case auth.IdentityWallet:
		id = auth.WalletIdentity(wallet.NormalizeAddress(value))
	case auth.IdentityEmail:
		id = auth.EmailIdentity(value)
	case auth.IdentityInvitation:
		id = auth.InvitationIdentity(value)
	default:
		return id, fmt.Errorf("unknown identity type %q", kind)
	}
	if err := id.Validate(); err != nil {
		return id, err
	}
	return id, nil
}
