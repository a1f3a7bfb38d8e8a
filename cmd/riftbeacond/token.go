package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"RiftBeacon/internal/auth"
	"RiftBeacon/internal/config"
)

// newTokenCommand 为指定地址签发 API 访问令牌。
func newTokenCommand(configPath *string) *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token <address>",
		Short: "Mint a bearer token for an address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !common.IsHexAddress(args[0]) {
				return errors.New("address must be a 20-byte hex string")
			}
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			tokens, err := auth.NewTokenManager(cfg.JWT())
			if err != nil {
				return err
			}
			token, expiresAt, err := tokens.Issue(common.HexToAddress(args[0]), ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			cmd.PrintErrf("expires at %s\n", expiresAt.UTC().Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "令牌有效期，0 表示使用配置中的 auth.access_ttl")
	return cmd
}
