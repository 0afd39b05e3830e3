package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"
)

func newTxCmd(client func() *Client) *cobra.Command {
	var (
		sender string
		funds  string
	)
	cmd := &cobra.Command{
		Use:   "tx <contract> <msg-json|->",
		Short: "Execute a contract message",
		Long: `Submit an execute message to a contract. The message is a JSON document
given inline or read from stdin when "-" is passed, for example:

  mirrorctl tx mint '{"open_position":{...}}' --sender alice --funds 1000uusd`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			msg, err := readMsg(cmd.InOrStdin(), args[1])
			if err != nil {
				return err
			}
			if sender == "" {
				return fmt.Errorf("--sender is required")
			}
			res, err := client().Do(cmd.Context(), "POST", "/tx", map[string]any{
				"sender":   sender,
				"contract": args[0],
				"msg":      msg,
				"funds":    funds,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringVar(&sender, "sender", "", "transaction sender address")
	cmd.Flags().StringVar(&funds, "funds", "", "native coins sent along, e.g. 1000uusd,5uluna")
	return cmd
}

func newQueryCmd(client func() *Client) *cobra.Command {
	return &cobra.Command{
		Use:   "query <contract> <msg-json|->",
		Short: "Run a raw contract query",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			msg, err := readMsg(cmd.InOrStdin(), args[1])
			if err != nil {
				return err
			}
			res, err := client().Do(cmd.Context(), "POST", "/query/"+url.PathEscape(args[0]), msg)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
}

func newPositionCmd(client func() *Client) *cobra.Command {
	return &cobra.Command{
		Use:   "position <idx>",
		Short: "Show a position",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := strconv.ParseUint(args[0], 10, 64); err != nil {
				return fmt.Errorf("invalid position index %q", args[0])
			}
			res, err := client().Do(cmd.Context(), "GET", "/positions/"+args[0], nil)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
}

func newPositionsCmd(client func() *Client) *cobra.Command {
	var (
		owner, asset, order string
		startAfter          uint64
		limit               uint32
	)
	cmd := &cobra.Command{
		Use:   "positions",
		Short: "List positions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			q := url.Values{}
			if owner != "" {
				q.Set("owner", owner)
			}
			if asset != "" {
				q.Set("asset", asset)
			}
			if order != "" {
				q.Set("order_by", order)
			}
			if cmd.Flags().Changed("start-after") {
				q.Set("start_after", strconv.FormatUint(startAfter, 10))
			}
			if cmd.Flags().Changed("limit") {
				q.Set("limit", strconv.FormatUint(uint64(limit), 10))
			}
			path := "/positions"
			if len(q) > 0 {
				path += "?" + q.Encode()
			}
			res, err := client().Do(cmd.Context(), "GET", path, nil)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "filter by owner address")
	cmd.Flags().StringVar(&asset, "asset", "", "filter by minted asset token")
	cmd.Flags().StringVar(&order, "order", "", "asc or desc")
	cmd.Flags().Uint64Var(&startAfter, "start-after", 0, "page after this position index")
	cmd.Flags().Uint32Var(&limit, "limit", 0, "page size")
	return cmd
}

func newPriceCmd(client func() *Client) *cobra.Command {
	return &cobra.Command{
		Use:   "price <collateral>",
		Short: "Show a collateral's price in the base denom",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := client().Do(cmd.Context(), "GET", "/collaterals/"+url.PathEscape(args[0])+"/price", nil)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
}

func newBalanceCmd(client func() *Client) *cobra.Command {
	return &cobra.Command{
		Use:   "balance <address> <denom>",
		Short: "Show a native balance",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := client().Do(cmd.Context(), "GET",
				"/balances/"+url.PathEscape(args[0])+"/"+url.PathEscape(args[1]), nil)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
}

func newBlockCmd(client func() *Client) *cobra.Command {
	var (
		next    bool
		seconds int64
	)
	cmd := &cobra.Command{
		Use:   "block",
		Short: "Show the latest block, or produce one with --next",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var (
				res json.RawMessage
				err error
			)
			if next {
				res, err = client().Do(cmd.Context(), "POST", "/blocks", map[string]int64{"seconds": seconds})
			} else {
				res, err = client().Do(cmd.Context(), "GET", "/blocks/latest", nil)
			}
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().BoolVar(&next, "next", false, "advance the chain by one block")
	cmd.Flags().Int64Var(&seconds, "seconds", 0, "block time increment (default: the chain's interval)")
	return cmd
}

// readMsg returns arg as JSON, or stdin when arg is "-".
func readMsg(stdin io.Reader, arg string) (json.RawMessage, error) {
	data := []byte(arg)
	if arg == "-" {
		var err error
		if data, err = io.ReadAll(stdin); err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("message is not valid JSON")
	}
	return json.RawMessage(bytes.TrimSpace(data)), nil
}

func printJSON(w io.Writer, data json.RawMessage) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		_, err = w.Write(data)
		return err
	}
	buf.WriteByte('\n')
	_, err := buf.WriteTo(w)
	return err
}
