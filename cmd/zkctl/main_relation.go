package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
)

type cmdRelate struct {
	global *cmdGlobal

	flagLeave bool
}

func (c *cmdRelate) Command() *cobra.Command {
	cmd := &cobra.Command{}
	cmd.Use = "relate <consumer>"
	cmd.Short = "Join a consumer to the client relation"
	cmd.Args = cobra.ExactArgs(1)
	cmd.RunE = c.Run
	cmd.Flags().BoolVar(&c.flagLeave, "leave", false, "Remove the consumer instead")
	return cmd
}

func (c *cmdRelate) Run(cmd *cobra.Command, args []string) error {
	pub, cli, err := c.global.publisher()
	if err != nil {
		return err
	}
	defer cli.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), c.global.flagTimeout)
	defer cancel()

	if c.flagLeave {
		return pub.Leave(ctx, args[0])
	}
	return pub.Join(ctx, args[0])
}

type cmdEndpoints struct {
	global *cmdGlobal
}

func (c *cmdEndpoints) Command() *cobra.Command {
	cmd := &cobra.Command{}
	cmd.Use = "endpoints"
	cmd.Short = "Show the client endpoints published on the relation"
	cmd.Args = cobra.NoArgs
	cmd.RunE = c.Run
	return cmd
}

func (c *cmdEndpoints) Run(cmd *cobra.Command, _ []string) error {
	pub, cli, err := c.global.publisher()
	if err != nil {
		return err
	}
	defer cli.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), c.global.flagTimeout)
	defer cancel()

	ep, ok, err := pub.Read(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("no endpoints published yet")
	}
	fmt.Fprintf(cmd.OutOrStdout(), "ingress-addresses: %s\nclient-port: %s\n", strings.Join(ep.Addresses, ","), ep.Port)
	return nil
}
