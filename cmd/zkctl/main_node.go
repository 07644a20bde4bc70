package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v2"
)

// call sends a request to the node and decodes the JSON answer into out.
func (g *cmdGlobal) call(ctx context.Context, method, endpoint string, out any) error {
	url := strings.TrimSuffix(g.flagNode, "/") + endpoint
	ctx, cancel := context.WithTimeout(ctx, g.flagTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, url)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return errors.Newf("%s %s: %s: %s", method, url, resp.Status, strings.TrimSpace(string(body)))
	}
	return json.Unmarshal(body, out)
}

func printYAML(w io.Writer, v any) error {
	out, err := yaml.Marshal(v)
	if err != nil {
		return err
	}
	_, err = w.Write(out)
	return err
}

type cmdStatus struct {
	global *cmdGlobal
}

func (c *cmdStatus) Command() *cobra.Command {
	cmd := &cobra.Command{}
	cmd.Use = "status"
	cmd.Short = "Show the reconciliation status of a node"
	cmd.Args = cobra.NoArgs
	cmd.RunE = c.Run
	return cmd
}

func (c *cmdStatus) Run(cmd *cobra.Command, _ []string) error {
	var st map[string]any
	if err := c.global.call(cmd.Context(), http.MethodGet, "/status", &st); err != nil {
		return err
	}
	return printYAML(cmd.OutOrStdout(), st)
}

type cmdDump struct {
	global *cmdGlobal
}

func (c *cmdDump) Command() *cobra.Command {
	cmd := &cobra.Command{}
	cmd.Use = "dump"
	cmd.Short = "Print every znode of the ensemble"
	cmd.Args = cobra.NoArgs
	cmd.RunE = c.Run
	return cmd
}

func (c *cmdDump) Run(cmd *cobra.Command, _ []string) error {
	var res struct {
		Content any `json:"content"`
	}
	if err := c.global.call(cmd.Context(), http.MethodPost, "/actions/dump-data", &res); err != nil {
		return err
	}
	return printYAML(cmd.OutOrStdout(), res.Content)
}

type cmdSeed struct {
	global *cmdGlobal
}

func (c *cmdSeed) Command() *cobra.Command {
	cmd := &cobra.Command{}
	cmd.Use = "seed"
	cmd.Short = "Write the test keys into the ensemble"
	cmd.Args = cobra.NoArgs
	cmd.RunE = c.Run
	return cmd
}

func (c *cmdSeed) Run(cmd *cobra.Command, _ []string) error {
	var res struct {
		Written map[string]string `json:"written"`
	}
	if err := c.global.call(cmd.Context(), http.MethodPost, "/actions/seed-data", &res); err != nil {
		return err
	}
	for p, v := range res.Written {
		fmt.Fprintf(cmd.OutOrStdout(), "%s=%s\n", p, v)
	}
	return nil
}
