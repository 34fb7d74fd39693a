package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

// clientFlags are shared by the subcommands that talk to a running
// instance.
type clientFlags struct {
	addr string
}

func (c *clientFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&c.addr, "addr", "http://localhost:8080", "base URL of the running server")
}

func departuresCmd() *cobra.Command {
	var flags clientFlags
	var limit int
	var route string
	var verbose bool

	cmd := &cobra.Command{
		Use:   "departures <stop-id>",
		Short: "Query the departure board of a stop",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			if limit > 0 {
				q.Set("limit", strconv.Itoa(limit))
			}
			if route != "" {
				q.Set("route", route)
			}
			if verbose {
				q.Set("verbose", "true")
			}
			target := flags.addr + "/api/stops/" + url.PathEscape(args[0]) + "/departures"
			if len(q) > 0 {
				target += "?" + q.Encode()
			}
			return fetchJSON(cmd.Context(), http.MethodGet, target, nil)
		},
	}
	flags.register(cmd)
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum departures to return")
	cmd.Flags().StringVar(&route, "route", "", "filter by route ID")
	cmd.Flags().BoolVar(&verbose, "verbose", false, "include alerts and typical delays")
	return cmd
}

func planCmd() *cobra.Command {
	var flags clientFlags
	var depTime string
	var maxTransfers, maxAlternatives int

	cmd := &cobra.Command{
		Use:   "plan <from-stop> <to-stop>",
		Short: "Plan a journey between two stops",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			q.Set("from", args[0])
			q.Set("to", args[1])
			if depTime != "" {
				q.Set("time", depTime)
			}
			if maxTransfers > 0 {
				q.Set("maxTransfers", strconv.Itoa(maxTransfers))
			}
			if maxAlternatives > 0 {
				q.Set("maxAlternatives", strconv.Itoa(maxAlternatives))
			}
			return fetchJSON(cmd.Context(), http.MethodGet, flags.addr+"/api/plan?"+q.Encode(), nil)
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&depTime, "time", "", "departure time as HH:MM (default: now)")
	cmd.Flags().IntVar(&maxTransfers, "max-transfers", 0, "transfer limit (default 3, max 5)")
	cmd.Flags().IntVar(&maxAlternatives, "max-alternatives", 0, "alternative journeys to return")
	return cmd
}

func reloadCmd() *cobra.Command {
	var flags clientFlags
	var token string

	cmd := &cobra.Command{
		Use:   "reload",
		Short: "Rebuild the server's schedule snapshot from the database",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if token == "" {
				token = os.Getenv("ADMIN_TOKEN")
			}
			if token == "" {
				return fmt.Errorf("admin token required (--token or ADMIN_TOKEN)")
			}
			headers := map[string]string{"X-Admin-Token": token}
			return fetchJSON(cmd.Context(), http.MethodPost, flags.addr+"/admin/reload", headers)
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&token, "token", "", "admin token (defaults to ADMIN_TOKEN)")
	return cmd
}

// fetchJSON performs one request and pretty-prints the JSON response to
// stdout. Non-2xx statuses become errors carrying the response body.
func fetchJSON(ctx context.Context, method, target string, headers map[string]string) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s: %s", resp.Status, string(body))
	}

	var pretty json.RawMessage = body
	out, err := json.MarshalIndent(pretty, "", "  ")
	if err != nil {
		// Not JSON; print as-is.
		fmt.Println(string(body))
		return nil
	}
	fmt.Println(string(out))
	return nil
}
