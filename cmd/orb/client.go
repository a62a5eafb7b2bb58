// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/luxfi/orb"
)

const defaultAdminURL = "http://localhost:3031/admin"

func namesCmd() *cobra.Command {
	var adminURL string
	cmd := &cobra.Command{
		Use:   "names",
		Short: "List the names bound in a daemon's registry",
		RunE: func(cmd *cobra.Command, _ []string) error {
			names, err := orb.NewAdminClient(adminURL, nil).Names(cmd.Context())
			if err != nil {
				return err
			}
			for _, name := range names {
				fmt.Println(name)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&adminURL, "admin", defaultAdminURL, "admin endpoint of the daemon")
	return cmd
}

func statusCmd() *cobra.Command {
	var adminURL string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the status of a daemon",
		RunE: func(cmd *cobra.Command, _ []string) error {
			status, err := orb.NewAdminClient(adminURL, nil).Status(cmd.Context())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(status)
		},
	}
	cmd.Flags().StringVar(&adminURL, "admin", defaultAdminURL, "admin endpoint of the daemon")
	return cmd
}

// pingCmd looks up the echo service of a daemon and calls it.
func pingCmd() *cobra.Command {
	var (
		props    map[string]string
		user     string
		password string
		name     string
		message  string
		timeout  time.Duration
		verbose  bool
	)
	cmd := &cobra.Command{
		Use:   "ping <uri>",
		Short: "Call the echo service bound in a daemon",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := zap.NewNop()
			if verbose {
				var err error
				if logger, err = zap.NewDevelopment(); err != nil {
					return err
				}
			}
			client, err := orb.New(orb.Properties(props), orb.WithLogger(logger))
			if err != nil {
				return err
			}
			defer client.Shutdown()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			p := orb.Properties{orb.PropProviderURI: args[0]}
			if user != "" {
				p.Set(orb.PropPrincipal, user)
				p.Set(orb.PropCredentials, password)
			}
			registry, err := client.GetRegistry(ctx, p)
			if err != nil {
				return err
			}
			echo, err := registry.Lookup(ctx, name)
			if err != nil {
				return err
			}
			start := time.Now()
			var reply string
			if err := echo.Call(ctx, "EchoString", &reply, message); err != nil {
				return err
			}
			fmt.Printf("%s from %s in %s\n", reply, echo.URI(), time.Since(start))
			return nil
		},
	}
	cmd.Flags().StringToStringVarP(&props, "prop", "D", nil, "ORB property, e.g. -D orb.net.tls.trustStore=ca.pem")
	cmd.Flags().StringVarP(&user, "user", "u", "", "principal to connect as")
	cmd.Flags().StringVarP(&password, "password", "p", "", "credentials of the principal")
	cmd.Flags().StringVar(&name, "name", "echo", "registry name of the echo service")
	cmd.Flags().StringVarP(&message, "message", "m", "ping", "message to echo")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "overall timeout")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log connection activity")
	return cmd
}
