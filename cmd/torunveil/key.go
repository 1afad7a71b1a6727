package main

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/latebit/torunveil/internal/assess"
	"github.com/latebit/torunveil/internal/keys"
)

func (a *app) keyCmd() *cobra.Command {
	var provider string
	cmd := &cobra.Command{
		Use:   "key",
		Short: "Manage API keys for node assessments",
	}
	cmd.PersistentFlags().StringVarP(&provider, "provider", "p", assess.Provider, "provider the key belongs to")

	set := &cobra.Command{
		Use:   "set [KEY]",
		Short: "Store an API key (reads stdin when KEY is omitted)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var key string
			if len(args) == 1 {
				key = args[0]
			} else {
				fmt.Fprintf(cmd.ErrOrStderr(), "  Enter key for %s: ", brand.Sprint(provider))
				line, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				key = line
			}
			key = strings.TrimSpace(key)
			if key == "" {
				return errors.New("empty key, nothing stored")
			}
			store, err := a.keyStore()
			if err != nil {
				return err
			}
			if err := store.Set(provider, key); err != nil {
				return err
			}
			good.Fprintf(cmd.OutOrStdout(), "  %s %s key stored (%s)\n", statusIcon(true), provider, keys.Mask(key))
			return nil
		},
	}

	var reveal bool
	show := &cobra.Command{
		Use:   "show",
		Short: "Show the stored key, masked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.keyStore()
			if err != nil {
				return err
			}
			key := store.Get(provider)
			if key == "" {
				return fmt.Errorf("no key stored for %s", provider)
			}
			if !reveal {
				key = keys.Mask(key)
			}
			fmt.Fprintln(cmd.OutOrStdout(), key)
			return nil
		},
	}
	show.Flags().BoolVar(&reveal, "reveal", false, "print the key unmasked")

	list := &cobra.Command{
		Use:   "list",
		Short: "List providers with a stored key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.keyStore()
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			providers := store.Providers()
			if len(providers) == 0 {
				fmt.Fprintln(w, "  No API keys stored.")
				fmt.Fprintln(w, "  Run `torunveil key set` to add one")
				return nil
			}
			for _, p := range providers {
				fmt.Fprintf(w, "  %s  %s\n", brand.Sprintf("%-12s", p), subtle.Sprint(keys.Mask(store.Get(p))))
			}
			return nil
		},
	}

	remove := &cobra.Command{
		Use:     "remove",
		Aliases: []string{"rm"},
		Short:   "Delete the stored key",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.keyStore()
			if err != nil {
				return err
			}
			if err := store.Remove(provider); err != nil {
				return err
			}
			good.Fprintf(cmd.OutOrStdout(), "  %s %s key removed\n", statusIcon(true), provider)
			return nil
		},
	}

	cmd.AddCommand(set, show, list, remove)
	return cmd
}
