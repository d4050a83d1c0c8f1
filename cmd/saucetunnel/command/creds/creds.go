package creds

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/alpacax/saucetunnel/cmd/saucetunnel/command/setup"
	"github.com/alpacax/saucetunnel/pkg/credentials"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var CredentialsCmd = &cobra.Command{
	Use:   "credentials",
	Short: "Manage stored Sauce Labs credentials",
}

var addOpts struct {
	username     string
	dataCenter   string
	restEndpoint string
	description  string
	keyStdin     bool
}

var addCmd = &cobra.Command{
	Use:   "add ID",
	Short: "Store or update credentials",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		accessKey, err := readAccessKey(cmd.InOrStdin())
		if err != nil {
			return err
		}
		return withStore(cmd.Context(), func(ctx context.Context, store *credentials.Store) error {
			err := store.Add(ctx, &credentials.Credentials{
				ID:           args[0],
				Username:     addOpts.username,
				AccessKey:    accessKey,
				DataCenter:   addOpts.dataCenter,
				RestEndpoint: addOpts.restEndpoint,
				Description:  addOpts.description,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Stored credentials %s.\n", args[0])
			return nil
		})
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored credentials",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(ctx context.Context, store *credentials.Store) error {
			list, err := store.List(ctx)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tUSERNAME\tENDPOINT\tDESCRIPTION")
			for _, c := range list {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", c.ID, c.Username, c.Endpoint(), c.Description)
			}
			return w.Flush()
		})
	},
}

var removeCmd = &cobra.Command{
	Use:   "remove ID",
	Short: "Delete stored credentials",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(ctx context.Context, store *credentials.Store) error {
			if err := store.Remove(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed credentials %s.\n", args[0])
			return nil
		})
	},
}

var usageCmd = &cobra.Command{
	Use:   "usage ID",
	Short: "Show the runs that used credentials",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(ctx context.Context, store *credentials.Store) error {
			usage, err := store.Usage(ctx, args[0])
			if err != nil {
				return err
			}
			for _, u := range usage {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", u.UsedAt.Format("2006-01-02 15:04:05"), u.Run)
			}
			return nil
		})
	},
}

func init() {
	flags := addCmd.Flags()
	flags.StringVarP(&addOpts.username, "username", "u", "", "Sauce Labs username")
	flags.StringVar(&addOpts.dataCenter, "data-center", "", fmt.Sprintf("data center (%s)", strings.Join(credentials.DataCenters(), ", ")))
	flags.StringVar(&addOpts.restEndpoint, "rest-endpoint", "", "REST endpoint, overrides the data center")
	flags.StringVar(&addOpts.description, "description", "", "free text description")
	flags.BoolVar(&addOpts.keyStdin, "access-key-stdin", false, "read the access key from stdin")
	_ = addCmd.MarkFlagRequired("username")

	CredentialsCmd.AddCommand(addCmd, listCmd, removeCmd, usageCmd)
}

func withStore(ctx context.Context, fn func(context.Context, *credentials.Store) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	store, closeStore, err := setup.OpenStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()
	return fn(ctx, store)
}

func readAccessKey(in io.Reader) (string, error) {
	if addOpts.keyStdin {
		line, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && err != io.EOF {
			return "", err
		}
		return strings.TrimSpace(line), nil
	}

	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("no terminal to prompt for the access key, use --access-key-stdin")
	}
	fmt.Fprint(os.Stderr, "Access key: ")
	key, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(key)), nil
}
