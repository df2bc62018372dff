package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/jonboulle/clockwork"
	"github.com/phixarhasse/musikhjaelpen-alert/internal/adapter/hue"
	"github.com/phixarhasse/musikhjaelpen-alert/internal/platform/retry"
	"github.com/phixarhasse/musikhjaelpen-alert/internal/platform/version"
	"github.com/spf13/cobra"
)

const deviceType = "musikhjaelpen_alert#huectl"

type options struct {
	bridge   string
	appKey   string
	group    string
	insecure bool
	clock    clockwork.Clock
}

func (o *options) requireBridge() error {
	if o.bridge == "" {
		return errors.New("--bridge or HUE_BRIDGE_IP is required")
	}
	return nil
}

func (o *options) client() (*hue.Client, error) {
	if err := o.requireBridge(); err != nil {
		return nil, err
	}
	if o.appKey == "" {
		return nil, errors.New("--app-key or HUE_APPKEY is required, run 'huectl pair' first")
	}
	return hue.NewClient(hue.Config{
		BridgeIP:    o.bridge,
		AppKey:      o.appKey,
		GroupID:     o.group,
		InsecureTLS: o.insecure,
	}, nil), nil
}

func newRootCmd(clock clockwork.Clock) *cobra.Command {
	opts := &options{clock: clock}

	cmd := &cobra.Command{
		Use:           "huectl",
		Short:         "Manage the Hue bridge used for donation light effects",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.bridge, "bridge", os.Getenv("HUE_BRIDGE_IP"), "Bridge address (env HUE_BRIDGE_IP)")
	cmd.PersistentFlags().StringVar(&opts.appKey, "app-key", os.Getenv("HUE_APPKEY"), "Application key (env HUE_APPKEY)")
	cmd.PersistentFlags().StringVar(&opts.group, "group", envOr("HUE_GROUP_ID", hue.DefaultGroupID), "Group flashed by effects (env HUE_GROUP_ID)")
	cmd.PersistentFlags().BoolVar(&opts.insecure, "insecure", envBool("HUE_INSECURE_TLS", true), "Skip bridge certificate verification (env HUE_INSECURE_TLS)")

	cmd.AddCommand(newPairCmd(opts))
	cmd.AddCommand(newLightsCmd(opts))
	cmd.AddCommand(newEffectCmd(opts))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func newPairCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "pair",
		Short: "Create an application key (press the bridge link button first)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := opts.requireBridge(); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Press the link button on the bridge at %s...\n", opts.bridge)

			policy := retry.Policy{
				MaxAttempts: int(hue.PairTimeout / hue.PairPollInterval),
				Backoff: retry.BackoffPolicy{
					Initial:    hue.PairPollInterval,
					Max:        hue.PairPollInterval,
					Multiplier: 1,
				},
			}
			classify := func(err error) retry.Action {
				if errors.Is(err, hue.ErrLinkButtonNotPressed) {
					return retry.Retry
				}
				return retry.Stop
			}

			res, err := retry.Do(cmd.Context(), opts.clock, policy, classify, func() (hue.PairResult, error) {
				return hue.Pair(cmd.Context(), opts.bridge, deviceType, opts.insecure)
			})
			if err != nil {
				return fmt.Errorf("pairing: %w", err)
			}

			fmt.Fprintln(out, "Paired. Add to your environment:")
			fmt.Fprintf(out, "HUE_APPKEY=%s\n", res.AppKey)
			if res.ClientKey != "" {
				fmt.Fprintf(out, "HUE_CLIENTKEY=%s\n", res.ClientKey)
			}
			return nil
		},
	}
}

func newLightsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "lights",
		Short: "List the lights known to the bridge",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			lights, err := client.Lights(cmd.Context())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME")
			for _, l := range lights {
				fmt.Fprintf(w, "%s\t%s\n", l.ID, l.Name)
			}
			return w.Flush()
		},
	}
}

func newEffectCmd(opts *options) *cobra.Command {
	names := make([]string, 0, len(hue.Effects()))
	for _, e := range hue.Effects() {
		names = append(names, string(e))
	}

	return &cobra.Command{
		Use:       "effect <name>",
		Short:     "Play one effect on every light",
		Long:      "Play one effect on every light. Effects: " + strings.Join(names, ", "),
		Args:      cobra.ExactArgs(1),
		ValidArgs: names,
		RunE: func(cmd *cobra.Command, args []string) error {
			effect, err := hue.ParseEffect(args[0])
			if err != nil {
				return err
			}
			client, err := opts.client()
			if err != nil {
				return err
			}

			trigger := hue.NewTrigger(client, nil, opts.clock)
			if err := trigger.Connect(cmd.Context()); err != nil {
				return err
			}
			defer func() { _ = trigger.Close() }()

			fmt.Fprintf(cmd.OutOrStdout(), "Playing %s on %d lights\n", effect, len(trigger.Lights()))
			return hue.RunEffect(cmd.Context(), trigger, opts.clock, effect)
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.Get().String())
		},
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return v
}
