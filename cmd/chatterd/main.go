// chatterd is a daemon that manages accounts on instant-messaging networks
// and exposes a line-oriented control protocol to a local client over TCP
// or a unix domain socket. The generic core (protocol server, command
// dispatcher, account registry, session workers) is network-agnostic; a
// backend adapter wires in the operations one IM protocol supports. This
// build ships the loopback "echo" adapter.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mfriedr/chatterd/internal/config"
)

const version = "0.1.0"

func main() {
	v := viper.New()
	config.SetDefaults(v)

	rootCmd := &cobra.Command{
		Use:           "chatterd",
		Short:         "IM account daemon speaking a line-oriented control protocol",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}
			return runDaemon(cfg, v)
		},
	}

	flags := rootCmd.Flags()
	flags.String("network", "tcp", `listen transport: "tcp" or "unix"`)
	flags.String("address", "localhost", "TCP listen address")
	flags.Int("port", 32000, "TCP listen port")
	flags.String("socket", "chatterd.sock", "unix socket file in the state directory")
	flags.String("dir", "chatterd", "state directory")
	flags.String("log-level", "info", "log level: debug, info, warn, error")

	must(v.BindPFlag("listen.network", flags.Lookup("network")))
	must(v.BindPFlag("listen.address", flags.Lookup("address")))
	must(v.BindPFlag("listen.port", flags.Lookup("port")))
	must(v.BindPFlag("listen.socket", flags.Lookup("socket")))
	must(v.BindPFlag("dir", flags.Lookup("dir")))
	must(v.BindPFlag("logging.level", flags.Lookup("log-level")))

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the chatterd version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "chatterd", version)
		},
	})

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "chatterd:", err)
		os.Exit(1)
	}
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}
