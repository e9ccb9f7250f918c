package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/HaPhanBaoMinh/kinsight/internal/config"
	"github.com/HaPhanBaoMinh/kinsight/internal/domain"
	kk "github.com/HaPhanBaoMinh/kinsight/internal/infrastructure/k8s"
	"github.com/HaPhanBaoMinh/kinsight/internal/infrastructure/mock"
	"github.com/HaPhanBaoMinh/kinsight/internal/logging"
)

// These variables are set during build time via -ldflags
var (
	version   = "n/a"
	gitCommit = "n/a"
	buildTime = "n/a"
)

// flags holds every command-line override. Only flags the user actually set
// replace values from the config file.
type flags struct {
	configPath string
	debug      bool
	kubeconfig string
	context    string
	mock       bool

	addr     string
	interval time.Duration

	endpoint      string
	autoReconnect bool
	logFile       string
}

func newRootCmd() *cobra.Command {
	f := &flags{}
	root := &cobra.Command{
		Use:   "kinsight",
		Short: "Live resource insight for Kubernetes clusters",
		Long: `kinsight collects cluster, node and pod resource snapshots and streams them
over server-sent events ("kinsight serve"). "kinsight dashboard" consumes the
stream in the terminal and recommends request and limit changes.`,
		SilenceUsage: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&f.configPath, "config", "", "Path to a YAML config file")
	pf.BoolVar(&f.debug, "debug", false, "Enable debug logging")

	root.AddCommand(newServeCmd(f), newDashboardCmd(f), newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "kinsight")
			fmt.Fprintf(out, "Version: %s\n", version)
			fmt.Fprintf(out, "Git commit: %s\n", gitCommit)
			fmt.Fprintf(out, "Build time: %s\n", buildTime)
		},
	}
}

// loadConfig reads the config file, then applies the flags that were set.
func loadConfig(cmd *cobra.Command, f *flags) (*config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, err
	}

	cmd.Flags().Visit(func(fl *pflag.Flag) {
		switch fl.Name {
		case "debug":
			cfg.Debug = f.debug
		case "kubeconfig":
			cfg.Kube.Kubeconfig = f.kubeconfig
		case "context":
			cfg.Kube.Context = f.context
		case "mock":
			cfg.Kube.Mock = f.mock
		case "addr":
			cfg.Server.Addr = f.addr
		case "interval":
			cfg.Server.Interval = metav1.Duration{Duration: f.interval}
		case "endpoint":
			cfg.Dashboard.Endpoint = f.endpoint
		case "auto-reconnect":
			cfg.Dashboard.AutoReconnect = f.autoReconnect
		case "log-file":
			cfg.Dashboard.LogFile = f.logFile
		}
	})

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Debug {
		logging.EnableDebugMessages()
	}
	return cfg, nil
}

func newRepo(cfg *config.Config) (domain.OverviewRepo, error) {
	if cfg.Kube.Mock {
		logging.Info("Using the mock cluster")
		return mock.New(), nil
	}
	repo, err := kk.New(cfg.Kube.Kubeconfig, cfg.Kube.Context)
	if err != nil {
		return nil, err
	}
	if cfg.Kube.Context != "" {
		logging.Info("Using Kubernetes context from flags: %s", cfg.Kube.Context)
	}
	return repo, nil
}
