package main

import (
	"fmt"
	"io"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/HaPhanBaoMinh/kinsight/internal/app"
	"github.com/HaPhanBaoMinh/kinsight/internal/logging"
	"github.com/HaPhanBaoMinh/kinsight/internal/session"
)

func newDashboardCmd(f *flags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Watch a kinsight stream in the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, f)
			if err != nil {
				return err
			}

			// The dashboard owns the terminal; logs go to a file or nowhere.
			logOut := io.Discard
			if cfg.Dashboard.LogFile != "" {
				lf, err := os.OpenFile(cfg.Dashboard.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
				if err != nil {
					return fmt.Errorf("open log file: %w", err)
				}
				defer lf.Close()
				logOut = lf
			}
			logging.SetOutput(logOut)
			defer logging.SetOutput(os.Stderr)

			sess := session.New(cfg.Dashboard.Endpoint)
			defer sess.Stop()

			opts := app.DefaultOptions()
			opts.AutoReconnect = cfg.Dashboard.AutoReconnect
			p := tea.NewProgram(app.New(sess, opts), tea.WithAltScreen())
			sess.Subscribe(app.Listener(p.Send))

			if _, err := p.Run(); err != nil {
				return fmt.Errorf("dashboard: %w", err)
			}
			return nil
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&f.endpoint, "endpoint", "", "Stream URL (default http://localhost:3000/api/overview/stream)")
	fl.BoolVar(&f.autoReconnect, "auto-reconnect", true, "Reconnect with exponential backoff when the stream drops")
	fl.StringVar(&f.logFile, "log-file", "", "Write logs to this file while the dashboard runs")
	return cmd
}
