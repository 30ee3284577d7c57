package main

import (
	"fmt"

	"github.com/kardianos/service"
	"github.com/spf13/cobra"

	"github.com/flemzord/cronloop/pkg/app"
)

// program adapts the worker loop to the service manager's lifecycle.
type program struct {
	params app.RunParams
	errc   chan error
}

func (p *program) Start(service.Service) error {
	p.errc = make(chan error, 1)
	go func() { p.errc <- app.Run(p.params) }()
	return nil
}

func (p *program) Stop(service.Service) error {
	// app.Run exits on SIGTERM, which the service manager sends; there
	// is nothing to tear down here beyond waiting it out.
	select {
	case err := <-p.errc:
		return err
	default:
		return nil
	}
}

func serviceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:       "service {install|uninstall|start|stop|restart|run}",
		Short:     "Manage cronloop as a system service (systemd, launchd, SCM)",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"install", "uninstall", "start", "stop", "restart", "run"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath, _ := cmd.Flags().GetString("config")

			svcArgs := []string{"service", "run"}
			if cfgPath != "" {
				svcArgs = append(svcArgs, "--config", cfgPath)
			}
			svc, err := service.New(
				&program{params: app.RunParams{ConfigPath: cfgPath, Version: version}},
				&service.Config{
					Name:        "cronloop",
					DisplayName: "cronloop scheduler",
					Description: "Runs scheduled jobs with overlap locks and health reporting.",
					Arguments:   svcArgs,
				},
			)
			if err != nil {
				return err
			}

			action := args[0]
			if action == "run" {
				return svc.Run()
			}
			if err := service.Control(svc, action); err != nil {
				return err
			}
			fmt.Printf("Service %s: done.\n", action)
			return nil
		},
	}
	addConfigFlag(cmd)
	return cmd
}
