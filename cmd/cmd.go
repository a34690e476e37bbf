// submodule cmd contains command definitions
package main

import "github.com/urfave/cli/v3"

func formatFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Usage:   "Output format (text, markdown, csv, json)",
		Value:   "text",
	}
}

// setupCommand handles setup operations for the database and config file.
func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "setup",
		Usage: "Setup and configuration commands",
		Commands: []*cli.Command{
			{
				Name:   "database",
				Usage:  "Initialize database and run migrations",
				Action: r.SetupDatabase,
			},
			{
				Name:  "config",
				Usage: "Write the default configuration file",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Path of the file to create (defaults to --config)",
					},
				},
				Action: r.SetupConfig,
			},
		},
	}
}

// loginCommand signs in with the identity provider and opens a backend session.
func loginCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "login",
		Usage: "Sign in and validate the subscription",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "access-token",
				Usage: "Identity provider access token (skips the browser flow)",
			},
		},
		Action: r.Login,
	}
}

// logoutCommand disconnects and wipes the local session.
func logoutCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "logout",
		Usage:  "Disconnect, revoke the identity token and clear local state",
		Action: r.Logout,
	}
}

// statusCommand prints the connection state.
func statusCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "status",
		Usage:  "Show connection state, location and subscription",
		Flags:  []cli.Flag{formatFlag()},
		Action: r.Status,
	}
}

func connectCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "connect",
		Usage: "Connect through the selected location",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "id",
				Usage: "Connect through this location instead of the selection",
			},
		},
		Action: r.Connect,
	}
}

func disconnectCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "disconnect",
		Usage:  "Clear the proxy",
		Action: r.Disconnect,
	}
}

func toggleCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "toggle",
		Usage:  "Connect when disconnected, disconnect when connected",
		Action: r.Toggle,
	}
}

// locationsCommand manages the cached location directory and the selection.
func locationsCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "locations",
		Aliases: []string{"loc"},
		Usage:   "List and select proxy locations",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List cached locations",
				Flags: []cli.Flag{
					formatFlag(),
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Write the list to this file instead of stdout",
					},
				},
				Action: r.LocationsList,
			},
			{
				Name:   "refresh",
				Usage:  "Fetch the location directory from the backend",
				Flags:  []cli.Flag{formatFlag()},
				Action: r.LocationsRefresh,
			},
			{
				Name:  "check",
				Usage: "Request an address for every location and probe each through the proxy",
				Flags: []cli.Flag{
					formatFlag(),
					&cli.IntFlag{
						Name:  "workers",
						Usage: "Number of concurrent probes (max 10)",
						Value: 4,
					},
					&cli.FloatFlag{
						Name:  "rate",
						Usage: "Address requests per second",
						Value: 2,
					},
				},
				Action: r.LocationsCheck,
			},
			{
				Name:  "select",
				Usage: "Pin a location by id",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "id"},
				},
				Action: r.LocationsSelect,
			},
			{
				Name:   "smart",
				Usage:  "Let the client pick the location",
				Action: r.LocationsSmart,
			},
		},
	}
}

func entitlementCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "entitlement",
		Aliases: []string{"subscription"},
		Usage:   "Validate the subscription with the backend",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Output raw JSON",
			},
		},
		Action: r.Entitlement,
	}
}

func retryCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "retry",
		Usage:  "Reset the proxy and re-run the last failed operation",
		Action: r.Retry,
	}
}

func historyCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "Show recent connection outcomes",
		Flags: []cli.Flag{
			formatFlag(),
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Maximum number of events to show",
				Value: 20,
			},
			&cli.IntFlag{
				Name:  "prune-days",
				Usage: "Delete events older than this many days instead of listing",
			},
		},
		Action: r.History,
	}
}

// serveCommand runs the control API for presentation layers.
func serveCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the local control API",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "addr",
				Usage: "Listen address (defaults to [server] host:port)",
			},
		},
		Action: r.Serve,
	}
}

// tuiCommand returns the top-level TUI command.
func tuiCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "tui",
		Aliases: []string{"interactive", "ui"},
		Usage:   "Launch the interactive terminal UI",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "log-file",
				Usage: "File receiving logs while the UI runs",
				Value: "./tmp/evpn-tui.log",
			},
		},
		Action: r.TUI,
	}
}
