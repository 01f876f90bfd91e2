package main

import (
	"context"
	"fmt"

	"github.com/dukex/procflow/pkg/cmd"
	"github.com/dukex/procflow/pkg/log"
	"github.com/dukex/procflow/pkg/persistence/memory"
	"github.com/dukex/procflow/pkg/services"
	"github.com/jonboulle/clockwork"
	cli "github.com/urfave/cli/v3"
)

// ValidateDefinitionsCommand checks definition files without starting the server.
func ValidateDefinitionsCommand() *cli.Command {
	return &cli.Command{
		Name:    "validate-definitions",
		Aliases: []string{"vd"},
		Usage:   "Validate the JSON and YAML workflow definitions of a directory",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "definitions-path",
				Usage:    "Directory of workflow definitions",
				Required: true,
				Sources:  cli.EnvVars("DEFINITIONS_PATH"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			logger := log.WithModule("validate")

			return validateDefinitions(ctx, command.String("definitions-path"), func(format string, args ...any) {
				_, _ = fmt.Fprintf(command.Root().Writer, format, args...)
			}, services.NewDefinitions(memory.NewPersistence(), clockwork.NewRealClock(), logger))
		},
	}
}

func validateDefinitions(_ context.Context, dir string, printf func(format string, args ...any), definitions *services.Definitions) error {
	parsed, files, err := cmd.ReadDefinitions(dir)
	if err != nil {
		return err
	}

	seen := make(map[string]string, len(files))
	invalid := 0

	for _, path := range files {
		definition := parsed[path]

		if first, ok := seen[definition.ID]; ok {
			printf("FAIL %s: definition id %q is already used by %s\n", path, definition.ID, first)

			invalid++

			continue
		}

		seen[definition.ID] = path

		if err := definitions.Validate(definition); err != nil {
			printf("FAIL %s: %v\n", path, err)

			invalid++

			continue
		}

		printf("ok   %s (%s, %d steps)\n", path, definition.ID, len(definition.Steps))
	}

	if invalid > 0 {
		return fmt.Errorf("%d of %d definitions are invalid", invalid, len(files))
	}

	return nil
}
