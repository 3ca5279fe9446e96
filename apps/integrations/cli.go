package integrations

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/getevo/evo/v2/lib/args"
	"github.com/getevo/evo/v2/lib/log"
)

// RunCommands handles the maintenance flags:
//
//	--sync-validate <link id>
//	--sync-pull <link id>
//	--sync-resources <connection id>
//	--sync-disconnect <connection id>
//	--sync-show <connection id>
//	--sync-list
//
// Each command prints its result as JSON and exits.
func RunCommands(service *Service) error {
	ctx := context.Background()
	var (
		result any
		err    error
	)
	switch {
	case args.Get("--sync-validate") != "":
		err = service.Validate(ctx, args.Get("--sync-validate"))
		result = map[string]bool{"valid": err == nil}
	case args.Get("--sync-pull") != "":
		result, err = service.Pull(ctx, args.Get("--sync-pull"))
	case args.Get("--sync-resources") != "":
		result, err = service.Resources(ctx, args.Get("--sync-resources"))
	case args.Get("--sync-disconnect") != "":
		result, err = service.Disconnect(ctx, args.Get("--sync-disconnect"))
	case args.Get("--sync-show") != "":
		var (
			conn   any
			config map[string]any
		)
		id := args.Get("--sync-show")
		conn, config, err = service.Describe(ctx, id)
		var state string
		if err == nil {
			state, err = service.CredentialState(ctx, id)
			if errors.Is(err, ErrConnectionDisabled) {
				err = nil
			}
		}
		result = map[string]any{"connection": conn, "config": config, "credentialState": state}
	case args.Exists("--sync-list"):
		result, err = service.Connections(ctx)
	default:
		return nil
	}

	if err != nil {
		log.Error("Sync command failed: %v", err)
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	out, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(out))
	os.Exit(0)
	return nil
}
