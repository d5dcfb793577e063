package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/jacksonlee411/loanportal/internal/config"
	"github.com/jacksonlee411/loanportal/internal/routing"
	"github.com/jacksonlee411/loanportal/modules/lending/services"
	"github.com/jacksonlee411/loanportal/pkg/authz"
	"github.com/jacksonlee411/loanportal/pkg/pgrest"
)

func newCheckConfigCmd(t *tool) *cobra.Command {
	return &cobra.Command{
		Use:   "check-config",
		Short: "Load every YAML registry and the access policy and report problems",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(t.v)
			if err != nil {
				return err
			}
			return checkConfig(cmd.OutOrStdout(), cfg)
		},
	}
}

func checkConfig(w io.Writer, cfg *config.Config) error {
	var errs []error
	report := func(name string, path string, err error) {
		if err != nil {
			errs = append(errs, fmt.Errorf("%s (%s): %w", name, path, err))
			_, _ = fmt.Fprintf(w, "FAIL %-22s %s: %v\n", name, path, err)
			return
		}
		_, _ = fmt.Fprintf(w, "ok   %-22s %s\n", name, path)
	}

	_, err := routing.LoadAllowlist(cfg.Routing.AllowlistPath)
	report("allowlist", cfg.Routing.AllowlistPath, err)

	mode, err := authz.ParseMode(cfg.Authz.Mode, cfg.Authz.UnsafeAllowDisabled)
	var authorizer *authz.Authorizer
	if err == nil {
		authorizer, err = authz.NewAuthorizer(cfg.Authz.ModelPath, cfg.Authz.PolicyPath, mode)
	}
	report("access policy", cfg.Authz.PolicyPath, err)

	tables, err := pgrest.LoadRegistry(cfg.Registry.RESTTablesPath)
	report("rest tables", cfg.Registry.RESTTablesPath, err)

	functions, err := pgrest.LoadFunctions(cfg.Registry.RPCFunctionsPath)
	report("rpc functions", cfg.Registry.RPCFunctionsPath, err)

	_, err = services.LoadCatalog(cfg.Registry.LendingProductsPath)
	report("loan products", cfg.Registry.LendingProductsPath, err)

	_, err = services.LoadTemplates(cfg.Registry.NotificationTemplatesPath)
	report("notification templates", cfg.Registry.NotificationTemplatesPath, err)

	if authorizer != nil {
		var objects []string
		if tables != nil {
			for _, name := range tables.Names() {
				objects = append(objects, authz.ObjectForTable(name))
			}
		}
		if functions != nil {
			for _, name := range functions.Names() {
				objects = append(objects, authz.ObjectForFunction(name))
			}
		}
		for _, obj := range objects {
			if !grantedToAnyRole(authorizer, obj) {
				_, _ = fmt.Fprintf(w, "warn %-22s no role may read %s\n", "access policy", obj)
			}
		}
	}

	return errors.Join(errs...)
}

func grantedToAnyRole(a *authz.Authorizer, object string) bool {
	for _, role := range authz.Roles() {
		d, err := a.Decide(role, object, authz.ActionRead)
		if err == nil && d.Allowed {
			return true
		}
	}
	return false
}
