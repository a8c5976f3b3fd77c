// Command shiftctl runs operator maintenance against the shift store:
// bulk recalculation, report and discrepancy lookups, orphan and
// duplicate-shift scans, and dev token issuing.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli"

	"kasirshift/backend/internal/cache"
	"kasirshift/backend/internal/config"
	"kasirshift/backend/internal/domain"
	"kasirshift/backend/internal/httpapi"
	"kasirshift/backend/internal/service"
	pgstore "kasirshift/backend/internal/store/postgres"
)

const operatorUserID = "shiftctl"

type backend struct {
	svc         *service.Service
	migrate     func(ctx context.Context) error
	addEmployee func(ctx context.Context, businessID string, userID string, employeeID string) error
	close       func() error
}

type opener func(ctx context.Context, cfg config.Config) (*backend, error)

func main() {
	cfg := config.Load()
	app := newApp(cfg, openPostgres, os.Stdout)
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func openPostgres(ctx context.Context, cfg config.Config) (*backend, error) {
	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL must be set")
	}
	opts, err := cfg.ServiceOptions()
	if err != nil {
		return nil, err
	}
	pg, err := pgstore.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	return &backend{
		svc:         service.New(pg, cache.NoopReportCache{}, opts),
		migrate:     pg.Migrate,
		addEmployee: pg.AddEmployee,
		close:       pg.Close,
	}, nil
}

func newApp(cfg config.Config, open opener, out io.Writer) *cli.App {
	app := cli.NewApp()
	app.Name = "shiftctl"
	app.Usage = "cashier shift maintenance"
	app.Writer = out

	businessFlag := cli.StringFlag{Name: "business", Usage: "business id to act in", Required: true}
	outletFlag := cli.StringFlag{Name: "outlet", Usage: "restrict to one outlet"}
	shiftFlag := cli.StringFlag{Name: "shift", Usage: "shift id", Required: true}

	withBackend := func(fn func(ctx context.Context, b *backend, c *cli.Context) error) func(c *cli.Context) error {
		return func(c *cli.Context) error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			defer cancel()

			b, err := open(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() {
				if b.close == nil {
					return
				}
				if err := b.close(); err != nil {
					log.Printf("[shiftctl] WARN: close failed: %v", err)
				}
			}()

			if business := strings.TrimSpace(c.String("business")); business != "" {
				ctx = service.WithActor(ctx, domain.Actor{UserID: operatorUserID, BusinessID: business, Role: domain.RoleSystem})
			}
			return fn(ctx, b, c)
		}
	}

	app.Commands = []cli.Command{
		{
			Name:  "db:migrate",
			Usage: "apply the database schema",
			Action: withBackend(func(ctx context.Context, b *backend, _ *cli.Context) error {
				if b.migrate == nil {
					return errors.New("backend has no schema to migrate")
				}
				if err := b.migrate(ctx); err != nil {
					return err
				}
				fmt.Fprintln(out, "schema applied")
				return nil
			}),
		},
		{
			Name:  "employee:add",
			Usage: "map a user to an employee record",
			Flags: []cli.Flag{
				businessFlag,
				cli.StringFlag{Name: "user", Required: true},
				cli.StringFlag{Name: "employee", Required: true},
			},
			Action: withBackend(func(ctx context.Context, b *backend, c *cli.Context) error {
				if b.addEmployee == nil {
					return errors.New("backend does not manage employees")
				}
				return b.addEmployee(ctx, c.String("business"), c.String("user"), c.String("employee"))
			}),
		},
		{
			Name:  "shift:recalculate",
			Usage: "recalculate every open or closing shift",
			Flags: []cli.Flag{businessFlag, outletFlag},
			Action: withBackend(func(ctx context.Context, b *backend, c *cli.Context) error {
				result, err := b.svc.RecalculateActiveShifts(ctx, c.String("outlet"))
				if err != nil {
					return err
				}
				for _, resp := range result.Recalculated {
					fmt.Fprintf(out, "%s status=%s expected_cash=%d expected_total=%d backfilled=%d orphaned=%d\n",
						resp.Shift.ID, resp.Shift.Status, resp.Shift.ExpectedCash, resp.Shift.ExpectedTotal, len(resp.Backfilled), len(resp.OrphanedOrders))
				}
				for shiftID, failure := range result.Failed {
					fmt.Fprintf(out, "%s failed: %v\n", shiftID, failure)
				}
				if len(result.Failed) > 0 {
					return fmt.Errorf("%d shift(s) failed to recalculate", len(result.Failed))
				}
				return nil
			}),
		},
		{
			Name:  "shift:report",
			Usage: "print the variance report of a closing or closed shift",
			Flags: []cli.Flag{businessFlag, shiftFlag},
			Action: withBackend(func(ctx context.Context, b *backend, c *cli.Context) error {
				report, err := b.svc.ShiftReport(ctx, c.String("shift"))
				if err != nil {
					return err
				}
				return printJSON(out, report)
			}),
		},
		{
			Name:  "shift:discrepancies",
			Usage: "list orders that surfaced after a shift was closed",
			Flags: []cli.Flag{businessFlag, shiftFlag},
			Action: withBackend(func(ctx context.Context, b *backend, c *cli.Context) error {
				report, err := b.svc.PostCloseDiscrepancies(ctx, c.String("shift"))
				if err != nil {
					return err
				}
				return printJSON(out, report)
			}),
		},
		{
			Name:  "shift:orphans",
			Usage: "list paid orders that belong to no shift",
			Flags: []cli.Flag{
				businessFlag,
				outletFlag,
				cli.StringFlag{Name: "from", Usage: "YYYY-MM-DD"},
				cli.StringFlag{Name: "to", Usage: "YYYY-MM-DD"},
			},
			Action: withBackend(func(ctx context.Context, b *backend, c *cli.Context) error {
				resp, err := b.svc.FindOrphanedOrders(ctx, c.String("outlet"), c.String("from"), c.String("to"))
				if err != nil {
					return err
				}
				return printJSON(out, resp)
			}),
		},
		{
			Name:  "shift:duplicates",
			Usage: "list cashiers holding more than one open shift at an outlet",
			Flags: []cli.Flag{businessFlag},
			Action: withBackend(func(ctx context.Context, b *backend, _ *cli.Context) error {
				groups, err := b.svc.FindDuplicateOpenShifts(ctx)
				if err != nil {
					return err
				}
				return printJSON(out, groups)
			}),
		},
		{
			Name:  "token:issue",
			Usage: "sign a bearer token with AUTH_SECRET for local testing",
			Flags: []cli.Flag{
				businessFlag,
				cli.StringFlag{Name: "user", Required: true},
				cli.StringFlag{Name: "role", Value: domain.RoleCashier},
				cli.DurationFlag{Name: "ttl", Value: 8 * time.Hour},
			},
			Action: func(c *cli.Context) error {
				if cfg.AuthSecret == "" {
					return errors.New("AUTH_SECRET must be set")
				}
				auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, cfg.ManagerPIN)
				token, expiresAt, err := auth.IssueToken(domain.Actor{
					UserID:     c.String("user"),
					BusinessID: c.String("business"),
					Role:       c.String("role"),
				}, c.Duration("ttl"))
				if err != nil {
					return err
				}
				return printJSON(out, map[string]string{
					"access_token": token,
					"expires_at":   expiresAt.Format(time.RFC3339),
				})
			},
		},
	}
	return app
}

func printJSON(out io.Writer, payload any) error {
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(payload)
}
