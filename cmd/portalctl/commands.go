package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/pflag"

	app "github.com/R3E-Network/program_portal/internal/app"
	"github.com/R3E-Network/program_portal/internal/app/domain/archive"
	"github.com/R3E-Network/program_portal/internal/app/domain/principal"
	"github.com/R3E-Network/program_portal/internal/app/runtime"
	"github.com/R3E-Network/program_portal/internal/app/storage"
	"github.com/R3E-Network/program_portal/internal/config"
	"github.com/R3E-Network/program_portal/internal/middleware"
	"github.com/R3E-Network/program_portal/internal/platform/migrations"
	"github.com/R3E-Network/program_portal/pkg/logger"
)

type openFunc func(ctx context.Context) (storage.Repository, func(), error)

type cli struct {
	cfg  *config.Config
	log  *logger.Logger
	out  io.Writer
	open openFunc
}

func (c *cli) dispatch(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "ghosts":
		if len(args) == 0 {
			return fmt.Errorf("ghosts: expected list or clear")
		}
		switch args[0] {
		case "list":
			return c.withPortal(ctx, c.listGhosts)
		case "clear":
			ids := args[1:]
			return c.withPortal(ctx, func(ctx context.Context, p *app.Application) error {
				return c.clearGhosts(ctx, p, ids)
			})
		}
		return fmt.Errorf("ghosts: unknown subcommand %q", args[0])
	case "issues":
		return c.withPortal(ctx, c.issues)
	case "archived":
		return c.archived(ctx, args)
	case "preview":
		if len(args) != 3 {
			return fmt.Errorf("preview: expected COMPANY FACILITY ACTIVITY")
		}
		return c.withPortal(ctx, func(ctx context.Context, p *app.Application) error {
			id, err := p.Identifiers.Predict(ctx, args[0], args[1], args[2])
			if err != nil {
				return err
			}
			fmt.Fprintln(c.out, id)
			return nil
		})
	case "token":
		return c.token(args)
	case "migrate":
		return c.migrate(ctx, args)
	}
	return fmt.Errorf("unknown command %q", cmd)
}

func (c *cli) withPortal(ctx context.Context, fn func(context.Context, *app.Application) error) error {
	repo, closeRepo, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer closeRepo()

	portal, err := app.New(repo, app.Options{
		AdminRoles:  append(c.cfg.AdminRoles(), principal.System.Role),
		MaxAttempts: c.cfg.Identifiers.MaxAttempts,
	}, c.log)
	if err != nil {
		return err
	}
	return fn(ctx, portal)
}

func (c *cli) listGhosts(ctx context.Context, p *app.Application) error {
	listing, err := p.Ghosts.ListOpen(ctx, principal.System)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "IDENTIFIER\tRECORDED\tREASON")
	for _, e := range listing.Entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", e.Identifier, e.RecordedAt.Format(time.RFC3339), e.Reason)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "%d open, %d cleared\n", listing.OpenCount, listing.ClearedCount)
	return nil
}

func (c *cli) clearGhosts(ctx context.Context, p *app.Application, ids []string) error {
	n, err := p.Ghosts.ClearMany(ctx, principal.System, ids)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "cleared %d of %d\n", n, len(ids))
	return nil
}

func (c *cli) issues(ctx context.Context, p *app.Application) error {
	issues, err := p.Archive.ConstraintIssues(ctx, principal.System)
	if err != nil {
		return err
	}
	if len(issues) == 0 {
		fmt.Fprintln(c.out, "no constraint issues")
		return nil
	}
	for _, issue := range issues {
		fmt.Fprintln(c.out, issue.String())
	}
	return fmt.Errorf("%d constraint issue(s)", len(issues))
}

func (c *cli) archived(ctx context.Context, args []string) error {
	var entityType string
	fs := pflag.NewFlagSet("archived", pflag.ContinueOnError)
	fs.StringVarP(&entityType, "type", "t", "", "company, facility, application or submission")
	if err := fs.Parse(args); err != nil {
		return err
	}
	return c.withPortal(ctx, func(ctx context.Context, p *app.Application) error {
		records, err := p.Archive.ListArchived(ctx, principal.System, archive.EntityType(strings.ToLower(entityType)))
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ENTITY\tARCHIVED\tBY\tREASON")
		for _, r := range records {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.Ref(), r.ArchivedAt.Format(time.RFC3339), r.Actor, r.Reason)
		}
		return tw.Flush()
	})
}

func (c *cli) token(args []string) error {
	var (
		subject, role, level string
		companyID            int64
		ttl                  time.Duration
	)
	fs := pflag.NewFlagSet("token", pflag.ContinueOnError)
	fs.StringVar(&subject, "subject", "", "principal id")
	fs.StringVar(&role, "role", string(principal.RoleApplicant), "principal role")
	fs.StringVar(&level, "level", string(principal.LevelViewer), "permission level within the company")
	fs.Int64Var(&companyID, "company", 0, "company id")
	fs.DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if subject == "" {
		return fmt.Errorf("token: --subject is required")
	}
	key, err := runtime.ParseSigningKey(c.cfg.Auth.JWTSecret)
	if err != nil {
		return fmt.Errorf("token: auth.jwt_secret: %w", err)
	}

	token, err := middleware.IssueToken(string(key), c.cfg.Auth.Issuer, principal.Principal{
		ID:        subject,
		Role:      principal.Role(role),
		Level:     principal.Level(level),
		CompanyID: companyID,
	}, ttl)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.out, token)
	return nil
}

func (c *cli) migrate(ctx context.Context, args []string) error {
	if len(args) != 1 || (args[0] != "up" && args[0] != "down") {
		return fmt.Errorf("migrate: expected up or down")
	}
	if !strings.EqualFold(c.cfg.Database.Driver, "postgres") {
		return fmt.Errorf("migrate: database driver is %q, not postgres", c.cfg.Database.Driver)
	}
	db, err := sqlx.ConnectContext(ctx, "postgres", c.cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer db.Close()

	if args[0] == "up" {
		err = migrations.Up(db.DB)
	} else {
		err = migrations.Down(db.DB)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "migrations %s\n", args[0])
	return nil
}
