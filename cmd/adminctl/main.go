// Command adminctl is an operator CLI for the admin API.
//
//	adminctl [-url URL] [-token TOKEN] users [page]
//	adminctl roles
//	adminctl grant <id> <plan> <days>
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/artisthub/platform/backend/admin-service/internal/models"
	"github.com/artisthub/platform/backend/admin-service/pkg/adminclient"
)

var errUsage = errors.New("usage: adminctl [-url URL] [-token TOKEN] users [page] | roles | grant <id> <plan> <days>")

func main() {
	baseURL := flag.String("url", envOr("ADMIN_API_URL", "http://localhost:5002"), "admin service base URL")
	token := flag.String("token", os.Getenv("ADMIN_TOKEN"), "bearer access token")
	user := flag.String("user", os.Getenv("ADMIN_USERNAME"), "log in with this username when no token is given")
	flag.Parse()

	opts := []adminclient.Option{}
	if *token != "" {
		opts = append(opts, adminclient.WithAccessToken(*token))
	}
	c, err := adminclient.New(*baseURL, opts...)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if *token == "" && *user != "" {
		if _, err := c.Login(ctx, *user, os.Getenv("ADMIN_PASSWORD")); err != nil {
			fmt.Fprintln(os.Stderr, "login:", err)
			os.Exit(1)
		}
	}
	if err := run(ctx, c, flag.Args(), os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if errors.Is(err, errUsage) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func run(ctx context.Context, c *adminclient.Client, args []string, out io.Writer) error {
	if len(args) == 0 {
		return errUsage
	}
	switch args[0] {
	case "users":
		page := 1
		if len(args) > 1 {
			n, err := strconv.Atoi(args[1])
			if err != nil || n < 1 {
				return fmt.Errorf("%w: page must be a positive integer", errUsage)
			}
			page = n
		}
		return listUsers(ctx, c, page, out)
	case "roles":
		return roles(ctx, c, out)
	case "grant":
		if len(args) != 4 {
			return errUsage
		}
		id, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("%w: invalid id %q", errUsage, args[1])
		}
		days, err := strconv.Atoi(args[3])
		if err != nil {
			return fmt.Errorf("%w: invalid days %q", errUsage, args[3])
		}
		return grant(ctx, c, id, args[2], days, out)
	}
	return errUsage
}

func orDash(s *string) string {
	if s == nil || *s == "" {
		return "-"
	}
	return *s
}

func listUsers(ctx context.Context, c *adminclient.Client, page int, out io.Writer) error {
	res, err := c.ListUsers(ctx, adminclient.ListParams{Page: page})
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tEMAIL\tNAME\tROLE\tPLAN\tENDS")
	for _, u := range res.Users {
		plan, ends := "-", "-"
		if u.SubscriptionPlan != nil {
			plan = string(*u.SubscriptionPlan)
		}
		if u.SubscriptionEnd != nil {
			ends = u.SubscriptionEnd.Format("2006-01-02")
		}
		name := orDash(u.FirstName)
		if u.LastName != nil {
			name += " " + *u.LastName
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n", u.ID, orDash(u.Email), name, u.EffectiveRole(), plan, ends)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	p := res.Pagination
	fmt.Fprintf(out, "page %d of %d (%d users)\n", p.Page, p.TotalPages, p.Total)
	return nil
}

func roles(ctx context.Context, c *adminclient.Client, out io.Writer) error {
	info, err := c.Roles(ctx)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ROLE\tUSERS")
	for _, rc := range info.Stats.ByRole {
		fmt.Fprintf(tw, "%s\t%d\n", rc.Role, rc.Count)
	}
	fmt.Fprintf(tw, "(none)\t%d\n", info.Stats.UsersWithoutRole)
	fmt.Fprintf(tw, "total\t%d\n", info.Stats.TotalUsers)
	return tw.Flush()
}

func grant(ctx context.Context, c *adminclient.Client, id int64, plan string, days int, out io.Writer) error {
	p, err := models.ParsePlan(plan)
	if err != nil {
		return err
	}
	res, err := c.GrantSubscription(ctx, id, adminclient.GrantRequest{
		Plan:         string(p),
		Status:       string(models.StatusActive),
		DurationDays: days,
		Reason:       "granted via adminctl",
	})
	if err != nil {
		return err
	}
	end := "-"
	if res.SubscriptionEnd != nil {
		end = res.SubscriptionEnd.UTC().Format(time.RFC3339)
	}
	fmt.Fprintf(out, "granted %s (%s) to user %d until %s\n", p, p.DisplayName(), id, end)
	return nil
}
