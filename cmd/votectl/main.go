// votectl talks to a bnbvote server from the command line. It logs in with
// the private key in BNBVOTE_PRIVATE_KEY by signing the server's challenge,
// the same way a browser wallet would.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/shopspring/decimal"

	"github.com/layer-3/bnbvote/client"
	"github.com/layer-3/bnbvote/config"
	"github.com/layer-3/bnbvote/core"
)

const usage = `usage: votectl [flags] <command> [args]

commands:
  cards   [-limit N] [-page N] [-sort votes|createdAt] [-order asc|desc]
  login   sign in and print the session token
  me      show the current session
  vote    <cardId>
  create  -title T -image URL -ticker SYM [-description D] [-fee PCT] [-tickets N]
  logout  revoke the current session

flags:
`

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "votectl: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	cfg, err := config.LoadClient()
	if err != nil {
		return err
	}

	fs := flag.NewFlagSet("votectl", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprint(fs.Output(), usage)
		fs.PrintDefaults()
	}
	fs.StringVar(&cfg.BaseURL, "api", cfg.BaseURL, "bnbvote API base URL")
	fs.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "per-attempt timeout")
	fs.IntVar(&cfg.ReadRetries, "retries", cfg.ReadRetries, "retries for reads")
	fs.IntVar(&cfg.MutationRetries, "vote-retries", cfg.MutationRetries, "retries for votes and other writes")
	fs.StringVar(&cfg.Token, "token", cfg.Token, "session token; when empty, commands that need one log in first")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return errors.New("missing command")
	}

	logger, err := config.NewLogger(cfg.LogFormat, cfg.LogLevel, os.Stderr)
	if err != nil {
		return err
	}

	api, err := client.NewAPI(client.Options{
		BaseURL:         cfg.BaseURL,
		Timeout:         cfg.Timeout,
		ReadRetries:     cfg.ReadRetries,
		MutationRetries: cfg.MutationRetries,
		BaseDelay:       cfg.BaseDelay,
		Tokens:          client.StaticToken(cfg.Token),
		Logger:          logger,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := &command{api: api, privateKey: cfg.PrivateKey, out: out}
	name, rest := fs.Arg(0), fs.Args()[1:]
	switch name {
	case "cards":
		return cmd.cards(ctx, rest)
	case "login":
		return cmd.login(ctx)
	case "me":
		return cmd.withSession(ctx, func() error {
			me, err := api.Me(ctx)
			if err != nil {
				return err
			}
			return cmd.print(me)
		})
	case "vote":
		if len(rest) != 1 {
			return errors.New("usage: votectl vote <cardId>")
		}
		return cmd.withSession(ctx, func() error {
			res, err := api.Vote(ctx, rest[0])
			if err != nil {
				return err
			}
			return cmd.print(res)
		})
	case "create":
		return cmd.create(ctx, rest)
	case "logout":
		if api.Token() == "" {
			return errors.New("no session token to revoke")
		}
		return api.Logout(ctx)
	default:
		fs.Usage()
		return fmt.Errorf("unknown command %q", name)
	}
}

type command struct {
	api        *client.API
	privateKey string
	out        io.Writer
}

func (c *command) print(v any) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (c *command) signIn(ctx context.Context) (*core.LoginResponse, error) {
	if c.privateKey == "" {
		return nil, errors.New("BNBVOTE_PRIVATE_KEY is not set")
	}
	signer, err := client.ParseKeySigner(c.privateKey)
	if err != nil {
		return nil, err
	}
	return c.api.Login(ctx, signer)
}

func (c *command) login(ctx context.Context) error {
	res, err := c.signIn(ctx)
	if err != nil {
		return err
	}
	return c.print(res)
}

// withSession runs fn, signing in first when no token was given
func (c *command) withSession(ctx context.Context, fn func() error) error {
	if c.api.Token() == "" {
		if _, err := c.signIn(ctx); err != nil {
			return fmt.Errorf("login: %w", err)
		}
	}
	return fn()
}

func (c *command) cards(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("cards", flag.ContinueOnError)
	limit := fs.Int("limit", core.DefaultPageLimit, "cards per page")
	page := fs.Int("page", 1, "page number")
	sort := fs.String("sort", string(core.SortByVotes), "votes or createdAt")
	order := fs.String("order", string(core.OrderDesc), "asc or desc")
	if err := fs.Parse(args); err != nil {
		return err
	}

	res, err := c.api.Cards(ctx, core.ListQuery{
		Limit: *limit,
		Page:  *page,
		Sort:  core.SortField(*sort),
		Order: core.SortOrder(*order),
	})
	if err != nil {
		return err
	}
	return c.print(res)
}

func (c *command) create(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("create", flag.ContinueOnError)
	title := fs.String("title", "", "card title")
	description := fs.String("description", "", "card description")
	image := fs.String("image", "", "image URL")
	ticker := fs.String("ticker", "", "token ticker")
	fee := fs.String("fee", "0", "developer fee percentage")
	tickets := fs.Int("tickets", 0, "max tickets per user")
	if err := fs.Parse(args); err != nil {
		return err
	}

	feePct, err := decimal.NewFromString(*fee)
	if err != nil {
		return fmt.Errorf("invalid -fee: %w", err)
	}
	card := core.NewCard{
		Title:       *title,
		Description: *description,
		ImageURL:    *image,
		Attributes: core.CardAttributes{
			Ticker:            *ticker,
			DevFeePercentage:  feePct,
			MaxTicketsPerUser: *tickets,
		},
	}
	if err := card.Validate(); err != nil {
		return err
	}

	return c.withSession(ctx, func() error {
		res, err := c.api.CreateCard(ctx, card)
		if err != nil {
			return err
		}
		return c.print(res)
	})
}
