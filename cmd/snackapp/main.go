// Command snackapp is a terminal front end for the snack ordering
// backend: browse the menu, place orders, follow their status live.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/iorgasnack/snackapp/internal/catalog"
	"github.com/iorgasnack/snackapp/internal/config"
	"github.com/iorgasnack/snackapp/internal/live"
	"github.com/iorgasnack/snackapp/internal/notify"
	"github.com/iorgasnack/snackapp/internal/order"
	"github.com/iorgasnack/snackapp/internal/session"
	"github.com/iorgasnack/snackapp/pkg/logger"
	"github.com/iorgasnack/snackapp/supabase"
)

const usage = `Usage: snackapp [-config FILE] COMMAND [args]

Commands:
  signup  -email X -password X -name X   register a new account
  login   -email X -password X           sign in, print the refresh token
  menu                                   show the menu
  order   -item ID                       order one unit of a menu item
  orders                                 show your order history
  watch                                  follow order updates live
`

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	global := flag.NewFlagSet("snackapp", flag.ExitOnError)
	configPath := global.String("config", "snackapp.yaml", "path to config file")
	global.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	if err := global.Parse(args); err != nil {
		return err
	}
	if global.NArg() == 0 {
		global.Usage()
		return errors.New("missing command")
	}
	command, rest := global.Arg(0), global.Args()[1:]

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer app.close()

	switch command {
	case "signup":
		return app.signup(ctx, rest)
	case "login":
		return app.login(ctx, rest)
	case "menu":
		return app.menu(ctx)
	case "order":
		return app.order(ctx, rest, cfg.RefreshToken)
	case "orders":
		return app.orders(ctx, cfg.RefreshToken)
	case "watch":
		return app.watch(ctx, cfg.RefreshToken)
	default:
		global.Usage()
		return fmt.Errorf("unknown command %q", command)
	}
}

type app struct {
	log     *logger.Logger
	client  *supabase.Client
	store   *session.Store
	catalog *catalog.Reader
	placer  *order.Placer
	history *order.History
	live    *live.Subscriber
}

func newApp(cfg *config.Config) (*app, error) {
	log := logger.New("snackapp")

	client, err := supabase.NewResilient(supabase.Config{
		URL:     cfg.ProjectURL,
		APIKey:  cfg.AnonKey,
		Timeout: cfg.Timeout,
	}, supabase.DefaultRetryConfig(), supabase.DefaultCircuitBreakerConfig())
	if err != nil {
		return nil, fmt.Errorf("create client: %w", err)
	}

	term := notify.NewTerminal(os.Stdout)
	store := session.NewStore(client, log)
	reader := catalog.NewReader(client, term, log)
	placer := order.NewPlacer(client, store, term, log)
	placer.OnPlaced(func(ctx context.Context) {
		if err := reader.Refresh(ctx); err != nil {
			log.Warn("menu refresh after order failed", "error", err)
		}
	})

	return &app{
		log:     log,
		client:  client,
		store:   store,
		catalog: reader,
		placer:  placer,
		history: order.NewHistory(client, store),
		live:    live.New(client, store, term, log),
	}, nil
}

func (a *app) close() {
	a.store.Close()
	_ = a.log.Sync()
}

// restore brings the session up from the configured refresh token and
// fails fast when the restore itself errored.
func (a *app) restore(ctx context.Context, refreshToken string) error {
	a.store.Start(ctx, refreshToken)
	if a.store.State() == session.StateFailed {
		return fmt.Errorf("restore session: %w", a.store.Err())
	}
	return nil
}

func (a *app) signup(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("signup", flag.ExitOnError)
	email := fs.String("email", "", "email address")
	password := fs.String("password", "", "password")
	name := fs.String("name", "", "display name")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *email == "" || *password == "" {
		return errors.New("signup: -email and -password are required")
	}

	a.store.Start(ctx, "")
	if err := a.store.SignUp(ctx, *email, *password, *name); err != nil {
		return err
	}
	if sess := a.store.Session(); sess != nil {
		fmt.Printf("Signed up as %s\nRefresh token: %s\n", *email, sess.RefreshToken)
	} else {
		fmt.Println("Signed up. Check your email to confirm the account.")
	}
	return nil
}

func (a *app) login(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	email := fs.String("email", "", "email address")
	password := fs.String("password", "", "password")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *email == "" || *password == "" {
		return errors.New("login: -email and -password are required")
	}

	a.store.Start(ctx, "")
	if err := a.store.SignIn(ctx, *email, *password); err != nil {
		return err
	}
	sess := a.store.Session()
	fmt.Printf("Signed in as %s\nRefresh token: %s\n", *email, sess.RefreshToken)
	fmt.Println("Export it as SNACKAPP_REFRESH_TOKEN to stay signed in.")
	return nil
}

func (a *app) menu(ctx context.Context) error {
	if err := a.catalog.Load(ctx); err != nil {
		return err
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tPRICE\tCATEGORY")
	for _, item := range a.catalog.Items() {
		fmt.Fprintf(tw, "%s\t%s\t$%.2f\t%s\n", item.ID, item.Name, item.Price, item.Category)
	}
	return tw.Flush()
}

func (a *app) order(ctx context.Context, args []string, refreshToken string) error {
	fs := flag.NewFlagSet("order", flag.ExitOnError)
	itemID := fs.String("item", "", "menu item id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *itemID == "" {
		return errors.New("order: -item is required")
	}

	if err := a.restore(ctx, refreshToken); err != nil {
		return err
	}
	if err := a.catalog.Load(ctx); err != nil {
		return err
	}
	for _, item := range a.catalog.Items() {
		if item.ID == *itemID {
			_, err := a.placer.Place(ctx, item)
			return err
		}
	}
	return fmt.Errorf("no menu item with id %q", *itemID)
}

func (a *app) orders(ctx context.Context, refreshToken string) error {
	if err := a.restore(ctx, refreshToken); err != nil {
		return err
	}
	orders, err := a.history.List(ctx)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ORDER\tPLACED\tSTATUS\tTOTAL\tITEMS")
	for _, o := range orders {
		items := ""
		for i, line := range o.Items {
			if i > 0 {
				items += ", "
			}
			if line.FoodItem != nil {
				items += fmt.Sprintf("%dx %s", line.Quantity, line.FoodItem.Name)
			} else {
				items += fmt.Sprintf("%dx %s", line.Quantity, line.FoodItemID)
			}
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t$%.2f\t%s\n",
			o.ID, o.CreatedAt.Format("2006-01-02 15:04"), o.Status, o.TotalAmount, items)
	}
	return tw.Flush()
}

func (a *app) watch(ctx context.Context, refreshToken string) error {
	if err := a.restore(ctx, refreshToken); err != nil {
		return err
	}
	if a.store.Session() == nil {
		return session.ErrNotSignedIn
	}

	fmt.Println("Watching order updates. Ctrl-C to stop.")
	a.live.Run(ctx)
	return nil
}
