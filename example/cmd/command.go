// Package cmd wires the example application: flags, environment,
// accounts client, authentication policy and http server.
package cmd

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"os"

	"github.com/ccontavalli/accounts/example/web"
	"github.com/ccontavalli/accounts/lib/accounts"
	"github.com/ccontavalli/accounts/lib/auth"
	"github.com/ccontavalli/accounts/lib/groups"
	"github.com/ccontavalli/accounts/lib/khttp/krequestlog"
	"github.com/ccontavalli/accounts/lib/logger"
	"github.com/ccontavalli/accounts/lib/session"
	"github.com/ccontavalli/accounts/lib/srand"
	"github.com/joho/godotenv"
	"github.com/kataras/muxie"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type Flags struct {
	Listen  string
	EnvFile string

	ServerURL         string
	ApplicationID     string
	ApplicationSecret string
	ApplicationURL    string

	// Policy selects how users authenticate: "accounts" against the real
	// server, or "stub" against a fixed user table.
	Policy    string
	StubUsers string

	// Groups is a local group table, "name = member, member" per line.
	// GroupsFile points at a file in the same format and wins when set.
	Groups     string
	GroupsFile string

	// TokenStorePath, when set, persists the service token in a bbolt
	// database so restarts do not need the accounts server up.
	TokenStorePath string

	Sender     *accounts.SenderFlags
	RequestLog *krequestlog.Flags
}

func DefaultFlags() *Flags {
	return &Flags{
		Listen:     ":8080",
		EnvFile:    ".env",
		Policy:     "accounts",
		Sender:     accounts.DefaultSenderFlags(),
		RequestLog: krequestlog.DefaultFlags(),
	}
}

func (f *Flags) Register(set *pflag.FlagSet, prefix string) *Flags {
	set.StringVar(&f.Listen, prefix+"listen", f.Listen, "Address to serve http on.")
	set.StringVar(&f.EnvFile, prefix+"env-file", f.EnvFile, "Env file loaded at startup, silently skipped when missing.")

	set.StringVar(&f.ServerURL, prefix+"server-url", f.ServerURL, "Base URL of the accounts server. Env: ACCOUNTS_SERVER_URL.")
	set.StringVar(&f.ApplicationID, prefix+"application-id", f.ApplicationID, "OAuth application id. Env: ACCOUNTS_APPLICATION_ID.")
	set.StringVar(&f.ApplicationSecret, prefix+"application-secret", f.ApplicationSecret, "OAuth application secret. Env: ACCOUNTS_APPLICATION_SECRET.")
	set.StringVar(&f.ApplicationURL, prefix+"application-url", f.ApplicationURL, "Base URL this application is served from. Env: ACCOUNTS_APPLICATION_URL.")

	set.StringVar(&f.Policy, prefix+"policy", f.Policy, "Authentication policy: accounts or stub.")
	set.StringVar(&f.StubUsers, prefix+"stub-users", f.StubUsers, "Stub policy user table, 'username,password[,profile json]' per line.")

	set.StringVar(&f.Groups, prefix+"groups", f.Groups, "Local group table, 'name = member, member' per line.")
	set.StringVar(&f.GroupsFile, prefix+"groups-file", f.GroupsFile, "File holding the local group table. Wins over --groups.")
	set.StringVar(&f.TokenStorePath, prefix+"token-store-path", f.TokenStorePath, "Path of a bbolt database persisting the service token across restarts.")

	f.Sender.Register(set, prefix)
	f.RequestLog.Register(set, prefix)
	return f
}

// fillFromEnv fills credential flags left empty from the environment,
// after the env file was loaded.
func (f *Flags) fillFromEnv() {
	fill := func(target *string, name string) {
		if *target == "" {
			*target = os.Getenv(name)
		}
	}
	fill(&f.ServerURL, "ACCOUNTS_SERVER_URL")
	fill(&f.ApplicationID, "ACCOUNTS_APPLICATION_ID")
	fill(&f.ApplicationSecret, "ACCOUNTS_APPLICATION_SECRET")
	fill(&f.ApplicationURL, "ACCOUNTS_APPLICATION_URL")
}

// New builds the root command of the example application.
func New() *cobra.Command {
	flags := DefaultFlags()

	root := &cobra.Command{
		Use:           "accounts-example",
		Short:         "Example site authenticating against an accounts server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return Run(cmd.Context(), flags, logger.New(os.Stderr))
		},
	}
	flags.Register(root.Flags(), "")
	return root
}

// Run builds the application and serves it until the listener fails.
func Run(ctx context.Context, flags *Flags, log logger.Logger) error {
	handler, err := Build(ctx, flags, log)
	if err != nil {
		return err
	}

	log.Infof("serving on %s", flags.Listen)
	return http.ListenAndServe(flags.Listen, handler)
}

// Build wires the application from flags and returns the root handler.
//
// With the accounts policy the service token is acquired here: a broken
// configuration surfaces at startup, not on the first user request.
func Build(ctx context.Context, flags *Flags, log logger.Logger) (http.Handler, error) {
	if err := godotenv.Load(flags.EnvFile); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("could not load env file %q: %w", flags.EnvFile, err)
	}
	flags.fillFromEnv()

	resolver, err := loadGroups(flags)
	if err != nil {
		return nil, err
	}

	sender, err := accounts.SenderFromFlags(flags.Sender, log)
	if err != nil {
		return nil, err
	}

	sessions := session.NewMemoryStore(rand.New(srand.Source))
	config := auth.Config{LoginPath: "/login", Logger: log}

	app := &web.App{Sessions: sessions, Log: log}
	var extra func(mux *muxie.Mux)

	switch flags.Policy {
	case "accounts":
		creds := accounts.Credentials{
			ServerURL:         flags.ServerURL,
			ApplicationID:     flags.ApplicationID,
			ApplicationSecret: flags.ApplicationSecret,
			ApplicationURL:    flags.ApplicationURL,
		}

		mods := []accounts.Modifier{accounts.WithLogger(log)}
		if sender != nil {
			mods = append(mods, accounts.WithMessageSender(sender))
		}

		var persisted *accounts.BoltTokenStore
		if flags.TokenStorePath != "" {
			persisted, err = accounts.OpenBoltTokenStore(flags.TokenStorePath, "service", log)
			if err != nil {
				return nil, err
			}
			mods = append(mods, accounts.WithTokenStore(persisted))
		}

		client, err := accounts.New(creds, mods...)
		if err != nil {
			return nil, err
		}
		if persisted != nil && persisted.Token() != nil {
			log.Infof("using service token persisted in %s", flags.TokenStorePath)
		} else if err := client.AcquireServiceToken(ctx); err != nil {
			return nil, fmt.Errorf("could not acquire service token from %s: %w", creds.ServerURL, err)
		}

		policy, err := auth.NewAccountsPolicy(client, resolver, sessions, config)
		if err != nil {
			return nil, err
		}
		app.Client = client
		app.Policy = policy
		app.Updater = policy

	case "stub":
		users, err := auth.ParseStubUsers(flags.StubUsers)
		if err != nil {
			return nil, err
		}
		var membership func(username string) []string
		if resolver != nil {
			membership = resolver.MembershipOf
		}
		policy, err := auth.NewStubPolicy(users, membership, sessions, config)
		if err != nil {
			return nil, err
		}
		app.Policy = policy
		app.Updater = &web.SessionUpdater{Sessions: sessions}
		extra = func(mux *muxie.Mux) {
			mux.HandleFunc(policy.FormPath, policy.LoginFormHandler(log))
		}
		log.Warnf("running with the stub policy - %d fixed users, no accounts server", len(users))

	default:
		return nil, fmt.Errorf("unknown policy %q - expected accounts or stub", flags.Policy)
	}

	return krequestlog.NewHandler(app.Router(extra),
		krequestlog.FromFlags(flags.RequestLog), krequestlog.WithLogger(log)), nil
}

func loadGroups(flags *Flags) (*groups.Resolver, error) {
	config := flags.Groups
	if flags.GroupsFile != "" {
		data, err := os.ReadFile(flags.GroupsFile)
		if err != nil {
			return nil, fmt.Errorf("could not read groups file: %w", err)
		}
		config = string(data)
	}
	if config == "" {
		return nil, nil
	}
	return groups.Parse(config)
}
