package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/go-pkgz/lgr"
	"github.com/jessevdk/go-flags"
	"golang.org/x/term"

	"github.com/pondworks/pond/pkg/config"
	"github.com/pondworks/pond/pkg/pool"
	"github.com/pondworks/pond/pkg/secrets"
)

type options struct {
	Config string `short:"f" long:"config" env:"POND_CONFIG" default:"pond.yml" description:"config file"`
	DB     string `long:"db" env:"POND_DB" description:"database target, overrides config"`

	SecretsProvider SecretsProvider `group:"secrets" namespace:"secrets" env-namespace:"POND_SECRETS"`

	PingCmd struct{} `command:"ping" description:"open a session and check engine status"`

	ExecCmd struct {
		PositionalArgs struct {
			SQL string `positional-arg-name:"sql" description:"statement to run"`
		} `positional-args:"yes" positional-optional:"no"`
	} `command:"exec" description:"run an ad-hoc statement through a session"`

	SecretSetCmd struct {
		PositionalArgs struct {
			Key   string `positional-arg-name:"key" description:"key to add"`
			Value string `positional-arg-name:"value" description:"value to add"`
		} `positional-args:"yes" positional-optional:"no"`
	} `command:"secret-set" description:"store a secret in the internal provider"`

	SecretGetCmd struct {
		PositionalArgs struct {
			Key string `positional-arg-name:"key" description:"key to retrieve"`
		} `positional-args:"yes" positional-optional:"no"`
	} `command:"secret-get" description:"retrieve a secret from the internal provider"`

	SecretDelCmd struct {
		PositionalArgs struct {
			Key string `positional-arg-name:"key" description:"key to delete"`
		} `positional-args:"yes" positional-optional:"no"`
	} `command:"secret-del" description:"delete a secret from the internal provider"`

	SecretListCmd struct {
		PositionalArgs struct {
			KeyPrefix string `positional-arg-name:"key-prefix" default:"*" description:"key prefix to list"`
		} `positional-args:"yes" positional-optional:"yes"`
	} `command:"secret-list" description:"list secret keys in the internal provider"`

	Dbg bool `long:"dbg" description:"debug mode"`
}

// SecretsProvider defines secrets provider options, for all supported providers
type SecretsProvider struct {
	Provider string `long:"provider" env:"PROVIDER" description:"secret provider type" choice:"none" choice:"internal" choice:"vault" choice:"aws" choice:"ansible" default:"none"`

	Key  string `long:"key" env:"KEY" description:"secure key for the internal provider"`
	Conn string `long:"conn" env:"CONN" description:"connection string for the internal provider" default:"pond-secrets.db"`

	Vault struct {
		Token string `long:"token" env:"TOKEN" description:"vault token"`
		Path  string `long:"path"  env:"PATH" description:"vault path"`
		URL   string `long:"url" env:"URL" description:"vault url"`
	} `group:"vault" namespace:"vault" env-namespace:"VAULT"`

	Aws struct {
		Region    string `long:"region" env:"REGION" description:"aws region"`
		AccessKey string `long:"access-key" env:"ACCESS_KEY" description:"aws access key"`
		SecretKey string `long:"secret-key" env:"SECRET_KEY" description:"aws secret key"`
	} `group:"aws" namespace:"aws" env-namespace:"AWS"`

	Ansible struct {
		Path   string `long:"path" env:"PATH" description:"ansible vault file"`
		Secret string `long:"secret" env:"SECRET" description:"ansible vault password"`
	} `group:"ansible" namespace:"ansible" env-namespace:"ANSIBLE"`
}

var revision = "latest"

var exitFunc = os.Exit

func main() {
	fmt.Printf("pond %s\n", revision)

	var opts options
	p := flags.NewParser(&opts, flags.PrintErrors|flags.PassDoubleDash|flags.HelpFlag)
	if _, err := p.Parse(); err != nil {
		exitFunc(1) // can be redefined in tests
	}
	setupLog(opts.Dbg)

	if err := run(p, opts); err != nil {
		log.Printf("[ERROR] %v", err)
		exitFunc(1)
	}
}

func run(p *flags.Parser, opts options) error {
	active := func(name string) bool { return p.Active != nil && p.Command.Find(name) == p.Active }

	switch {
	case active("secret-set"), active("secret-get"), active("secret-del"), active("secret-list"):
		return runSecrets(p, opts)
	case active("ping"), active("exec"):
		return runSession(p, opts)
	}
	return fmt.Errorf("no command specified, see --help")
}

func runSession(p *flags.Parser, opts options) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(opts.Config)
	if err != nil {
		return fmt.Errorf("can't load config: %w", err)
	}
	if opts.DB != "" {
		cfg.Database = opts.DB
	}

	sp, err := makeSecretsProvider(opts.SecretsProvider)
	if err != nil {
		return fmt.Errorf("can't make secrets provider: %w", err)
	}

	conn, err := pool.NewConnector().Connect(ctx, cfg, sp)
	if err != nil {
		return fmt.Errorf("can't connect: %w", err)
	}
	defer func() {
		if err := conn.Disconnect(); err != nil {
			log.Printf("[WARN] disconnect failed: %v", err)
		}
	}()

	if p.Command.Find("ping") == p.Active {
		if err = conn.Ping(ctx); err != nil {
			return fmt.Errorf("ping failed: %w", err)
		}
		fmt.Println("ok")
		return nil
	}

	return execStatement(ctx, conn, opts.ExecCmd.PositionalArgs.SQL)
}

// execStatement runs one ad-hoc statement via the full prepare/execute/close
// sequence, printing the result as tab-separated rows.
func execStatement(ctx context.Context, conn *pool.Conn, sql string) error {
	slot, err := conn.Prepare(ctx, sql)
	if err != nil {
		return fmt.Errorf("can't prepare: %w", err)
	}
	defer func() {
		if err := conn.CloseStmt(ctx, slot); err != nil {
			log.Printf("[WARN] can't close statement: %v", err)
		}
	}()

	res, err := conn.Execute(ctx, slot, nil)
	if err != nil {
		return fmt.Errorf("can't execute: %w", err)
	}

	if len(res.Columns) > 0 {
		names := make([]string, len(res.Columns))
		for i, c := range res.Columns {
			names[i] = c.Name
		}
		fmt.Println(color.New(color.FgCyan).Sprint(strings.Join(names, "\t")))
	}
	for _, row := range res.Rows {
		cells := make([]string, len(row))
		for i, v := range row {
			if v == nil {
				cells[i] = "NULL"
				continue
			}
			cells[i] = fmt.Sprintf("%v", v)
		}
		fmt.Println(strings.Join(cells, "\t"))
	}
	fmt.Printf("(%d rows)\n", res.RowCount)
	return nil
}

func runSecrets(p *flags.Parser, opts options) error {
	key := opts.SecretsProvider.Key
	if key == "" {
		fmt.Print("secrets key: ")
		b, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Println()
		if err != nil {
			return fmt.Errorf("can't read secrets key: %w", err)
		}
		key = string(b)
	}

	sp, err := secrets.NewInternalProvider(opts.SecretsProvider.Conn, []byte(key))
	if err != nil {
		return fmt.Errorf("can't create secrets provider: %w", err)
	}

	switch {
	case p.Command.Find("secret-set") == p.Active:
		args := opts.SecretSetCmd.PositionalArgs
		if args.Value == "" {
			return fmt.Errorf("can't set empty secret for key %q", args.Key)
		}
		if err := sp.Set(args.Key, args.Value); err != nil {
			return fmt.Errorf("can't set secret for key %q: %w", args.Key, err)
		}
		log.Printf("[INFO] key=%s set", args.Key)
	case p.Command.Find("secret-get") == p.Active:
		val, err := sp.Get(opts.SecretGetCmd.PositionalArgs.Key)
		if err != nil {
			return fmt.Errorf("can't get secret for key %q: %w", opts.SecretGetCmd.PositionalArgs.Key, err)
		}
		fmt.Println(val)
	case p.Command.Find("secret-del") == p.Active:
		if err := sp.Delete(opts.SecretDelCmd.PositionalArgs.Key); err != nil {
			return fmt.Errorf("can't delete secret: %w", err)
		}
		log.Printf("[INFO] key=%s deleted", opts.SecretDelCmd.PositionalArgs.Key)
	case p.Command.Find("secret-list") == p.Active:
		keys, err := sp.List(opts.SecretListCmd.PositionalArgs.KeyPrefix)
		if err != nil {
			return fmt.Errorf("can't list secrets: %w", err)
		}
		for _, k := range keys {
			fmt.Println(k)
		}
	}
	return nil
}

// makeSecretsProvider creates a secrets provider based on the cli options.
func makeSecretsProvider(sopts SecretsProvider) (secrets.Provider, error) {
	switch sopts.Provider {
	case "none":
		return &secrets.NoOpProvider{}, nil
	case "internal":
		return secrets.NewInternalProvider(sopts.Conn, []byte(sopts.Key))
	case "vault":
		return secrets.NewHashiVaultProvider(sopts.Vault.URL, sopts.Vault.Path, sopts.Vault.Token)
	case "aws":
		return secrets.NewAWSSecretsProvider(sopts.Aws.AccessKey, sopts.Aws.SecretKey, sopts.Aws.Region)
	case "ansible":
		return secrets.NewAnsibleVaultProvider(sopts.Ansible.Path, sopts.Ansible.Secret)
	}
	return nil, fmt.Errorf("unsupported secrets provider type %q", sopts.Provider)
}

func setupLog(dbg bool) {
	logOpts := []lgr.Option{lgr.Msec, lgr.LevelBraces, lgr.StackTraceOnError}
	if dbg {
		logOpts = []lgr.Option{lgr.Debug, lgr.CallerFile, lgr.CallerFunc, lgr.Msec, lgr.LevelBraces, lgr.StackTraceOnError}
	}

	colorizer := lgr.Mapper{
		ErrorFunc:  func(s string) string { return color.New(color.FgHiRed).Sprint(s) },
		WarnFunc:   func(s string) string { return color.New(color.FgRed).Sprint(s) },
		InfoFunc:   func(s string) string { return color.New(color.FgYellow).Sprint(s) },
		DebugFunc:  func(s string) string { return color.New(color.FgWhite).Sprint(s) },
		CallerFunc: func(s string) string { return color.New(color.FgBlue).Sprint(s) },
		TimeFunc:   func(s string) string { return color.New(color.FgCyan).Sprint(s) },
	}
	logOpts = append(logOpts, lgr.Map(colorizer))

	lgr.SetupStdLogger(logOpts...)
	lgr.Setup(logOpts...)
}
