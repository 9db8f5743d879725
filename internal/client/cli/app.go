package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/dmitrijs2005/dropbin/internal/client/api"
	"github.com/dmitrijs2005/dropbin/internal/client/config"
	"github.com/dmitrijs2005/dropbin/internal/logging"
)

// App carries what every command needs once configuration is loaded.
type App struct {
	config  *config.Config
	api     *api.Client
	storage *http.Client
	logger  logging.Logger

	reader *bufio.Reader
	out    io.Writer
	errOut io.Writer
}

type rootOptions struct {
	configPath string
	server     string
	token      string
	verbose    bool
}

// NewRootCommand builds the dropbin command tree reading from stdin and
// writing results to stdout and diagnostics to stderr.
func NewRootCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	app := &App{reader: bufio.NewReader(stdin), out: stdout, errOut: stderr}
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "dropbin",
		Short:         "Share files and snippets through short-lived links",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return app.init(cmd, opts)
		},
	}
	cmd.SetIn(stdin)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	pf := cmd.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", "", "path to a YAML config file")
	pf.StringVar(&opts.server, "server", "", "control plane URL")
	pf.StringVar(&opts.token, "token", "", "access token for a paid tier")
	pf.BoolVarP(&opts.verbose, "verbose", "v", false, "log every step")

	cmd.AddCommand(newUploadCommand(app))
	cmd.AddCommand(newPasteCommand(app))
	cmd.AddCommand(newDownloadCommand(app))
	return cmd
}

func (a *App) init(cmd *cobra.Command, opts *rootOptions) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	flags := cmd.Flags()
	if flags.Changed("server") {
		cfg.ServerURL = opts.server
	}
	if flags.Changed("token") {
		cfg.AccessToken = opts.token
	}
	if flags.Changed("verbose") {
		cfg.Verbose = opts.verbose
	}

	a.config = cfg
	a.logger = logging.NewConsoleLogger(a.errOut, cfg.Verbose)
	a.api = api.New(cfg.ServerURL,
		api.WithHTTPClient(&http.Client{Timeout: cfg.RequestTimeout}),
		api.WithAccessToken(cfg.AccessToken),
		api.WithLogger(a.logger),
	)
	// storage transfers can be long; only the context bounds them
	a.storage = &http.Client{}
	return nil
}

// Execute runs the command tree and prints a user-facing message for any
// error. It returns the process exit code.
func Execute(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	root := NewRootCommand(stdin, stdout, stderr)
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(stderr, "Error:", describe(err))
		return 1
	}
	return 0
}
