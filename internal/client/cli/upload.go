package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"

	"github.com/dmitrijs2005/dropbin/internal/bundle"
	"github.com/dmitrijs2005/dropbin/internal/common"
	"github.com/dmitrijs2005/dropbin/internal/descriptor"
	"github.com/dmitrijs2005/dropbin/internal/pow"
	"github.com/dmitrijs2005/dropbin/internal/session"
	"github.com/dmitrijs2005/dropbin/internal/transfer"
)

type uploadOptions struct {
	slug       string
	private    bool
	accessCode string
	public     bool
	retention  string
	qr         bool
}

func (o *uploadOptions) bind(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&o.slug, "slug", "", "custom link name (4-16 characters)")
	f.BoolVar(&o.private, "private", false, "protect the bundle with an access code")
	f.StringVar(&o.accessCode, "code", "", "6 character access code for --private (prompted when empty)")
	f.BoolVar(&o.public, "public", false, "list the bundle publicly")
	f.StringVar(&o.retention, "retention", "", "how long to keep the bundle: 30m, 24h or 7d")
	f.BoolVar(&o.qr, "qr", false, "print the share link as a QR code")
}

func newUploadCommand(app *App) *cobra.Command {
	opts := &uploadOptions{}
	cmd := &cobra.Command{
		Use:   "upload FILE...",
		Short: "Upload files as one bundle",
		Args:  cobra.RangeArgs(1, bundle.MaxFiles),
		RunE: func(cmd *cobra.Command, args []string) error {
			files, err := collectFiles(args)
			if err != nil {
				return err
			}
			return app.runUpload(cmd.Context(), files, opts)
		},
	}
	opts.bind(cmd)
	return cmd
}

func newPasteCommand(app *App) *cobra.Command {
	opts := &uploadOptions{}
	var name string
	cmd := &cobra.Command{
		Use:   "paste",
		Short: "Upload text read from stdin",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			limit := bundle.TierLimit(tierFromToken(app.config.AccessToken))
			data, err := io.ReadAll(io.LimitReader(app.reader, limit+1))
			if err != nil {
				return fmt.Errorf("read stdin: %w", err)
			}
			if len(data) == 0 {
				return errors.New("nothing to paste: stdin is empty")
			}
			return app.runUpload(cmd.Context(), []bundle.File{pasteFile(name, data, time.Now())}, opts)
		},
	}
	opts.bind(cmd)
	cmd.Flags().StringVar(&name, "name", "paste.txt", "file name of the snippet")
	return cmd
}

func pasteFile(name string, data []byte, now time.Time) bundle.File {
	return bundle.File{
		Name:         name,
		Size:         int64(len(data)),
		ContentType:  "text/plain; charset=utf-8",
		LastModified: now,
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		},
	}
}

// collectFiles stats every path and sniffs its content type.
func collectFiles(paths []string) ([]bundle.File, error) {
	files := make([]bundle.File, 0, len(paths))
	for _, p := range paths {
		st, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		if st.IsDir() {
			return nil, fmt.Errorf("%s is a directory", p)
		}
		contentType := "application/octet-stream"
		if m, err := mimetype.DetectFile(p); err == nil {
			contentType = m.String()
		}
		path := p
		files = append(files, bundle.File{
			Name:         filepath.Base(p),
			Size:         st.Size(),
			ContentType:  contentType,
			LastModified: st.ModTime(),
			Open:         func() (io.ReadCloser, error) { return os.Open(path) },
		})
	}
	return files, nil
}

// tierFromToken reads the tier claim for local validation only. The server
// verifies the signature and enforces its own view.
func tierFromToken(token string) bundle.Tier {
	if token == "" {
		return bundle.TierAnonymous
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return bundle.TierAnonymous
	}
	tier, _ := claims["tier"].(string)
	return bundle.ParseTier(tier)
}

func (a *App) runUpload(ctx context.Context, files []bundle.File, o *uploadOptions) error {
	retention := o.retention
	if retention == "" {
		retention = a.config.Retention
	}
	opts := bundle.Options{
		Slug:       o.slug,
		Private:    o.private,
		AccessCode: o.accessCode,
		Public:     o.public,
		Retention:  bundle.Retention(retention),
	}
	if opts.Private && opts.AccessCode == "" {
		code, err := GetAccessCode(a.reader, a.errOut)
		if err != nil {
			return err
		}
		opts.AccessCode = code
	}

	d, notices, err := descriptor.Build(files, opts, tierFromToken(a.config.AccessToken))
	if err != nil {
		return err
	}
	for _, n := range notices {
		fmt.Fprintf(a.errOut, "note: %s\n", n)
	}

	names := make([]string, 0, d.Len())
	for _, f := range d.Files() {
		names = append(names, f.Name)
	}
	token, err := pow.Solve(ctx, pow.Challenge(names, d.Sizes()), a.config.PowDifficulty)
	if err != nil {
		if ctx.Err() != nil {
			fmt.Fprintln(a.out, "Upload cancelled.")
			return nil
		}
		return err
	}

	engine := transfer.NewEngine(transfer.HTTPUploader{Client: a.storage},
		transfer.WithStagger(a.config.Stagger),
		transfer.WithLogger(a.logger),
	)
	uploader := session.NewUploader(a.api, engine, session.WithLogger(a.logger))

	line := newProgressLine(a.errOut)
	receipt, err := uploader.Upload(ctx, d, token, line.Upload)
	line.Done()

	if errors.Is(err, common.ErrUserCancelled) {
		fmt.Fprintln(a.out, "Upload cancelled. Nothing was kept on the server.")
		return nil
	}
	if err != nil {
		return err
	}

	link := ShareLink(a.config.PublicBaseURL, receipt.Slug)
	fmt.Fprintf(a.out, "Uploaded %d file(s), %s\n", d.Len(), humanBytes(d.TotalSize()))
	fmt.Fprintf(a.out, "Link:    %s\n", link)
	if !receipt.ExpiresAt.IsZero() {
		fmt.Fprintf(a.out, "Expires: %s\n", receipt.ExpiresAt.Local().Format(time.RFC1123))
	}
	if opts.Private {
		fmt.Fprintln(a.out, "Access code required to download.")
	}
	if o.qr {
		return PrintQR(a.out, link)
	}
	return nil
}
