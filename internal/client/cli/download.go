package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dmitrijs2005/dropbin/internal/archive"
	"github.com/dmitrijs2005/dropbin/internal/bundle"
	"github.com/dmitrijs2005/dropbin/internal/common"
	"github.com/dmitrijs2005/dropbin/internal/filex"
)

type downloadOptions struct {
	accessCode string
	output     string
	only       []string
}

func newDownloadCommand(app *App) *cobra.Command {
	opts := &downloadOptions{}
	cmd := &cobra.Command{
		Use:   "download SLUG",
		Short: "Download a bundle as one ZIP archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.runDownload(cmd.Context(), args[0], opts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.accessCode, "code", "", "access code of a private bundle")
	f.StringVarP(&opts.output, "output", "o", "", "archive path (default SLUG.zip)")
	f.StringSliceVar(&opts.only, "only", nil, "storage keys to fetch instead of the whole bundle")
	return cmd
}

func (a *App) runDownload(ctx context.Context, slug string, o *downloadOptions) error {
	req := bundle.ReadLocationsRequest{Slug: slug, AccessCode: o.accessCode, StoragePaths: o.only}
	resp, err := a.api.ReadLocations(ctx, req)
	if errors.Is(err, common.ErrForbidden) && req.AccessCode == "" {
		code, perr := GetAccessCode(a.reader, a.errOut)
		if perr != nil {
			return perr
		}
		req.AccessCode = code
		resp, err = a.api.ReadLocations(ctx, req)
	}
	if err != nil {
		return err
	}

	output := o.output
	if output == "" {
		output = slug + ".zip"
	}
	out, err := filex.CreateAtomic(output)
	if err != nil {
		return err
	}
	defer out.Abort()

	arch := archive.NewArchiver(archive.HTTPFetcher{Client: a.storage},
		archive.WithParallelism(a.config.DownloadParallelism),
		archive.WithLogger(a.logger),
	)
	line := newProgressLine(a.errOut)
	res, err := arch.Archive(ctx, resp.Files, out, line.Download)
	line.Done()
	if errors.Is(err, common.ErrCancelled) {
		fmt.Fprintln(a.out, "Download cancelled.")
		return nil
	}
	if err != nil {
		return err
	}
	if err := out.Commit(); err != nil {
		return err
	}

	for _, f := range res.Files {
		if f.Phase == archive.PhaseError {
			fmt.Fprintf(a.errOut, "warning: %s could not be downloaded: %v\n", f.Name, f.Err)
		}
	}
	fmt.Fprintf(a.out, "Saved %d of %d file(s) to %s\n", res.Archived, len(res.Files), output)
	return nil
}
