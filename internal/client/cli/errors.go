package cli

import (
	"errors"
	"fmt"

	"github.com/dmitrijs2005/dropbin/internal/client/api"
	"github.com/dmitrijs2005/dropbin/internal/common"
	"github.com/dmitrijs2005/dropbin/internal/descriptor"
)

// describe turns an error into the message shown to the user.
func describe(err error) string {
	var (
		rl *api.RateLimitedError
		ve *descriptor.ValidationError
	)
	switch {
	case errors.As(err, &rl):
		return fmt.Sprintf("too many attempts, try again in %s (%d left)", rl.RetryAfter, rl.Remaining)
	case errors.As(err, &ve):
		return ve.Error()
	case errors.Is(err, common.ErrTransferFailed):
		return "upload failed, please retry the whole upload (" + err.Error() + ")"
	case errors.Is(err, common.ErrSlugTaken):
		return "that link name is already taken"
	case errors.Is(err, common.ErrForbidden):
		return "wrong access code"
	case errors.Is(err, common.ErrorNotFound):
		return "bundle not found or expired"
	case errors.Is(err, common.ErrNetwork):
		return "could not reach the server: " + err.Error()
	case errors.Is(err, common.ErrDownloadFailed):
		return "none of the files could be downloaded"
	default:
		return err.Error()
	}
}
