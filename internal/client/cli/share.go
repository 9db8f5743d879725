package cli

import (
	"fmt"
	"io"
	"strings"

	qrcode "github.com/skip2/go-qrcode"
)

// ShareLink is the public URL of a bundle.
func ShareLink(base, slug string) string {
	return strings.TrimRight(base, "/") + "/" + slug
}

// PrintQR renders link as a terminal QR code.
func PrintQR(w io.Writer, link string) error {
	q, err := qrcode.New(link, qrcode.Medium)
	if err != nil {
		return fmt.Errorf("qr code: %w", err)
	}
	_, err = io.WriteString(w, q.ToSmallString(false))
	return err
}
