// Package cli provides the dropbin command-line client.
//
// It wires configuration, the control-plane API client, the upload session
// and the archiver behind three cobra commands:
//
//   - upload: send one or more files as a bundle and print its share link
//   - paste: send stdin as a single text file
//   - download: fetch a bundle and write it as one ZIP archive
//
// Interrupting an upload (Ctrl-C) rolls the provisional bundle back on the
// server and is reported as a confirmation, not as an error.
package cli
