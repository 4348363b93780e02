package version

import (
	"fmt"
	"io"
	"os"
)

// FprintVersion outputs the version string to the writer, in the following format, followed by a newline:
//
//	<cmd> <project> <version>
//
// For example, a binary "clinic" built from github.com/clinicapp/clinic with version "v0.1.0" would print the
// following:
//
//	clinic github.com/clinicapp/clinic v0.1.0
func FprintVersion(w io.Writer) {
	fmt.Fprintln(w, os.Args[0], Package, Version)
}

// PrintVersion outputs the version information, from Fprint, to stdout.
func PrintVersion() {
	FprintVersion(os.Stdout)
}
