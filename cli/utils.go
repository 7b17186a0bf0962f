package cli

import (
	"fmt"
	"io"
)

// printf prints a message with no prefix.
func printf(w io.Writer, format string, a ...interface{}) {
	//nolint:errcheck
	fmt.Fprintf(w, format+"\n", a...)
}

// infof prints a message prefixed with an "Info" label.
func infof(w io.Writer, format string, a ...interface{}) {
	//nolint:errcheck
	fmt.Fprintf(w, "Info: "+format+"\n", a...)
}

// warningf prints a message prefixed with a "Warning" label.
func warningf(w io.Writer, format string, a ...interface{}) {
	//nolint:errcheck
	fmt.Fprintf(w, "Warning: "+format+"\n", a...)
}
