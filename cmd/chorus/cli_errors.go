package main

import (
	"fmt"
	"io"

	"github.com/jllopis/chorus/pkg/errors"
)

// hints suggest a next step for errors users commonly hit.
var hints = map[errors.ErrorCode]string{
	errors.CodeConfiguration: "check the config file and CHORUS_* environment variables",
	errors.CodeLLMError:      "check that the model backend is running (ollama serve)",
	errors.CodeMemoryError:   "check memory.path and its permissions",
}

// printError writes err with its code and a hint when one applies.
func printError(w io.Writer, err error) {
	ce := errors.As(err)
	if ce.Code == errors.CodeInternal && ce.Message == "wrapped error" {
		fmt.Fprintf(w, "Error: %v\n", err)
		return
	}
	fmt.Fprintf(w, "Error [%s]: %s\n", ce.Code, ce.Reason())
	if hint, ok := hints[ce.Code]; ok {
		fmt.Fprintf(w, "  Hint: %s\n", hint)
	}
}
