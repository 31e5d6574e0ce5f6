package deploy

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/stewardhq/steward/pkg/policy"
)

// entryTemplate is the generated entry point shipped inside every bundle.
// It is the source the runtime binary is compiled from: a thin shim that
// hands control to the mode-specific dispatch handler. Mode names use "-"
// while handler names use "_", so the substitution happens here, at
// generation time, never at dispatch time.
var entryTemplate = template.Must(template.New("entry").Parse(`package main

import (
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/stewardhq/steward/pkg/runtime"
)

func main() {
	lambda.Start(runtime.Handler("{{ .Handler }}"))
}
`))

// EntryHandlerName derives the dispatch handler name for a mode type.
func EntryHandlerName(modeType string) string {
	return strings.ReplaceAll(modeType, "-", "_")
}

// EntrySource renders the generated entry point for a policy.
func EntrySource(d policy.Description) ([]byte, error) {
	var buf bytes.Buffer
	err := entryTemplate.Execute(&buf, struct{ Handler string }{
		Handler: EntryHandlerName(d.Mode.Type),
	})
	if err != nil {
		return nil, fmt.Errorf("render entry point for %s: %w", d.Name, err)
	}
	return buf.Bytes(), nil
}
