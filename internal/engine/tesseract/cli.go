package tesseract

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// runTesseract feeds image to the tesseract binary on stdin and returns what
// it printed to stdout.
func runTesseract(m *Module, image []byte, args []string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, m.binary, args...)
	cmd.Stdin = bytes.NewReader(image)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	m.logger.Debug("Running tesseract", "args", strings.Join(args, " "))
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("tesseract %s failed: %w: %s", args[len(args)-1], err, strings.TrimSpace(stderr.String()))
	}
	if stdout.Len() == 0 {
		// --psm 0 reports on stderr in some releases.
		return stderr.String(), nil
	}
	return stdout.String(), nil
}

// knownVariables lists the installed engine's parameters. The listing needs
// language data, so it runs on the first Init. nil means the list could not
// be read and every name is passed through.
func (m *Module) knownVariables(dataPath, langs string) map[string]bool {
	m.paramsOnce.Do(func() {
		out, err := runTesseract(m, nil, []string{"--tessdata-dir", dataPath, "-l", langs, "--print-parameters"})
		if err != nil {
			m.logger.Warn("Failed to list engine parameters", "error", err)
			return
		}
		m.params = parseParameters(out)
	})
	return m.params
}

// parseParameters reads the tab separated "name value description" lines of
// --print-parameters.
func parseParameters(out string) map[string]bool {
	known := make(map[string]bool)
	for _, ln := range strings.Split(out, "\n") {
		name, _, ok := strings.Cut(ln, "\t")
		if !ok || name == "" || strings.ContainsAny(name, " :") {
			continue
		}
		known[name] = true
	}
	if len(known) == 0 {
		return nil
	}
	return known
}
