package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const gizmoDocument = `
scope: Namespaced
group: example.com
names:
  singular: gizmo
  plural: gizmos
  kind: Gizmo
versions:
  - name: v1
    served: true
    storage: true
    schema:
      type: object
      properties:
        color:
          type: string
`

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestSelectorParse(t *testing.T) {
	out, err := run(t, "", "selector", "parse", "tier=web,stage notin (prod)")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "tier=web,stage notin (prod)", lines[0])
	assert.Equal(t, "tier = web", strings.TrimSpace(lines[1]))
	assert.Equal(t, "stage notin (prod)", strings.TrimSpace(lines[2]))

	_, err = run(t, "", "selector", "parse", "tier in (web")
	assert.Error(t, err)
}

func TestSelectorMatch(t *testing.T) {
	tests := []struct {
		name     string
		labels   string
		expected string
	}{
		{"matches", "tier=web,stage=dev", "true"},
		{"excluded value", "tier=web,stage=prod", "false"},
		{"missing key", "stage=dev", "false"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := run(t, "", "selector", "match", "tier=web,stage notin (prod)", "--labels", tt.labels)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, strings.TrimSpace(out))
		})
	}

	_, err := run(t, "", "selector", "match", "tier=web", "--labels", "tier")
	assert.Error(t, err)

	_, err = run(t, "", "selector", "match", "tier=web", "--labels", "tier=a,tier=b")
	assert.Error(t, err)
}

func TestDefinitionValidate(t *testing.T) {
	file := filepath.Join(t.TempDir(), "gizmo.yaml")
	require.NoError(t, os.WriteFile(file, []byte(gizmoDocument), 0o600))

	out, err := run(t, "", "definition", "validate", "-f", file)
	require.NoError(t, err)
	assert.Contains(t, out, "example.com/gizmos is valid")
	assert.Contains(t, out, "storage v1")

	out, err = run(t, gizmoDocument, "definition", "validate", "-f", "-")
	require.NoError(t, err)
	assert.Contains(t, out, "kind Gizmo")
}

func TestDefinitionValidateRejections(t *testing.T) {
	_, err := run(t, "", "definition", "validate")
	assert.Error(t, err)

	_, err = run(t, "", "definition", "validate", "-f", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	badSchema := strings.Replace(gizmoDocument, "type: string", "type: nonsense", 1)
	_, err = run(t, badSchema, "definition", "validate", "-f", "-")
	assert.Error(t, err)

	_, err = run(t, "scope: Everywhere\n", "definition", "validate", "-f", "-")
	assert.Error(t, err)
}
