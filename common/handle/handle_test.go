package handle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dipeo/dipeo/common/ids"
)

func TestCreateParseRoundTrip(t *testing.T) {
	cases := []struct {
		nodeID    ids.NodeID
		label     string
		direction Direction
	}{
		{"node1", LabelDefault, DirectionOutput},
		{"node1", LabelFirst, DirectionInput},
		{"cond_check", LabelCondTrue, DirectionOutput},
		{"my_node_with_underscores", LabelCondFalse, DirectionOutput},
		{"a", "custom", DirectionInput},
	}

	for _, tc := range cases {
		h := Create(tc.nodeID, tc.label, tc.direction)
		parsed, err := Parse(h)
		require.NoError(t, err, "handle %q", h)
		assert.Equal(t, tc.nodeID, parsed.NodeID)
		assert.Equal(t, tc.label, parsed.Label)
		assert.Equal(t, tc.direction, parsed.Direction)

		// create(parse(h)) == h
		assert.Equal(t, h, Create(parsed.NodeID, parsed.Label, parsed.Direction))
	}
}

func TestParseRejectsUnknownDirection(t *testing.T) {
	_, err := Parse("node1_default_sideways")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownDirection)
}

func TestParseRejectsMalformed(t *testing.T) {
	for _, h := range []ids.HandleID{"", "justone", "two_parts", "_default_input"} {
		_, err := Parse(h)
		assert.Error(t, err, "handle %q should not parse", h)
	}
}

func TestExtractNodeID(t *testing.T) {
	assert.Equal(t, ids.NodeID("my_node"), ExtractNodeID("my_node_default_output"))
	assert.Equal(t, ids.NodeID(""), ExtractNodeID("bogus"))
}

func TestValidateBracketSyntax(t *testing.T) {
	require.NoError(t, ValidateBracketSyntax("Ask", LabelFirst, "person_job", DirectionInput))
	require.NoError(t, ValidateBracketSyntax("Check", LabelCondTrue, "condition", DirectionOutput))

	err := ValidateBracketSyntax("Ask", "nonexistent", "person_job", DirectionInput)
	require.Error(t, err)

	// condition has no condtrue input, only output
	err = ValidateBracketSyntax("Check", LabelCondTrue, "condition", DirectionInput)
	require.Error(t, err)

	err = ValidateBracketSyntax("X", LabelDefault, "no_such_type", DirectionInput)
	require.Error(t, err)
}

func TestSpecsCoverCatalog(t *testing.T) {
	types := []string{
		"start", "endpoint", "person_job", "condition", "code_job", "api_job",
		"db", "sub_diagram", "template_job", "json_schema_validator", "hook",
		"user_response", "typescript_ast", "integrated_api", "ir_builder",
		"diff_patch",
	}
	for _, nt := range types {
		assert.True(t, KnownNodeType(nt), "missing spec for %s", nt)
	}

	// condition exposes exactly condtrue and condfalse outputs
	outs := Specs["condition"].Outputs()
	require.Len(t, outs, 2)
	labels := []string{outs[0].Label, outs[1].Label}
	assert.Contains(t, labels, LabelCondTrue)
	assert.Contains(t, labels, LabelCondFalse)
}
