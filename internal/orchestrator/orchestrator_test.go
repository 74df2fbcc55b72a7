package orchestrator

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewRunID_EmbedsAttemptSuffix(t *testing.T) {
	id := NewRunID(2)
	assert.True(t, strings.HasSuffix(id, "-a2"), "NewRunID(2) = %q, want a -a2 suffix", id)
}

func TestNewRunID_IsLexicallyIncreasing(t *testing.T) {
	first := NewRunID(1)
	second := NewRunID(1)
	assert.Less(t, first, second, "expected successive ULIDs to sort increasing")
}

func TestMergeMetadataFields_NilExistingReturnsFresh(t *testing.T) {
	fresh := map[string]string{"a": "1"}
	got := mergeMetadataFields(nil, fresh)
	assert.Equal(t, "1", got["a"])
}

func TestMergeMetadataFields_PreservesKeysFreshDidNotSee(t *testing.T) {
	existing := map[string]string{"a": "1", "b": "2"}
	fresh := map[string]string{"a": "9"}
	got := mergeMetadataFields(existing, fresh)
	assert.Equal(t, "9", got["a"], "expected fresh value to win for overlapping key")
	assert.Equal(t, "2", got["b"], "expected a key fresh didn't carry to survive")
}

func TestMergeMetadataFields_BlankFreshValueDoesNotOverwrite(t *testing.T) {
	existing := map[string]string{"a": "1"}
	fresh := map[string]string{"a": ""}
	got := mergeMetadataFields(existing, fresh)
	assert.Equal(t, "1", got["a"], "expected blank fresh value to leave existing value intact")
}
