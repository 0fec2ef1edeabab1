package filter

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(s string) *string { return &s }

func TestMatches(t *testing.T) {
	tests := []struct {
		name      string
		declared  *string
		requested *string
		want      bool
	}{
		{"no constraint, no filter", nil, nil, true},
		{"no constraint, any filter", nil, ptr("anything"), true},
		{"equal prefix", ptr("ab"), ptr("ab"), true},
		{"different prefix", ptr("ab"), ptr("ac"), false},
		{"missing request prefix", ptr("ab"), nil, false},
		{"longer request prefix", ptr("ab"), ptr("abc"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Matches(tt.declared, tt.requested))
		})
	}
}

func TestPrefixOf(t *testing.T) {
	t.Run("prefix filter", func(t *testing.T) {
		got, err := PrefixOf(PrefixFilter("row_"))
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "row_", *got)
	})

	t.Run("empty expression", func(t *testing.T) {
		got, err := PrefixOf("")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("other filter type", func(t *testing.T) {
		got, err := PrefixOf(`{"type":"PageFilter","value":"10"}`)
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("unparseable", func(t *testing.T) {
		_, err := PrefixOf(`{"type":`)
		assert.True(t, errors.Is(err, ErrInvalidFilter))
	})

	t.Run("value not base64", func(t *testing.T) {
		_, err := PrefixOf(`{"type":"PrefixFilter","value":"%%%"}`)
		assert.True(t, errors.Is(err, ErrInvalidFilter))
	})
}

func TestCheck(t *testing.T) {
	assert.NoError(t, Check("t", nil, `garbage`))
	assert.NoError(t, Check("t", ptr("x"), PrefixFilter("x")))

	err := Check("t", ptr("x"), PrefixFilter("y"))
	var mismatch *MismatchError
	require.True(t, errors.As(err, &mismatch))
	assert.Equal(t, "x", mismatch.Expected)
	assert.Equal(t, "y", *mismatch.Actual)
	assert.Equal(t, http.StatusInternalServerError, mismatch.StatusCode())

	// parse failures are non-matches, not parse errors
	err = Check("t", ptr("x"), `{"type":`)
	require.True(t, errors.As(err, &mismatch))
	assert.Nil(t, mismatch.Actual)
}
