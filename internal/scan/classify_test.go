//go:build unit

package scan

import (
	"regexp"
	"strings"
	"testing"

	"go-pagewatch/internal/data"

	"github.com/stretchr/testify/require"
)

func defaultPolicy() Policy {
	return Policy{ChangeRatioThreshold: 0.05, MinChangedChars: 20}
}

func TestClassify(t *testing.T) {
	article := strings.Repeat("The quick brown fox jumps over the lazy dog.\n", 100)

	tests := []struct {
		name     string
		previous string
		current  string
		policy   Policy
		want     data.ChangeType
	}{
		{"identical", "v1", "v1", defaultPolicy(), data.ChangeNone},
		{"whitespace only", "hello world\nsecond line", "hello   world\n\nsecond line", defaultPolicy(), data.ChangeMinor},
		{"tiny edit", article, strings.Replace(article, "fox", "cat", 1), defaultPolicy(), data.ChangeMinor},
		{
			"rewritten",
			"v1",
			"An entirely different document with several new paragraphs of text.",
			defaultPolicy(),
			data.ChangeMajor,
		},
		{
			"ignored line",
			"Visitors: 100\nBody text",
			"Visitors: 9001\nBody text",
			Policy{IgnorePatterns: []*regexp.Regexp{regexp.MustCompile(`^Visitors:`)}, MinChangedChars: 1},
			data.ChangeMinor,
		},
		{
			"below ratio",
			article + "new sentence that is long enough\n",
			article,
			Policy{ChangeRatioThreshold: 0.5, MinChangedChars: 1},
			data.ChangeMinor,
		},
		{
			"above ratio",
			article + "new sentence that is long enough\n",
			article,
			Policy{ChangeRatioThreshold: 0.001, MinChangedChars: 1},
			data.ChangeMajor,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.previous, tt.current, tt.policy)
			require.Equal(t, tt.want, got)
			// Same inputs, same answer.
			require.Equal(t, got, Classify(tt.previous, tt.current, tt.policy))
		})
	}
}

func TestPolicyFromConfig_BadPattern(t *testing.T) {
	_, err := PolicyFromConfig(configWithPatterns("("))
	require.Error(t, err)

	p, err := PolicyFromConfig(configWithPatterns(`^\d+$`))
	require.NoError(t, err)
	require.Len(t, p.IgnorePatterns, 1)
}
