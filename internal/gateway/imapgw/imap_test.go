package imapgw

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildReply(t *testing.T) {
	raw := string(buildReply("me@example.com", "Alice <alice@example.com>", "project update", "On it.", "<msg1@example.com>"))

	assert.Contains(t, raw, "From: me@example.com\r\n")
	assert.Contains(t, raw, "To: Alice <alice@example.com>\r\n")
	assert.Contains(t, raw, "Subject: Re: project update\r\n")
	assert.Contains(t, raw, "In-Reply-To: <msg1@example.com>\r\n")
	assert.Contains(t, raw, "References: <msg1@example.com>\r\n")
	assert.True(t, strings.HasSuffix(raw, "\r\n\r\nOn it."))
}

func TestBuildReplyWithoutThread(t *testing.T) {
	raw := string(buildReply("me@example.com", "bob@example.com", "Re: status", "Done.", ""))

	assert.NotContains(t, raw, "In-Reply-To")
	assert.Contains(t, raw, "Subject: Re: status\r\n")
	assert.NotContains(t, raw, "Re: Re:")
}

func TestExtractAddr(t *testing.T) {
	assert.Equal(t, "alice@example.com", extractAddr("Alice Smith <alice@example.com>"))
	assert.Equal(t, "bob@example.com", extractAddr("bob@example.com"))
	assert.Equal(t, "carol@example.com", extractAddr("  carol@example.com  "))
}

func TestParseUID(t *testing.T) {
	uid, err := parseUID("42")
	require.NoError(t, err)
	assert.EqualValues(t, 42, uid)

	_, err = parseUID("not-a-uid")
	assert.Error(t, err)
}

func TestSnippetCollapsesWhitespace(t *testing.T) {
	s := snippet("hello\n\n  world\t!")
	assert.Equal(t, "hello world !", s)

	long := strings.Repeat("word ", 50)
	assert.Len(t, snippet(long), 120)
}
