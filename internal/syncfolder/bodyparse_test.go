package syncfolder

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseBodyPlainText(t *testing.T) {
	raw := []byte("From: a@example.com\r\n" +
		"To: b@example.com\r\n" +
		"Subject: hi\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n" +
		"\r\n" +
		"hello there\r\n")

	got := ParseBody(raw)
	assert.Contains(t, got.BodyText, "hello there")
	assert.Empty(t, got.BodyHTML)
	assert.Empty(t, got.Attachments)
}

func TestParseBodySanitizesHTML(t *testing.T) {
	raw := []byte("From: a@example.com\r\n" +
		"To: b@example.com\r\n" +
		"Subject: hi\r\n" +
		"Content-Type: text/html; charset=utf-8\r\n" +
		"\r\n" +
		"<p>hi</p><script>alert(1)</script>\r\n")

	got := ParseBody(raw)
	assert.Contains(t, got.BodyHTML, "<p>hi</p>")
	assert.NotContains(t, got.BodyHTML, "<script")
}

func TestParseBodyUnparsableFallsBackToRawText(t *testing.T) {
	raw := []byte("not a valid mime message at all")
	got := ParseBody(raw)
	assert.Equal(t, "not a valid mime message at all", got.BodyText)
}

func TestParseBodyMultipartExtractsTextAndHTML(t *testing.T) {
	raw := []byte(
		"Content-Type: multipart/alternative; boundary=\"BOUNDARY\"\r\n" +
			"\r\n" +
			"--BOUNDARY\r\n" +
			"Content-Type: text/plain; charset=utf-8\r\n" +
			"\r\n" +
			"plain body\r\n" +
			"--BOUNDARY\r\n" +
			"Content-Type: text/html; charset=utf-8\r\n" +
			"\r\n" +
			"<b>html body</b>\r\n" +
			"--BOUNDARY--\r\n")

	got := ParseBody(raw)
	assert.Contains(t, got.BodyText, "plain body")
	assert.Contains(t, got.BodyHTML, "html body")
}
